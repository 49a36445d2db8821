package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/2223010198-web/MonicGpio/internal/data"
)

// NATSConfig holds NATS export settings.
type NATSConfig struct {
	URL            string
	Subject        string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

type natsConn interface {
	Publish(subj string, payload []byte) error
	Drain() error
}

// NATSPublisher exports timeline events on <subject>.events and gunshot
// detections on <subject>.gunshots.
type NATSPublisher struct {
	conn    natsConn
	subject string
}

type gunshotMessage struct {
	Probability float64   `json:"probability"`
	Timestamp   time.Time `json:"timestamp"`
	ReceivedAt  time.Time `json:"received_at"`
	AudioBytes  int       `json:"audio_bytes"`
}

func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: cfg.Subject}, nil
}

func (p *NATSPublisher) PublishEvent(ctx context.Context, e data.Event) error {
	return p.publish(ctx, p.subject+".events", e)
}

func (p *NATSPublisher) PublishGunshot(ctx context.Context, g data.GunshotAlert) error {
	return p.publish(ctx, p.subject+".gunshots", gunshotMessage{
		Probability: g.Probability,
		Timestamp:   g.Timestamp,
		ReceivedAt:  g.ReceivedAt,
		AudioBytes:  len(g.Audio),
	})
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return p.conn.Publish(subject, payload)
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
