// Package ingest subscribes to the sensor node's MQTT topics and turns
// each message into a telemetry store update.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/2223010198-web/MonicGpio/internal/data"
	"github.com/2223010198-web/MonicGpio/internal/telemetry"
)

var (
	ErrNotConnected = errors.New("mqtt broker not connected")
	ErrUnknownTopic = errors.New("unknown topic")
)

// Topics are the MQTT topics the node publishes on and listens to.
type Topics struct {
	Sensors  string `mapstructure:"sensors"`
	Alerts   string `mapstructure:"alerts"`
	Monitor  string `mapstructure:"monitor"`
	Commands string `mapstructure:"commands"`
	Device   string `mapstructure:"device"`
}

func DefaultTopics() Topics {
	return Topics{
		Sensors:  "bosque/sensores",
		Alerts:   "seguridad/alertas",
		Monitor:  "seguridad/monitor",
		Commands: "seguridad/comandos",
		Device:   "bosque/dispositivo",
	}
}

// Config holds broker connection settings.
type Config struct {
	Broker         string
	Username       string
	Password       string
	ClientIDPrefix string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	RetryInterval  time.Duration
	Topics         Topics
}

// ConnState is the broker connection state.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connected
)

func (s ConnState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Client is the part of mqtt.Client the gateway drives.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
}

// Notifier receives what ingestion recorded so it can be fanned out.
type Notifier interface {
	NotifyEvents(events []data.Event)
	NotifyGunshot(alert data.GunshotAlert)
}

// Gateway owns the MQTT session and is the ingestion-side writer of the
// telemetry store.
type Gateway struct {
	cfg      Config
	store    *telemetry.Store
	notifier Notifier
	client   Client
	state    atomic.Int32
	now      func() time.Time
}

func NewGateway(cfg Config, store *telemetry.Store, notifier Notifier) *Gateway {
	if cfg.Topics == (Topics{}) {
		cfg.Topics = DefaultTopics()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	g := &Gateway{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
	g.client = mqtt.NewClient(g.clientOptions())
	return g
}

func (g *Gateway) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(g.cfg.Broker).
		SetClientID(g.cfg.ClientIDPrefix + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(g.cfg.RetryInterval).
		SetOrderMatters(true).
		SetOnConnectHandler(g.onConnect).
		SetConnectionLostHandler(g.onConnectionLost).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			log.Printf("Reconnecting to MQTT broker %s", g.cfg.Broker)
		})
	if g.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(g.cfg.KeepAlive)
	}
	if g.cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(g.cfg.ConnectTimeout)
	}
	if g.cfg.Username != "" {
		opts.SetUsername(g.cfg.Username)
		opts.SetPassword(g.cfg.Password)
	}
	return opts
}

func (g *Gateway) State() ConnState { return ConnState(g.state.Load()) }

// Connect starts the session and blocks until the first connection is
// made or ctx ends. The client keeps retrying in the background.
func (g *Gateway) Connect(ctx context.Context) error {
	log.Printf("Connecting to MQTT broker %s", g.cfg.Broker)
	tok := g.client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("connect to %s: %w", g.cfg.Broker, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run keeps the session alive until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
		g.Close()
		return err
	}
	<-ctx.Done()
	g.Close()
	return nil
}

func (g *Gateway) Close() {
	g.client.Disconnect(250)
	g.state.Store(int32(Disconnected))
	log.Println("MQTT gateway stopped")
}

func (g *Gateway) onConnect(mqtt.Client) {
	g.state.Store(int32(Connected))
	log.Printf("Connected to MQTT broker %s", g.cfg.Broker)

	t := g.cfg.Topics
	filters := map[string]byte{
		t.Sensors: 0,
		t.Alerts:  2,
		t.Monitor: 0,
		t.Device:  0,
	}
	tok := g.client.SubscribeMultiple(filters, g.onMessage)
	go func() {
		<-tok.Done()
		if err := tok.Error(); err != nil {
			log.Printf("MQTT subscribe failed: %v", err)
			return
		}
		log.Printf("Subscribed to %d topics", len(filters))
	}()
}

func (g *Gateway) onConnectionLost(_ mqtt.Client, err error) {
	g.state.Store(int32(Disconnected))
	log.Printf("MQTT connection lost: %v", err)
}

func (g *Gateway) onMessage(_ mqtt.Client, m mqtt.Message) {
	if err := g.HandleMessage(m.Topic(), m.Payload()); err != nil {
		log.Printf("Dropping message on %s: %v", m.Topic(), err)
	}
}

// HandleMessage decodes payload according to topic and updates the
// store. Malformed payloads leave the store untouched.
func (g *Gateway) HandleMessage(topic string, payload []byte) error {
	now := g.now()
	t := g.cfg.Topics

	switch topic {
	case t.Sensors:
		r, err := data.ParseSensorReading(payload, now)
		if err != nil {
			return err
		}
		res, err := g.store.PushReading(r)
		if errors.Is(err, telemetry.ErrStaleReading) {
			log.Printf("Ignoring out-of-order reading received at %s", r.ReceivedAt.Format(time.RFC3339Nano))
			return nil
		}
		if err != nil {
			return err
		}
		if res.Err != nil {
			log.Printf("Anomaly model fit failed, will retry: %v", res.Err)
		}
		return nil

	case t.Alerts:
		a, err := data.ParseGunshotAlert(payload, now)
		if err != nil {
			return err
		}
		events, err := g.store.PushGunshotAlert(*a)
		if errors.Is(err, telemetry.ErrDuplicate) {
			log.Printf("Ignoring duplicate gunshot alert at %s", a.Timestamp.Format(time.RFC3339))
			return nil
		}
		if err != nil {
			return err
		}
		log.Printf("Gunshot alert received: %.1f%%", a.Probability*100)
		if g.notifier != nil {
			g.notifier.NotifyGunshot(*a)
			g.notifier.NotifyEvents(events)
		}
		return nil

	case t.Monitor:
		f, err := data.ParseAudioFrame(payload, now)
		if err != nil {
			return err
		}
		return g.store.PushAudioFrame(f)

	case t.Device:
		md, err := data.ParseDeviceMetadata(payload)
		if err != nil {
			return err
		}
		return g.store.SetDeviceMetadata(md)
	}
	return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

// Dispatch routes a payload by kind (sensors, alerts, monitor, device)
// into the same path as an MQTT message.
func (g *Gateway) Dispatch(kind string, payload []byte) error {
	t := g.cfg.Topics
	topics := map[string]string{
		"sensors": t.Sensors,
		"alerts":  t.Alerts,
		"monitor": t.Monitor,
		"device":  t.Device,
	}
	topic, ok := topics[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, kind)
	}
	return g.HandleMessage(topic, payload)
}

// PublishAudioCommand enables or disables the node's audio detector.
func (g *Gateway) PublishAudioCommand(ctx context.Context, on bool) error {
	if !g.client.IsConnected() {
		return ErrNotConnected
	}
	cmd := "OFF"
	if on {
		cmd = "ON"
	}

	tok := g.client.Publish(g.cfg.Topics.Commands, 1, false, cmd)
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("publish %s command: %w", cmd, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	log.Printf("Audio detector command sent: %s", cmd)
	return nil
}
