// internal/alerting/alerter.go
package alerting

import (
	"context"
	"log"
	"time"

	"github.com/2223010198-web/MonicGpio/internal/data"
)

// Broadcaster pushes timeline events to live dashboard sessions.
type Broadcaster interface {
	BroadcastEvent(e data.Event)
}

// Archiver persists events and gunshot detections.
type Archiver interface {
	SaveEvent(ctx context.Context, e data.Event) error
	SaveGunshot(ctx context.Context, g data.GunshotAlert) error
}

// Publisher exports events to an external bus.
type Publisher interface {
	PublishEvent(ctx context.Context, e data.Event) error
	PublishGunshot(ctx context.Context, g data.GunshotAlert) error
}

type Option func(*Alerter)

func WithArchive(a Archiver) Option { return func(al *Alerter) { al.archive = a } }

func WithPublisher(p Publisher) Option { return func(al *Alerter) { al.publisher = p } }

// WithTimeout bounds each archive and publish call.
func WithTimeout(d time.Duration) Option { return func(al *Alerter) { al.timeout = d } }

// Alerter fans recorded events out to every configured channel. A
// failing channel is logged and never blocks the others.
type Alerter struct {
	hub       Broadcaster
	archive   Archiver
	publisher Publisher
	timeout   time.Duration
}

func NewAlerter(hub Broadcaster, opts ...Option) *Alerter {
	a := &Alerter{hub: hub, timeout: 2 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NotifyEvents sends events via configured channels, oldest first.
func (a *Alerter) NotifyEvents(events []data.Event) {
	if len(events) == 0 {
		return
	}

	log.Printf("Processing %d timeline events", len(events))
	for _, e := range events {
		if a.hub != nil {
			a.hub.BroadcastEvent(e)
		}
		if a.archive != nil {
			a.withTimeout(func(ctx context.Context) {
				if err := a.archive.SaveEvent(ctx, e); err != nil {
					log.Printf("Archive event %s failed: %v", e.ID, err)
				}
			})
		}
		if a.publisher != nil {
			a.withTimeout(func(ctx context.Context) {
				if err := a.publisher.PublishEvent(ctx, e); err != nil {
					log.Printf("Publish event %s failed: %v", e.ID, err)
				}
			})
		}
	}
}

// NotifyGunshot archives and exports a gunshot detection. The matching
// timeline event goes through NotifyEvents.
func (a *Alerter) NotifyGunshot(g data.GunshotAlert) {
	if a.archive != nil {
		a.withTimeout(func(ctx context.Context) {
			if err := a.archive.SaveGunshot(ctx, g); err != nil {
				log.Printf("Archive gunshot failed: %v", err)
			}
		})
	}
	if a.publisher != nil {
		a.withTimeout(func(ctx context.Context) {
			if err := a.publisher.PublishGunshot(ctx, g); err != nil {
				log.Printf("Publish gunshot failed: %v", err)
			}
		})
	}
}

func (a *Alerter) withTimeout(fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	fn(ctx)
}
