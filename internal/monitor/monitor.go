// Package monitor runs the dashboard refresh cycle: it evaluates the
// latest reading once per tick and pushes the result to every session.
package monitor

import (
	"context"
	"log"
	"time"

	"github.com/2223010198-web/MonicGpio/internal/data"
	"github.com/2223010198-web/MonicGpio/internal/risk"
	"github.com/2223010198-web/MonicGpio/internal/telemetry"
)

// Broadcaster pushes snapshots to live sessions.
type Broadcaster interface {
	BroadcastSnapshot(snapshot interface{})
	BroadcastOffline(snapshot interface{})
}

// EventNotifier receives the timeline events a tick recorded.
type EventNotifier interface {
	NotifyEvents(events []data.Event)
}

type Service struct {
	store    *telemetry.Store
	hub      Broadcaster
	notifier EventNotifier
	interval time.Duration
	now      func() time.Time
	last     telemetry.Connectivity
}

func New(store *telemetry.Store, hub Broadcaster, notifier EventNotifier, interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Second
	}
	return &Service{
		store:    store,
		hub:      hub,
		notifier: notifier,
		interval: interval,
		now:      time.Now,
		last:     telemetry.NeverConnected,
	}
}

// Run ticks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	log.Printf("Monitor refreshing every %s", s.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick performs one refresh. While the feed is online the latest reading
// is classified, scored and recorded; otherwise evaluation is skipped and
// sessions are told the feed is down.
func (s *Service) Tick() telemetry.Snapshot {
	now := s.now()
	state := s.store.Freshness(now)
	if state != s.last {
		s.logTransition(state, now)
		s.last = state
	}

	if state != telemetry.Online {
		snap := s.store.Snapshot(now)
		if s.hub != nil {
			s.hub.BroadcastOffline(snap)
		}
		return snap
	}

	r := s.store.LatestReading()
	verdict := s.store.AnomalyDetector().Predict(r.Temperature, r.Humidity, r.GasSignal())
	assessment := risk.Evaluate(r, verdict)

	events, err := s.store.RecordAssessment(assessment, verdict, now)
	if err != nil {
		log.Printf("Recording assessment failed: %v", err)
	}
	if s.notifier != nil {
		s.notifier.NotifyEvents(events)
	}

	snap := s.store.Snapshot(now)
	if s.hub != nil {
		s.hub.BroadcastSnapshot(snap)
	}
	return snap
}

func (s *Service) logTransition(state telemetry.Connectivity, now time.Time) {
	switch state {
	case telemetry.Online:
		log.Println("Sensor feed online")
	case telemetry.Offline:
		log.Printf("Sensor feed offline: no data for %s", s.store.Latency(now).Round(time.Second))
	}
}
