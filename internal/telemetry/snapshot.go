package telemetry

import (
	"time"

	"github.com/2223010198-web/MonicGpio/internal/anomaly"
	"github.com/2223010198-web/MonicGpio/internal/data"
	"github.com/2223010198-web/MonicGpio/internal/risk"
)

// GunshotSummary is a gunshot alert without its audio payload.
type GunshotSummary struct {
	Probability float64   `json:"probability"`
	Timestamp   time.Time `json:"timestamp"`
	AudioBytes  int       `json:"audio_bytes"`
}

// Stats are counters shown under the dashboard.
type Stats struct {
	Readings       uint64 `json:"readings"`
	Gunshots       uint64 `json:"gunshots"`
	TimelineEvents int    `json:"timeline_events"`
}

// Snapshot is the read model pushed to dashboard sessions.
type Snapshot struct {
	GeneratedAt    time.Time            `json:"generated_at"`
	Connectivity   Connectivity         `json:"connectivity"`
	LatencyMs      int64                `json:"latency_ms"`
	LastReceivedAt *time.Time           `json:"last_received_at,omitempty"`
	Reading        *data.SensorReading  `json:"reading,omitempty"`
	Bands          *risk.Bands          `json:"bands,omitempty"`
	Assessment     *risk.Assessment     `json:"assessment,omitempty"`
	Verdict        *anomaly.Verdict     `json:"verdict,omitempty"`
	Detector       anomaly.Status       `json:"detector"`
	Device         data.DeviceMetadata  `json:"device,omitempty"`
	History        map[Metric][]float64 `json:"history"`
	Timeline       []data.Event         `json:"timeline"`
	Gunshots       []GunshotSummary     `json:"gunshots"`
	Stats          Stats                `json:"stats"`
}

// Snapshot captures a consistent view of the store at now.
func (s *Store) Snapshot(now time.Time) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		GeneratedAt:  now,
		Connectivity: s.freshnessLocked(now),
		Detector:     s.detector.Status(),
		History:      make(map[Metric][]float64, len(Metrics)),
		Timeline:     s.timeline.Snapshot(),
		Stats: Stats{
			Readings: s.readings,
			Gunshots: s.gunshotTotal,
		},
	}
	snap.Stats.TimelineEvents = len(snap.Timeline)

	if s.latest != nil {
		at := s.lastReceivedAt
		snap.LastReceivedAt = &at
		snap.LatencyMs = now.Sub(at).Milliseconds()
		snap.Reading = s.latest
		bands := risk.Classify(s.latest)
		snap.Bands = &bands
	}
	if s.lastAssessment != nil && snap.Connectivity == Online {
		a := *s.lastAssessment
		snap.Assessment = &a
	}
	if s.lastVerdict != nil && snap.Connectivity == Online {
		v := *s.lastVerdict
		snap.Verdict = &v
	}
	if len(s.device) > 0 {
		snap.Device = make(data.DeviceMetadata, len(s.device))
		for k, v := range s.device {
			snap.Device[k] = v
		}
	}
	for _, m := range Metrics {
		snap.History[m] = s.history[m].Snapshot()
	}

	alerts := s.gunshots.Snapshot()
	snap.Gunshots = make([]GunshotSummary, 0, len(alerts))
	for _, a := range alerts {
		snap.Gunshots = append(snap.Gunshots, GunshotSummary{
			Probability: a.Probability,
			Timestamp:   a.Timestamp,
			AudioBytes:  len(a.Audio),
		})
	}
	return snap
}
