// Package telemetry holds the process-wide state fed by the ingestion
// gateway and read by every dashboard session.
package telemetry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2223010198-web/MonicGpio/internal/anomaly"
	"github.com/2223010198-web/MonicGpio/internal/data"
	"github.com/2223010198-web/MonicGpio/internal/risk"
	"github.com/2223010198-web/MonicGpio/internal/storage"
)

var (
	ErrClosed        = errors.New("telemetry store closed")
	ErrUnknownMetric = errors.New("unknown metric")
	ErrStaleReading  = errors.New("reading older than the latest one")
	ErrDuplicate     = errors.New("duplicate gunshot alert")
)

// Metric names a rolling history series.
type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
	MetricGas         Metric = "gas"
	MetricDistance    Metric = "distance"
	MetricRisk        Metric = "risk"
)

// Metrics lists every history series in display order.
var Metrics = []Metric{MetricTemperature, MetricHumidity, MetricGas, MetricDistance, MetricRisk}

func ParseMetric(s string) (Metric, error) {
	for _, m := range Metrics {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

// Series is the read-only view of a history ring.
type Series interface {
	Snapshot() []float64
	Last() (float64, bool)
	Len() int
	Cap() int
}

// Connectivity is the freshness of the sensor feed.
type Connectivity int

const (
	NeverConnected Connectivity = iota
	Online
	Offline
)

func (c Connectivity) String() string {
	switch c {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "never_connected"
	}
}

func (c Connectivity) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Options size the store.
type Options struct {
	HistoryCapacity     int
	TimelineCapacity    int
	GunshotCapacity     int
	DisconnectThreshold time.Duration
	// RepeatCooldown drops a timeline event identical to one recorded
	// within the window. Zero keeps every event.
	RepeatCooldown time.Duration
	// DedupeGunshots drops an alert matching the newest one by
	// timestamp and probability.
	DedupeGunshots bool
	Detector       *anomaly.Detector
}

func DefaultOptions() Options {
	return Options{
		HistoryCapacity:     50,
		TimelineCapacity:    10,
		GunshotCapacity:     5,
		DisconnectThreshold: 10 * time.Second,
	}
}

// Store aggregates history, timeline, alerts and the shared detector.
// The ingestion callback and the refresh tick are its only writers and
// both go through mu.
type Store struct {
	mu sync.RWMutex

	opts     Options
	closed   bool
	detector *anomaly.Detector
	history  map[Metric]*storage.Ring[float64]
	timeline *storage.Recent[data.Event]
	gunshots *storage.Recent[data.GunshotAlert]

	latest         *data.SensorReading
	lastReceivedAt time.Time
	audio          *data.AudioFrame
	device         data.DeviceMetadata
	lastAssessment *risk.Assessment
	lastVerdict    *anomaly.Verdict
	readings       uint64
	gunshotTotal   uint64

	newID func() string
}

func NewStore(opts Options) *Store {
	def := DefaultOptions()
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = def.HistoryCapacity
	}
	if opts.TimelineCapacity <= 0 {
		opts.TimelineCapacity = def.TimelineCapacity
	}
	if opts.GunshotCapacity <= 0 {
		opts.GunshotCapacity = def.GunshotCapacity
	}
	if opts.DisconnectThreshold <= 0 {
		opts.DisconnectThreshold = def.DisconnectThreshold
	}
	detector := opts.Detector
	if detector == nil {
		detector = anomaly.NewDetector(anomaly.DefaultOptions(), anomaly.NewForestModel(100, 256, 0.1))
	}

	s := &Store{
		opts:     opts,
		detector: detector,
		history:  make(map[Metric]*storage.Ring[float64], len(Metrics)),
		timeline: storage.NewRecent[data.Event](opts.TimelineCapacity),
		gunshots: storage.NewRecent[data.GunshotAlert](opts.GunshotCapacity),
		newID:    func() string { return uuid.NewString() },
	}
	for _, m := range Metrics {
		s.history[m] = storage.NewRing[float64](opts.HistoryCapacity)
	}
	return s
}

var (
	defaultOnce  sync.Once
	defaultStore *Store
)

// Default returns the process-wide store, creating it from opts on the
// first call. Later calls ignore opts and return the same instance.
func Default(opts Options) *Store {
	defaultOnce.Do(func() {
		defaultStore = NewStore(opts)
	})
	return defaultStore
}

// Close rejects further writes. Readers keep seeing the last state.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// PushReading makes r the latest reading, extends the metric histories
// and feeds the anomaly detector. A reading received before the current
// latest one is rejected with ErrStaleReading.
func (s *Store) PushReading(r *data.SensorReading) (anomaly.FitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return anomaly.FitResult{}, ErrClosed
	}
	if r.ReceivedAt.Before(s.lastReceivedAt) {
		return anomaly.FitResult{}, ErrStaleReading
	}

	s.latest = r
	s.lastReceivedAt = r.ReceivedAt
	s.readings++
	s.history[MetricTemperature].Push(r.Temperature)
	s.history[MetricHumidity].Push(r.Humidity)
	s.history[MetricGas].Push(r.GasSignal())
	s.history[MetricDistance].Push(r.DistanceCm)

	return s.detector.AddSample(r.Temperature, r.Humidity, r.GasSignal()), nil
}

// PushGunshotAlert logs the alert and its critical timeline event. The
// recorded events are returned for fan-out. With DedupeGunshots set, an
// alert equal to the newest one is rejected with ErrDuplicate.
func (s *Store) PushGunshotAlert(a data.GunshotAlert) ([]data.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	if s.opts.DedupeGunshots {
		if head, ok := s.gunshots.Head(); ok && head.Timestamp.Equal(a.Timestamp) && head.Probability == a.Probability {
			return nil, ErrDuplicate
		}
	}
	s.gunshots.PushFront(a)
	s.gunshotTotal++

	e := gunshotEvent(a)
	e.ID = s.newID()
	if !s.recordLocked(e) {
		return nil, nil
	}
	return []data.Event{e}, nil
}

// PushAudioFrame replaces the latest monitor frame.
func (s *Store) PushAudioFrame(f *data.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.audio = f
	return nil
}

// SetDeviceMetadata replaces the device metadata object.
func (s *Store) SetDeviceMetadata(m data.DeviceMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.device = m
	return nil
}

// RecordAssessment appends the score to the risk history and turns each
// triggered alert into a timeline event stamped now.
func (s *Store) RecordAssessment(a risk.Assessment, v anomaly.Verdict, now time.Time) ([]data.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	s.history[MetricRisk].Push(float64(a.Score))
	s.lastAssessment = &a
	s.lastVerdict = &v

	var recorded []data.Event
	for _, al := range a.Alerts {
		e := alertEvent(al, now)
		e.ID = s.newID()
		if s.recordLocked(e) {
			recorded = append(recorded, e)
		}
	}
	return recorded, nil
}

func (s *Store) LatestReading() *data.SensorReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Store) LastReceivedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReceivedAt
}

func (s *Store) LatestAudioFrame() *data.AudioFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio
}

func (s *Store) DeviceMetadata() data.DeviceMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(data.DeviceMetadata, len(s.device))
	for k, v := range s.device {
		out[k] = v
	}
	return out
}

// History returns the read-only series for metric.
func (s *Store) History(m Metric) (Series, error) {
	ring, ok := s.history[m]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
	}
	return ring, nil
}

// Timeline returns the events, newest first.
func (s *Store) Timeline() []data.Event {
	return s.timeline.Snapshot()
}

// GunshotAlerts returns the logged alerts, newest first.
func (s *Store) GunshotAlerts() []data.GunshotAlert {
	return s.gunshots.Snapshot()
}

func (s *Store) AnomalyDetector() *anomaly.Detector { return s.detector }

func (s *Store) DisconnectThreshold() time.Duration { return s.opts.DisconnectThreshold }

// Freshness reports whether the latest reading arrived within the
// disconnect threshold.
func (s *Store) Freshness(now time.Time) Connectivity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.freshnessLocked(now)
}

func (s *Store) freshnessLocked(now time.Time) Connectivity {
	if s.latest == nil {
		return NeverConnected
	}
	if now.Sub(s.lastReceivedAt) < s.opts.DisconnectThreshold {
		return Online
	}
	return Offline
}

// Latency is the age of the latest reading.
func (s *Store) Latency(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return 0
	}
	return now.Sub(s.lastReceivedAt)
}

// recordLocked applies the repeat policy and pushes e. Callers hold mu.
func (s *Store) recordLocked(e data.Event) bool {
	if cd := s.opts.RepeatCooldown; cd > 0 {
		for _, prev := range s.timeline.Snapshot() {
			if prev.SameContent(e) && e.Timestamp.Sub(prev.Timestamp) < cd {
				return false
			}
		}
	}
	s.timeline.PushFront(e)
	return true
}
