package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2223010198-web/MonicGpio/internal/anomaly"
	"github.com/2223010198-web/MonicGpio/internal/data"
	"github.com/2223010198-web/MonicGpio/internal/risk"
	"github.com/2223010198-web/MonicGpio/internal/telemetry"
)

type fakeHub struct {
	mu        sync.Mutex
	snapshots []telemetry.Snapshot
	offline   []telemetry.Snapshot
}

func (h *fakeHub) BroadcastSnapshot(v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots = append(h.snapshots, v.(telemetry.Snapshot))
}

func (h *fakeHub) BroadcastOffline(v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offline = append(h.offline, v.(telemetry.Snapshot))
}

func (h *fakeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.snapshots) + len(h.offline)
}

type fakeNotifier struct{ events []data.Event }

func (n *fakeNotifier) NotifyEvents(events []data.Event) { n.events = append(n.events, events...) }

// thresholdModel flags any scaled temperature above zero.
type thresholdModel struct{}

func (thresholdModel) Fit([][]float64) error { return nil }
func (thresholdModel) Predict(x []float64) (bool, float64, error) {
	if x[0] > 0 {
		return true, -0.2, nil
	}
	return false, 0.1, nil
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *telemetry.Store, *fakeHub, *fakeNotifier, *time.Time) {
	t.Helper()
	opts := telemetry.DefaultOptions()
	opts.Detector = anomaly.NewDetector(anomaly.DefaultOptions(), thresholdModel{})
	store := telemetry.NewStore(opts)
	hub := &fakeHub{}
	n := &fakeNotifier{}
	s := New(store, hub, n, time.Second)
	now := t0
	s.now = func() time.Time { return now }
	return s, store, hub, n, &now
}

func push(t *testing.T, store *telemetry.Store, r data.SensorReading) {
	t.Helper()
	_, err := store.PushReading(&r)
	require.NoError(t, err)
}

func TestTickNeverConnected(t *testing.T) {
	s, _, hub, n, _ := newService(t)
	snap := s.Tick()

	assert.Equal(t, telemetry.NeverConnected, snap.Connectivity)
	assert.Len(t, hub.offline, 1)
	assert.Empty(t, hub.snapshots)
	assert.Empty(t, n.events)
}

func TestTickEvaluatesFreshReading(t *testing.T) {
	s, store, hub, n, now := newService(t)
	push(t, store, data.SensorReading{Temperature: 20, Humidity: 50, GasClean: false, DistanceCm: 30, ReceivedAt: t0})
	*now = t0.Add(2 * time.Second)

	snap := s.Tick()
	require.NotNil(t, snap.Assessment)
	assert.Equal(t, 70, snap.Assessment.Score)
	assert.Equal(t, risk.TierCritical, snap.Assessment.Tier)
	assert.Equal(t, anomaly.VerdictTraining, snap.Verdict.State)
	assert.Equal(t, int64(2000), snap.LatencyMs)

	require.Len(t, n.events, 2)
	assert.Equal(t, "GAS OR SMOKE DETECTED", n.events[0].Title)
	assert.Equal(t, "OBJECT/PERSON NEARBY", n.events[1].Title)
	assert.True(t, n.events[0].Timestamp.Equal(*now))
	assert.Len(t, hub.snapshots, 1)

	h, _ := store.History(telemetry.MetricRisk)
	assert.Equal(t, []float64{70}, h.Snapshot())
}

func TestTickUsesTrainedDetector(t *testing.T) {
	s, store, _, n, now := newService(t)
	for i := 0; i < 20; i++ {
		push(t, store, data.SensorReading{Temperature: 20 + float64(i%5), Humidity: 50, GasClean: true, ReceivedAt: t0})
	}
	push(t, store, data.SensorReading{Temperature: 40, Humidity: 50, GasClean: true, ReceivedAt: t0})
	*now = t0.Add(time.Second)

	snap := s.Tick()
	assert.Equal(t, anomaly.VerdictAlert, snap.Verdict.State)
	assert.Equal(t, 100, snap.Verdict.Confidence)
	// elevated temperature and the anomaly rule
	assert.Equal(t, 40, snap.Assessment.Score)
	require.Len(t, n.events, 1)
	assert.Equal(t, "ANOMALY DETECTED", n.events[0].Title)
}

func TestTickSkipsEvaluationWhenStale(t *testing.T) {
	s, store, hub, n, now := newService(t)
	push(t, store, data.SensorReading{Temperature: 50, Humidity: 10, GasClean: true, ReceivedAt: t0})
	*now = t0.Add(10 * time.Second)

	snap := s.Tick()
	assert.Equal(t, telemetry.Offline, snap.Connectivity)
	assert.Nil(t, snap.Assessment)
	assert.Empty(t, n.events)
	assert.Empty(t, store.Timeline())
	assert.Len(t, hub.offline, 1)

	h, _ := store.History(telemetry.MetricRisk)
	assert.Zero(t, h.Len())
}

func TestRepeatedTicksRecordEachEvaluation(t *testing.T) {
	s, store, _, _, now := newService(t)
	push(t, store, data.SensorReading{Temperature: 20, Humidity: 50, GasClean: true, MotionDetected: true, ReceivedAt: t0})
	for i := 1; i <= 3; i++ {
		*now = t0.Add(time.Duration(i) * time.Second)
		s.Tick()
	}
	assert.Len(t, store.Timeline(), 3)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, store, hub, _, _ := newService(t)
	s.interval = 5 * time.Millisecond
	s.now = time.Now
	push(t, store, data.SensorReading{Temperature: 20, Humidity: 50, GasClean: true, ReceivedAt: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return hub.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
