package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2223010198-web/MonicGpio/internal/anomaly"
	"github.com/2223010198-web/MonicGpio/internal/data"
)

func calm() *data.SensorReading {
	return &data.SensorReading{Temperature: 20, Humidity: 50, GasClean: true, AudioThreshold: 0.5}
}

var training = anomaly.Verdict{State: anomaly.VerdictTraining}

func TestEvaluateCriticalTemperatureOnly(t *testing.T) {
	r := &data.SensorReading{Temperature: 50, Humidity: 50, GasClean: true, DistanceCm: 0}
	a := Evaluate(r, training)

	assert.Equal(t, 40, a.Score)
	assert.Equal(t, TierWarning, a.Tier)
	assert.Equal(t, []string{"🔥 Critical temperature"}, a.Factors)
	assert.Len(t, a.Alerts, 1)
	assert.Equal(t, data.SeverityCritical, a.Alerts[0].Severity)
	assert.Equal(t, "50°C detected", a.Alerts[0].Description)
}

func TestEvaluateCombinedCritical(t *testing.T) {
	r := &data.SensorReading{Temperature: 20, Humidity: 50, GasClean: false, DistanceCm: 30, MotionDetected: true}
	a := Evaluate(r, anomaly.Verdict{IsAnomaly: true, Confidence: 100, State: anomaly.VerdictAlert})

	assert.Equal(t, 100, a.Score)
	assert.Equal(t, TierCritical, a.Tier)
	assert.Equal(t, []string{
		"🔥 GAS/SMOKE DETECTED",
		"🤖 Anomalous pattern (AI)",
		"⚡ Motion detected",
		"🚶 CRITICAL PROXIMITY: 30cm",
	}, a.Factors)

	sev := make([]data.Severity, 0, len(a.Alerts))
	for _, al := range a.Alerts {
		sev = append(sev, al.Severity)
	}
	assert.Equal(t, []data.Severity{
		data.SeverityCritical, data.SeverityWarning, data.SeverityInfo, data.SeverityCritical,
	}, sev)
}

func TestEvaluateCalmReading(t *testing.T) {
	a := Evaluate(calm(), training)
	assert.Zero(t, a.Score)
	assert.Equal(t, TierNormal, a.Tier)
	assert.Empty(t, a.Factors)
	assert.Empty(t, a.Alerts)
}

func TestEvaluateBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *data.SensorReading)
		score   int
		factors int
		alerts  int
	}{
		{"temp exactly 45 is elevated", func(r *data.SensorReading) { r.Temperature = 45 }, 20, 1, 0},
		{"temp exactly 35 is calm", func(r *data.SensorReading) { r.Temperature = 35 }, 0, 0, 0},
		{"temp 35.1 is elevated", func(r *data.SensorReading) { r.Temperature = 35.1 }, 20, 1, 0},
		{"humidity exactly 20 is fine", func(r *data.SensorReading) { r.Humidity = 20 }, 0, 0, 0},
		{"humidity 19.9 is dry", func(r *data.SensorReading) { r.Humidity = 19.9 }, 15, 1, 1},
		{"distance 0 means no echo", func(r *data.SensorReading) { r.DistanceCm = 0 }, 0, 0, 0},
		{"distance 49.9 is critical", func(r *data.SensorReading) { r.DistanceCm = 49.9 }, 25, 1, 1},
		{"distance 50 is informational", func(r *data.SensorReading) { r.DistanceCm = 50 }, 0, 1, 0},
		{"distance 99 is informational", func(r *data.SensorReading) { r.DistanceCm = 99 }, 0, 1, 0},
		{"distance 100 is far", func(r *data.SensorReading) { r.DistanceCm = 100 }, 0, 0, 0},
		{"motion only", func(r *data.SensorReading) { r.MotionDetected = true }, 10, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := calm()
			tt.mutate(r)
			a := Evaluate(r, training)
			assert.Equal(t, tt.score, a.Score)
			assert.Len(t, a.Factors, tt.factors)
			assert.Len(t, a.Alerts, tt.alerts)
		})
	}
}

func TestEvaluateMonotonicPerRule(t *testing.T) {
	rules := []func(r *data.SensorReading, v *anomaly.Verdict){
		func(r *data.SensorReading, _ *anomaly.Verdict) { r.Temperature = 50 },
		func(r *data.SensorReading, _ *anomaly.Verdict) { r.Temperature = 40 },
		func(r *data.SensorReading, _ *anomaly.Verdict) { r.GasClean = false },
		func(r *data.SensorReading, _ *anomaly.Verdict) { r.Humidity = 10 },
		func(_ *data.SensorReading, v *anomaly.Verdict) { v.IsAnomaly = true },
		func(r *data.SensorReading, _ *anomaly.Verdict) { r.MotionDetected = true },
		func(r *data.SensorReading, _ *anomaly.Verdict) { r.DistanceCm = 20 },
		func(r *data.SensorReading, _ *anomaly.Verdict) { r.DistanceCm = 70 },
	}

	// Every subset of the independent rules (temperature and distance
	// variants excluded from sharing a subset) must never lose score when
	// one more rule is enabled.
	for mask := 0; mask < 1<<len(rules); mask++ {
		if mask&0b11 == 0b11 || mask&0b11000000 == 0b11000000 {
			continue
		}
		base := calm()
		verdict := training
		for i, rule := range rules {
			if mask&(1<<i) != 0 {
				rule(base, &verdict)
			}
		}
		before := Evaluate(base, verdict).Score

		for i, rule := range rules {
			if mask&(1<<i) != 0 {
				continue
			}
			next := mask | 1<<i
			if next&0b11 == 0b11 || next&0b11000000 == 0b11000000 {
				continue
			}
			r := *base
			v := verdict
			rule(&r, &v)
			assert.GreaterOrEqual(t, Evaluate(&r, v).Score, before, "mask %08b + rule %d", mask, i)
		}
	}
}

func TestEvaluateDoesNotMutateReading(t *testing.T) {
	r := &data.SensorReading{Temperature: 50, Humidity: 10, GasClean: false, DistanceCm: 10, MotionDetected: true}
	before := *r
	Evaluate(r, anomaly.Verdict{IsAnomaly: true})
	assert.Equal(t, before, *r)
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, TierNormal, TierFor(29))
	assert.Equal(t, TierWarning, TierFor(30))
	assert.Equal(t, TierWarning, TierFor(59))
	assert.Equal(t, TierCritical, TierFor(60))
	assert.Equal(t, TierCritical, TierFor(155))
}

func TestClassify(t *testing.T) {
	b := Classify(&data.SensorReading{Temperature: 32, Humidity: 15, GasClean: false, DistanceCm: 75, MotionDetected: true, AudioThreshold: 0.25})
	assert.Equal(t, Bands{
		Temperature:    BandWarning,
		Humidity:       BandCritical,
		Gas:            BandCritical,
		Distance:       BandWarning,
		Motion:         BandWarning,
		AudioThreshold: BandCritical,
	}, b)

	b = Classify(calm())
	assert.Equal(t, BandGood, b.Temperature)
	assert.Equal(t, BandGood, b.Distance)
	assert.Equal(t, BandGood, b.AudioThreshold)
}
