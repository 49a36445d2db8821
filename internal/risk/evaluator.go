// Package risk reduces a sensor reading and the anomaly verdict to a
// composite score, a tier and the list of rules that fired.
package risk

import (
	"fmt"
	"strconv"

	"github.com/2223010198-web/MonicGpio/internal/anomaly"
	"github.com/2223010198-web/MonicGpio/internal/data"
)

// Tier thresholds.
const (
	WarningScore  = 30
	CriticalScore = 60
)

// Tier is the severity class of a score.
type Tier int

const (
	TierNormal Tier = iota
	TierWarning
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierWarning:
		return "warning"
	case TierCritical:
		return "critical"
	default:
		return "normal"
	}
}

func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// TierFor maps a score to its tier.
func TierFor(score int) Tier {
	switch {
	case score >= CriticalScore:
		return TierCritical
	case score >= WarningScore:
		return TierWarning
	default:
		return TierNormal
	}
}

// Assessment is the result of one evaluation.
type Assessment struct {
	Score   int          `json:"score"`
	Tier    Tier         `json:"tier"`
	Factors []string     `json:"factors"`
	Alerts  []data.Alert `json:"alerts"`
}

// Evaluate scores a reading. Every rule is checked in a fixed order and
// all that fire contribute; no state is touched.
func Evaluate(r *data.SensorReading, v anomaly.Verdict) Assessment {
	a := Assessment{Factors: []string{}, Alerts: []data.Alert{}}

	switch {
	case r.Temperature > 45:
		a.Score += 40
		a.Factors = append(a.Factors, "🔥 Critical temperature")
		a.Alerts = append(a.Alerts, data.Alert{
			Severity:    data.SeverityCritical,
			Title:       "EXTREME TEMPERATURE",
			Description: fmt.Sprintf("%s°C detected", num(r.Temperature)),
		})
	case r.Temperature > 35:
		a.Score += 20
		a.Factors = append(a.Factors, "⚠️ Elevated temperature")
	}

	if !r.GasClean {
		a.Score += 45
		a.Factors = append(a.Factors, "🔥 GAS/SMOKE DETECTED")
		a.Alerts = append(a.Alerts, data.Alert{
			Severity:    data.SeverityCritical,
			Title:       "GAS OR SMOKE DETECTED",
			Description: "Possible fire ignition",
		})
	}

	if r.Humidity < 20 {
		a.Score += 15
		a.Factors = append(a.Factors, "💧 Very dry air")
		a.Alerts = append(a.Alerts, data.Alert{
			Severity:    data.SeverityWarning,
			Title:       "LOW HUMIDITY",
			Description: fmt.Sprintf("%s%% - increased risk", num(r.Humidity)),
		})
	}

	if v.IsAnomaly {
		a.Score += 20
		a.Factors = append(a.Factors, "🤖 Anomalous pattern (AI)")
		a.Alerts = append(a.Alerts, data.Alert{
			Severity:    data.SeverityWarning,
			Title:       "ANOMALY DETECTED",
			Description: "Unusual sensor pattern",
		})
	}

	if r.MotionDetected {
		a.Score += 10
		a.Factors = append(a.Factors, "⚡ Motion detected")
		a.Alerts = append(a.Alerts, data.Alert{
			Severity:    data.SeverityInfo,
			Title:       "MOTION",
			Description: "Activity detected in zone",
		})
	}

	switch d := r.DistanceCm; {
	case d > 0 && d < 50:
		a.Score += 25
		a.Factors = append(a.Factors, fmt.Sprintf("🚶 CRITICAL PROXIMITY: %scm", num(d)))
		a.Alerts = append(a.Alerts, data.Alert{
			Severity:    data.SeverityCritical,
			Title:       "OBJECT/PERSON NEARBY",
			Description: fmt.Sprintf("%scm from the sensor", num(d)),
		})
	case d >= 50 && d < 100:
		a.Factors = append(a.Factors, fmt.Sprintf("👁️ Object detected: %scm", num(d)))
	}

	a.Tier = TierFor(a.Score)
	return a
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
