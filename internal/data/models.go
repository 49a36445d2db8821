// internal/data/models.go
package data

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity ranks timeline events and risk alerts.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Icon returns the glyph the dashboard shows next to an event of this severity.
func (s Severity) Icon() string {
	switch s {
	case SeverityCritical:
		return "🔥"
	case SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "info":
		*s = SeverityInfo
	case "warning":
		*s = SeverityWarning
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// DeviceInfo describes the remote sensor node hardware.
type DeviceInfo struct {
	Model    string  `json:"model"`
	CPUTempC float64 `json:"cpu_temp_c"`
	Hostname string  `json:"hostname,omitempty"`
}

// SensorReading is one decoded message from the sensors topic.
// It is never mutated after decoding; a newer reading replaces it.
type SensorReading struct {
	Temperature    float64         `json:"temperature"`
	Humidity       float64         `json:"humidity"`
	GasClean       bool            `json:"gas_clean"`
	DistanceCm     float64         `json:"distance_cm"`
	MotionDetected bool            `json:"motion_detected"`
	AudioThreshold float64         `json:"audio_threshold"`
	SensorStatuses map[string]bool `json:"sensor_statuses"`
	Device         DeviceInfo      `json:"device"`
	ReceivedAt     time.Time       `json:"received_at"`
}

// GasSignal returns the raw digital gas line: 0 when gas or smoke is
// present, 1 when the air is clean.
func (r *SensorReading) GasSignal() float64 {
	if r.GasClean {
		return 1
	}
	return 0
}

// GunshotAlert is a detection pushed on the alerts topic.
type GunshotAlert struct {
	Probability float64   `json:"probability"`
	Timestamp   time.Time `json:"timestamp"`
	Audio       []byte    `json:"audio,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// AudioFrame is the latest chunk streamed on the audio monitor topic.
type AudioFrame struct {
	Timestamp  time.Time `json:"timestamp"`
	Audio      []byte    `json:"audio"`
	ReceivedAt time.Time `json:"received_at"`
}

// Alert is a single triggered risk rule.
type Alert struct {
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
}

// Event sources.
const (
	SourceRisk    = "risk"
	SourceGunshot = "gunshot"
)

// Event is one timeline entry.
type Event struct {
	ID          string    `json:"id"`
	Severity    Severity  `json:"severity"`
	Icon        string    `json:"icon"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
}

// SameContent reports whether two events would render identically.
func (e Event) SameContent(o Event) bool {
	return e.Severity == o.Severity && e.Title == o.Title && e.Description == o.Description
}

// DeviceMetadata is the free-form object published on the device topic.
type DeviceMetadata map[string]json.RawMessage
