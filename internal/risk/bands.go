package risk

import "github.com/2223010198-web/MonicGpio/internal/data"

// Band is the display status of a single metric.
type Band string

const (
	BandGood     Band = "good"
	BandWarning  Band = "warning"
	BandCritical Band = "critical"
)

// Bands classifies each metric of a reading for the dashboard cards.
// These thresholds are independent of the score ladder.
type Bands struct {
	Temperature    Band `json:"temperature"`
	Humidity       Band `json:"humidity"`
	Gas            Band `json:"gas"`
	Distance       Band `json:"distance"`
	Motion         Band `json:"motion"`
	AudioThreshold Band `json:"audio_threshold"`
}

// MaxAlertAudioThreshold is the detector threshold at or below which the
// node is in maximum-sensitivity mode.
const MaxAlertAudioThreshold = 0.25

func Classify(r *data.SensorReading) Bands {
	b := Bands{
		Temperature:    BandGood,
		Humidity:       BandGood,
		Gas:            BandGood,
		Distance:       BandGood,
		Motion:         BandGood,
		AudioThreshold: BandGood,
	}

	switch {
	case r.Temperature > 35:
		b.Temperature = BandCritical
	case r.Temperature > 30:
		b.Temperature = BandWarning
	}

	switch {
	case r.Humidity < 20:
		b.Humidity = BandCritical
	case r.Humidity < 40:
		b.Humidity = BandWarning
	}

	if !r.GasClean {
		b.Gas = BandCritical
	}

	switch d := r.DistanceCm; {
	case d > 0 && d < 50:
		b.Distance = BandCritical
	case d >= 50 && d < 100:
		b.Distance = BandWarning
	}

	if r.MotionDetected {
		b.Motion = BandWarning
	}
	if r.AudioThreshold <= MaxAlertAudioThreshold {
		b.AudioThreshold = BandCritical
	}
	return b
}
