package telemetry

import (
	"fmt"
	"time"

	"github.com/2223010198-web/MonicGpio/internal/data"
)

func alertEvent(a data.Alert, now time.Time) data.Event {
	return data.Event{
		Severity:    a.Severity,
		Icon:        a.Severity.Icon(),
		Title:       a.Title,
		Description: a.Description,
		Source:      data.SourceRisk,
		Timestamp:   now,
	}
}

func gunshotEvent(a data.GunshotAlert) data.Event {
	return data.Event{
		Severity:    data.SeverityCritical,
		Icon:        "🔫",
		Title:       "GUNSHOT DETECTED",
		Description: fmt.Sprintf("Probability: %.1f%%", a.Probability*100),
		Source:      data.SourceGunshot,
		Timestamp:   a.Timestamp,
	}
}
