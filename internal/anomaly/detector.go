// internal/anomaly/detector.go
package anomaly

import (
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/2223010198-web/MonicGpio/internal/storage"
)

// State of the detector lifecycle. Collecting moves to Trained once and
// never goes back.
type State int

const (
	StateCollecting State = iota
	StateTrained
)

func (s State) String() string {
	if s == StateTrained {
		return "trained"
	}
	return "collecting"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// VerdictState is the outcome class of a prediction.
type VerdictState int

const (
	VerdictTraining VerdictState = iota
	VerdictNormal
	VerdictAlert
	VerdictError
)

func (v VerdictState) String() string {
	switch v {
	case VerdictNormal:
		return "normal"
	case VerdictAlert:
		return "alert"
	case VerdictError:
		return "error"
	default:
		return "training"
	}
}

func (v VerdictState) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// Verdict is the answer to a single classification query.
type Verdict struct {
	IsAnomaly  bool         `json:"is_anomaly"`
	Confidence int          `json:"confidence"`
	State      VerdictState `json:"state"`
}

// FitOutcome describes what AddSample did with the model.
type FitOutcome int

const (
	FitInsufficientData FitOutcome = iota
	FitTrained
	FitFailed
	FitSkipped
)

func (o FitOutcome) String() string {
	switch o {
	case FitTrained:
		return "trained"
	case FitFailed:
		return "failed"
	case FitSkipped:
		return "skipped"
	default:
		return "insufficient_data"
	}
}

// FitResult is returned by AddSample. Err is set only for FitFailed.
type FitResult struct {
	Outcome FitOutcome
	Err     error
}

// Sample is one (temperature, humidity, gas) feature triple.
type Sample [3]float64

// Options configure the training window.
type Options struct {
	Window     int
	MinSamples int
}

func DefaultOptions() Options {
	return Options{Window: 50, MinSamples: 20}
}

// Status summarises the detector for dashboards.
type Status struct {
	State        State  `json:"state"`
	Samples      int    `json:"samples"`
	Window       int    `json:"window"`
	MinSamples   int    `json:"min_samples"`
	LastFitError string `json:"last_fit_error,omitempty"`
}

// Detector accumulates a bounded training window, fits its model once
// enough samples are present, then classifies new readings.
type Detector struct {
	mu         sync.Mutex
	window     *storage.Ring[Sample]
	minSamples int
	model      Model
	scaler     *Scaler
	state      State
	lastFitErr error
}

func NewDetector(opts Options, model Model) *Detector {
	if opts.Window <= 0 {
		opts.Window = DefaultOptions().Window
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = DefaultOptions().MinSamples
	}
	return &Detector{
		window:     storage.NewRing[Sample](opts.Window),
		minSamples: opts.MinSamples,
		model:      model,
	}
}

// AddSample appends a feature triple and fits the model when the window
// first holds enough samples. A failed fit leaves the detector collecting;
// the next call retries with the updated window.
func (d *Detector) AddSample(temp, hum, gas float64) FitResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.window.Push(Sample{temp, hum, gas})

	if d.state == StateTrained {
		return FitResult{Outcome: FitSkipped}
	}
	if d.window.Len() < d.minSamples {
		return FitResult{Outcome: FitInsufficientData}
	}

	if err := d.fit(); err != nil {
		d.lastFitErr = err
		return FitResult{Outcome: FitFailed, Err: err}
	}
	d.lastFitErr = nil
	d.state = StateTrained
	log.Printf("Anomaly detector trained on %d samples", d.window.Len())
	return FitResult{Outcome: FitTrained}
}

func (d *Detector) fit() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model fit panicked: %v", r)
		}
	}()

	samples := d.window.Snapshot()
	rows := make([][]float64, len(samples))
	for i, s := range samples {
		rows[i] = []float64{s[0], s[1], s[2]}
	}

	scaler, err := FitScaler(rows)
	if err != nil {
		return err
	}
	scaled, err := scaler.TransformAll(rows)
	if err != nil {
		return err
	}
	if err := d.model.Fit(scaled); err != nil {
		return fmt.Errorf("fit model: %w", err)
	}
	d.scaler = scaler
	return nil
}

// Predict classifies one reading. Failures are logged and reported as an
// Error verdict with no anomaly and zero confidence.
func (d *Detector) Predict(temp, hum, gas float64) Verdict {
	return d.PredictFeatures([]float64{temp, hum, gas})
}

// PredictFeatures is Predict over an explicit feature vector.
func (d *Detector) PredictFeatures(x []float64) (v Verdict) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateTrained {
		return Verdict{State: VerdictTraining}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Anomaly prediction panicked: %v", r)
			v = Verdict{State: VerdictError}
		}
	}()

	scaled, err := d.scaler.Transform(x)
	if err != nil {
		log.Printf("Anomaly prediction failed: %v", err)
		return Verdict{State: VerdictError}
	}
	outlier, decision, err := d.model.Predict(scaled)
	if err != nil {
		log.Printf("Anomaly prediction failed: %v", err)
		return Verdict{State: VerdictError}
	}

	v = Verdict{IsAnomaly: outlier, Confidence: Confidence(decision), State: VerdictNormal}
	if outlier {
		v.State = VerdictAlert
	}
	return v
}

// Confidence maps a decision value onto 0..100.
func Confidence(decision float64) int {
	if math.IsNaN(decision) {
		return 0
	}
	c := math.Round((1-decision)*50 + 50)
	return int(math.Max(0, math.Min(100, c)))
}

func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Detector) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{
		State:      d.state,
		Samples:    d.window.Len(),
		Window:     d.window.Cap(),
		MinSamples: d.minSamples,
	}
	if d.lastFitErr != nil {
		st.LastFitError = d.lastFitErr.Error()
	}
	return st
}
