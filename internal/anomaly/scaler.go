package anomaly

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrDegenerateWindow is returned when every feature in the training
// window is constant, leaving the model nothing to learn from.
var ErrDegenerateWindow = errors.New("training window is degenerate: all features constant")

// Scaler standardises features to zero mean and unit variance.
// Constant columns keep a scale of 1.
type Scaler struct {
	mean  []float64
	scale []float64
}

// FitScaler learns per-column mean and population standard deviation.
func FitScaler(rows [][]float64) (*Scaler, error) {
	if len(rows) == 0 {
		return nil, errors.New("fit scaler: no rows")
	}
	dim := len(rows[0])
	s := &Scaler{mean: make([]float64, dim), scale: make([]float64, dim)}
	col := make([]float64, len(rows))
	varying := false

	for j := 0; j < dim; j++ {
		for i, row := range rows {
			if len(row) != dim {
				return nil, fmt.Errorf("fit scaler: row %d has %d features, want %d", i, len(row), dim)
			}
			if math.IsNaN(row[j]) || math.IsInf(row[j], 0) {
				return nil, fmt.Errorf("fit scaler: row %d feature %d is not finite", i, j)
			}
			col[i] = row[j]
		}
		s.mean[j] = stat.Mean(col, nil)
		sd := math.Sqrt(stat.PopVariance(col, nil))
		if sd == 0 {
			s.scale[j] = 1
			continue
		}
		s.scale[j] = sd
		varying = true
	}
	if !varying {
		return nil, ErrDegenerateWindow
	}
	return s, nil
}

// Transform returns a scaled copy of x.
func (s *Scaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.mean) {
		return nil, fmt.Errorf("scaler expects %d features, got %d", len(s.mean), len(x))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.mean[j]) / s.scale[j]
	}
	return out, nil
}

// TransformAll scales every row.
func (s *Scaler) TransformAll(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		r, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}
