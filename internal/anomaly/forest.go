package anomaly

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/e-XpertSolutions/go-iforest/v2/iforest"
	"gonum.org/v1/gonum/stat"
)

// Model is the black-box outlier classifier the detector trains once.
// Predict returns a decision value: positive for inliers, negative for
// outliers.
type Model interface {
	Fit(rows [][]float64) error
	Predict(x []float64) (outlier bool, decision float64, err error)
}

// iforest scores rise with path length, so higher means more normal.
// Training also sets the package-level iforest.MaxDepth, which forestMu
// guards across models.
var forestMu sync.RWMutex

// ForestModel is an isolation forest whose decision offset is placed at
// the contamination quantile of the training scores. Decision is the
// score minus that offset.
type ForestModel struct {
	Trees         int
	Subsample     int
	Contamination float64

	forest *iforest.Forest
	offset float64
}

func NewForestModel(trees, subsample int, contamination float64) *ForestModel {
	return &ForestModel{Trees: trees, Subsample: subsample, Contamination: contamination}
}

func (m *ForestModel) Fit(rows [][]float64) error {
	if len(rows) < 2 {
		return errors.New("isolation forest needs at least two rows")
	}
	if m.Contamination <= 0 || m.Contamination >= 0.5 {
		return fmt.Errorf("contamination %.3f outside (0, 0.5)", m.Contamination)
	}
	sub := m.Subsample
	if sub <= 0 || sub > len(rows) {
		sub = len(rows)
	}

	forestMu.Lock()
	f := iforest.NewForest(m.Trees, sub, m.Contamination)
	f.Train(rows)
	err := f.Test(rows)
	var scores []float64
	if err == nil {
		_, scores, err = f.Predict(rows)
	}
	forestMu.Unlock()
	if err != nil {
		return fmt.Errorf("score training rows: %w", err)
	}
	if len(scores) != len(rows) {
		return fmt.Errorf("forest returned %d scores for %d rows", len(scores), len(rows))
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	m.offset = stat.Quantile(m.Contamination, stat.Empirical, sorted, nil)
	m.forest = f
	return nil
}

func (m *ForestModel) Predict(x []float64) (bool, float64, error) {
	if m.forest == nil {
		return false, 0, errors.New("isolation forest not fitted")
	}
	forestMu.RLock()
	_, scores, err := m.forest.Predict([][]float64{x})
	forestMu.RUnlock()
	if err != nil {
		return false, 0, err
	}
	if len(scores) != 1 {
		return false, 0, fmt.Errorf("forest returned %d scores for one sample", len(scores))
	}
	decision := scores[0] - m.offset
	return decision < 0, decision, nil
}
