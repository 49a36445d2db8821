package anomaly

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clusterRows(n int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
	}
	return rows
}

func TestForestModelDecisionDirection(t *testing.T) {
	m := NewForestModel(100, 256, 0.1)
	require.NoError(t, m.Fit(clusterRows(200, 11)))

	outlier, decision, err := m.Predict([]float64{8, -8, 8})
	require.NoError(t, err)
	assert.True(t, outlier)
	assert.Less(t, decision, 0.0)

	outlier, decision, err = m.Predict([]float64{0, 0, 0})
	require.NoError(t, err)
	assert.False(t, outlier)
	assert.Greater(t, decision, 0.0)
}

func TestForestModelFlagsAboutContamination(t *testing.T) {
	rows := clusterRows(200, 12)
	m := NewForestModel(100, 256, 0.1)
	require.NoError(t, m.Fit(rows))

	flagged := 0
	for _, r := range rows {
		outlier, _, err := m.Predict(r)
		require.NoError(t, err)
		if outlier {
			flagged++
		}
	}
	assert.InDelta(t, 20, flagged, 15)
}

func TestForestModelErrors(t *testing.T) {
	_, _, err := NewForestModel(10, 16, 0.1).Predict([]float64{0, 0, 0})
	assert.Error(t, err)

	assert.Error(t, NewForestModel(10, 16, 0.1).Fit([][]float64{{1, 2, 3}}))
	assert.Error(t, NewForestModel(10, 16, 0.6).Fit(clusterRows(20, 1)))
	assert.Error(t, NewForestModel(10, 16, 0).Fit(clusterRows(20, 1)))
}

func TestForestModelsFitConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			m := NewForestModel(20, 64, 0.1)
			if assert.NoError(t, m.Fit(clusterRows(64, seed))) {
				_, _, err := m.Predict([]float64{0, 0, 0})
				assert.NoError(t, err)
			}
		}(int64(i))
	}
	wg.Wait()
}
