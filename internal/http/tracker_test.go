package http

import (
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/gravfit/internal/ensemble"
	"github.com/fyrsmithlabs/gravfit/internal/fit"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
)

// fakeClock returns a tracker clock advancing one second per call.
func fakeClock() func() time.Time {
	t := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()
	tr.now = fakeClock()
	key := fit.UnitKey{RunID: "run-a", Polarization: 1, DIT: 0}
	running := testutil.ToFloat64(UnitsByState.WithLabelValues(StateRunning))
	finished := testutil.ToFloat64(UnitsByState.WithLabelValues(StateFinished))

	tr.UnitStarted(key, 100)
	units := tr.Snapshot("")
	require.Len(t, units, 1)
	assert.Equal(t, StateRunning, units[0].State)
	assert.Equal(t, 100, units[0].Steps)
	assert.True(t, math.IsNaN(float64(units[0].Acceptance)))
	assert.Equal(t, running+1, testutil.ToFloat64(UnitsByState.WithLabelValues(StateRunning)))

	tr.UnitProgress(key, ensemble.Progress{Step: 40, Steps: 100, Acceptance: 0.3, MaxLogProb: -12})
	units = tr.Snapshot("run-a")
	assert.Equal(t, 40, units[0].Step)
	assert.Equal(t, fit.Value(0.3), units[0].Acceptance)
	assert.True(t, units[0].UpdatedAt.After(units[0].StartedAt))

	tr.UnitFinished(key, fit.UnitResult{
		Acceptance:  0.35,
		MaxLogProb:  -10,
		Reported:    observation.Row{5, -3},
		ReducedChi2: observation.Row{1.1},
	})
	units = tr.Snapshot("run-a")
	assert.Equal(t, StateFinished, units[0].State)
	assert.Equal(t, 100, units[0].Step)
	assert.Equal(t, observation.Row{5, -3}, units[0].Reported)
	assert.Equal(t, running, testutil.ToFloat64(UnitsByState.WithLabelValues(StateRunning)))
	assert.Equal(t, finished+1, testutil.ToFloat64(UnitsByState.WithLabelValues(StateFinished)))
}

func TestTrackerOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		res     fit.UnitResult
		state   string
		message string
	}{
		{"skipped", fit.UnitResult{Skipped: true, Reason: "visamp row 2 has 0 valid channels"}, StateSkipped, "visamp row 2 has 0 valid channels"},
		{"failed", fit.UnitResult{Error: "context canceled"}, StateFailed, "context canceled"},
		{"finished", fit.UnitResult{}, StateFinished, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			key := fit.UnitKey{RunID: tt.name}
			tr.UnitStarted(key, 10)
			tr.UnitFinished(key, tt.res)
			units := tr.Snapshot(tt.name)
			require.Len(t, units, 1)
			assert.Equal(t, tt.state, units[0].State)
			assert.Equal(t, tt.message, units[0].Message)
		})
	}
}

func TestTrackerIgnoresUnknownUnits(t *testing.T) {
	tr := NewTracker()
	tr.UnitProgress(fit.UnitKey{RunID: "x"}, ensemble.Progress{Step: 1})
	tr.UnitFinished(fit.UnitKey{RunID: "x"}, fit.UnitResult{})
	assert.Empty(t, tr.Snapshot(""))
}

func TestSnapshotOrdering(t *testing.T) {
	tr := NewTracker()
	tr.now = fakeClock()
	tr.UnitStarted(fit.UnitKey{RunID: "b", Polarization: 0, DIT: 1}, 1)
	tr.UnitStarted(fit.UnitKey{RunID: "a", Polarization: 1, DIT: 0}, 1)
	tr.UnitStarted(fit.UnitKey{RunID: "b", Polarization: 0, DIT: 0}, 1)

	all := tr.Snapshot("")
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].RunID)
	assert.Equal(t, 1, all[0].DIT)
	assert.Equal(t, "a", all[1].RunID)

	onlyB := tr.Snapshot("b")
	require.Len(t, onlyB, 2)
	assert.Empty(t, tr.Snapshot("missing"))
}
