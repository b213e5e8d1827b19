package http

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/gravfit/internal/ensemble"
	"github.com/fyrsmithlabs/gravfit/internal/fit"
)

// UnitsByState counts tracked units per state.
var UnitsByState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "gravfit",
		Subsystem: "monitor",
		Name:      "units",
		Help:      "Fit units known to the monitor, by state",
	},
	[]string{"state"},
)

// Tracker records fit progress for the monitor. It implements fit.Observer
// and is safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	units map[fit.UnitKey]*UnitStatus
	now   func() time.Time
}

var _ fit.Observer = (*Tracker)(nil)

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		units: make(map[fit.UnitKey]*UnitStatus),
		now:   time.Now,
	}
}

// UnitStarted implements fit.Observer.
func (t *Tracker) UnitStarted(key fit.UnitKey, steps int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.units[key]; ok {
		UnitsByState.WithLabelValues(old.State).Dec()
	}
	now := t.now()
	t.units[key] = &UnitStatus{
		UnitKey:    key,
		State:      StateRunning,
		Steps:      steps,
		Acceptance: fit.Value(math.NaN()),
		MaxLogProb: fit.Value(math.NaN()),
		StartedAt:  now,
		UpdatedAt:  now,
	}
	UnitsByState.WithLabelValues(StateRunning).Inc()
}

// UnitProgress implements fit.Observer.
func (t *Tracker) UnitProgress(key fit.UnitKey, p ensemble.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.units[key]
	if !ok {
		return
	}
	u.Step = p.Step
	u.Steps = p.Steps
	u.Acceptance = fit.Value(p.Acceptance)
	u.MaxLogProb = fit.Value(p.MaxLogProb)
	u.UpdatedAt = t.now()
}

// UnitFinished implements fit.Observer.
func (t *Tracker) UnitFinished(key fit.UnitKey, res fit.UnitResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.units[key]
	if !ok {
		return
	}
	UnitsByState.WithLabelValues(u.State).Dec()
	switch {
	case res.Error != "":
		u.State = StateFailed
		u.Message = res.Error
	case res.Skipped:
		u.State = StateSkipped
		u.Message = res.Reason
	default:
		u.State = StateFinished
		u.Step = u.Steps
		u.Acceptance = res.Acceptance
		u.MaxLogProb = res.MaxLogProb
		u.Reported = res.Reported
		u.ReducedChi2 = res.ReducedChi2
	}
	u.UpdatedAt = t.now()
	UnitsByState.WithLabelValues(u.State).Inc()
}

// Snapshot returns copies of the tracked units of runID, or of every run
// when runID is empty, ordered by start time, polarization and DIT.
func (t *Tracker) Snapshot(runID string) []UnitStatus {
	t.mu.RLock()
	out := make([]UnitStatus, 0, len(t.units))
	for _, u := range t.units {
		if runID == "" || u.RunID == runID {
			out = append(out, *u)
		}
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b UnitStatus) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		if a.Polarization != b.Polarization {
			return a.Polarization - b.Polarization
		}
		return a.DIT - b.DIT
	})
	return out
}
