package fit

import "github.com/fyrsmithlabs/gravfit/internal/ensemble"

// UnitKey identifies a fit unit within a run.
type UnitKey struct {
	RunID        string `json:"run_id"`
	Polarization int    `json:"polarization"`
	DIT          int    `json:"dit"`
}

// Observer receives progress notifications. Calls for one run arrive from
// a single goroutine, but an observer shared between runs must be safe for
// concurrent use.
type Observer interface {
	UnitStarted(key UnitKey, steps int)
	UnitProgress(key UnitKey, p ensemble.Progress)
	UnitFinished(key UnitKey, res UnitResult)
}

type observers []Observer

func (o observers) started(key UnitKey, steps int) {
	for _, ob := range o {
		ob.UnitStarted(key, steps)
	}
}

func (o observers) progress(key UnitKey, p ensemble.Progress) {
	for _, ob := range o {
		ob.UnitProgress(key, p)
	}
}

func (o observers) finished(key UnitKey, res UnitResult) {
	for _, ob := range o {
		ob.UnitFinished(key, res)
	}
}
