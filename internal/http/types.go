package http

import (
	"time"

	"github.com/fyrsmithlabs/gravfit/internal/fit"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
	"github.com/fyrsmithlabs/gravfit/internal/telemetry"
)

// Unit states reported by the monitor.
const (
	StateRunning  = "running"
	StateFinished = "finished"
	StateSkipped  = "skipped"
	StateFailed   = "failed"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// UnitStatus is the monitor view of one fit unit.
type UnitStatus struct {
	fit.UnitKey
	State       string          `json:"state"`
	Step        int             `json:"step"`
	Steps       int             `json:"steps"`
	Acceptance  fit.Value       `json:"acceptance"`
	MaxLogProb  fit.Value       `json:"max_log_prob"`
	Reported    observation.Row `json:"reported,omitempty"`
	ReducedChi2 observation.Row `json:"reduced_chi2,omitempty"`
	Message     string          `json:"message,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// FitsResponse is the response body for GET /api/v1/fits.
type FitsResponse struct {
	Units []UnitStatus `json:"units"`
}
