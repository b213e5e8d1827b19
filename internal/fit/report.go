package fit

import (
	"encoding/json"
	"math"
	"time"

	"github.com/fyrsmithlabs/gravfit/internal/likelihood"
	"github.com/fyrsmithlabs/gravfit/internal/model"
	"github.com/fyrsmithlabs/gravfit/internal/observation"
)

// Report is the outcome of one Run.
type Report struct {
	RunID string `json:"run_id"`
	Mode  string `json:"mode"`
	// Names and FreeNames label the full and reduced vectors.
	Names     []string     `json:"names"`
	FreeNames []string     `json:"free_names"`
	Units     []UnitResult `json:"units"`
	Started   time.Time    `json:"started"`
	Duration  float64      `json:"duration_seconds"`
}

// UnitResult summarizes the fit of one polarization and DIT. Vectors are
// full-length; fixed parameters carry their fixed value in every summary.
type UnitResult struct {
	Polarization int `json:"polarization"`
	DIT          int `json:"dit"`

	// Skipped is set when the data were too degenerate to fit. All numeric
	// summaries are NaN in that case.
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
	// Error is set only in observer notifications of a failed unit.
	Error string `json:"error,omitempty"`

	Best     observation.Row `json:"best"`
	Median   observation.Row `json:"median"`
	Lower    observation.Row `json:"p16"`
	Upper    observation.Row `json:"p84"`
	Reported observation.Row `json:"reported"`

	// Chi2 and ReducedChi2 are ordered like observation.Kind and evaluated
	// at the reported vector.
	Chi2        observation.Row `json:"chi2"`
	ReducedChi2 observation.Row `json:"reduced_chi2"`
	Dof         int             `json:"dof"`

	Steps      int   `json:"steps"`
	Discarded  int   `json:"discarded"`
	Acceptance Value `json:"acceptance"`
	MaxLogProb Value `json:"max_log_prob"`

	Model *ModelOutput `json:"model,omitempty"`
}

// ModelOutput holds model observables on the reported wavelength grid.
type ModelOutput struct {
	Wave    observation.Row   `json:"wave"`
	VisAmp  []observation.Row `json:"visamp"`
	Vis2    []observation.Row `json:"vis2"`
	VisPhi  []observation.Row `json:"visphi"`
	Closure []observation.Row `json:"t3phi"`
	ClosAmp []observation.Row `json:"t3amp"`
}

// NewModelOutput copies a model result into its serializable form.
func NewModelOutput(wave []float64, r *model.Result) *ModelOutput {
	rows := func(src [][]float64) []observation.Row {
		out := make([]observation.Row, len(src))
		for i, r := range src {
			out[i] = append(observation.Row(nil), r...)
		}
		return out
	}
	return &ModelOutput{
		Wave:    append(observation.Row(nil), wave...),
		VisAmp:  rows(r.Observable(observation.VisAmp)),
		Vis2:    rows(r.Observable(observation.Vis2)),
		VisPhi:  rows(r.Observable(observation.VisPhi)),
		Closure: rows(r.Observable(observation.ClosurePhase)),
		ClosAmp: rows(r.Observable(observation.ClosureAmp)),
	}
}

func nanRow(n int) observation.Row {
	r := make(observation.Row, n)
	for i := range r {
		r[i] = math.NaN()
	}
	return r
}

// skippedResult reports a unit that could not be fitted.
func skippedResult(pol, dit, n int, reason string) UnitResult {
	return UnitResult{
		Polarization: pol,
		DIT:          dit,
		Skipped:      true,
		Reason:       reason,
		Best:         nanRow(n),
		Median:       nanRow(n),
		Lower:        nanRow(n),
		Upper:        nanRow(n),
		Reported:     nanRow(n),
		Chi2:         nanRow(int(observation.NumKinds)),
		ReducedChi2:  nanRow(int(observation.NumKinds)),
		Acceptance:   Value(math.NaN()),
		MaxLogProb:   Value(math.NaN()),
	}
}

func termsRow(t likelihood.Terms) observation.Row {
	return append(observation.Row(nil), t[:]...)
}

// Value is a float that encodes NaN and infinities as JSON null.
type Value float64

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

// UnmarshalJSON implements json.Unmarshaler; null decodes to NaN.
func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Value(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Value(f)
	return nil
}
