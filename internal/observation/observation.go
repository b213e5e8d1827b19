// Package observation holds interferometric observables per baseline and
// closure triangle, splits them into independent fit units and prepares
// them for fitting.
package observation

import (
	"encoding/json"
	"math"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
	"github.com/fyrsmithlabs/gravfit/internal/interferometer"
)

// Kind identifies an observable. The order matches the fit weights.
type Kind int

// Observables.
const (
	VisAmp Kind = iota
	Vis2
	ClosurePhase
	VisPhi
	ClosureAmp
	NumKinds
)

var kindNames = [NumKinds]string{"visamp", "vis2", "t3phi", "visphi", "t3amp"}

// String returns the short name of the observable.
func (k Kind) String() string {
	if k < 0 || k >= NumKinds {
		return "unknown"
	}
	return kindNames[k]
}

// Rows returns the number of rows per DIT: 6 baselines or 4 triangles.
func (k Kind) Rows() int {
	if k == ClosurePhase || k == ClosureAmp {
		return interferometer.NumTriangles
	}
	return interferometer.NumBaselines
}

// IsPhase reports whether the observable is an angle in degrees.
func (k Kind) IsPhase() bool {
	return k == ClosurePhase || k == VisPhi
}

// Row is one row of channel values. NaN and infinities are encoded as JSON
// null.
type Row []float64

// MarshalJSON implements json.Marshaler.
func (r Row) MarshalJSON() ([]byte, error) {
	out := make([]*float64, len(r))
	for i := range r {
		if !math.IsNaN(r[i]) && !math.IsInf(r[i], 0) {
			out[i] = &r[i]
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Row) UnmarshalJSON(b []byte) error {
	var in []*float64
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = make(Row, len(in))
	for i, v := range in {
		if v == nil {
			(*r)[i] = math.NaN()
		} else {
			(*r)[i] = *v
		}
	}
	return nil
}

// Block is one observable with parallel error and flag arrays, shaped
// rows × channels.
type Block struct {
	Value []Row    `json:"value,omitempty"`
	Error []Row    `json:"error,omitempty"`
	Flag  [][]bool `json:"flag,omitempty"`
}

// Present reports whether the block carries data.
func (b Block) Present() bool { return len(b.Value) > 0 }

// Flagged reports whether entry (row, ch) is flagged. A missing flag array
// flags nothing.
func (b Block) Flagged(row, ch int) bool {
	return len(b.Flag) > row && len(b.Flag[row]) > ch && b.Flag[row][ch]
}

// ValidChannels returns the number of unflagged channels of row.
func (b Block) ValidChannels(row int) int {
	n := 0
	for ch := range b.Value[row] {
		if !b.Flagged(row, ch) {
			n++
		}
	}
	return n
}

// Count returns the total and flagged number of entries.
func (b Block) Count() (total, flagged int) {
	for row := range b.Value {
		for ch := range b.Value[row] {
			total++
			if b.Flagged(row, ch) {
				flagged++
			}
		}
	}
	return total, flagged
}

func (b Block) validate(kind Kind, rows, channels int) error {
	if !b.Present() {
		return nil
	}
	if len(b.Value) != rows {
		return fiterr.Mismatch("observation.Validate", "%s has %d rows, want %d", kind, len(b.Value), rows)
	}
	for _, part := range []struct {
		name string
		rows int
		cols func(i int) int
	}{
		{"value", len(b.Value), func(i int) int { return len(b.Value[i]) }},
		{"error", len(b.Error), func(i int) int { return len(b.Error[i]) }},
		{"flag", len(b.Flag), func(i int) int { return len(b.Flag[i]) }},
	} {
		if part.rows == 0 && part.name != "value" {
			continue
		}
		if part.rows != rows {
			return fiterr.Mismatch("observation.Validate", "%s %s has %d rows, want %d", kind, part.name, part.rows, rows)
		}
		for i := 0; i < rows; i++ {
			if part.cols(i) != channels {
				return fiterr.Mismatch("observation.Validate", "%s %s row %d has %d channels, want %d", kind, part.name, i, part.cols(i), channels)
			}
		}
	}
	return nil
}

func (b Block) slice(from, to int) Block {
	out := Block{Value: cloneRows(b.Value, from, to), Error: cloneRows(b.Error, from, to)}
	if len(b.Flag) > 0 {
		out.Flag = make([][]bool, to-from)
		for i := range out.Flag {
			out.Flag[i] = append([]bool(nil), b.Flag[from+i]...)
		}
	}
	return out
}

func cloneRows(rows []Row, from, to int) []Row {
	if len(rows) == 0 {
		return nil
	}
	out := make([]Row, to-from)
	for i := range out {
		out[i] = append(Row(nil), rows[from+i]...)
	}
	return out
}

// Dataset holds all DITs of one polarization.
type Dataset struct {
	// U and V are baseline coordinates in meters, either 6 values shared by
	// all DITs or 6 per DIT.
	U []float64 `json:"u"`
	V []float64 `json:"v"`

	VisAmp  Block `json:"visamp"`
	Vis2    Block `json:"vis2"`
	Closure Block `json:"t3phi"`
	VisPhi  Block `json:"visphi"`
	ClosAmp Block `json:"t3amp"`
}

// Block returns the block of kind k.
func (d *Dataset) Block(k Kind) *Block {
	switch k {
	case VisAmp:
		return &d.VisAmp
	case Vis2:
		return &d.Vis2
	case ClosurePhase:
		return &d.Closure
	case VisPhi:
		return &d.VisPhi
	case ClosureAmp:
		return &d.ClosAmp
	}
	return nil
}

// NDIT returns the number of integration blocks.
func (d *Dataset) NDIT() int {
	for k := Kind(0); k < NumKinds; k++ {
		if b := d.Block(k); b.Present() {
			return len(b.Value) / k.Rows()
		}
	}
	return 0
}

// Bundle is an observation as delivered by the file reader.
type Bundle struct {
	Telescope    string     `json:"telescope"`
	Resolution   string     `json:"resolution"`
	Polarization string     `json:"polarization"`
	MJD          float64    `json:"mjd"`
	NorthAngle   [4]float64 `json:"north_angle"` // degrees
	DRA          [4]float64 `json:"dra"`         // mas
	DDEC         [4]float64 `json:"ddec"`        // mas
	FiberOffset  [2]float64 `json:"fiber_offset"`
	Wave         []float64  `json:"wave"` // micrometers
	// DLambda optionally holds the channel half-widths per baseline.
	DLambda []Row     `json:"dlambda,omitempty"`
	Pols    []Dataset `json:"polarizations"`
}

// Validate checks identifiers and array shapes.
func (b *Bundle) Validate() error {
	if _, err := interferometer.ParseTelescope(b.Telescope); err != nil {
		return err
	}
	mode, err := interferometer.ParsePolarizationMode(b.Polarization)
	if err != nil {
		return err
	}
	if len(b.Pols) != mode.Polarizations() {
		return fiterr.Mismatch("observation.Validate", "%s data with %d polarizations", mode, len(b.Pols))
	}
	nch := len(b.Wave)
	if nch == 0 {
		return fiterr.Invalid("observation.Validate", "no wavelength channels")
	}
	for i, w := range b.Wave {
		if !(w > 0) {
			return fiterr.Invalid("observation.Validate", "wavelength %d is %g", i, w)
		}
	}
	if len(b.DLambda) > 0 {
		if len(b.DLambda) != interferometer.NumBaselines {
			return fiterr.Mismatch("observation.Validate", "dlambda has %d rows, want 6", len(b.DLambda))
		}
		for i, r := range b.DLambda {
			if len(r) != nch {
				return fiterr.Mismatch("observation.Validate", "dlambda row %d has %d channels, want %d", i, len(r), nch)
			}
			for ch, w := range r {
				if !(w > 0) || w >= b.Wave[ch] {
					return fiterr.Invalid("observation.Validate", "dlambda row %d channel %d is %g", i, ch, w)
				}
			}
		}
	}

	for p := range b.Pols {
		d := &b.Pols[p]
		ndit := d.NDIT()
		if ndit == 0 {
			return fiterr.Invalid("observation.Validate", "polarization %d has no data", p)
		}
		for k := Kind(0); k < NumKinds; k++ {
			if err := d.Block(k).validate(k, ndit*k.Rows(), nch); err != nil {
				return err
			}
		}
		nb := interferometer.NumBaselines
		if len(d.U) != len(d.V) || (len(d.U) != nb && len(d.U) != nb*ndit) {
			return fiterr.Mismatch("observation.Validate", "polarization %d has %d u and %d v coordinates", p, len(d.U), len(d.V))
		}
	}
	return nil
}

// Unit is one independently fitted slice of data: one polarization and one
// integration block.
type Unit struct {
	Polarization int
	DIT          int
	U            [interferometer.NumBaselines]float64
	V            [interferometer.NumBaselines]float64
	Blocks       [NumKinds]Block
}

// Units validates the bundle and splits it into fit units. With onlyPol >= 0
// only that polarization is returned.
func (b *Bundle) Units(onlyPol int) ([]Unit, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if onlyPol >= len(b.Pols) {
		return nil, fiterr.Invalid("observation.Units", "polarization %d requested, data has %d", onlyPol, len(b.Pols))
	}

	var units []Unit
	for p := range b.Pols {
		if onlyPol >= 0 && p != onlyPol {
			continue
		}
		d := &b.Pols[p]
		for dit := 0; dit < d.NDIT(); dit++ {
			u := Unit{Polarization: p, DIT: dit}
			off := 0
			if len(d.U) > interferometer.NumBaselines {
				off = dit * interferometer.NumBaselines
			}
			copy(u.U[:], d.U[off:])
			copy(u.V[:], d.V[off:])
			for k := Kind(0); k < NumKinds; k++ {
				if blk := d.Block(k); blk.Present() {
					u.Blocks[k] = blk.slice(dit*k.Rows(), (dit+1)*k.Rows())
				}
			}
			units = append(units, u)
		}
	}
	return units, nil
}
