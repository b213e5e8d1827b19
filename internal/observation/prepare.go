package observation

import (
	"math"
	"strings"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
)

// Error values substituted for unusable entries.
const (
	NominalPhaseError     = 100.0
	NominalAmplitudeError = 1.0
)

// Amplitudes outside [MinAmplitude, 1] are flagged.
const MinAmplitude = 1e-5

// PrepareOptions control flagging during preparation.
type PrepareOptions struct {
	// Channels below FlagTill and from FlagFrom on are flagged.
	FlagTill int
	FlagFrom int
}

// DefaultPrepareOptions returns the channel window for LOW resolution data.
func DefaultPrepareOptions() PrepareOptions {
	return PrepareOptions{FlagTill: 3, FlagFrom: 13}
}

// DefaultPrepareOptionsFor returns the default channel window of a spectral
// resolution. HIGH resolution data has none.
func DefaultPrepareOptionsFor(resolution string) (PrepareOptions, error) {
	switch strings.ToUpper(resolution) {
	case "LOW":
		return DefaultPrepareOptions(), nil
	case "MED", "MEDIUM":
		return PrepareOptions{FlagTill: 30, FlagFrom: 200}, nil
	}
	return PrepareOptions{}, fiterr.Invalid("observation.Prepare", "resolution %q needs an explicit channel window", resolution)
}

// IsZero reports whether no channel window was set.
func (o PrepareOptions) IsZero() bool { return o == PrepareOptions{} }

// Resolve returns the window to apply to data of the given resolution. An
// unset window takes the resolution default.
func (o PrepareOptions) Resolve(resolution string) (PrepareOptions, error) {
	if o.IsZero() {
		return DefaultPrepareOptionsFor(resolution)
	}
	if o.FlagTill < 0 || o.FlagFrom < o.FlagTill {
		return PrepareOptions{}, fiterr.Invalid("observation.Prepare", "invalid channel window [%d, %d)", o.FlagTill, o.FlagFrom)
	}
	return o, nil
}

// Prepare repairs and flags the unit in place: non-finite values become 0
// and are flagged, unusable errors are replaced by a nominal error and
// flagged, amplitudes outside the physical range are flagged and channels
// outside the window are flagged.
func Prepare(u *Unit, o PrepareOptions) {
	for k := Kind(0); k < NumKinds; k++ {
		b := &u.Blocks[k]
		if !b.Present() {
			continue
		}
		prepareBlock(k, b, o)
	}
}

func prepareBlock(k Kind, b *Block, o PrepareOptions) {
	rows := len(b.Value)
	if len(b.Flag) == 0 {
		b.Flag = make([][]bool, rows)
		for i := range b.Flag {
			b.Flag[i] = make([]bool, len(b.Value[i]))
		}
	}
	if len(b.Error) == 0 {
		b.Error = make([]Row, rows)
		for i := range b.Error {
			b.Error[i] = make(Row, len(b.Value[i]))
			for ch := range b.Error[i] {
				b.Error[i][ch] = math.NaN()
			}
		}
	}

	nominal := NominalAmplitudeError
	if k.IsPhase() {
		nominal = NominalPhaseError
	}

	for row := 0; row < rows; row++ {
		val, errs, flag := b.Value[row], b.Error[row], b.Flag[row]
		for ch := range val {
			if !finite(val[ch]) {
				val[ch] = 0
				flag[ch] = true
			}
			if !finite(errs[ch]) || errs[ch] <= 0 {
				errs[ch] = nominal
				flag[ch] = true
			}
			switch k {
			case VisAmp, Vis2:
				if val[ch] > 1 || val[ch] < MinAmplitude {
					flag[ch] = true
					errs[ch] = NominalAmplitudeError
				}
			case ClosureAmp:
				if val[ch] <= 0 {
					flag[ch] = true
					errs[ch] = NominalAmplitudeError
				}
			}
			if ch < o.FlagTill || ch >= o.FlagFrom {
				flag[ch] = true
			}
		}
	}
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
