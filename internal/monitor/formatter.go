package monitor

import (
	"fmt"
	"math"
	"strings"

	"github.com/fyrsmithlabs/gravfit/internal/observation"
)

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	if math.IsNaN(ratio) {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatDuration formats duration in seconds to "Xh Ym", "Xm Ys" or "Xs"
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// FormatProgress formats sampler progress as "step/steps".
func FormatProgress(step, steps int) string {
	if steps <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", step, steps)
}

// FormatLogProb formats a log-probability, "-" when undefined.
func FormatLogProb(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

// FormatChi2 formats the reduced chi-square terms of the observables that
// were fitted, e.g. "vis2=1.02 t3phi=0.87".
func FormatChi2(row observation.Row) string {
	var parts []string
	for k := observation.Kind(0); k < observation.NumKinds && int(k) < len(row); k++ {
		v := row[k]
		if math.IsNaN(v) {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%.2f", k, v))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

// ratio returns step/steps clamped to [0, 1].
func ratio(step, steps int) float64 {
	if steps <= 0 {
		return 0
	}
	return math.Min(math.Max(float64(step)/float64(steps), 0), 1)
}
