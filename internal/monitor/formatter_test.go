package monitor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/gravfit/internal/observation"
)

func TestFormatPercentage(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		expected string
	}{
		{"zero", 0, "0.0%"},
		{"typical acceptance", 0.314, "31.4%"},
		{"full", 1, "100.0%"},
		{"undefined", math.NaN(), "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatPercentage(tt.ratio))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		seconds  int64
		expected string
	}{
		{"zero", 0, "0s"},
		{"seconds", 42, "42s"},
		{"minutes", 125, "2m 5s"},
		{"hours", 3725, "1h 2m"},
		{"negative", -5, "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDuration(tt.seconds))
		})
	}
}

func TestFormatProgress(t *testing.T) {
	assert.Equal(t, "50/200", FormatProgress(50, 200))
	assert.Equal(t, "-", FormatProgress(0, 0))
}

func TestFormatLogProb(t *testing.T) {
	assert.Equal(t, "-12.35", FormatLogProb(-12.345))
	assert.Equal(t, "-", FormatLogProb(math.NaN()))
	assert.Equal(t, "-", FormatLogProb(math.Inf(-1)))
}

func TestFormatChi2(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name     string
		row      observation.Row
		expected string
	}{
		{"empty", nil, "-"},
		{"all undefined", observation.Row{nan, nan, nan, nan, nan}, "-"},
		{"vis2 and closure phase", observation.Row{nan, 1.024, 0.871, nan, nan}, "vis2=1.02 t3phi=0.87"},
		{"short row", observation.Row{2}, "visamp=2.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatChi2(tt.row))
		})
	}
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.25, ratio(50, 200))
	assert.Equal(t, 0.0, ratio(5, 0))
	assert.Equal(t, 1.0, ratio(300, 200))
}
