package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
)

func TestBuildJointLayout(t *testing.T) {
	sources := []Source{{RA: 4, DEC: -2, FluxRatio: 0.2}}

	tests := []struct {
		name      string
		share     JointFlags
		wantLen   int
		wantFree  []string
		wantShare []string
	}{
		{
			name:     "nothing shared",
			wantLen:  3 + 2*numNuisance,
			wantFree: []string{"dRA1", "dDEC1", "fr1", "alpha BH-1", "f BG-1", "alpha BH-2", "f BG-2"},
		},
		{
			name:      "one background",
			share:     JointFlags{OneBG: true},
			wantLen:   3 + 2*numNuisance - 1,
			wantFree:  []string{"dRA1", "dDEC1", "fr1", "alpha BH-1", "f BG", "alpha BH-2"},
			wantShare: []string{"f BG"},
		},
		{
			name:      "one background and index",
			share:     JointFlags{OneBHAlpha: true, OneBG: true},
			wantLen:   3 + 2*numNuisance - 2,
			wantFree:  []string{"dRA1", "dDEC1", "fr1", "alpha BH", "f BG"},
			wantShare: []string{"alpha BH", "f BG"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jl, err := BuildJointLayout(sources, FitFlags{}, 2, tt.share)
			require.NoError(t, err)
			assert.Equal(t, 2, jl.Parts())
			assert.Equal(t, FullLength(1), jl.Base().Len())
			assert.Equal(t, tt.wantLen, jl.Layout().Len())
			assert.Equal(t, tt.wantFree, jl.Layout().FreeNames())
			for _, name := range tt.wantShare {
				assert.GreaterOrEqual(t, jl.Layout().Index(name), 0, name)
			}
			assert.GreaterOrEqual(t, jl.Layout().Index("coh6-2"), 0)
		})
	}
}

func TestJointLayoutSplit(t *testing.T) {
	sources := []Source{{RA: 4, DEC: -2, FluxRatio: 0.2}}
	jl, err := BuildJointLayout(sources, FitFlags{}, 2, JointFlags{OneBG: true})
	require.NoError(t, err)

	full := make([]float64, jl.Layout().Len())
	for i := range full {
		full[i] = float64(i)
	}

	first, err := jl.Split(full, 0)
	require.NoError(t, err)
	second, err := jl.Split(full, 1)
	require.NoError(t, err)
	require.Len(t, first, FullLength(1))
	require.Len(t, second, FullLength(1))

	// Sources are shared.
	assert.Equal(t, []float64{0, 1, 2}, first[:3])
	assert.Equal(t, []float64{0, 1, 2}, second[:3])
	// Part 1 owns the first nuisance block, including the shared background.
	for j := 0; j < numNuisance; j++ {
		assert.Equal(t, float64(3+j), first[3+j])
	}
	// Part 2 has its own block except for the background.
	assert.Equal(t, float64(3+numNuisance), second[3+offAlphaBH])
	assert.Equal(t, first[3+offFBG], second[3+offFBG])
	assert.Equal(t, float64(3+numNuisance+1), second[3+offAlphaBG])
	assert.Equal(t, float64(len(full)-1), second[len(second)-1])

	// The initial joint vector splits into the single-unit initial vector.
	initial, err := jl.Split(jl.Layout().Initial(), 1)
	require.NoError(t, err)
	assert.Equal(t, jl.Base().Initial(), initial)

	_, err = jl.Split(full[:4], 0)
	assert.ErrorIs(t, err, fiterr.ErrInvalidConfiguration)
	_, err = jl.Split(full, 2)
	assert.ErrorIs(t, err, fiterr.ErrInvalidConfiguration)
}

func TestBuildJointLayoutErrors(t *testing.T) {
	sources := []Source{{RA: 4, DEC: -2, FluxRatio: 0.2}}
	_, err := BuildJointLayout(sources, FitFlags{}, 0, JointFlags{})
	assert.ErrorIs(t, err, fiterr.ErrInvalidConfiguration)

	_, err = BuildJointLayout(sources, FitFlags{FitPos: []bool{true, false}}, 2, JointFlags{})
	assert.ErrorIs(t, err, fiterr.ErrInvalidConfiguration)
}
