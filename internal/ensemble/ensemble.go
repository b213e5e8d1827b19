// Package ensemble implements an affine-invariant ensemble sampler using
// the stretch move, evaluating proposals on a bounded worker pool.
package ensemble

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/gravfit/internal/fiterr"
)

// DefaultStretchScale is the stretch-move scale parameter a.
const DefaultStretchScale = 2.0

// LogProbFunc is the target density. It must be safe for concurrent use.
type LogProbFunc func(p []float64) float64

// Config configures a sampler run.
type Config struct {
	Walkers int
	Steps   int
	// Threads bounds the number of concurrent evaluations. Zero uses
	// GOMAXPROCS.
	Threads      int
	StretchScale float64
	Seed         uint64
}

// Progress is reported after every step.
type Progress struct {
	Step       int
	Steps      int
	Acceptance float64
	MaxLogProb float64
}

// Sampler draws a chain from a log-probability function.
type Sampler interface {
	Run(ctx context.Context, fn LogProbFunc, initial [][]float64) (*Chain, error)
}

// Option configures a StretchSampler.
type Option func(*StretchSampler)

// WithProgress registers a callback invoked after every step from the
// goroutine calling Run.
func WithProgress(fn func(Progress)) Option {
	return func(s *StretchSampler) { s.progress = fn }
}

// StretchSampler is the Goodman and Weare stretch-move sampler with the
// walkers split into two halves that are updated in turn.
type StretchSampler struct {
	cfg      Config
	progress func(Progress)
}

var _ Sampler = (*StretchSampler)(nil)

// New validates cfg and returns a sampler.
func New(cfg Config, opts ...Option) (*StretchSampler, error) {
	if cfg.Walkers < 2 || cfg.Walkers%2 != 0 {
		return nil, fiterr.Invalid("ensemble.New", "walker count %d must be even and at least 2", cfg.Walkers)
	}
	if cfg.Steps < 1 {
		return nil, fiterr.Invalid("ensemble.New", "step count %d must be positive", cfg.Steps)
	}
	if cfg.Threads < 0 {
		return nil, fiterr.Invalid("ensemble.New", "thread count %d is negative", cfg.Threads)
	}
	if cfg.Threads == 0 {
		cfg.Threads = runtime.GOMAXPROCS(0)
	}
	if cfg.StretchScale == 0 {
		cfg.StretchScale = DefaultStretchScale
	}
	if cfg.StretchScale <= 1 {
		return nil, fiterr.Invalid("ensemble.New", "stretch scale %g must exceed 1", cfg.StretchScale)
	}
	s := &StretchSampler{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *StretchSampler) Config() Config { return s.cfg }

// Run advances the ensemble from initial for the configured number of
// steps. Random draws happen on the calling goroutine so a seed yields the
// same chain for any thread count.
func (s *StretchSampler) Run(ctx context.Context, fn LogProbFunc, initial [][]float64) (*Chain, error) {
	nw := s.cfg.Walkers
	if len(initial) != nw {
		return nil, fiterr.Invalid("ensemble.Run", "%d initial positions for %d walkers", len(initial), nw)
	}
	dim := len(initial[0])
	if dim == 0 {
		return nil, fiterr.Invalid("ensemble.Run", "no free parameters")
	}
	if nw < 2*dim {
		return nil, fiterr.Invalid("ensemble.Run", "%d walkers for %d dimensions, need at least %d", nw, dim, 2*dim)
	}
	pos := make([][]float64, nw)
	for i, p := range initial {
		if len(p) != dim {
			return nil, fiterr.Invalid("ensemble.Run", "walker %d has %d coordinates, want %d", i, len(p), dim)
		}
		pos[i] = append([]float64(nil), p...)
	}

	lp := make([]float64, nw)
	if err := s.evaluate(ctx, fn, pos, lp); err != nil {
		return nil, err
	}
	for i, v := range lp {
		if math.IsInf(v, -1) || math.IsNaN(v) {
			return nil, fiterr.Invalid("ensemble.Run", "walker %d starts with log probability %g", i, v)
		}
	}

	rng := rand.New(rand.NewPCG(s.cfg.Seed, s.cfg.Seed^0x9e3779b97f4a7c15))
	chain := newChain(s.cfg.Steps, nw, dim)
	a := s.cfg.StretchScale
	half := nw / 2
	prop := make([][]float64, half)
	for i := range prop {
		prop[i] = make([]float64, dim)
	}
	z := make([]float64, half)
	plp := make([]float64, half)

	for step := 0; step < s.cfg.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sampler stopped at step %d: %w", step, err)
		}
		start := time.Now()
		for set := 0; set < 2; set++ {
			own, other := set*half, (1-set)*half
			for k := 0; k < half; k++ {
				j := other + rng.IntN(half)
				z[k] = math.Pow((a-1)*rng.Float64()+1, 2) / a
				xk, xj := pos[own+k], pos[j]
				for d := range prop[k] {
					prop[k][d] = xj[d] + z[k]*(xk[d]-xj[d])
				}
			}
			if err := s.evaluate(ctx, fn, prop, plp); err != nil {
				return nil, err
			}
			for k := 0; k < half; k++ {
				w := own + k
				logR := float64(dim-1)*math.Log(z[k]) + plp[k] - lp[w]
				if math.Log(rng.Float64()) < logR {
					copy(pos[w], prop[k])
					lp[w] = plp[k]
					chain.accepted[w]++
					ProposalsTotal.WithLabelValues("accepted").Inc()
				} else {
					ProposalsTotal.WithLabelValues("rejected").Inc()
				}
			}
		}
		chain.record(step, pos, lp)
		StepsTotal.Inc()
		StepDuration.Observe(time.Since(start).Seconds())
		if s.progress != nil {
			s.progress(Progress{
				Step:       step + 1,
				Steps:      s.cfg.Steps,
				Acceptance: chain.meanAcceptance(step + 1),
				MaxLogProb: maxOf(lp),
			})
		}
	}
	AcceptanceFraction.Set(chain.meanAcceptance(s.cfg.Steps))
	return chain, nil
}

// evaluate fills out with fn at every point using at most Threads workers.
func (s *StretchSampler) evaluate(ctx context.Context, fn LogProbFunc, pts [][]float64, out []float64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Threads)
	for i := range pts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = fn(pts[i])
			return nil
		})
	}
	EvaluationsTotal.Add(float64(len(pts)))
	if err := g.Wait(); err != nil {
		return fmt.Errorf("evaluating log probability: %w", err)
	}
	return nil
}

func maxOf(x []float64) float64 {
	m := math.Inf(-1)
	for _, v := range x {
		if v > m {
			m = v
		}
	}
	return m
}
