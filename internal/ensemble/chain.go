package ensemble

// Chain holds the walker positions and log probabilities of every step.
type Chain struct {
	steps, walkers, dim int
	samples             [][]float64 // step*walkers + walker
	logProb             []float64
	accepted            []int
}

func newChain(steps, walkers, dim int) *Chain {
	return &Chain{
		steps:    steps,
		walkers:  walkers,
		dim:      dim,
		samples:  make([][]float64, steps*walkers),
		logProb:  make([]float64, steps*walkers),
		accepted: make([]int, walkers),
	}
}

func (c *Chain) record(step int, pos [][]float64, lp []float64) {
	for w := range pos {
		i := step*c.walkers + w
		c.samples[i] = append([]float64(nil), pos[w]...)
		c.logProb[i] = lp[w]
	}
}

// Steps returns the number of recorded steps.
func (c *Chain) Steps() int { return c.steps }

// Walkers returns the ensemble size.
func (c *Chain) Walkers() int { return c.walkers }

// Dim returns the dimension of each sample.
func (c *Chain) Dim() int { return c.dim }

// At returns the position of walker w after step. The slice must not be
// modified.
func (c *Chain) At(step, w int) []float64 { return c.samples[step*c.walkers+w] }

// LogProbAt returns the log probability of walker w after step.
func (c *Chain) LogProbAt(step, w int) float64 { return c.logProb[step*c.walkers+w] }

// Flat returns all samples from step discard on, walkers of one step
// adjacent, with their log probabilities. The slices must not be modified.
func (c *Chain) Flat(discard int) ([][]float64, []float64) {
	discard = min(max(discard, 0), c.steps)
	from := discard * c.walkers
	return c.samples[from:], c.logProb[from:]
}

// AcceptanceFraction returns the fraction of accepted proposals per walker.
func (c *Chain) AcceptanceFraction() []float64 {
	out := make([]float64, c.walkers)
	for w, n := range c.accepted {
		out[w] = float64(n) / float64(c.steps)
	}
	return out
}

func (c *Chain) meanAcceptance(steps int) float64 {
	total := 0
	for _, n := range c.accepted {
		total += n
	}
	return float64(total) / float64(steps*c.walkers)
}
