package steps

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PELTDetector finds the exact penalized least-squares segmentation using the
// PELT recursion with an L2 mean-shift cost.
type PELTDetector struct {
	MinSize   int
	Penalty   float64
	Exclusion float64
	Test      TestKind

	sum   []float64
	sumSq []float64
}

// NewPELTDetector builds a PELT detector. Segments are at least one detection
// window long. A zero penalty selects 2*sigma^2*ln(n) at fit time.
func NewPELTDetector(cfg Config) *PELTDetector {
	return &PELTDetector{
		MinSize:   max(cfg.DetectionWindow, 1),
		Penalty:   cfg.PELTPenalty,
		Exclusion: cfg.Exclusion,
		Test:      cfg.Test,
	}
}

// fit precomputes prefix sums for O(1) segment costs.
func (p *PELTDetector) fit(signal []float64) {
	n := len(signal)
	p.sum = make([]float64, n+1)
	p.sumSq = make([]float64, n+1)
	sq := make([]float64, n)
	floats.MulTo(sq, signal, signal)
	floats.CumSum(p.sum[1:], signal)
	floats.CumSum(p.sumSq[1:], sq)
}

// cost is the residual sum of squares of signal[start:end] around its mean.
func (p *PELTDetector) cost(start, end int) float64 {
	length := float64(end - start)
	s := p.sum[end] - p.sum[start]
	c := p.sumSq[end] - p.sumSq[start] - s*s/length
	if c < 0 {
		return 0
	}
	return c
}

// Breakpoints returns the interior boundaries of the optimal segmentation in
// ascending order.
func (p *PELTDetector) Breakpoints(signal []float64, penalty float64) []int {
	n := len(signal)
	if n < 2*p.MinSize {
		return nil
	}
	p.fit(signal)

	best := make([]float64, n+1)
	last := make([]int, n+1)
	best[0] = -penalty
	admissible := []int{0}

	for t := p.MinSize; t <= n; t++ {
		minCost := math.Inf(1)
		argMin := -1
		for _, s := range admissible {
			if t-s < p.MinSize {
				continue
			}
			c := best[s] + p.cost(s, t) + penalty
			if c < minCost {
				minCost = c
				argMin = s
			}
		}
		if argMin < 0 {
			best[t] = math.Inf(1)
			continue
		}
		best[t] = minCost
		last[t] = argMin

		// Prune points that can never be optimal again.
		pruned := admissible[:0]
		for _, s := range admissible {
			if t-s < p.MinSize || best[s]+p.cost(s, t) <= minCost {
				pruned = append(pruned, s)
			}
		}
		admissible = append(pruned, t)
	}

	var bkps []int
	for t := n; t > 0; {
		s := last[t]
		if s > 0 {
			bkps = append(bkps, s)
		}
		t = s
	}
	sort.Ints(bkps)
	return bkps
}

// Detect converts the optimal breakpoints into change points. Each candidate
// carries a t test between the adjacent segments, limited to MinSize samples
// on each side.
func (p *PELTDetector) Detect(trace []float64) ([]ChangePoint, error) {
	if p.MinSize > len(trace) {
		return nil, invalid("detection window %d exceeds trace length %d", p.MinSize, len(trace))
	}
	penalty := p.Penalty
	if penalty == 0 {
		sigma := NoiseSigma(trace)
		penalty = math.Max(2*sigma*sigma*math.Log(float64(len(trace))), 1e-9)
	}

	bkps := p.Breakpoints(trace, penalty)
	cps := make([]ChangePoint, 0, len(bkps))
	for i, b := range bkps {
		lo, hi := 0, len(trace)
		if i > 0 {
			lo = bkps[i-1]
		}
		if i+1 < len(bkps) {
			hi = bkps[i+1]
		}
		lo = max(lo, b-p.MinSize)
		hi = min(hi, b+p.MinSize)
		res := TwoSampleTTest(trace[lo:b], trace[b:hi], p.Test, false)
		cps = append(cps, ChangePoint{
			Index:     b,
			PValue:    res.PValue,
			Statistic: res.Statistic,
			LeftMean:  res.LeftMean,
			RightMean: res.RightMean,
		})
	}
	return excludeSmall(cps, p.Exclusion), nil
}

// NoiseSigma estimates the white-noise standard deviation from the median
// absolute deviation of first differences, which is insensitive to steps.
func NoiseSigma(trace []float64) float64 {
	if len(trace) < 3 {
		return 0
	}
	diffs := make([]float64, len(trace)-1)
	for i := range diffs {
		diffs[i] = trace[i+1] - trace[i]
	}
	med := median(diffs)
	for i, d := range diffs {
		diffs[i] = math.Abs(d - med)
	}
	return 1.4826 * median(diffs) / math.Sqrt2
}

func median(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
