package steps

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// stepModel evaluates y(t) = base + sum_j h_j * logistic((t + 0.5 - b_j) / edge)
// against a fixed trace. Each logistic is evaluated only within cut samples
// of its boundary; beyond that it is treated as exactly 0 or 1.
type stepModel struct {
	trace []float64
	edge  float64
	cut   int
	out   []float64
	delta []float64
}

func newStepModel(trace []float64, edge float64) *stepModel {
	return &stepModel{
		trace: trace,
		edge:  edge,
		cut:   int(math.Ceil(20*edge)) + 1,
		out:   make([]float64, len(trace)),
		delta: make([]float64, len(trace)+1),
	}
}

func (m *stepModel) evaluate(base float64, heights, bounds []float64) []float64 {
	n := len(m.trace)
	clear(m.out)
	clear(m.delta)

	for j, b := range bounds {
		h := heights[j]
		b = math.Max(-1, math.Min(float64(n)+1, b))
		lo := max(int(math.Floor(b))-m.cut, 0)
		hi := min(int(math.Ceil(b))+m.cut, n)
		if lo > n {
			lo = n
		}
		for t := lo; t < hi; t++ {
			m.out[t] += h * logistic((float64(t)+0.5-b)/m.edge)
		}
		if hi < n {
			m.delta[max(hi, 0)] += h
		}
	}

	running := 0.0
	for t := 0; t < n; t++ {
		running += m.delta[t]
		m.out[t] += base + running
	}
	return m.out
}

// sse is the least-squares objective.
func (m *stepModel) sse(base float64, heights, bounds []float64) float64 {
	d := floats.Distance(m.trace, m.evaluate(base, heights, bounds), 2)
	return d * d
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// sortBoundaries orders boundaries ascending, carrying each height with its
// boundary, and returns the cumulative levels starting at base.
func sortBoundaries(base float64, heights, bounds []float64) (levels, sorted []float64) {
	idx := make([]int, len(bounds))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return bounds[idx[a]] < bounds[idx[b]] })

	levels = make([]float64, len(bounds)+1)
	sorted = make([]float64, len(bounds))
	levels[0] = base
	for k, i := range idx {
		sorted[k] = bounds[i]
		levels[k+1] = levels[k] + heights[i]
	}
	return levels, sorted
}

// partition turns continuous boundaries into an exact partition of [0, n).
// Boundaries that round onto an earlier boundary or outside (0, n) collapse
// the empty segment between them.
func partition(levels, bounds []float64, n int, dt, baseline float64) []Step {
	var steps []Step
	start := 0
	level := levels[0]
	for j, b := range bounds {
		e := int(math.Round(b))
		if e >= n {
			break
		}
		if e > start {
			steps = append(steps, Step{Start: start, End: e, Level: level})
			start = e
		}
		level = levels[j+1]
	}
	steps = append(steps, Step{Start: start, End: n, Level: level})

	prev := baseline
	for i := range steps {
		s := &steps[i]
		s.Height = s.Level - prev
		s.Dwell = float64(s.Len()) * dt
		s.Position = float64(s.Start) * dt
		prev = s.Level
	}
	return steps
}
