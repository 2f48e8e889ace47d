package steps

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// Fitter refines a piecewise step model against a trace in staged passes,
// each warm-started from the previous pass.
type Fitter struct {
	cfg    Config
	logger *zap.SugaredLogger
}

// NewFitter creates a fitter. The logger may be nil.
func NewFitter(cfg Config, logger *zap.SugaredLogger) *Fitter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Fitter{cfg: cfg, logger: logger}
}

// Seed builds the stage-0 model: boundaries at the candidate indices and
// levels at the segment means. No optimization is performed.
func (f *Fitter) Seed(trace []float64, cps []ChangePoint) (*FitResult, error) {
	n := len(trace)
	if n == 0 {
		return nil, invalid("cannot fit an empty trace")
	}

	var bounds []float64
	last := 0
	for _, cp := range cps {
		if cp.Index <= last || cp.Index >= n {
			continue
		}
		bounds = append(bounds, float64(cp.Index))
		last = cp.Index
	}

	levels := make([]float64, len(bounds)+1)
	start := 0
	for j := range levels {
		end := n
		if j < len(bounds) {
			end = int(bounds[j])
		}
		levels[j] = stat.Mean(trace[start:end], nil)
		start = end
	}

	heights := levelDeltas(levels)
	objective := newStepModel(trace, f.cfg.EdgeWidth).sse(levels[0], heights, bounds)
	return f.result(trace, 0, 0, levels, bounds, objective), nil
}

// Refine runs one optimizer pass of at most budget iterations starting from
// prev's levels and boundaries, and returns a new FitResult. prev is not modified.
func (f *Fitter) Refine(trace []float64, prev *FitResult, budget int) (*FitResult, error) {
	if prev == nil {
		return nil, invalid("refine requires a previous fit")
	}
	if budget <= 0 {
		return nil, invalid("iteration budget must be positive, got %d", budget)
	}
	if len(prev.Levels) != len(prev.Boundaries)+1 {
		return nil, invalid("previous fit has %d levels for %d boundaries", len(prev.Levels), len(prev.Boundaries))
	}
	k := len(prev.Boundaries)
	model := newStepModel(trace, f.cfg.EdgeWidth)

	base0 := prev.Levels[0]
	heights0 := levelDeltas(prev.Levels)
	bounds0 := prev.Boundaries

	sy := levelScale(trace)
	sx := f.cfg.BoundaryScale
	heights := make([]float64, k)
	bounds := make([]float64, k)
	decode := func(x []float64) float64 {
		for j := 0; j < k; j++ {
			heights[j] = heights0[j] + sy*x[1+j]
			bounds[j] = bounds0[j] + sx*x[1+k+j]
		}
		return base0 + sy*x[0]
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			base := decode(x)
			return model.sse(base, heights, bounds)
		},
	}
	settings := &optimize.Settings{
		MajorIterations: budget,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-12,
			Iterations: 200,
		},
	}

	res, err := optimize.Minimize(problem, make([]float64, 1+2*k), settings, &optimize.NelderMead{SimplexSize: 0.5})
	if res == nil {
		return nil, fmt.Errorf("%w: stage %d: %v", ErrFitDivergence, prev.Stage+1, err)
	}
	if err != nil {
		f.logger.Debugf("stage %d optimizer stopped with %v: %v", prev.Stage+1, res.Status, err)
	}
	if !finite(res.F) {
		return nil, fmt.Errorf("%w: stage %d objective is %v", ErrFitDivergence, prev.Stage+1, res.F)
	}

	base := decode(res.X)
	levels, sorted := sortBoundaries(base, heights, bounds)

	out := f.result(trace, prev.Stage+1, budget, levels, sorted, res.F)
	out.Iterations = res.Stats.MajorIterations
	out.Evaluations = res.Stats.FuncEvaluations
	switch res.Status {
	case optimize.Success, optimize.FunctionConvergence, optimize.MethodConverge, optimize.StepConvergence:
		out.Converged = true
	}

	f.logger.Debugf("stage %d: budget=%d iterations=%d evals=%d status=%v objective=%.6g -> %.6g",
		out.Stage, budget, out.Iterations, out.Evaluations, res.Status, prev.Objective, out.Objective)
	return out, nil
}

// Fit seeds the model from cps and runs one refinement pass per schedule
// entry. On divergence the run keeps the last good stage as Final and the
// returned error wraps ErrFitDivergence.
func (f *Fitter) Fit(trace []float64, cps []ChangePoint) (*FitRun, error) {
	seed, err := f.Seed(trace, cps)
	if err != nil {
		return nil, err
	}
	run := &FitRun{Stages: []*FitResult{seed}, Final: seed}

	if len(seed.Boundaries) == 0 {
		// The segment mean is already the least-squares optimum.
		final := *seed
		final.Complete = true
		final.Converged = true
		run.Stages = append(run.Stages, &final)
		run.Final = &final
		f.logger.Debugf("no change points; fitted a single level %.6g", final.Levels[0])
		return run, nil
	}

	for i, budget := range f.cfg.Schedule {
		prev := run.Final
		next, err := f.Refine(trace, prev, budget)
		if err == nil && next.Objective > prev.Objective+f.cfg.DivergenceTolerance*math.Abs(prev.Objective)+1e-12 {
			err = fmt.Errorf("%w: stage %d objective rose from %.6g to %.6g",
				ErrFitDivergence, prev.Stage+1, prev.Objective, next.Objective)
		}
		if err != nil {
			run.Diverged = true
			f.logger.Warnf("fit diverged at stage %d, keeping stage %d: %v", prev.Stage+1, prev.Stage, err)
			return run, err
		}
		if i == len(f.cfg.Schedule)-1 {
			next.Complete = true
		}
		run.Stages = append(run.Stages, next)
		run.Final = next
	}
	return run, nil
}

func (f *Fitter) result(trace []float64, stage, budget int, levels, bounds []float64, objective float64) *FitResult {
	n := len(trace)
	return &FitResult{
		Stage:      stage,
		Budget:     budget,
		Steps:      partition(levels, bounds, n, f.cfg.DT, baselineFor(f.cfg.BaselineMode, f.cfg.Baseline, levels[0])),
		Levels:     levels,
		Boundaries: bounds,
		Objective:  objective,
		RMS:        math.Sqrt(objective / float64(n)),
		Empty:      len(bounds) == 0,
	}
}

func levelDeltas(levels []float64) []float64 {
	heights := make([]float64, len(levels)-1)
	for j := range heights {
		heights[j] = levels[j+1] - levels[j]
	}
	return heights
}

// levelScale is the optimizer's unit for levels: half the robust noise
// estimate, falling back to a fraction of the trace spread for clean data.
func levelScale(trace []float64) float64 {
	if s := NoiseSigma(trace); s > 0 {
		return s / 2
	}
	if sd := stat.StdDev(trace, nil); sd > 0 && finite(sd) {
		return sd / 100
	}
	return 1e-3
}
