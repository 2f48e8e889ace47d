package steps

import (
	"fmt"
	"math"
)

// SmoothingMethod selects the filter applied before change-point detection.
type SmoothingMethod string

const (
	SmoothNone          SmoothingMethod = "none"
	SmoothSavitzkyGolay SmoothingMethod = "savitzky-golay"
	SmoothBoxcar        SmoothingMethod = "boxcar"
	SmoothCubicSpline   SmoothingMethod = "cubic-spline"
	SmoothMedian        SmoothingMethod = "median"
)

// ParseSmoothingMethod accepts the canonical names plus the labels used by
// the original analysis tool ("Savitzky-Golay", "SG", "Boxcar", "Cubic Spline").
func ParseSmoothingMethod(s string) (SmoothingMethod, error) {
	switch s {
	case "", "none", "None":
		return SmoothNone, nil
	case "savitzky-golay", "Savitzky-Golay", "sg", "SG":
		return SmoothSavitzkyGolay, nil
	case "boxcar", "Boxcar":
		return SmoothBoxcar, nil
	case "cubic-spline", "Cubic Spline", "spline":
		return SmoothCubicSpline, nil
	case "median", "Median":
		return SmoothMedian, nil
	}
	return "", fmt.Errorf("%w: unknown smoothing method %q", ErrInvalidParameter, s)
}

// DetectionMethod selects the change-point detector.
type DetectionMethod string

const (
	DetectTTest DetectionMethod = "ttest"
	DetectPELT  DetectionMethod = "pelt"
)

// TestKind selects the two-sample t statistic.
type TestKind string

const (
	TestWelch   TestKind = "welch"
	TestStudent TestKind = "student"
)

// FitData selects which trace the fitter optimizes against.
type FitData string

const (
	FitRaw      FitData = "raw"
	FitSmoothed FitData = "smoothed"
)

// WindowSpec is an odd window length used by smoothing and detection.
type WindowSpec struct {
	Size  int     `json:"size"`
	Score float64 `json:"score"`
}

// ChangePoint is a candidate step boundary proposed by a detector.
type ChangePoint struct {
	Index     int     `json:"index"`
	PValue    float64 `json:"p_value"`
	Statistic float64 `json:"statistic"`
	LeftMean  float64 `json:"left_mean"`
	RightMean float64 `json:"right_mean"`
}

// Height is the difference of the two window means compared at the boundary.
func (c ChangePoint) Height() float64 {
	return c.RightMean - c.LeftMean
}

// Step is one dwell of the fitted partition. End is exclusive.
type Step struct {
	Start    int     `json:"start"`
	End      int     `json:"end"`
	Level    float64 `json:"level"`
	Height   float64 `json:"height"`
	Dwell    float64 `json:"dwell"`
	Position float64 `json:"position"`
}

// Len returns the number of samples in the step.
func (s Step) Len() int {
	return s.End - s.Start
}

// FitResult is the outcome of one fitter stage. A FitResult is never modified
// after it is returned; refinement produces a new one.
type FitResult struct {
	Stage       int       `json:"stage"`
	Budget      int       `json:"budget"`
	Steps       []Step    `json:"steps"`
	Levels      []float64 `json:"levels"`
	Boundaries  []float64 `json:"boundaries"`
	Objective   float64   `json:"objective"`
	RMS         float64   `json:"rms"`
	Iterations  int       `json:"iterations"`
	Evaluations int       `json:"evaluations"`
	Converged   bool      `json:"converged"`
	Complete    bool      `json:"complete"`
	Empty       bool      `json:"empty"`
}

// FitRun holds every stage of a staged fit. Final is the last good stage.
type FitRun struct {
	Stages   []*FitResult `json:"stages"`
	Final    *FitResult   `json:"final"`
	Diverged bool         `json:"diverged"`
}

// Config is the analysis configuration bundle.
type Config struct {
	DT              float64         `json:"dt"`
	DetectionWindow int             `json:"detection_window"`
	MinP            float64         `json:"min_p_threshold"`
	MaxP            float64         `json:"max_p_threshold"`
	Exclusion       float64         `json:"exclusion"`
	FrontPad        int             `json:"front_pad"`
	BackPad         int             `json:"back_pad"`
	SmoothingMethod SmoothingMethod `json:"smoothing_method"`
	SmoothingWindow int             `json:"smoothing_window"`
	SmoothingOrder  int             `json:"smoothing_order"`
	FitData         FitData         `json:"fit_data"`

	DetectionMethod DetectionMethod `json:"detection_method"`
	Test            TestKind        `json:"test"`
	OneSided        bool            `json:"one_sided"`
	PELTPenalty     float64         `json:"pelt_penalty"`

	// Schedule lists the iteration budget of each refinement pass. The last
	// pass produces the complete result.
	Schedule            []int   `json:"schedule"`
	DivergenceTolerance float64 `json:"divergence_tolerance"`
	EdgeWidth           float64 `json:"edge_width"`
	BoundaryScale       float64 `json:"boundary_scale"`

	BaselineMode BaselineMode `json:"baseline_mode"`
	Baseline     float64      `json:"baseline"`
	UnitsPerTurn float64      `json:"units_per_turn"`
}

// BaselineMode selects the level the first step height is measured from.
type BaselineMode string

const (
	// BaselineFirstLevel measures from the first fitted level, so the first
	// step always has zero height.
	BaselineFirstLevel BaselineMode = "first-level"
	// BaselineFixed measures from Config.Baseline.
	BaselineFixed BaselineMode = "fixed"
)

func baselineFor(mode BaselineMode, fixed, firstLevel float64) float64 {
	if mode == BaselineFixed {
		return fixed
	}
	return firstLevel
}

// DefaultSchedule reproduces the reference refit loop: 1500 iterations, then
// i*2000 for passes 2..9, then a final pass.
func DefaultSchedule() []int {
	schedule := []int{1500}
	for i := 2; i <= 9; i++ {
		schedule = append(schedule, i*2000)
	}
	return append(schedule, 20000)
}

// DefaultConfig returns the defaults used when a value is not configured.
func DefaultConfig() Config {
	return Config{
		DT:                  1,
		DetectionWindow:     20,
		MinP:                0,
		MaxP:                0.05,
		Exclusion:           0,
		SmoothingMethod:     SmoothNone,
		SmoothingOrder:      4,
		FitData:             FitRaw,
		DetectionMethod:     DetectTTest,
		Test:                TestWelch,
		Schedule:            DefaultSchedule(),
		DivergenceTolerance: 1e-6,
		EdgeWidth:           0.25,
		BoundaryScale:       2,
		BaselineMode:        BaselineFirstLevel,
		UnitsPerTurn:        1,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidParameter}, args...)...)
}

// Validate checks the configuration without looking at any trace.
func (c Config) Validate() error {
	if !(c.DT > 0) || math.IsInf(c.DT, 0) {
		return invalid("dt must be positive, got %v", c.DT)
	}
	if c.DetectionWindow < 1 {
		return invalid("detection window must be positive, got %d", c.DetectionWindow)
	}
	if !(c.MinP >= 0 && c.MinP <= 1) || !(c.MaxP >= 0 && c.MaxP <= 1) {
		return invalid("p thresholds must lie in [0,1], got min=%v max=%v", c.MinP, c.MaxP)
	}
	if c.MinP > c.MaxP {
		return invalid("min_p_threshold %v exceeds max_p_threshold %v", c.MinP, c.MaxP)
	}
	if !(c.Exclusion >= 0) || !finite(c.Exclusion) {
		return invalid("exclusion must be non-negative, got %v", c.Exclusion)
	}
	if c.FrontPad < 0 || c.BackPad < 0 {
		return invalid("padding must be non-negative, got front=%d back=%d", c.FrontPad, c.BackPad)
	}
	if _, err := ParseSmoothingMethod(string(c.SmoothingMethod)); err != nil {
		return err
	}
	if c.SmoothingMethod != SmoothNone && c.SmoothingMethod != "" {
		if err := checkSmoothingParams(c.SmoothingMethod, c.SmoothingWindow, c.SmoothingOrder); err != nil {
			return err
		}
	}
	switch c.FitData {
	case "", FitRaw, FitSmoothed:
	default:
		return invalid("unknown fit data %q", c.FitData)
	}
	switch c.DetectionMethod {
	case "", DetectTTest, DetectPELT:
	default:
		return invalid("unknown detection method %q", c.DetectionMethod)
	}
	switch c.Test {
	case "", TestWelch, TestStudent:
	default:
		return invalid("unknown test %q", c.Test)
	}
	if !(c.PELTPenalty >= 0) || !finite(c.PELTPenalty) {
		return invalid("pelt penalty must be non-negative, got %v", c.PELTPenalty)
	}
	if len(c.Schedule) == 0 {
		return invalid("fit schedule must contain at least one pass")
	}
	for i, budget := range c.Schedule {
		if budget <= 0 {
			return invalid("fit schedule pass %d has non-positive budget %d", i+1, budget)
		}
	}
	if !(c.DivergenceTolerance >= 0) || !finite(c.DivergenceTolerance) {
		return invalid("divergence tolerance must be non-negative")
	}
	if !(c.EdgeWidth > 0) || !(c.BoundaryScale > 0) || !finite(c.EdgeWidth) || !finite(c.BoundaryScale) {
		return invalid("edge width and boundary scale must be positive")
	}
	switch c.BaselineMode {
	case "", BaselineFirstLevel, BaselineFixed:
	default:
		return invalid("unknown baseline mode %q", c.BaselineMode)
	}
	if !finite(c.Baseline) {
		return invalid("baseline must be finite, got %v", c.Baseline)
	}
	if c.UnitsPerTurn == 0 || !finite(c.UnitsPerTurn) {
		return invalid("units per turn must be finite and non-zero, got %v", c.UnitsPerTurn)
	}
	return nil
}

func checkSmoothingParams(method SmoothingMethod, window, order int) error {
	switch method {
	case SmoothSavitzkyGolay:
		if window < 3 || window%2 == 0 {
			return invalid("savitzky-golay window must be odd and >= 3, got %d", window)
		}
		if order < 0 || order >= window {
			return invalid("savitzky-golay order %d must be in [0, window)", order)
		}
	case SmoothBoxcar, SmoothMedian:
		if window < 1 || window%2 == 0 {
			return invalid("%s window must be a positive odd number, got %d", method, window)
		}
	case SmoothCubicSpline:
		if window < 2 {
			return invalid("cubic-spline knot spacing must be >= 2, got %d", window)
		}
	}
	return nil
}
