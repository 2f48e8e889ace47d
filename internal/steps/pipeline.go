package steps

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Analysis is everything produced for one trace.
type Analysis struct {
	Config       Config        `json:"config"`
	Padded       []float64     `json:"padded"`
	Smoothed     []float64     `json:"smoothed"`
	ChangePoints []ChangePoint `json:"change_points"`
	Run          *FitRun       `json:"run,omitempty"`
	Table        Table         `json:"table"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// Final returns the last good fit, or nil before fitting.
func (a *Analysis) Final() *FitResult {
	if a == nil || a.Run == nil {
		return nil
	}
	return a.Run.Final
}

// Analyzer runs the full pipeline: pad, smooth, detect, fit, aggregate.
type Analyzer struct {
	cfg    Config
	logger *zap.SugaredLogger
}

// NewAnalyzer validates cfg and returns an analyzer. Zero-valued enum fields
// fall back to their defaults.
func NewAnalyzer(cfg Config, logger *zap.SugaredLogger) (*Analyzer, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.SmoothingMethod == "" {
		cfg.SmoothingMethod = SmoothNone
	}
	if cfg.FitData == "" {
		cfg.FitData = FitRaw
	}
	if cfg.DetectionMethod == "" {
		cfg.DetectionMethod = DetectTTest
	}
	if cfg.Test == "" {
		cfg.Test = TestWelch
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{cfg: cfg, logger: logger}, nil
}

// Config returns the effective configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Analyze processes one trace. If the staged fit diverges the partial
// analysis is returned together with an error wrapping ErrFitDivergence; its
// table is built from the last good stage.
func (a *Analyzer) Analyze(trace []float64) (*Analysis, error) {
	cfg := a.cfg
	if len(trace) == 0 {
		return nil, invalid("trace is empty")
	}
	for i, v := range trace {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, invalid("sample %d is not finite (%v)", i, v)
		}
	}

	padded, err := Pad(trace, cfg.FrontPad, cfg.BackPad)
	if err != nil {
		return nil, err
	}
	if cfg.DetectionWindow > len(padded) {
		return nil, invalid("detection window %d exceeds trace length %d", cfg.DetectionWindow, len(padded))
	}

	smoothed, err := Smooth(padded, cfg.SmoothingMethod, cfg.SmoothingWindow, cfg.SmoothingOrder)
	if err != nil {
		return nil, fmt.Errorf("smoothing: %w", err)
	}

	an := &Analysis{Config: cfg, Padded: padded, Smoothed: smoothed}

	cps, err := NewDetector(cfg).Detect(smoothed)
	if err != nil {
		return nil, fmt.Errorf("detection: %w", err)
	}
	an.ChangePoints = cps
	a.logger.Debugf("%s detector proposed %d change points over %d samples", cfg.DetectionMethod, len(cps), len(padded))

	target := padded
	if cfg.FitData == FitSmoothed {
		target = smoothed
	}
	run, fitErr := NewFitter(cfg, a.logger).Fit(target, cps)
	if run == nil {
		return nil, fmt.Errorf("fitting: %w", fitErr)
	}
	an.Run = run
	if run.Final.Empty {
		an.Warnings = append(an.Warnings, ErrEmptyModel.Error())
	}
	an.Table = Aggregate(run.Final, len(padded), MetricsConfigFrom(cfg))

	if fitErr != nil {
		if errors.Is(fitErr, ErrFitDivergence) {
			an.Warnings = append(an.Warnings, fmt.Sprintf("result is from stage %d: %v", run.Final.Stage, fitErr))
		}
		return an, fitErr
	}
	return an, nil
}
