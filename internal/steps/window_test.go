package steps

import (
	"errors"
	"math"
	"testing"
)

func TestSelectDetectionWindow(t *testing.T) {
	trace := staircaseTrace(t)
	search := WindowSearch{Min: 5, Max: 41, Tolerance: 1e-6}

	sel, err := SelectDetectionWindow(trace, detectorConfig(), search)
	if err != nil {
		t.Fatal(err)
	}
	if len(sel.Candidates) != len(oddRange(5, 41)) {
		t.Fatalf("scored %d windows, want %d", len(sel.Candidates), len(oddRange(5, 41)))
	}
	if sel.Window != sel.ByBIC {
		t.Errorf("Window = %d, want the BIC choice %d", sel.Window, sel.ByBIC)
	}

	bestBIC := math.Inf(1)
	for _, c := range sel.Candidates {
		if c.Window%2 == 0 {
			t.Errorf("even candidate window %d", c.Window)
		}
		if math.Abs(c.Average-(c.AIC+c.BIC)/2) > 1e-9 {
			t.Errorf("window %d average %v is not the mean of AIC and BIC", c.Window, c.Average)
		}
		bestBIC = math.Min(bestBIC, c.BIC)
	}
	for _, c := range sel.Candidates {
		if c.Window == sel.ByBIC && c.BIC > bestBIC+1e-6*math.Max(1, math.Abs(bestBIC)) {
			t.Errorf("selected BIC %v is not within tolerance of the best %v", c.BIC, bestBIC)
		}
	}

	again, err := SelectDetectionWindow(trace, detectorConfig(), search)
	if err != nil {
		t.Fatal(err)
	}
	if again.ByBIC != sel.ByBIC || again.ByAIC != sel.ByAIC || again.ByAverage != sel.ByAverage {
		t.Errorf("selection is not deterministic: %+v vs %+v", again, sel)
	}
}

func TestSelectionPrefersSmallerWindowOnTies(t *testing.T) {
	// A clean step is segmented identically by every window.
	trace := make([]float64, 200)
	for i := 100; i < len(trace); i++ {
		trace[i] = 1
	}
	cfg := detectorConfig()
	cfg.Exclusion = 0
	sel, err := SelectDetectionWindow(trace, cfg, WindowSearch{Min: 3, Max: 21, Tolerance: 1e-6})
	if err != nil {
		t.Fatal(err)
	}
	if sel.ByBIC != 3 || sel.ByAIC != 3 {
		t.Errorf("tied selection = BIC %d AIC %d, want 3", sel.ByBIC, sel.ByAIC)
	}
}

func TestSelectSmoothingWindow(t *testing.T) {
	trace := staircaseTrace(t)
	search := WindowSearch{Min: 5, Max: 51, Order: 3, Tolerance: 1e-9}

	spec, err := SelectSmoothingWindow(trace, search)
	if err != nil {
		t.Fatal(err)
	}
	if spec.Size%2 == 0 || spec.Size < 5 || spec.Size > 51 {
		t.Errorf("selected window %d outside odd [5, 51]", spec.Size)
	}
	if !(spec.Score > 0) {
		t.Errorf("score = %v, want positive", spec.Score)
	}

	again, err := SelectSmoothingWindow(trace, search)
	if err != nil {
		t.Fatal(err)
	}
	if again != spec {
		t.Errorf("selection is not deterministic: %+v vs %+v", again, spec)
	}

	if _, err := SelectSmoothingWindow([]float64{1, 2, 3}, DefaultWindowSearch()); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("short trace error = %v, want ErrInvalidParameter", err)
	}
}

func TestTuneDetectionWindow(t *testing.T) {
	trace := staircaseTrace(t)
	cfg := detectorConfig()
	cfg.FrontPad, cfg.BackPad = 5, 5
	search := WindowSearch{Min: 9, Max: 31, Tolerance: 1e-6}

	tuned, sel, err := TuneDetectionWindow(trace, cfg, search)
	if err != nil {
		t.Fatal(err)
	}
	if tuned.DetectionWindow != sel.Window {
		t.Errorf("DetectionWindow = %d, want the selected %d", tuned.DetectionWindow, sel.Window)
	}
	if cfg.DetectionWindow != detectorConfig().DetectionWindow {
		t.Errorf("input config was modified")
	}

	cfg.FrontPad = -1
	if _, _, err := TuneDetectionWindow(trace, cfg, search); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("negative padding: got %v, want ErrInvalidParameter", err)
	}
}
