package steps

import (
	"math"
	"testing"
)

func TestPELTDetectorFindsSteps(t *testing.T) {
	trace := staircaseTrace(t)
	cfg := detectorConfig()
	cfg.DetectionMethod = DetectPELT

	cps, err := NewDetector(cfg).Detect(trace)
	if err != nil {
		t.Fatal(err)
	}
	expected := []int{200, 500, 800}
	if len(cps) != len(expected) {
		t.Fatalf("Detect() = %v, want boundaries near %v", indices(cps), expected)
	}
	for i, cp := range cps {
		if abs(cp.Index-expected[i]) > 3 {
			t.Errorf("change point %d at %d, want %d", i, cp.Index, expected[i])
		}
	}
}

func TestPELTBreakpointsNoiseless(t *testing.T) {
	signal := make([]float64, 60)
	for i := range signal {
		if i >= 25 {
			signal[i] = 1
		}
	}
	p := &PELTDetector{MinSize: 5}
	bkps := p.Breakpoints(signal, 0.1)
	if len(bkps) != 1 || bkps[0] != 25 {
		t.Errorf("Breakpoints() = %v, want [25]", bkps)
	}

	if bkps := p.Breakpoints(signal[:8], 0.1); bkps != nil {
		t.Errorf("short signal breakpoints = %v, want none", bkps)
	}
}

func TestNoiseSigma(t *testing.T) {
	trace := staircaseTrace(t)
	sigma := NoiseSigma(trace)
	if math.Abs(sigma-0.1) > 0.02 {
		t.Errorf("NoiseSigma() = %v, want about 0.1", sigma)
	}
	if NoiseSigma([]float64{1, 2}) != 0 {
		t.Errorf("NoiseSigma() on two samples should be 0")
	}
}
