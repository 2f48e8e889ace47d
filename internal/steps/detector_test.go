package steps

import (
	"errors"
	"math"
	"testing"

	"github.com/chrissnell/alphastep/internal/synth"
)

func staircaseTrace(t *testing.T) []float64 {
	t.Helper()
	tr, err := synth.Generate(synth.Spec{
		N:     1000,
		Noise: 0.1,
		Seed:  42,
		Steps: []synth.Injection{{At: 200, Height: 2}, {At: 500, Height: -1}, {At: 800, Height: 3}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return tr.Samples
}

func detectorConfig() Config {
	cfg := DefaultConfig()
	cfg.DT = 0.01
	cfg.DetectionWindow = 20
	cfg.MinP = 0
	cfg.MaxP = 0.05
	cfg.Exclusion = 0.5
	cfg.Schedule = []int{300, 600}
	return cfg
}

func indices(cps []ChangePoint) []int {
	out := make([]int, len(cps))
	for i, cp := range cps {
		out[i] = cp.Index
	}
	return out
}

func TestTTestDetectorFindsSteps(t *testing.T) {
	trace := staircaseTrace(t)
	cps, err := NewTTestDetector(detectorConfig()).Detect(trace)
	if err != nil {
		t.Fatal(err)
	}

	expected := []int{200, 500, 800}
	if len(cps) != len(expected) {
		t.Fatalf("Detect() = %v, want boundaries near %v", indices(cps), expected)
	}
	for i, cp := range cps {
		if abs(cp.Index-expected[i]) > 2 {
			t.Errorf("change point %d at %d, want %d", i, cp.Index, expected[i])
		}
		if cp.PValue < 0 || cp.PValue > 0.05 {
			t.Errorf("change point %d p = %v outside [0, 0.05]", i, cp.PValue)
		}
	}
	if cps[1].Height() > 0 {
		t.Errorf("second change point height = %v, want negative", cps[1].Height())
	}
}

func TestTTestDetectorDeterministic(t *testing.T) {
	trace := staircaseTrace(t)
	d := NewTTestDetector(detectorConfig())
	a, err := d.Detect(trace)
	if err != nil {
		t.Fatal(err)
	}
	b, err := d.Detect(trace)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("runs disagree: %v vs %v", indices(a), indices(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("run %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestTTestDetectorConstantTrace(t *testing.T) {
	trace := make([]float64, 300)
	for i := range trace {
		trace[i] = 7.5
	}
	for _, test := range []TestKind{TestWelch, TestStudent} {
		cfg := detectorConfig()
		cfg.Test = test
		cps, err := NewTTestDetector(cfg).Detect(trace)
		if err != nil {
			t.Fatal(err)
		}
		if len(cps) != 0 {
			t.Errorf("%s: Detect() on constant trace = %v, want none", test, indices(cps))
		}
	}
}

func TestTTestDetectorExclusionMonotone(t *testing.T) {
	trace := staircaseTrace(t)
	prev := math.MaxInt
	for _, exclusion := range []float64{0, 0.5, 1.5, 2.5, 5} {
		cfg := detectorConfig()
		cfg.Exclusion = exclusion
		cps, err := NewTTestDetector(cfg).Detect(trace)
		if err != nil {
			t.Fatal(err)
		}
		if len(cps) > prev {
			t.Errorf("exclusion %v kept %d candidates, more than %d at a smaller exclusion", exclusion, len(cps), prev)
		}
		prev = len(cps)
	}
	if prev != 0 {
		t.Errorf("exclusion 5 kept %d candidates, want 0", prev)
	}
}

func TestTTestDetectorInvalid(t *testing.T) {
	trace := make([]float64, 10)
	tests := []struct {
		name string
		d    TTestDetector
	}{
		{"zero window", TTestDetector{Window: 0, MaxP: 0.05}},
		{"window too long", TTestDetector{Window: 11, MaxP: 0.05}},
		{"min above max", TTestDetector{Window: 3, MinP: 0.5, MaxP: 0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.d.Detect(trace); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("Detect() error = %v, want ErrInvalidParameter", err)
			}
		})
	}
}

func TestSuppress(t *testing.T) {
	tests := []struct {
		name    string
		flagged []ChangePoint
		radius  int
		want    []int
	}{
		{"single run", []ChangePoint{
			{Index: 10, Statistic: 2},
			{Index: 11, Statistic: -9},
			{Index: 12, Statistic: 3},
			{Index: 40, Statistic: 4},
		}, 5, []int{11, 40}},
		// A dense run whose neighbours are all closer than the radius still
		// holds two well separated peaks.
		{"chained peaks", chain(0, 30, 5, 25), 10, []int{5, 25}},
		{"equal peaks", []ChangePoint{
			{Index: 10, Statistic: math.Inf(1)},
			{Index: 12, Statistic: math.Inf(1)},
			{Index: 30, Statistic: 1},
		}, 5, []int{10, 30}},
		{"weak peak beside strong", []ChangePoint{
			{Index: 10, Statistic: 8},
			{Index: 17, Statistic: 3},
			{Index: 21, Statistic: 2},
		}, 10, []int{10}},
		{"none", nil, 5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := indices(suppress(tt.flagged, tt.radius))
			if len(got) != len(tt.want) {
				t.Fatalf("suppress() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("suppress() = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

// chain flags every index in [from, to] with |t| falling off linearly from
// each peak.
func chain(from, to int, peaks ...int) []ChangePoint {
	var out []ChangePoint
	for i := from; i <= to; i++ {
		strength := 0.0
		for _, p := range peaks {
			strength = math.Max(strength, 20-float64(abs(i-p)))
		}
		out = append(out, ChangePoint{Index: i, Statistic: strength})
	}
	return out
}

func TestTTestDetectorSmoothedStaircase(t *testing.T) {
	tr, err := synth.Generate(synth.Spec{
		N:     400,
		Noise: 0.1,
		Seed:  7,
		Steps: []synth.Injection{{At: 100, Height: 2}, {At: 200, Height: -1}, {At: 300, Height: 3}},
	})
	if err != nil {
		t.Fatal(err)
	}
	smoothed, err := Smooth(tr.Samples, SmoothBoxcar, 5, 0)
	if err != nil {
		t.Fatal(err)
	}

	expected := []int{100, 200, 300}
	for name, trace := range map[string][]float64{"raw": tr.Samples, "boxcar": smoothed} {
		cps, err := NewTTestDetector(detectorConfig()).Detect(trace)
		if err != nil {
			t.Fatal(err)
		}
		if len(cps) != len(expected) {
			t.Fatalf("%s: Detect() = %v, want boundaries near %v", name, indices(cps), expected)
		}
		for i, cp := range cps {
			if abs(cp.Index-expected[i]) > 3 {
				t.Errorf("%s: change point %d at %d, want %d", name, i, cp.Index, expected[i])
			}
		}
	}
}

func TestTwoSampleTTest(t *testing.T) {
	left := []float64{1, 2, 3, 4, 5}
	right := []float64{6, 7, 8, 9, 10}

	welch := TwoSampleTTest(left, right, TestWelch, false)
	// Equal variances and sizes: Welch and Student agree, t = 5/sqrt(1) = 5, df = 8.
	if math.Abs(welch.Statistic-5) > 1e-12 {
		t.Errorf("statistic = %v, want 5", welch.Statistic)
	}
	if math.Abs(welch.DF-8) > 1e-12 {
		t.Errorf("df = %v, want 8", welch.DF)
	}
	// Two-sided p for t=5, df=8.
	if math.Abs(welch.PValue-0.001053) > 1e-5 {
		t.Errorf("p = %v, want ~0.001053", welch.PValue)
	}

	student := TwoSampleTTest(left, right, TestStudent, false)
	if math.Abs(student.Statistic-welch.Statistic) > 1e-12 {
		t.Errorf("student statistic = %v, want %v", student.Statistic, welch.Statistic)
	}

	one := TwoSampleTTest(left, right, TestWelch, true)
	if math.Abs(one.PValue*2-welch.PValue) > 1e-12 {
		t.Errorf("one-sided p = %v, want half of %v", one.PValue, welch.PValue)
	}

	if r := TwoSampleTTest([]float64{1}, right, TestWelch, false); r.PValue != 1 {
		t.Errorf("single-sample p = %v, want 1", r.PValue)
	}
	if r := TwoSampleTTest([]float64{2, 2}, []float64{3, 3}, TestWelch, false); r.PValue != 0 || !math.IsInf(r.Statistic, 1) {
		t.Errorf("distinct constants = %+v, want p=0, t=+Inf", r)
	}
}

