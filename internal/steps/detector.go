package steps

import (
	"math"
	"sort"
)

// Detector proposes candidate step boundaries for a trace.
type Detector interface {
	Detect(trace []float64) ([]ChangePoint, error)
}

// TTestDetector slides a window over the trace and compares the samples on
// either side of every index with a two-sample t test.
type TTestDetector struct {
	Window    int
	MinP      float64
	MaxP      float64
	Exclusion float64
	Test      TestKind
	OneSided  bool
}

// NewTTestDetector builds the sliding-window detector from an analysis config.
func NewTTestDetector(cfg Config) *TTestDetector {
	return &TTestDetector{
		Window:    cfg.DetectionWindow,
		MinP:      cfg.MinP,
		MaxP:      cfg.MaxP,
		Exclusion: cfg.Exclusion,
		Test:      cfg.Test,
		OneSided:  cfg.OneSided,
	}
}

// NewDetector returns the detector selected by cfg.DetectionMethod.
func NewDetector(cfg Config) Detector {
	if cfg.DetectionMethod == DetectPELT {
		return NewPELTDetector(cfg)
	}
	return NewTTestDetector(cfg)
}

// Detect returns the ordered, de-duplicated candidates. An empty result is
// valid and means no transition passed the thresholds.
func (d *TTestDetector) Detect(trace []float64) ([]ChangePoint, error) {
	w := d.Window
	if w < 1 {
		return nil, invalid("detection window must be positive, got %d", w)
	}
	if w > len(trace) {
		return nil, invalid("detection window %d exceeds trace length %d", w, len(trace))
	}
	if d.MinP > d.MaxP {
		return nil, invalid("min p %v exceeds max p %v", d.MinP, d.MaxP)
	}

	var flagged []ChangePoint
	for i := w; i+w <= len(trace); i++ {
		res := TwoSampleTTest(trace[i-w:i], trace[i:i+w], d.Test, d.OneSided)
		if math.IsNaN(res.PValue) || res.PValue < d.MinP || res.PValue > d.MaxP {
			continue
		}
		flagged = append(flagged, ChangePoint{
			Index:     i,
			PValue:    res.PValue,
			Statistic: res.Statistic,
			LeftMean:  res.LeftMean,
			RightMean: res.RightMean,
		})
	}

	return excludeSmall(suppress(flagged, w), d.Exclusion), nil
}

// suppress keeps the flagged indices whose |statistic| is the largest among
// flagged indices within radius of them, then drops survivors closer than
// radius to a stronger survivor. Input and output are sorted by index.
func suppress(flagged []ChangePoint, radius int) []ChangePoint {
	var peaks []ChangePoint
	lo := 0
	for i, cp := range flagged {
		for flagged[lo].Index < cp.Index-radius {
			lo++
		}
		strength := math.Abs(cp.Statistic)
		peak := true
		for j := lo; j < len(flagged) && flagged[j].Index <= cp.Index+radius; j++ {
			if j != i && math.Abs(flagged[j].Statistic) > strength {
				peak = false
				break
			}
		}
		if peak {
			peaks = append(peaks, cp)
		}
	}

	// Equal peaks within radius go to the lower index.
	order := append([]ChangePoint(nil), peaks...)
	sort.SliceStable(order, func(a, b int) bool {
		return math.Abs(order[a].Statistic) > math.Abs(order[b].Statistic)
	})
	var kept []ChangePoint
	for _, cp := range order {
		clash := false
		for _, k := range kept {
			if abs(cp.Index-k.Index) < radius {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, cp)
		}
	}
	sort.Slice(kept, func(a, b int) bool { return kept[a].Index < kept[b].Index })
	return kept
}

// excludeSmall drops candidates whose estimated height is below exclusion.
func excludeSmall(cps []ChangePoint, exclusion float64) []ChangePoint {
	kept := make([]ChangePoint, 0, len(cps))
	for _, cp := range cps {
		if math.Abs(cp.Height()) < exclusion {
			continue
		}
		kept = append(kept, cp)
	}
	return kept
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
