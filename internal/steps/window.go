package steps

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// WindowSearch bounds the candidate windows for automatic window selection.
type WindowSearch struct {
	Min int `json:"min"`
	Max int `json:"max"`
	// Order is the Savitzky-Golay polynomial order used for smoothing selection.
	Order int `json:"order"`
	// Tolerance is the relative score difference treated as a tie. Ties go
	// to the smaller window.
	Tolerance float64 `json:"tolerance"`
}

// DefaultWindowSearch covers odd windows from 3 to 101.
func DefaultWindowSearch() WindowSearch {
	return WindowSearch{Min: 3, Max: 101, Order: 4, Tolerance: 1e-6}
}

// WindowScore holds the information criteria of one detection window.
type WindowScore struct {
	Window      int     `json:"window"`
	ChangePoint int     `json:"change_points"`
	RSS         float64 `json:"rss"`
	AIC         float64 `json:"aic"`
	BIC         float64 `json:"bic"`
	Average     float64 `json:"average"`
}

// WindowSelection reports the best detection window under each criterion.
// Window is the BIC choice.
type WindowSelection struct {
	Window     int           `json:"window"`
	ByBIC      int           `json:"by_bic"`
	ByAIC      int           `json:"by_aic"`
	ByAverage  int           `json:"by_average"`
	Candidates []WindowScore `json:"candidates"`
}

// oddRange lists odd values in [lo, hi].
func oddRange(lo, hi int) []int {
	if lo%2 == 0 {
		lo++
	}
	var out []int
	for w := lo; w <= hi; w += 2 {
		out = append(out, w)
	}
	return out
}

// better reports whether score beats best by more than the tie tolerance.
func better(score, best, tol float64) bool {
	return score < best-tol*math.Max(1, math.Abs(best))
}

// SelectSmoothingWindow picks the Savitzky-Golay window that minimizes the
// generalized cross-validation score
//
//	GCV(w) = (RSS(w)/n) / (1 - c0(w))^2
//
// where c0 is the filter's center weight, i.e. the diagonal of the smoother
// matrix. Small windows are penalized through c0, large ones through RSS.
func SelectSmoothingWindow(trace []float64, search WindowSearch) (WindowSpec, error) {
	n := len(trace)
	order := search.Order
	if order < 0 {
		return WindowSpec{}, invalid("smoothing order must be non-negative, got %d", order)
	}
	lo := max(search.Min, order+2, 3)
	hi := min(search.Max, n)
	candidates := oddRange(lo, hi)
	if len(candidates) == 0 {
		return WindowSpec{}, invalid("no odd smoothing window in [%d, %d] for a trace of %d samples", lo, hi, n)
	}

	best := WindowSpec{Score: math.Inf(1)}
	for _, w := range candidates {
		smoothed, err := SavitzkyGolay(trace, w, order)
		if err != nil {
			return WindowSpec{}, err
		}
		c0, err := savgolCenterWeight(w, order)
		if err != nil {
			return WindowSpec{}, err
		}
		rss := 0.0
		for i, v := range trace {
			d := v - smoothed[i]
			rss += d * d
		}
		score := (rss / float64(n)) / ((1 - c0) * (1 - c0))
		if !finite(score) {
			continue
		}
		if best.Size == 0 || better(score, best.Score, search.Tolerance) {
			best = WindowSpec{Size: w, Score: score}
		}
	}
	if best.Size == 0 {
		return WindowSpec{}, invalid("no smoothing window produced a finite score")
	}
	return best, nil
}

// SelectDetectionWindow runs the configured detector at every candidate
// window, fits the segment-mean model to its change points and scores it with
//
//	AIC = n ln(RSS/n) + 2k
//	BIC = n ln(RSS/n) + k ln(n)
//
// with k = 2m+1 parameters for m change points (m boundaries, m+1 levels).
// Average is the mean of AIC and BIC.
func SelectDetectionWindow(trace []float64, cfg Config, search WindowSearch) (*WindowSelection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := len(trace)
	lo := max(search.Min, 3)
	hi := min(search.Max, n/4)
	candidates := oddRange(lo, hi)
	if len(candidates) == 0 {
		return nil, invalid("no odd detection window in [%d, %d] for a trace of %d samples", lo, hi, n)
	}

	sel := &WindowSelection{}
	bestBIC, bestAIC, bestAvg := math.Inf(1), math.Inf(1), math.Inf(1)
	floor := float64(n) * 1e-12
	for _, w := range candidates {
		wc := cfg
		wc.DetectionWindow = w
		cps, err := NewDetector(wc).Detect(trace)
		if err != nil {
			return nil, err
		}

		rss := math.Max(segmentRSS(trace, cps), floor)
		k := float64(2*len(cps) + 1)
		fit := float64(n) * math.Log(rss/float64(n))
		score := WindowScore{
			Window:      w,
			ChangePoint: len(cps),
			RSS:         rss,
			AIC:         fit + 2*k,
			BIC:         fit + k*math.Log(float64(n)),
		}
		score.Average = (score.AIC + score.BIC) / 2
		sel.Candidates = append(sel.Candidates, score)

		if sel.ByBIC == 0 || better(score.BIC, bestBIC, search.Tolerance) {
			sel.ByBIC, bestBIC = w, score.BIC
		}
		if sel.ByAIC == 0 || better(score.AIC, bestAIC, search.Tolerance) {
			sel.ByAIC, bestAIC = w, score.AIC
		}
		if sel.ByAverage == 0 || better(score.Average, bestAvg, search.Tolerance) {
			sel.ByAverage, bestAvg = w, score.Average
		}
	}
	sel.Window = sel.ByBIC
	return sel, nil
}

// segmentRSS is the residual sum of squares of the piecewise-constant model
// with breaks at the change points and each level at its segment mean.
func segmentRSS(trace []float64, cps []ChangePoint) float64 {
	rss := 0.0
	start := 0
	for i := 0; i <= len(cps); i++ {
		end := len(trace)
		if i < len(cps) {
			end = cps[i].Index
		}
		if end <= start {
			continue
		}
		seg := trace[start:end]
		mean := stat.Mean(seg, nil)
		for _, v := range seg {
			d := v - mean
			rss += d * d
		}
		start = end
	}
	return rss
}

// TuneDetectionWindow pads and smooths trace the way cfg describes, selects
// the detection window on the result and returns cfg with that window set.
func TuneDetectionWindow(trace []float64, cfg Config, search WindowSearch) (Config, *WindowSelection, error) {
	padded, err := Pad(trace, cfg.FrontPad, cfg.BackPad)
	if err != nil {
		return cfg, nil, err
	}
	smoothed, err := Smooth(padded, cfg.SmoothingMethod, cfg.SmoothingWindow, cfg.SmoothingOrder)
	if err != nil {
		return cfg, nil, err
	}
	sel, err := SelectDetectionWindow(smoothed, cfg, search)
	if err != nil {
		return cfg, nil, err
	}
	cfg.DetectionWindow = sel.Window
	return cfg, sel, nil
}
