package steps

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Smooth applies the selected filter and returns a new trace of the same length.
// order is only used by Savitzky-Golay.
func Smooth(trace []float64, method SmoothingMethod, window, order int) ([]float64, error) {
	if method == SmoothNone || method == "" {
		out := make([]float64, len(trace))
		copy(out, trace)
		return out, nil
	}
	if _, err := ParseSmoothingMethod(string(method)); err != nil {
		return nil, err
	}
	if err := checkSmoothingParams(method, window, order); err != nil {
		return nil, err
	}
	if window > len(trace) {
		return nil, invalid("smoothing window %d exceeds trace length %d", window, len(trace))
	}

	switch method {
	case SmoothSavitzkyGolay:
		return SavitzkyGolay(trace, window, order)
	case SmoothBoxcar:
		return Boxcar(trace, window), nil
	case SmoothCubicSpline:
		return CubicSpline(trace, window)
	case SmoothMedian:
		return MedFilt(trace, window)
	}
	return nil, invalid("unsupported smoothing method %q", method)
}

// savgolProjection returns the (order+1) x window least-squares projection
// for a polynomial in the scaled offset u = (i-half)/half.
func savgolProjection(window, order int) (*mat.Dense, error) {
	half := window / 2
	scale := float64(half)
	if scale == 0 {
		scale = 1
	}

	a := mat.NewDense(window, order+1, nil)
	for i := 0; i < window; i++ {
		u := float64(i-half) / scale
		p := 1.0
		for j := 0; j <= order; j++ {
			a.Set(i, j, p)
			p *= u
		}
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)
	var proj mat.Dense
	if err := proj.Solve(&ata, a.T()); err != nil {
		return nil, fmt.Errorf("savitzky-golay design matrix: %w", err)
	}
	return &proj, nil
}

// savgolWeights returns the filter weights that evaluate the fitted polynomial
// at offset q samples from the window center.
func savgolWeights(proj *mat.Dense, window, q int) []float64 {
	half := window / 2
	scale := float64(half)
	if scale == 0 {
		scale = 1
	}
	u := float64(q) / scale
	rows, _ := proj.Dims()

	weights := make([]float64, window)
	p := 1.0
	for j := 0; j < rows; j++ {
		for i := 0; i < window; i++ {
			weights[i] += p * proj.At(j, i)
		}
		p *= u
	}
	return weights
}

// SavitzkyGolay smooths with a local polynomial of the given order. Samples
// within half a window of either end are taken from the polynomial fitted to
// the first or last full window.
func SavitzkyGolay(trace []float64, window, order int) ([]float64, error) {
	n := len(trace)
	if window > n {
		return nil, invalid("savitzky-golay window %d exceeds trace length %d", window, n)
	}
	proj, err := savgolProjection(window, order)
	if err != nil {
		return nil, err
	}

	half := window / 2
	out := make([]float64, n)
	center := savgolWeights(proj, window, 0)
	for t := half; t < n-half; t++ {
		out[t] = floats.Dot(center, trace[t-half:t+half+1])
	}
	for t := 0; t < half && t < n; t++ {
		out[t] = floats.Dot(savgolWeights(proj, window, t-half), trace[:window])
	}
	for t := max(n-half, half); t < n; t++ {
		q := t - (n - window) - half
		out[t] = floats.Dot(savgolWeights(proj, window, q), trace[n-window:])
	}
	return out, nil
}

// savgolCenterWeight is the diagonal entry of the smoother matrix away from the edges.
func savgolCenterWeight(window, order int) (float64, error) {
	proj, err := savgolProjection(window, order)
	if err != nil {
		return 0, err
	}
	return savgolWeights(proj, window, 0)[window/2], nil
}

// Boxcar is a centered moving average with edge replication.
func Boxcar(trace []float64, window int) []float64 {
	n := len(trace)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	half := window / 2

	prefix := make([]float64, n+2*half+1)
	for i := 0; i < n+2*half; i++ {
		prefix[i+1] = prefix[i] + trace[clampIndex(i-half, n)]
	}
	for t := 0; t < n; t++ {
		out[t] = (prefix[t+window] - prefix[t]) / float64(window)
	}
	return out
}

// CubicSpline fits a natural cubic spline through the means of consecutive
// blocks of knotSpacing samples and evaluates it on every sample index.
func CubicSpline(trace []float64, knotSpacing int) ([]float64, error) {
	n := len(trace)
	out := make([]float64, n)
	if n == 0 {
		return out, nil
	}

	var xs, ys []float64
	for start := 0; start < n; start += knotSpacing {
		end := min(start+knotSpacing, n)
		xs = append(xs, float64(start+end-1)/2)
		ys = append(ys, stat.Mean(trace[start:end], nil))
	}
	if len(xs) < 2 {
		mean := stat.Mean(trace, nil)
		for i := range out {
			out[i] = mean
		}
		return out, nil
	}

	var spline interp.NaturalCubic
	if err := spline.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("cubic spline fit: %w", err)
	}
	for i := range out {
		out[i] = spline.Predict(float64(i))
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
