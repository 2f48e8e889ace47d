package steps

import "sort"

// MedFilt applies a running median with edge replication.
// kernelSize must be a positive odd integer.
func MedFilt(data []float64, kernelSize int) ([]float64, error) {
	if kernelSize < 1 || kernelSize%2 == 0 {
		return nil, invalid("median kernel size must be a positive odd integer, got %d", kernelSize)
	}
	n := len(data)
	if n == 0 {
		return []float64{}, nil
	}

	half := kernelSize / 2
	result := make([]float64, n)
	window := make([]float64, kernelSize)

	for i := 0; i < n; i++ {
		for j := -half; j <= half; j++ {
			window[j+half] = data[clampIndex(i+j, n)]
		}
		sort.Float64s(window)
		result[i] = window[half]
	}
	return result, nil
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
