package steps

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// TTestResult is the outcome of a two-sample t test.
type TTestResult struct {
	Statistic float64
	DF        float64
	PValue    float64
	LeftMean  float64
	RightMean float64
}

// TwoSampleTTest compares the means of left and right. The statistic is
// positive when right has the larger mean. With oneSided set, the p-value is
// for the alternative "means differ in the direction of the statistic".
//
// Windows with zero variance are handled explicitly: identical constant
// windows give p = 1, different constant windows give p = 0.
func TwoSampleTTest(left, right []float64, kind TestKind, oneSided bool) TTestResult {
	n1, n2 := float64(len(left)), float64(len(right))
	m1, v1 := stat.MeanVariance(left, nil)
	m2, v2 := stat.MeanVariance(right, nil)
	res := TTestResult{LeftMean: m1, RightMean: m2}
	if len(left) < 2 || len(right) < 2 {
		res.PValue = 1
		return res
	}

	var se, df float64
	switch kind {
	case TestStudent:
		df = n1 + n2 - 2
		pooled := ((n1-1)*v1 + (n2-1)*v2) / df
		se = math.Sqrt(pooled * (1/n1 + 1/n2))
	default:
		a, b := v1/n1, v2/n2
		se = math.Sqrt(a + b)
		// Welch-Satterthwaite
		df = (a + b) * (a + b) / (a*a/(n1-1) + b*b/(n2-1))
	}

	diff := m2 - m1
	if se == 0 || !finite(se) {
		if diff == 0 {
			res.PValue = 1
			return res
		}
		res.Statistic = math.Copysign(math.Inf(1), diff)
		res.DF = n1 + n2 - 2
		res.PValue = 0
		return res
	}

	res.Statistic = diff / se
	res.DF = df
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := t.Survival(math.Abs(res.Statistic))
	if !oneSided {
		p *= 2
	}
	res.PValue = math.Min(1, p)
	return res
}
