// Package synth generates noisy step traces with known ground truth.
package synth

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// Injection is a step of Height added at sample index At and held to the end.
type Injection struct {
	At     int     `json:"at" yaml:"at"`
	Height float64 `json:"height" yaml:"height"`
}

// Spec describes a synthetic trace.
type Spec struct {
	N        int         `json:"n" yaml:"n"`
	Baseline float64     `json:"baseline" yaml:"baseline"`
	Noise    float64     `json:"noise" yaml:"noise"`
	Seed     uint64      `json:"seed" yaml:"seed"`
	Steps    []Injection `json:"steps" yaml:"steps"`
}

// Trace is a generated trace and its noise-free level.
type Trace struct {
	Samples []float64
	Clean   []float64
}

// Generate builds the trace described by spec. The same spec always yields the
// same samples.
func Generate(spec Spec) (*Trace, error) {
	if spec.N <= 0 {
		return nil, errors.New("synthetic trace length must be positive")
	}
	if spec.Noise < 0 {
		return nil, fmt.Errorf("noise must be non-negative, got %v", spec.Noise)
	}
	steps := append([]Injection(nil), spec.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].At < steps[j].At })
	for _, s := range steps {
		if s.At <= 0 || s.At >= spec.N {
			return nil, fmt.Errorf("step at %d is outside (0, %d)", s.At, spec.N)
		}
	}

	clean := make([]float64, spec.N)
	level := spec.Baseline
	next := 0
	for i := range clean {
		for next < len(steps) && steps[next].At == i {
			level += steps[next].Height
			next++
		}
		clean[i] = level
	}

	samples := make([]float64, spec.N)
	copy(samples, clean)
	if spec.Noise > 0 {
		noise := distuv.Normal{Mu: 0, Sigma: spec.Noise, Src: rand.NewPCG(spec.Seed, spec.Seed^0x9e3779b97f4a7c15)}
		for i := range samples {
			samples[i] += noise.Rand()
		}
	}
	return &Trace{Samples: samples, Clean: clean}, nil
}

// Staircase spaces len(heights) steps evenly over n samples.
func Staircase(n int, noise float64, seed uint64, heights ...float64) Spec {
	spec := Spec{N: n, Noise: noise, Seed: seed}
	gap := n / (len(heights) + 1)
	for i, h := range heights {
		spec.Steps = append(spec.Steps, Injection{At: (i + 1) * gap, Height: h})
	}
	return spec
}
