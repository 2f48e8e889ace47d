package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chrissnell/alphastep/internal/log"
	"github.com/chrissnell/alphastep/internal/synth"
	"github.com/chrissnell/alphastep/internal/trace"
)

func main() {
	var (
		n        = flag.Int("n", 1000, "Number of samples")
		baseline = flag.Float64("baseline", 0, "Starting level")
		noise    = flag.Float64("noise", 0.1, "Standard deviation of the Gaussian noise")
		seed     = flag.Uint64("seed", 1, "Random seed")
		stepList = flag.String("steps", "", "Steps as at:height pairs, e.g. 200:2,500:-1")
		even     = flag.String("staircase", "", "Evenly spaced step heights, e.g. 1,1,1 (ignored when -steps is set)")
		out      = flag.String("out", "", "Output file (standard output when empty)")
		clean    = flag.Bool("clean", false, "Write the noise-free level instead of the samples")
		debug    = flag.Bool("debug", false, "Turn on debugging output")
	)
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	spec := synth.Spec{N: *n, Baseline: *baseline, Noise: *noise, Seed: *seed}
	switch {
	case *stepList != "":
		injections, err := parseSteps(*stepList)
		if err != nil {
			log.Fatalf("invalid -steps: %v", err)
		}
		spec.Steps = injections
	case *even != "":
		heights, err := parseFloats(*even)
		if err != nil {
			log.Fatalf("invalid -staircase: %v", err)
		}
		spec = synth.Staircase(*n, *noise, *seed, heights...)
		spec.Baseline = *baseline
	}

	tr, err := synth.Generate(spec)
	if err != nil {
		log.Fatalf("failed to generate trace: %v", err)
	}
	samples := tr.Samples
	if *clean {
		samples = tr.Clean
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *out, err)
		}
		defer f.Close()
		w = f
	}
	if err := trace.Write(w, samples); err != nil {
		log.Fatalf("failed to write trace: %v", err)
	}
	log.Infof("wrote %d samples with %d steps", len(samples), len(spec.Steps))
}

// parseSteps parses "at:height" pairs separated by commas.
func parseSteps(s string) ([]synth.Injection, error) {
	var out []synth.Injection
	for _, part := range strings.Split(s, ",") {
		at, height, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("%q is not at:height", part)
		}
		idx, err := strconv.Atoi(at)
		if err != nil {
			return nil, fmt.Errorf("bad step index %q: %w", at, err)
		}
		h, err := strconv.ParseFloat(height, 64)
		if err != nil {
			return nil, fmt.Errorf("bad step height %q: %w", height, err)
		}
		out = append(out, synth.Injection{At: idx, Height: h})
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
