package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chrissnell/alphastep/internal/export"
	"github.com/chrissnell/alphastep/internal/log"
	"github.com/chrissnell/alphastep/internal/steps"
	"github.com/chrissnell/alphastep/internal/storage"
	"github.com/chrissnell/alphastep/internal/synth"
	"github.com/chrissnell/alphastep/internal/trace"
	"github.com/chrissnell/alphastep/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (options, *overrides, *flag.FlagSet) {
	t.Helper()
	fs := flag.NewFlagSet("alphastep", flag.ContinueOnError)
	var opts options
	ov := registerFlags(fs, &opts)
	require.NoError(t, fs.Parse(args))
	return opts, ov, fs
}

func quickAnalysis() *config.AnalysisData {
	return &config.AnalysisData{
		DT:              0.01,
		DetectionWindow: 20,
		MaxP:            0.05,
		Exclusion:       0.5,
		Schedule:        []int{300, 600},
	}
}

func writeTrace(t *testing.T) string {
	t.Helper()
	tr, err := synth.Generate(synth.Spec{
		N:     400,
		Noise: 0.1,
		Seed:  7,
		Steps: []synth.Injection{{At: 100, Height: 2}, {At: 200, Height: -1}, {At: 300, Height: 3}},
	})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "trace.txt")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, trace.Write(f, tr.Samples))
	require.NoError(t, f.Close())
	return path
}

func TestApplyOverrides(t *testing.T) {
	opts, ov, fs := parse(t,
		"-in", "trace.txt",
		"-window", "31",
		"-max-p", "0.01",
		"-smoothing", "boxcar",
		"-smoothing-window", "5",
		"-baseline", "2",
		"-auto-window",
	)
	assert.Equal(t, "trace.txt", opts.in)
	assert.Equal(t, config.DefaultProfile, opts.profile)

	a := quickAnalysis()
	a.MinP = 0.001
	ov.apply(fs, a)

	assert.InDelta(t, 0.01, a.DT, 1e-12)
	assert.Equal(t, 31, a.DetectionWindow)
	assert.InDelta(t, 0.01, a.MaxP, 1e-12)
	assert.InDelta(t, 0.001, a.MinP, 1e-12)
	assert.InDelta(t, 0.5, a.Exclusion, 1e-12)
	assert.Equal(t, "boxcar", a.Smoothing.Method)
	assert.Equal(t, 5, a.Smoothing.Window)
	assert.InDelta(t, 2, a.Baseline, 1e-12)
	assert.Equal(t, string(steps.BaselineFixed), a.BaselineMode)
	assert.True(t, a.AutoWindow)

	cfg, err := a.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, steps.SmoothBoxcar, cfg.SmoothingMethod)
	assert.Equal(t, steps.BaselineFixed, cfg.BaselineMode)
}

func TestApplyOverridesBaselineMode(t *testing.T) {
	_, ov, fs := parse(t, "-baseline-mode", "first-level", "-baseline", "2")
	a := quickAnalysis()
	ov.apply(fs, a)
	assert.Equal(t, string(steps.BaselineFirstLevel), a.BaselineMode)
}

func TestApplyOverridesNoFlags(t *testing.T) {
	_, ov, fs := parse(t)
	a := quickAnalysis()
	ov.apply(fs, a)
	assert.Equal(t, *quickAnalysis(), *a)
}

func TestRunWritesTableAndFile(t *testing.T) {
	log.InitNop()
	out := filepath.Join(t.TempDir(), "results.csv")
	opts := options{in: writeTrace(t), out: out}

	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), &stdout, opts, quickAnalysis(), config.StorageData{}))
	assert.Contains(t, strings.ToLower(stdout.String()), "processivity")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	header := strings.SplitN(string(data), "\n", 2)[0]
	assert.Equal(t, strings.Join(steps.Headings, ","), header)

	rows, err := export.ReadDelimited(bytes.NewReader(data), ',')
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.InDelta(t, 4.0, rows[3][5], 0.2)
}

func TestRunQuietStoresRun(t *testing.T) {
	log.InitNop()
	dsn := filepath.Join(t.TempDir(), "runs.db")
	opts := options{
		in:          writeTrace(t),
		quiet:       true,
		store:       true,
		storeDriver: "sqlite",
		storeDSN:    dsn,
	}

	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), &stdout, opts, quickAnalysis(), config.StorageData{}))
	assert.Empty(t, stdout.String())

	ctx := context.Background()
	store, err := storage.Open(ctx, "sqlite", dsn, nil)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "trace.txt", runs[0].Name)
}

func TestRunErrors(t *testing.T) {
	log.InitNop()
	ctx := context.Background()
	var stdout bytes.Buffer

	assert.Error(t, run(ctx, &stdout, options{}, quickAnalysis(), config.StorageData{}))
	assert.Error(t, run(ctx, &stdout, options{in: filepath.Join(t.TempDir(), "missing.txt")}, quickAnalysis(), config.StorageData{}))

	bad := quickAnalysis()
	bad.MinP, bad.MaxP = 0.5, 0.1
	err := run(ctx, &stdout, options{in: writeTrace(t), quiet: true}, bad, config.StorageData{})
	assert.ErrorIs(t, err, steps.ErrInvalidParameter)

	err = run(ctx, &stdout, options{in: writeTrace(t), quiet: true, store: true}, quickAnalysis(), config.StorageData{})
	assert.ErrorContains(t, err, "storage driver")
}
