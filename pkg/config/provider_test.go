package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/alphastep/internal/steps"
)

const testYAML = `
analysis:
  dt: 0.01
  detection_window: 25
  max_p_threshold: 0.01
  exclusion: 0.5
  smoothing:
    method: Savitzky-Golay
    window: 11
    order: 3
  schedule: [100, 200]
profiles:
  fast:
    detection_method: pelt
    schedule: [50]
storage:
  driver: sqlite
server:
  port: 9000
output:
  results: results.csv
`

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestYAMLProvider(t *testing.T) {
	p := NewYAMLProvider(writeYAML(t, testYAML))
	cfg, err := p.LoadConfig()
	require.NoError(t, err)

	assert.InDelta(t, 0.01, cfg.Analysis.DT, 1e-12)
	assert.Equal(t, 25, cfg.Analysis.DetectionWindow)
	assert.Equal(t, "Savitzky-Golay", cfg.Analysis.Smoothing.Method)
	assert.Equal(t, []int{100, 200}, cfg.Analysis.Schedule)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "alphastep.db", cfg.Storage.DSN, "sqlite DSN default")
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "results.csv", cfg.Output.Results)
	assert.True(t, p.IsReadOnly())

	fast, err := p.GetAnalysis("fast")
	require.NoError(t, err)
	assert.Equal(t, "pelt", fast.DetectionMethod)

	_, err = p.GetAnalysis("missing")
	assert.True(t, errors.Is(err, ErrProfileNotFound))
}

func TestYAMLProviderEnvOverrides(t *testing.T) {
	t.Setenv("ALPHASTEP_STORAGE_DRIVER", "postgres")
	t.Setenv("ALPHASTEP_STORAGE_DSN", "postgres://localhost/steps")
	t.Setenv("ALPHASTEP_PORT", "7070")
	t.Setenv("ALPHASTEP_DT", "0.5")

	cfg, err := NewYAMLProvider(writeYAML(t, testYAML)).LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/steps", cfg.Storage.DSN)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.InDelta(t, 0.5, cfg.Analysis.DT, 1e-12)

	t.Setenv("ALPHASTEP_PORT", "not-a-port")
	_, err = NewYAMLProvider(writeYAML(t, testYAML)).LoadConfig()
	assert.Error(t, err)
}

func TestYAMLProviderErrors(t *testing.T) {
	_, err := NewYAMLProvider(filepath.Join(t.TempDir(), "missing.yaml")).LoadConfig()
	assert.Error(t, err)

	_, err = NewYAMLProvider(writeYAML(t, "analysis: [unclosed")).LoadConfig()
	assert.Error(t, err)
}

func TestEngineConfig(t *testing.T) {
	cfg, err := NewYAMLProvider(writeYAML(t, testYAML)).LoadConfig()
	require.NoError(t, err)

	engine, err := cfg.Analysis.EngineConfig()
	require.NoError(t, err)
	assert.InDelta(t, 0.01, engine.DT, 1e-12)
	assert.Equal(t, 25, engine.DetectionWindow)
	assert.InDelta(t, 0.01, engine.MaxP, 1e-12)
	assert.Equal(t, steps.SmoothSavitzkyGolay, engine.SmoothingMethod)
	assert.Equal(t, 3, engine.SmoothingOrder)
	assert.Equal(t, steps.TestWelch, engine.Test)
	assert.Equal(t, steps.DetectTTest, engine.DetectionMethod)
	assert.Equal(t, []int{100, 200}, engine.Schedule)

	defaults, err := AnalysisData{}.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, steps.DefaultConfig().DetectionWindow, defaults.DetectionWindow)
	assert.Equal(t, len(steps.DefaultSchedule()), len(defaults.Schedule))

	_, err = AnalysisData{MinP: 0.5, MaxP: 0.1}.EngineConfig()
	assert.True(t, errors.Is(err, steps.ErrInvalidParameter))

	_, err = AnalysisData{Smoothing: SmoothingData{Method: "gaussian"}}.EngineConfig()
	assert.True(t, errors.Is(err, steps.ErrInvalidParameter))
}

func TestEngineConfigBaseline(t *testing.T) {
	defaults, err := AnalysisData{}.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, steps.BaselineFirstLevel, defaults.BaselineMode)

	fixed, err := AnalysisData{Baseline: 1.5}.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, steps.BaselineFixed, fixed.BaselineMode)
	assert.InDelta(t, 1.5, fixed.Baseline, 1e-12)

	zero, err := AnalysisData{BaselineMode: "fixed"}.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, steps.BaselineFixed, zero.BaselineMode)
	assert.Zero(t, zero.Baseline)

	_, err = AnalysisData{BaselineMode: "mean"}.EngineConfig()
	assert.ErrorIs(t, err, steps.ErrInvalidParameter)
}

func TestWindowSearchDefaults(t *testing.T) {
	s := WindowSearchData{Max: 51}.Search()
	assert.Equal(t, steps.DefaultWindowSearch().Min, s.Min)
	assert.Equal(t, 51, s.Max)
}

func TestSQLiteProvider(t *testing.T) {
	p, err := NewSQLiteProvider(":memory:")
	require.NoError(t, err)
	defer p.Close()
	assert.False(t, p.IsReadOnly())

	def, err := p.GetAnalysis("")
	require.NoError(t, err)
	assert.Equal(t, AnalysisData{}, *def)

	yamlCfg, err := NewYAMLProvider(writeYAML(t, testYAML)).LoadConfig()
	require.NoError(t, err)
	require.NoError(t, p.SaveConfig(yamlCfg))

	cfg, err := p.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, yamlCfg.Analysis, cfg.Analysis)
	assert.Equal(t, yamlCfg.Profiles["fast"], cfg.Profiles["fast"])
	assert.Equal(t, yamlCfg.Storage, cfg.Storage)
	assert.Equal(t, 9000, cfg.Server.Port)

	names, err := p.ListProfiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "fast"}, names)

	require.NoError(t, p.DeleteProfile("fast"))
	_, err = p.GetAnalysis("fast")
	assert.True(t, errors.Is(err, ErrProfileNotFound))
	assert.True(t, errors.Is(p.DeleteProfile("fast"), ErrProfileNotFound))

	err = p.SaveProfile("broken", &AnalysisData{MinP: 0.9, MaxP: 0.1})
	assert.True(t, errors.Is(err, steps.ErrInvalidParameter))

	require.NoError(t, p.SetStorageConfig(StorageData{Driver: "postgres", DSN: "postgres://db"}))
	storage, err := p.GetStorageConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", storage.Driver)
}

func TestCachedProvider(t *testing.T) {
	path := writeYAML(t, testYAML)
	c := NewCachedProvider(NewYAMLProvider(path))

	first, err := c.LoadConfig()
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	second, err := c.LoadConfig()
	require.NoError(t, err)
	assert.Same(t, first, second)

	server, err := c.GetServerConfig()
	require.NoError(t, err)
	assert.Equal(t, 9000, server.Port)

	c.Invalidate()
	_, err = c.LoadConfig()
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = NewProvider("etcd", "x")
	assert.Error(t, err)
}
