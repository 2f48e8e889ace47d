package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chrissnell/alphastep/internal/steps"
)

// ErrProfileNotFound is returned when a named analysis profile does not exist.
var ErrProfileNotFound = errors.New("analysis profile not found")

// DefaultProfile is the profile used when none is named.
const DefaultProfile = "default"

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetAnalysis(profile string) (*AnalysisData, error)
	GetStorageConfig() (*StorageData, error)
	GetServerConfig() (*ServerData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Analysis AnalysisData            `json:"analysis" yaml:"analysis"`
	Profiles map[string]AnalysisData `json:"profiles,omitempty" yaml:"profiles,omitempty"`
	Storage  StorageData             `json:"storage,omitempty" yaml:"storage,omitempty"`
	Server   ServerData              `json:"server,omitempty" yaml:"server,omitempty"`
	Output   OutputData              `json:"output,omitempty" yaml:"output,omitempty"`
}

// Profile returns the named analysis profile. The empty name and "default"
// select the top-level analysis section.
func (c *ConfigData) Profile(name string) (*AnalysisData, error) {
	if name == "" || name == DefaultProfile {
		a := c.Analysis
		return &a, nil
	}
	a, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return &a, nil
}

// AnalysisData holds the engine parameters. Zero values keep the engine
// defaults, so only the parameters a user cares about need to be listed.
type AnalysisData struct {
	DT              float64       `json:"dt,omitempty" yaml:"dt,omitempty"`
	DetectionWindow int           `json:"detection_window,omitempty" yaml:"detection_window,omitempty"`
	MinP            float64       `json:"min_p_threshold,omitempty" yaml:"min_p_threshold,omitempty"`
	MaxP            float64       `json:"max_p_threshold,omitempty" yaml:"max_p_threshold,omitempty"`
	Exclusion       float64       `json:"exclusion,omitempty" yaml:"exclusion,omitempty"`
	FrontPad        int           `json:"front_pad,omitempty" yaml:"front_pad,omitempty"`
	BackPad         int           `json:"back_pad,omitempty" yaml:"back_pad,omitempty"`
	Smoothing       SmoothingData `json:"smoothing,omitempty" yaml:"smoothing,omitempty"`
	FitData         string        `json:"fit_data,omitempty" yaml:"fit_data,omitempty"`
	DetectionMethod string        `json:"detection_method,omitempty" yaml:"detection_method,omitempty"`
	Test            string        `json:"test,omitempty" yaml:"test,omitempty"`
	OneSided        bool          `json:"one_sided,omitempty" yaml:"one_sided,omitempty"`
	PELTPenalty     float64       `json:"pelt_penalty,omitempty" yaml:"pelt_penalty,omitempty"`

	Schedule            []int   `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	DivergenceTolerance float64 `json:"divergence_tolerance,omitempty" yaml:"divergence_tolerance,omitempty"`
	EdgeWidth           float64 `json:"edge_width,omitempty" yaml:"edge_width,omitempty"`
	BoundaryScale       float64 `json:"boundary_scale,omitempty" yaml:"boundary_scale,omitempty"`

	// BaselineMode is "first-level" or "fixed". A non-zero Baseline with no
	// mode selects "fixed".
	BaselineMode string  `json:"baseline_mode,omitempty" yaml:"baseline_mode,omitempty"`
	Baseline     float64 `json:"baseline,omitempty" yaml:"baseline,omitempty"`
	UnitsPerTurn float64 `json:"units_per_turn,omitempty" yaml:"units_per_turn,omitempty"`

	// AutoWindow replaces DetectionWindow with the window chosen by BIC.
	AutoWindow   bool             `json:"auto_window,omitempty" yaml:"auto_window,omitempty"`
	WindowSearch WindowSearchData `json:"window_search,omitempty" yaml:"window_search,omitempty"`
}

// SmoothingData configures the pre-detection filter.
type SmoothingData struct {
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	Window int    `json:"window,omitempty" yaml:"window,omitempty"`
	Order  int    `json:"order,omitempty" yaml:"order,omitempty"`
}

// WindowSearchData bounds automatic window selection.
type WindowSearchData struct {
	Min       int     `json:"min,omitempty" yaml:"min,omitempty"`
	Max       int     `json:"max,omitempty" yaml:"max,omitempty"`
	Order     int     `json:"order,omitempty" yaml:"order,omitempty"`
	Tolerance float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
}

// StorageData selects the run store. An empty driver disables persistence.
type StorageData struct {
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// ServerData holds the REST server settings.
type ServerData struct {
	ListenAddr string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
	Port       int    `json:"port,omitempty" yaml:"port,omitempty"`
	Cert       string `json:"cert,omitempty" yaml:"cert,omitempty"`
	Key        string `json:"key,omitempty" yaml:"key,omitempty"`
	MaxSamples int    `json:"max_samples,omitempty" yaml:"max_samples,omitempty"`
}

// OutputData holds default output paths for the CLI.
type OutputData struct {
	Results string `json:"results,omitempty" yaml:"results,omitempty"`
	Plot    string `json:"plot,omitempty" yaml:"plot,omitempty"`
}

// EngineConfig overlays the non-zero fields of a onto the engine defaults.
func (a AnalysisData) EngineConfig() (steps.Config, error) {
	cfg := steps.DefaultConfig()
	if a.DT != 0 {
		cfg.DT = a.DT
	}
	if a.DetectionWindow != 0 {
		cfg.DetectionWindow = a.DetectionWindow
	}
	cfg.MinP = a.MinP
	if a.MaxP != 0 {
		cfg.MaxP = a.MaxP
	}
	cfg.Exclusion = a.Exclusion
	cfg.FrontPad = a.FrontPad
	cfg.BackPad = a.BackPad

	method, err := steps.ParseSmoothingMethod(a.Smoothing.Method)
	if err != nil {
		return steps.Config{}, err
	}
	cfg.SmoothingMethod = method
	cfg.SmoothingWindow = a.Smoothing.Window
	if a.Smoothing.Order != 0 {
		cfg.SmoothingOrder = a.Smoothing.Order
	}

	if a.FitData != "" {
		cfg.FitData = steps.FitData(a.FitData)
	}
	if a.DetectionMethod != "" {
		cfg.DetectionMethod = steps.DetectionMethod(a.DetectionMethod)
	}
	if a.Test != "" {
		cfg.Test = steps.TestKind(a.Test)
	}
	cfg.OneSided = a.OneSided
	cfg.PELTPenalty = a.PELTPenalty

	if len(a.Schedule) > 0 {
		cfg.Schedule = append([]int(nil), a.Schedule...)
	}
	if a.DivergenceTolerance != 0 {
		cfg.DivergenceTolerance = a.DivergenceTolerance
	}
	if a.EdgeWidth != 0 {
		cfg.EdgeWidth = a.EdgeWidth
	}
	if a.BoundaryScale != 0 {
		cfg.BoundaryScale = a.BoundaryScale
	}
	cfg.Baseline = a.Baseline
	switch {
	case a.BaselineMode != "":
		cfg.BaselineMode = steps.BaselineMode(a.BaselineMode)
	case a.Baseline != 0:
		cfg.BaselineMode = steps.BaselineFixed
	}
	if a.UnitsPerTurn != 0 {
		cfg.UnitsPerTurn = a.UnitsPerTurn
	}

	if err := cfg.Validate(); err != nil {
		return steps.Config{}, err
	}
	return cfg, nil
}

// Search returns the window search bounds with defaults filled in.
func (w WindowSearchData) Search() steps.WindowSearch {
	s := steps.DefaultWindowSearch()
	if w.Min != 0 {
		s.Min = w.Min
	}
	if w.Max != 0 {
		s.Max = w.Max
	}
	if w.Order != 0 {
		s.Order = w.Order
	}
	if w.Tolerance != 0 {
		s.Tolerance = w.Tolerance
	}
	return s
}

// NewProvider opens a provider by backend name: "yaml" or "sqlite".
func NewProvider(backend, path string) (ConfigProvider, error) {
	switch backend {
	case "", "yaml":
		return NewYAMLProvider(path), nil
	case "sqlite":
		return NewSQLiteProvider(path)
	}
	return nil, fmt.Errorf("unsupported config backend %q (use yaml or sqlite)", backend)
}

// CachedProvider wraps a ConfigProvider and loads the configuration once.
type CachedProvider struct {
	provider ConfigProvider
	mu       sync.RWMutex
	cached   *ConfigData
}

// NewCachedProvider creates a provider that serves repeated reads from memory
func NewCachedProvider(provider ConfigProvider) *CachedProvider {
	return &CachedProvider{provider: provider}
}

// LoadConfig returns the cached configuration, loading it on first use.
func (c *CachedProvider) LoadConfig() (*ConfigData, error) {
	c.mu.RLock()
	cfg := c.cached
	c.mu.RUnlock()
	if cfg != nil {
		return cfg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != nil {
		return c.cached, nil
	}
	cfg, err := c.provider.LoadConfig()
	if err != nil {
		return nil, err
	}
	c.cached = cfg
	return cfg, nil
}

// Invalidate drops the cached configuration.
func (c *CachedProvider) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

func (c *CachedProvider) GetAnalysis(profile string) (*AnalysisData, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.Profile(profile)
}

func (c *CachedProvider) GetStorageConfig() (*StorageData, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}
	s := cfg.Storage
	return &s, nil
}

func (c *CachedProvider) GetServerConfig() (*ServerData, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}
	s := cfg.Server
	return &s, nil
}

func (c *CachedProvider) IsReadOnly() bool {
	return c.provider.IsReadOnly()
}

func (c *CachedProvider) Close() error {
	return c.provider.Close()
}
