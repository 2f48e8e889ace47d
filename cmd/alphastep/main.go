package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/chrissnell/alphastep/internal/export"
	"github.com/chrissnell/alphastep/internal/log"
	"github.com/chrissnell/alphastep/internal/render"
	"github.com/chrissnell/alphastep/internal/steps"
	"github.com/chrissnell/alphastep/internal/storage"
	"github.com/chrissnell/alphastep/internal/trace"
	"github.com/chrissnell/alphastep/pkg/config"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

type options struct {
	cfgFile      string
	cfgBackend   string
	profile      string
	in           string
	part         trace.Partition
	out          string
	plot         string
	showSmoothed bool
	store        bool
	storeDriver  string
	storeDSN     string
	quiet        bool
}

// overrides holds the engine flags. Only flags given on the command line are
// applied to the selected profile.
type overrides struct {
	dt              *float64
	window          *int
	minP            *float64
	maxP            *float64
	exclusion       *float64
	frontPad        *int
	backPad         *int
	smoothing       *string
	smoothingWindow *int
	smoothingOrder  *int
	fitData         *string
	detector        *string
	baseline        *float64
	baselineMode    *string
	autoWindow      *bool
}

func registerFlags(fs *flag.FlagSet, opts *options) *overrides {
	fs.StringVar(&opts.cfgFile, "config", "", "Path to configuration source (YAML file or SQLite database); built-in defaults when empty")
	fs.StringVar(&opts.cfgBackend, "config-backend", "yaml", "Configuration backend type: 'yaml' or 'sqlite'")
	fs.StringVar(&opts.profile, "profile", config.DefaultProfile, "Analysis profile to use")
	fs.StringVar(&opts.in, "in", "", "Trace file to analyze ('-' reads standard input)")
	fs.IntVar(&opts.part.Start, "start", 0, "First data row to analyze")
	fs.IntVar(&opts.part.End, "end", 0, "Data row to stop before (0 reads to the end)")
	fs.StringVar(&opts.out, "out", "", "Results file (.csv, .tsv, .txt, .json, .msgpack)")
	fs.StringVar(&opts.plot, "plot", "", "Overlay plot of trace and fit (.png or .svg)")
	fs.BoolVar(&opts.showSmoothed, "show-smoothed", true, "Draw the smoothed trace on the plot")
	fs.BoolVar(&opts.store, "store", false, "Save the run to the configured run store")
	fs.StringVar(&opts.storeDriver, "store-driver", "", "Run store driver override: 'sqlite' or 'postgres'")
	fs.StringVar(&opts.storeDSN, "store-dsn", "", "Run store DSN override")
	fs.BoolVar(&opts.quiet, "quiet", false, "Do not print the results table")

	return &overrides{
		dt:              fs.Float64("dt", 0, "Sample interval"),
		window:          fs.Int("window", 0, "Detection window in samples"),
		minP:            fs.Float64("min-p", 0, "Lower p-value threshold"),
		maxP:            fs.Float64("max-p", 0, "Upper p-value threshold"),
		exclusion:       fs.Float64("exclusion", 0, "Minimum |height| of a change point"),
		frontPad:        fs.Int("front-pad", 0, "Samples replicated before the trace"),
		backPad:         fs.Int("back-pad", 0, "Samples replicated after the trace"),
		smoothing:       fs.String("smoothing", "", "Smoothing method: none, savitzky-golay, boxcar, cubic-spline, median"),
		smoothingWindow: fs.Int("smoothing-window", 0, "Smoothing window in samples"),
		smoothingOrder:  fs.Int("smoothing-order", 0, "Savitzky-Golay polynomial order"),
		fitData:         fs.String("fit-data", "", "Trace the model is fitted to: raw or smoothed"),
		detector:        fs.String("detector", "", "Change-point detector: ttest or pelt"),
		baseline:        fs.Float64("baseline", 0, "Fixed level the first step height is measured from"),
		baselineMode:    fs.String("baseline-mode", "", "First step height reference: first-level or fixed"),
		autoWindow:      fs.Bool("auto-window", false, "Choose the detection window by BIC"),
	}
}

// apply copies the overrides set on fs onto a. Flags are visited in
// lexical order, so -baseline-mode wins over the mode implied by -baseline.
func (o *overrides) apply(fs *flag.FlagSet, a *config.AnalysisData) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dt":
			a.DT = *o.dt
		case "window":
			a.DetectionWindow = *o.window
		case "min-p":
			a.MinP = *o.minP
		case "max-p":
			a.MaxP = *o.maxP
		case "exclusion":
			a.Exclusion = *o.exclusion
		case "front-pad":
			a.FrontPad = *o.frontPad
		case "back-pad":
			a.BackPad = *o.backPad
		case "smoothing":
			a.Smoothing.Method = *o.smoothing
		case "smoothing-window":
			a.Smoothing.Window = *o.smoothingWindow
		case "smoothing-order":
			a.Smoothing.Order = *o.smoothingOrder
		case "fit-data":
			a.FitData = *o.fitData
		case "detector":
			a.DetectionMethod = *o.detector
		case "baseline":
			a.Baseline = *o.baseline
			a.BaselineMode = string(steps.BaselineFixed)
		case "baseline-mode":
			a.BaselineMode = *o.baselineMode
		case "auto-window":
			a.AutoWindow = *o.autoWindow
		}
	})
}

func main() {
	fs := flag.NewFlagSet(filepath.Base(os.Args[0]), flag.ExitOnError)
	var opts options
	ov := registerFlags(fs, &opts)
	debug := fs.Bool("debug", false, "Turn on debugging output")
	showVersion := fs.Bool("version", false, "Show version and exit")
	fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("alphastep %s\n", version)
		os.Exit(0)
	}

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfgData, err := loadConfig(opts.cfgFile, opts.cfgBackend)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	analysis, err := cfgData.Profile(opts.profile)
	if err != nil {
		log.Errorf("Failed to select analysis profile: %v", err)
		os.Exit(1)
	}
	ov.apply(fs, analysis)

	if opts.out == "" {
		opts.out = cfgData.Output.Results
	}
	if opts.plot == "" {
		opts.plot = cfgData.Output.Plot
	}

	if err := run(context.Background(), os.Stdout, opts, analysis, cfgData.Storage); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func loadConfig(cfgFile, cfgBackend string) (*config.ConfigData, error) {
	if cfgFile == "" {
		return &config.ConfigData{}, nil
	}
	filename, _ := filepath.Abs(cfgFile)

	provider, err := config.NewProvider(cfgBackend, filename)
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	cfgData, err := provider.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error reading config file. Did you pass the -config flag? Run with -h for help: %w", err)
	}
	return cfgData, nil
}

func run(ctx context.Context, stdout io.Writer, opts options, analysis *config.AnalysisData, storageCfg config.StorageData) error {
	if opts.in == "" {
		return errors.New("no trace given; pass -in")
	}
	var samples []float64
	var err error
	if opts.in == "-" {
		samples, err = trace.Read(os.Stdin, opts.part)
	} else {
		samples, err = trace.Load(opts.in, opts.part)
	}
	if err != nil {
		return err
	}
	log.Infof("loaded %d samples from %s", len(samples), opts.in)

	cfg, err := analysis.EngineConfig()
	if err != nil {
		return err
	}
	if analysis.AutoWindow {
		var sel *steps.WindowSelection
		cfg, sel, err = steps.TuneDetectionWindow(samples, cfg, analysis.WindowSearch.Search())
		if err != nil {
			return fmt.Errorf("window selection: %w", err)
		}
		log.Infof("selected detection window %d (AIC %d, average %d)", sel.ByBIC, sel.ByAIC, sel.ByAverage)
	}

	analyzer, err := steps.NewAnalyzer(cfg, log.Named("steps"))
	if err != nil {
		return err
	}
	an, analyzeErr := analyzer.Analyze(samples)
	if an == nil {
		return analyzeErr
	}
	for _, w := range an.Warnings {
		log.Warnf("%s", w)
	}
	if final := an.Final(); final != nil {
		log.Infof("fitted %d steps in %d stages, rms %.4g", len(final.Steps), len(an.Run.Stages)-1, final.RMS)
	}

	if !opts.quiet {
		if err := export.PrintTable(stdout, an.Table); err != nil {
			return err
		}
	}
	if opts.out != "" {
		if err := export.WriteFile(opts.out, an.Table); err != nil {
			return err
		}
		log.Infof("wrote results to %s", opts.out)
	}
	if opts.plot != "" {
		if err := writePlot(opts, an); err != nil {
			return err
		}
		log.Infof("wrote plot to %s", opts.plot)
	}
	if opts.store {
		if err := saveRun(ctx, opts, storageCfg, an); err != nil {
			return err
		}
	}
	return analyzeErr
}

func writePlot(opts options, an *steps.Analysis) error {
	format, err := render.ParseFormat(strings.ToLower(filepath.Ext(opts.plot)))
	if err != nil {
		return err
	}
	fig, err := render.Overlay(an, render.OverlayOptions{
		Title:        filepath.Base(opts.in),
		ShowSmoothed: opts.showSmoothed,
	})
	if err != nil {
		return err
	}
	f, err := os.Create(opts.plot)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", opts.plot, err)
	}
	if err := fig.Render(f, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func saveRun(ctx context.Context, opts options, sc config.StorageData, an *steps.Analysis) error {
	if opts.storeDriver != "" {
		sc.Driver = opts.storeDriver
	}
	if opts.storeDSN != "" {
		sc.DSN = opts.storeDSN
	}
	if sc.Driver == "" {
		return errors.New("-store needs a storage driver in the config or -store-driver")
	}
	if sc.Driver == "sqlite" && sc.DSN == "" {
		sc.DSN = "alphastep.db"
	}

	store, err := storage.Open(ctx, sc.Driver, sc.DSN, log.Named("storage"))
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.SaveRun(ctx, storage.NewRunRecord(filepath.Base(opts.in), an))
	if err != nil {
		return err
	}
	log.Infof("saved run %s", id)
	return nil
}
