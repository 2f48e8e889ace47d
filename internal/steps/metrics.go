package steps

// Headings is the fixed column order of the results table.
var Headings = []string{
	"step height",
	"step width",
	"dwell time",
	"step rate",
	"step start",
	"Processivity",
	"dwell position",
	"step position",
	"average rate",
	"average dwell",
	"average width",
	"overall dwell",
	"overall turns",
	"overall rate",
}

// MetricsRow is one fitted step. The trailing aggregate fields repeat the
// table summary on every row so each row matches Headings.
type MetricsRow struct {
	Height        float64 `json:"step_height" msgpack:"step_height"`
	Width         float64 `json:"step_width" msgpack:"step_width"`
	Dwell         float64 `json:"dwell_time" msgpack:"dwell_time"`
	Rate          float64 `json:"step_rate" msgpack:"step_rate"`
	Start         float64 `json:"step_start" msgpack:"step_start"`
	Processivity  float64 `json:"processivity" msgpack:"processivity"`
	DwellPosition float64 `json:"dwell_position" msgpack:"dwell_position"`
	StepPosition  float64 `json:"step_position" msgpack:"step_position"`
	AverageRate   float64 `json:"average_rate" msgpack:"average_rate"`
	AverageDwell  float64 `json:"average_dwell" msgpack:"average_dwell"`
	AverageWidth  float64 `json:"average_width" msgpack:"average_width"`
	OverallDwell  float64 `json:"overall_dwell" msgpack:"overall_dwell"`
	OverallTurns  float64 `json:"overall_turns" msgpack:"overall_turns"`
	OverallRate   float64 `json:"overall_rate" msgpack:"overall_rate"`
}

// Values returns the row in Headings order.
func (r MetricsRow) Values() []float64 {
	return []float64{
		r.Height, r.Width, r.Dwell, r.Rate, r.Start, r.Processivity,
		r.DwellPosition, r.StepPosition, r.AverageRate, r.AverageDwell,
		r.AverageWidth, r.OverallDwell, r.OverallTurns, r.OverallRate,
	}
}

// Summary holds the whole-trace aggregates.
type Summary struct {
	Steps        int     `json:"steps"`
	Processivity float64 `json:"processivity"`
	AverageRate  float64 `json:"average_rate"`
	AverageDwell float64 `json:"average_dwell"`
	AverageWidth float64 `json:"average_width"`
	OverallDwell float64 `json:"overall_dwell"`
	OverallTurns float64 `json:"overall_turns"`
	OverallRate  float64 `json:"overall_rate"`
}

// Table is the results table: Header is always Headings.
type Table struct {
	Header  []string     `json:"header"`
	Rows    []MetricsRow `json:"rows"`
	Summary Summary      `json:"summary"`
}

// Records returns every row as values in Headings order.
func (t Table) Records() [][]float64 {
	out := make([][]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Values()
	}
	return out
}

// MetricsConfig carries the parameters the aggregator needs.
type MetricsConfig struct {
	DT           float64
	BaselineMode BaselineMode
	Baseline     float64
	UnitsPerTurn float64
}

// MetricsConfigFrom extracts the aggregator parameters from an analysis config.
func MetricsConfigFrom(cfg Config) MetricsConfig {
	return MetricsConfig{
		DT:           cfg.DT,
		BaselineMode: cfg.BaselineMode,
		Baseline:     cfg.Baseline,
		UnitsPerTurn: cfg.UnitsPerTurn,
	}
}

// Aggregate derives the results table from a fit over a trace of n samples.
// Heights are recomputed from the step levels; the first is measured from the
// baseline selected by cfg.BaselineMode. A zero-length dwell yields a zero rate.
func Aggregate(fit *FitResult, n int, cfg MetricsConfig) Table {
	table := Table{Header: append([]string(nil), Headings...)}
	if fit == nil || len(fit.Steps) == 0 {
		return table
	}
	unitsPerTurn := cfg.UnitsPerTurn
	if unitsPerTurn == 0 {
		unitsPerTurn = 1
	}

	rows := make([]MetricsRow, len(fit.Steps))
	prev := baselineFor(cfg.BaselineMode, cfg.Baseline, fit.Steps[0].Level)
	var total, sumRate, sumDwell, sumWidth float64
	for i, s := range fit.Steps {
		height := s.Level - prev
		prev = s.Level
		width := float64(s.Len())
		dwell := width * cfg.DT
		rate := 0.0
		if dwell != 0 {
			rate = height / dwell
		}
		total += height

		rows[i] = MetricsRow{
			Height:        height,
			Width:         width,
			Dwell:         dwell,
			Rate:          rate,
			Start:         float64(s.Start),
			Processivity:  total,
			DwellPosition: float64(s.Start) * cfg.DT,
			StepPosition:  float64(s.Start+s.End) / 2 * cfg.DT,
		}
		sumRate += rate
		sumDwell += dwell
		sumWidth += width
	}

	count := float64(len(rows))
	summary := Summary{
		Steps:        len(rows),
		Processivity: total,
		AverageRate:  sumRate / count,
		AverageDwell: sumDwell / count,
		AverageWidth: sumWidth / count,
		OverallDwell: float64(n) * cfg.DT,
		OverallTurns: total / unitsPerTurn,
	}
	if summary.OverallDwell != 0 {
		summary.OverallRate = total / summary.OverallDwell
	}

	for i := range rows {
		rows[i].AverageRate = summary.AverageRate
		rows[i].AverageDwell = summary.AverageDwell
		rows[i].AverageWidth = summary.AverageWidth
		rows[i].OverallDwell = summary.OverallDwell
		rows[i].OverallTurns = summary.OverallTurns
		rows[i].OverallRate = summary.OverallRate
	}
	table.Rows = rows
	table.Summary = summary
	return table
}
