// Package render draws a trace with its fitted step model.
package render

import (
	"errors"
	"fmt"
	"io"
	"math"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/chrissnell/alphastep/internal/steps"
)

// Format is an output image format.
type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
)

// ParseFormat maps a file extension or name to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "png", ".png", "PNG":
		return FormatPNG, nil
	case "svg", ".svg", "SVG":
		return FormatSVG, nil
	}
	return "", fmt.Errorf("unsupported image format %q", s)
}

// OverlayOptions controls which series are drawn.
type OverlayOptions struct {
	Title        string
	ShowSmoothed bool
	Width        int
	Height       int
}

// Series is one line of the figure in time units.
type Series struct {
	Name string
	X    []float64
	Y    []float64
}

// Figure holds the series of an overlay plot.
type Figure struct {
	Title  string
	XLabel string
	YLabel string
	Width  int
	Height int
	Series []Series
}

// Overlay builds the raw trace, the optional smoothed trace and the fitted
// staircase of an analysis.
func Overlay(an *steps.Analysis, opts OverlayOptions) (*Figure, error) {
	if an == nil || len(an.Padded) == 0 {
		return nil, errors.New("nothing to plot")
	}
	dt := an.Config.DT
	fig := &Figure{
		Title:  opts.Title,
		XLabel: "time",
		YLabel: "position",
		Width:  opts.Width,
		Height: opts.Height,
	}
	if fig.Title == "" {
		fig.Title = "step fit"
	}

	times := make([]float64, len(an.Padded))
	for i := range times {
		times[i] = float64(i) * dt
	}
	fig.Series = append(fig.Series, Series{Name: "raw", X: times, Y: an.Padded})

	if opts.ShowSmoothed && len(an.Smoothed) == len(an.Padded) && an.Config.SmoothingMethod != steps.SmoothNone {
		fig.Series = append(fig.Series, Series{Name: string(an.Config.SmoothingMethod), X: times, Y: an.Smoothed})
	}

	if final := an.Final(); final != nil {
		fig.Series = append(fig.Series, staircase(final.Steps, dt))
	}
	return fig, nil
}

// staircase draws each step as a horizontal segment joined by vertical edges.
func staircase(fitted []steps.Step, dt float64) Series {
	s := Series{Name: "fit"}
	for _, st := range fitted {
		s.X = append(s.X, float64(st.Start)*dt, float64(st.End)*dt)
		s.Y = append(s.Y, st.Level, st.Level)
	}
	return s
}

var palette = []chart.Style{
	{StrokeColor: chart.ColorAlternateGray, StrokeWidth: 1},
	{StrokeColor: chart.ColorOrange, StrokeWidth: 1.5},
	{StrokeColor: chart.ColorRed, StrokeWidth: 2},
}

// Render draws the figure.
func (f *Figure) Render(w io.Writer, format Format) error {
	if len(f.Series) == 0 {
		return errors.New("figure has no series")
	}

	ch := chart.Chart{
		Title:  f.Title,
		Width:  f.Width,
		Height: f.Height,
		XAxis:  chart.XAxis{Name: f.XLabel},
		YAxis:  chart.YAxis{Name: f.YLabel},
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for i, s := range f.Series {
		style := palette[min(i, len(palette)-1)]
		if i == len(f.Series)-1 && s.Name == "fit" {
			style = palette[len(palette)-1]
		}
		ch.Series = append(ch.Series, chart.ContinuousSeries{
			Name:    s.Name,
			XValues: s.X,
			YValues: s.Y,
			Style:   style,
		})
		for _, y := range s.Y {
			lo, hi = math.Min(lo, y), math.Max(hi, y)
		}
	}
	// go-chart rejects a zero-height range.
	if hi-lo == 0 {
		ch.YAxis.Range = &chart.ContinuousRange{Min: lo - 1, Max: hi + 1}
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	switch format {
	case FormatPNG:
		return ch.Render(chart.PNG, w)
	case FormatSVG:
		return ch.Render(chart.SVG, w)
	}
	return fmt.Errorf("unsupported image format %q", format)
}
