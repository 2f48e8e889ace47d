// Package export writes results tables to files and terminals.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/chrissnell/alphastep/internal/steps"
)

// Format is a results file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatJSON    Format = "json"
	FormatMsgPack Format = "msgpack"
)

// FormatForPath picks the format from a file extension. ".txt" is tab separated.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".tsv", ".txt":
		return FormatTSV, nil
	case ".json":
		return FormatJSON, nil
	case ".msgpack", ".mp":
		return FormatMsgPack, nil
	}
	return "", fmt.Errorf("cannot infer results format from %q", path)
}

// WriteFile writes table to path in the format implied by its extension.
func WriteFile(path string, table steps.Table) error {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Write(f, table, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write encodes table to w.
func Write(w io.Writer, table steps.Table, format Format) error {
	switch format {
	case FormatCSV:
		return writeDelimited(w, table, ',')
	case FormatTSV:
		return writeDelimited(w, table, '\t')
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(table)
	case FormatMsgPack:
		enc := msgpack.NewEncoder(w)
		enc.SetCustomStructTag("json")
		return enc.Encode(table)
	}
	return fmt.Errorf("unsupported results format %q", format)
}

// writeDelimited writes the header row followed by one row per step.
func writeDelimited(w io.Writer, table steps.Table, comma rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(steps.Headings); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	for _, values := range table.Records() {
		record := make([]string, len(values))
		for i, v := range values {
			record[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("error writing row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadDelimited parses a table written by WriteFile in CSV or TSV format.
func ReadDelimited(r io.Reader, comma rune) ([][]float64, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("results file is empty")
	}
	if strings.Join(records[0], ",") != strings.Join(steps.Headings, ",") {
		return nil, fmt.Errorf("unexpected header %v", records[0])
	}
	rows := make([][]float64, 0, len(records)-1)
	for i, rec := range records[1:] {
		row := make([]float64, len(rec))
		for j, s := range rec {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i+1, steps.Headings[j], err)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// PrintTable renders the per-step columns and the summary for a terminal.
func PrintTable(w io.Writer, table steps.Table) error {
	perStep := steps.Headings[:8]
	header := make([]any, len(perStep))
	for i, h := range perStep {
		header[i] = h
	}

	tbl := tablewriter.NewWriter(w)
	tbl.Header(header...)
	for _, values := range table.Records() {
		row := make([]string, len(perStep))
		for i := range perStep {
			row[i] = fmt.Sprintf("%.4g", values[i])
		}
		if err := tbl.Append(row); err != nil {
			return err
		}
	}
	if err := tbl.Render(); err != nil {
		return err
	}

	s := table.Summary
	summary := tablewriter.NewWriter(w)
	summary.Header("metric", "value")
	for _, kv := range []struct {
		name  string
		value float64
	}{
		{"steps", float64(s.Steps)},
		{"processivity", s.Processivity},
		{"average rate", s.AverageRate},
		{"average dwell", s.AverageDwell},
		{"average width", s.AverageWidth},
		{"overall dwell", s.OverallDwell},
		{"overall turns", s.OverallTurns},
		{"overall rate", s.OverallRate},
	} {
		if err := summary.Append([]string{kv.name, fmt.Sprintf("%.6g", kv.value)}); err != nil {
			return err
		}
	}
	return summary.Render()
}
