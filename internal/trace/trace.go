// Package trace loads one-dimensional position traces from text files.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Partition selects the rows [Start, End) of the data file. Rows are counted
// over data lines only. A zero End reads to the end of the file.
type Partition struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// ErrEmptySelection is returned when the partition selects no samples.
var ErrEmptySelection = errors.New("trace selection is empty")

func (p Partition) validate() error {
	if p.Start < 0 || p.End < 0 {
		return fmt.Errorf("partition bounds must be non-negative, got start=%d end=%d", p.Start, p.End)
	}
	if p.End != 0 && p.End <= p.Start {
		return fmt.Errorf("partition end %d must be greater than start %d", p.End, p.Start)
	}
	return nil
}

// Load reads the trace at path.
func Load(path string, part Partition) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()

	samples, err := Read(f, part)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return samples, nil
}

// Read parses whitespace, comma or semicolon separated text and returns the
// first column of the selected rows. Blank lines and lines starting with '#'
// are skipped.
func Read(r io.Reader, part Partition) ([]float64, error) {
	if err := part.validate(); err != nil {
		return nil, err
	}

	var samples []float64
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	row, line := 0, 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if part.End != 0 && row >= part.End {
			break
		}
		if row < part.Start {
			row++
			continue
		}
		row++

		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ';' || r == ' ' || r == '\t'
		})
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid sample %q: %w", line, fields[0], err)
		}
		samples = append(samples, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading trace: %w", err)
	}
	if len(samples) == 0 {
		return nil, ErrEmptySelection
	}
	return samples, nil
}

// Write stores samples one per line in the format Read accepts.
func Write(w io.Writer, samples []float64) error {
	bw := bufio.NewWriter(w)
	for _, v := range samples {
		if _, err := bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
