package steps

// Pad returns a copy of trace with front copies of the first sample prepended
// and back copies of the last sample appended.
func Pad(trace []float64, front, back int) ([]float64, error) {
	if front < 0 || back < 0 {
		return nil, invalid("padding counts must be non-negative, got front=%d back=%d", front, back)
	}
	if len(trace) == 0 {
		if front > 0 || back > 0 {
			return nil, invalid("cannot pad an empty trace")
		}
		return []float64{}, nil
	}

	padded := make([]float64, 0, len(trace)+front+back)
	for i := 0; i < front; i++ {
		padded = append(padded, trace[0])
	}
	padded = append(padded, trace...)
	last := trace[len(trace)-1]
	for i := 0; i < back; i++ {
		padded = append(padded, last)
	}
	return padded, nil
}

// Trim removes front and back samples, undoing Pad.
func Trim(trace []float64, front, back int) ([]float64, error) {
	if front < 0 || back < 0 || front+back > len(trace) {
		return nil, invalid("cannot trim %d+%d samples from a trace of %d", front, back, len(trace))
	}
	out := make([]float64, len(trace)-front-back)
	copy(out, trace[front:len(trace)-back])
	return out, nil
}
