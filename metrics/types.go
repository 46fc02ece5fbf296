package metrics

// Value is a single observation.
type Value float64

// Dimension labels a series, e.g. {"lane": "0"}. Observations of one metric
// should always carry the same keys.
type Dimension map[string]string

// With returns a copy of d with key set to value.
func (d Dimension) With(key, value string) Dimension {
	out := make(Dimension, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	out[key] = value
	return out
}
