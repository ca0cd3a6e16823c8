package segment

import "expvar"

// Metrics are the segment manager counters.
type Metrics struct {
	RecordsWritten *expvar.Int
	Flushes        *expvar.Int
	FlushErrors    *expvar.Int
}

// NewMetrics creates counters. With a non-empty prefix they are published
// under prefix_<name>; otherwise they stay private, which keeps tests from
// colliding on the global expvar registry.
func NewMetrics(prefix string) *Metrics {
	newInt := func(name string) *expvar.Int {
		if prefix == "" {
			return new(expvar.Int)
		}
		return expvar.NewInt(prefix + "_" + name)
	}
	return &Metrics{
		RecordsWritten: newInt("segment_records_written_total"),
		Flushes:        newInt("segment_flushes_total"),
		FlushErrors:    newInt("segment_flush_errors_total"),
	}
}
