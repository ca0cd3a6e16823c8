package compactor

import (
	"expvar"
	"sync"
	"time"

	"github.com/caio/go-tdigest/v4"
)

// Metrics are the compaction counters plus a write latency digest.
type Metrics struct {
	JobsStarted    *expvar.Int
	JobsCompleted  *expvar.Int
	JobsFailed     *expvar.Int
	JobsVetoed     *expvar.Int
	WriteRetries   *expvar.Int
	RetriesSkipped *expvar.Int
	RecordsWritten *expvar.Int
	EmptyPolls     *expvar.Int

	mu      sync.Mutex
	latency *tdigest.TDigest
}

// NewMetrics creates the counters. With a non-empty prefix they are
// published under prefix_<name> together with a write latency quantile
// map; otherwise they stay private.
func NewMetrics(prefix string) *Metrics {
	newInt := func(name string) *expvar.Int {
		if prefix == "" {
			return new(expvar.Int)
		}
		return expvar.NewInt(prefix + "_" + name)
	}
	td, _ := tdigest.New()
	m := &Metrics{
		JobsStarted:    newInt("compaction_jobs_started_total"),
		JobsCompleted:  newInt("compaction_jobs_completed_total"),
		JobsFailed:     newInt("compaction_jobs_failed_total"),
		JobsVetoed:     newInt("compaction_jobs_vetoed_total"),
		WriteRetries:   newInt("compaction_write_retries_total"),
		RetriesSkipped: newInt("compaction_write_retries_skipped_total"),
		RecordsWritten: newInt("compaction_records_written_total"),
		EmptyPolls:     newInt("compaction_empty_polls_total"),
		latency:        td,
	}
	if prefix != "" {
		expvar.Publish(prefix+"_compaction_write_latency_ms", expvar.Func(func() interface{} {
			return m.WriteLatencyQuantiles()
		}))
	}
	return m
}

// ObserveWrite records the duration of one write task.
func (m *Metrics) ObserveWrite(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.latency.Add(float64(d) / float64(time.Millisecond))
}

// WriteLatencyQuantiles returns p50/p90/p99 write latency in milliseconds.
func (m *Metrics) WriteLatencyQuantiles() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latency.Count() == 0 {
		return map[string]float64{}
	}
	return map[string]float64{
		"p50": m.latency.Quantile(0.5),
		"p90": m.latency.Quantile(0.9),
		"p99": m.latency.Quantile(0.99),
	}
}
