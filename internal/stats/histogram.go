package stats

import (
	"sync"

	"github.com/VividCortex/gohistogram"
)

// execRateBuckets matches pkg/stat's histogramBuckets choice for its
// per-sample distributions.
const execRateBuckets = 255

// ExecRateHistogram tracks the distribution of per-worker executions/sec
// samples for the status page, backed by gohistogram's streaming
// approximate histogram (grounded on pkg/stat/set.go's Distribution
// option, which uses the same library).
type ExecRateHistogram struct {
	mu   sync.Mutex
	hist *gohistogram.NumericHistogram
}

// NewExecRateHistogram returns an empty histogram.
func NewExecRateHistogram() *ExecRateHistogram {
	return &ExecRateHistogram{hist: gohistogram.NewHistogram(execRateBuckets)}
}

// Observe records one worker's executions/sec sample.
func (h *ExecRateHistogram) Observe(execsPerSec float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hist.Add(execsPerSec)
}

// Mean returns the running mean executions/sec across all observations.
func (h *ExecRateHistogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Mean()
}

// Quantile returns the estimated value at the given quantile (0..1).
// StatusHandler does not render it.
func (h *ExecRateHistogram) Quantile(q float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Quantile(q)
}
