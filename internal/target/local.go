package target

import (
	"context"
	"time"

	"github.com/covfuzz/covfuzz/internal/coverage"
)

// LocalFunc is a target harness that runs in-process: it receives the
// delivered sample and returns the same outcome shape a real out-of-process
// Executor would produce after decoding a shared-memory coverage map. It
// exists so engine tests can exercise the RunSample pipeline without a real
// subprocess or instrumentation.
type LocalFunc func(sample []byte) RunOutcome

// LocalExecutor is a test-only Executor that calls a Go function directly
// instead of spawning a child process. It has no init/measured timeout
// distinction and no shared memory; Close and Clean are no-ops beyond
// bookkeeping.
type LocalExecutor struct {
	Fn      LocalFunc
	ignore  *coverage.Coverage
	cleaned int
	closed  bool
}

// NewLocalExecutor wraps fn as an Executor.
func NewLocalExecutor(fn LocalFunc) *LocalExecutor {
	return &LocalExecutor{Fn: fn}
}

func (e *LocalExecutor) RunSampleAndGetCoverage(ctx context.Context, delivery SampleDelivery, sample []byte, initTimeout, timeout time.Duration) (RunOutcome, error) {
	if delivery != nil {
		if err := delivery.Deliver(sample); err != nil {
			return RunOutcome{}, err
		}
	}
	outcome := e.Fn(sample)
	if outcome.Coverage == nil {
		outcome.Coverage = coverage.New()
	}
	if e.ignore != nil && !e.ignore.Empty() {
		outcome.Coverage = coverage.Difference(e.ignore, outcome.Coverage)
	}
	return outcome, nil
}

func (e *LocalExecutor) Clean() error {
	e.cleaned++
	return nil
}

func (e *LocalExecutor) IgnoreCoverage(cov *coverage.Coverage) {
	e.ignore = cov
}

func (e *LocalExecutor) Close() error {
	e.closed = true
	return nil
}
