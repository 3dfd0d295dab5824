// Package target defines the collaborator contracts the engine drives a
// fuzz target through: running a sample and reading back coverage
// (Executor), handing sample bytes to the target process (SampleDelivery),
// and reading instrumented byte ranges back out of it (RangeSource). This
// package implements only FileDelivery, NoRangeSource and the test doubles
// LocalExecutor and ConstantRangeSource; the subprocess executor and range
// source live in cmd/covfuzz, which wires them in.
package target

import (
	"context"
	"time"

	"github.com/covfuzz/covfuzz/internal/coverage"
	"github.com/covfuzz/covfuzz/internal/mutate"
)

// Result is the first-class outcome of one target run. It is never
// surfaced as an error; delivery and executor plumbing failures are the
// only things that propagate as Go errors.
type Result int

const (
	OK Result = iota
	Crash
	Hang
	OtherError
)

func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case Crash:
		return "CRASH"
	case Hang:
		return "HANG"
	case OtherError:
		return "OTHER_ERROR"
	default:
		return "UNKNOWN"
	}
}

// RunOutcome is everything RunSampleAndGetCoverage learns from one
// execution of the target against a delivered sample.
type RunOutcome struct {
	Result      Result
	Coverage    *coverage.Coverage
	ReturnValue int
	// CrashDesc is set only when Result == Crash; it names the crashing
	// condition (e.g. a sanitizer report's first line) before any
	// dedup/flaky-prefix bookkeeping the engine layers on top.
	CrashDesc string
}

// Executor owns a running (or restartable) target process and the shared
// state needed to read its coverage back out. Implementations are not
// required to be safe for concurrent use by more than one worker; the
// engine gives each worker its own Executor.
type Executor interface {
	// RunSampleAndGetCoverage delivers sample via the given SampleDelivery
	// and executes the target once, applying initTimeout up to the first
	// rendezvous with the target and timeout for the measured iteration.
	RunSampleAndGetCoverage(ctx context.Context, delivery SampleDelivery, sample []byte, initTimeout, timeout time.Duration) (RunOutcome, error)

	// Clean restarts the underlying target process. Called after a hang
	// (the previous process is killed) and after repeated delivery
	// failures before a retry.
	Clean() error

	// IgnoreCoverage tells the executor to treat cov as already seen, so
	// subsequent RunSampleAndGetCoverage calls report only deltas. Used
	// when -incremental_coverage is set. A nil cov clears the ignore set.
	IgnoreCoverage(cov *coverage.Coverage)

	// Close releases the child process and any shared-memory mappings.
	Close() error
}

// SampleDelivery hands sample bytes to the target, by file drop or shared
// memory depending on -delivery. SampleDelivery itself does not retry:
// when a run fails with an error the engine calls Executor.Clean once and
// then retries the run up to DeliveryRetryTimes times.
type SampleDelivery interface {
	Deliver(sample []byte) error
}

// RangeSource reads back the byte ranges an instrumented target reports as
// touched during the last run (spec's -track_ranges), letting the Range
// composite mutator focus mutation on the bytes that mattered last time.
type RangeSource interface {
	ExtractRanges() ([]mutate.Range, error)
}

// DeliveryRetryTimes bounds how many times RunSample retries a failed
// delivery (with an intervening Executor.Clean) before giving up fatally.
const DeliveryRetryTimes = 100
