package engine

import (
	"github.com/covfuzz/covfuzz/internal/coverage"
	"github.com/covfuzz/covfuzz/internal/minimize"
	"github.com/covfuzz/covfuzz/internal/mutate"
	"github.com/covfuzz/covfuzz/internal/rng"
	"github.com/covfuzz/covfuzz/internal/sample"
	"github.com/covfuzz/covfuzz/internal/target"
)

// WorkerDeps are the per-thread collaborators a WorkerFactory builds: every
// worker owns its own PRNG (spec §4.A, "no sharing") and its own target
// process, so none of these are safe to share across workers.
type WorkerDeps struct {
	PRNG        rng.Source
	Mutator     mutate.Mutator
	Executor    target.Executor
	Delivery    target.SampleDelivery
	Minimizer   minimize.Minimizer  // nil disables minimization
	RangeSource target.RangeSource  // nil disables range tracking
}

// WorkerFactory builds the collaborators for worker threadID.
type WorkerFactory func(threadID int) WorkerDeps

// worker is the running state of one fuzzing thread, equivalent to the
// original engine's ThreadContext.
type worker struct {
	id   int
	deps WorkerDeps

	allSamplesLocal     []*sample.Sample // lazily grown replica of engine.allSamples for splice mutators
	coverageInitialized bool
	threadCoverage       *coverage.Coverage // secondary novelty gate when !IncrementalCoverage
}

func newWorker(id int, deps WorkerDeps) *worker {
	return &worker{id: id, deps: deps, threadCoverage: coverage.New()}
}
