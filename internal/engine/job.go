package engine

import (
	"context"

	"github.com/covfuzz/covfuzz/internal/mutate"
	"github.com/covfuzz/covfuzz/internal/sample"
	"github.com/covfuzz/covfuzz/internal/target"
	"github.com/covfuzz/covfuzz/internal/xlog"
)

// fuzzJob mutates entry.Sample repeatedly and runs each mutant through the
// pipeline until the mutator has nothing left to try this round (spec
// §4.G's FuzzJob), discarding the entry if it produces too many hangs or
// crashes relative to its run count.
func (e *Engine) fuzzJob(w *worker, job *Job) {
	ctx := context.Background()
	entry := job.Entry

	w.deps.Mutator.InitRound(entry.Sample, entry.MutatorContext)
	if e.opts.TrackRanges {
		if setter, ok := entry.MutatorContext.(mutate.RangeSetter); ok {
			setter.SetRanges(entry.Ranges)
		}
	}

	xlog.Workerf(w.id, 0, "fuzzing sample %05d", entry.Index)

	if err := entry.Sample.EnsureLoaded(); err != nil {
		xlog.Workerf(w.id, 0, "error loading sample %05d: %v", entry.Index, err)
		return
	}

	for {
		mutated := entry.Sample.Clone()
		if !w.deps.Mutator.Mutate(mutated, w.deps.PRNG, w.allSamplesLocal, entry.MutatorContext) {
			break
		}
		if mutated.Size() > e.opts.MaxSampleSize {
			continue
		}

		outcome, hadNewCoverage, err := e.runSample(ctx, w, mutated, true, true, e.opts.InitTimeout, e.opts.Timeout, entry.Sample)
		if err != nil {
			xlog.Workerf(w.id, 0, "error running mutated sample: %v", err)
			continue
		}
		e.corpus.AdjustSamplePriority(entry, hadNewCoverage)
		result := toMutateResult(outcome.Result)
		w.deps.Mutator.NotifyResult(entry.MutatorContext, result, hadNewCoverage)

		entry.NumRuns++
		if hadNewCoverage {
			entry.NumNewCoverage++
			if e.opts.TrackHotOffsets {
				if recv, ok := entry.MutatorContext.(mutate.HotOffsetReceiver); ok {
					recv.AddHotOffset(entry.Sample.FindFirstDiff(mutated))
				}
			}
		}

		if outcome.Result == target.Hang {
			entry.NumHangs++
		}
		if outcome.Result == target.Crash {
			entry.NumCrashes++
		}

		if entry.NumHangs > HangDiscardThreshold && float64(entry.NumHangs) > float64(entry.NumRuns)*e.opts.AcceptableHangRatio {
			xlog.Workerf(w.id, 0, "sample %05d produces too many hangs, discarding", entry.Index)
			job.DiscardEntry = true
			break
		}
		if entry.NumCrashes > CrashDiscardThreshold && float64(entry.NumCrashes) > float64(entry.NumRuns)*e.opts.AcceptableCrashRatio {
			xlog.Workerf(w.id, 0, "sample %05d produces too many crashes, discarding", entry.Index)
			job.DiscardEntry = true
			break
		}
	}

	if !e.opts.KeepSamplesInMemory {
		entry.Sample.FreeMemory()
	}
}

func toMutateResult(r target.Result) mutate.Result {
	switch r {
	case target.Crash:
		return mutate.ResultCrash
	case target.Hang:
		return mutate.ResultHang
	case target.OtherError:
		return mutate.ResultOtherError
	default:
		return mutate.ResultOK
	}
}

// processSample runs an ingest/server/generated sample once, without
// trimming or reporting to the server (spec §4.G's ProcessSample).
func (e *Engine) processSample(w *worker, job Job) {
	ctx := context.Background()
	s := sample.New(job.Sample.Data)

	outcome, hadNewCoverage, err := e.runSample(ctx, w, s, false, false, e.opts.InitTimeout, e.opts.CorpusTimeout, nil)
	if err != nil {
		xlog.Workerf(w.id, 0, "error running input sample %s: %v", job.Sample.Origin, err)
		return
	}

	switch {
	case outcome.Result == target.Crash:
		xlog.Workerf(w.id, 0, "input sample %s resulted in a crash", job.Sample.Origin)
	case outcome.Result == target.Hang:
		xlog.Workerf(w.id, 0, "input sample %s resulted in a hang", job.Sample.Origin)
	case !hadNewCoverage:
		if e.opts.AddAllInputs {
			e.saveSample(w, s, e.opts.InitTimeout, e.opts.CorpusTimeout, nil)
		} else if e.stateSnapshot() != GeneratingSamples {
			xlog.Workerf(w.id, 0, "input sample %s has no new stable coverage", job.Sample.Origin)
		}
	}
}
