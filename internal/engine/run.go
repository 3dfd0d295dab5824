package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/covfuzz/covfuzz/internal/coverage"
	"github.com/covfuzz/covfuzz/internal/hash"
	"github.com/covfuzz/covfuzz/internal/mutate"
	"github.com/covfuzz/covfuzz/internal/sample"
	"github.com/covfuzz/covfuzz/internal/target"
	"github.com/covfuzz/covfuzz/internal/xlog"
)

// crashDescPattern matches the wire protocol's validation rule for crash
// descriptions (spec §4.H's ReportCrash: "[A-Za-z0-9_-]+").
var crashDescPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// runSampleAndGetCoverage executes s once through w's executor, retrying a
// failed delivery up to DeliveryRetryTimes with an intervening Clean, and
// handles crash/hang side effects (immediate save/dedup) inline, exactly
// as spec §4.G's RunSampleAndGetCoverage does.
func (e *Engine) runSampleAndGetCoverage(ctx context.Context, w *worker, s *sample.Sample, initTimeout, timeout time.Duration) (target.RunOutcome, error) {
	delivered := s
	if e.opts.OutputFilter != nil {
		if filtered, ok := e.opts.OutputFilter(s); ok {
			delivered = filtered
		}
	}

	e.recordExec()

	outcome, err := w.deps.Executor.RunSampleAndGetCoverage(ctx, w.deps.Delivery, delivered.Bytes(), initTimeout, timeout)
	if err != nil {
		xlog.Workerf(w.id, 0, "error running sample, cleaning target and retrying: %v", err)
		if cerr := w.deps.Executor.Clean(); cerr != nil {
			xlog.Workerf(w.id, 0, "error cleaning target: %v", cerr)
		}
		var lastErr error
		succeeded := false
		for retry := 0; retry < DeliveryRetryTimes; retry++ {
			e.recordExec()
			outcome, lastErr = w.deps.Executor.RunSampleAndGetCoverage(ctx, w.deps.Delivery, delivered.Bytes(), initTimeout, timeout)
			if lastErr == nil {
				xlog.Workerf(w.id, 0, "sample delivery completed successfully after %d retries", retry+1)
				succeeded = true
				break
			}
		}
		if !succeeded {
			xlog.Fatalf("repeatedly failed to run sample: %v", lastErr)
		}
	}

	if outcome.Coverage == nil {
		outcome.Coverage = coverage.New()
	}

	switch outcome.Result {
	case target.Crash:
		e.handleCrash(ctx, w, s, initTimeout, timeout, outcome.CrashDesc)
	case target.Hang:
		e.handleHang(s)
	}

	return outcome, nil
}

func (e *Engine) handleHang(s *sample.Sample) {
	n := atomic.AddUint64(&e.numHangs, 1)
	if !e.opts.SaveHangs {
		return
	}
	e.outputMu.Lock()
	defer e.outputMu.Unlock()
	outfile := filepath.Join(e.hangsDir, fmt.Sprintf("hang_%d", n-1))
	if err := s.Save(outfile); err != nil {
		xlog.Logf(0, "error saving hang sample: %v", err)
	}
}

func (e *Engine) handleCrash(ctx context.Context, w *worker, s *sample.Sample, initTimeout, timeout time.Duration, crashDesc string) {
	atomic.AddUint64(&e.numCrashes, 1)

	if crashDesc == "" {
		// The executor gave us nothing to key dedup on (no symbolized
		// stack). Fall back to a signature over the crashing input itself
		// so unrelated crashes don't collapse into one dedup bucket.
		crashDesc = hash.CrashSignature(s.Bytes())
	}

	reproduced := false
	if e.opts.CrashReproduceRetries > 0 {
		reproduced = e.tryReproduceCrash(ctx, w, s, initTimeout, timeout)
	}
	if !reproduced {
		crashDesc = "flaky_" + crashDesc
	}
	if !crashDescPattern.MatchString(crashDesc) {
		xlog.Workerf(w.id, 0, "dropping crash with malformed description %q", crashDesc)
		return
	}

	shouldSave := false
	duplicates := 0

	e.crashMu.Lock()
	if _, ok := e.uniqueCrashes[crashDesc]; !ok {
		e.uniqueCrashes[crashDesc] = 1
		shouldSave = true
		duplicates = 1
		atomic.AddUint64(&e.numUniqueCrashes, 1)
	} else if e.uniqueCrashes[crashDesc] < MaxIdenticalCrashes {
		e.uniqueCrashes[crashDesc]++
		shouldSave = true
		duplicates = e.uniqueCrashes[crashDesc]
	}
	e.crashMu.Unlock()

	if !shouldSave {
		return
	}

	filename := fmt.Sprintf("%s_%d", crashDesc, duplicates)
	e.outputMu.Lock()
	err := s.Save(filepath.Join(e.crashDir, filename))
	e.outputMu.Unlock()
	if err != nil {
		xlog.Workerf(w.id, 0, "error saving crash sample: %v", err)
		return
	}

	if e.opts.Federation != nil {
		if err := e.opts.Federation.ReportCrash(s, crashDesc); err != nil {
			xlog.Workerf(w.id, 0, "error reporting crash to server: %v", err)
		}
	}
}

// tryReproduceCrash re-runs s up to CrashReproduceRetries times under the
// same executor, looking for a repeat crash to give the report a stable
// (non-flaky) name.
func (e *Engine) tryReproduceCrash(ctx context.Context, w *worker, s *sample.Sample, initTimeout, timeout time.Duration) bool {
	for i := 0; i < e.opts.CrashReproduceRetries; i++ {
		e.recordExec()
		if err := w.deps.Delivery.Deliver(s.Bytes()); err != nil {
			if cerr := w.deps.Executor.Clean(); cerr != nil {
				xlog.Workerf(w.id, 0, "error cleaning target: %v", cerr)
			}
			if err := w.deps.Delivery.Deliver(s.Bytes()); err != nil {
				xlog.Fatalf("repeatedly failed to deliver sample during crash reproduction: %v", err)
			}
		}
		outcome, err := w.deps.Executor.RunSampleAndGetCoverage(ctx, nil, s.Bytes(), initTimeout, timeout)
		if err == nil && outcome.Result == target.Crash {
			return true
		}
	}
	return false
}

// runSample is the central pipeline of spec §4.G: run once, gate on
// return-value interest and non-empty coverage, then a stability loop that
// separates stableCoverage from variableCoverage, then novelty admission.
func (e *Engine) runSample(ctx context.Context, w *worker, s *sample.Sample, trim, reportToServer bool, initTimeout, timeout time.Duration, original *sample.Sample) (outcome target.RunOutcome, hadNewCoverage bool, err error) {
	outcome, err = e.runSampleAndGetCoverage(ctx, w, s, initTimeout, timeout)
	if err != nil || outcome.Result != target.OK {
		return outcome, false, err
	}
	if e.opts.IsReturnValueInteresting != nil && !e.opts.IsReturnValueInteresting(outcome.ReturnValue) {
		return outcome, false, nil
	}
	if outcome.Coverage.Empty() {
		return outcome, false, nil
	}

	if !e.opts.IncrementalCoverage {
		newForThread := coverage.Difference(w.threadCoverage, outcome.Coverage)
		if newForThread.Empty() {
			return outcome, false, nil
		}
	}

	stableCoverage := outcome.Coverage.Clone()
	totalCoverage := outcome.Coverage.Clone()

	if e.opts.CleanTargetOnCoverage {
		if cerr := w.deps.Executor.Clean(); cerr != nil {
			xlog.Workerf(w.id, 0, "error cleaning target before stability retries: %v", cerr)
		}
	}

	for i := 0; i < e.opts.CoverageReproduceRetries; i++ {
		retryOutcome, rerr := e.runSampleAndGetCoverage(ctx, w, s, initTimeout, timeout)
		if rerr != nil || retryOutcome.Result != target.OK {
			return retryOutcome, false, rerr
		}
		coverage.Merge(totalCoverage, retryOutcome.Coverage)
		stableCoverage = coverage.Intersection(stableCoverage, retryOutcome.Coverage)
	}

	variableCoverage := coverage.Difference(stableCoverage, totalCoverage)

	newStable, newVariable := e.interestingSample(stableCoverage, variableCoverage)

	if !newStable.Empty() {
		hadNewCoverage = true

		if trim && e.opts.MinimizeSamples && w.deps.Minimizer != nil {
			e.minimizeSample(ctx, w, s, newStable, initTimeout, timeout)
		}

		if e.opts.Federation != nil && reportToServer {
			if ferr := e.opts.Federation.ReportNewCoverage(newStable, s); ferr != nil {
				xlog.Workerf(w.id, 0, "error reporting new coverage to server: %v", ferr)
			}
		}

		e.saveSample(w, s, initTimeout, timeout, original)
	}

	if !newVariable.Empty() && e.opts.Federation != nil && reportToServer {
		if ferr := e.opts.Federation.ReportNewCoverage(newVariable, nil); ferr != nil {
			xlog.Workerf(w.id, 0, "error reporting variable coverage to server: %v", ferr)
		}
	}

	if e.opts.IncrementalCoverage {
		w.deps.Executor.IgnoreCoverage(totalCoverage)
	} else {
		coverage.Merge(w.threadCoverage, totalCoverage)
	}

	return outcome, hadNewCoverage, nil
}

// interestingSample computes the portion of stable/variable coverage that
// is new to the whole run and merges both into fuzzerCoverage atomically
// (spec §4.G step 5 / §5's linearizable novelty admission).
func (e *Engine) interestingSample(stable, variable *coverage.Coverage) (newStable, newVariable *coverage.Coverage) {
	e.coverageMu.Lock()
	defer e.coverageMu.Unlock()
	newStable = coverage.Difference(e.fuzzerCoverage, stable)
	newVariable = coverage.Difference(e.fuzzerCoverage, variable)
	coverage.Merge(e.fuzzerCoverage, newStable)
	coverage.Merge(e.fuzzerCoverage, newVariable)
	return newStable, newVariable
}

// minimizeSample repeatedly asks w's minimizer for the next shrink,
// re-running the target to check that stable coverage is still produced,
// keeping shrinks that succeed and undoing ones that don't.
func (e *Engine) minimizeSample(ctx context.Context, w *worker, s *sample.Sample, stableCoverage *coverage.Coverage, initTimeout, timeout time.Duration) {
	mctx := w.deps.Minimizer.CreateContext(s)
	test := s.Clone()

	for w.deps.Minimizer.MinimizeStep(test, mctx) {
		outcome, err := e.runSampleAndGetCoverage(ctx, w, test, initTimeout, timeout)
		if err != nil || outcome.Result != target.OK {
			break
		}
		interesting := e.opts.IsReturnValueInteresting == nil || e.opts.IsReturnValueInteresting(outcome.ReturnValue)
		if !interesting || !coverage.Contains(outcome.Coverage, stableCoverage) {
			w.deps.Minimizer.ReportFail(test, mctx)
			test = s.Clone()
			continue
		}
		w.deps.Minimizer.ReportSuccess(test, mctx)
		s.Init(test.Bytes())
	}
}

// saveSample persists an admitted sample into the corpus, wiring hot
// offsets and range extraction the way spec §4.F's SaveSample does.
func (e *Engine) saveSample(w *worker, s *sample.Sample, initTimeout, timeout time.Duration, original *sample.Sample) {
	var ranges []mutate.Range
	if e.opts.TrackRanges && w.deps.RangeSource != nil {
		if r, err := w.deps.RangeSource.ExtractRanges(); err == nil {
			ranges = r
		}
	}

	stored := s.Clone()
	entry, err := e.corpus.SaveSample(stored)
	if err != nil {
		xlog.Workerf(w.id, 0, "error saving sample: %v", err)
		return
	}
	atomic.AddUint64(&e.numSamples, 1)
	entry.Ranges = ranges

	entry.MutatorContext = w.deps.Mutator.CreateSampleContext(entry.Sample)
	if e.opts.TrackHotOffsets {
		if recv, ok := entry.MutatorContext.(mutate.HotOffsetReceiver); ok {
			switch {
			case e.opts.KeepSamplesInMemory && e.trie != nil:
				recv.AddHotOffset(e.trie.AddSample(entry.Sample.Bytes()))
			case original != nil:
				recv.AddHotOffset(original.FindFirstDiff(entry.Sample))
			}
		}
	}

	e.registerAcceptedSample(entry.Sample)

	if !e.opts.KeepSamplesInMemory {
		entry.Sample.FreeMemory()
	}
}
