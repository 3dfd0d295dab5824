package engine

import (
	"sync/atomic"
	"time"

	"github.com/covfuzz/covfuzz/internal/coverage"
	"github.com/covfuzz/covfuzz/internal/sample"
	"github.com/covfuzz/covfuzz/internal/xlog"
)

// synchronizeAndGetJob is the sole state-machine transition point (spec
// §4.G): every worker calls it before every job, and it is the only place
// FuzzerState ever changes. Side effects (restore, checkpoint, server
// sync) happen here too, all under queueMu, matching the original's
// "held across synchronize_and_get_job, never across target execution".
func (e *Engine) synchronizeAndGetJob(w *worker) Job {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	if e.state == RestoreNeeded {
		e.restoreStateLocked(w)
		e.state = InputSampleProcessing
	}

	if e.state == Fuzzing {
		now := time.Now()
		if e.lastSaveTime.IsZero() {
			e.lastSaveTime = now
		} else if now.Sub(e.lastSaveTime) > e.opts.SaveInterval {
			e.saveStateLocked()
			e.lastSaveTime = now
		}
	}

	if !w.coverageInitialized {
		if e.opts.IncrementalCoverage {
			e.coverageMu.Lock()
			w.deps.Executor.IgnoreCoverage(e.fuzzerCoverage.Clone())
			e.coverageMu.Unlock()
		}
		w.coverageInitialized = true
	}

	if len(e.allSamples) > len(w.allSamplesLocal) {
		w.allSamplesLocal = append(w.allSamplesLocal, e.allSamples[len(w.allSamplesLocal):]...)
	}

	if e.state == Fuzzing && e.opts.Federation != nil {
		now := time.Now()
		if e.lastServerSync.IsZero() {
			e.lastServerSync = now
		} else if now.Sub(e.lastServerSync) >= e.opts.ServerUpdateInterval {
			e.lastServerSync = now
			e.syncFromServerLocked(0)
			e.state = ServerSampleProcessing
		}
	}

	if e.state == InputSampleProcessing {
		if len(e.inputFiles) == 0 && e.samplesPending == 0 {
			if e.opts.Federation != nil {
				e.coverageMu.Lock()
				_ = e.opts.Federation.ReportNewCoverage(e.fuzzerCoverage, nil)
				e.coverageMu.Unlock()
				e.lastServerSync = time.Now()
				e.syncFromServerLocked(0)
				e.state = ServerSampleProcessing
			} else {
				e.state = Fuzzing
			}
		}
	}

	if e.state == ServerSampleProcessing {
		if len(e.serverSamples) == 0 && e.samplesPending == 0 {
			e.state = Fuzzing
		}
	}

	if e.state == Fuzzing && atomic.LoadUint64(&e.numSamples) == 0 {
		if w.deps.Mutator.CanGenerate() {
			xlog.Logf(0, "sample queue is empty, but the mutator supports sample generation")
			e.state = GeneratingSamples
		} else {
			xlog.Fatalf("no interesting input files")
		}
	}

	if e.state == GeneratingSamples && e.corpus.Len() >= MinSamplesToGenerate && e.samplesPending == 0 {
		e.state = Fuzzing
	}

	return e.selectJobLocked(w)
}

// syncFromServerLocked pulls new samples from the federation server into
// serverSamples. Must be called with queueMu held.
func (e *Engine) syncFromServerLocked(lastTimestamp uint64) {
	samples, _, err := e.opts.Federation.GetUpdates(atomic.LoadUint64(&e.totalExecs), lastTimestamp)
	if err != nil {
		xlog.Logf(0, "federation sync failed: %v", err)
		return
	}
	e.serverSamples = append(e.serverSamples, samples...)
}

func (e *Engine) selectJobLocked(w *worker) Job {
	switch e.state {
	case Fuzzing:
		if e.opts.DryRun {
			return Job{Type: Wait}
		}
		if entry := e.corpus.Pop(); entry != nil {
			return Job{Type: FuzzJobType, Entry: entry}
		}
		return Job{Type: Wait}

	case InputSampleProcessing:
		if len(e.inputFiles) == 0 {
			return Job{Type: Wait}
		}
		path := e.inputFiles[0]
		e.inputFiles = e.inputFiles[1:]
		xlog.Logf(0, "running input sample %s", path)
		s := sample.New(nil)
		if err := s.Load(path); err != nil {
			xlog.Fatalf("engine: loading input sample %s: %v", path, err)
		}
		if s.Size() > e.opts.MaxSampleSize {
			xlog.Logf(0, "input sample %s larger than maximum sample size, trimming", path)
			s.Trim(e.opts.MaxSampleSize)
		}
		e.samplesPending++
		return Job{Type: ProcessSampleJob, Sample: &sampleJobPayload{Data: s.Bytes(), Origin: path}}

	case ServerSampleProcessing:
		if len(e.serverSamples) == 0 {
			return Job{Type: Wait}
		}
		data := e.serverSamples[0]
		e.serverSamples = e.serverSamples[1:]
		e.samplesPending++
		return Job{Type: ProcessSampleJob, Sample: &sampleJobPayload{Data: data, Origin: "server"}}

	case GeneratingSamples:
		if e.corpus.Len() >= MinSamplesToGenerate {
			return Job{Type: Wait}
		}
		s := sample.New(nil)
		if !w.deps.Mutator.Generate(s, w.deps.PRNG) {
			return Job{Type: Wait}
		}
		e.samplesPending++
		return Job{Type: ProcessSampleJob, Sample: &sampleJobPayload{Data: s.Bytes(), Origin: "generated"}}

	default:
		return Job{Type: Wait}
	}
}

// jobDone finalizes bookkeeping for a completed job: discarded/requeued
// fuzz entries, or decrementing samplesPending for ingest jobs.
func (e *Engine) jobDone(job Job) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	switch job.Type {
	case FuzzJobType:
		if job.DiscardEntry {
			e.corpus.Discard(job.Entry)
			atomic.AddUint64(&e.numSamplesDiscarded, 1)
		} else if !job.Entry.Discarded {
			e.corpus.RestoreEntry(job.Entry)
		}
	case ProcessSampleJob:
		e.samplesPending--
	}
}

// registerAcceptedSample appends s to the append-only allSamples replica
// splice mutators read from, under queueMu.
func (e *Engine) registerAcceptedSample(s *sample.Sample) {
	e.queueMu.Lock()
	e.allSamples = append(e.allSamples, s)
	e.queueMu.Unlock()
}

// mergeGlobalCoverage merges src into fuzzerCoverage under coverageMu and
// returns the portion of src that was actually new.
func (e *Engine) mergeGlobalCoverage(src *coverage.Coverage) *coverage.Coverage {
	e.coverageMu.Lock()
	defer e.coverageMu.Unlock()
	newCov := coverage.Difference(e.fuzzerCoverage, src)
	coverage.Merge(e.fuzzerCoverage, newCov)
	return newCov
}
