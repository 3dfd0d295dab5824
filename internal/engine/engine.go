// Package engine implements the scheduler/orchestrator of spec §4.G: the
// FuzzerState machine, the per-worker job loop, the RunSample pipeline
// (stability gating, novelty admission, minimize-then-save), crash/hang
// bookkeeping, and periodic checkpointing.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/covfuzz/covfuzz/internal/corpus"
	"github.com/covfuzz/covfuzz/internal/coverage"
	"github.com/covfuzz/covfuzz/internal/osutil"
	"github.com/covfuzz/covfuzz/internal/sample"
	"github.com/covfuzz/covfuzz/internal/xlog"
)

// Engine owns every piece of state shared across worker threads: the
// corpus/queue, the global coverage set, the input/server sample backlogs,
// and the counters and locks named in spec §5.
type Engine struct {
	opts Options

	corpus *corpus.Corpus
	trie   *sample.Trie // only populated when KeepSamplesInMemory && TrackHotOffsets

	sampleDir string
	crashDir  string
	hangsDir  string

	// queueMu guards everything named in spec §5's "queue_mutex" entry.
	queueMu       sync.Mutex
	state         FuzzerState
	inputFiles    []string
	serverSamples [][]byte
	samplesPending int
	lastSaveTime   time.Time
	lastServerSync time.Time
	allSamples     []*sample.Sample // append-only, replicated lazily into each worker

	coverageMu     sync.Mutex
	fuzzerCoverage *coverage.Coverage

	outputMu sync.Mutex

	crashMu       sync.Mutex
	uniqueCrashes map[string]int

	numCrashes           uint64
	numUniqueCrashes     uint64
	numHangs             uint64
	numSamples           uint64
	numSamplesDiscarded  uint64
	totalExecs           uint64
}

// New constructs an Engine ready to Run. It creates the on-disk layout
// under opts.OutDir (samples/, crashes/, hangs/) and, unless restoring,
// scans opts.InDir for the initial input_files list.
func New(opts Options) (*Engine, error) {
	e := &Engine{
		opts:           opts,
		fuzzerCoverage: coverage.New(),
		uniqueCrashes:  make(map[string]int),
		sampleDir:      filepath.Join(opts.OutDir, "samples"),
		crashDir:       filepath.Join(opts.OutDir, "crashes"),
		hangsDir:       filepath.Join(opts.OutDir, "hangs"),
	}
	for _, dir := range []string{e.sampleDir, e.crashDir, e.hangsDir} {
		if err := osutil.MkdirAll(dir); err != nil {
			return nil, fmt.Errorf("engine: creating %s: %w", dir, err)
		}
	}
	e.corpus = corpus.New(e.sampleDir, opts.FileExtension)

	if opts.TrackHotOffsets && opts.KeepSamplesInMemory {
		e.trie = sample.NewTrie()
	}

	if opts.Restore || opts.InDir == "-" {
		e.state = RestoreNeeded
	} else {
		e.state = InputSampleProcessing
		files, err := listInputFiles(opts.InDir)
		if err != nil {
			return nil, fmt.Errorf("engine: listing input files: %w", err)
		}
		e.inputFiles = files
	}

	return e, nil
}

func listInputFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dir, ent.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Run starts opts.NumThreads worker threads (each built by factory) and
// blocks until ctx is cancelled or a worker returns a fatal error.
// -dry_run is honored per worker: once state reaches Fuzzing the worker
// returns instead of looping forever.
func (e *Engine) Run(ctx context.Context, factory WorkerFactory) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.opts.NumThreads; i++ {
		id := i
		g.Go(func() error {
			w := newWorker(id, factory(id))
			return e.runWorkerLoop(ctx, w)
		})
	}
	return g.Wait()
}

func (e *Engine) runWorkerLoop(ctx context.Context, w *worker) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job := e.synchronizeAndGetJob(w)

		if e.opts.DryRun && e.stateSnapshot() == Fuzzing {
			return nil
		}

		switch job.Type {
		case Wait:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		case ProcessSampleJob:
			e.processSample(w, job)
		case FuzzJobType:
			e.fuzzJob(w, &job)
		default:
			xlog.Fatalf("engine: unknown job type %v", job.Type)
		}

		e.jobDone(job)
	}
}

func (e *Engine) stateSnapshot() FuzzerState {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return e.state
}

func (e *Engine) recordExec() {
	atomic.AddUint64(&e.totalExecs, 1)
}

// Stats is a point-in-time snapshot of the engine's counters, used by the
// status HTTP handler.
type Stats struct {
	State               FuzzerState
	NumCrashes          uint64
	NumUniqueCrashes    uint64
	NumHangs            uint64
	NumSamples          uint64
	NumSamplesDiscarded uint64
	TotalExecs          uint64
	CorpusSize          int
	CoverageSize        int
}

func (e *Engine) Stats() Stats {
	return Stats{
		State:               e.stateSnapshot(),
		NumCrashes:          atomic.LoadUint64(&e.numCrashes),
		NumUniqueCrashes:    atomic.LoadUint64(&e.numUniqueCrashes),
		NumHangs:            atomic.LoadUint64(&e.numHangs),
		NumSamples:          atomic.LoadUint64(&e.numSamples),
		NumSamplesDiscarded: atomic.LoadUint64(&e.numSamplesDiscarded),
		TotalExecs:          atomic.LoadUint64(&e.totalExecs),
		CorpusSize:          e.corpus.Len(),
		CoverageSize:        e.fuzzerCoverageLen(),
	}
}

func (e *Engine) fuzzerCoverageLen() int {
	e.coverageMu.Lock()
	defer e.coverageMu.Unlock()
	return e.fuzzerCoverage.Len()
}
