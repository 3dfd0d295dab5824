package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covfuzz/covfuzz/internal/coverage"
	"github.com/covfuzz/covfuzz/internal/mutate"
	"github.com/covfuzz/covfuzz/internal/rng"
	"github.com/covfuzz/covfuzz/internal/target"
)

// TestScenarioAIngestAcceptsInputAndReachesFuzzing replays spec's worked
// example A: a single input file that always yields coverage {("t",{42})}
// should end up saved as sample_00000, merged into fuzzer_coverage, with
// the engine transitioning all the way to Fuzzing.
func TestScenarioAIngestAcceptsInputAndReachesFuzzing(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "hello"), []byte("hello"), 0o644))

	opts := DefaultOptions()
	opts.NumThreads = 1
	opts.InDir = inDir
	opts.OutDir = outDir
	opts.DryRun = true

	e, err := New(opts)
	require.NoError(t, err)

	factory := func(threadID int) WorkerDeps {
		return WorkerDeps{
			PRNG:    rng.NewSeeded(uint64(threadID) + 1),
			Mutator: mutate.NRound{Inner: []mutate.Mutator{mutate.ByteFlip{}}, Min: 1, Max: 1},
			Executor: target.NewLocalExecutor(func(sample []byte) target.RunOutcome {
				cov := coverage.New()
				cov.Add("t", 42)
				return target.RunOutcome{Result: target.OK, Coverage: cov}
			}),
			Delivery: target.NewFileDelivery(filepath.Join(t.TempDir(), "input")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx, factory))

	entries := e.corpus.AllEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "sample_00000", entries[0].Filename)

	data, err := os.ReadFile(filepath.Join(outDir, "samples", "sample_00000"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	mc := e.fuzzerCoverage.GetModuleCoverage("t")
	require.NotNil(t, mc)
	_, has42 := mc.Offsets[42]
	assert.True(t, has42)

	assert.Equal(t, Fuzzing, e.stateSnapshot())
}

func TestCheckpointRoundTrip(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "hello"), []byte("hello"), 0o644))

	opts := DefaultOptions()
	opts.NumThreads = 1
	opts.InDir = inDir
	opts.OutDir = outDir
	opts.DryRun = true

	e, err := New(opts)
	require.NoError(t, err)

	factory := func(threadID int) WorkerDeps {
		return WorkerDeps{
			PRNG:    rng.NewSeeded(1),
			Mutator: mutate.NRound{Inner: []mutate.Mutator{mutate.ByteFlip{}}, Min: 1, Max: 1},
			Executor: target.NewLocalExecutor(func(sample []byte) target.RunOutcome {
				cov := coverage.New()
				cov.Add("t", 7)
				return target.RunOutcome{Result: target.OK, Coverage: cov}
			}),
			Delivery: target.NewFileDelivery(filepath.Join(t.TempDir(), "input")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx, factory))

	w := newWorker(0, factory(0))
	e.queueMu.Lock()
	e.saveStateLocked()
	e.queueMu.Unlock()

	restored, err := New(Options{
		NumThreads: 1,
		InDir:      inDir,
		OutDir:     outDir,
		Restore:    true,
	})
	require.NoError(t, err)

	restored.queueMu.Lock()
	restored.restoreStateLocked(w)
	restored.queueMu.Unlock()

	assert.Equal(t, uint64(1), restored.numSamples)
	require.Len(t, restored.corpus.AllEntries(), 1)
	assert.Equal(t, "sample_00000", restored.corpus.AllEntries()[0].Filename)
}
