package engine

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/covfuzz/covfuzz/internal/corpus"
	"github.com/covfuzz/covfuzz/internal/coverage"
	"github.com/covfuzz/covfuzz/internal/osutil"
	"github.com/covfuzz/covfuzz/internal/sample"
	"github.com/covfuzz/covfuzz/internal/xlog"
)

// checkpointSentinel terminates a correctly written state file: ASCII
// "fuzzstat" read as a big-endian u64 (spec §4.G/§4.I). Like every other
// field it is written to the file little-endian.
const checkpointSentinel = 0x66757a7a73746174

func (e *Engine) statePath() string {
	return filepath.Join(e.opts.OutDir, "state.dat")
}

// saveStateLocked writes a checkpoint of the sample counters, total_execs,
// fuzzer coverage, every corpus entry and the federation client state. No
// mutator state is written: neither global mutator state nor per-entry
// mutator contexts. Must be called with queueMu held; internally
// takes outputMu and coverageMu, matching the original's lock order.
func (e *Engine) saveStateLocked() {
	e.outputMu.Lock()
	e.coverageMu.Lock()
	defer e.coverageMu.Unlock()
	defer e.outputMu.Unlock()

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if err := e.writeCheckpoint(bw); err != nil {
		xlog.Fatalf("engine: writing state: %v", err)
	}
	if err := bw.Flush(); err != nil {
		xlog.Fatalf("engine: flushing state: %v", err)
	}
	if err := osutil.WriteFileAtomic(e.statePath(), buf.Bytes()); err != nil {
		xlog.Fatalf("engine: writing state file: %v", err)
	}
}

func (e *Engine) writeCheckpoint(w *bufio.Writer) error {
	if err := writeU64(w, atomic.LoadUint64(&e.numSamples)); err != nil {
		return err
	}
	if err := writeU64(w, atomic.LoadUint64(&e.numSamplesDiscarded)); err != nil {
		return err
	}
	if err := writeU64(w, atomic.LoadUint64(&e.totalExecs)); err != nil {
		return err
	}
	if err := coverage.WriteBinary(e.fuzzerCoverage, w); err != nil {
		return err
	}

	entries := e.corpus.AllEntries()
	if err := writeU64(w, uint64(len(entries))); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := writeEntry(w, entry); err != nil {
			return err
		}
	}

	if e.opts.Federation != nil {
		if err := e.opts.Federation.SaveState(w); err != nil {
			return err
		}
	}

	return writeU64(w, checkpointSentinel)
}

func writeEntry(w *bufio.Writer, entry *corpus.Entry) error {
	if err := writeU64(w, entry.Index); err != nil {
		return err
	}
	if err := writeString(w, entry.Filename); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, entry.Priority); err != nil {
		return err
	}
	for _, v := range []uint64{entry.NumRuns, entry.NumCrashes, entry.NumHangs, entry.NumNewCoverage} {
		if err := writeU64(w, v); err != nil {
			return err
		}
	}
	discarded := byte(0)
	if entry.Discarded {
		discarded = 1
	}
	if err := w.WriteByte(discarded); err != nil {
		return err
	}
	if err := writeU64(w, uint64(len(entry.Ranges))); err != nil {
		return err
	}
	for _, r := range entry.Ranges {
		if err := writeU64(w, uint64(r.From)); err != nil {
			return err
		}
		if err := writeU64(w, uint64(r.To)); err != nil {
			return err
		}
	}
	return nil
}

// restoreStateLocked is called by the first worker to observe RestoreNeeded
// (spec §4.G: "first thread that enters this function restores state").
// Must be called with queueMu held.
func (e *Engine) restoreStateLocked(w *worker) {
	e.outputMu.Lock()
	e.coverageMu.Lock()
	defer e.coverageMu.Unlock()
	defer e.outputMu.Unlock()

	f, err := os.Open(e.statePath())
	if err != nil {
		xlog.Fatalf("engine: error restoring state, did the previous session run long enough to save one? %v", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if err := e.readCheckpoint(br, w); err != nil {
		xlog.Fatalf("engine: state could not be restored correctly: %v", err)
	}
	if !e.opts.IncrementalCoverage {
		xlog.Logf(0, "engine: per-thread coverage is not restored; the first runs after restore may over-report new coverage")
	}
}

func (e *Engine) readCheckpoint(r *bufio.Reader, wk *worker) error {
	numSamples, err := readU64(r)
	if err != nil {
		return err
	}
	numDiscarded, err := readU64(r)
	if err != nil {
		return err
	}
	totalExecs, err := readU64(r)
	if err != nil {
		return err
	}

	restoredCoverage := coverage.New()
	if err := coverage.ReadBinary(r, restoredCoverage); err != nil {
		return err
	}

	numEntries, err := readU64(r)
	if err != nil {
		return err
	}

	var restored []*corpus.Entry
	for i := uint64(0); i < numEntries; i++ {
		entry, err := readEntry(r)
		if err != nil {
			return err
		}
		path := filepath.Join(e.sampleDir, entry.Filename)
		s := sample.New(nil)
		if err := s.Load(path); err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
		entry.Sample = s
		entry.MutatorContext = wk.deps.Mutator.CreateSampleContext(s)
		if e.opts.TrackHotOffsets && e.opts.KeepSamplesInMemory && e.trie != nil {
			e.trie.AddSample(s.Bytes())
		}
		if !e.opts.KeepSamplesInMemory {
			entry.Sample.FreeMemory()
		}
		restored = append(restored, entry)
	}

	if e.opts.Federation != nil {
		if err := e.opts.Federation.LoadState(r); err != nil {
			return err
		}
	}

	sentinel, err := readU64(r)
	if err != nil {
		return err
	}
	if sentinel != checkpointSentinel {
		return fmt.Errorf("sentinel mismatch: got %#x, want %#x", sentinel, checkpointSentinel)
	}

	atomic.StoreUint64(&e.numSamples, numSamples)
	atomic.StoreUint64(&e.numSamplesDiscarded, numDiscarded)
	atomic.StoreUint64(&e.totalExecs, totalExecs)
	e.fuzzerCoverage = restoredCoverage
	for _, entry := range restored {
		e.corpus.RestoreEntry(entry)
		e.allSamples = append(e.allSamples, entry.Sample)
	}
	return nil
}

func readEntry(r *bufio.Reader) (*corpus.Entry, error) {
	index, err := readU64(r)
	if err != nil {
		return nil, err
	}
	filename, err := readString(r)
	if err != nil {
		return nil, err
	}
	var priority float64
	if err := binary.Read(r, binary.LittleEndian, &priority); err != nil {
		return nil, err
	}
	counters := make([]uint64, 4)
	for i := range counters {
		v, err := readU64(r)
		if err != nil {
			return nil, err
		}
		counters[i] = v
	}
	discarded, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	numRanges, err := readU64(r)
	if err != nil {
		return nil, err
	}
	ranges := make([]corpus.Range, 0, numRanges)
	for i := uint64(0); i < numRanges; i++ {
		from, err := readU64(r)
		if err != nil {
			return nil, err
		}
		to, err := readU64(r)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, corpus.Range{From: int(from), To: int(to)})
	}

	return &corpus.Entry{
		Index:          index,
		Filename:       filename,
		Priority:       priority,
		NumRuns:        counters[0],
		NumCrashes:     counters[1],
		NumHangs:       counters[2],
		NumNewCoverage: counters[3],
		Discarded:      discarded != 0,
		Ranges:         ranges,
	}, nil
}

func writeU64(w *bufio.Writer, v uint64) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func readU64(r *bufio.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeString(w *bufio.Writer, s string) error {
	if err := writeU64(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

func readString(r *bufio.Reader) (string, error) {
	n, err := readU64(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
