// Package corpus owns every sample accepted into the run (spec §4.F): the
// growing set of CorpusEntry records, the priority queue workers pull
// fuzzing jobs from, and the on-disk sample filenames that survive a
// checkpoint/restore cycle.
package corpus

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/covfuzz/covfuzz/internal/mutate"
	"github.com/covfuzz/covfuzz/internal/sample"
)

// Range is a byte range recorded against an entry when -track_ranges is
// enabled; kept opaque here and interpreted by the mutator.
type Range = mutate.Range

// Entry is one accepted sample plus its scheduling and bookkeeping state.
// Entries are append-only: Index is the entry's permanent creation order,
// and a discarded entry is flagged rather than removed so all_entries
// indices stay stable across a checkpoint/restore cycle.
type Entry struct {
	Sample         *sample.Sample
	MutatorContext mutate.Context
	Priority       float64
	Index          uint64
	NumRuns        uint64
	NumCrashes     uint64
	NumHangs       uint64
	NumNewCoverage uint64
	Discarded      bool
	Ranges         []Range
	Filename       string
}

// Corpus holds every accepted entry and a priority queue over the
// non-discarded ones. mu guards allEntries, nextIndex and queue together —
// queue is a bare container/heap.Interface with no locking of its own, so
// every method that touches it must hold mu across the whole operation.
type Corpus struct {
	mu         sync.Mutex
	dir        string
	extension  string
	allEntries []*Entry
	nextIndex  uint64
	queue      *priorityQueue
}

// New returns an empty corpus that will save samples under dir, with
// filenames suffixed by extension (spec's -file_extension; "" for none).
func New(dir, extension string) *Corpus {
	return &Corpus{dir: dir, extension: extension, queue: newPriorityQueue()}
}

// AllEntries returns every entry ever created, including discarded ones,
// in creation order. Callers must not mutate the returned slice.
func (c *Corpus) AllEntries() []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Entry(nil), c.allEntries...)
}

// Len reports how many non-discarded entries are queued for fuzzing.
func (c *Corpus) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// filename builds the zero-padded index-based sample filename, e.g.
// "sample_00042" or "sample_00042.txt" with an extension configured.
func (c *Corpus) filename(index uint64) string {
	name := fmt.Sprintf("sample_%05d", index)
	if c.extension != "" {
		name += "." + c.extension
	}
	return name
}

// SaveSample persists s as a new corpus entry: it assigns the next index,
// writes the bytes to disk under a zero-padded filename, and pushes a
// fresh Entry with priority 0 into both the entry list and the queue.
// The caller is responsible for wiring the sample's first-diff hot offset
// into entry.MutatorContext (via mutate.HotOffsetReceiver) once it has
// created that context, since only the engine knows which mutator owns
// the entry.
func (c *Corpus) SaveSample(s *sample.Sample) (*Entry, error) {
	c.mu.Lock()
	index := c.nextIndex
	c.nextIndex++
	filename := c.filename(index)
	c.mu.Unlock()

	path := filepath.Join(c.dir, filename)
	if err := s.Save(path); err != nil {
		return nil, fmt.Errorf("corpus: save sample %s: %w", filename, err)
	}

	entry := &Entry{
		Sample:   s,
		Priority: 0,
		Index:    index,
		Filename: filename,
	}

	c.mu.Lock()
	c.allEntries = append(c.allEntries, entry)
	c.queue.push(entry)
	c.mu.Unlock()

	return entry, nil
}

// AdjustSamplePriority resets an entry's priority to 0 on a successful
// run (new coverage found) and decrements it by 1 otherwise, so samples
// with recent successes float to the top of the queue.
func (c *Corpus) AdjustSamplePriority(e *Entry, hadNewCoverage bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hadNewCoverage {
		e.Priority = 0
	} else {
		e.Priority--
	}
	if !e.Discarded {
		c.queue.updatePriority(e)
	}
}

// Discard flags e as discarded and removes it from the queue. Discarded
// entries stay in AllEntries (and keep their Index) but are never
// scheduled again.
func (c *Corpus) Discard(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.Discarded = true
	c.queue.remove(e)
}

// Pop removes and returns the highest-priority non-discarded entry, or
// nil if the queue is empty.
func (c *Corpus) Pop() *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.pop()
}

// RestoreEntry re-inserts e into the queue (if not discarded). An entry the
// corpus does not hold yet, such as one produced by a checkpoint restore, is
// also appended to the corpus's bookkeeping; an entry already held (one
// requeued after Pop) is not appended a second time.
func (c *Corpus) RestoreEntry(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	known := false
	for _, existing := range c.allEntries {
		if existing == e {
			known = true
			break
		}
	}
	if !known {
		c.allEntries = append(c.allEntries, e)
	}
	if e.Index >= c.nextIndex {
		c.nextIndex = e.Index + 1
	}
	if !e.Discarded {
		c.queue.push(e)
	}
}
