// Package sample implements the fuzzer's byte-buffer input type and the
// path-compressed trie used to derive deterministic "hot offsets" from
// newly accepted samples (spec §4.B).
package sample

import (
	"fmt"
	"os"
)

// MaxSize is the default cap on sample size (spec §3); the scheduler
// truncates any ingested input larger than this before delivery.
const MaxSize = 1_000_000

// Sample is a byte buffer that may live in memory, on disk (path only), or
// both. A sample that has been accepted into the corpus keeps a stable
// on-disk filename for the run's lifetime; EnsureLoaded/FreeMemory move
// bytes in and out of memory independently of that filename.
type Sample struct {
	data []byte
	path string
}

// New wraps a copy of data in a Sample; later changes to data do not
// affect the Sample.
func New(data []byte) *Sample {
	s := &Sample{}
	s.Init(data)
	return s
}

// Init replaces the sample's in-memory bytes with a copy of data.
func (s *Sample) Init(data []byte) {
	s.data = append([]byte(nil), data...)
}

// Bytes returns the sample's current in-memory bytes. Callers must not
// retain or mutate the returned slice past the next call that changes size.
func (s *Sample) Bytes() []byte {
	return s.data
}

// Size returns the number of in-memory bytes.
func (s *Sample) Size() int {
	return len(s.data)
}

// Path returns the sample's on-disk path, or "" if it has never been saved
// or loaded from disk.
func (s *Sample) Path() string {
	return s.path
}

// Append grows the sample by appending data.
func (s *Sample) Append(data []byte) {
	s.data = append(s.data, data...)
}

// Trim shrinks the sample to n bytes. n must be <= Size(); Trim is a no-op
// if n >= Size().
func (s *Sample) Trim(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(s.data) {
		return
	}
	s.data = s.data[:n]
}

// Resize grows or shrinks the sample to exactly n bytes. Growth zero-fills
// the new tail.
func (s *Sample) Resize(n int) {
	if n < 0 {
		n = 0
	}
	if n <= len(s.data) {
		s.data = s.data[:n]
		return
	}
	grown := make([]byte, n)
	copy(grown, s.data)
	s.data = grown
}

// Crop copies the byte range [from, to) into out, replacing out's contents.
func (s *Sample) Crop(from, to int, out *Sample) {
	if from < 0 {
		from = 0
	}
	if to > len(s.data) {
		to = len(s.data)
	}
	if to < from {
		to = from
	}
	out.Init(s.data[from:to])
}

// FindFirstDiff returns the first index at which s and other differ, or
// min(s.Size(), other.Size()) if one is a prefix of the other.
func (s *Sample) FindFirstDiff(other *Sample) int {
	n := len(s.data)
	if len(other.data) < n {
		n = len(other.data)
	}
	for i := 0; i < n; i++ {
		if s.data[i] != other.data[i] {
			return i
		}
	}
	return n
}

// Clone returns a deep copy of s, including its on-disk path.
func (s *Sample) Clone() *Sample {
	return &Sample{data: append([]byte(nil), s.data...), path: s.path}
}

// Save writes s's in-memory bytes to path as an exact byte copy and records
// path as the sample's stable on-disk location.
func (s *Sample) Save(path string) error {
	if err := os.WriteFile(path, s.data, 0644); err != nil {
		return fmt.Errorf("sample: save %s: %w", path, err)
	}
	s.path = path
	return nil
}

// Load reads path into memory as an exact byte copy and records it as the
// sample's on-disk location.
func (s *Sample) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("sample: load %s: %w", path, err)
	}
	s.data = data
	s.path = path
	return nil
}

// EnsureLoaded loads bytes from Path() into memory if they are not already
// present. It is a no-op if the sample has no on-disk path or is already
// loaded.
func (s *Sample) EnsureLoaded() error {
	if s.data != nil || s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("sample: ensure-loaded %s: %w", s.path, err)
	}
	s.data = data
	return nil
}

// FreeMemory evicts the in-memory bytes. It is only safe to call once the
// sample has a stable on-disk path (Save/Load has been called), since
// EnsureLoaded is the only way to bring the bytes back.
func (s *Sample) FreeMemory() {
	if s.path == "" {
		return
	}
	s.data = nil
}
