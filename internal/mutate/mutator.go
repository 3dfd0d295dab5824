// Package mutate implements the composable mutation strategies of spec
// §4.D: byte-level, block-level, splice and arithmetic leaf mutators; the
// NRound/PSelect/Select/Repeat/Sequence/DeterministicNondeterministic/Range
// composites; and the deterministic hot-offset exploration context.
//
// A Mutator is polymorphic over the capability set spec §4.D names for a
// mutator (create/init/mutate/notify/generate/save-load context). Rather
// than a class hierarchy with downcasts, each mutator constructs its own
// context type in CreateSampleContext and is the only thing that ever reads
// it back — spec §9's "associate context construction with the mutator
// itself" — and optional capabilities (accepting hot offsets, accepting
// ranges) are separate small interfaces a context or mutator may implement.
package mutate

import (
	"github.com/covfuzz/covfuzz/internal/rng"
	"github.com/covfuzz/covfuzz/internal/sample"
)

// Result mirrors the first-class target outcomes of spec §7: they are
// return values a mutator's NotifyResult observes, never exceptions.
type Result int

const (
	ResultOK Result = iota
	ResultCrash
	ResultHang
	ResultOtherError
)

// Context is an opaque per-sample mutator context. Its concrete type is
// private to the Mutator that created it.
type Context interface{}

// Mutator is the capability set every leaf and composite mutator
// implements.
type Mutator interface {
	// CreateSampleContext returns a fresh context for sample s, or nil if
	// this mutator is stateless across rounds.
	CreateSampleContext(s *sample.Sample) Context
	// InitRound prepares ctx for a new round of mutation against s.
	InitRound(s *sample.Sample, ctx Context)
	// Mutate mutates inoutSample in place (or replaces its contents) and
	// reports whether it made progress. Most leaf mutators return true even
	// on a structural no-op; Splice returns false when either sample is
	// empty, and exhaustible mutators (NRound, Sequence and the
	// deterministic mutators) return false to signal "nothing left to try
	// this round". Composites that wrap them pass a false result through.
	Mutate(inoutSample *sample.Sample, prng rng.Source, allSamples []*sample.Sample, ctx Context) bool
	// NotifyResult reports the outcome of running the last mutated sample.
	NotifyResult(ctx Context, result Result, hadNewCoverage bool)
	// CanGenerate reports whether this mutator can synthesize a sample from
	// nothing (spec §4.G's GeneratingSamples state).
	CanGenerate() bool
	// Generate synthesizes a new sample. Only called when CanGenerate.
	Generate(out *sample.Sample, prng rng.Source) bool
}

// HotOffsetReceiver is implemented by contexts that drive deterministic
// hot-offset exploration (spec §4.B/§4.D). The scheduler calls AddHotOffset
// whenever SampleTrie.AddSample reports a new divergence point.
type HotOffsetReceiver interface {
	AddHotOffset(offset int)
}

// Range is a byte range within a sample, used by the Range composite
// mutator (spec §4.D) when -track_ranges delivers structural hints from the
// target.
type Range struct {
	From, To int
}

// RangeSetter is implemented by contexts that accept range hints.
type RangeSetter interface {
	SetRanges(ranges []Range)
}

// Base implements the Mutator capability set with no-ops, so leaf and
// composite mutators only need to override what they actually use.
type Base struct{}

func (Base) CreateSampleContext(*sample.Sample) Context           { return nil }
func (Base) InitRound(*sample.Sample, Context)                    {}
func (Base) NotifyResult(Context, Result, bool)                   {}
func (Base) CanGenerate() bool                                    { return false }
func (Base) Generate(*sample.Sample, rng.Source) bool              { return false }

// randBlock picks a random block within [0, sampleSize) of size in
// [minBlockSize, maxBlockSize], clamped to sampleSize. Returns ok=false if
// sampleSize < minBlockSize (no valid block exists), matching the shared
// GetRandBlock helper of the original engine (spec §9 "Supplemented
// features").
func randBlock(sampleSize, minBlockSize, maxBlockSize int, prng rng.Source) (start, size int, ok bool) {
	if sampleSize == 0 || sampleSize < minBlockSize {
		return 0, 0, false
	}
	if maxBlockSize > sampleSize {
		maxBlockSize = sampleSize
	}
	if minBlockSize > maxBlockSize {
		minBlockSize = maxBlockSize
	}
	size = int(prng.Range(int64(minBlockSize), int64(maxBlockSize)))
	if sampleSize-size < 0 {
		size = sampleSize
	}
	start = int(prng.Range(0, int64(sampleSize-size)))
	return start, size, true
}

func randByte(prng rng.Source) byte {
	return byte(prng.Range(0, 255))
}
