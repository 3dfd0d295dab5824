package mutate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/covfuzz/covfuzz/internal/rng"
	"github.com/covfuzz/covfuzz/internal/sample"
)

func TestByteFlipChangesOneByte(t *testing.T) {
	s := sample.New([]byte("AAAAAAAA"))
	prng := rng.NewSeeded(1)
	m := ByteFlip{}
	assert.True(t, m.Mutate(s, prng, nil, nil))
	assert.Equal(t, 8, s.Size())
}

func TestAppendRespectsMaxSize(t *testing.T) {
	s := sample.New(make([]byte, 10))
	m := Append{Min: 1, Max: 4, MaxSampleSize: 12}
	prng := rng.NewSeeded(2)
	for i := 0; i < 5; i++ {
		m.Mutate(s, prng, nil, nil)
	}
	assert.LessOrEqual(t, s.Size(), 12)
}

func TestBlockDuplicateRespectsMaxSize(t *testing.T) {
	s := sample.New([]byte("abcdefgh"))
	m := BlockDuplicate{MinBlockSize: 2, MaxBlockSize: 2, MinCount: 1, MaxCount: 3, MaxSampleSize: 20}
	prng := rng.NewSeeded(3)
	for i := 0; i < 5; i++ {
		m.Mutate(s, prng, nil, nil)
	}
	assert.LessOrEqual(t, s.Size(), 20)
}

func TestInterestingValueUsesTable(t *testing.T) {
	values := DefaultInterestingValues()
	assert.NotEmpty(t, values)
	s := sample.New(make([]byte, 8))
	m := InterestingValue{Values: values}
	prng := rng.NewSeeded(4)
	assert.True(t, m.Mutate(s, prng, nil, nil))
}

func TestSpliceWithSingleSample(t *testing.T) {
	s := sample.New([]byte("hello world"))
	other := sample.New([]byte("goodbye universe"))
	m := Splice{Points: 1, DisplacementP: 0, MaxSampleSize: sample.MaxSize}
	prng := rng.NewSeeded(5)
	assert.True(t, m.Mutate(s, prng, []*sample.Sample{other}, nil))
}

func TestSpliceWithEmptySampleReportsNoMutation(t *testing.T) {
	s := sample.New(nil)
	other := sample.New([]byte("goodbye universe"))
	m := Splice{Points: 1, DisplacementP: 0, MaxSampleSize: sample.MaxSize}
	prng := rng.NewSeeded(5)
	assert.False(t, m.Mutate(s, prng, []*sample.Sample{other}, nil))
}

func TestSelectPicksAmongInner(t *testing.T) {
	sel := Select{Inner: []Mutator{ByteFlip{}, Append{Min: 1, Max: 2, MaxSampleSize: 100}}}
	s := sample.New([]byte("abcd"))
	ctx := sel.CreateSampleContext(s)
	sel.InitRound(s, ctx)
	prng := rng.NewSeeded(6)
	assert.True(t, sel.Mutate(s, prng, nil, ctx))
}

func TestNRoundExhaustsAfterMax(t *testing.T) {
	m := NRound{Inner: []Mutator{ByteFlip{}}, Min: 2, Max: 2}
	s := sample.New([]byte("abcd"))
	ctx := m.CreateSampleContext(s)
	m.InitRound(s, ctx)
	prng := rng.NewSeeded(7)
	assert.True(t, m.Mutate(s, prng, nil, ctx))
	assert.True(t, m.Mutate(s, prng, nil, ctx))
	assert.False(t, m.Mutate(s, prng, nil, ctx))
}

func TestDeterministicByteFlipSweepsHotOffsets(t *testing.T) {
	det := DeterministicByteFlip{}
	s := sample.New(make([]byte, 300))
	ctx := det.CreateSampleContext(s)
	recv := ctx.(HotOffsetReceiver)
	recv.AddHotOffset(50)  // region [47,70)
	recv.AddHotOffset(200) // region [197,220), disjoint from the first
	det.InitRound(s, ctx)
	prng := rng.NewSeeded(8)

	count := 0
	for i := 0; i < 100000; i++ {
		if !det.Mutate(s, prng, nil, ctx) {
			break
		}
		count++
	}
	assert.Equal(t, (23+23)*256, count) // two 23-byte regions, 256 values each
}

func TestDeterministicByteFlipResizesPastEndOfSample(t *testing.T) {
	det := DeterministicByteFlip{}
	s := sample.New(make([]byte, 5))
	ctx := det.CreateSampleContext(s)
	ctx.(HotOffsetReceiver).AddHotOffset(10) // region [7,30), entirely past size 5
	det.InitRound(s, ctx)
	prng := rng.NewSeeded(12)

	assert.True(t, det.Mutate(s, prng, nil, ctx))
	assert.GreaterOrEqual(t, s.Size(), 8, "sample should have grown to cover the hot offset")
}

func TestDeterministicInterestingValueResizesPastEndOfSample(t *testing.T) {
	det := DeterministicInterestingValue{Values: DefaultInterestingValues()}
	s := sample.New(make([]byte, 5))
	ctx := det.CreateSampleContext(s)
	ctx.(HotOffsetReceiver).AddHotOffset(10)
	det.InitRound(s, ctx)
	prng := rng.NewSeeded(13)

	assert.True(t, det.Mutate(s, prng, nil, ctx))
	assert.Greater(t, s.Size(), 5, "sample should have grown to fit the interesting value")
}

func TestDeterministicContextMergesOverlappingOffsets(t *testing.T) {
	c := NewDeterministicContext()
	c.AddHotOffset(50)
	c.AddHotOffset(51) // region [48,71) overlaps [47,70): merges to one
	assert.Len(t, c.regions, 1)
	assert.Equal(t, 47, c.regions[0].start)
	assert.Equal(t, 71, c.regions[0].end)
}

// alwaysFail is a test-only Mutator whose Mutate always reports no
// progress, forcing Sequence to advance past it.
type alwaysFail struct{ Base }

func (alwaysFail) Mutate(*sample.Sample, rng.Source, []*sample.Sample, Context) bool { return false }

// notifyCounter is a test-only Mutator that always succeeds and counts how
// many times NotifyResult is called on it.
type notifyCounter struct{ Base }

type notifyCounterCtx struct{ notified int }

func (notifyCounter) CreateSampleContext(*sample.Sample) Context { return &notifyCounterCtx{} }
func (notifyCounter) Mutate(*sample.Sample, rng.Source, []*sample.Sample, Context) bool {
	return true
}
func (notifyCounter) NotifyResult(ctx Context, _ Result, _ bool) {
	ctx.(*notifyCounterCtx).notified++
}

func TestSequenceAdvancesPastFailingChild(t *testing.T) {
	second := notifyCounter{}
	m := Sequence{Inner: []Mutator{alwaysFail{}, second}}
	s := sample.New([]byte("abcd"))
	ctx := m.CreateSampleContext(s)
	m.InitRound(s, ctx)
	prng := rng.NewSeeded(10)

	assert.True(t, m.Mutate(s, prng, nil, ctx))
	sc := ctx.(*sequenceCtx)
	assert.Equal(t, 1, sc.current, "should have advanced past the failing first child")

	m.NotifyResult(ctx, ResultOK, false)
	assert.Equal(t, 1, sc.inner[1].(*notifyCounterCtx).notified, "NotifyResult should reach only the active child")
}

func TestSequenceExhaustsWhenAllChildrenFail(t *testing.T) {
	m := Sequence{Inner: []Mutator{alwaysFail{}, alwaysFail{}}}
	s := sample.New([]byte("abcd"))
	ctx := m.CreateSampleContext(s)
	m.InitRound(s, ctx)
	prng := rng.NewSeeded(11)
	assert.False(t, m.Mutate(s, prng, nil, ctx))
}

func TestRangeMutatorRestrictsToRange(t *testing.T) {
	rm := RangeMutator{Inner: ByteFlip{}}
	s := sample.New([]byte("0123456789"))
	ctx := rm.CreateSampleContext(s)
	ctx.(RangeSetter).SetRanges([]Range{{From: 2, To: 4}})
	rm.InitRound(s, ctx)
	prng := rng.NewSeeded(9)
	assert.True(t, rm.Mutate(s, prng, nil, ctx))
	assert.Equal(t, 10, s.Size())
}

func TestRangeMutatorSplicesBackAGrowingInner(t *testing.T) {
	rm := RangeMutator{Inner: Append{Min: 4, Max: 4, MaxSampleSize: sample.MaxSize}}
	s := sample.New([]byte("0123456789"))
	ctx := rm.CreateSampleContext(s)
	ctx.(RangeSetter).SetRanges([]Range{{From: 2, To: 4}})
	rm.InitRound(s, ctx)
	prng := rng.NewSeeded(9)
	assert.True(t, rm.Mutate(s, prng, nil, ctx))
	// The 2-byte range [2,4) grew by 4 bytes; the rest of the sample must
	// survive untouched around the resized region.
	assert.Equal(t, 14, s.Size())
	got := s.Bytes()
	assert.Equal(t, []byte("01"), got[:2])
	assert.Equal(t, []byte("456789"), got[8:])
}
