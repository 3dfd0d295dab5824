package mutate

import (
	"sort"

	"github.com/covfuzz/covfuzz/internal/rng"
	"github.com/covfuzz/covfuzz/internal/sample"
)

// mutateRegion tracks progress through one contiguous byte range flagged
// hot by a sample trie divergence (spec §4.D). cur is the next offset to
// mutate within [start,end); curProgress counts how many of the
// exhaustive variants at cur have already been emitted.
type mutateRegion struct {
	start, end  int
	cur         int
	curProgress int
}

// DeterministicContext drives an exhaustive sweep over the byte offsets a
// SampleTrie has flagged as divergence points, rather than picking offsets
// at random. It implements HotOffsetReceiver so the scheduler can push new
// hot offsets in as they're discovered mid-round.
type DeterministicContext struct {
	regions    []mutateRegion
	curRegion  int
}

// NewDeterministicContext returns an empty deterministic context; hot
// offsets are added incrementally via AddHotOffset.
func NewDeterministicContext() *DeterministicContext {
	return &DeterministicContext{}
}

// AddHotOffset inserts the region [max(0,offset-3), offset+20), merging it
// with any overlapping region, and rewinds the sweep cursor to the
// earliest unfinished region so the newly hot area gets picked up in this
// same round.
func (c *DeterministicContext) AddHotOffset(offset int) {
	start := offset - 3
	if start < 0 {
		start = 0
	}
	newRegion := mutateRegion{start: start, end: offset + 20, cur: start}

	merged := make([]mutateRegion, 0, len(c.regions)+1)
	inserted := false
	for _, r := range c.regions {
		if r.end < newRegion.start || newRegion.end < r.start {
			if !inserted && newRegion.start < r.start {
				merged = append(merged, newRegion)
				inserted = true
			}
			merged = append(merged, r)
			continue
		}
		if r.start < newRegion.start {
			newRegion.start = r.start
			newRegion.cur = r.cur
			newRegion.curProgress = r.curProgress
		}
		if r.end > newRegion.end {
			newRegion.end = r.end
		}
	}
	if !inserted {
		merged = append(merged, newRegion)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].start < merged[j].start })
	c.regions = merged
	c.curRegion = 0
}

// nextByteToMutate returns the next (position, progress) pair to try and
// advances the sweep, or ok=false once every region is drained.
func (c *DeterministicContext) nextByteToMutate(maxProgress int) (pos, progress int, ok bool) {
	for c.curRegion < len(c.regions) {
		r := &c.regions[c.curRegion]
		if r.cur >= r.end {
			c.curRegion++
			continue
		}
		pos, progress = r.cur, r.curProgress
		r.curProgress++
		if r.curProgress >= maxProgress {
			r.curProgress = 0
			r.cur++
		}
		return pos, progress, true
	}
	return 0, 0, false
}

func (c *DeterministicContext) reset() {
	c.curRegion = 0
	for i := range c.regions {
		c.regions[i].cur = c.regions[i].start
		c.regions[i].curProgress = 0
	}
}

// DeterministicByteFlip exhaustively sets every hot-offset byte to every
// value in [0,256) in turn.
type DeterministicByteFlip struct{ Base }

func (DeterministicByteFlip) CreateSampleContext(*sample.Sample) Context {
	return NewDeterministicContext()
}

func (DeterministicByteFlip) InitRound(_ *sample.Sample, ctx Context) {
	ctx.(*DeterministicContext).reset()
}

func (DeterministicByteFlip) Mutate(s *sample.Sample, _ rng.Source, _ []*sample.Sample, ctx Context) bool {
	c := ctx.(*DeterministicContext)
	pos, value, ok := c.nextByteToMutate(256)
	if !ok {
		return false
	}
	if pos >= s.Size() {
		s.Resize(pos + 1)
	}
	s.Bytes()[pos] = byte(value)
	return true
}

// DeterministicInterestingValue exhaustively tries every interesting value
// at each hot offset, in table order.
type DeterministicInterestingValue struct {
	Base
	Values [][]byte
}

func (DeterministicInterestingValue) CreateSampleContext(*sample.Sample) Context {
	return NewDeterministicContext()
}

func (DeterministicInterestingValue) InitRound(_ *sample.Sample, ctx Context) {
	ctx.(*DeterministicContext).reset()
}

func (m DeterministicInterestingValue) Mutate(s *sample.Sample, _ rng.Source, _ []*sample.Sample, ctx Context) bool {
	if len(m.Values) == 0 {
		return false
	}
	c := ctx.(*DeterministicContext)
	pos, idx, ok := c.nextByteToMutate(len(m.Values))
	if !ok {
		return false
	}
	v := m.Values[idx]
	end := pos + len(v)
	if end > s.Size() {
		s.Resize(end)
	}
	copy(s.Bytes()[pos:end], v)
	return true
}
