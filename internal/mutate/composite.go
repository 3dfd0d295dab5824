package mutate

import (
	"github.com/covfuzz/covfuzz/internal/rng"
	"github.com/covfuzz/covfuzz/internal/sample"
)

// NRound runs Min..Max rounds (drawn on the first Mutate after each
// InitRound when Max > Min, otherwise the fixed count Min), each round
// picking Inner uniformly
// at random and calling Mutate once. Mutate returns false once the round
// budget is exhausted, signalling the scheduler that this mutator has
// nothing left to try this pass.
type NRound struct {
	Base
	Inner    []Mutator
	Min, Max int
}

type nRoundCtx struct {
	inner     []Context
	rounds    int
	roundsSet bool
	done      int
}

func (m NRound) CreateSampleContext(s *sample.Sample) Context {
	inner := make([]Context, len(m.Inner))
	for i, mm := range m.Inner {
		inner[i] = mm.CreateSampleContext(s)
	}
	return &nRoundCtx{inner: inner}
}

func (m NRound) InitRound(s *sample.Sample, ctx Context) {
	c := ctx.(*nRoundCtx)
	c.done = 0
	c.roundsSet = false
	for i, mm := range m.Inner {
		mm.InitRound(s, c.inner[i])
	}
}

func (m NRound) Mutate(s *sample.Sample, prng rng.Source, allSamples []*sample.Sample, ctx Context) bool {
	c := ctx.(*nRoundCtx)
	if !c.roundsSet {
		c.rounds = m.Min
		if m.Max > m.Min {
			c.rounds = int(prng.Range(int64(m.Min), int64(m.Max)))
		}
		c.roundsSet = true
	}
	if len(m.Inner) == 0 || c.done >= c.rounds {
		return false
	}
	idx := int(prng.Range(0, int64(len(m.Inner)-1)))
	m.Inner[idx].Mutate(s, prng, allSamples, c.inner[idx])
	c.done++
	return true
}

func (m NRound) NotifyResult(ctx Context, result Result, hadNewCoverage bool) {
	c := ctx.(*nRoundCtx)
	for i, mm := range m.Inner {
		mm.NotifyResult(c.inner[i], result, hadNewCoverage)
	}
}

// PSelect picks Inner[i] with probability Weights[i]/sum(Weights) each
// call, applying it once.
type PSelect struct {
	Base
	Inner   []Mutator
	Weights []float64
}

type pselectCtx struct {
	inner []Context
}

func (m PSelect) CreateSampleContext(s *sample.Sample) Context {
	inner := make([]Context, len(m.Inner))
	for i, mm := range m.Inner {
		inner[i] = mm.CreateSampleContext(s)
	}
	return &pselectCtx{inner: inner}
}

func (m PSelect) InitRound(s *sample.Sample, ctx Context) {
	c := ctx.(*pselectCtx)
	for i, mm := range m.Inner {
		mm.InitRound(s, c.inner[i])
	}
}

func (m PSelect) Mutate(s *sample.Sample, prng rng.Source, allSamples []*sample.Sample, ctx Context) bool {
	c := ctx.(*pselectCtx)
	idx := m.pick(prng)
	if idx < 0 {
		return false
	}
	return m.Inner[idx].Mutate(s, prng, allSamples, c.inner[idx])
}

func (m PSelect) pick(prng rng.Source) int {
	if len(m.Inner) == 0 {
		return -1
	}
	var total float64
	for _, w := range m.Weights {
		total += w
	}
	if total <= 0 {
		return int(prng.Range(0, int64(len(m.Inner)-1)))
	}
	r := prng.Real() * total
	var acc float64
	for i, w := range m.Weights {
		acc += w
		if r < acc {
			return i
		}
	}
	return len(m.Inner) - 1
}

func (m PSelect) NotifyResult(ctx Context, result Result, hadNewCoverage bool) {
	c := ctx.(*pselectCtx)
	for i, mm := range m.Inner {
		mm.NotifyResult(c.inner[i], result, hadNewCoverage)
	}
}

// Select is PSelect with uniform weights: it picks one Inner mutator
// uniformly at random each call.
type Select struct {
	Base
	Inner []Mutator
}

func (m Select) asPSelect() PSelect {
	weights := make([]float64, len(m.Inner))
	for i := range weights {
		weights[i] = 1
	}
	return PSelect{Inner: m.Inner, Weights: weights}
}

func (m Select) CreateSampleContext(s *sample.Sample) Context { return m.asPSelect().CreateSampleContext(s) }
func (m Select) InitRound(s *sample.Sample, ctx Context)      { m.asPSelect().InitRound(s, ctx) }
func (m Select) Mutate(s *sample.Sample, prng rng.Source, allSamples []*sample.Sample, ctx Context) bool {
	return m.asPSelect().Mutate(s, prng, allSamples, ctx)
}
func (m Select) NotifyResult(ctx Context, result Result, hadNewCoverage bool) {
	m.asPSelect().NotifyResult(ctx, result, hadNewCoverage)
}

// Repeat applies Inner Count times per Mutate call (Count drawn fresh on
// every Mutate call from [Min,Max] when Max > Min, otherwise Min; at least
// once).
type Repeat struct {
	Base
	Inner    Mutator
	Min, Max int
}

type repeatCtx struct {
	inner Context
	count int
}

func (m Repeat) CreateSampleContext(s *sample.Sample) Context {
	return &repeatCtx{inner: m.Inner.CreateSampleContext(s)}
}

func (m Repeat) InitRound(s *sample.Sample, ctx Context) {
	c := ctx.(*repeatCtx)
	m.Inner.InitRound(s, c.inner)
	c.count = m.Min
}

func (m Repeat) Mutate(s *sample.Sample, prng rng.Source, allSamples []*sample.Sample, ctx Context) bool {
	c := ctx.(*repeatCtx)
	n := c.count
	if m.Max > m.Min {
		n = int(prng.Range(int64(m.Min), int64(m.Max)))
	}
	if n <= 0 {
		n = 1
	}
	ok := true
	for i := 0; i < n; i++ {
		if !m.Inner.Mutate(s, prng, allSamples, c.inner) {
			ok = false
			break
		}
	}
	return ok
}

func (m Repeat) NotifyResult(ctx Context, result Result, hadNewCoverage bool) {
	m.Inner.NotifyResult(ctx.(*repeatCtx).inner, result, hadNewCoverage)
}

// Sequence advances through Inner one at a time: a child returning false
// from Mutate moves the cursor to the next child rather than ending the
// round, and a child returning true ends the call immediately. The cursor
// is persisted in sequenceCtx so a caller can checkpoint mid-sequence; it
// resets to the first child on InitRound.
type Sequence struct {
	Base
	Inner []Mutator
}

type sequenceCtx struct {
	inner   []Context
	current int
}

func (m Sequence) CreateSampleContext(s *sample.Sample) Context {
	inner := make([]Context, len(m.Inner))
	for i, mm := range m.Inner {
		inner[i] = mm.CreateSampleContext(s)
	}
	return &sequenceCtx{inner: inner}
}

func (m Sequence) InitRound(s *sample.Sample, ctx Context) {
	c := ctx.(*sequenceCtx)
	c.current = 0
	for i, mm := range m.Inner {
		mm.InitRound(s, c.inner[i])
	}
}

func (m Sequence) Mutate(s *sample.Sample, prng rng.Source, allSamples []*sample.Sample, ctx Context) bool {
	c := ctx.(*sequenceCtx)
	for c.current < len(m.Inner) {
		if m.Inner[c.current].Mutate(s, prng, allSamples, c.inner[c.current]) {
			return true
		}
		c.current++
	}
	return false
}

func (m Sequence) NotifyResult(ctx Context, result Result, hadNewCoverage bool) {
	c := ctx.(*sequenceCtx)
	if c.current >= len(m.Inner) {
		return
	}
	m.Inner[c.current].NotifyResult(c.inner[c.current], result, hadNewCoverage)
}

// DeterministicNondeterministic runs Deterministic exhaustively first
// (spec §4.D's deterministic hot-offset phase), then falls back to
// Nondeterministic once Deterministic reports it is exhausted for the
// round.
type DeterministicNondeterministic struct {
	Base
	Deterministic   Mutator
	Nondeterministic Mutator
}

type detNondetCtx struct {
	det, nondet Context
	detDone     bool
}

func (m DeterministicNondeterministic) CreateSampleContext(s *sample.Sample) Context {
	return &detNondetCtx{
		det:    m.Deterministic.CreateSampleContext(s),
		nondet: m.Nondeterministic.CreateSampleContext(s),
	}
}

func (m DeterministicNondeterministic) InitRound(s *sample.Sample, ctx Context) {
	c := ctx.(*detNondetCtx)
	c.detDone = false
	m.Deterministic.InitRound(s, c.det)
	m.Nondeterministic.InitRound(s, c.nondet)
}

func (m DeterministicNondeterministic) Mutate(s *sample.Sample, prng rng.Source, allSamples []*sample.Sample, ctx Context) bool {
	c := ctx.(*detNondetCtx)
	if !c.detDone {
		if m.Deterministic.Mutate(s, prng, allSamples, c.det) {
			return true
		}
		c.detDone = true
	}
	return m.Nondeterministic.Mutate(s, prng, allSamples, c.nondet)
}

func (m DeterministicNondeterministic) NotifyResult(ctx Context, result Result, hadNewCoverage bool) {
	c := ctx.(*detNondetCtx)
	if !c.detDone {
		m.Deterministic.NotifyResult(c.det, result, hadNewCoverage)
		return
	}
	m.Nondeterministic.NotifyResult(c.nondet, result, hadNewCoverage)
}

// RangeMutator restricts Inner's byte selection to caller-supplied ranges
// (spec §4.D's -track_ranges support) by wrapping the sample passed to
// Inner in a cropped view and splicing the (possibly resized) view back
// into place afterward. If no ranges are set it behaves exactly as Inner
// over the full sample.
type RangeMutator struct {
	Base
	Inner Mutator
}

type rangeCtx struct {
	inner  Context
	ranges []Range
}

func (m RangeMutator) CreateSampleContext(s *sample.Sample) Context {
	return &rangeCtx{inner: m.Inner.CreateSampleContext(s)}
}

func (c *rangeCtx) SetRanges(ranges []Range) { c.ranges = ranges }

func (m RangeMutator) InitRound(s *sample.Sample, ctx Context) {
	m.Inner.InitRound(s, ctx.(*rangeCtx).inner)
}

func (m RangeMutator) Mutate(s *sample.Sample, prng rng.Source, allSamples []*sample.Sample, ctx Context) bool {
	c := ctx.(*rangeCtx)
	if len(c.ranges) == 0 {
		return m.Inner.Mutate(s, prng, allSamples, c.inner)
	}
	r := c.ranges[prng.Range(0, int64(len(c.ranges)-1))]
	from, to := r.From, r.To
	if from < 0 {
		from = 0
	}
	if to > s.Size() {
		to = s.Size()
	}
	if to < from {
		to = from
	}
	view := sample.New(nil)
	s.Crop(from, to, view)
	if view.Size() == 0 {
		return m.Inner.Mutate(s, prng, allSamples, c.inner)
	}
	ok := m.Inner.Mutate(view, prng, allSamples, c.inner)
	// Inner may have grown or shrunk view (Append, BlockInsert, Splice, ...),
	// so splice it back by full reconstruction rather than an in-place copy,
	// which would panic or clobber adjacent bytes on any size change.
	full := s.Bytes()
	rebuilt := make([]byte, 0, from+view.Size()+(s.Size()-to))
	rebuilt = append(rebuilt, full[:from]...)
	rebuilt = append(rebuilt, view.Bytes()...)
	rebuilt = append(rebuilt, full[to:]...)
	s.Init(rebuilt)
	return ok
}

func (m RangeMutator) NotifyResult(ctx Context, result Result, hadNewCoverage bool) {
	m.Inner.NotifyResult(ctx.(*rangeCtx).inner, result, hadNewCoverage)
}
