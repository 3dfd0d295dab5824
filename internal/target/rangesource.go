package target

import "github.com/covfuzz/covfuzz/internal/mutate"

// ConstantRangeSource always reports a single fixed range, mirroring the
// original ConstantRangeTracker: useful for targets that only ever mutate
// one known field, or in tests that don't have a real shared-memory range
// tracker wired up.
type ConstantRangeSource struct {
	From, To int
}

func NewConstantRangeSource(from, to int) *ConstantRangeSource {
	return &ConstantRangeSource{From: from, To: to}
}

func (c *ConstantRangeSource) ExtractRanges() ([]mutate.Range, error) {
	return []mutate.Range{{From: c.From, To: c.To}}, nil
}

// NoRangeSource reports no ranges, so an entry saved with it carries none
// and the Range composite mutator, given no ranges, mutates the whole
// sample, matching a target run with -track_ranges off.
type NoRangeSource struct{}

func (NoRangeSource) ExtractRanges() ([]mutate.Range, error) { return nil, nil }
