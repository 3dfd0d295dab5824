package minimize

import "github.com/covfuzz/covfuzz/internal/sample"

// TrimStepInitial is the starting trim size; each failed shrink halves it,
// so minimization coarsens gracefully instead of bisecting from scratch.
const TrimStepInitial = 16

// Trimmer shrinks a sample from the tail, byte-blind: it doesn't know or
// care what the bytes mean, only that removing a chunk from the end still
// leaves a sample worth testing.
type Trimmer struct{}

type trimmerContext struct {
	trimStep int
}

func (Trimmer) CreateContext(*sample.Sample) Context {
	return &trimmerContext{trimStep: TrimStepInitial}
}

func (Trimmer) MinimizeStep(s *sample.Sample, ctx Context) bool {
	c := ctx.(*trimmerContext)
	if s.Size() <= 1 {
		return false
	}
	for c.trimStep >= s.Size() {
		c.trimStep /= 2
	}
	if c.trimStep == 0 {
		return false
	}
	s.Trim(s.Size() - c.trimStep)
	return true
}

func (Trimmer) ReportSuccess(*sample.Sample, Context) {}

func (Trimmer) ReportFail(_ *sample.Sample, ctx Context) {
	ctx.(*trimmerContext).trimStep /= 2
}
