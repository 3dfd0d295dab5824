// Package minimize implements sample minimization (spec §4.E): repeatedly
// shrink a sample that still reproduces the target behavior that made it
// interesting, reporting each candidate shrink back so the caller can
// keep or reject it based on whether the shrunk sample still reproduces.
package minimize

import "github.com/covfuzz/covfuzz/internal/sample"

// Context is opaque per-sample minimizer state, private to the Minimizer
// that created it.
type Context interface{}

// Minimizer incrementally shrinks a sample. The caller drives the loop:
// call MinimizeStep, run the shrunk sample against the target, then call
// ReportSuccess (keep the shrink) or ReportFail (undo it) before the next
// step.
type Minimizer interface {
	// CreateContext returns a fresh context seeded from sample's current
	// contents.
	CreateContext(s *sample.Sample) Context
	// MinimizeStep applies the next candidate shrink to s in place and
	// reports whether it made one. false means minimization is complete.
	MinimizeStep(s *sample.Sample, ctx Context) bool
	// ReportSuccess commits the last MinimizeStep's shrink.
	ReportSuccess(s *sample.Sample, ctx Context)
	// ReportFail undoes the last MinimizeStep's shrink.
	ReportFail(s *sample.Sample, ctx Context)
}
