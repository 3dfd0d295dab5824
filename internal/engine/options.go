package engine

import (
	"io"
	"time"

	"github.com/covfuzz/covfuzz/internal/coverage"
	"github.com/covfuzz/covfuzz/internal/sample"
)

// Default constants from spec §4.G / original_source/fuzzer.h.
const (
	DefaultCoverageReproduceRetries = 3
	DefaultCrashReproduceRetries    = 10
	DeliveryRetryTimes              = 100
	MaxIdenticalCrashes             = 4
	MinSamplesToGenerate            = 10
	DefaultAcceptableHangRatio      = 0.01
	DefaultAcceptableCrashRatio     = 0.02
	HangDiscardThreshold            = 10
	CrashDiscardThreshold           = 100
)

// Federation is the subset of the federated coverage-sharing client (spec
// §4.H) the engine drives directly. A nil Federation disables server sync
// entirely (SynchronizeAndGetJob never enters ServerSampleProcessing).
type Federation interface {
	// ReportNewCoverage reports cov to the server; s is nil when reporting
	// variable coverage with no admitted sample attached.
	ReportNewCoverage(cov *coverage.Coverage, s *sample.Sample) error
	// ReportCrash reports a crash sample and its description to the server.
	ReportCrash(s *sample.Sample, desc string) error
	// GetUpdates fetches samples newer than lastTimestamp, returning them
	// plus the server's current timestamp for the next call.
	GetUpdates(totalExecs, lastTimestamp uint64) (samples [][]byte, serverTimestamp uint64, err error)
	// SaveState/LoadState (de)serialize federation client state into the
	// engine's own checkpoint file, between the corpus entries and the
	// sentinel.
	SaveState(w io.Writer) error
	LoadState(r io.Reader) error
}

// OutputFilter transforms a sample before it's delivered to the target,
// without changing what gets saved to the corpus (spec §4.D's grammar
// filter: strip the encoded-length prefix so the target only sees the
// flattened string). ok reports whether a filter applied; when false the
// original sample is delivered unmodified.
type OutputFilter func(original *sample.Sample) (filtered *sample.Sample, ok bool)

// Options configures an Engine. Zero value is not usable; call
// DefaultOptions and override.
type Options struct {
	NumThreads    int
	InDir         string
	OutDir        string
	FileExtension string

	InitTimeout   time.Duration
	Timeout       time.Duration
	CorpusTimeout time.Duration

	Restore               bool
	SaveHangs             bool
	DryRun                bool
	MinimizeSamples       bool
	KeepSamplesInMemory   bool
	TrackRanges           bool
	IncrementalCoverage   bool
	AddAllInputs          bool
	CleanTargetOnCoverage bool
	TrackHotOffsets       bool

	CoverageReproduceRetries int
	CrashReproduceRetries    int
	MaxSampleSize            int

	AcceptableHangRatio  float64
	AcceptableCrashRatio float64

	ServerUpdateInterval time.Duration
	SaveInterval         time.Duration

	// IsReturnValueInteresting gates whether a run's coverage is even
	// considered for novelty (spec §4.G step 4). Defaults to "always".
	IsReturnValueInteresting func(returnValue int) bool

	// OutputFilter is applied to every sample right before delivery.
	OutputFilter OutputFilter

	Federation Federation
}

// DefaultOptions returns an Options with every constant from spec §4.G/§2
// filled in; callers still need to set NumThreads/InDir/OutDir and the
// per-worker factories passed to Engine.Run.
func DefaultOptions() Options {
	return Options{
		NumThreads:               1,
		InitTimeout:              time.Second,
		Timeout:                  time.Second,
		CorpusTimeout:            time.Second,
		CoverageReproduceRetries: DefaultCoverageReproduceRetries,
		CrashReproduceRetries:    DefaultCrashReproduceRetries,
		MaxSampleSize:            sample.MaxSize,
		AcceptableHangRatio:      DefaultAcceptableHangRatio,
		AcceptableCrashRatio:     DefaultAcceptableCrashRatio,
		ServerUpdateInterval:     5 * time.Minute,
		SaveInterval:             5 * time.Minute,
		IsReturnValueInteresting: func(int) bool { return true },
	}
}
