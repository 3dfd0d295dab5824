// Package config defines the on-disk/CLI configuration surface named in
// spec §6, modeled on syzkaller's pkg/mgrconfig: a plain encoding/json
// struct that both a saved config file and command-line flags populate.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/covfuzz/covfuzz/internal/engine"
	"github.com/covfuzz/covfuzz/internal/osutil"
)

// Config is the full set of engine.Options fields plus the parts of
// spec §6 that aren't Options fields (server addressing, grammar path,
// delivery mode, target command line).
type Config struct {
	// In is the input corpus directory, or "-" to skip ingestion and resume
	// from the checkpoint in Out (spec §6's "-in <dir | ->").
	In string `json:"in"`
	// Out is the engine's output directory (samples/, crashes/, hangs/,
	// state.dat).
	Out string `json:"out"`
	// NumThreads is the worker goroutine count ("-nthreads").
	NumThreads int `json:"nthreads"`

	// TimeoutMS/InitTimeoutMS/CorpusTimeoutMS are spec §6's "-t"/"-t1"/
	// "-t_corpus", all in milliseconds on the wire and CLI.
	TimeoutMS       int `json:"timeout_ms"`
	InitTimeoutMS   int `json:"init_timeout_ms"`
	CorpusTimeoutMS int `json:"corpus_timeout_ms"`

	// Server is this engine's federation client target ("-server host[:port]").
	// Empty disables federation.
	Server string `json:"server,omitempty"`
	// StartServer holds the "-start_server" host[:port] value. It is parsed
	// and stored only: cmd/covfuzz does not start a federation server from
	// it; the server is the separate cmd/covfuzz-server binary.
	StartServer string `json:"start_server,omitempty"`

	Restore               bool `json:"restore"`
	SaveHangs             bool `json:"save_hangs"`
	DryRun                bool `json:"dry_run"`
	MinimizeSamples       bool `json:"minimize_samples"`
	KeepSamplesInMemory   bool `json:"keep_samples_in_memory"`
	TrackRanges           bool `json:"track_ranges"`
	IncrementalCoverage   bool `json:"incremental_coverage"`
	AddAllInputs          bool `json:"add_all_inputs"`
	CleanTargetOnCoverage bool `json:"clean_target_on_coverage"`
	TrackHotOffsets       bool `json:"track_hot_offsets"`

	CoverageRetry int `json:"coverage_retry,omitempty"`
	CrashRetry    int `json:"crash_retry,omitempty"`
	MaxSampleSize int `json:"max_sample_size,omitempty"`

	// DeterministicMutations/DeterministicOnly/IterationsPerRound configure
	// the deterministic (N-round) mutation stage ahead of random mutation
	// (spec §4.D).
	DeterministicMutations bool `json:"deterministic_mutations"`
	DeterministicOnly      bool `json:"deterministic_only"`
	IterationsPerRound     int  `json:"iterations_per_round,omitempty"`

	// Grammar is an optional grammar file path enabling the grammar mutator
	// (spec §4.D / the on-disk grammar format in spec §6).
	Grammar string `json:"grammar,omitempty"`

	// Delivery selects how samples reach the target: "file" (default) or
	// "shmem". Only "file" is implemented; "shmem" is out of scope (see
	// DESIGN.md).
	Delivery string `json:"delivery,omitempty"`

	// FileExtension appends this suffix to accepted sample filenames when
	// set (spec.md's supplemented -file_extension flag).
	FileExtension string `json:"file_extension,omitempty"`

	// HTTP is the status page listen address, e.g. ":8100". Empty disables
	// it.
	HTTP string `json:"http,omitempty"`

	// TargetCmd is the target command line, following the engine's own
	// flags after a "--" separator (spec §6). "@@" is substituted with the
	// per-thread input path, "@@ranges" with the ranges path.
	TargetCmd []string `json:"target_cmd,omitempty"`
}

// Load reads and parses a JSON config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg as indented JSON to path.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return osutil.WriteFile(path, data)
}

// MaxSampleSizeOr returns c.MaxSampleSize, or fallback if it's unset (the
// CLI's "0 = engine default" convention).
func (c *Config) MaxSampleSizeOr(fallback int) int {
	if c.MaxSampleSize > 0 {
		return c.MaxSampleSize
	}
	return fallback
}

// ToEngineOptions builds an engine.Options from the config fields Options
// owns, layered over engine.DefaultOptions() for anything left at its zero
// value.
func (c *Config) ToEngineOptions() engine.Options {
	opts := engine.DefaultOptions()

	opts.NumThreads = c.NumThreads
	opts.InDir = c.In
	opts.OutDir = c.Out
	opts.FileExtension = c.FileExtension

	if c.TimeoutMS > 0 {
		opts.Timeout = time.Duration(c.TimeoutMS) * time.Millisecond
	}
	if c.InitTimeoutMS > 0 {
		opts.InitTimeout = time.Duration(c.InitTimeoutMS) * time.Millisecond
	}
	if c.CorpusTimeoutMS > 0 {
		opts.CorpusTimeout = time.Duration(c.CorpusTimeoutMS) * time.Millisecond
	}

	opts.Restore = c.Restore
	opts.SaveHangs = c.SaveHangs
	opts.DryRun = c.DryRun
	opts.MinimizeSamples = c.MinimizeSamples
	opts.KeepSamplesInMemory = c.KeepSamplesInMemory
	opts.TrackRanges = c.TrackRanges
	opts.IncrementalCoverage = c.IncrementalCoverage
	opts.AddAllInputs = c.AddAllInputs
	opts.CleanTargetOnCoverage = c.CleanTargetOnCoverage
	opts.TrackHotOffsets = c.TrackHotOffsets

	if c.CoverageRetry > 0 {
		opts.CoverageReproduceRetries = c.CoverageRetry
	}
	if c.CrashRetry > 0 {
		opts.CrashReproduceRetries = c.CrashRetry
	}
	if c.MaxSampleSize > 0 {
		opts.MaxSampleSize = c.MaxSampleSize
	}

	return opts
}
