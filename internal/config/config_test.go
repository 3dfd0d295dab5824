package config

import (
	"flag"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covfuzz/covfuzz/internal/engine"
)

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	cfg := &Config{
		In:         "corpus",
		Out:        "out",
		NumThreads: 4,
		DryRun:     true,
		TargetCmd:  []string{"./target", "@@"},
	}

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestToEngineOptionsAppliesTimeoutsAndFlags(t *testing.T) {
	cfg := &Config{
		NumThreads:      2,
		In:              "in",
		Out:             "out",
		TimeoutMS:       500,
		InitTimeoutMS:   250,
		CorpusTimeoutMS: 100,
		DryRun:          true,
		MaxSampleSize:   1024,
	}

	opts := cfg.ToEngineOptions()
	assert.Equal(t, 2, opts.NumThreads)
	assert.Equal(t, 500*time.Millisecond, opts.Timeout)
	assert.Equal(t, 250*time.Millisecond, opts.InitTimeout)
	assert.Equal(t, 100*time.Millisecond, opts.CorpusTimeout)
	assert.True(t, opts.DryRun)
	assert.Equal(t, 1024, opts.MaxSampleSize)
}

func TestToEngineOptionsFallsBackToEngineDefaults(t *testing.T) {
	cfg := &Config{NumThreads: 1, In: "in", Out: "out"}
	opts := cfg.ToEngineOptions()
	assert.Equal(t, engine.DefaultCoverageReproduceRetries, opts.CoverageReproduceRetries)
}

func TestSplitTargetArgs(t *testing.T) {
	engineArgs, targetArgs := SplitTargetArgs([]string{"-nthreads", "4", "--", "./target", "@@"})
	assert.Equal(t, []string{"-nthreads", "4"}, engineArgs)
	assert.Equal(t, []string{"./target", "@@"}, targetArgs)
}

func TestSplitTargetArgsNoSeparator(t *testing.T) {
	engineArgs, targetArgs := SplitTargetArgs([]string{"-nthreads", "4"})
	assert.Equal(t, []string{"-nthreads", "4"}, engineArgs)
	assert.Nil(t, targetArgs)
}

func TestExpandTargetArgsSubstitutesPlaceholders(t *testing.T) {
	out := ExpandTargetArgs([]string{"--input=@@", "--ranges=@@ranges"}, "/tmp/in0", "/tmp/ranges0")
	assert.Equal(t, []string{"--input=/tmp/in0", "--ranges=/tmp/ranges0"}, out)
}

func TestRegisterFlagsBindsToFlagSet(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-in", "corpus", "-out", "results", "-nthreads", "8", "-dry_run"}))

	cfg := f.ToConfig(fs.Args())
	assert.Equal(t, "corpus", cfg.In)
	assert.Equal(t, "results", cfg.Out)
	assert.Equal(t, 8, cfg.NumThreads)
	assert.True(t, cfg.DryRun)
}
