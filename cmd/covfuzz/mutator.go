package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/covfuzz/covfuzz/internal/config"
	"github.com/covfuzz/covfuzz/internal/engine"
	"github.com/covfuzz/covfuzz/internal/grammar"
	"github.com/covfuzz/covfuzz/internal/mutate"
	"github.com/covfuzz/covfuzz/internal/sample"
)

// buildMutator assembles the default byte-level mutation stack from spec
// §4.D's leaf mutators, matching the composition the original engine's
// MutatorFactory hard-codes: a Select over the leaf mutators wrapped in an
// NRound, with the deterministic hot-offset sweep (a Sequence exhausting
// byte-flip then interesting-value offsets in turn) run first when enabled.
// A non-nil g switches to the grammar mutator instead of the byte-level
// stack entirely.
func buildMutator(cfg *config.Config, g *grammar.Grammar) mutate.Mutator {
	if g != nil {
		return grammar.NewMutator(g)
	}

	nondeterministic := mutate.Select{Inner: []mutate.Mutator{
		mutate.ByteFlip{},
		mutate.BlockFlip{Min: 1, Max: 16},
		mutate.BlockFlip{Min: 1, Max: 16, Uniform: true},
		mutate.Append{Min: 1, Max: 16, MaxSampleSize: cfg.MaxSampleSizeOr(sample.MaxSize)},
		mutate.BlockInsert{Min: 1, Max: 16, MaxSampleSize: cfg.MaxSampleSizeOr(sample.MaxSize)},
		mutate.BlockDuplicate{
			MinBlockSize: 1, MaxBlockSize: 16,
			MinCount: 1, MaxCount: 4,
			MaxSampleSize: cfg.MaxSampleSizeOr(sample.MaxSize),
		},
		mutate.InterestingValue{Values: mutate.DefaultInterestingValues()},
		mutate.Arithmetic{},
		mutate.Splice{Points: 1, DisplacementP: 0.5, MaxSampleSize: cfg.MaxSampleSizeOr(sample.MaxSize)},
		mutate.Splice{Points: 2, DisplacementP: 0.5, MaxSampleSize: cfg.MaxSampleSizeOr(sample.MaxSize)},
	}}

	rounds := cfg.IterationsPerRound
	var body mutate.Mutator = mutate.NRound{Inner: []mutate.Mutator{nondeterministic}, Min: 1, Max: max(rounds, 1)}

	if cfg.DeterministicMutations || cfg.DeterministicOnly {
		det := mutate.Sequence{Inner: []mutate.Mutator{
			mutate.DeterministicByteFlip{},
			mutate.DeterministicInterestingValue{Values: mutate.DefaultInterestingValues()},
		}}
		if cfg.DeterministicOnly {
			body = det
		} else {
			body = mutate.DeterministicNondeterministic{Deterministic: det, Nondeterministic: body}
		}
	}

	if cfg.TrackRanges {
		body = mutate.RangeMutator{Inner: body}
	}

	return body
}

// loadGrammar parses the grammar file named by cfg.Grammar, or returns nil
// if no grammar is configured.
func loadGrammar(cfg *config.Config) (*grammar.Grammar, error) {
	if cfg.Grammar == "" {
		return nil, nil
	}
	f, err := os.Open(cfg.Grammar)
	if err != nil {
		return nil, fmt.Errorf("opening grammar file: %w", err)
	}
	defer f.Close()
	g := grammar.New()
	if err := g.Parse(f); err != nil {
		return nil, fmt.Errorf("parsing grammar file: %w", err)
	}
	return g, nil
}

// grammarOutputFilter extracts the flattened string from a grammar-encoded
// sample, dropping grammar.EncodeSample's length prefix and the trailing
// tree encoding, so the target only ever sees the rendered bytes, never the
// tree encoding the mutator
// needs to keep mutating it (spec.md's "grammar filter" supplemented
// feature, SPEC_FULL.md §4).
func grammarOutputFilter(original *sample.Sample) (*sample.Sample, bool) {
	r := bytes.NewReader(original.Bytes())
	var length uint64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, false
	}
	rendered := make([]byte, length)
	if _, err := io.ReadFull(r, rendered); err != nil {
		return nil, false
	}
	return sample.New(rendered), true
}

// engineOutputFilter returns the OutputFilter to install on engine.Options
// for the given (possibly nil) grammar.
func engineOutputFilter(g *grammar.Grammar) engine.OutputFilter {
	if g == nil {
		return nil
	}
	return grammarOutputFilter
}
