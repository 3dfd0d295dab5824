package config

import (
	"flag"
	"strings"
)

// FlagSet mirrors syzkaller's cmd-level pattern of package-level flag.X
// vars parsed once in main (see syz-fuzzer/fuzzer.go): every spec §6 flag
// gets a field here, bound to the process's default flag.CommandLine.
type FlagSet struct {
	In         *string
	Out        *string
	NumThreads *int

	Timeout       *int
	InitTimeout   *int
	CorpusTimeout *int

	Server      *string
	StartServer *string

	Restore               *bool
	SaveHangs             *bool
	DryRun                *bool
	MinimizeSamples       *bool
	KeepSamplesInMemory   *bool
	TrackRanges           *bool
	IncrementalCoverage   *bool
	AddAllInputs          *bool
	CleanTargetOnCoverage *bool
	TrackHotOffsets       *bool

	CoverageRetry *int
	CrashRetry    *int
	MaxSampleSize *int

	DeterministicMutations *bool
	DeterministicOnly      *bool
	IterationsPerRound     *int

	Grammar       *string
	Delivery      *string
	FileExtension *string
	HTTP          *string

	ConfigFile *string
}

// RegisterFlags declares every spec §6 flag on fs and returns a FlagSet
// holding the bound values. Call flag.Parse() (or fs.Parse) afterward.
func RegisterFlags(fs *flag.FlagSet) *FlagSet {
	return &FlagSet{
		In:         fs.String("in", "", "input corpus directory, or - to skip ingestion"),
		Out:        fs.String("out", "", "output directory"),
		NumThreads: fs.Int("nthreads", 1, "number of worker threads"),

		Timeout:       fs.Int("t", 1000, "per-run timeout in milliseconds"),
		InitTimeout:   fs.Int("t1", 1000, "initial (startup) timeout in milliseconds"),
		CorpusTimeout: fs.Int("t_corpus", 1000, "per-input-sample timeout in milliseconds"),

		Server:      fs.String("server", "", "federation server address (host[:port])"),
		StartServer: fs.String("start_server", "", "federation server host[:port] (stored in the config; covfuzz does not start a server from it)"),

		Restore:               fs.Bool("restore", false, "restore from a previous checkpoint"),
		SaveHangs:             fs.Bool("save_hangs", false, "save hanging samples to the hangs directory"),
		DryRun:                fs.Bool("dry_run", false, "exit once the Fuzzing state is reached"),
		MinimizeSamples:       fs.Bool("minimize_samples", false, "minimize samples with new coverage before saving"),
		KeepSamplesInMemory:   fs.Bool("keep_samples_in_memory", false, "keep accepted samples resident instead of reloading from disk"),
		TrackRanges:           fs.Bool("track_ranges", false, "track and pass through byte ranges to the target"),
		IncrementalCoverage:   fs.Bool("incremental_coverage", false, "clear coverage between runs instead of diffing against the fuzzer's total"),
		AddAllInputs:          fs.Bool("add_all_inputs", false, "save every input sample even without new coverage"),
		CleanTargetOnCoverage: fs.Bool("clean_target_on_coverage", false, "restart the target after any run reporting new coverage"),
		TrackHotOffsets:       fs.Bool("track_hot_offsets", false, "bias mutation toward offsets that recently produced new coverage"),

		CoverageRetry: fs.Int("coverage_retry", 0, "coverage stability retries (0 = engine default)"),
		CrashRetry:    fs.Int("crash_retry", 0, "crash reproduction retries (0 = engine default)"),
		MaxSampleSize: fs.Int("max_sample_size", 0, "maximum sample size in bytes (0 = engine default)"),

		DeterministicMutations: fs.Bool("deterministic_mutations", false, "run deterministic mutation passes before random mutation"),
		DeterministicOnly:      fs.Bool("deterministic_only", false, "run only deterministic mutation passes"),
		IterationsPerRound:     fs.Int("iterations_per_round", 0, "mutations per fuzz round (0 = mutator default)"),

		Grammar:       fs.String("grammar", "", "grammar file enabling the grammar mutator"),
		Delivery:      fs.String("delivery", "file", "sample delivery mode: file or shmem"),
		FileExtension: fs.String("file_extension", "", "suffix appended to accepted sample filenames"),
		HTTP:          fs.String("http", "", "status page listen address"),

		ConfigFile: fs.String("config", "", "load settings from a JSON config file; only explicitly set -in, -out and -nthreads override it"),
	}
}

// ToConfig builds a Config from parsed flag values, taking args unchanged
// as the target command line. It does not split on "--": args is expected
// to be what remains after flag parsing (flag.Parse consumes the "--"
// separator), or the target half returned by SplitTargetArgs.
func (f *FlagSet) ToConfig(args []string) *Config {
	return &Config{
		In:                     *f.In,
		Out:                    *f.Out,
		NumThreads:             *f.NumThreads,
		TimeoutMS:              *f.Timeout,
		InitTimeoutMS:          *f.InitTimeout,
		CorpusTimeoutMS:        *f.CorpusTimeout,
		Server:                 *f.Server,
		StartServer:            *f.StartServer,
		Restore:                *f.Restore,
		SaveHangs:              *f.SaveHangs,
		DryRun:                 *f.DryRun,
		MinimizeSamples:        *f.MinimizeSamples,
		KeepSamplesInMemory:    *f.KeepSamplesInMemory,
		TrackRanges:            *f.TrackRanges,
		IncrementalCoverage:    *f.IncrementalCoverage,
		AddAllInputs:           *f.AddAllInputs,
		CleanTargetOnCoverage:  *f.CleanTargetOnCoverage,
		TrackHotOffsets:        *f.TrackHotOffsets,
		CoverageRetry:          *f.CoverageRetry,
		CrashRetry:             *f.CrashRetry,
		MaxSampleSize:          *f.MaxSampleSize,
		DeterministicMutations: *f.DeterministicMutations,
		DeterministicOnly:      *f.DeterministicOnly,
		IterationsPerRound:     *f.IterationsPerRound,
		Grammar:                *f.Grammar,
		Delivery:               *f.Delivery,
		FileExtension:          *f.FileExtension,
		HTTP:                   *f.HTTP,
		TargetCmd:              args,
	}
}

// SplitTargetArgs splits a raw argv slice on the first bare "--", returning
// the engine's own flag arguments and the target command line separately
// (spec §6: "Command string separator -- delimits engine args from target
// args").
func SplitTargetArgs(argv []string) (engineArgs, targetArgs []string) {
	for i, a := range argv {
		if a == "--" {
			return argv[:i], argv[i+1:]
		}
	}
	return argv, nil
}

// ExpandTargetArgs substitutes the spec §6 placeholders "@@" (per-thread
// input path) and "@@ranges" (ranges file path) into a copy of args.
func ExpandTargetArgs(args []string, inputPath, rangesPath string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		a = strings.ReplaceAll(a, "@@ranges", rangesPath)
		a = strings.ReplaceAll(a, "@@", inputPath)
		out[i] = a
	}
	return out
}
