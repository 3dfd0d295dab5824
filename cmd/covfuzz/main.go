// Command covfuzz runs the coverage-guided mutational fuzzing engine
// (spec.md §4.G) against a target command line, driven by the flags and
// JSON config surface in spec.md §6.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/covfuzz/covfuzz/internal/config"
	"github.com/covfuzz/covfuzz/internal/engine"
	"github.com/covfuzz/covfuzz/internal/federation"
	"github.com/covfuzz/covfuzz/internal/grammar"
	"github.com/covfuzz/covfuzz/internal/minimize"
	"github.com/covfuzz/covfuzz/internal/osutil"
	"github.com/covfuzz/covfuzz/internal/rng"
	"github.com/covfuzz/covfuzz/internal/stats"
	"github.com/covfuzz/covfuzz/internal/target"
	"github.com/covfuzz/covfuzz/internal/xlog"
)

func main() {
	flagSet := config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	cfg := flagSet.ToConfig(flag.Args())
	if *flagSet.ConfigFile != "" {
		cfg = mergeConfigFile(*flagSet.ConfigFile, flagSet, flag.Args())
	}

	if cfg.In == "" || cfg.Out == "" {
		fmt.Fprintln(os.Stderr, "covfuzz: -in and -out are required")
		os.Exit(2)
	}
	if len(cfg.TargetCmd) == 0 {
		fmt.Fprintln(os.Stderr, "covfuzz: no target command given after --")
		os.Exit(2)
	}

	xlog.EnableLogCaching(1000, 1<<20)

	g, err := loadGrammar(cfg)
	if err != nil {
		xlog.Fatalf("covfuzz: %v", err)
	}

	opts := cfg.ToEngineOptions()
	opts.OutputFilter = engineOutputFilter(g)

	if cfg.Server != "" {
		opts.Federation = federation.NewClient(cfg.Server)
	}

	e, err := engine.New(opts)
	if err != nil {
		xlog.Fatalf("covfuzz: creating engine: %v", err)
	}

	if cfg.HTTP != "" {
		serveStatus(cfg.HTTP, e)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	factory := newWorkerFactory(cfg, g)
	if err := e.Run(ctx, factory); err != nil && ctx.Err() == nil {
		xlog.Fatalf("covfuzz: %v", err)
	}
}

// mergeConfigFile loads baseline settings from path and layers -in, -out
// and -nthreads on top when they were passed explicitly on the command
// line, plus the target command line when one was given. Every other flag
// is taken from the config file, whether or not it was passed explicitly.
func mergeConfigFile(path string, fs *config.FlagSet, targetArgs []string) *config.Config {
	base, err := config.Load(path)
	if err != nil {
		xlog.Fatalf("covfuzz: loading -config %s: %v", path, err)
	}
	explicit := fs.ToConfig(targetArgs)
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	merged := *base
	if set["in"] {
		merged.In = explicit.In
	}
	if set["out"] {
		merged.Out = explicit.Out
	}
	if set["nthreads"] {
		merged.NumThreads = explicit.NumThreads
	}
	if len(targetArgs) > 0 {
		merged.TargetCmd = targetArgs
	}
	if merged.NumThreads == 0 {
		merged.NumThreads = 1
	}
	return &merged
}

func serveStatus(addr string, e *engine.Engine) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", stats.StatusHandler(func() stats.EngineStats {
		s := e.Stats()
		return stats.EngineStats{
			State:               s.State,
			NumCrashes:          s.NumCrashes,
			NumUniqueCrashes:    s.NumUniqueCrashes,
			NumHangs:            s.NumHangs,
			NumSamples:          s.NumSamples,
			NumSamplesDiscarded: s.NumSamplesDiscarded,
			TotalExecs:          s.TotalExecs,
			CorpusSize:          s.CorpusSize,
			CoverageSize:        s.CoverageSize,
		}
	}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			xlog.Logf(0, "covfuzz: status server exited: %v", err)
		}
	}()
}

// newWorkerFactory returns an engine.WorkerFactory building one subprocess
// executor, PRNG and mutator per thread, each in its own scratch directory
// so concurrent workers never collide on input/coverage/ranges files.
func newWorkerFactory(cfg *config.Config, g *grammar.Grammar) engine.WorkerFactory {
	return func(threadID int) engine.WorkerDeps {
		scratchDir := filepath.Join(cfg.Out, fmt.Sprintf("thread_%d", threadID))
		if err := osutil.MkdirAll(scratchDir); err != nil {
			xlog.Fatalf("covfuzz: creating thread scratch dir: %v", err)
		}
		inputPath := filepath.Join(scratchDir, "input")
		rangesPath := filepath.Join(scratchDir, "ranges")
		coveragePath := filepath.Join(scratchDir, "coverage")

		argv := config.ExpandTargetArgs(cfg.TargetCmd, inputPath, rangesPath)

		var rangeSource target.RangeSource = target.NoRangeSource{}
		if cfg.TrackRanges {
			rangeSource = newSubprocessRangeSource(rangesPath)
		}

		var minimizer minimize.Minimizer
		if cfg.MinimizeSamples {
			if g != nil {
				minimizer = minimize.GrammarMinimizer{Grammar: g, MinimizationLimit: 1}
			} else {
				minimizer = minimize.Trimmer{}
			}
		}

		return engine.WorkerDeps{
			PRNG:        rng.New(),
			Mutator:     buildMutator(cfg, g),
			Executor:    newSubprocessExecutor(argv, coveragePath, rangesPath),
			Delivery:    target.NewFileDelivery(inputPath),
			Minimizer:   minimizer,
			RangeSource: rangeSource,
		}
	}
}
