package stats

import (
	"fmt"
	"net/http"

	"github.com/covfuzz/covfuzz/internal/xlog"
)

// EngineStats is the subset of engine.Stats the status handler needs. It's
// declared here rather than imported to avoid internal/stats depending on
// internal/engine — the handler is wired up by cmd/covfuzz, which imports
// both.
type EngineStats struct {
	State               fmt.Stringer
	NumCrashes          uint64
	NumUniqueCrashes    uint64
	NumHangs            uint64
	NumSamples          uint64
	NumSamplesDiscarded uint64
	TotalExecs          uint64
	CorpusSize          int
	CoverageSize        int
}

// StatusHandler renders a plain-text snapshot of engine counters, the
// registered stats.Vals, and recent xlog output — the operator surface
// SPEC_FULL.md adds in place of the original's periodic stdout printer.
func StatusHandler(getStats func() EngineStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		s := getStats()
		fmt.Fprintf(w, "state: %s\n", s.State)
		fmt.Fprintf(w, "total_execs: %d\n", s.TotalExecs)
		fmt.Fprintf(w, "num_samples: %d\n", s.NumSamples)
		fmt.Fprintf(w, "num_samples_discarded: %d\n", s.NumSamplesDiscarded)
		fmt.Fprintf(w, "num_crashes: %d (%d unique)\n", s.NumCrashes, s.NumUniqueCrashes)
		fmt.Fprintf(w, "num_hangs: %d\n", s.NumHangs)
		fmt.Fprintf(w, "corpus_size: %d\n", s.CorpusSize)
		fmt.Fprintf(w, "coverage_size: %d\n", s.CoverageSize)

		fmt.Fprintln(w)
		for _, snap := range Collect() {
			fmt.Fprintf(w, "%s: %d  (%s)\n", snap.Name, snap.Value, snap.Desc)
		}

		fmt.Fprintln(w, "\n--- recent log ---")
		fmt.Fprint(w, xlog.CachedLogOutput())
	}
}
