// Command covfuzz-server runs the federation server (spec.md §4.H): the
// coverage-sharing rendezvous point a fleet of covfuzz engines sync
// against via -server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/covfuzz/covfuzz/internal/federation"
	"github.com/covfuzz/covfuzz/internal/xlog"
)

func main() {
	addr := flag.String("addr", fmt.Sprintf(":%d", federation.DefaultPort), "listen address")
	outDir := flag.String("out", "", "output directory for server_samples/, server_crashes/ and state")
	restore := flag.Bool("restore", false, "restore server_state.dat before serving")
	httpAddr := flag.String("http", "", "status page listen address")
	flag.Parse()

	if *outDir == "" {
		fmt.Fprintln(os.Stderr, "covfuzz-server: -out is required")
		os.Exit(2)
	}

	xlog.EnableLogCaching(1000, 1<<20)

	srv, err := federation.NewServer(*outDir)
	if err != nil {
		xlog.Fatalf("covfuzz-server: %v", err)
	}
	if *restore {
		if err := srv.RestoreState(); err != nil {
			xlog.Fatalf("covfuzz-server: restoring state: %v", err)
		}
	}

	if *httpAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			s := srv.Stats()
			fmt.Fprintf(w, "connections: %d\nsamples: %d\ncrashes: %d\nunique_crashes: %d\n",
				s.NumConnections, s.NumSamples, s.NumCrashes, s.NumUniqueCrashes)
			fmt.Fprint(w, xlog.CachedLogOutput())
		})
		go func() {
			if err := http.ListenAndServe(*httpAddr, mux); err != nil {
				xlog.Logf(0, "covfuzz-server: status server exited: %v", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	xlog.Logf(0, "covfuzz-server: listening on %s", *addr)
	if err := srv.Serve(ctx, *addr); err != nil && ctx.Err() == nil {
		xlog.Fatalf("covfuzz-server: %v", err)
	}
	if err := srv.SaveState(); err != nil {
		xlog.Logf(0, "covfuzz-server: error saving state on exit: %v", err)
	}
}
