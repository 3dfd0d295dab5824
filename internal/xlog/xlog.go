// Package xlog provides logging for the fuzzing engine: verbosity levels, a
// global verbosity setting shared across packages, and an in-memory ring
// buffer of recent output that the status HTTP handler renders.
//
// Every fuzzing thread runs its own executor and mutator against a shared
// corpus (spec §4.A), so a plain unlabeled log stream interleaves lines from
// however many workers -nthreads configures with no way to tell which one
// produced a given line. Workerf tags a line with the producing worker's
// thread ID so a wall of output from a multi-worker run stays attributable.
//
// Adapted from syzkaller's pkg/log.
//
// Fatalf is the engine's single reporting path for the fatal error kind
// named in spec §7 ("exceptions-as-fatal"): callers never unwind past a
// fatal error, they just call Fatalf and the process exits.
package xlog

import (
	"bytes"
	"flag"
	"fmt"
	golog "log"
	"sync"
	"time"
)

var (
	flagV        = flag.Int("vv", 0, "verbosity")
	mu           sync.Mutex
	cacheMem     int
	cacheMaxMem  int
	cachePos     int
	cacheEntries []string
	prependTime  = true // disabled in tests for deterministic output
)

// EnableLogCaching enables in-memory caching of log output, up to maxLines
// entries and no more than maxMem bytes. Cached output can be read back with
// CachedLogOutput.
func EnableLogCaching(maxLines, maxMem int) {
	mu.Lock()
	defer mu.Unlock()
	if cacheEntries != nil {
		panic("log caching is already enabled")
	}
	if maxLines < 1 || maxMem < 1 {
		panic("invalid maxLines/maxMem")
	}
	cacheMaxMem = maxMem
	cacheEntries = make([]string, maxLines)
}

// CachedLogOutput returns the currently cached log output, oldest first.
func CachedLogOutput() string {
	mu.Lock()
	defer mu.Unlock()
	buf := new(bytes.Buffer)
	for i := range cacheEntries {
		pos := (cachePos + i) % len(cacheEntries)
		if cacheEntries[pos] == "" {
			continue
		}
		buf.WriteString(cacheEntries[pos])
		buf.WriteByte('\n')
	}
	return buf.String()
}

// Logf logs msg at verbosity level v: it is printed only if v is at or below
// the current -vv setting, but is always appended to the cache (for v<=1)
// so CachedLogOutput can surface it even when verbosity is turned down.
func Logf(v int, msg string, args ...interface{}) {
	mu.Lock()
	doLog := v <= *flagV
	if cacheEntries != nil && v <= 1 {
		cacheMem -= len(cacheEntries[cachePos])
		if cacheMem < 0 {
			panic("log cache size underflow")
		}
		timeStr := ""
		if prependTime {
			timeStr = time.Now().Format("2006/01/02 15:04:05 ")
		}
		cacheEntries[cachePos] = fmt.Sprintf(timeStr+msg, args...)
		cacheMem += len(cacheEntries[cachePos])
		cachePos++
		if cachePos == len(cacheEntries) {
			cachePos = 0
		}
		for i := 0; i < len(cacheEntries)-1 && cacheMem > cacheMaxMem; i++ {
			pos := (cachePos + i) % len(cacheEntries)
			cacheMem -= len(cacheEntries[pos])
			cacheEntries[pos] = ""
		}
	}
	mu.Unlock()

	if doLog {
		golog.Printf(msg, args...)
	}
}

// Workerf logs msg at verbosity level v, prefixed with the ID of the worker
// thread that produced it, so CachedLogOutput stays attributable across a
// multi-worker run. Otherwise identical to Logf.
func Workerf(threadID, v int, msg string, args ...interface{}) {
	Logf(v, fmt.Sprintf("[w%d] ", threadID)+msg, args...)
}

// Fatal logs err and terminates the process. The engine's own fatal cases
// (corrupt checkpoint, malformed grammar and the like) go through Fatalf.
func Fatal(err error) {
	golog.Fatal(err)
}

func Fatalf(msg string, args ...interface{}) {
	golog.Fatalf(msg, args...)
}

// VerboseWriter adapts Logf to an io.Writer, for plugging into APIs that
// want a Writer (e.g. http.Server.ErrorLog via log.New(w, ...)).
type VerboseWriter int

func (w VerboseWriter) Write(data []byte) (int, error) {
	Logf(int(w), "%s", data)
	return len(data), nil
}
