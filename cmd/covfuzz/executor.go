package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/covfuzz/covfuzz/internal/coverage"
	"github.com/covfuzz/covfuzz/internal/mutate"
	"github.com/covfuzz/covfuzz/internal/target"
)

// coverageFileEnv/rangesFileEnv name the environment variables a target
// binary reads to learn where to write its coverage/ranges reports. There
// is no shared-memory instrumentation ABI in this module (spec.md abstracts
// coverage production away as a target concern); a plain-text file is the
// simplest contract a harness script or test binary can implement.
const (
	coverageFileEnv = "COVFUZZ_COVERAGE_FILE"
	rangesFileEnv   = "COVFUZZ_RANGES_FILE"
)

// subprocessExecutor runs the target as a fresh child process per sample,
// grounded on syzkaller's ipc.Env.Exec: start the process in its own
// process group so a timeout can kill the whole group, race a timer against
// Wait, and translate signals/exit codes into RunOutcome.
type subprocessExecutor struct {
	argv         []string
	coveragePath string
	rangesPath   string
	ignore       *coverage.Coverage
}

func newSubprocessExecutor(argv []string, coveragePath, rangesPath string) *subprocessExecutor {
	return &subprocessExecutor{argv: argv, coveragePath: coveragePath, rangesPath: rangesPath}
}

func (e *subprocessExecutor) RunSampleAndGetCoverage(ctx context.Context, delivery target.SampleDelivery, sample []byte, initTimeout, timeout time.Duration) (target.RunOutcome, error) {
	if delivery != nil {
		if err := delivery.Deliver(sample); err != nil {
			return target.RunOutcome{}, fmt.Errorf("subprocess executor: delivering sample: %w", err)
		}
	}
	os.Remove(e.coveragePath)
	os.Remove(e.rangesPath)

	if len(e.argv) == 0 {
		return target.RunOutcome{}, fmt.Errorf("subprocess executor: empty target command")
	}
	cmd := exec.Command(e.argv[0], e.argv[1:]...)
	cmd.Env = append(os.Environ(),
		coverageFileEnv+"="+e.coveragePath,
		rangesFileEnv+"="+e.rangesPath,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var out strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return target.RunOutcome{}, fmt.Errorf("subprocess executor: starting target: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	total := initTimeout + timeout
	var waitErr error
	hanged := false
	select {
	case waitErr = <-done:
	case <-time.After(total):
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		syscall.Kill(cmd.Process.Pid, syscall.SIGKILL)
		waitErr = <-done
		hanged = true
	}

	if hanged {
		return target.RunOutcome{Result: target.Hang}, nil
	}

	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return target.RunOutcome{}, fmt.Errorf("subprocess executor: running target: %w", waitErr)
		}
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return target.RunOutcome{
				Result:    target.Crash,
				CrashDesc: "signal_" + status.Signal().String(),
			}, nil
		}
		return target.RunOutcome{
			Result:      target.Crash,
			CrashDesc:   fmt.Sprintf("exit_%d", exitErr.ExitCode()),
			ReturnValue: exitErr.ExitCode(),
		}, nil
	}

	cov, err := readCoverageFile(e.coveragePath)
	if err != nil {
		return target.RunOutcome{}, fmt.Errorf("subprocess executor: reading coverage: %w", err)
	}
	if e.ignore != nil && !e.ignore.Empty() {
		cov = coverage.Difference(e.ignore, cov)
	}
	return target.RunOutcome{Result: target.OK, Coverage: cov}, nil
}

func (e *subprocessExecutor) Clean() error {
	// A fresh process is started on every call, so there's no persistent
	// child to restart.
	return nil
}

func (e *subprocessExecutor) IgnoreCoverage(cov *coverage.Coverage) {
	e.ignore = cov
}

func (e *subprocessExecutor) Close() error {
	os.Remove(e.coveragePath)
	os.Remove(e.rangesPath)
	return nil
}

// readCoverageFile parses "<module> <offset>" lines, offsets in decimal or
// 0x-prefixed hex. A missing file (target reported nothing) is not an
// error; it just means empty coverage.
func readCoverageFile(path string) (*coverage.Coverage, error) {
	cov := coverage.New()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return cov, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		offset, err := strconv.ParseUint(fields[1], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing offset %q: %w", fields[1], err)
		}
		cov.Add(fields[0], offset)
	}
	return cov, sc.Err()
}

// subprocessRangeSource reads the "<from> <to>" lines a target wrote to its
// ranges file (rangesFileEnv) during the last run.
type subprocessRangeSource struct {
	path string
}

func newSubprocessRangeSource(path string) *subprocessRangeSource {
	return &subprocessRangeSource{path: path}
}

func (r *subprocessRangeSource) ExtractRanges() ([]mutate.Range, error) {
	f, err := os.Open(r.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ranges []mutate.Range
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		from, err1 := strconv.Atoi(fields[0])
		to, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		ranges = append(ranges, mutate.Range{From: from, To: to})
	}
	return ranges, sc.Err()
}
