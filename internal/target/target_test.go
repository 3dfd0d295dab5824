package target

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covfuzz/covfuzz/internal/coverage"
)

func TestFileDeliveryWritesBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input")
	d := NewFileDelivery(path)
	require.NoError(t, d.Deliver([]byte("hello")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestConstantRangeSourceReturnsFixedRange(t *testing.T) {
	rs := NewConstantRangeSource(3, 7)
	ranges, err := rs.ExtractRanges()
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, 3, ranges[0].From)
	assert.Equal(t, 7, ranges[0].To)
}

func TestLocalExecutorRunsFuncAndDelivers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input")
	e := NewLocalExecutor(func(sample []byte) RunOutcome {
		cov := coverage.New()
		cov.Add("t", uint64(len(sample)))
		return RunOutcome{Result: OK, Coverage: cov}
	})
	outcome, err := e.RunSampleAndGetCoverage(context.Background(), NewFileDelivery(path), []byte("abcde"), time.Second, time.Second)
	require.NoError(t, err)
	assert.Equal(t, OK, outcome.Result)
	assert.False(t, outcome.Coverage.Empty())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(data))
}

func TestLocalExecutorAppliesIgnoreCoverage(t *testing.T) {
	e := NewLocalExecutor(func(sample []byte) RunOutcome {
		cov := coverage.New()
		cov.Add("t", 1)
		cov.Add("t", 2)
		return RunOutcome{Result: OK, Coverage: cov}
	})
	ignore := coverage.New()
	ignore.Add("t", 1)
	e.IgnoreCoverage(ignore)

	outcome, err := e.RunSampleAndGetCoverage(context.Background(), nil, []byte("x"), time.Second, time.Second)
	require.NoError(t, err)
	mc := outcome.Coverage.GetModuleCoverage("t")
	require.NotNil(t, mc)
	_, has1 := mc.Offsets[1]
	_, has2 := mc.Offsets[2]
	assert.False(t, has1)
	assert.True(t, has2)
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "OK", OK.String())
	assert.Equal(t, "CRASH", Crash.String())
	assert.Equal(t, "HANG", Hang.String())
	assert.Equal(t, "OTHER_ERROR", OtherError.String())
}
