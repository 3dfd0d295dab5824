package federation

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covfuzz/covfuzz/internal/coverage"
	"github.com/covfuzz/covfuzz/internal/engine"
	"github.com/covfuzz/covfuzz/internal/sample"
)

var _ engine.Federation = (*Client)(nil)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv, err := NewServer(t.TempDir())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		_ = srv.ServeListener(ctx, ln)
	}()
	return srv, ln.Addr().String()
}

func TestReportNewCoverageThenGetUpdates(t *testing.T) {
	_, addr := startTestServer(t)
	client := NewClient(addr)

	cov := coverage.New()
	cov.Add("mod", 42)
	s := sample.New([]byte("hello"))

	require.NoError(t, client.ReportNewCoverage(cov, s))

	samples, serverTS, err := client.GetUpdates(0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, serverTS)
	require.Len(t, samples, 1)
	assert.Equal(t, "hello", string(samples[0]))
}

func TestReportNewCoverageIsIdempotent(t *testing.T) {
	_, addr := startTestServer(t)
	client := NewClient(addr)

	cov := coverage.New()
	cov.Add("mod", 1)

	require.NoError(t, client.ReportNewCoverage(cov, nil))
	require.NoError(t, client.ReportNewCoverage(cov, nil))

	_, serverTS, err := client.GetUpdates(0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, serverTS, "second identical report should not bump the server timestamp")
}

func TestGetUpdatesReturnsOnlySamplesAfterLastTimestamp(t *testing.T) {
	_, addr := startTestServer(t)
	client := NewClient(addr)

	cov1 := coverage.New()
	cov1.Add("mod", 1)
	require.NoError(t, client.ReportNewCoverage(cov1, sample.New([]byte("a"))))

	_, ts1, err := client.GetUpdates(0, 0)
	require.NoError(t, err)

	cov2 := coverage.New()
	cov2.Add("mod", 2)
	require.NoError(t, client.ReportNewCoverage(cov2, sample.New([]byte("b"))))

	samples, ts2, err := client.GetUpdates(0, ts1)
	require.NoError(t, err)
	assert.Greater(t, ts2, ts1)
	require.Len(t, samples, 1)
	assert.Equal(t, "b", string(samples[0]))
}

func TestReportCrashDedupesUnderMaxIdenticalCrashes(t *testing.T) {
	srv, addr := startTestServer(t)
	client := NewClient(addr)

	for i := 0; i < MaxIdenticalCrashes+3; i++ {
		require.NoError(t, client.ReportCrash(sample.New([]byte("crash")), "sig_abc"))
	}
	// give the async handlers a moment; ReportCrash's own connection round
	// trip already serializes each call so this is just draining logs.
	time.Sleep(10 * time.Millisecond)

	stats := srv.Stats()
	assert.EqualValues(t, MaxIdenticalCrashes+3, stats.NumCrashes)
	assert.EqualValues(t, 1, stats.NumUniqueCrashes)
}

func TestReportCrashRejectsInvalidDescription(t *testing.T) {
	srv, addr := startTestServer(t)
	client := NewClient(addr)

	require.NoError(t, client.ReportCrash(sample.New([]byte("x")), "bad/desc"))
	time.Sleep(10 * time.Millisecond)

	stats := srv.Stats()
	assert.EqualValues(t, 0, stats.NumCrashes)
}

func TestClientSaveLoadStateRoundTrip(t *testing.T) {
	_, addr := startTestServer(t)
	c := NewClient(addr)
	c.clientID = 0xdeadbeef
	c.lastTimestamp = 7

	var buf bytes.Buffer
	require.NoError(t, c.SaveState(&buf))

	restored := NewClient(addr)
	require.NoError(t, restored.LoadState(&buf))
	assert.Equal(t, c.clientID, restored.clientID)
	assert.Equal(t, c.lastTimestamp, restored.lastTimestamp)
}
