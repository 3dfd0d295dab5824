package stats

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValAddAndCollect(t *testing.T) {
	r := NewRegistry()
	v := r.New("total_execs", "total target executions")
	v.Add(3)
	v.Add(4)

	snaps := r.Collect()
	require.Len(t, snaps, 1)
	assert.Equal(t, "total_execs", snaps[0].Name)
	assert.EqualValues(t, 7, snaps[0].Value)
}

func TestValExternalSource(t *testing.T) {
	r := NewRegistry()
	queueLen := 5
	v := r.New("queue_size", "corpus queue depth", External(func() uint64 { return uint64(queueLen) }))

	assert.EqualValues(t, 5, v.Value())
	queueLen = 9
	assert.EqualValues(t, 9, v.Value())
	assert.Panics(t, func() { v.Add(1) })
}

func TestExecRateHistogramMean(t *testing.T) {
	h := NewExecRateHistogram()
	h.Observe(10)
	h.Observe(20)
	h.Observe(30)
	assert.InDelta(t, 20, h.Mean(), 0.5)
}

type fakeState struct{ s string }

func (f fakeState) String() string { return f.s }

func TestStatusHandlerRendersCounters(t *testing.T) {
	r := NewRegistry()
	Global = r
	Global.New("num_hangs", "hangs seen")

	handler := StatusHandler(func() EngineStats {
		return EngineStats{State: fakeState{"fuzzing"}, TotalExecs: 42, CorpusSize: 3}
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/status", nil)
	handler(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "state: fuzzing")
	assert.Contains(t, body, "total_execs: 42")
	assert.Contains(t, body, "num_hangs: 0")
}
