package corpus

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covfuzz/covfuzz/internal/sample"
)

func TestSaveSampleAssignsSequentialIndices(t *testing.T) {
	c := New(t.TempDir(), "")
	e1, err := c.SaveSample(sample.New([]byte("a")))
	require.NoError(t, err)
	e2, err := c.SaveSample(sample.New([]byte("b")))
	require.NoError(t, err)

	assert.Equal(t, uint64(0), e1.Index)
	assert.Equal(t, uint64(1), e2.Index)
	assert.Equal(t, "sample_00000", e1.Filename)
	assert.Equal(t, "sample_00001", e2.Filename)
	assert.Equal(t, 2, c.Len())
}

func TestPopReturnsHighestPriorityNewestFirst(t *testing.T) {
	c := New(t.TempDir(), "")
	e1, _ := c.SaveSample(sample.New([]byte("a")))
	e2, _ := c.SaveSample(sample.New([]byte("b")))
	e3, _ := c.SaveSample(sample.New([]byte("c")))

	// All start at priority 0; ties break toward the newer (higher-index)
	// entry, so pop order should be e3, e2, e1.
	assert.Same(t, e3, c.Pop())
	assert.Same(t, e2, c.Pop())
	assert.Same(t, e1, c.Pop())
	assert.Nil(t, c.Pop())
}

func TestAdjustSamplePriorityFloatsSuccesses(t *testing.T) {
	c := New(t.TempDir(), "")
	e1, _ := c.SaveSample(sample.New([]byte("a")))
	e2, _ := c.SaveSample(sample.New([]byte("b")))

	c.AdjustSamplePriority(e1, false)
	c.AdjustSamplePriority(e1, false)
	c.AdjustSamplePriority(e2, false)

	assert.Same(t, e2, c.Pop()) // priority -1 beats e1's -2
	assert.Same(t, e1, c.Pop())
}

func TestDiscardRemovesFromQueueButKeepsAllEntries(t *testing.T) {
	c := New(t.TempDir(), "")
	e1, _ := c.SaveSample(sample.New([]byte("a")))
	_, _ = c.SaveSample(sample.New([]byte("b")))

	c.Discard(e1)
	assert.Equal(t, 1, c.Len())
	assert.True(t, e1.Discarded)
	assert.Len(t, c.AllEntries(), 2)
}

// TestConcurrentSaveAndPopDoesNotRace exercises SaveSample racing against
// Pop from separate goroutines, matching how the engine calls them: a
// worker saves a newly accepted sample while another worker is mid-job
// dequeue. Run with -race to catch an unguarded queue mutation.
func TestConcurrentSaveAndPopDoesNotRace(t *testing.T) {
	c := New(t.TempDir(), "")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.SaveSample(sample.New([]byte(fmt.Sprintf("sample-%d", i))))
			assert.NoError(t, err)
		}(i)
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Pop()
		}()
	}
	wg.Wait()
}

func TestSaveSamplePersistsBytesToDisk(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, "bin")
	e, err := c.SaveSample(sample.New([]byte("payload")))
	require.NoError(t, err)
	assert.Equal(t, "sample_00000.bin", e.Filename)

	data, err := os.ReadFile(e.Sample.Path())
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}
