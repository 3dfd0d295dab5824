package sample

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrieFirstDiffScenarioD(t *testing.T) {
	tr := NewTrie()
	assert.Equal(t, 4, tr.AddSample([]byte("AAAA")))
	assert.Equal(t, 3, tr.AddSample([]byte("AAAB")))
	assert.Equal(t, 2, tr.AddSample([]byte("AABC")))
}

func TestTrieIdempotentOnPrefix(t *testing.T) {
	tr := NewTrie()
	assert.Equal(t, 5, tr.AddSample([]byte("hello")))
	// Exact re-insertion is idempotent: same offset as len(s).
	assert.Equal(t, 5, tr.AddSample([]byte("hello")))
	// A strict prefix of an existing branch also returns len(s).
	assert.Equal(t, 3, tr.AddSample([]byte("hel")))
}

func TestTrieDivergenceAtStart(t *testing.T) {
	tr := NewTrie()
	tr.AddSample([]byte("hello"))
	assert.Equal(t, 0, tr.AddSample([]byte("world")))
}

func TestTrieEmptySample(t *testing.T) {
	tr := NewTrie()
	assert.Equal(t, 0, tr.AddSample(nil))
	assert.Equal(t, 0, tr.AddSample([]byte("x")))
}
