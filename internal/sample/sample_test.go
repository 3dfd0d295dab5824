package sample

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimResizeCrop(t *testing.T) {
	s := New([]byte("0123456789"))
	s.Trim(5)
	assert.Equal(t, []byte("01234"), s.Bytes())

	s.Resize(8)
	assert.Equal(t, 8, s.Size())
	assert.Equal(t, []byte("01234\x00\x00\x00"), s.Bytes())

	out := New(nil)
	s.Crop(1, 4, out)
	assert.Equal(t, []byte("123"), out.Bytes())
}

func TestFindFirstDiff(t *testing.T) {
	a := New([]byte("hello world"))
	b := New([]byte("hello there"))
	assert.Equal(t, 6, a.FindFirstDiff(b))

	prefix := New([]byte("hello"))
	assert.Equal(t, 5, a.FindFirstDiff(prefix))
	assert.Equal(t, 5, prefix.FindFirstDiff(a))
}

func TestSaveLoadExactBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample_00000")
	s := New([]byte{0, 1, 2, 0xff, 0x7f})
	assert.NoError(t, s.Save(path))

	loaded := New(nil)
	assert.NoError(t, loaded.Load(path))
	assert.Equal(t, s.Bytes(), loaded.Bytes())
	assert.Equal(t, path, loaded.Path())
}

func TestEnsureLoadedAndFreeMemory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample_00001")
	orig := []byte("payload")
	assert.NoError(t, os.WriteFile(path, orig, 0644))

	s := &Sample{path: path}
	assert.NoError(t, s.EnsureLoaded())
	assert.Equal(t, orig, s.Bytes())

	s.FreeMemory()
	assert.Nil(t, s.Bytes())
	assert.NoError(t, s.EnsureLoaded())
	assert.Equal(t, orig, s.Bytes())
}
