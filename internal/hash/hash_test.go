package hash

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministic(t *testing.T) {
	a := Hash([]byte("foo"), []byte("bar"))
	b := Hash([]byte("foo"), []byte("bar"))
	assert.Equal(t, a, b)
}

func TestHashDistinguishesPieceBoundaries(t *testing.T) {
	a := Hash([]byte("foo"), []byte("bar"))
	b := Hash([]byte("foob"), []byte("ar"))
	assert.NotEqual(t, a, b)
}

func TestStringRoundTripsThroughFromString(t *testing.T) {
	s := String([]byte("hello"))
	sig, err := FromString(s)
	require.NoError(t, err)
	assert.Equal(t, s, sig.String())
}

func TestFromStringRejectsGarbage(t *testing.T) {
	_, err := FromString("not-hex!!")
	assert.Error(t, err)

	_, err = FromString("abcd")
	assert.Error(t, err)
}

func TestTruncate64IsStable(t *testing.T) {
	sig := Hash([]byte("payload"))
	assert.Equal(t, sig.Truncate64(), sig.Truncate64())
}

func TestCrashSignatureIsWireSafe(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	sig := CrashSignature([]byte{0x00, 0xff, 0x10, 'A', 'B'})
	assert.True(t, pattern.MatchString(sig), "signature %q must match wire crash-description rule", sig)
}

func TestCrashSignatureIsDeterministicPerInput(t *testing.T) {
	data := []byte("crashing input bytes")
	assert.Equal(t, CrashSignature(data), CrashSignature(data))
	assert.NotEqual(t, CrashSignature(data), CrashSignature([]byte("different bytes")))
}
