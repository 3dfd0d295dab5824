// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package hash provides content-addressed fingerprints for samples and
// crashes, ported from syzkaller's pkg/hash with Sig's methods changed to
// value receivers: Sig is a plain [20]byte array, and String and
// CrashSignature call String directly on the value Hash returns, which the
// original's pointer receivers would not allow without a temporary.
package hash

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Sig is a SHA-1 digest over one or more byte slices.
type Sig [sha1.Size]byte

// Hash concatenates and hashes pieces.
func Hash(pieces ...[]byte) Sig {
	h := sha1.New()
	for _, p := range pieces {
		h.Write(p)
	}
	var sig Sig
	copy(sig[:], h.Sum(nil))
	return sig
}

// String hashes pieces and hex-encodes the result.
func String(pieces ...[]byte) string {
	return Hash(pieces...).String()
}

func (sig Sig) String() string {
	return hex.EncodeToString(sig[:])
}

// Truncate64 returns the first 64 bits of the digest as an int64.
func (sig Sig) Truncate64() int64 {
	var v int64
	if err := binary.Read(bytes.NewReader(sig[:8]), binary.LittleEndian, &v); err != nil {
		panic(fmt.Sprintf("hash: truncating signature: %v", err))
	}
	return v
}

// FromString decodes a hex-encoded Sig produced by String/Sig.String.
func FromString(s string) (Sig, error) {
	bin, err := hex.DecodeString(s)
	if err != nil {
		return Sig{}, fmt.Errorf("hash: decoding %q: %w", s, err)
	}
	if len(bin) != len(Sig{}) {
		return Sig{}, fmt.Errorf("hash: decoding %q: wrong length", s)
	}
	var sig Sig
	copy(sig[:], bin)
	return sig, nil
}

// CrashSignature derives a filename-safe crash description from a crashing
// sample's bytes, used when the target executor doesn't report one of its
// own (e.g. no symbolized stack is available). The result is a fixed-width
// hex string, which always satisfies the wire protocol's crash-description
// character rule ([A-Za-z0-9_-]+, spec §4.H).
func CrashSignature(sampleBytes []byte) string {
	return "sig_" + Hash(sampleBytes).String()
}
