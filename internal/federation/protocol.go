// Package federation implements the byte-framed TCP protocol a fuzzing
// engine uses to share coverage and samples across independent processes:
// a coverage server holding the union of everyone's coverage plus an
// append-only sample corpus, and a client each engine instance drives.
//
// The wire format is fixed by spec §4.H and is intentionally not an
// RPC/IDL system (no net/rpc, no flatbuffers) — every value is
// little-endian, every read/write loops until the full size is
// transferred, matching original_source/server.cpp/client.cpp exactly.
package federation

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/covfuzz/covfuzz/internal/coverage"
	"github.com/covfuzz/covfuzz/internal/sample"
)

// MaxConnections is the server's concurrent-handler capacity; connections
// beyond this are answered 'W' (wait/backoff).
const MaxConnections = 8

// MaxIdenticalCrashes bounds how many copies of the same crash description
// the server keeps, mirroring the client-side dedup limit.
const MaxIdenticalCrashes = 4

const (
	cmdReportCrash     = 'X'
	cmdReportCoverage  = 'S'
	cmdUpdateRequest   = 'U'
	replyProceed       = 'K'
	replyBackoff       = 'W'
	replyNovel         = 'Y'
	replyNotNovel      = 'N'
	frameSample        = 'S'
	frameEnd           = 'N'
	frameModule        = 'C'
	frameModuleEnd     = 'N'
)

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeU64(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readU64(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// writeSample frames s as size:u64 followed by the raw bytes (spec §4.H
// framing).
func writeSample(w io.Writer, s *sample.Sample) error {
	data := s.Bytes()
	if err := writeU64(w, uint64(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readSample(r io.Reader) (*sample.Sample, error) {
	n, err := readU64(r)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return sample.New(data), nil
}

// writeCoverage frames cov as a stream of per-module records
// ('C' name num_offsets offsets...) terminated by 'N', per spec §4.H. This
// is a distinct format from coverage.WriteBinary's length-prefixed one:
// the wire protocol is a self-terminating stream so a receiver never needs
// to know the module count up front.
func writeCoverage(w io.Writer, cov *coverage.Coverage) error {
	for _, m := range cov.Modules() {
		if err := writeByte(w, frameModule); err != nil {
			return err
		}
		if err := writeString(w, m.Module); err != nil {
			return err
		}
		if err := writeU64(w, uint64(len(m.Offsets))); err != nil {
			return err
		}
		for offset := range m.Offsets {
			if err := writeU64(w, offset); err != nil {
				return err
			}
		}
	}
	return writeByte(w, frameModuleEnd)
}

func readCoverage(r io.Reader) (*coverage.Coverage, error) {
	cov := coverage.New()
	for {
		cmd, err := readByte(r)
		if err != nil {
			return nil, err
		}
		if cmd == frameModuleEnd {
			return cov, nil
		}
		if cmd != frameModule {
			return nil, fmt.Errorf("federation: unexpected coverage frame byte %q", cmd)
		}
		module, err := readString(r)
		if err != nil {
			return nil, err
		}
		numOffsets, err := readU64(r)
		if err != nil {
			return nil, err
		}
		offsets := make([]uint64, numOffsets)
		for i := range offsets {
			v, err := readU64(r)
			if err != nil {
				return nil, err
			}
			offsets[i] = v
		}
		cov.AddRaw(module, offsets)
	}
}
