package coverage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// WriteBinary writes cov using the framing from spec §4.C:
//
//	[num_modules:u64] ( name_len:u64, name, num_offsets:u64, offsets[num_offsets]:u64 )*
//
// Modules and offsets are written in a deterministic (sorted) order so that
// two equal Coverage values produce byte-identical output, which
// checkpoint round-trip tests and federation dedup both rely on.
func WriteBinary(cov *Coverage, w io.Writer) error {
	bw := bufio.NewWriter(w)
	modules := make([]*ModuleCoverage, len(cov.modules))
	copy(modules, cov.modules)
	sort.Slice(modules, func(i, j int) bool { return modules[i].Module < modules[j].Module })

	if err := writeU64(bw, uint64(len(modules))); err != nil {
		return err
	}
	for _, m := range modules {
		if err := writeU64(bw, uint64(len(m.Module))); err != nil {
			return err
		}
		if _, err := bw.WriteString(m.Module); err != nil {
			return err
		}
		offsets := make([]uint64, 0, len(m.Offsets))
		for o := range m.Offsets {
			offsets = append(offsets, o)
		}
		sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
		if err := writeU64(bw, uint64(len(offsets))); err != nil {
			return err
		}
		for _, o := range offsets {
			if err := writeU64(bw, o); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// ReadBinary parses the format written by WriteBinary into out, which must
// be non-nil (typically coverage.New()).
func ReadBinary(r io.Reader, out *Coverage) error {
	br := bufio.NewReader(r)
	numModules, err := readU64(br)
	if err != nil {
		return fmt.Errorf("coverage: reading module count: %w", err)
	}
	for i := uint64(0); i < numModules; i++ {
		nameLen, err := readU64(br)
		if err != nil {
			return fmt.Errorf("coverage: reading module name length: %w", err)
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(br, nameBuf); err != nil {
			return fmt.Errorf("coverage: reading module name: %w", err)
		}
		numOffsets, err := readU64(br)
		if err != nil {
			return fmt.Errorf("coverage: reading offset count: %w", err)
		}
		offsets := make([]uint64, numOffsets)
		for j := range offsets {
			v, err := readU64(br)
			if err != nil {
				return fmt.Errorf("coverage: reading offset: %w", err)
			}
			offsets[j] = v
		}
		out.AddRaw(string(nameBuf), offsets)
	}
	return nil
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
