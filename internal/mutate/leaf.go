package mutate

import (
	"github.com/covfuzz/covfuzz/internal/rng"
	"github.com/covfuzz/covfuzz/internal/sample"
)

// ByteFlip overwrites one random byte with a random byte.
type ByteFlip struct{ Base }

func (ByteFlip) Mutate(s *sample.Sample, prng rng.Source, _ []*sample.Sample, _ Context) bool {
	if s.Size() == 0 {
		return true
	}
	pos := int(prng.Range(0, int64(s.Size()-1)))
	b := s.Bytes()
	b[pos] = randByte(prng)
	return true
}

// BlockFlip overwrites a random block of size in [Min,Max]. If Uniform, the
// whole block is set to one random byte; otherwise every byte is
// independently random.
type BlockFlip struct {
	Base
	Min, Max int
	Uniform  bool
}

func (m BlockFlip) Mutate(s *sample.Sample, prng rng.Source, _ []*sample.Sample, _ Context) bool {
	start, size, ok := randBlock(s.Size(), m.Min, m.Max, prng)
	if !ok {
		return true
	}
	b := s.Bytes()
	if m.Uniform {
		c := randByte(prng)
		for i := 0; i < size; i++ {
			b[start+i] = c
		}
	} else {
		for i := 0; i < size; i++ {
			b[start+i] = randByte(prng)
		}
	}
	return true
}

// Append grows the sample by a random amount (bounded by maxSampleSize)
// with random tail bytes.
type Append struct {
	Base
	Min, Max      int
	MaxSampleSize int
}

func (m Append) Mutate(s *sample.Sample, prng rng.Source, _ []*sample.Sample, _ Context) bool {
	oldSize := s.Size()
	if oldSize >= m.MaxSampleSize {
		return true
	}
	grow := int(prng.Range(int64(m.Min), int64(m.Max)))
	if oldSize+grow > m.MaxSampleSize {
		grow = m.MaxSampleSize - oldSize
	}
	if grow <= 0 {
		return true
	}
	s.Resize(oldSize + grow)
	b := s.Bytes()
	for i := oldSize; i < oldSize+grow; i++ {
		b[i] = randByte(prng)
	}
	return true
}

// BlockInsert inserts a random number of random bytes at a random offset.
type BlockInsert struct {
	Base
	Min, Max      int
	MaxSampleSize int
}

func (m BlockInsert) Mutate(s *sample.Sample, prng rng.Source, _ []*sample.Sample, _ Context) bool {
	oldSize := s.Size()
	if oldSize >= m.MaxSampleSize {
		return true
	}
	toInsert := int(prng.Range(int64(m.Min), int64(m.Max)))
	if oldSize+toInsert > m.MaxSampleSize {
		toInsert = m.MaxSampleSize - oldSize
	}
	if toInsert <= 0 {
		return true
	}
	where := int(prng.Range(0, int64(oldSize)))
	newBytes := make([]byte, oldSize+toInsert)
	copy(newBytes, s.Bytes()[:where])
	for i := 0; i < toInsert; i++ {
		newBytes[where+i] = randByte(prng)
	}
	copy(newBytes[where+toInsert:], s.Bytes()[where:])
	s.Init(newBytes)
	return true
}

// BlockDuplicate duplicates a random block N times in place.
type BlockDuplicate struct {
	Base
	MinBlockSize, MaxBlockSize int
	MinCount, MaxCount         int
	MaxSampleSize              int
}

func (m BlockDuplicate) Mutate(s *sample.Sample, prng rng.Source, _ []*sample.Sample, _ Context) bool {
	if s.Size() >= m.MaxSampleSize {
		return true
	}
	blockStart, blockSize, ok := randBlock(s.Size(), m.MinBlockSize, m.MaxBlockSize, prng)
	if !ok {
		return true
	}
	count := int(prng.Range(int64(m.MinCount), int64(m.MaxCount)))
	if s.Size()+count*blockSize > m.MaxSampleSize {
		count = (m.MaxSampleSize - s.Size()) / blockSize
	}
	if count <= 0 {
		return true
	}
	orig := s.Bytes()
	newBytes := make([]byte, len(orig)+count*blockSize)
	n := copy(newBytes, orig[:blockStart+blockSize])
	block := orig[blockStart : blockStart+blockSize]
	for i := 0; i < count; i++ {
		n += copy(newBytes[n:], block)
	}
	copy(newBytes[n:], orig[blockStart+blockSize:])
	s.Init(newBytes)
	return true
}

// InterestingValue overwrites a length-matching slice with a value drawn
// from a set of interesting values (zero, single-bit, boundary values, and
// their endian-swapped forms for 16/32-bit widths).
type InterestingValue struct {
	Base
	Values [][]byte
}

// DefaultInterestingValues returns the standard 16/32/64-bit interesting
// value set: zero, all-ones, each single bit set, plus 16/32-bit
// endian-swapped forms, matching the original engine's
// InterstingValueMutator default table.
func DefaultInterestingValues() [][]byte {
	var out [][]byte
	addLE16 := func(v uint16) {
		out = append(out, []byte{byte(v), byte(v >> 8)})
	}
	addLE32 := func(v uint32) {
		out = append(out, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
	}
	addLE64 := func(v uint64) {
		b := make([]byte, 8)
		for i := 0; i < 8; i++ {
			b[i] = byte(v >> (8 * i))
		}
		out = append(out, b)
	}

	addLE16(0)
	addLE16(0xFFFF)
	for i, v := uint(0), uint16(1); i < 16; i, v = i+1, v<<1 {
		addLE16(v)
	}
	addLE32(0)
	addLE32(0xFFFFFFFF)
	for i, v := uint(0), uint32(1); i < 32; i, v = i+1, v<<1 {
		addLE32(v)
	}
	addLE64(0)
	addLE64(0xFFFFFFFFFFFFFFFF)
	for i, v := uint(0), uint64(1); i < 64; i, v = i+1, v<<1 {
		addLE64(v)
	}
	return out
}

func (m InterestingValue) Mutate(s *sample.Sample, prng rng.Source, _ []*sample.Sample, _ Context) bool {
	if len(m.Values) == 0 {
		return true
	}
	v := m.Values[prng.Range(0, int64(len(m.Values)-1))]
	start, size, ok := randBlock(s.Size(), len(v), len(v), prng)
	if !ok {
		return true
	}
	copy(s.Bytes()[start:start+size], v)
	return true
}

// Arithmetic picks a 16/32/64-bit slice at a random offset, optionally
// swaps its endianness, adds a random delta in [-256, 256], and writes it
// back.
type Arithmetic struct{ Base }

func (Arithmetic) Mutate(s *sample.Sample, prng rng.Source, _ []*sample.Sample, _ Context) bool {
	widths := []int{2, 4, 8}
	width := widths[prng.Range(0, int64(len(widths)-1))]
	if s.Size() < width {
		return true
	}
	pos := int(prng.Range(0, int64(s.Size()-width)))
	b := s.Bytes()[pos : pos+width]
	swapEndian := prng.Range(0, 1) == 1
	if swapEndian {
		reverse(b)
	}
	v := readUint(b)
	delta := prng.Range(-256, 256)
	v = uint64(int64(v) + delta)
	writeUint(b, v)
	if swapEndian {
		reverse(b)
	}
	return true
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

func readUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func writeUint(b []byte, v uint64) {
	for i := 0; i < len(b); i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// Splice recombines the sample with another sample drawn uniformly from
// allSamples.
type Splice struct {
	Base
	Points         int // 1 or 2
	DisplacementP  float64
	MaxSampleSize  int
}

func (m Splice) Mutate(s *sample.Sample, prng rng.Source, allSamples []*sample.Sample, _ Context) bool {
	if len(allSamples) == 0 {
		return true
	}
	displace := prng.Real() < m.DisplacementP
	other := allSamples[prng.Range(0, int64(len(allSamples)-1))]
	if s.Size() == 0 || other.Size() == 0 {
		return false
	}

	if m.Points == 1 {
		return m.splice1(s, other, prng, displace)
	}
	return m.splice2(s, other, prng, displace)
}

func (m Splice) splice1(s, other *sample.Sample, prng rng.Source, displace bool) bool {
	var point1, point2 int
	if displace {
		point1 = int(prng.Range(0, int64(s.Size()-1)))
		point2 = int(prng.Range(0, int64(other.Size()-1)))
	} else {
		minSize := s.Size()
		if other.Size() < minSize {
			minSize = other.Size()
		}
		point1 = int(prng.Range(0, int64(minSize-1)))
		point2 = point1
	}
	tail := other.Bytes()[point2:]
	newSize := point1 + len(tail)
	newBytes := make([]byte, newSize)
	copy(newBytes, s.Bytes()[:point1])
	copy(newBytes[point1:], tail)
	s.Init(newBytes)
	if s.Size() > m.MaxSampleSize {
		s.Trim(m.MaxSampleSize)
	}
	return true
}

func (m Splice) splice2(s, other *sample.Sample, prng rng.Source, displace bool) bool {
	if displace {
		start1, size1, ok := randBlock(s.Size(), 1, s.Size(), prng)
		if !ok {
			return true
		}
		start2, size2, ok := randBlock(other.Size(), 1, other.Size(), prng)
		if !ok {
			return true
		}
		start3 := start1 + size1
		size3 := s.Size() - start3
		newSize := start1 + size2 + size3
		newBytes := make([]byte, newSize)
		copy(newBytes, s.Bytes()[:start1])
		copy(newBytes[start1:], other.Bytes()[start2:start2+size2])
		copy(newBytes[start1+size2:], s.Bytes()[start3:start3+size3])
		if newSize > m.MaxSampleSize {
			newBytes = newBytes[:m.MaxSampleSize]
		}
		s.Init(newBytes)
		return true
	}

	start, size, ok := randBlock(other.Size(), 2, other.Size(), prng)
	if !ok {
		return true
	}
	if start > s.Size() {
		size += start - s.Size()
		start = s.Size()
	}
	if start+size <= s.Size() {
		copy(s.Bytes()[start:start+size], other.Bytes()[start:start+size])
		return true
	}
	newSize := start + size
	newBytes := make([]byte, newSize)
	copy(newBytes, s.Bytes()[:start])
	copy(newBytes[start:], other.Bytes()[start:start+size])
	s.Init(newBytes)
	return true
}
