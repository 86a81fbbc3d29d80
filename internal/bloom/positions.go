package bloom

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

// PositionScheme selects how the two 32-bit hashes are combined.
type PositionScheme uint8

const (
	// SchemeUnsigned combines the hashes as unsigned integers.
	SchemeUnsigned PositionScheme = iota
	// SchemeSignedLegacy reinterprets both hashes as signed 32-bit values and
	// reduces with a floored modulo. It reproduces the offsets of arrays
	// written by a deployment whose murmur binding returned signed hashes.
	SchemeSignedLegacy
)

func (s PositionScheme) String() string {
	switch s {
	case SchemeUnsigned:
		return "unsigned"
	case SchemeSignedLegacy:
		return "signed-legacy"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

func (s PositionScheme) valid() bool {
	return s == SchemeUnsigned || s == SchemeSignedLegacy
}

func ParsePositionScheme(name string) (PositionScheme, error) {
	switch name {
	case "", "unsigned":
		return SchemeUnsigned, nil
	case "signed-legacy":
		return SchemeSignedLegacy, nil
	}
	return 0, fmt.Errorf("unknown position scheme %q", name)
}

// PositionGenerator maps an item to HashCount offsets in [0, BitSize) using
// the Kirsch-Mitzenmacher construction g_i(x) = h1(x) + i*h2(x).
type PositionGenerator struct {
	bitSize   uint64
	hashCount uint32
	scheme    PositionScheme
}

func NewPositionGenerator(p FilterParameters) PositionGenerator {
	return PositionGenerator{bitSize: p.BitSize, hashCount: p.HashCount, scheme: p.Scheme}
}

// Positions returns a fresh slice of offsets for item.
func (g PositionGenerator) Positions(item []byte) []uint64 {
	return g.AppendPositions(make([]uint64, 0, g.hashCount), item)
}

// AppendPositions appends the offsets for item to dst.
func (g PositionGenerator) AppendPositions(dst []uint64, item []byte) []uint64 {
	h1, h2 := hashPair(item)
	if g.scheme == SchemeSignedLegacy {
		return g.appendSigned(dst, int64(int32(h1)), int64(int32(h2)))
	}
	return g.appendUnsigned(dst, uint64(h1), uint64(h2))
}

// hashPair seeds the second hash with the first so that inputs sharing a
// prefix or differing in one byte still yield decorrelated pairs.
func hashPair(item []byte) (uint32, uint32) {
	h1 := murmur3.Sum32WithSeed(item, 0)
	h2 := murmur3.Sum32WithSeed(item, h1)
	return h1, h2
}

// appendUnsigned walks h1 + i*h2 incrementally mod bitSize; both terms stay
// below 2^33 so the sum never overflows.
func (g PositionGenerator) appendUnsigned(dst []uint64, h1, h2 uint64) []uint64 {
	pos := h1 % g.bitSize
	step := h2 % g.bitSize
	for i := uint32(0); i < g.hashCount; i++ {
		dst = append(dst, pos)
		pos = (pos + step) % g.bitSize
	}
	return dst
}

func (g PositionGenerator) appendSigned(dst []uint64, h1, h2 int64) []uint64 {
	for i := int64(0); i < int64(g.hashCount); i++ {
		dst = append(dst, floorMod(h1+i*h2, g.bitSize))
	}
	return dst
}

// floorMod returns value mod m in [0, m). Go's % keeps the sign of the
// dividend, so negative sums need shifting back into range.
func floorMod(value int64, m uint64) uint64 {
	r := value % int64(m)
	if r < 0 {
		r += int64(m)
	}
	return uint64(r)
}
