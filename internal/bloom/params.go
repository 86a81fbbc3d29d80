package bloom

import (
	"fmt"
	"math"
	"strconv"

	"pwbloom/internal/common"

	"github.com/zeebo/xxh3"
)

// MaxBitSize is the largest bit array a single Redis string can hold (512 MiB).
const MaxBitSize = uint64(1) << 32

// MaxHashCount bounds hand-built parameters. The planner stays near 1075
// even for the smallest representable false positive rate.
const MaxHashCount = 2048

const fingerprintVersion = "v1"

// FilterParameters is computed once and never changes for the lifetime of
// a logical filter. Engines sharing a bit array must agree on every field.
type FilterParameters struct {
	ExpectedItems     uint64
	FalsePositiveRate float64
	BitSize           uint64
	HashCount         uint32
	Scheme            PositionScheme
}

type planSettings struct {
	truncate bool
	scheme   PositionScheme
}

type PlanOption func(*planSettings)

// WithTruncatedRounding sizes the filter with float-to-int truncation
// instead of ceiling. Only useful to stay bit-compatible with an array
// that was sized that way; it can under-provision by one bit and one hash.
func WithTruncatedRounding() PlanOption {
	return func(s *planSettings) { s.truncate = true }
}

func WithPositionScheme(scheme PositionScheme) PlanOption {
	return func(s *planSettings) { s.scheme = scheme }
}

// PlanFilterParameters derives bit array size and hash count:
//
//	m = ceil(-n * ln(p) / ln(2)^2)
//	k = ceil((m / n) * ln(2)), at least 1
func PlanFilterParameters(expectedItems uint64, falsePositiveRate float64, opts ...PlanOption) (FilterParameters, error) {
	settings := planSettings{scheme: SchemeUnsigned}
	for _, opt := range opts {
		opt(&settings)
	}

	if expectedItems == 0 {
		return FilterParameters{}, fmt.Errorf("%w: expected items must be at least 1", common.ErrInvalidParameter)
	}
	if math.IsNaN(falsePositiveRate) || falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		return FilterParameters{}, fmt.Errorf("%w: false positive rate %v outside (0,1)", common.ErrInvalidParameter, falsePositiveRate)
	}
	if !settings.scheme.valid() {
		return FilterParameters{}, fmt.Errorf("%w: unknown position scheme %d", common.ErrInvalidParameter, settings.scheme)
	}

	n := float64(expectedItems)
	m := -n * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)
	if m > float64(MaxBitSize) {
		return FilterParameters{}, fmt.Errorf("%w: %.0f bits exceeds the %d bit limit", common.ErrInvalidParameter, m, MaxBitSize)
	}

	round := math.Ceil
	if settings.truncate {
		round = math.Trunc
	}

	bitSize := uint64(round(m))
	if bitSize < 1 {
		bitSize = 1
	}
	hashCount := uint32(round(float64(bitSize) / n * math.Ln2))
	if hashCount < 1 {
		hashCount = 1
	}

	return FilterParameters{
		ExpectedItems:     expectedItems,
		FalsePositiveRate: falsePositiveRate,
		BitSize:           bitSize,
		HashCount:         hashCount,
		Scheme:            settings.scheme,
	}, nil
}

// Validate checks parameters that were built by hand rather than planned.
func (p FilterParameters) Validate() error {
	switch {
	case p.ExpectedItems == 0:
		return fmt.Errorf("%w: expected items must be at least 1", common.ErrInvalidParameter)
	case math.IsNaN(p.FalsePositiveRate) || p.FalsePositiveRate <= 0 || p.FalsePositiveRate >= 1:
		return fmt.Errorf("%w: false positive rate %v outside (0,1)", common.ErrInvalidParameter, p.FalsePositiveRate)
	case p.BitSize == 0 || p.BitSize > MaxBitSize:
		return fmt.Errorf("%w: bit size %d outside [1,%d]", common.ErrInvalidParameter, p.BitSize, MaxBitSize)
	case p.HashCount == 0 || p.HashCount > MaxHashCount:
		return fmt.Errorf("%w: hash count %d outside [1,%d]", common.ErrInvalidParameter, p.HashCount, MaxHashCount)
	case !p.Scheme.valid():
		return fmt.Errorf("%w: unknown position scheme %d", common.ErrInvalidParameter, p.Scheme)
	}
	return nil
}

// MemoryBytes is the footprint of the bit array, independent of HashCount.
func (p FilterParameters) MemoryBytes() uint64 {
	return (p.BitSize + 7) / 8
}

// Fingerprint identifies the parameters so replicas can detect that they
// disagree before they corrupt a shared bit array.
func (p FilterParameters) Fingerprint() string {
	return fmt.Sprintf("%s-%016x", fingerprintVersion, xxh3.HashString(p.canonical()))
}

func (p FilterParameters) canonical() string {
	return "m=" + strconv.FormatUint(p.BitSize, 10) +
		";k=" + strconv.FormatUint(uint64(p.HashCount), 10) +
		";n=" + strconv.FormatUint(p.ExpectedItems, 10) +
		";p=" + strconv.FormatFloat(p.FalsePositiveRate, 'g', -1, 64) +
		";scheme=" + p.Scheme.String()
}

func (p FilterParameters) String() string {
	return fmt.Sprintf("bits=%d hashes=%d expected=%d fpr=%g scheme=%s",
		p.BitSize, p.HashCount, p.ExpectedItems, p.FalsePositiveRate, p.Scheme)
}

// EstimateFalsePositiveRate is the textbook (1 - e^(-kn/m))^k for a filter
// holding itemsAdded distinct items.
func EstimateFalsePositiveRate(p FilterParameters, itemsAdded uint64) float64 {
	if p.BitSize == 0 || itemsAdded == 0 {
		return 0
	}
	k := float64(p.HashCount)
	return math.Pow(1-math.Exp(-k*float64(itemsAdded)/float64(p.BitSize)), k)
}
