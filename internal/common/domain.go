package common

import "context"

// BitArrayHandle names one logical bit array inside the shared store.
type BitArrayHandle string

// BitStore is a remote, shared, randomly addressable bit array.
// Every bit write is atomic at the store; a batch is not.
type BitStore interface {
	WriteBits(ctx context.Context, handle BitArrayHandle, offsets []uint64) error
	ReadBits(ctx context.Context, handle BitArrayHandle, offsets []uint64) ([]uint8, error)
	CountBits(ctx context.Context, handle BitArrayHandle) (uint64, error)
}

// FingerprintBinder stores a parameter fingerprint next to a bit array.
// BindFingerprint writes fingerprint only if none is stored yet and
// returns the value that is stored after the call.
type FingerprintBinder interface {
	BindFingerprint(ctx context.Context, handle BitArrayHandle, fingerprint string) (string, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}
