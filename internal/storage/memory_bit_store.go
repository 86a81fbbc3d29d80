package storage

import (
	"context"
	"fmt"
	"sync"

	"pwbloom/internal/common"

	"github.com/bits-and-blooms/bitset"
)

// memoryMaximumOffset mirrors the Redis limit so both backends reject the
// same offsets.
const memoryMaximumOffset = uint64(1)<<32 - 1

// MemoryBitStore is an in-process BitStore. It shares nothing across
// processes and is meant for tests and single-node development.
type MemoryBitStore struct {
	mutex        sync.RWMutex
	arrays       map[common.BitArrayHandle]*bitset.BitSet
	fingerprints map[common.BitArrayHandle]string
	closed       bool
}

func NewMemoryBitStore() *MemoryBitStore {
	return &MemoryBitStore{
		arrays:       make(map[common.BitArrayHandle]*bitset.BitSet),
		fingerprints: make(map[common.BitArrayHandle]string),
	}
}

func (s *MemoryBitStore) WriteBits(ctx context.Context, handle common.BitArrayHandle, offsets []uint64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	if err := checkOffsets(offsets); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return errMemoryStoreClosed()
	}

	array, exists := s.arrays[handle]
	if !exists {
		array = bitset.New(0)
		s.arrays[handle] = array
	}
	for _, offset := range offsets {
		array.Set(uint(offset))
	}
	return nil
}

func (s *MemoryBitStore) ReadBits(ctx context.Context, handle common.BitArrayHandle, offsets []uint64) ([]uint8, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	if err := checkOffsets(offsets); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return nil, errMemoryStoreClosed()
	}

	bits := make([]uint8, len(offsets))
	array := s.arrays[handle]
	if array == nil {
		return bits, nil
	}
	for i, offset := range offsets {
		if array.Test(uint(offset)) {
			bits[i] = 1
		}
	}
	return bits, nil
}

func (s *MemoryBitStore) CountBits(ctx context.Context, handle common.BitArrayHandle) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return 0, errMemoryStoreClosed()
	}
	if array := s.arrays[handle]; array != nil {
		return uint64(array.Count()), nil
	}
	return 0, nil
}

func (s *MemoryBitStore) BindFingerprint(ctx context.Context, handle common.BitArrayHandle, fingerprint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return "", errMemoryStoreClosed()
	}
	if existing, ok := s.fingerprints[handle]; ok {
		return existing, nil
	}
	s.fingerprints[handle] = fingerprint
	return fingerprint, nil
}

func (s *MemoryBitStore) Ping(ctx context.Context) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return errMemoryStoreClosed()
	}
	return nil
}

// Close makes every later call fail with ErrStoreUnavailable.
func (s *MemoryBitStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}

func checkOffsets(offsets []uint64) error {
	for _, offset := range offsets {
		if offset > memoryMaximumOffset {
			return fmt.Errorf("%w: bit offset %d is out of range", common.ErrStoreProtocol, offset)
		}
	}
	return nil
}

func errMemoryStoreClosed() error {
	return fmt.Errorf("%w: memory bit store is closed", common.ErrStoreUnavailable)
}
