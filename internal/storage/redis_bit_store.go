package storage

import (
	"context"
	"errors"
	"fmt"

	"pwbloom/internal/common"

	"github.com/redis/go-redis/v9"
)

const fingerprintKeySuffix = ":params"

// RedisBitStore keeps each bit array in a Redis string and batches every
// call into a single pipeline of SETBIT/GETBIT commands.
type RedisBitStore struct {
	client redis.UniversalClient
}

func NewRedisBitStore(client redis.UniversalClient) *RedisBitStore {
	return &RedisBitStore{client: client}
}

func (s *RedisBitStore) WriteBits(ctx context.Context, handle common.BitArrayHandle, offsets []uint64) error {
	if len(offsets) == 0 {
		return nil
	}
	key := string(handle)
	pipe := s.client.Pipeline()
	for _, offset := range offsets {
		pipe.SetBit(ctx, key, int64(offset), 1)
	}
	_, err := pipe.Exec(ctx)
	return classifyRedisError(err)
}

func (s *RedisBitStore) ReadBits(ctx context.Context, handle common.BitArrayHandle, offsets []uint64) ([]uint8, error) {
	if len(offsets) == 0 {
		return []uint8{}, nil
	}
	key := string(handle)
	pipe := s.client.Pipeline()
	commands := make([]*redis.IntCmd, len(offsets))
	for i, offset := range offsets {
		commands[i] = pipe.GetBit(ctx, key, int64(offset))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, classifyRedisError(err)
	}

	bits := make([]uint8, len(commands))
	for i, cmd := range commands {
		value := cmd.Val()
		if value != 0 && value != 1 {
			return nil, fmt.Errorf("%w: GETBIT %d returned %d", common.ErrStoreProtocol, offsets[i], value)
		}
		bits[i] = uint8(value)
	}
	return bits, nil
}

func (s *RedisBitStore) CountBits(ctx context.Context, handle common.BitArrayHandle) (uint64, error) {
	count, err := s.client.BitCount(ctx, string(handle), nil).Result()
	if err != nil {
		return 0, classifyRedisError(err)
	}
	if count < 0 {
		return 0, fmt.Errorf("%w: BITCOUNT returned %d", common.ErrStoreProtocol, count)
	}
	return uint64(count), nil
}

// BindFingerprint uses SETNX so the first replica to start wins and every
// later one compares against it.
func (s *RedisBitStore) BindFingerprint(ctx context.Context, handle common.BitArrayHandle, fingerprint string) (string, error) {
	key := string(handle) + fingerprintKeySuffix
	stored, err := s.client.SetNX(ctx, key, fingerprint, 0).Result()
	if err != nil {
		return "", classifyRedisError(err)
	}
	if stored {
		return fingerprint, nil
	}
	existing, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return "", classifyRedisError(err)
	}
	return existing, nil
}

func (s *RedisBitStore) Ping(ctx context.Context) error {
	return classifyRedisError(s.client.Ping(ctx).Err())
}

func (s *RedisBitStore) Close() error {
	return s.client.Close()
}

// classifyRedisError maps replies the server produced (including nil
// replies and WRONGTYPE) to ErrStoreProtocol and everything else, such as
// dial failures, timeouts and a closed client, to ErrStoreUnavailable.
func classifyRedisError(err error) error {
	if err == nil {
		return nil
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return fmt.Errorf("%w: %v", common.ErrStoreProtocol, err)
	}
	return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
}
