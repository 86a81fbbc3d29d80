package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"pwbloom/internal/common"
	"pwbloom/internal/config"
	"pwbloom/internal/logger"

	"github.com/redis/go-redis/v9"
)

type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

func RetryPolicyFromConfiguration(cfg config.SystemConfiguration) RetryPolicy {
	attempts := cfg.RedisMaximumRetryCount + 1
	if attempts < 1 {
		attempts = 1
	}
	return RetryPolicy{
		Attempts: attempts,
		Delay:    time.Duration(cfg.RedisRetryDelayInMilliseconds) * time.Millisecond,
	}
}

// EstablishWithRetry calls dial up to policy.Attempts times, sleeping
// policy.Delay between failures. The last error is returned wrapped in
// ErrStoreUnavailable.
func EstablishWithRetry[T any](ctx context.Context, policy RetryPolicy, name string, dial func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%w: %s connection cancelled: %v", common.ErrStoreUnavailable, name, err)
		}

		value, err := dial(ctx)
		if err == nil {
			if attempt > 1 {
				logger.LogInfoEvent("%s connection established after %d attempts", name, attempt)
			}
			return value, nil
		}
		lastErr = err
		logger.LogWarnEvent("%s connection attempt %d/%d failed: %v", name, attempt, attempts, err)

		if attempt == attempts {
			break
		}
		timer := time.NewTimer(policy.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w: %s connection cancelled: %v", common.ErrStoreUnavailable, name, ctx.Err())
		case <-timer.C:
		}
	}
	return zero, fmt.Errorf("%w: %s unreachable after %d attempts: %v", common.ErrStoreUnavailable, name, attempts, lastErr)
}

func NewRedisClientOptions(cfg config.SystemConfiguration) (*redis.Options, error) {
	options, err := redis.ParseURL(cfg.RedisURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	timeout := time.Duration(cfg.RedisConnectionTimeoutInSeconds) * time.Second
	if timeout > 0 {
		options.DialTimeout = timeout
		options.ReadTimeout = timeout
		options.WriteTimeout = timeout
	}
	// Retries are owned by EstablishWithRetry and the callers, never the client.
	options.MaxRetries = -1
	if cfg.RedisEnableTls && options.TLSConfig == nil {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return options, nil
}

func ConnectRedisWithRetry(ctx context.Context, cfg config.SystemConfiguration) (*RedisBitStore, error) {
	options, err := NewRedisClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	return EstablishWithRetry(ctx, RetryPolicyFromConfiguration(cfg), "redis", func(ctx context.Context) (*RedisBitStore, error) {
		client := redis.NewClient(options)
		store := NewRedisBitStore(client)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		return store, nil
	})
}

// ClosableBitStore is what OpenBitStore hands back to the binaries.
type ClosableBitStore interface {
	common.BitStore
	common.Pinger
	Close() error
}

func OpenBitStore(ctx context.Context, cfg config.SystemConfiguration) (ClosableBitStore, error) {
	switch cfg.BitStoreBackend {
	case "", config.BitStoreBackendRedis:
		return ConnectRedisWithRetry(ctx, cfg)
	case config.BitStoreBackendMemory:
		logger.LogWarnEvent("using in-process memory bit store, contents are lost on exit")
		return NewMemoryBitStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown bit store backend %q", common.ErrInvalidParameter, cfg.BitStoreBackend)
	}
}
