package core

import (
	"context"
	"fmt"
	"time"

	"pwbloom/internal/bloom"
	"pwbloom/internal/cache"
	"pwbloom/internal/common"
	"pwbloom/internal/config"
	"pwbloom/internal/logger"
)

// SystemState is everything a request handler needs. It is built once at
// startup and passed explicitly instead of living in package globals.
type SystemState struct {
	Configuration config.SystemConfiguration

	Store  common.BitStore
	Engine *bloom.Engine

	// Positive answers only: bits are never cleared, so they never go stale.
	PositiveCache *cache.LruCache

	StartedAt time.Time
}

func PlanFromConfiguration(cfg config.SystemConfiguration) (bloom.FilterParameters, error) {
	scheme, err := bloom.ParsePositionScheme(cfg.BloomPositionScheme)
	if err != nil {
		return bloom.FilterParameters{}, fmt.Errorf("%w: %v", common.ErrInvalidParameter, err)
	}
	options := []bloom.PlanOption{bloom.WithPositionScheme(scheme)}
	if cfg.BloomTruncatedRounding {
		options = append(options, bloom.WithTruncatedRounding())
	}
	return bloom.PlanFilterParameters(cfg.BloomExpectedItems, cfg.BloomFalsePositiveRate, options...)
}

func NewSystemState(ctx context.Context, cfg config.SystemConfiguration, store common.BitStore) (*SystemState, error) {
	params, err := PlanFromConfiguration(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to plan bloom filter: %w", err)
	}

	engine, err := bloom.NewReadyEngine(store, params, common.BitArrayHandle(cfg.BloomRedisKey))
	if err != nil {
		return nil, fmt.Errorf("failed to configure bloom engine: %w", err)
	}

	if cfg.BloomVerifyParameterFingerprint {
		if err := engine.VerifyParameters(ctx); err != nil {
			return nil, fmt.Errorf("failed to verify bloom parameters: %w", err)
		}
	}

	logger.LogInfoEvent("Bloom filter %s planned for %d items at %.4f%% false positives (%.2f MB)",
		cfg.BloomRedisKey, params.ExpectedItems, params.FalsePositiveRate*100,
		float64(params.MemoryBytes())/(1024*1024))

	return &SystemState{
		Configuration: cfg,
		Store:         store,
		Engine:        engine,
		PositiveCache: cache.NewLruCache(cfg.PositiveCacheCapacityCount),
		StartedAt:     time.Now(),
	}, nil
}

// OperationContext bounds one request's store round trips.
func (s *SystemState) OperationContext(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(s.Configuration.OperationTimeoutInMilliseconds) * time.Millisecond
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
