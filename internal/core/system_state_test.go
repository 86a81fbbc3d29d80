package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"pwbloom/internal/bloom"
	"pwbloom/internal/common"
	"pwbloom/internal/config"
	"pwbloom/internal/storage"
)

func testConfiguration() config.SystemConfiguration {
	cfg := config.DefaultConfiguration()
	cfg.BloomExpectedItems = 1000
	cfg.BloomFalsePositiveRate = 0.01
	cfg.BloomRedisKey = "bloom:state"
	cfg.PositiveCacheCapacityCount = 10
	return cfg
}

func TestSystemStateInitialization(t *testing.T) {
	state, err := NewSystemState(context.Background(), testConfiguration(), storage.NewMemoryBitStore())
	if err != nil {
		t.Fatalf("NewSystemState failed: %v", err)
	}

	if !state.Engine.IsReady() {
		t.Error("Engine not ready")
	}
	if state.Engine.Handle() != "bloom:state" {
		t.Errorf("Expected handle bloom:state, got %s", state.Engine.Handle())
	}
	params, _ := state.Engine.Parameters()
	if params.BitSize != 9586 || params.HashCount != 7 {
		t.Errorf("Expected 9586/7, got %d/%d", params.BitSize, params.HashCount)
	}
	if state.PositiveCache == nil || state.PositiveCache.CapacityCount != 10 {
		t.Error("Positive cache not initialized")
	}
}

func TestSystemStateRejectsInvalidConfiguration(t *testing.T) {
	cfg := testConfiguration()
	cfg.BloomFalsePositiveRate = 1.5
	if _, err := NewSystemState(context.Background(), cfg, storage.NewMemoryBitStore()); !errors.Is(err, common.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter, got %v", err)
	}

	cfg = testConfiguration()
	cfg.BloomPositionScheme = "fnv"
	if _, err := NewSystemState(context.Background(), cfg, storage.NewMemoryBitStore()); !errors.Is(err, common.ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter for scheme, got %v", err)
	}
}

func TestSystemStateDetectsParameterMismatch(t *testing.T) {
	store := storage.NewMemoryBitStore()
	if _, err := NewSystemState(context.Background(), testConfiguration(), store); err != nil {
		t.Fatalf("first state failed: %v", err)
	}

	cfg := testConfiguration()
	cfg.BloomExpectedItems = 2000
	if _, err := NewSystemState(context.Background(), cfg, store); !errors.Is(err, common.ErrParameterMismatch) {
		t.Errorf("Expected ErrParameterMismatch, got %v", err)
	}

	cfg.BloomVerifyParameterFingerprint = false
	if _, err := NewSystemState(context.Background(), cfg, store); err != nil {
		t.Errorf("Verification disabled, expected no error, got %v", err)
	}
}

func TestPlanFromConfigurationOptions(t *testing.T) {
	cfg := testConfiguration()
	cfg.BloomTruncatedRounding = true
	cfg.BloomPositionScheme = "signed-legacy"

	params, err := PlanFromConfiguration(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if params.BitSize != 9585 || params.Scheme != bloom.SchemeSignedLegacy {
		t.Errorf("Unexpected params %s", params)
	}
}

func TestOperationContext(t *testing.T) {
	state := &SystemState{Configuration: config.SystemConfiguration{OperationTimeoutInMilliseconds: 50}}
	ctx, cancel := state.OperationContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > 50*time.Millisecond {
		t.Errorf("Expected deadline within 50ms, got %v/%v", deadline, ok)
	}

	state.Configuration.OperationTimeoutInMilliseconds = 0
	ctx, cancel = state.OperationContext(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Error("Expected no deadline when timeout disabled")
	}
}
