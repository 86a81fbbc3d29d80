package testing

import (
	"context"
	"strconv"
	"testing"

	"pwbloom/internal/config"
	"pwbloom/internal/core"
	"pwbloom/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// TestSystemFactory builds ready SystemStates on top of an in-process
// Redis so tests exercise the real pipeline code path.
type TestSystemFactory struct {
	t      testing.TB
	Server *miniredis.Miniredis
	stores []*storage.RedisBitStore
}

func NewTestFactory(t testing.TB) *TestSystemFactory {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Factory failed to start miniredis: %v", err)
	}
	return &TestSystemFactory{t: t, Server: server}
}

func (f *TestSystemFactory) Cleanup() {
	for _, store := range f.stores {
		store.Close()
	}
	f.stores = nil
	f.Server.Close()
}

// Configuration returns a small filter (1000 items, 1%) pointed at the
// factory's server.
func (f *TestSystemFactory) Configuration(opts ...func(*config.SystemConfiguration)) config.SystemConfiguration {
	cfg := config.DefaultConfiguration()
	cfg.Environment = "test"
	cfg.RedisHost = f.Server.Host()
	cfg.RedisPort, _ = strconv.Atoi(f.Server.Port())
	cfg.BloomExpectedItems = 1000
	cfg.BloomFalsePositiveRate = 0.01
	cfg.BloomRedisKey = "bloom:passwords:test"
	cfg.RedisMaximumRetryCount = 0
	cfg.LogDirectoryPath = ""

	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (f *TestSystemFactory) CreateStore() *storage.RedisBitStore {
	client := redis.NewClient(&redis.Options{Addr: f.Server.Addr(), MaxRetries: -1})
	store := storage.NewRedisBitStore(client)
	f.stores = append(f.stores, store)
	return store
}

func (f *TestSystemFactory) CreateSystem(opts ...func(*config.SystemConfiguration)) *core.SystemState {
	state, err := core.NewSystemState(context.Background(), f.Configuration(opts...), f.CreateStore())
	if err != nil {
		f.t.Fatalf("Factory failed to create system state: %v", err)
	}
	return state
}
