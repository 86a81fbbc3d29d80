package bloom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"pwbloom/internal/common"
	"pwbloom/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHandle = common.BitArrayHandle("bloom:test")

type failingBitStore struct {
	err    error
	bits   []uint8
	writes int
}

func (s *failingBitStore) WriteBits(ctx context.Context, handle common.BitArrayHandle, offsets []uint64) error {
	s.writes++
	return s.err
}

func (s *failingBitStore) ReadBits(ctx context.Context, handle common.BitArrayHandle, offsets []uint64) ([]uint8, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.bits, nil
}

func (s *failingBitStore) CountBits(ctx context.Context, handle common.BitArrayHandle) (uint64, error) {
	return 0, s.err
}

func newTestEngine(t *testing.T, store common.BitStore) *Engine {
	t.Helper()
	engine, err := NewReadyEngine(store, mustPlan(t, 1000, 0.01), testHandle)
	require.NoError(t, err)
	return engine
}

func TestEngineNoFalseNegatives(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, storage.NewMemoryBitStore())

	for i := 0; i < 1000; i++ {
		require.NoError(t, engine.Add(ctx, []byte(fmt.Sprintf("password-%d", i))))
	}
	for i := 0; i < 1000; i++ {
		present, err := engine.Check(ctx, []byte(fmt.Sprintf("password-%d", i)))
		require.NoError(t, err)
		require.True(t, present, "password-%d", i)
	}
}

func TestEngineFalsePositiveRateNearTarget(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, storage.NewMemoryBitStore())
	for i := 0; i < 1000; i++ {
		require.NoError(t, engine.Add(ctx, []byte(fmt.Sprintf("member-%d", i))))
	}

	falsePositives := 0
	for i := 0; i < 10000; i++ {
		present, err := engine.Check(ctx, []byte(fmt.Sprintf("stranger-%d", i)))
		require.NoError(t, err)
		if present {
			falsePositives++
		}
	}
	require.Less(t, falsePositives, 300)
}

func TestEngineEmptyFilterAnswersFalse(t *testing.T) {
	engine := newTestEngine(t, storage.NewMemoryBitStore())
	present, err := engine.Check(context.Background(), []byte("never_added_item_12345"))
	require.NoError(t, err)
	require.False(t, present)
}

func TestEngineEndToEnd(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, storage.NewMemoryBitStore())

	require.NoError(t, engine.Add(ctx, []byte("abc123")))
	present, err := engine.Check(ctx, []byte("abc123"))
	require.NoError(t, err)
	require.True(t, present)

	present, err = engine.Check(ctx, []byte("zzz999"))
	require.NoError(t, err)
	require.False(t, present)

	require.NoError(t, engine.Add(ctx, []byte("abc123")))
	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	require.LessOrEqual(t, stats.BitsSet, uint64(7))
	require.Greater(t, stats.BitsSet, uint64(0))
}

func TestEngineNotReady(t *testing.T) {
	ctx := context.Background()
	engines := map[string]*Engine{
		"unconfigured": NewEngine(storage.NewMemoryBitStore()),
		"nil":          nil,
	}
	for name, engine := range engines {
		t.Run(name, func(t *testing.T) {
			require.False(t, engine.IsReady())
			require.ErrorIs(t, engine.Add(ctx, []byte("x")), common.ErrNotReady)
			require.ErrorIs(t, engine.AddBatch(ctx, [][]byte{[]byte("x")}), common.ErrNotReady)
			_, err := engine.Check(ctx, []byte("x"))
			require.ErrorIs(t, err, common.ErrNotReady)
			_, err = engine.Stats(ctx)
			require.ErrorIs(t, err, common.ErrNotReady)
			_, err = engine.Positions([]byte("x"))
			require.ErrorIs(t, err, common.ErrNotReady)
			require.ErrorIs(t, engine.VerifyParameters(ctx), common.ErrNotReady)
			_, ok := engine.Parameters()
			require.False(t, ok)
		})
	}
}

func TestEngineConfigureOnce(t *testing.T) {
	engine := NewEngine(storage.NewMemoryBitStore())
	params := mustPlan(t, 1000, 0.01)

	require.NoError(t, engine.Configure(params, testHandle))
	require.ErrorIs(t, engine.Configure(params, "bloom:other"), common.ErrAlreadyConfigured)
	require.Equal(t, testHandle, engine.Handle())

	bound, ok := engine.Parameters()
	require.True(t, ok)
	require.Equal(t, params, bound)
}

func TestEngineConfigureRejectsBadInput(t *testing.T) {
	params := mustPlan(t, 1000, 0.01)

	require.ErrorIs(t, NewEngine(nil).Configure(params, testHandle), common.ErrInvalidParameter)
	require.ErrorIs(t, NewEngine(storage.NewMemoryBitStore()).Configure(params, ""), common.ErrInvalidParameter)
	require.ErrorIs(t, NewEngine(storage.NewMemoryBitStore()).Configure(FilterParameters{}, testHandle), common.ErrInvalidParameter)
}

func TestEngineRejectsEmptyItems(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, storage.NewMemoryBitStore())

	require.ErrorIs(t, engine.Add(ctx, nil), common.ErrInvalidParameter)
	_, err := engine.Check(ctx, []byte{})
	require.ErrorIs(t, err, common.ErrInvalidParameter)
	require.ErrorIs(t, engine.AddBatch(ctx, [][]byte{[]byte("ok"), {}}), common.ErrInvalidParameter)
}

func TestEngineConcurrentAddsConverge(t *testing.T) {
	ctx := context.Background()
	params := mustPlan(t, 1000, 0.01)
	shared := storage.NewMemoryBitStore()
	first, err := NewReadyEngine(shared, params, testHandle)
	require.NoError(t, err)
	second, err := NewReadyEngine(shared, params, testHandle)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		engine := first
		if worker%2 == 1 {
			engine = second
		}
		wg.Add(1)
		go func(worker int, engine *Engine) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				assert.NoError(t, engine.Add(ctx, []byte(fmt.Sprintf("w%d-%d", worker, i))))
			}
		}(worker, engine)
	}
	wg.Wait()

	sequential := newTestEngine(t, storage.NewMemoryBitStore())
	for worker := 0; worker < 8; worker++ {
		for i := 0; i < 100; i++ {
			require.NoError(t, sequential.Add(ctx, []byte(fmt.Sprintf("w%d-%d", worker, i))))
		}
	}

	concurrentStats, err := first.Stats(ctx)
	require.NoError(t, err)
	sequentialStats, err := sequential.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, sequentialStats.BitsSet, concurrentStats.BitsSet)

	every := make([]uint64, params.BitSize)
	for offset := range every {
		every[offset] = uint64(offset)
	}
	concurrentBits, err := shared.ReadBits(ctx, testHandle, every)
	require.NoError(t, err)
	sequentialBits, err := sequential.store.ReadBits(ctx, testHandle, every)
	require.NoError(t, err)
	require.Equal(t, sequentialBits, concurrentBits)

	for worker := 0; worker < 8; worker++ {
		present, err := second.Check(ctx, []byte(fmt.Sprintf("w%d-99", worker)))
		require.NoError(t, err)
		require.True(t, present)
	}
}

func TestEngineAddBatchSingleWrite(t *testing.T) {
	ctx := context.Background()
	store := &failingBitStore{}
	engine := newTestEngine(t, store)

	require.NoError(t, engine.AddBatch(ctx, [][]byte{[]byte("a"), []byte("b"), []byte("c")}))
	require.Equal(t, 1, store.writes)
	require.NoError(t, engine.AddBatch(ctx, nil))
	require.Equal(t, 1, store.writes)

	memory := newTestEngine(t, storage.NewMemoryBitStore())
	require.NoError(t, memory.AddBatch(ctx, [][]byte{[]byte("a"), []byte("b")}))
	for _, item := range []string{"a", "b"} {
		present, err := memory.Check(ctx, []byte(item))
		require.NoError(t, err)
		require.True(t, present)
	}
}

func TestEngineStats(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, storage.NewMemoryBitStore())

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.BitsSet)
	require.Zero(t, stats.FillRatio)
	require.Zero(t, stats.EstimatedFalsePositiveRate)
	require.Equal(t, uint64(1199), stats.MemoryBytes)
	require.Equal(t, testHandle, stats.Handle)

	for i := 0; i < 500; i++ {
		require.NoError(t, engine.Add(ctx, []byte(fmt.Sprintf("item-%d", i))))
	}
	stats, err = engine.Stats(ctx)
	require.NoError(t, err)
	require.Greater(t, stats.FillRatio, 0.0)
	require.Less(t, stats.FillRatio, 1.0)
	require.InDelta(t, float64(stats.BitsSet)/9586, stats.FillRatio, 1e-12)
	require.Less(t, stats.EstimatedFalsePositiveRate, 0.01)
	require.InDelta(t, 1199.0/(1024*1024), stats.MemoryMegabytes(), 1e-12)
}

func TestEngineStoreFailuresKeepTheirKind(t *testing.T) {
	ctx := context.Background()
	kinds := []error{common.ErrStoreUnavailable, common.ErrStoreProtocol}
	for _, kind := range kinds {
		t.Run(kind.Error(), func(t *testing.T) {
			engine := newTestEngine(t, &failingBitStore{err: fmt.Errorf("%w: boom", kind)})

			err := engine.Add(ctx, []byte("x"))
			require.ErrorIs(t, err, kind)
			var opErr *common.OperationError
			require.True(t, errors.As(err, &opErr))
			require.Equal(t, "add", opErr.Operation)
			require.Equal(t, testHandle, opErr.Handle)

			_, err = engine.Check(ctx, []byte("x"))
			require.ErrorIs(t, err, kind)
			_, err = engine.Stats(ctx)
			require.ErrorIs(t, err, kind)
		})
	}
}

func TestEngineCheckRejectsMalformedReplies(t *testing.T) {
	ctx := context.Background()

	short := newTestEngine(t, &failingBitStore{bits: []uint8{1, 1}})
	_, err := short.Check(ctx, []byte("x"))
	require.ErrorIs(t, err, common.ErrStoreProtocol)

	bogus := newTestEngine(t, &failingBitStore{bits: []uint8{1, 1, 1, 2, 1, 1, 1}})
	_, err = bogus.Check(ctx, []byte("x"))
	require.ErrorIs(t, err, common.ErrStoreProtocol)
}

func TestEngineVerifyParameters(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBitStore()

	first := newTestEngine(t, store)
	require.NoError(t, first.VerifyParameters(ctx))
	require.NoError(t, newTestEngine(t, store).VerifyParameters(ctx))

	different, err := NewReadyEngine(store, mustPlan(t, 5000, 0.01), testHandle)
	require.NoError(t, err)
	require.ErrorIs(t, different.VerifyParameters(ctx), common.ErrParameterMismatch)

	// Stores without fingerprint support are accepted.
	require.NoError(t, newTestEngine(t, &failingBitStore{}).VerifyParameters(ctx))
}
