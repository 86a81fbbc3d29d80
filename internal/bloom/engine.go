package bloom

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"pwbloom/internal/common"
	"pwbloom/internal/logger"
)

// Engine answers membership queries against a bit array held in a shared
// BitStore. It is Unconfigured until Configure succeeds and Ready forever
// after. Methods are safe for concurrent use without client-side locking:
// Add only ever sets bits, so any interleaving converges to the same union.
//
// A Check racing an in-flight Add for the same item may observe a partial
// write and report false; once Add returns, every later Check reports true.
type Engine struct {
	store common.BitStore
	state atomic.Pointer[readyState]
}

type readyState struct {
	params    FilterParameters
	handle    common.BitArrayHandle
	generator PositionGenerator
}

// FilterStats is a read-only snapshot. BitsSet is a load estimate, not an
// item count: colliding positions make the two unconvertible.
type FilterStats struct {
	Parameters                 FilterParameters
	Handle                     common.BitArrayHandle
	BitsSet                    uint64
	MemoryBytes                uint64
	FillRatio                  float64
	EstimatedFalsePositiveRate float64
}

func (s FilterStats) MemoryMegabytes() float64 {
	return float64(s.MemoryBytes) / (1024 * 1024)
}

func NewEngine(store common.BitStore) *Engine {
	return &Engine{store: store}
}

// NewReadyEngine builds and configures an engine in one step.
func NewReadyEngine(store common.BitStore, params FilterParameters, handle common.BitArrayHandle) (*Engine, error) {
	e := NewEngine(store)
	if err := e.Configure(params, handle); err != nil {
		return nil, err
	}
	return e, nil
}

// Configure binds parameters and a bit array handle. It succeeds once.
func (e *Engine) Configure(params FilterParameters, handle common.BitArrayHandle) error {
	if e == nil || e.store == nil {
		return fmt.Errorf("%w: engine has no bit store", common.ErrInvalidParameter)
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if handle == "" {
		return fmt.Errorf("%w: empty bit array handle", common.ErrInvalidParameter)
	}

	state := &readyState{params: params, handle: handle, generator: NewPositionGenerator(params)}
	if !e.state.CompareAndSwap(nil, state) {
		return common.ErrAlreadyConfigured
	}
	logger.LogInfoEvent("Bloom engine ready on %s: %s", handle, params)
	return nil
}

func (e *Engine) IsReady() bool {
	return e != nil && e.state.Load() != nil
}

// Parameters returns the bound parameters; ok is false before Configure.
func (e *Engine) Parameters() (params FilterParameters, ok bool) {
	if !e.IsReady() {
		return FilterParameters{}, false
	}
	return e.state.Load().params, true
}

func (e *Engine) Handle() common.BitArrayHandle {
	if !e.IsReady() {
		return ""
	}
	return e.state.Load().handle
}

func (e *Engine) ready(op string) (*readyState, error) {
	if e == nil || e.store == nil {
		return nil, fmt.Errorf("%s: %w", op, common.ErrNotReady)
	}
	state := e.state.Load()
	if state == nil {
		return nil, fmt.Errorf("%s: %w", op, common.ErrNotReady)
	}
	return state, nil
}

// Positions exposes the offsets an item maps to.
func (e *Engine) Positions(item []byte) ([]uint64, error) {
	state, err := e.ready("positions")
	if err != nil {
		return nil, err
	}
	return state.generator.Positions(item), nil
}

// Add marks item as a plausible member. Re-adding is a no-op in effect.
func (e *Engine) Add(ctx context.Context, item []byte) error {
	state, err := e.ready("add")
	if err != nil {
		return err
	}
	if len(item) == 0 {
		return fmt.Errorf("add: %w: empty item", common.ErrInvalidParameter)
	}

	if err := e.store.WriteBits(ctx, state.handle, state.generator.Positions(item)); err != nil {
		return storeFailure("add", state.handle, err)
	}
	return nil
}

// AddBatch writes the positions of every item in a single store round trip.
func (e *Engine) AddBatch(ctx context.Context, items [][]byte) error {
	state, err := e.ready("add")
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	offsets := make([]uint64, 0, len(items)*int(state.params.HashCount))
	for i, item := range items {
		if len(item) == 0 {
			return fmt.Errorf("add: %w: empty item at index %d", common.ErrInvalidParameter, i)
		}
		offsets = state.generator.AppendPositions(offsets, item)
	}

	if err := e.store.WriteBits(ctx, state.handle, offsets); err != nil {
		return storeFailure("add", state.handle, err)
	}
	return nil
}

// Check reports true iff every position of item is set. False positives
// are possible; false negatives are not while no bit is ever cleared.
func (e *Engine) Check(ctx context.Context, item []byte) (bool, error) {
	state, err := e.ready("check")
	if err != nil {
		return false, err
	}
	if len(item) == 0 {
		return false, fmt.Errorf("check: %w: empty item", common.ErrInvalidParameter)
	}

	offsets := state.generator.Positions(item)
	bits, err := e.store.ReadBits(ctx, state.handle, offsets)
	if err != nil {
		return false, storeFailure("check", state.handle, err)
	}
	if len(bits) != len(offsets) {
		err := fmt.Errorf("%w: requested %d bits, got %d", common.ErrStoreProtocol, len(offsets), len(bits))
		return false, storeFailure("check", state.handle, err)
	}

	present := true
	for i, bit := range bits {
		switch bit {
		case 1:
		case 0:
			present = false
		default:
			err := fmt.Errorf("%w: bit %d at offset %d has value %d", common.ErrStoreProtocol, i, offsets[i], bit)
			return false, storeFailure("check", state.handle, err)
		}
	}
	return present, nil
}

func (e *Engine) Stats(ctx context.Context) (FilterStats, error) {
	state, err := e.ready("stats")
	if err != nil {
		return FilterStats{}, err
	}

	bitsSet, err := e.store.CountBits(ctx, state.handle)
	if err != nil {
		return FilterStats{}, storeFailure("stats", state.handle, err)
	}

	params := state.params
	fill := float64(bitsSet) / float64(params.BitSize)
	return FilterStats{
		Parameters:                 params,
		Handle:                     state.handle,
		BitsSet:                    bitsSet,
		MemoryBytes:                params.MemoryBytes(),
		FillRatio:                  fill,
		EstimatedFalsePositiveRate: estimateFromFill(fill, params.HashCount),
	}, nil
}

// VerifyParameters stores the parameter fingerprint next to the bit array,
// or compares against the one already there. Stores that cannot hold a
// fingerprint are accepted as is.
func (e *Engine) VerifyParameters(ctx context.Context) error {
	state, err := e.ready("verify")
	if err != nil {
		return err
	}
	binder, ok := e.store.(common.FingerprintBinder)
	if !ok {
		return nil
	}

	expected := state.params.Fingerprint()
	stored, err := binder.BindFingerprint(ctx, state.handle, expected)
	if err != nil {
		return storeFailure("verify", state.handle, err)
	}
	if stored != expected {
		return fmt.Errorf("verify %s: %w: stored %s, local %s", state.handle, common.ErrParameterMismatch, stored, expected)
	}
	return nil
}

func storeFailure(op string, handle common.BitArrayHandle, err error) error {
	if errors.Is(err, common.ErrStoreProtocol) {
		logger.LogErrorEvent("Bloom %s on %s: %v", op, handle, err)
	}
	return &common.OperationError{Operation: op, Handle: handle, Err: err}
}

// estimateFromFill approximates the current false positive rate as the
// chance that k independent probes all land on set bits.
func estimateFromFill(fill float64, k uint32) float64 {
	return math.Pow(fill, float64(k))
}
