package metrics

import (
	"runtime"
	"sync/atomic"
)

type SystemMetricsRegistry struct {
	AddOperationsCount   int64 `json:"add_operations_count"`
	AddedItemsCount      int64 `json:"added_items_count"`
	CheckOperationsCount int64 `json:"check_operations_count"`
	CompromisedCount     int64 `json:"compromised_count"`
	CacheHitCount        int64 `json:"cache_hit_count"`
	StoreFailureCount    int64 `json:"store_failure_count"`
	RejectedRequestCount int64 `json:"rejected_request_count"`
}

var Global SystemMetricsRegistry

// RecordAdd counts one add request carrying itemCount items.
func RecordAdd(itemCount int) {
	atomic.AddInt64(&Global.AddOperationsCount, 1)
	atomic.AddInt64(&Global.AddedItemsCount, int64(itemCount))
}

func RecordCheck(compromised bool) {
	atomic.AddInt64(&Global.CheckOperationsCount, 1)
	if compromised {
		atomic.AddInt64(&Global.CompromisedCount, 1)
	}
}

func IncrementCacheHitCount() {
	atomic.AddInt64(&Global.CacheHitCount, 1)
}

func IncrementStoreFailureCount() {
	atomic.AddInt64(&Global.StoreFailureCount, 1)
}

func IncrementRejectedRequestCount() {
	atomic.AddInt64(&Global.RejectedRequestCount, 1)
}

func Reset() {
	atomic.StoreInt64(&Global.AddOperationsCount, 0)
	atomic.StoreInt64(&Global.AddedItemsCount, 0)
	atomic.StoreInt64(&Global.CheckOperationsCount, 0)
	atomic.StoreInt64(&Global.CompromisedCount, 0)
	atomic.StoreInt64(&Global.CacheHitCount, 0)
	atomic.StoreInt64(&Global.StoreFailureCount, 0)
	atomic.StoreInt64(&Global.RejectedRequestCount, 0)
}

// GetCurrentState returns a snapshot for the API
func GetCurrentState() map[string]int64 {
	var memory runtime.MemStats
	runtime.ReadMemStats(&memory)

	return map[string]int64{
		"add_ops":          atomic.LoadInt64(&Global.AddOperationsCount),
		"added_items":      atomic.LoadInt64(&Global.AddedItemsCount),
		"check_ops":        atomic.LoadInt64(&Global.CheckOperationsCount),
		"compromised":      atomic.LoadInt64(&Global.CompromisedCount),
		"cache_hits":       atomic.LoadInt64(&Global.CacheHitCount),
		"store_failures":   atomic.LoadInt64(&Global.StoreFailureCount),
		"rejected":         atomic.LoadInt64(&Global.RejectedRequestCount),
		"goroutines":       int64(runtime.NumGoroutine()),
		"heap_alloc_bytes": int64(memory.HeapAlloc),
	}
}
