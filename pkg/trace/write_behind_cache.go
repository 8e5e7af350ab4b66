package trace

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/kestreltrace/kestrel/pkg/trace/model"
)

// WriteBehindCache accumulates spans per trace id until the forwarder drains
// them for delivery. Reads are served from a ristretto cache with LRU/LFU
// eviction; the pending queue is what Drain hands to the flusher, so an
// eviction never loses spans that have not been delivered yet.
type WriteBehindCache interface {
	Get(traceID uint64) ([]model.Span, error)
	Put(traceID uint64, spans []model.Span) error
	Drain() map[uint64][]model.Span
}

type WriteBehindCacheImpl struct {
	cache      *ristretto.Cache
	writeQueue map[uint64][]model.Span
	mu         sync.Mutex
}

func NewWriteBehindCacheImpl(cache *ristretto.Cache) *WriteBehindCacheImpl {
	return &WriteBehindCacheImpl{
		cache:      cache,
		writeQueue: make(map[uint64][]model.Span),
	}
}

func (wbc *WriteBehindCacheImpl) Get(traceID uint64) ([]model.Span, error) {
	value, found := wbc.cache.Get(traceID)
	if !found {
		return nil, ErrKeyNotFound
	}
	typedValue, ok := value.([]model.Span)
	if !ok {
		return nil, fmt.Errorf("value not of expected type %T returned from cache when getting", value)
	}

	return typedValue, nil
}

func (wbc *WriteBehindCacheImpl) Put(traceID uint64, spans []model.Span) error {
	wbc.mu.Lock()
	defer wbc.mu.Unlock()
	wbc.writeQueue[traceID] = append(wbc.writeQueue[traceID], spans...)

	totalValue := spans
	oldValue, found := wbc.cache.Get(traceID)
	if found {
		typedOldValue, ok := oldValue.([]model.Span)
		if !ok {
			return fmt.Errorf("value not of expected type %T returned from cache when putting", oldValue)
		}
		totalValue = append(typedOldValue, spans...)
	}
	set := wbc.cache.Set(traceID, totalValue, int64(len(totalValue)))
	if !set {
		return ErrSetFailed
	}
	// the set must be applied before the next Put reads the cached copy
	wbc.cache.Wait()
	return nil
}

// Drain removes and returns every pending span group. Cached entries stay
// readable until evicted.
func (wbc *WriteBehindCacheImpl) Drain() map[uint64][]model.Span {
	wbc.mu.Lock()
	defer wbc.mu.Unlock()
	drained := wbc.writeQueue
	wbc.writeQueue = make(map[uint64][]model.Span)
	return drained
}

var (
	ErrKeyNotFound = errors.New("trace id not found within the cache")
	ErrSetFailed   = errors.New("failed to set spans in cache")
)
