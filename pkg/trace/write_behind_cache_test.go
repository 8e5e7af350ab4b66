package trace

import (
	"sync"
	"testing"

	"github.com/dgraph-io/ristretto"
	"github.com/kestreltrace/kestrel/pkg/trace/model"
	"github.com/stretchr/testify/assert"
)

func TestWriteBehindCacheImpl_Get(t *testing.T) {
	t.Run("Returns error if trace id is not found", func(t *testing.T) {
		wbc := getNewWriteBehindCacheImpl()
		_, err := wbc.Get(404)
		if err == nil {
			t.Error("Expected error, got nil")
		}
		assert.Equal(t, ErrKeyNotFound, err)
	})

	t.Run("Returns spans if trace id is found", func(t *testing.T) {
		wbc := getNewWriteBehindCacheImpl()
		traceID := uint64(42)
		spans := []model.Span{
			{ID: 7, Name: "request"},
		}
		err := wbc.Put(traceID, spans)
		assert.Nil(t, err)
		wbc.cache.Wait()
		res, err := wbc.Get(traceID)
		assert.Nil(t, err)
		assert.Equal(t, spans, res)
	})
}

func TestWriteBehindCacheImpl_Put(t *testing.T) {
	t.Run("Appends spans if trace id is found", func(t *testing.T) {
		wbc := getNewWriteBehindCacheImpl()
		traceID := uint64(42)
		spans := []model.Span{
			{ID: 7, Name: "request"},
		}
		err := wbc.Put(traceID, spans)
		assert.Nil(t, err)
		wbc.cache.Wait()
		err = wbc.Put(traceID, spans)
		assert.Nil(t, err)
		wbc.cache.Wait()
		res, err := wbc.Get(traceID)
		assert.Nil(t, err)
		assert.Equal(t, append(spans, spans...), res)
	})
}

func TestWriteBehindCacheImpl_Put_Concurrent(t *testing.T) {
	t.Run("Loses no spans from the cached copy under concurrent puts", func(t *testing.T) {
		wbc := getNewWriteBehindCacheImpl()
		traceID := uint64(42)
		const writers = 8

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(spanID uint64) {
				defer wg.Done()
				err := wbc.Put(traceID, []model.Span{{ID: spanID}})
				assert.Nil(t, err)
			}(uint64(i))
		}
		wg.Wait()

		res, err := wbc.Get(traceID)
		assert.Nil(t, err)
		assert.Len(t, res, writers)
		assert.Len(t, wbc.Drain()[traceID], writers)
	})
}

func TestWriteBehindCacheImpl_Drain(t *testing.T) {
	t.Run("Returns all pending span groups and clears the queue", func(t *testing.T) {
		wbc := getNewWriteBehindCacheImpl()
		first := []model.Span{{ID: 1, Name: "a"}}
		second := []model.Span{{ID: 2, Name: "b"}}
		assert.Nil(t, wbc.Put(10, first))
		assert.Nil(t, wbc.Put(20, second))

		drained := wbc.Drain()
		assert.Equal(t, map[uint64][]model.Span{10: first, 20: second}, drained)
		assert.Empty(t, wbc.Drain())
	})
}

func getNewWriteBehindCacheImpl() *WriteBehindCacheImpl {
	cache, _ := ristretto.NewCache(&ristretto.Config{
		NumCounters: (1 << 20) * 10,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	return NewWriteBehindCacheImpl(cache)
}
