package service

import (
	"testing"
	"time"

	"github.com/kestreltrace/kestrel/pkg/trace/model"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeCache struct {
	groups map[uint64][]model.Span
}

func (fc *fakeCache) Get(traceID uint64) ([]model.Span, error) {
	return fc.groups[traceID], nil
}

func (fc *fakeCache) Put(traceID uint64, spans []model.Span) error {
	fc.groups[traceID] = append(fc.groups[traceID], spans...)
	return nil
}

func (fc *fakeCache) Drain() map[uint64][]model.Span {
	drained := fc.groups
	fc.groups = make(map[uint64][]model.Span)
	return drained
}

type fakeClient struct {
	traces []model.Trace
}

func (fc *fakeClient) SendTrace(trace model.Trace) {
	fc.traces = append(fc.traces, trace)
}

func TestTraceFlusherImpl_Flush(t *testing.T) {
	t.Run("Assembles one trace per buffered span group", func(t *testing.T) {
		cache := &fakeCache{groups: map[uint64][]model.Span{
			42: {{ID: 7, Name: "request"}},
			43: {{ID: 8, Name: "query"}},
		}}
		tracingClient := &fakeClient{}
		flusher := NewTraceFlusherImpl(cache, tracingClient, time.Minute, zap.NewNop())

		flusher.Flush()
		assert.Len(t, tracingClient.traces, 2)
		seen := make(map[uint64]int)
		for _, trace := range tracingClient.traces {
			seen[trace.ID] = len(trace.Spans)
		}
		assert.Equal(t, map[uint64]int{42: 1, 43: 1}, seen)
	})

	t.Run("Takes the priority from the root span tag", func(t *testing.T) {
		parentID := uint64(7)
		cache := &fakeCache{groups: map[uint64][]model.Span{
			42: {
				{ID: 7, Tags: map[string]string{"sampling.priority": "2"}},
				{ID: 8, ParentID: &parentID, Tags: map[string]string{"sampling.priority": "0"}},
			},
		}}
		tracingClient := &fakeClient{}
		flusher := NewTraceFlusherImpl(cache, tracingClient, time.Minute, zap.NewNop())

		flusher.Flush()
		if assert.Len(t, tracingClient.traces, 1) {
			assert.Equal(t, int32(2), tracingClient.traces[0].Priority)
		}
	})

	t.Run("Defaults the priority to 1 when the tag is missing", func(t *testing.T) {
		cache := &fakeCache{groups: map[uint64][]model.Span{
			42: {{ID: 7}},
		}}
		tracingClient := &fakeClient{}
		flusher := NewTraceFlusherImpl(cache, tracingClient, time.Minute, zap.NewNop())

		flusher.Flush()
		if assert.Len(t, tracingClient.traces, 1) {
			assert.Equal(t, int32(1), tracingClient.traces[0].Priority)
		}
	})

	t.Run("Sends nothing when the cache is empty", func(t *testing.T) {
		cache := &fakeCache{groups: map[uint64][]model.Span{}}
		tracingClient := &fakeClient{}
		flusher := NewTraceFlusherImpl(cache, tracingClient, time.Minute, zap.NewNop())

		flusher.Flush()
		assert.Empty(t, tracingClient.traces)
	})
}
