package archive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kestreltrace/kestrel/pkg/trace/encoder"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeArchiveClient struct {
	mu      sync.Mutex
	indexed []encoder.RawSpan
	index   string
}

func (fc *fakeArchiveClient) BulkIndex(ctx context.Context, spans []encoder.RawSpan, index string) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.indexed = append(fc.indexed, spans...)
	fc.index = index
	return nil
}

func (fc *fakeArchiveClient) indexedCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.indexed)
}

func TestSpanWriteBufferImpl_WriteToBuffer(t *testing.T) {
	t.Run("Buffers spans without flushing below the queue size", func(t *testing.T) {
		fc := &fakeArchiveClient{}
		wb := NewSpanWriteBufferImpl(fc, SpanIndexName, zap.NewNop())

		wb.WriteToBuffer([]encoder.RawSpan{{TraceID: 1, SpanID: 1}})
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 0, fc.indexedCount())
	})

	t.Run("Flushes to the archive once the queue size is exceeded", func(t *testing.T) {
		fc := &fakeArchiveClient{}
		wb := NewSpanWriteBufferImpl(fc, SpanIndexName, zap.NewNop())

		spans := make([]encoder.RawSpan, WriteQueueSize+1)
		for i := range spans {
			spans[i] = encoder.RawSpan{TraceID: 1, SpanID: uint64(i)}
		}
		wb.WriteToBuffer(spans)

		assert.Eventually(t, func() bool {
			return fc.indexedCount() == WriteQueueSize+1
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, SpanIndexName, fc.index)
	})
}
