package archive

import (
	"context"
	"sync"
	"time"

	"github.com/kestreltrace/kestrel/pkg/trace/encoder"
	"go.uber.org/zap"
)

const WriteQueueSize = 30
const flushTimeOut = 10 * time.Second

// SpanWriteBuffer batches encoded spans until the queue grows past
// WriteQueueSize, then flushes them to the archive in the background.
type SpanWriteBuffer interface {
	WriteToBuffer(spans []encoder.RawSpan)
}

type SpanWriteBufferImpl struct {
	writeQueue []encoder.RawSpan
	ac         ArchiveClient
	indexName  string
	logger     *zap.Logger
	mu         sync.Mutex
}

func NewSpanWriteBufferImpl(
	ac ArchiveClient,
	indexName string,
	logger *zap.Logger,
) *SpanWriteBufferImpl {
	return &SpanWriteBufferImpl{
		writeQueue: []encoder.RawSpan{},
		ac:         ac,
		indexName:  indexName,
		logger:     logger,
	}
}

func (wb *SpanWriteBufferImpl) WriteToBuffer(spans []encoder.RawSpan) {
	wb.mu.Lock()
	wb.writeQueue = append(wb.writeQueue, spans...)
	queued := len(wb.writeQueue)
	wb.mu.Unlock()
	if queued > WriteQueueSize {
		go func() {
			err := wb.flushToArchive()
			if err != nil {
				wb.logger.Error("Failed to flush spans to the archive", zap.Error(err))
			}
		}()
	}
}

func (wb *SpanWriteBufferImpl) flushToArchive() error {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	if len(wb.writeQueue) == 0 {
		return nil
	}
	bulkCtx, cancel := context.WithTimeout(context.Background(), flushTimeOut)
	defer cancel()
	err := wb.ac.BulkIndex(bulkCtx, wb.writeQueue, wb.indexName)
	wb.writeQueue = []encoder.RawSpan{}
	if err != nil {
		return err
	}
	return nil
}
