package service

import (
	"strconv"
	"time"

	"github.com/kestreltrace/kestrel/pkg/client"
	"github.com/kestreltrace/kestrel/pkg/trace"
	"github.com/kestreltrace/kestrel/pkg/trace/model"
	"go.uber.org/zap"
)

const defaultPriority = int32(1)
const samplingPriorityTag = "sampling.priority"

// TraceFlusher periodically drains the write-behind cache, assembles each span
// group into a trace, and hands it to the tracing client.
type TraceFlusher interface {
	Flush()
}

type TraceFlusherImpl struct {
	cache         trace.WriteBehindCache
	tracingClient client.TracingClient
	interval      time.Duration
	logger        *zap.Logger
}

func NewTraceFlusherImpl(
	cache trace.WriteBehindCache,
	tracingClient client.TracingClient,
	interval time.Duration,
	logger *zap.Logger,
) *TraceFlusherImpl {
	return &TraceFlusherImpl{
		cache:         cache,
		tracingClient: tracingClient,
		interval:      interval,
		logger:        logger,
	}
}

// Start launches the periodic flush loop and returns a cleanup function that
// stops it after one final flush.
func (tf *TraceFlusherImpl) Start() func() {
	ticker := time.NewTicker(tf.interval)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				tf.Flush()
			case <-stop:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(stop)
		tf.Flush()
	}
}

func (tf *TraceFlusherImpl) Flush() {
	groups := tf.cache.Drain()
	if len(groups) == 0 {
		return
	}
	for traceID, spans := range groups {
		tf.tracingClient.SendTrace(model.Trace{
			ID:       traceID,
			Priority: tracePriority(spans),
			Spans:    spans,
		})
	}
	tf.logger.Debug("Flushed traces to the client", zap.Int("trace_count", len(groups)))
}

// tracePriority reads the sampling decision from the root span's tags. The
// decision is made upstream; absent or unparseable values keep the trace.
func tracePriority(spans []model.Span) int32 {
	for _, span := range spans {
		if span.ParentID != nil {
			continue
		}
		if raw, found := span.Tags[samplingPriorityTag]; found {
			if priority, err := strconv.ParseInt(raw, 10, 32); err == nil {
				return int32(priority)
			}
		}
	}
	return defaultPriority
}
