package client

import (
	"context"
	"sync"
	"time"

	"github.com/kestreltrace/kestrel/pkg/trace/encoder"
	"github.com/kestreltrace/kestrel/pkg/trace/model"
	"github.com/kestreltrace/kestrel/pkg/transport"
	"go.uber.org/zap"
)

const traceQueueSize = 64
const sendTimeout = 30 * time.Second

// TracingClient accepts completed traces, encodes them, and hands them to the
// transport from a background worker. SendTrace never blocks the caller: when
// the queue is full the trace is dropped and a warning is logged.
type TracingClient interface {
	SendTrace(trace model.Trace)
}

type TracingClientImpl struct {
	service   string
	env       string
	transport transport.Transport
	logger    *zap.Logger
	traceChan chan model.Trace
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewTracingClientImpl(
	config *Config,
	transport transport.Transport,
	logger *zap.Logger,
) *TracingClientImpl {
	return &TracingClientImpl{
		service:   config.Service,
		env:       config.Env,
		transport: transport,
		logger:    logger,
		traceChan: make(chan model.Trace, traceQueueSize),
	}
}

// Start launches the worker goroutine that drains the queue.
func (tc *TracingClientImpl) Start() {
	tc.startOnce.Do(func() {
		tc.wg.Add(1)
		go tc.worker()
	})
}

// Stop closes the queue and waits for the worker to deliver what remains.
func (tc *TracingClientImpl) Stop() {
	tc.stopOnce.Do(func() {
		close(tc.traceChan)
		tc.wg.Wait()
	})
}

func (tc *TracingClientImpl) SendTrace(trace model.Trace) {
	select {
	case tc.traceChan <- trace:
	default:
		tc.logger.Warn(
			"Trace queue full, dropping trace",
			zap.Uint64("trace_id", trace.ID),
			zap.Int("span_count", len(trace.Spans)),
		)
	}
}

func (tc *TracingClientImpl) worker() {
	defer tc.wg.Done()
	for trace := range tc.traceChan {
		rawTrace := encoder.FromTrace(&trace, tc.service, tc.env)
		sendCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := tc.transport.Send(sendCtx, []encoder.RawTrace{rawTrace})
		cancel()
		if err != nil {
			tc.logger.Error(
				"Failed to send trace to the agent",
				zap.Uint64("trace_id", trace.ID),
				zap.Error(err),
			)
		}
	}
}
