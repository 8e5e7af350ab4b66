package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/kestreltrace/kestrel/pkg/trace/encoder"
	"go.uber.org/zap"
)

const tracesPath = "/v0.3/traces"
const traceCountHeader = "X-Datadog-Trace-Count"

// Transport delivers encoded traces to the tracing agent. One Send call
// carries one batch; the payload is a JSON array of arrays of spans.
type Transport interface {
	Send(ctx context.Context, traces []encoder.RawTrace) error
}

type HttpTransportImpl struct {
	url    string
	client *retryablehttp.Client
	logger *zap.Logger
}

func NewHttpTransportImpl(agentAddress string, logger *zap.Logger) *HttpTransportImpl {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.HTTPClient.Timeout = 10 * time.Second
	retryClient.Logger = nil

	return &HttpTransportImpl{
		url:    "http://" + agentAddress + tracesPath,
		client: retryClient,
		logger: logger,
	}
}

func (ht *HttpTransportImpl) Send(ctx context.Context, traces []encoder.RawTrace) error {
	if len(traces) == 0 {
		return nil
	}
	body, err := json.Marshal(traces)
	if err != nil {
		return fmt.Errorf("error marshalling traces for the agent: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, ht.url, body)
	if err != nil {
		return fmt.Errorf("error creating agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(traceCountHeader, strconv.Itoa(len(traces)))

	resp, err := ht.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending traces to the agent: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("agent rejected trace payload with status %d", resp.StatusCode)
	}
	ht.logger.Debug(
		"Sent traces to the agent",
		zap.Int("trace_count", len(traces)),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}
