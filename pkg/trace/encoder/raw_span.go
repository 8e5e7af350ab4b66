package encoder

import (
	"fmt"
	"time"

	"github.com/kestreltrace/kestrel/pkg/trace/model"
)

const samplingPriorityKey = "_sampling_priority_v1"

// RawSpan is the flat wire record understood by the tracing agent. Field names
// become wire keys once serialized: identity fields are unsigned 64-bit
// integers, parent_id is omitted entirely for root spans, start and duration
// are nanosecond counts, and error is an integer flag rather than a boolean.
type RawSpan struct {
	Service  string             `json:"service"`
	Name     string             `json:"name"`
	Resource string             `json:"resource"`
	TraceID  uint64             `json:"trace_id"`
	SpanID   uint64             `json:"span_id"`
	ParentID *uint64            `json:"parent_id,omitempty"`
	Start    uint64             `json:"start"`
	Duration uint64             `json:"duration"`
	Error    int32              `json:"error"`
	Meta     map[string]string  `json:"meta"`
	Metrics  map[string]float64 `json:"metrics"`
	Type     string             `json:"type"`
}

// RawTrace is the encoded form of one trace: one RawSpan per input span, in the
// same order the spans were created.
type RawTrace []RawSpan

// FromTrace encodes every span of the trace with FromSpan, preserving order.
func FromTrace(trace *model.Trace, service string, env string) RawTrace {
	rawSpans := make(RawTrace, len(trace.Spans))
	for i, span := range trace.Spans {
		rawSpans[i] = FromSpan(&span, trace, service, env)
	}
	return rawSpans
}

// FromSpan flattens one span into its wire record. Encoding is a pure function
// of the span, its owning trace's id and priority, the service name, and the
// environment; an empty env means "not configured" and is left out of meta.
func FromSpan(span *model.Span, trace *model.Trace, service string, env string) RawSpan {
	return RawSpan{
		Service:  service,
		TraceID:  trace.ID,
		SpanID:   span.ID,
		ParentID: span.ParentID,
		Name:     span.Name,
		Resource: span.Resource,
		Type:     span.Type,
		Start:    nanosSinceEpoch(span.Start),
		Duration: durationToNanos(span.Duration),
		Error:    errorFlag(span),
		Meta:     fillMeta(span, env),
		Metrics:  fillMetrics(trace.Priority),
	}
}

// fillMeta merges the typed attribute blocks and the free-form tags into one
// string map. Passes are applied in fixed precedence order and later writers
// win on key collision, so a user tag named e.g. "http.url" deliberately
// replaces the structured HTTP field.
func fillMeta(span *model.Span, env string) map[string]string {
	meta := make(map[string]string)
	if env != "" {
		meta["env"] = env
	}
	if span.Http != nil {
		meta["http.status_code"] = span.Http.StatusCode
		meta["http.method"] = span.Http.Method
		meta["http.url"] = span.Http.URL
	}
	if span.Error != nil {
		meta["error.type"] = span.Error.Type
		meta["error.msg"] = span.Error.Msg
		meta["error.stack"] = span.Error.Stack
	}
	if span.Sql != nil {
		meta["sql.query"] = span.Sql.Query
		meta["sql.rows"] = span.Sql.Rows
		meta["sql.db"] = span.Sql.DB
	}
	for key, value := range span.Tags {
		meta[key] = value
	}
	return meta
}

func fillMetrics(priority int32) map[string]float64 {
	return map[string]float64{
		samplingPriorityKey: float64(priority),
	}
}

func errorFlag(span *model.Span) int32 {
	if span.Error != nil {
		return 1
	}
	return 0
}

// nanosSinceEpoch converts an absolute timestamp to nanoseconds elapsed since
// the Unix epoch. A timestamp before the epoch indicates a broken clock source,
// not recoverable bad data, so it panics instead of returning an error.
func nanosSinceEpoch(t time.Time) uint64 {
	nanos := t.UnixNano()
	if nanos < 0 {
		panic(fmt.Sprintf("span start %v predates the unix epoch", t))
	}
	return uint64(nanos)
}

// durationToNanos converts a relative interval to nanoseconds. Negative
// durations violate the same clock invariant as pre-epoch timestamps.
func durationToNanos(d time.Duration) uint64 {
	if d < 0 {
		panic(fmt.Sprintf("span duration %v is negative", d))
	}
	return uint64(d.Nanoseconds())
}
