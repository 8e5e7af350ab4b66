package server

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/kestreltrace/kestrel/pkg/trace"
	"github.com/kestreltrace/kestrel/pkg/trace/model"
	protoTrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.opentelemetry.io/proto/otlp/trace/v1"
	"go.uber.org/zap"
)

// TraceServiceServerImpl receives OTLP spans, converts them to the client's
// span model, and buffers them by trace id until the flusher drains them.
type TraceServiceServerImpl struct {
	protoTrace.UnimplementedTraceServiceServer
	logger           *zap.Logger
	writeBehindCache trace.WriteBehindCache
}

func NewTraceServiceServerImpl(
	logger *zap.Logger,
	cache trace.WriteBehindCache,
) TraceServiceServerImpl {
	logger.Info("Creating new TraceServiceServerImpl")
	return TraceServiceServerImpl{
		logger:           logger,
		writeBehindCache: cache,
	}
}

func (tss TraceServiceServerImpl) Export(
	ctx context.Context,
	req *protoTrace.ExportTraceServiceRequest,
) (*protoTrace.ExportTraceServiceResponse, error) {
	for _, resourceSpan := range req.ResourceSpans {
		serviceName := getServiceName(resourceSpan)
		if serviceName == "Never Assigned" {
			tss.logger.Warn("Service name not found in resource span")
		}

		typedSpans := getTypedSpans(resourceSpan)
		// spans underneath the same resource span may not share a trace id
		groupedSpans := groupTypedSpansByTraceID(typedSpans)
		for traceID, spans := range groupedSpans {
			err := tss.writeBehindCache.Put(traceID, spans)
			if err != nil {
				tss.logger.Error("Failed to put span in cache", zap.Error(err))
			}
		}
	}

	return &protoTrace.ExportTraceServiceResponse{}, nil
}

func getServiceName(resourceSpan *v1.ResourceSpans) string {
	var serviceName = "Never Assigned"
	if resourceSpan.Resource == nil {
		return serviceName
	}
	for _, attr := range resourceSpan.Resource.Attributes {
		if attr.Key == "service.name" {
			serviceName = attr.Value.GetStringValue()
		}
	}
	return serviceName
}

func getTypedSpans(resourceSpan *v1.ResourceSpans) []spanWithTraceID {
	var typedSpans []spanWithTraceID
	for _, libSpan := range resourceSpan.ScopeSpans {
		for _, span := range libSpan.Spans {
			typedSpans = append(typedSpans, getTypedSpan(span))
		}
	}
	return typedSpans
}

type spanWithTraceID struct {
	traceID uint64
	span    model.Span
}

func getTypedSpan(span *v1.Span) spanWithTraceID {
	startTime := time.Unix(0, int64(span.StartTimeUnixNano))
	// an unset or rewound end time would underflow; the encoder requires a
	// non-negative duration
	var duration time.Duration
	if span.EndTimeUnixNano > span.StartTimeUnixNano {
		duration = time.Duration(span.EndTimeUnixNano - span.StartTimeUnixNano)
	}
	httpInfo, sqlInfo, tags := splitAttributes(span)
	errorInfo := getErrorInfo(span)

	typedSpan := model.Span{
		ID:       idFromBytes(span.SpanId),
		ParentID: parentIDFromBytes(span.ParentSpanId),
		Name:     span.Name,
		Resource: getResource(span, tags),
		Type:     getSpanType(httpInfo, sqlInfo),
		Start:    startTime,
		Duration: duration,
		Error:    errorInfo,
		Http:     httpInfo,
		Sql:      sqlInfo,
		Tags:     tags,
	}
	return spanWithTraceID{
		traceID: traceIDFromBytes(span.TraceId),
		span:    typedSpan,
	}
}

// splitAttributes routes the semconv http.* and db.* attributes into their
// typed blocks and keeps everything else as free-form tags.
func splitAttributes(span *v1.Span) (*model.HttpInfo, *model.SqlInfo, map[string]string) {
	var httpInfo *model.HttpInfo
	var sqlInfo *model.SqlInfo
	tags := make(map[string]string)
	for _, attribute := range span.Attributes {
		value := attribute.Value.GetStringValue()
		switch attribute.Key {
		case "http.url", "http.target":
			httpInfo = ensureHttpInfo(httpInfo)
			httpInfo.URL = value
		case "http.method":
			httpInfo = ensureHttpInfo(httpInfo)
			httpInfo.Method = value
		case "http.status_code":
			httpInfo = ensureHttpInfo(httpInfo)
			httpInfo.StatusCode = value
		case "db.statement":
			sqlInfo = ensureSqlInfo(sqlInfo)
			sqlInfo.Query = value
		case "db.name":
			sqlInfo = ensureSqlInfo(sqlInfo)
			sqlInfo.DB = value
		case "db.rows_affected":
			sqlInfo = ensureSqlInfo(sqlInfo)
			sqlInfo.Rows = value
		default:
			tags[attribute.Key] = value
		}
	}
	return httpInfo, sqlInfo, tags
}

// getErrorInfo reads the exception event of a failed span, falling back to a
// bare block when the span status is an error without an exception event.
func getErrorInfo(span *v1.Span) *model.ErrorInfo {
	for _, event := range span.Events {
		if event.Name != "exception" {
			continue
		}
		errorInfo := &model.ErrorInfo{}
		for _, attribute := range event.Attributes {
			value := attribute.Value.GetStringValue()
			switch attribute.Key {
			case "exception.type":
				errorInfo.Type = value
			case "exception.message":
				errorInfo.Msg = value
			case "exception.stacktrace":
				errorInfo.Stack = value
			}
		}
		return errorInfo
	}
	if span.Status != nil && span.Status.Code == v1.Status_STATUS_CODE_ERROR {
		return &model.ErrorInfo{Msg: span.Status.Message}
	}
	return nil
}

func getResource(span *v1.Span, tags map[string]string) string {
	if resource, found := tags["resource.name"]; found {
		delete(tags, "resource.name")
		return resource
	}
	return span.Name
}

func getSpanType(httpInfo *model.HttpInfo, sqlInfo *model.SqlInfo) string {
	if sqlInfo != nil {
		return "sql"
	}
	if httpInfo != nil {
		return "web"
	}
	return "custom"
}

func ensureHttpInfo(httpInfo *model.HttpInfo) *model.HttpInfo {
	if httpInfo == nil {
		return &model.HttpInfo{}
	}
	return httpInfo
}

func ensureSqlInfo(sqlInfo *model.SqlInfo) *model.SqlInfo {
	if sqlInfo == nil {
		return &model.SqlInfo{}
	}
	return sqlInfo
}

func idFromBytes(id []byte) uint64 {
	if len(id) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(id[len(id)-8:])
}

func parentIDFromBytes(id []byte) *uint64 {
	if len(id) < 8 {
		return nil
	}
	parentID := binary.BigEndian.Uint64(id[len(id)-8:])
	if parentID == 0 {
		return nil
	}
	return &parentID
}

// traceIDFromBytes narrows the 16-byte OTLP trace id to the lower 64 bits the
// wire format carries.
func traceIDFromBytes(id []byte) uint64 {
	return idFromBytes(id)
}

func groupTypedSpansByTraceID(spans []spanWithTraceID) map[uint64][]model.Span {
	groupedSpans := make(map[uint64][]model.Span)
	for _, span := range spans {
		groupedSpans[span.traceID] = append(groupedSpans[span.traceID], span.span)
	}
	return groupedSpans
}
