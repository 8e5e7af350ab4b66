package model

import "time"

// Trace is an identified, prioritized, ordered collection of spans representing
// one end-to-end operation. Spans are kept in creation order.
type Trace struct {
	ID       uint64
	Priority int32
	Spans    []Span
}

// Span is a single timed operation within a trace. The typed blocks (Http, Sql,
// Error) are independent of one another; a span may carry any combination.
type Span struct {
	ID       uint64
	ParentID *uint64 // nil for root spans
	Name     string
	Resource string
	Type     string // span category, e.g. "web", "sql"
	Start    time.Time
	Duration time.Duration
	Error    *ErrorInfo
	Http     *HttpInfo
	Sql      *SqlInfo
	Tags     map[string]string
}

type ErrorInfo struct {
	Type  string
	Msg   string
	Stack string
}

type HttpInfo struct {
	URL        string
	Method     string
	StatusCode string
}

type SqlInfo struct {
	Query string
	Rows  string
	DB    string
}
