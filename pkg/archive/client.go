package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/kestreltrace/kestrel/pkg/trace/encoder"
)

// SpanIndexName is the index holding archived wire records.
const SpanIndexName = "kestrel_raw_spans"

type RefreshRate string

const (
	// Wait for the changes made by the request to be made visible by a refresh before replying.
	Wait RefreshRate = "wait_for"
	// Immediate Refresh the relevant primary and replica shards (not the whole index) immediately after the operation occurs.
	Immediate RefreshRate = "true"
	// Async Take no refresh related actions. The changes made by this request will be made visible at some point after the request returns.
	Async RefreshRate = "false"
)

// ArchiveClient indexes encoded spans into Elasticsearch for local inspection.
type ArchiveClient interface {
	// BulkIndex indexes (inserts) multiple encoded spans in the same index
	// https://www.elastic.co/guide/en/elasticsearch/reference/master/docs-bulk.html
	BulkIndex(ctx context.Context, spans []encoder.RawSpan, index string) error
}

type ArchiveClientImpl struct {
	es          *elasticsearch.Client
	refreshRate string
}

func NewArchiveClientImpl(es *elasticsearch.Client, refreshRate RefreshRate) *ArchiveClientImpl {
	return &ArchiveClientImpl{es: es, refreshRate: string(refreshRate)}
}

func (a *ArchiveClientImpl) BulkIndex(
	ctx context.Context,
	spans []encoder.RawSpan,
	index string,
) error {
	var buf bytes.Buffer
	meta := []byte(`{"index":{}}`)
	for _, span := range spans {
		dataJSON, err := json.Marshal(span)
		if err != nil {
			return fmt.Errorf("error marshaling span to bulk index: %w", err)
		}
		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(dataJSON)
		buf.WriteByte('\n')
	}

	res, err := a.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		a.es.Bulk.WithIndex(index),
		a.es.Bulk.WithContext(ctx),
		a.es.Bulk.WithRefresh(a.refreshRate),
	)
	if err != nil {
		return fmt.Errorf("error bulk indexing: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk index error: %s", res.String())
	}
	return nil
}
