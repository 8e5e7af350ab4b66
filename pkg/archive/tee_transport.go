package archive

import (
	"context"

	"github.com/kestreltrace/kestrel/pkg/trace/encoder"
	"github.com/kestreltrace/kestrel/pkg/transport"
)

// TeeTransport copies every encoded span into the archive buffer before
// forwarding the batch to the wrapped transport. Archiving is best-effort and
// never fails a delivery.
type TeeTransport struct {
	next   transport.Transport
	buffer SpanWriteBuffer
}

func NewTeeTransport(next transport.Transport, buffer SpanWriteBuffer) *TeeTransport {
	return &TeeTransport{next: next, buffer: buffer}
}

func (tt *TeeTransport) Send(ctx context.Context, traces []encoder.RawTrace) error {
	for _, rawTrace := range traces {
		tt.buffer.WriteToBuffer(rawTrace)
	}
	return tt.next.Send(ctx, traces)
}
