package trace

import (
	"io"

	"github.com/tinylib/msgp/msgp"

	"github.com/uba-build/uba/cmn/nlog"
)

// Encodable is any record body above.
type Encodable interface {
	EncodeMsg(en *msgp.Writer) error
}

// Writer appends [type][msgpack body] records to an underlying stream:
// a file for a file-backed trace, or a live network/shared-memory
// connection for the visualizer to follow in real time.
type Writer struct {
	w  io.Writer
	en *msgp.Writer
}

func NewWriter(w io.Writer, h Header) (*Writer, error) {
	if err := h.Encode(w); err != nil {
		return nil, err
	}
	return &Writer{w: w, en: msgp.NewWriter(w)}, nil
}

func (t *Writer) WriteRecord(typ RecordType, body Encodable) error {
	if _, err := t.w.Write([]byte{byte(typ)}); err != nil {
		return err
	}
	if err := body.EncodeMsg(t.en); err != nil {
		return err
	}
	return t.en.Flush()
}

// Flush is exposed so callers can force a live trace to become visible
// to a concurrently-reading visualizer without waiting on the next
// record.
func (t *Writer) Flush() error { return t.en.Flush() }

// Close flushes and, if the underlying writer is closeable, closes it.
func (t *Writer) Close() error {
	if err := t.en.Flush(); err != nil {
		nlog.Warningln("trace: flush on close failed:", err)
	}
	if c, ok := t.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
