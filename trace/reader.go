package trace

import (
	"errors"
	"io"

	"github.com/tinylib/msgp/msgp"
)

// Record is a decoded (type, raw-body-bytes) pair; callers that know
// the type decode the body into the matching *Body struct.
type Record struct {
	Type RecordType
	Body Decodable
}

type Decodable interface {
	DecodeMsg(dc *msgp.Reader) error
}

// Reader parses a trace stream record by record. It tolerates trailing
// truncation: a live trace being read while still being written stops
// mid-record, and ReadRecord returns io.EOF rather than an error in
// that case.
type Reader struct {
	r      io.Reader
	dc     *msgp.Reader
	Header Header
}

func NewReader(r io.Reader) (*Reader, error) {
	h, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, dc: msgp.NewReader(r), Header: h}, nil
}

// ReadRecord reads the next type byte and decodes the matching body.
// Unknown types are still type-tagged but their bodies cannot be
// decoded without a schema for them; ReadRecord skips such a body and
// returns the tagged Record with ErrUnknownRecordType, so callers
// upgrading a reader before a writer can treat it as a soft, skippable
// error per the forward-compatibility invariant.
var ErrUnknownRecordType = errors.New("trace: unknown record type")

func (t *Reader) ReadRecord() (Record, error) {
	// The type byte is read through the same buffered msgp reader as the
	// body, since that reader may already hold bytes past the last record.
	typByte, err := t.dc.R.ReadByte()
	if err != nil {
		return Record{}, err
	}
	typ := RecordType(typByte)
	body, err := newBody(typ)
	if err != nil {
		if skipErr := t.dc.Skip(); skipErr != nil {
			return Record{}, skipErr
		}
		return Record{Type: typ}, err
	}
	if err := body.DecodeMsg(t.dc); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, io.EOF
		}
		return Record{}, err
	}
	return Record{Type: typ, Body: body}, nil
}

func newBody(typ RecordType) (Decodable, error) {
	switch typ {
	case RecSessionInit:
		return &SessionInitBody{}, nil
	case RecProcessStart:
		return &ProcessStartBody{}, nil
	case RecProcessUpdate:
		return &ProcessUpdateBody{}, nil
	case RecProcessStop:
		return &ProcessStopBody{}, nil
	case RecFileTransferBegin, RecFileTransferSegment, RecFileTransferEnd:
		return &FileTransferBody{}, nil
	case RecCacheHit, RecCacheMiss:
		return &CacheResultBody{}, nil
	case RecActiveCountSample:
		return &ActiveCountSampleBody{}, nil
	case RecCpuMemSample:
		return &CpuMemSampleBody{}, nil
	case RecDriveSample:
		return &DriveSampleBody{}, nil
	case RecLog:
		return &LogBody{}, nil
	case RecSummary:
		return &SummaryBody{}, nil
	case RecProgress:
		return &ProgressBody{}, nil
	case RecStatus:
		return &StatusBody{}, nil
	default:
		return nil, ErrUnknownRecordType
	}
}
