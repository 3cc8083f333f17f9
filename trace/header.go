package trace

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Header is the fixed-width prefix of every trace, binary (not
// msgpack) because the reader must be able to validate version
// compatibility before it knows how to decode anything else:
// [u32 version][u64 frequency][u64 systemStartTimeMicros][u16 block length][16-byte session-id block].
type Header struct {
	Version               uint32
	Frequency             uint64 // timestamp ticks per second used by record deltas
	SystemStartTimeMicros uint64
	SessionIDBlock        [16]byte // first 16 bytes of the session GUID
}

const headerSize = 4 + 8 + 8 + 2 + 16 // version+frequency+start+blocklen+block

func (h Header) Encode(w io.Writer) error {
	buf := make([]byte, 0, headerSize)
	buf = binary.BigEndian.AppendUint32(buf, h.Version)
	buf = binary.BigEndian.AppendUint64(buf, h.Frequency)
	buf = binary.BigEndian.AppendUint64(buf, h.SystemStartTimeMicros)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(h.SessionIDBlock)))
	buf = append(buf, h.SessionIDBlock[:]...)
	_, err := w.Write(buf)
	return err
}

func DecodeHeader(r io.Reader) (Header, error) {
	var h Header
	fixed := make([]byte, 4+8+8+2)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return h, err
	}
	h.Version = binary.BigEndian.Uint32(fixed[0:4])
	h.Frequency = binary.BigEndian.Uint64(fixed[4:12])
	h.SystemStartTimeMicros = binary.BigEndian.Uint64(fixed[12:20])
	blockLen := binary.BigEndian.Uint16(fixed[20:22])
	if blockLen > 16 {
		return h, fmt.Errorf("trace: session-id block too long: %d", blockLen)
	}
	block := make([]byte, blockLen)
	if _, err := io.ReadFull(r, block); err != nil {
		return h, err
	}
	copy(h.SessionIDBlock[:], block)
	if h.Version < TraceReadCompatibilityVersion {
		return h, fmt.Errorf("trace: version %d older than read-compatibility floor %d", h.Version, TraceReadCompatibilityVersion)
	}
	return h, nil
}
