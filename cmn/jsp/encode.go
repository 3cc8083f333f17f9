package jsp

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/uba-build/uba/cmn/cos"
)

var magic = [7]byte{'u', 'b', 'a', 'j', 's', 'p', 0}

// Encode writes v to w, optionally prefixed with a fixed-size signature
// header (magic + version + checksum) so Decode can validate the file
// before trusting its contents. Mirrors the on-disk layout of a jsp file:
// [ signature | jsp ver | body checksum ] followed by the JSON body.
func Encode(w io.Writer, v interface{}, opts Options) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if !opts.Signature {
		_, err = w.Write(body)
		return err
	}
	var hdr bytes.Buffer
	hdr.Write(magic[:])
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(Metaver))
	if opts.Checksum {
		ck, cerr := cos.ChecksumBytes(cos.ChecksumXXHash, body)
		if cerr != nil {
			return cerr
		}
		hdr.WriteString(ck.Value())
		hdr.WriteByte(0)
	}
	if _, err = w.Write(hdr.Bytes()); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// Decode reads a jsp-encoded file written by Encode, validating the
// signature header and checksum when present. Returns *cos.ErrBadCksum
// on mismatch so callers (jsp.Load) can special-case a corrupt file.
func Decode(r io.Reader, v interface{}, opts Options, tag string) (*cos.Cksum, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !opts.Signature {
		return nil, json.Unmarshal(raw, v)
	}
	if len(raw) < len(magic)+4 {
		return nil, &ProtoError{tag: tag, msg: "truncated jsp header"}
	}
	if !bytes.Equal(raw[:len(magic)], magic[:]) {
		return nil, &ProtoError{tag: tag, msg: "bad jsp signature"}
	}
	off := len(magic)
	ver := binary.LittleEndian.Uint32(raw[off : off+4])
	off += 4
	_ = ver

	var stored *cos.Cksum
	if opts.Checksum {
		end := bytes.IndexByte(raw[off:], 0)
		if end < 0 {
			return nil, &ProtoError{tag: tag, msg: "bad jsp checksum field"}
		}
		stored = cos.NewCksum(cos.ChecksumXXHash, string(raw[off:off+end]))
		off += end + 1
	}
	body := raw[off:]
	if stored != nil {
		actual, cerr := cos.ChecksumBytes(cos.ChecksumXXHash, body)
		if cerr != nil {
			return nil, cerr
		}
		if !stored.Equal(actual) {
			return nil, &cos.ErrBadCksum{Expected: stored, Actual: actual}
		}
	}
	return stored, json.Unmarshal(body, v)
}

// ProtoError flags a malformed jsp file header; distinct from
// cos.ErrBadCksum so callers can tell "not a jsp file" from "corrupt jsp file".
type ProtoError struct {
	tag string
	msg string
}

func (e *ProtoError) Error() string { return e.tag + ": " + e.msg }
