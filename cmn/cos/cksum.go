package cos

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/cespare/xxhash/v2"
)

const (
	ChecksumXXHash = "xxhash"
	ChecksumSHA256 = "sha256"
	ChecksumNone   = "none"
)

// Cksum pairs a checksum type tag with its hex-encoded value, the same
// (type, value) shape carried in CAS entries and in jsp-persisted files.
type Cksum struct {
	ty    string
	value string
}

func NewCksum(ty, value string) *Cksum { return &Cksum{ty: ty, value: value} }

func (c *Cksum) Type() string  { return c.ty }
func (c *Cksum) Value() string { return c.value }

func (c *Cksum) Equal(o *Cksum) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.ty == o.ty && c.value == o.value
}

func (c *Cksum) String() string {
	if c == nil {
		return "cksum[nil]"
	}
	return fmt.Sprintf("%s[%s]", c.ty, c.value)
}

// ErrBadCksum is returned by jsp.Decode and CAS validation when the stored
// checksum does not match the recomputed one.
type ErrBadCksum struct {
	Expected *Cksum
	Actual   *Cksum
}

func (e *ErrBadCksum) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

func (e *ErrBadCksum) Is(target error) bool {
	_, ok := target.(*ErrBadCksum)
	return ok
}

func NewCksumHash(ty string) (hash.Hash, error) {
	switch ty {
	case ChecksumXXHash:
		return xxhash.New(), nil
	case ChecksumSHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum type %q", ty)
	}
}

func ChecksumBytes(ty string, b []byte) (*Cksum, error) {
	h, err := NewCksumHash(ty)
	if err != nil {
		return nil, err
	}
	_, _ = h.Write(b)
	return NewCksum(ty, hex.EncodeToString(h.Sum(nil))), nil
}
