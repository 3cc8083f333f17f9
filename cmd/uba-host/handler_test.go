package main

import (
	"encoding/binary"
	"testing"

	"github.com/uba-build/uba/cas"
)

func TestDecodeOutputKeysEmpty(t *testing.T) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, 0)
	keys, err := decodeOutputKeys(buf)
	if err != nil {
		t.Fatalf("decodeOutputKeys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("decodeOutputKeys = %v, want empty", keys)
	}
}

func TestDecodeOutputKeysTooShortHeader(t *testing.T) {
	keys, err := decodeOutputKeys([]byte{1, 2})
	if err != nil {
		t.Fatalf("decodeOutputKeys with <4 bytes should return (nil, nil), got err=%v", err)
	}
	if keys != nil {
		t.Fatalf("decodeOutputKeys with <4 bytes = %v, want nil", keys)
	}
}

func TestDecodeOutputKeysRoundTrip(t *testing.T) {
	k1 := cas.HashBytes([]byte("one"))
	k2 := cas.HashBytes([]byte("two"))

	buf := make([]byte, 4+2*cas.KeySize)
	binary.BigEndian.PutUint32(buf, 2)
	copy(buf[4:], k1[:])
	copy(buf[4+cas.KeySize:], k2[:])

	keys, err := decodeOutputKeys(buf)
	if err != nil {
		t.Fatalf("decodeOutputKeys: %v", err)
	}
	if len(keys) != 2 || keys[0] != k1 || keys[1] != k2 {
		t.Fatalf("decodeOutputKeys = %v, want [%v %v]", keys, k1, k2)
	}
}

func TestDecodeOutputKeysRejectsShortBlock(t *testing.T) {
	buf := make([]byte, 4+cas.KeySize-1)
	binary.BigEndian.PutUint32(buf, 1)
	if _, err := decodeOutputKeys(buf); err == nil {
		t.Fatalf("decodeOutputKeys accepted a block shorter than count*KeySize")
	}
}

func encodeTwoStrings(a, b string) []byte {
	buf := make([]byte, 0, 8+len(a)+len(b))
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(a)))
	buf = append(buf, n[:]...)
	buf = append(buf, a...)
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	buf = append(buf, n[:]...)
	buf = append(buf, b...)
	return buf
}

func TestDecodeTwoStringsRoundTrip(t *testing.T) {
	src, dest, err := decodeTwoStrings(encodeTwoStrings("/src/a.h", "/src/b.h"))
	if err != nil {
		t.Fatalf("decodeTwoStrings: %v", err)
	}
	if src != "/src/a.h" || dest != "/src/b.h" {
		t.Fatalf("decodeTwoStrings = %q, %q", src, dest)
	}
}

func TestDecodeTwoStringsRejectsTruncatedBody(t *testing.T) {
	full := encodeTwoStrings("/src/a.h", "/src/b.h")
	if _, _, err := decodeTwoStrings(full[:len(full)-2]); err == nil {
		t.Fatalf("decodeTwoStrings accepted a truncated second string")
	}
	if _, _, err := decodeTwoStrings([]byte{1, 2, 3}); err == nil {
		t.Fatalf("decodeTwoStrings accepted a body shorter than the first length prefix")
	}
}
