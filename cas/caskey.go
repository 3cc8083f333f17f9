// Package cas implements content-addressed storage: streaming blake2b
// hashing of raw bytes, lz4 block compression with the raw hash kept in
// the header so a reader can validate the decompressed stream
// independently, LRU capacity eviction, and singleflight fetch
// coalescing for concurrent callers of the same key.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cas

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	xxhash1 "github.com/OneOfOne/xxhash"
	xxhash2 "github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// RawHashSize is the number of content-hash bytes carried in a CasKey;
// the remaining byte is the flag byte, per the spec's "19-byte hash
// plus one flag byte" layout.
const RawHashSize = 19

const KeySize = RawHashSize + 1 // 20 bytes total

// Flag bits packed into a CasKey's trailing byte. These are transient,
// per-transfer metadata, not part of the blob's content identity: two
// keys differing only in flags address the same stored bytes (see
// ContentEqual).
const (
	FlagCompressed byte = 1 << 0 // the blob was delivered/stored lz4-compressed
	FlagViaProxy   byte = 1 << 2 // this copy was relayed through a zone proxy
)

// CasKey is the content hash identifying a blob: 19 bytes of hash plus
// one flag byte. The all-zero key is reserved (see IsZero); a disallowed
// key is marked by a flag on its table Entry, not by the key value.
type CasKey [KeySize]byte

func (k CasKey) String() string { return hex.EncodeToString(k[:]) }

func (k CasKey) IsZero() bool { return k == CasKey{} }

// Flags returns the trailing flag byte.
func (k CasKey) Flags() byte { return k[RawHashSize] }

func (k CasKey) Compressed() bool { return k.Flags()&FlagCompressed != 0 }

func (k CasKey) ViaProxy() bool { return k.Flags()&FlagViaProxy != 0 }

func (k CasKey) withFlag(bit byte, set bool) CasKey {
	out := k
	if set {
		out[RawHashSize] |= bit
	} else {
		out[RawHashSize] &^= bit
	}
	return out
}

func (k CasKey) WithCompressed(v bool) CasKey { return k.withFlag(FlagCompressed, v) }

func (k CasKey) WithViaProxy(v bool) CasKey { return k.withFlag(FlagViaProxy, v) }

// Canonical zeroes the flag byte, giving the key used to address
// storage: the content identity, independent of how a particular copy
// arrived or is currently stored.
func (k CasKey) Canonical() CasKey { return k.withFlag(FlagCompressed|FlagViaProxy, false) }

// ContentEqual compares two keys ignoring their transient flag bytes,
// per the spec's "equality ignores transient flags" rule.
func (k CasKey) ContentEqual(other CasKey) bool { return k.Canonical() == other.Canonical() }

func ParseCasKey(s string) (CasKey, error) {
	var k CasKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, err
	}
	if len(b) != KeySize {
		return k, fmt.Errorf("cas key must be %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// HashReader streams r through blake2b, returning the raw (always
// uncompressed-content) key regardless of whether the blob is later
// stored compressed. The flag byte of the returned key is always zero;
// callers attach transfer-specific flags with WithCompressed/WithViaProxy.
func HashReader(r io.Reader) (CasKey, int64, error) {
	h, err := blake2b.New(RawHashSize, nil)
	if err != nil {
		return CasKey{}, 0, err
	}
	n, err := io.Copy(h, r)
	if err != nil {
		return CasKey{}, 0, err
	}
	var k CasKey
	copy(k[:RawHashSize], h.Sum(nil))
	return k, n, nil
}

func HashBytes(b []byte) CasKey {
	h, err := blake2b.New(RawHashSize, nil)
	if err != nil {
		panic(err) // RawHashSize is a compile-time constant within blake2b's supported range
	}
	h.Write(b)
	var k CasKey
	copy(k[:RawHashSize], h.Sum(nil))
	return k
}

// StringKey hashes a path for the session mirror tables (directory and
// name-to-hash lookups key on the path string, not its content). Two
// independent 64-bit digests are concatenated rather than truncating a
// single wider hash, so a collision requires both algorithms to agree.
type StringKey [16]byte

func (k StringKey) String() string { return hex.EncodeToString(k[:]) }

func HashString(s string) StringKey {
	var k StringKey
	binary.BigEndian.PutUint64(k[:8], xxhash1.ChecksumString64(s))
	binary.BigEndian.PutUint64(k[8:], xxhash2.Sum64String(s))
	return k
}
