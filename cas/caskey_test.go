/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cas

import (
	"bytes"
	"testing"
)

func TestHashBytesDeterministic(t *testing.T) {
	data := []byte("build-accelerator-fabric")
	k1 := HashBytes(data)
	k2 := HashBytes(data)
	if k1 != k2 {
		t.Fatalf("HashBytes is not deterministic: %s != %s", k1, k2)
	}
	if k1.IsZero() {
		t.Fatalf("HashBytes of non-empty input returned a zero key")
	}
}

func TestHashReaderMatchesHashBytes(t *testing.T) {
	data := []byte("some file contents to hash")
	want := HashBytes(data)
	got, n, err := HashReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HashReader: %v", err)
	}
	if n != int64(len(data)) {
		t.Fatalf("HashReader returned length %d, want %d", n, len(data))
	}
	if got != want {
		t.Fatalf("HashReader = %s, want %s", got, want)
	}
}

func TestParseCasKeyRoundTrip(t *testing.T) {
	k := HashBytes([]byte("roundtrip"))
	parsed, err := ParseCasKey(k.String())
	if err != nil {
		t.Fatalf("ParseCasKey: %v", err)
	}
	if parsed != k {
		t.Fatalf("ParseCasKey(%s) = %s, want %s", k, parsed, k)
	}
}

func TestParseCasKeyRejectsWrongLength(t *testing.T) {
	if _, err := ParseCasKey("deadbeef"); err == nil {
		t.Fatalf("ParseCasKey accepted a short hex string")
	}
	if _, err := ParseCasKey("not-hex-at-all"); err == nil {
		t.Fatalf("ParseCasKey accepted non-hex input")
	}
}

func TestCasKeyFlagsAreIndependent(t *testing.T) {
	k := HashBytes([]byte("flags"))
	if k.Compressed() || k.ViaProxy() {
		t.Fatalf("fresh hash carried flags: %s", k)
	}
	withBoth := k.WithCompressed(true).WithViaProxy(true)
	if !withBoth.Compressed() || !withBoth.ViaProxy() {
		t.Fatalf("WithCompressed/WithViaProxy did not set both flags")
	}
	compressedOnly := withBoth.WithViaProxy(false)
	if !compressedOnly.Compressed() || compressedOnly.ViaProxy() {
		t.Fatalf("clearing ViaProxy also cleared Compressed")
	}
}

func TestCasKeyCanonicalStripsFlagsNotHash(t *testing.T) {
	k := HashBytes([]byte("canonical"))
	flagged := k.WithCompressed(true).WithViaProxy(true)
	if flagged == k {
		t.Fatalf("setting flags did not change the key's byte representation")
	}
	if flagged.Canonical() != k {
		t.Fatalf("Canonical() did not strip flags back to the bare hash")
	}
}

func TestCasKeyContentEqualIgnoresFlags(t *testing.T) {
	k := HashBytes([]byte("content-equal"))
	a := k.WithCompressed(true)
	b := k.WithViaProxy(true)
	if a == b {
		t.Fatalf("test setup: a and b should differ in raw bytes")
	}
	if !a.ContentEqual(b) {
		t.Fatalf("ContentEqual returned false for keys differing only in flags")
	}
	other := HashBytes([]byte("different content"))
	if a.ContentEqual(other) {
		t.Fatalf("ContentEqual returned true for genuinely different content")
	}
}

func TestHashStringDeterministicAndDistinct(t *testing.T) {
	a := HashString("/repo/src/main.cpp")
	b := HashString("/repo/src/main.cpp")
	if a != b {
		t.Fatalf("HashString is not deterministic: %s != %s", a, b)
	}
	c := HashString("/repo/src/other.cpp")
	if a == c {
		t.Fatalf("HashString collided for distinct paths: %s", a)
	}
}
