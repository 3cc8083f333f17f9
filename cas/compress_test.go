package cas

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	cases := map[string][]byte{
		"empty":              {},
		"small-compressible": bytes.Repeat([]byte("aaaaaaaaaa"), 100),
		"multi-block":        bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 10000),
	}
	rng := rand.New(rand.NewSource(1))
	randomBlock := make([]byte, BlockSize+17)
	rng.Read(randomBlock)
	cases["incompressible-random"] = randomBlock

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			key := HashBytes(raw)
			compressed, err := CompressBlocks(key, raw)
			if err != nil {
				t.Fatalf("CompressBlocks: %v", err)
			}
			got, hdr, err := DecompressBlocks(compressed)
			if err != nil {
				t.Fatalf("DecompressBlocks: %v", err)
			}
			if !bytes.Equal(got, raw) {
				t.Fatalf("round trip mismatch for %s: got %d bytes, want %d bytes", name, len(got), len(raw))
			}
			if hdr.RawKey != key.Canonical() {
				t.Fatalf("header key = %s, want %s", hdr.RawKey, key.Canonical())
			}
		})
	}
}

func TestDecompressBlocksRejectsSizeMismatch(t *testing.T) {
	raw := bytes.Repeat([]byte("x"), 1000)
	key := HashBytes(raw)
	compressed, err := CompressBlocks(key, raw)
	if err != nil {
		t.Fatalf("CompressBlocks: %v", err)
	}
	// corrupt the embedded size prefix so it no longer matches the blocks
	binary.LittleEndian.PutUint64(compressed[KeySize:HeaderSize], uint64(len(raw)+1))
	if _, _, err := DecompressBlocks(compressed); err == nil {
		t.Fatalf("DecompressBlocks accepted a corrupted size prefix")
	}
}

func TestDecompressBlocksRejectsTruncatedHeader(t *testing.T) {
	if _, _, err := DecompressBlocks([]byte{1, 2, 3}); err == nil {
		t.Fatalf("DecompressBlocks accepted a blob shorter than the header")
	}
}
