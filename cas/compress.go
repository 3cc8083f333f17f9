package cas

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v3"
)

// BlockSize bounds each compressed block to the same 256KiB ceiling the
// network layer uses for frame bodies, so a compressed CAS blob can be
// streamed segment-by-segment without decompressing the whole thing.
const BlockSize = 256 * 1024

// CompressedFileHeader is the fixed prefix of every on-disk CAS blob: the
// content's canonical key, so a blob can be validated or reconstructed
// without consulting the table, followed (outside this struct, by
// CompressBlocks) by a u64 decompressed size. Together they make the
// blob self-describing.
type CompressedFileHeader struct {
	RawKey CasKey
}

// HeaderSize is CompressedFileHeader's encoded size plus the trailing
// u64 decompressed-size field that follows it in the blob.
const HeaderSize = KeySize + 8

// CompressBlocks splits raw into BlockSize chunks and lz4-compresses each
// independently, prefixing every block with its compressed and
// decompressed lengths so a reader can skip or validate block-by-block.
// The returned byte stream opens with a CompressedFileHeader carrying
// rawKey (canonicalized) and the u64 length of raw, making the blob
// self-describing: a reader never needs the table to decompress it.
func CompressBlocks(rawKey CasKey, raw []byte) ([]byte, error) {
	var out bytes.Buffer
	hdrKey := rawKey.Canonical()
	out.Write(hdrKey[:])
	var sizeField [8]byte
	binary.LittleEndian.PutUint64(sizeField[:], uint64(len(raw)))
	out.Write(sizeField[:])
	for off := 0; off < len(raw); off += BlockSize {
		end := off + BlockSize
		if end > len(raw) {
			end = len(raw)
		}
		block := raw[off:end]
		compressed := make([]byte, lz4.CompressBlockBound(len(block)))
		var ht [1 << 16]int
		n, err := lz4.CompressBlock(block, compressed, ht[:])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// incompressible; store raw, marked by a compressed length equal to the raw length
			var hdr [8]byte
			binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(block)))
			binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(block)))
			out.Write(hdr[:])
			out.Write(block)
			continue
		}
		var hdr [8]byte
		binary.LittleEndian.PutUint32(hdr[0:4], uint32(n))
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(block)))
		out.Write(hdr[:])
		out.Write(compressed[:n])
	}
	return out.Bytes(), nil
}

// DecompressBlocks reverses CompressBlocks: it reads the
// CompressedFileHeader and decompressed-size prefix from compressed
// itself rather than trusting an externally supplied size, and
// validates that the total decompressed length matches that prefix.
func DecompressBlocks(compressed []byte) ([]byte, CompressedFileHeader, error) {
	var hdr CompressedFileHeader
	if len(compressed) < HeaderSize {
		return nil, hdr, fmt.Errorf("compressed blob too short for header: %d bytes", len(compressed))
	}
	copy(hdr.RawKey[:], compressed[:KeySize])
	rawSize := int64(binary.LittleEndian.Uint64(compressed[KeySize:HeaderSize]))
	if rawSize < 0 || rawSize > int64(len(compressed)-HeaderSize)/8*BlockSize {
		return nil, hdr, fmt.Errorf("decompressed size prefix %d inconsistent with blob length %d", rawSize, len(compressed))
	}

	out := make([]byte, 0, rawSize)
	r := bytes.NewReader(compressed[HeaderSize:])
	for r.Len() > 0 {
		var blkHdr [8]byte
		if _, err := io.ReadFull(r, blkHdr[:]); err != nil {
			return nil, hdr, err
		}
		compLen := binary.LittleEndian.Uint32(blkHdr[0:4])
		rawLen := binary.LittleEndian.Uint32(blkHdr[4:8])
		if rawLen > BlockSize || int64(compLen) > int64(r.Len()) {
			return nil, hdr, fmt.Errorf("corrupt block header: compressed %d, raw %d", compLen, rawLen)
		}
		buf := make([]byte, compLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, hdr, err
		}
		if compLen == rawLen {
			out = append(out, buf...)
			continue
		}
		dst := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(buf, dst)
		if err != nil {
			return nil, hdr, err
		}
		if uint32(n) != rawLen {
			return nil, hdr, fmt.Errorf("lz4 block size mismatch: got %d want %d", n, rawLen)
		}
		out = append(out, dst...)
	}
	if int64(len(out)) != rawSize {
		return nil, hdr, fmt.Errorf("decompressed size mismatch: got %d want %d", len(out), rawSize)
	}
	return out, hdr, nil
}
