package session

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/uba-build/uba/fs"
)

// EncodeStartInfo packs everything a helper needs to actually run a
// process into the GetNextProcess reply body: argv, working directory,
// environment delta, roots handle, weight, and the tracked-inputs hints
// the detour runtime seeds up front. The wire size is small relative to
// one process's file traffic, so this favors a simple flat encoding
// over anything more compact.
func EncodeStartInfo(info StartInfo) []byte {
	buf := make([]byte, 0, 256)
	buf = appendUint32(buf, info.ProcessID)
	buf = appendStrings(buf, info.Argv)
	buf = appendString(buf, info.WorkingDir)
	buf = appendUint32(buf, uint32(len(info.EnvDelta)))
	for k, v := range info.EnvDelta {
		buf = appendString(buf, k)
		buf = appendString(buf, v)
	}
	buf = appendUint32(buf, info.RootsHandleID)
	bits := make([]byte, 8)
	binary.BigEndian.PutUint64(bits, math.Float64bits(info.Weight))
	buf = append(buf, bits...)
	buf = appendStrings(buf, info.TrackedHints)
	buf = appendString(buf, info.CacheBucketID)
	flags := byte(0)
	if info.CanDetour {
		flags |= 1
	}
	if info.CanExecRemote {
		flags |= 2
	}
	buf = append(buf, flags)
	return buf
}

// DecodeStartInfo is the inverse of EncodeStartInfo.
func DecodeStartInfo(b []byte) (StartInfo, error) {
	r := wireReader{b: b}
	info := decodeStartInfoFrom(&r)
	if r.err != nil {
		return StartInfo{}, r.err
	}
	return info, nil
}

// decodeStartInfoFrom reads one StartInfo off a shared cursor, letting
// a multi-node message (a whole submitted graph) decode sequentially
// without slicing each node's bytes out ahead of time.
func decodeStartInfoFrom(r *wireReader) StartInfo {
	var info StartInfo
	info.ProcessID = r.uint32()
	info.Argv = r.strings()
	info.WorkingDir = r.string()
	n := r.uint32()
	if n > 0 {
		info.EnvDelta = make(map[string]string, n)
		for i := uint32(0); i < n; i++ {
			k := r.string()
			v := r.string()
			info.EnvDelta[k] = v
		}
	}
	info.RootsHandleID = r.uint32()
	info.Weight = math.Float64frombits(r.uint64())
	info.TrackedHints = r.strings()
	info.CacheBucketID = r.string()
	flags := r.byte()
	info.CanDetour = flags&1 != 0
	info.CanExecRemote = flags&2 != 0
	return info
}

// GraphSubmitNode is one yaml-authored node in a build graph submitted
// by the CLI: dependencies are expressed as indexes into the same
// submission rather than host-assigned process ids, since the CLI
// can't know those ahead of the round trip.
type GraphSubmitNode struct {
	Info          StartInfo
	Dependencies  []uint32 // indexes into the same submission
	CacheBucketID string
	CanDetour     bool
	CanExecRemote bool
	WriteToCache  bool
}

// EncodeGraphSubmit packs an entire build graph into one message body;
// the host assigns real process ids and remaps the index-based
// dependencies in one pass before enqueuing.
func EncodeGraphSubmit(nodes []GraphSubmitNode) []byte {
	buf := appendUint32(nil, uint32(len(nodes)))
	for _, n := range nodes {
		buf = append(buf, EncodeStartInfo(n.Info)...)
		buf = appendUint32(buf, uint32(len(n.Dependencies)))
		for _, d := range n.Dependencies {
			buf = appendUint32(buf, d)
		}
		buf = appendString(buf, n.CacheBucketID)
		flags := byte(0)
		if n.CanDetour {
			flags |= 1
		}
		if n.CanExecRemote {
			flags |= 2
		}
		if n.WriteToCache {
			flags |= 4
		}
		buf = append(buf, flags)
	}
	return buf
}

// DecodeGraphSubmit is the inverse of EncodeGraphSubmit. Because
// EncodeStartInfo has no fixed length, nodes are decoded sequentially
// off a shared cursor rather than sliced up front.
func DecodeGraphSubmit(b []byte) ([]GraphSubmitNode, error) {
	r := wireReader{b: b}
	count := r.uint32()
	nodes := make([]GraphSubmitNode, count)
	for i := range nodes {
		nodes[i].Info = decodeStartInfoFrom(&r)
		depCount := r.uint32()
		if depCount > 0 {
			nodes[i].Dependencies = make([]uint32, depCount)
			for j := range nodes[i].Dependencies {
				nodes[i].Dependencies[j] = r.uint32()
			}
		}
		nodes[i].CacheBucketID = r.string()
		flags := r.byte()
		nodes[i].CanDetour = flags&1 != 0
		nodes[i].CanExecRemote = flags&2 != 0
		nodes[i].WriteToCache = flags&4 != 0
	}
	if r.err != nil {
		return nil, r.err
	}
	return nodes, nil
}

// EncodeDirEntry/DecodeDirEntry wire a directory table row for the
// GetDirectoriesFromServer/ListDirectory round trip. PathKey is not sent:
// the receiving helper recomputes it from Path with cas.HashString so
// the wire format doesn't depend on the hashing scheme staying frozen.
func EncodeDirEntry(e DirEntry) []byte {
	buf := appendString(nil, e.Path)
	flags := byte(0)
	if e.Exists {
		flags |= 1
	}
	buf = append(buf, flags)
	buf = appendUint32(buf, e.Attributes)
	bits := make([]byte, 8)
	binary.BigEndian.PutUint64(bits, uint64(e.Size))
	buf = append(buf, bits...)
	binary.BigEndian.PutUint64(bits, uint64(e.ModTime))
	buf = append(buf, bits...)
	buf = appendStrings(buf, e.Files)
	buf = appendStrings(buf, e.SubDirs)
	return buf
}

func DecodeDirEntry(b []byte) (DirEntry, error) {
	r := wireReader{b: b}
	path := r.string()
	flags := r.byte()
	attrs := r.uint32()
	size := int64(r.uint64())
	modTime := int64(r.uint64())
	files := r.strings()
	subDirs := r.strings()
	if r.err != nil {
		return DirEntry{}, r.err
	}
	e := NewDirEntry(path)
	e.Exists = flags&1 != 0
	e.Attributes = attrs
	e.Size = size
	e.ModTime = modTime
	e.Files = files
	e.SubDirs = subDirs
	return e, nil
}

// EncodeRootsHandle/DecodeRootsHandle wire the MsgGetRoots reply: the
// ordered virtual/local prefix pairs a helper needs to devirtualize
// paths for processes launched under this roots handle.
func EncodeRootsHandle(h *fs.RootsHandle) []byte {
	roots := h.Roots()
	buf := appendUint32(nil, h.ID())
	buf = appendUint32(buf, uint32(len(roots)))
	for _, r := range roots {
		buf = appendString(buf, r.Virtual)
		buf = appendString(buf, r.Local)
	}
	return buf
}

func DecodeRootsHandle(b []byte) (id uint32, roots []fs.Root, err error) {
	r := wireReader{b: b}
	id = r.uint32()
	n := r.uint32()
	roots = make([]fs.Root, n)
	for i := range roots {
		roots[i].Virtual = r.string()
		roots[i].Local = r.string()
	}
	if r.err != nil {
		return 0, nil, r.err
	}
	return id, roots, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendStrings(buf []byte, ss []string) []byte {
	buf = appendUint32(buf, uint32(len(ss)))
	for _, s := range ss {
		buf = appendString(buf, s)
	}
	return buf
}

type wireReader struct {
	b   []byte
	pos int
	err error
}

func (r *wireReader) need(n int) bool {
	if r.err != nil || r.pos+n > len(r.b) {
		if r.err == nil {
			r.err = fmt.Errorf("session: wire read past end (want %d, have %d)", n, len(r.b)-r.pos)
		}
		return false
	}
	return true
}

func (r *wireReader) byte() byte {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.pos]
	r.pos++
	return v
}

func (r *wireReader) uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v
}

func (r *wireReader) uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.b[r.pos:])
	r.pos += 8
	return v
}

func (r *wireReader) string() string {
	n := r.uint32()
	if !r.need(int(n)) {
		return ""
	}
	s := string(r.b[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s
}

func (r *wireReader) strings() []string {
	n := r.uint32()
	if n == 0 {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = r.string()
	}
	return out
}
