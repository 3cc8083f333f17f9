package session

import (
	"fmt"
	"time"

	cuckoofilter "github.com/seiflotfy/cuckoofilter"

	"github.com/uba-build/uba/cas"
)

// DetourStats is the binary stats blob a helper ships after a process
// exits: per-detour counters, storage stats, kernel stats, and optional
// cache stats when the process was cache-eligible.
type DetourStats struct {
	FileOpens      uint64
	FileReads      uint64
	FileWrites     uint64
	BytesFetched   uint64
	BytesStored    uint64
	KernelUserMS   uint64
	KernelKernelMS uint64
	CacheHit       bool
}

// Helper runs the remote side of the protocol: it pulls processes,
// resolves files the detoured process opens through its mirror tables
// (round-tripping to the host on miss), materializes them through CAS,
// and reports the outcome.
type Helper struct {
	Mirrors *MirrorTables
	Store   *cas.Store

	// HostCalls abstracts the network round trips to the host so the
	// execution loop can be tested without a live connection.
	HostCalls HostCaller

	// notFound is a probabilistic membership check: once a path's host
	// round trip fails, it's added here so a detoured process re-opening
	// the same missing header doesn't pay for another round trip. A hit
	// here makes ResolveFile return an error without calling the host, so
	// a false positive reports a path missing that the host might have.
	notFound *cuckoofilter.Filter
}

// HostCaller is everything a helper needs from the host over the wire;
// a network.Client-backed implementation lives in cmd/uba-helper.
type HostCaller interface {
	GetFileFromServer(path string) (cas.CasKey, error)
	GetDirectoriesFromServer(path string) (DirEntry, error)
	GetNameToHashFromServer(path string) (cas.CasKey, error)
	SendFileToServer(localPath string, key cas.CasKey) error
}

func NewHelper(store *cas.Store, hc HostCaller) *Helper {
	return &Helper{
		Mirrors:   NewMirrorTables(),
		Store:     store,
		HostCalls: hc,
		notFound:  cuckoofilter.NewFilter(1 << 16),
	}
}

// ResolveFile answers the detour runtime's "what is this file" query:
// mirror table hit first, host round trip on miss, then materialize
// through CAS rather than streaming the bytes ad hoc.
func (h *Helper) ResolveFile(path, destPath string) error {
	if key, ok := h.Mirrors.LookupHash(path); ok {
		return h.Store.CopyOrLink(key, destPath, 0o644)
	}
	if h.notFound.Lookup([]byte(path)) {
		return fmt.Errorf("resolve %s: previously reported missing by host", path)
	}
	key, err := h.HostCalls.GetFileFromServer(path)
	if err != nil {
		h.notFound.Insert([]byte(path))
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	_, hashPos := h.Mirrors.Positions()
	h.Mirrors.ApplyHashes([]NameHashEntry{NewNameHashEntry(path, key, time.Now())}, hashPos+1)
	return h.Store.CopyOrLink(key, destPath, 0o644)
}

// ResolveDirectory answers a directory listing query, consulting the
// mirror table before a GetDirectoriesFromServer round trip.
func (h *Helper) ResolveDirectory(path string) (DirEntry, error) {
	if e, ok := h.Mirrors.LookupDir(path); ok {
		return e, nil
	}
	e, err := h.HostCalls.GetDirectoriesFromServer(path)
	if err != nil {
		return DirEntry{}, err
	}
	dirPos, _ := h.Mirrors.Positions()
	h.Mirrors.ApplyDirs([]DirEntry{e}, dirPos+1)
	return e, nil
}

// ShipOutputs sends every produced output file back to the host after
// a local process exits, returning the CAS keys the host will record.
func (h *Helper) ShipOutputs(paths []string) ([]cas.CasKey, error) {
	keys := make([]cas.CasKey, 0, len(paths))
	for _, p := range paths {
		key, err := h.Store.StoreFile(p)
		if err != nil {
			return nil, err
		}
		if err := h.HostCalls.SendFileToServer(p, key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
