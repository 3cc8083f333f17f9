package session

import (
	"sync"
	"time"

	"github.com/uba-build/uba/cas"
)

// DirEntry is one row in the host's append-only directory table: the
// listing the detour runtime needs to answer a directory enumeration
// without a round trip once mirrored. A later row for the same PathKey
// supersedes an earlier one; Exists=false is a tombstone recording that
// the directory was removed (MsgRemoveDirectory), since the table is
// append-only and can't overwrite history in place.
type DirEntry struct {
	PathKey    cas.StringKey
	Path       string // kept for wire encoding and logging; lookups key on PathKey
	Exists     bool
	Attributes uint32
	Size       int64
	ModTime    int64 // unix nanos
	Files      []string
	SubDirs    []string
}

// NameHashEntry maps a file path to its content key as of the last time
// the host observed it, used to answer GetNameToHashFromServer. Exists
// false is a tombstone (MsgDeleteFile): a later lookup must see the file
// as gone, not fall through to a stale earlier row.
type NameHashEntry struct {
	PathKey  cas.StringKey
	Path     string
	Hash     cas.CasKey
	Exists   bool
	LastSeen int64 // unix nanos
}

// AppendOnlyTable models the host's single-writer / multi-reader shared
// structure: writers append under lock, readers observe a monotonically
// increasing length (memPos) without locking past entries that are
// already published.
type AppendOnlyTable[T any] struct {
	mtx     sync.RWMutex
	entries []T
}

func (t *AppendOnlyTable[T]) Append(e T) int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.entries = append(t.entries, e)
	return len(t.entries)
}

// Since returns every entry appended after position pos (the helper's
// last-seen high-watermark), and the new high-watermark.
func (t *AppendOnlyTable[T]) Since(pos int) ([]T, int) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	if pos >= len(t.entries) {
		return nil, len(t.entries)
	}
	return append([]T(nil), t.entries[pos:]...), len(t.entries)
}

func (t *AppendOnlyTable[T]) Len() int {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	return len(t.entries)
}

// DirectoryTable and NameToHashTable are the host's two append-only
// tables; a helper keeps its own MirrorTables with a per-table memPos
// cursor tracking how much it has parsed.
type DirectoryTable = AppendOnlyTable[DirEntry]
type NameToHashTable = AppendOnlyTable[NameHashEntry]

// NewDirEntry builds a live (non-tombstone) row; Path's hash key is
// computed once here so every table/mirror lookup is consistent.
func NewDirEntry(path string) DirEntry {
	return DirEntry{PathKey: cas.HashString(path), Path: path, Exists: true}
}

// TombstoneDirEntry records that path's directory was removed.
func TombstoneDirEntry(path string) DirEntry {
	return DirEntry{PathKey: cas.HashString(path), Path: path, Exists: false}
}

// NewNameHashEntry builds a live name-to-hash row observed at now.
func NewNameHashEntry(path string, hash cas.CasKey, now time.Time) NameHashEntry {
	return NameHashEntry{PathKey: cas.HashString(path), Path: path, Hash: hash, Exists: true, LastSeen: now.UnixNano()}
}

// TombstoneNameHashEntry records that path was deleted (MsgDeleteFile).
func TombstoneNameHashEntry(path string, now time.Time) NameHashEntry {
	return NameHashEntry{PathKey: cas.HashString(path), Path: path, Exists: false, LastSeen: now.UnixNano()}
}

// MirrorTables is what a helper maintains locally: incrementally parsed
// copies of the host's directory and name-to-hash tables, each with its
// own high-watermark cursor. Both are keyed by cas.StringKey rather than
// the raw path so a helper never holds full path strings twice (once in
// the entry, once as the map key) and so lookups match the host's own
// table key.
type MirrorTables struct {
	mtx sync.Mutex

	dirPos  int
	dirs    map[cas.StringKey]DirEntry
	hashPos int
	hashes  map[cas.StringKey]NameHashEntry
}

func NewMirrorTables() *MirrorTables {
	return &MirrorTables{
		dirs:   make(map[cas.StringKey]DirEntry),
		hashes: make(map[cas.StringKey]NameHashEntry),
	}
}

// ApplyDirs folds newly-seen rows into the mirror; a tombstone row
// deletes the prior live entry for that path rather than being stored
// itself, so LookupDir's zero-value "not found" and "was removed" read
// the same way to a caller that doesn't care about the distinction.
func (m *MirrorTables) ApplyDirs(entries []DirEntry, newPos int) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for _, e := range entries {
		if !e.Exists {
			delete(m.dirs, e.PathKey)
			continue
		}
		m.dirs[e.PathKey] = e
	}
	m.dirPos = newPos
}

func (m *MirrorTables) ApplyHashes(entries []NameHashEntry, newPos int) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for _, e := range entries {
		if !e.Exists {
			delete(m.hashes, e.PathKey)
			continue
		}
		m.hashes[e.PathKey] = e
	}
	m.hashPos = newPos
}

func (m *MirrorTables) LookupDir(path string) (DirEntry, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	e, ok := m.dirs[cas.HashString(path)]
	return e, ok
}

func (m *MirrorTables) LookupHash(path string) (cas.CasKey, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	e, ok := m.hashes[cas.HashString(path)]
	if !ok {
		return cas.CasKey{}, false
	}
	return e.Hash, true
}

func (m *MirrorTables) Positions() (dirPos, hashPos int) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.dirPos, m.hashPos
}
