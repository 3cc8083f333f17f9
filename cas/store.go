package cas

import (
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/uba-build/uba/cmn/errs"
	"github.com/uba-build/uba/cmn/nlog"
	"github.com/uba-build/uba/memsys"
)

// Store is the local content-addressed store: a Table index plus the
// directory holding the actual blob files, named by hex key. Retrieve
// and StoreFile calls for the same key are coalesced through a
// singleflight.Group the way concurrent helpers requesting the same
// fetch share one in-flight future.
type Store struct {
	rootDir  string
	capacity int64
	table    *Table
	group    singleflight.Group
}

func Open(rootDir string, capacity int64) (*Store, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, err
	}
	table, err := OpenTable(filepath.Join(rootDir, "cas.table"))
	if err != nil {
		return nil, err
	}
	s := &Store{rootDir: rootDir, capacity: capacity, table: table}
	table.SetEvictCallback(func(key CasKey, _ Entry) {
		if err := os.Remove(s.blobPath(key)); err != nil && !os.IsNotExist(err) {
			nlog.Warningln("evict: failed to remove blob for", key, ":", err)
		}
	})
	return s, nil
}

func (s *Store) blobPath(key CasKey) string {
	hx := key.String()
	return filepath.Join(s.rootDir, hx[:2], hx)
}

// StoreFile hashes path, compresses it, and inserts it under its
// content key; it always hashes, and a caller that already has a key
// (e.g. a tracked-inputs hash from the session layer) uses
// StoreFileWithKey instead.
func (s *Store) StoreFile(path string) (CasKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return CasKey{}, err
	}
	key := HashBytes(raw)
	_, err, _ = s.group.Do(key.Canonical().String(), func() (interface{}, error) {
		return nil, s.insert(key, raw)
	})
	return key, err
}

// StoreFileWithKey overrides the natural content hash, used when the
// session layer wants outputs keyed by a tracked-inputs hash instead.
func (s *Store) StoreFileWithKey(path string, key CasKey) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err, _ = s.group.Do(key.Canonical().String(), func() (interface{}, error) {
		return nil, s.insert(key, raw)
	})
	return err
}

// StoreBytes inserts raw under key directly, used by the network layer
// when a helper ships an output's bytes over the wire rather than
// through a local path (the host has no local file for a helper's
// output until this call).
func (s *Store) StoreBytes(key CasKey, raw []byte) error {
	_, err, _ := s.group.Do(key.Canonical().String(), func() (interface{}, error) {
		return nil, s.insert(key, raw)
	})
	return err
}

func (s *Store) insert(key CasKey, raw []byte) error {
	key = key.Canonical()
	if e, ok := s.table.Get(key); ok && !e.Disallowed && !e.Dropped {
		s.table.Touch(key)
		return nil
	}
	blob, err := CompressBlocks(key, raw)
	if err != nil {
		return err
	}
	path := s.blobPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return err
	}
	if err := s.table.Put(key, int64(len(raw)), true); err != nil {
		return err
	}
	if s.capacity <= 0 {
		return nil
	}
	return s.table.EvictUntil(s.capacity)
}

// dropCorrupt tombstones key's table row and removes its backing blob,
// so the local entry is gone; it makes no retry itself, and the caller
// of Retrieve/MapView receives the CasHashMismatch error.
func (s *Store) dropCorrupt(key CasKey) {
	s.table.AddRef(key, -1)
	if err := os.Remove(s.blobPath(key)); err != nil && !os.IsNotExist(err) {
		nlog.Warningln("dropCorrupt: failed to remove blob for", key, ":", err)
	}
	if err := s.table.MarkDropped(key); err != nil {
		nlog.Warningln("dropCorrupt: failed to tombstone table row for", key, ":", err)
	}
}

// Retrieve returns a heap-backed view of the fully decompressed blob for
// key. The hint parameter names the expected size for allocation
// purposes; it is advisory only, taken from the session's process-input
// metadata.
func (s *Store) Retrieve(key CasKey, hint int64) (*memsys.MappedView, error) {
	v, err, _ := s.group.Do("retrieve:"+key.Canonical().String(), func() (interface{}, error) {
		return s.fetchAndVerify(key)
	})
	if err != nil {
		return nil, err
	}
	return memsys.NewHeapView(v.([]byte)), nil
}

// MapView returns a view of key's blob backed by mmap against the
// on-disk file rather than a decompressed heap copy: for an uncompressed
// blob this maps the blob file directly; for a compressed one it first
// materializes a plain decompressed copy (the same file EnsureCasFile
// produces) and maps that, so repeated MapView calls for the same key
// share one mapping via the underlying page cache instead of
// re-decompressing.
func (s *Store) MapView(key CasKey, hint int64) (*memsys.MappedView, error) {
	key = key.Canonical()
	e, ok := s.table.Get(key)
	if !ok {
		return nil, &errs.CasError{Kind: errs.CasMissing, Key: key.String()}
	}
	if e.Disallowed {
		return nil, &errs.CasError{Kind: errs.CasDisallowed, Key: key.String()}
	}
	if e.Dropped {
		return nil, &errs.CasError{Kind: errs.CasHashMismatch, Key: key.String()}
	}
	path := s.blobPath(key)
	if e.Compressed {
		plainPath, err := s.EnsureCasFile(key)
		if err != nil {
			return nil, err
		}
		path = plainPath
	}
	s.table.Touch(key)
	s.table.AddRef(key, 1)
	view, err := memsys.MapFile(path)
	if err != nil {
		s.dropCorrupt(key)
		return nil, &errs.CasError{Kind: errs.CasHashMismatch, Key: key.String()}
	}
	if !e.Verified {
		if HashBytes(view.Data) != key {
			_ = view.Release()
			s.dropCorrupt(key)
			return nil, &errs.CasError{Kind: errs.CasHashMismatch, Key: key.String()}
		}
		_ = s.table.MarkVerified(key)
	}
	return view, nil
}

// fetchAndVerify decompresses (or reads) key's blob in full, verifying
// both the self-describing header embedded by CompressBlocks and, on
// first access, the content hash itself. A corrupt blob is tombstoned
// so the caller can retry once against the host.
func (s *Store) fetchAndVerify(key CasKey) ([]byte, error) {
	key = key.Canonical()
	e, ok := s.table.Get(key)
	if !ok {
		return nil, &errs.CasError{Kind: errs.CasMissing, Key: key.String()}
	}
	if e.Disallowed {
		return nil, &errs.CasError{Kind: errs.CasDisallowed, Key: key.String()}
	}
	if e.Dropped {
		return nil, &errs.CasError{Kind: errs.CasHashMismatch, Key: key.String()}
	}
	s.table.Touch(key)
	s.table.AddRef(key, 1)

	raw, err := s.readRaw(key, e)
	if err != nil {
		s.dropCorrupt(key)
		return nil, &errs.CasError{Kind: errs.CasHashMismatch, Key: key.String()}
	}
	if !e.Verified && HashBytes(raw) != key {
		s.dropCorrupt(key)
		return nil, &errs.CasError{Kind: errs.CasHashMismatch, Key: key.String()}
	}
	_ = s.table.MarkVerified(key)
	return raw, nil
}

func (s *Store) readRaw(key CasKey, e Entry) ([]byte, error) {
	path := s.blobPath(key)
	if !e.Compressed {
		return os.ReadFile(path)
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, hdr, err := DecompressBlocks(blob)
	if err != nil {
		return nil, err
	}
	if !hdr.RawKey.ContentEqual(key) {
		return nil, &errs.CasError{Kind: errs.CasHashMismatch, Key: key.String()}
	}
	return raw, nil
}

// EnsureCasFile guarantees a plain (uncompressed) on-disk copy exists at
// the canonical blob path, decompressing in place if necessary. Used
// before CopyOrLink so the destination can be a hardlink.
func (s *Store) EnsureCasFile(key CasKey) (string, error) {
	key = key.Canonical()
	e, ok := s.table.Get(key)
	if !ok {
		return "", &errs.CasError{Kind: errs.CasMissing, Key: key.String()}
	}
	if !e.Compressed {
		return s.blobPath(key), nil
	}
	raw, err := s.readRaw(key, e)
	if err != nil {
		return "", err
	}
	plainPath := s.blobPath(key) + ".raw"
	if _, err := os.Stat(plainPath); err == nil {
		return plainPath, nil
	}
	if err := os.WriteFile(plainPath, raw, 0o644); err != nil {
		return "", err
	}
	return plainPath, nil
}

// CopyOrLink materializes key at destPath, preferring a hardlink over a
// full copy when the filesystem allows it (same volume).
func (s *Store) CopyOrLink(key CasKey, destPath string, mode os.FileMode) error {
	src, err := s.EnsureCasFile(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	if err := os.Link(src, destPath); err == nil {
		return nil
	}
	return copyFile(src, destPath, mode)
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func (s *Store) CheckContent(key CasKey) error {
	key = key.Canonical()
	e, ok := s.table.Get(key)
	if !ok {
		return &errs.CasError{Kind: errs.CasMissing, Key: key.String()}
	}
	raw, err := s.readRaw(key, e)
	if err != nil {
		return err
	}
	if !HashBytes(raw).ContentEqual(key) {
		return &errs.CasError{Kind: errs.CasHashMismatch, Key: key.String()}
	}
	return nil
}

func (s *Store) TraverseAll(cb func(CasKey, Entry) error) error { return s.table.Traverse(cb) }

func (s *Store) DeleteAll() error {
	if err := s.table.DeleteAll(); err != nil {
		return err
	}
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if ent.Name() == "cas.table" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.rootDir, ent.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) MarkDisallowed(key CasKey) error { return s.table.MarkDisallowed(key.Canonical()) }

func (s *Store) Close() error { return s.table.Close() }

// LoadCasTable/SaveCasTable are named operations from the external
// interface; the buntdb-backed Table persists continuously, so these
// are the explicit open/flush points callers invoke at startup/shutdown.
func LoadCasTable(rootDir string, capacity int64) (*Store, error) { return Open(rootDir, capacity) }

func (s *Store) SaveCasTable() error { return s.table.db.Shrink() }
