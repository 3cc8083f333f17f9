package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/uba-build/uba/cas"
)

type fakeHostCaller struct {
	files map[string]cas.CasKey
	dirs  map[string]DirEntry
	sent  map[string]cas.CasKey
}

func newFakeHostCaller() *fakeHostCaller {
	return &fakeHostCaller{
		files: make(map[string]cas.CasKey),
		dirs:  make(map[string]DirEntry),
		sent:  make(map[string]cas.CasKey),
	}
}

func (f *fakeHostCaller) GetFileFromServer(path string) (cas.CasKey, error) {
	k, ok := f.files[path]
	if !ok {
		return cas.CasKey{}, errors.New("not found")
	}
	return k, nil
}

func (f *fakeHostCaller) GetDirectoriesFromServer(path string) (DirEntry, error) {
	e, ok := f.dirs[path]
	if !ok {
		return DirEntry{}, errors.New("not found")
	}
	return e, nil
}

func (f *fakeHostCaller) GetNameToHashFromServer(path string) (cas.CasKey, error) {
	k, ok := f.files[path]
	if !ok {
		return cas.CasKey{}, errors.New("not found")
	}
	return k, nil
}

func (f *fakeHostCaller) SendFileToServer(localPath string, key cas.CasKey) error {
	f.sent[localPath] = key
	return nil
}

func openHelperStore(t *testing.T) *cas.Store {
	t.Helper()
	s, err := cas.Open(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("cas.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResolveFileRoundTripsOnMirrorMiss(t *testing.T) {
	store := openHelperStore(t)
	raw := []byte("#include <stdio.h>\n")
	key := cas.HashBytes(raw)
	if err := store.StoreBytes(key, raw); err != nil {
		t.Fatalf("StoreBytes: %v", err)
	}

	hc := newFakeHostCaller()
	hc.files["/src/stdio.h"] = key
	h := NewHelper(store, hc)

	dest := filepath.Join(t.TempDir(), "stdio.h")
	if err := h.ResolveFile("/src/stdio.h", dest); err != nil {
		t.Fatalf("ResolveFile: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(raw) {
		t.Fatalf("materialized content = %q, want %q", got, raw)
	}

	if _, ok := h.Mirrors.LookupHash("/src/stdio.h"); !ok {
		t.Fatalf("ResolveFile did not populate the mirror table on a round trip")
	}
}

func TestResolveFileHitsMirrorWithoutRoundTrip(t *testing.T) {
	store := openHelperStore(t)
	raw := []byte("cached header\n")
	key := cas.HashBytes(raw)
	if err := store.StoreBytes(key, raw); err != nil {
		t.Fatalf("StoreBytes: %v", err)
	}

	hc := newFakeHostCaller() // left empty: any round trip fails the test
	h := NewHelper(store, hc)
	h.Mirrors.ApplyHashes([]NameHashEntry{NewNameHashEntry("/src/cached.h", key, time.Now())}, 1)

	dest := filepath.Join(t.TempDir(), "cached.h")
	if err := h.ResolveFile("/src/cached.h", dest); err != nil {
		t.Fatalf("ResolveFile: %v", err)
	}
}

func TestResolveFileCachesNegativeLookup(t *testing.T) {
	store := openHelperStore(t)
	hc := newFakeHostCaller() // no files registered: GetFileFromServer always misses
	h := NewHelper(store, hc)

	if err := h.ResolveFile("/src/missing.h", filepath.Join(t.TempDir(), "out")); err == nil {
		t.Fatalf("ResolveFile succeeded for a path the host doesn't have")
	}
	if !h.notFound.Lookup([]byte("/src/missing.h")) {
		t.Fatalf("negative cache did not record the missing path")
	}
}

func TestShipOutputsSendsEachFile(t *testing.T) {
	store := openHelperStore(t)
	hc := newFakeHostCaller()
	h := NewHelper(store, hc)

	path := filepath.Join(t.TempDir(), "out.o")
	if err := os.WriteFile(path, []byte("object code"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	keys, err := h.ShipOutputs([]string{path})
	if err != nil {
		t.Fatalf("ShipOutputs: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("ShipOutputs returned %d keys, want 1", len(keys))
	}
	if sentKey, ok := hc.sent[path]; !ok || sentKey != keys[0] {
		t.Fatalf("SendFileToServer not called with the stored key for %s", path)
	}
}
