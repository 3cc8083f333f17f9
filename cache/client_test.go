package cache

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/uba-build/uba/cas"
	"github.com/uba-build/uba/session"
)

func TestKeyFingerprintStable(t *testing.T) {
	k1 := Key{BucketID: "b", Inputs: "a=1;b=2;", Argv: "cl.exe", EnvDelta: ""}
	k2 := Key{BucketID: "b", Inputs: "a=1;b=2;", Argv: "cl.exe", EnvDelta: ""}
	if k1.Fingerprint() != k2.Fingerprint() {
		t.Fatalf("identical keys produced different fingerprints")
	}
	k3 := Key{BucketID: "b", Inputs: "a=1;b=3;", Argv: "cl.exe", EnvDelta: ""}
	if k1.Fingerprint() == k3.Fingerprint() {
		t.Fatalf("differing inputs produced the same fingerprint")
	}
}

func TestClientNormalizeInputsOrderIndependent(t *testing.T) {
	c := NewClient(nil, time.Second, false, 0)
	defer c.Close()
	c.RegisterPathHash("/toolchain/root", "toolchain-v1")

	a := c.normalizeInputs(map[string]string{"z.cpp": "hash-z", "a.cpp": "hash-a"})
	b := c.normalizeInputs(map[string]string{"a.cpp": "hash-a", "z.cpp": "hash-z"})
	if a != b {
		t.Fatalf("normalizeInputs is sensitive to map iteration order: %q != %q", a, b)
	}
	for _, want := range []string{"/toolchain/root=toolchain-v1;", "a.cpp=hash-a;", "z.cpp=hash-z;"} {
		if !strings.Contains(a, want) {
			t.Fatalf("normalizeInputs = %q, missing %q", a, want)
		}
	}
}

type fakeBackend struct {
	mtx     sync.Mutex
	entries map[string]Entry
	writes  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{entries: make(map[string]Entry)}
}

func (f *fakeBackend) Lookup(_ context.Context, fingerprint string) (*Entry, bool, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	e, ok := f.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (f *fakeBackend) Write(_ context.Context, fingerprint string, e Entry) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.entries[fingerprint] = e
	f.writes++
	return nil
}

func TestClientLookupMiss(t *testing.T) {
	backend := newFakeBackend()
	c := NewClient(backend, time.Second, false, 0)
	defer c.Close()

	info := session.StartInfo{Argv: []string{"cl.exe", "main.cpp"}}
	if _, hit := c.Lookup("bucket", info, map[string]string{}); hit {
		t.Fatalf("Lookup hit against an empty backend")
	}
}

func TestClientWriteThenLookupHits(t *testing.T) {
	backend := newFakeBackend()
	c := NewClient(backend, time.Second, false, 0)
	defer c.Close()

	info := session.StartInfo{Argv: []string{"cl.exe", "main.cpp"}}
	outputs := []cas.CasKey{cas.HashBytes([]byte("main.obj"))}
	c.Write("bucket", info, map[string]string{"main.cpp": "hash1"}, outputs, []string{"done"})

	// Write is queued asynchronously; wait for the backend to observe it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		backend.mtx.Lock()
		n := backend.writes
		backend.mtx.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	e, hit := c.Lookup("bucket", info, map[string]string{"main.cpp": "hash1"})
	if !hit {
		t.Fatalf("Lookup missed after Write had time to flush")
	}
	if len(e.Outputs) != 1 || e.Outputs[0] != outputs[0] {
		t.Fatalf("Lookup returned %v, want %v", e.Outputs, outputs)
	}
}

func TestClientFetchFromCacheAndWriteEntry(t *testing.T) {
	backend := newFakeBackend()
	c := NewClient(backend, time.Second, true, 0)
	defer c.Close()

	info := session.StartInfo{Argv: []string{"cl.exe"}, TrackedHints: []string{"main.cpp"}}
	key := cas.HashBytes([]byte("obj"))
	if err := c.WriteEntry("bucket", info, []string{key.String()}, []string{"log"}); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var hit bool
	var outs []string
	for time.Now().Before(deadline) {
		var err error
		hit, outs, _, err = c.FetchFromCache("bucket", info)
		if err != nil {
			t.Fatalf("FetchFromCache: %v", err)
		}
		if hit {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !hit {
		t.Fatalf("FetchFromCache never observed the queued write")
	}
	if len(outs) != 1 || outs[0] != key.String() {
		t.Fatalf("FetchFromCache outputs = %v, want [%s]", outs, key)
	}
}
