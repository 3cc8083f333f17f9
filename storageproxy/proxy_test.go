package storageproxy

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/uba-build/uba/cas"
)

type fakeFetcher struct {
	mtx      sync.Mutex
	calls    int32
	data     map[cas.CasKey][]byte
	failKeys map[cas.CasKey]bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{data: make(map[cas.CasKey][]byte), failKeys: make(map[cas.CasKey]bool)}
}

// FetchSegment returns the whole blob in one segment with done=true, so
// driveFetch calls it once per key.
func (f *fakeFetcher) FetchSegment(key cas.CasKey, offset int64) ([]byte, bool, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.failKeys[key] {
		return nil, false, errors.New("fetch failed")
	}
	blob := f.data[key]
	if offset >= int64(len(blob)) {
		return nil, true, nil
	}
	return blob[offset:], true, nil
}

func drain(t *testing.T, aw *Awaiter) ([]byte, error) {
	t.Helper()
	var out []byte
	for seg := range aw.RespCh {
		if seg.Err != nil {
			return nil, seg.Err
		}
		out = append(out, seg.Data...)
		if seg.Done {
			return out, nil
		}
	}
	return out, nil
}

func TestFetchBeginDeliversData(t *testing.T) {
	fetcher := newFakeFetcher()
	key := cas.HashBytes([]byte("blob contents"))
	fetcher.data[key] = []byte("blob contents")

	p := New(fetcher, nil, false)
	aw := p.FetchBegin(key)
	got, err := drain(t, aw)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if string(got) != "blob contents" {
		t.Fatalf("got %q, want %q", got, "blob contents")
	}
}

func TestFetchBeginCoalescesConcurrentCallers(t *testing.T) {
	fetcher := newFakeFetcher()
	key := cas.HashBytes([]byte("shared blob"))
	fetcher.data[key] = []byte("shared blob")

	p := New(fetcher, nil, false)

	var wg sync.WaitGroup
	results := make([][]byte, 4)
	for i := 0; i < 4; i++ {
		i := i
		aw := p.FetchBegin(key)
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := drain(t, aw)
			if err != nil {
				t.Errorf("drain: %v", err)
				return
			}
			results[i] = got
		}()
	}
	wg.Wait()
	for i, r := range results {
		if string(r) != "shared blob" {
			t.Fatalf("awaiter %d got %q, want %q", i, r, "shared blob")
		}
	}
}

func TestFetchBeginPropagatesError(t *testing.T) {
	fetcher := newFakeFetcher()
	key := cas.HashBytes([]byte("doomed"))
	fetcher.failKeys[key] = true

	p := New(fetcher, nil, false)
	aw := p.FetchBegin(key)
	if _, err := drain(t, aw); err == nil {
		t.Fatalf("expected an error from a failing fetcher")
	}
}

func TestPrefetchAllFetchesEveryKey(t *testing.T) {
	fetcher := newFakeFetcher()
	keys := make([]cas.CasKey, 5)
	for i := range keys {
		blob := []byte{byte(i), byte(i + 1)}
		k := cas.HashBytes(blob)
		fetcher.data[k] = blob
		keys[i] = k
	}

	p := New(fetcher, nil, false)
	if err := p.PrefetchAll(keys, 2); err != nil {
		t.Fatalf("PrefetchAll: %v", err)
	}
	for _, k := range keys {
		aw := p.FetchBegin(k)
		if _, err := drain(t, aw); err != nil {
			t.Fatalf("post-prefetch FetchBegin(%s): %v", k, err)
		}
	}
}

func TestPrefetchAllPropagatesFirstError(t *testing.T) {
	fetcher := newFakeFetcher()
	good := cas.HashBytes([]byte("ok"))
	fetcher.data[good] = []byte("ok")
	bad := cas.HashBytes([]byte("bad"))
	fetcher.failKeys[bad] = true

	p := New(fetcher, nil, false)
	if err := p.PrefetchAll([]cas.CasKey{good, bad}, 2); err == nil {
		t.Fatalf("PrefetchAll succeeded despite a failing key")
	}
}
