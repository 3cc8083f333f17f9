package cas

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/buntdb"
)

// Entry is one CasTable row: everything needed to locate, validate, and
// evict a stored blob without touching the file itself.
type Entry struct {
	Key        CasKey `json:"-"`
	Size       int64  `json:"size"`
	Compressed bool   `json:"compressed"`
	LRUEpoch   int64  `json:"lru_epoch"`
	Disallowed bool   `json:"disallowed"`
	Verified   bool   `json:"verified"` // content hash checked against the blob at least once
	Dropped    bool   `json:"dropped"`  // row kept as a tombstone; backing blob was deleted after a corruption check failed
	refs       int32
}

// Table is the in-memory + buntdb-persisted index of everything in local
// CAS storage, guarded by a single reader/writer lock per the
// concurrency model (per-entry mutation additionally serialized by the
// caller holding that entry's own small lock where needed).
type Table struct {
	mtx     sync.RWMutex
	db      *buntdb.DB
	epoch   int64
	onEvict func(CasKey, Entry)
}

func OpenTable(path string) (*Table, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Table{db: db}, nil
}

func (t *Table) SetEvictCallback(f func(CasKey, Entry)) { t.onEvict = f }

func (t *Table) nextEpoch() int64 {
	t.epoch++
	return t.epoch
}

func (t *Table) Put(key CasKey, size int64, compressed bool) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	e := Entry{Size: size, Compressed: compressed, LRUEpoch: t.nextEpoch()}
	return t.putLocked(key, e)
}

// putLocked stores the row under the key's canonical (flag-stripped)
// form: table identity is content identity, and the transient
// Compressed/ViaProxy flag bits never fragment it into separate rows.
func (t *Table) putLocked(key CasKey, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return t.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key.Canonical().String(), string(b), nil)
		return err
	})
}

func (t *Table) Get(key CasKey) (Entry, bool) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	return t.getLocked(key)
}

// Touch bumps an entry's LRU epoch on access, keeping it off the
// eviction front.
func (t *Table) Touch(key CasKey) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	e, ok := t.getLocked(key)
	if !ok {
		return
	}
	e.LRUEpoch = t.nextEpoch()
	_ = t.putLocked(key, e)
}

func (t *Table) getLocked(key CasKey) (Entry, bool) {
	var e Entry
	found := false
	_ = t.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key.Canonical().String())
		if err != nil {
			return nil
		}
		if jsonErr := json.Unmarshal([]byte(val), &e); jsonErr == nil {
			e.Key = key.Canonical()
			found = true
		}
		return nil
	})
	return e, found
}

func (t *Table) MarkDisallowed(key CasKey) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	e, _ := t.getLocked(key)
	e.Disallowed = true
	return t.putLocked(key, e)
}

// MarkVerified records that the blob's content hash was checked against
// its bytes and matched.
func (t *Table) MarkVerified(key CasKey) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	e, ok := t.getLocked(key)
	if !ok {
		return nil
	}
	e.Verified = true
	return t.putLocked(key, e)
}

// MarkDropped leaves a tombstone row in place of a blob whose content
// failed a corruption check and whose backing file was removed: unlike
// a deleted row, a dropped entry still answers Get so callers can tell
// "never had this" apart from "had it, it was bad, don't retry locally".
func (t *Table) MarkDropped(key CasKey) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	e, ok := t.getLocked(key)
	if !ok {
		e = Entry{LRUEpoch: t.nextEpoch()}
	}
	e.Dropped = true
	e.Verified = false
	e.refs = 0
	return t.putLocked(key, e)
}

func (t *Table) AddRef(key CasKey, delta int32) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	e, ok := t.getLocked(key)
	if !ok {
		return
	}
	e.refs += delta
	_ = t.putLocked(key, e)
}

// EvictUntil evicts least-recently-used entries (never one with a
// non-zero ref count) until total size is <= capacity, invoking
// onEvict for each row removed so the caller can delete the backing file.
func (t *Table) EvictUntil(capacity int64) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	type row struct {
		key CasKey
		e   Entry
	}
	var rows []row
	var total int64
	err := t.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(k, v string) bool {
			var e Entry
			if jsonErr := json.Unmarshal([]byte(v), &e); jsonErr == nil {
				key, perr := ParseCasKey(k)
				if perr == nil {
					e.Key = key
					rows = append(rows, row{key: key, e: e})
					total += e.Size
				}
			}
			return true
		})
	})
	if err != nil {
		return err
	}
	if total <= capacity {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].e.LRUEpoch < rows[j].e.LRUEpoch })
	for _, r := range rows {
		if total <= capacity {
			break
		}
		if r.e.refs != 0 {
			continue
		}
		if err := t.db.Update(func(tx *buntdb.Tx) error {
			_, err := tx.Delete(r.key.String())
			return err
		}); err != nil {
			return err
		}
		total -= r.e.Size
		if t.onEvict != nil {
			t.onEvict(r.key, r.e)
		}
	}
	return nil
}

func (t *Table) Traverse(cb func(CasKey, Entry) error) error {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	return t.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(k, v string) bool {
			var e Entry
			if jsonErr := json.Unmarshal([]byte(v), &e); jsonErr == nil {
				key, perr := ParseCasKey(k)
				if perr == nil {
					e.Key = key
					if cbErr := cb(key, e); cbErr != nil {
						return false
					}
				}
			}
			return true
		})
	})
}

func (t *Table) DeleteAll() error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		_ = tx.Ascend("", func(k, _ string) bool {
			keys = append(keys, k)
			return true
		})
		for _, k := range keys {
			if _, err := tx.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *Table) Close() error { return t.db.Close() }

func (e Entry) String() string {
	return fmt.Sprintf("cas-entry[size=%d compressed=%v disallowed=%v verified=%v dropped=%v epoch=%d]",
		e.Size, e.Compressed, e.Disallowed, e.Verified, e.Dropped, e.LRUEpoch)
}
