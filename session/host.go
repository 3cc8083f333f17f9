package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/karrick/godirwalk"

	"github.com/uba-build/uba/cas"
	"github.com/uba-build/uba/fs"
)

// NextProcessResponse mirrors the closed set of GetNextProcess replies:
// a real process, or one of the two sentinels.
type NextProcessResponse int

const (
	NextProcessRecord NextProcessResponse = iota
	NextProcessDisconnect
	NextProcessRemoteExecutionDisabled
)

// Host owns the directory table, name-to-hash table, and process
// registry for one build session; helpers pull work through
// GetNextProcess and report outcomes through ProcessFinished/Returned.
type Host struct {
	mtx sync.Mutex

	Dirs   DirectoryTable
	Hashes NameToHashTable
	Procs  *Registry
	Roots  *fs.Registry

	remoteDisabled bool
	pending        []*Process // ready-to-dispatch queue, scheduler pushes here
	racing         map[uint32]*raceState

	onReturned func(*Process)
}

type raceState struct {
	local, remote *Process
	winner        *Process
	mtx           sync.Mutex
}

func NewHost() *Host {
	return &Host{
		Procs:  NewRegistry(),
		Roots:  fs.NewRegistry(),
		racing: make(map[uint32]*raceState),
	}
}

func (h *Host) SetReturnedCallback(f func(*Process)) { h.onReturned = f }

func (h *Host) DisableRemoteExecution() {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.remoteDisabled = true
}

// Enqueue makes a process available to the next helper that asks.
func (h *Host) Enqueue(p *Process) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.pending = append(h.pending, p)
}

// GetNextProcess answers a helper's pull request for work.
func (h *Host) GetNextProcess() (*Process, NextProcessResponse) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.remoteDisabled {
		return nil, NextProcessRemoteExecutionDisabled
	}
	if len(h.pending) == 0 {
		return nil, NextProcessDisconnect
	}
	p := h.pending[0]
	h.pending = h.pending[1:]
	p.SetRunning(ExecRemote)
	return p, NextProcessRecord
}

// PeekNextProcess answers a helper's "is there work for me" poll without
// dequeuing anything, letting a helper decide whether to open an actual
// GetNextProcess pull (and pay a connection/roots-handle setup cost) or
// keep waiting. Mirrors GetNextProcess's sentinel logic exactly, short of
// the dequeue and SetRunning side effects.
func (h *Host) PeekNextProcess() NextProcessResponse {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.remoteDisabled {
		return NextProcessRemoteExecutionDisabled
	}
	if len(h.pending) == 0 {
		return NextProcessDisconnect
	}
	return NextProcessRecord
}

// StartRace registers (or returns the existing) race record for a
// process already dispatched remotely; ReportFinish on it picks the
// first successful finisher as winner. StartRace does not launch the
// local run, and nothing here cancels the losing side.
func (h *Host) StartRace(p *Process) *raceState {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	rs, ok := h.racing[p.Info.ProcessID]
	if !ok {
		rs = &raceState{remote: p}
		h.racing[p.Info.ProcessID] = rs
	}
	return rs
}

func (rs *raceState) ReportFinish(which *Process, ok bool) (won bool) {
	rs.mtx.Lock()
	defer rs.mtx.Unlock()
	if rs.winner != nil {
		return false
	}
	if !ok {
		return false
	}
	rs.winner = which
	return true
}

// ProcessFinished records a helper's outcome for a process, writing
// produced outputs into CAS via the provided store (files have already
// been transferred through SendFileToServer into tmp locations prior
// to this call).
func (h *Host) ProcessFinished(p *Process, exitCode int, outputPaths []string, store *cas.Store, customKey *cas.CasKey) error {
	outputs := make([]cas.CasKey, 0, len(outputPaths))
	for _, path := range outputPaths {
		var key cas.CasKey
		var err error
		if customKey != nil {
			key = *customKey
			err = store.StoreFileWithKey(path, key)
		} else {
			key, err = store.StoreFile(path)
		}
		if err != nil {
			return err
		}
		outputs = append(outputs, key)
	}
	state := StateFinishedSuccess
	if exitCode != 0 {
		state = StateFinishedError
	}
	p.Finish(state, exitCode, outputs)
	return nil
}

// ProcessReturned re-enqueues a process a helper gave back (OOM, TCP
// reset, voluntary shutdown), clearing its CanExecRemote flag.
func (h *Host) ProcessReturned(p *Process, reason string) {
	p.Return(reason)
	p.Info.CanExecRemote = false
	h.Enqueue(p)
	if h.onReturned != nil {
		h.onReturned(p)
	}
}

// LookupHashPath answers a helper's GetNameToHashFromServer query by
// scanning the published name-to-hash table for the most recent entry
// for path's key. The table is small enough in practice that a linear
// scan beats maintaining a second index that could drift out of sync.
// The most recent row wins even if it's a tombstone, so a deleted file
// correctly reports "not found" rather than falling through to a stale
// pre-delete hash.
func (h *Host) LookupHashPath(path string) (cas.CasKey, bool) {
	key := cas.HashString(path)
	entries, _ := h.Hashes.Since(0)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].PathKey == key {
			if !entries[i].Exists {
				return cas.CasKey{}, false
			}
			return entries[i].Hash, true
		}
	}
	return cas.CasKey{}, false
}

// LookupDirPath answers a helper's GetDirectoriesFromServer query the
// same way, against the directory table.
func (h *Host) LookupDirPath(path string) (DirEntry, bool) {
	key := cas.HashString(path)
	entries, _ := h.Dirs.Since(0)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].PathKey == key {
			if !entries[i].Exists {
				return DirEntry{}, false
			}
			return entries[i], true
		}
	}
	return DirEntry{}, false
}

// RecordDelete appends a tombstone row to the name-to-hash table,
// mirroring a devirtualized MsgDeleteFile to every helper tracking path.
func (h *Host) RecordDelete(path string) {
	h.Hashes.Append(TombstoneNameHashEntry(path, time.Now()))
}

// RecordCopy appends a new name-to-hash row for destPath carrying
// srcPath's current hash, mirroring a devirtualized MsgCopyFile.
func (h *Host) RecordCopy(srcPath, destPath string) error {
	hash, ok := h.LookupHashPath(srcPath)
	if !ok {
		return fmt.Errorf("copy: source %s has no known content hash", srcPath)
	}
	h.Hashes.Append(NewNameHashEntry(destPath, hash, time.Now()))
	return nil
}

// RecordCreateDirectory appends a live DirEntry for path, mirroring a
// devirtualized MsgCreateDirectory.
func (h *Host) RecordCreateDirectory(path string) {
	h.Dirs.Append(NewDirEntry(path))
}

// RecordRemoveDirectory appends a tombstone DirEntry for path, mirroring
// a devirtualized MsgRemoveDirectory.
func (h *Host) RecordRemoveDirectory(path string) {
	h.Dirs.Append(TombstoneDirEntry(path))
}

// PopulateDirTable walks root once at session start and appends one
// DirEntry per directory, so a helper's first GetDirectoriesFromServer
// call for anything under root is answered from the mirror table rather
// than a cold lookup. godirwalk avoids the per-entry lstat calls
// filepath.Walk makes on most platforms, which matters here since a
// build source tree can run into the hundreds of thousands of entries.
func (h *Host) PopulateDirTable(root string) error {
	dirs := make(map[string]*DirEntry)
	newDirEntry := func(path string) *DirEntry {
		e := NewDirEntry(path)
		return &e
	}
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			parent := filepath.Dir(path)
			pe, ok := dirs[parent]
			if !ok {
				pe = newDirEntry(parent)
				dirs[parent] = pe
			}
			if de.IsDir() {
				pe.SubDirs = append(pe.SubDirs, filepath.Base(path))
				if _, ok := dirs[path]; !ok {
					dirs[path] = newDirEntry(path)
				}
			} else {
				pe.Files = append(pe.Files, filepath.Base(path))
			}
			return nil
		},
	})
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	h.mtx.Lock()
	defer h.mtx.Unlock()
	for _, e := range dirs {
		h.Dirs.Append(*e)
	}
	return nil
}

// PendingAge reports how long the oldest pending process has waited,
// used by the scheduler's racing decision ("remote has been running for long").
func (h *Host) PendingAge() time.Duration {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if len(h.pending) == 0 {
		return 0
	}
	return time.Since(h.pending[0].StartedAt)
}
