// Package session implements the host/helper protocol: the host's
// directory and name-to-hash tables and process registry, and the
// helper's mirror tables and process execution loop.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package session

import (
	"sync"
	"time"

	"github.com/teris-io/shortid"

	"github.com/uba-build/uba/cas"
	"github.com/uba-build/uba/fs"
)

// tagGen produces short, time-sortable tags for processes; shared
// across a whole host process since shortid's generator is itself
// concurrency-safe.
var tagGen, _ = shortid.New(1, shortid.DefaultABC, 2342)

type ProcessState int

const (
	StateQueued ProcessState = iota
	StateRunning
	StateFinishedSuccess
	StateFinishedError
	StateCancelled
	StateReturned
)

func (s ProcessState) String() string {
	switch s {
	case StateQueued:
		return "Queued"
	case StateRunning:
		return "Running"
	case StateFinishedSuccess:
		return "Finished(success)"
	case StateFinishedError:
		return "Finished(error)"
	case StateCancelled:
		return "Finished(cancelled)"
	case StateReturned:
		return "Finished(returned)"
	default:
		return "Unknown"
	}
}

// ExecutionMode records where a process actually ran, reported back to
// the scheduler's finished callback.
type ExecutionMode int

const (
	ExecLocal ExecutionMode = iota
	ExecRemote
	ExecCacheHit
)

// StartInfo is everything the host serializes to launch a process on a
// remote helper: argv, environment delta, roots, priority, and any
// tracked-inputs hints the detour runtime should seed up front.
type StartInfo struct {
	ProcessID     uint32
	Argv          []string
	WorkingDir    string
	EnvDelta      map[string]string
	RootsHandleID uint32
	Weight        float64
	TrackedHints  []string
	CacheBucketID string
	CanDetour     bool
	CanExecRemote bool
}

// Process tracks one process through its lifecycle on the host side.
type Process struct {
	mtx sync.Mutex

	// Tag is a short, roughly time-sortable id unique across the whole
	// host run, useful for log correlation since Info.ProcessID resets
	// to 1 every session and means nothing across separate builds.
	Tag string

	Info  StartInfo
	State ProcessState
	Mode  ExecutionMode

	ExitCode  int
	LogLines  []string
	Outputs   []cas.CasKey
	StartedAt time.Time
	EndedAt   time.Time

	// ActualInputs is the set of CasKeys the detour runtime actually
	// consumed, reported after the fact via MsgProcessInputs; it may
	// differ from Info.TrackedHints, which is only a submission-time
	// prediction used to seed prefetch.
	ActualInputs []cas.CasKey

	ReturnReason string // OOM, TCP reset, voluntary shutdown
}

func NewProcess(info StartInfo) *Process {
	tag, _ := tagGen.Generate()
	return &Process{Tag: tag, Info: info, State: StateQueued}
}

func (p *Process) SetRunning(mode ExecutionMode) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.State = StateRunning
	p.Mode = mode
	p.StartedAt = time.Now()
}

func (p *Process) Finish(state ProcessState, exitCode int, outputs []cas.CasKey) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.State = state
	p.ExitCode = exitCode
	p.Outputs = outputs
	p.EndedAt = time.Now()
}

// SetActualInputs records the CasKeys a helper reports having consumed
// for this process (MsgProcessInputs), distinct from the TrackedHints
// predicted at submission time.
func (p *Process) SetActualInputs(keys []cas.CasKey) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.ActualInputs = keys
}

func (p *Process) Return(reason string) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.State = StateReturned
	p.ReturnReason = reason
}

func (p *Process) Snapshot() (ProcessState, ExecutionMode) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.State, p.Mode
}

// Registry is the host's process table, keyed by id.
type Registry struct {
	mtx  sync.RWMutex
	next uint32
	m    map[uint32]*Process
}

func NewRegistry() *Registry { return &Registry{m: make(map[uint32]*Process)} }

func (r *Registry) Add(info StartInfo) *Process {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.next++
	info.ProcessID = r.next
	p := NewProcess(info)
	r.m[info.ProcessID] = p
	return p
}

func (r *Registry) Get(id uint32) (*Process, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	p, ok := r.m[id]
	return p, ok
}

func (r *Registry) Remove(id uint32) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	delete(r.m, id)
}

// DevirtualizeArgv rewrites every virtual path reference in argv using
// the process's roots handle before handing the process to the OS.
func DevirtualizeArgv(argv []string, h *fs.RootsHandle) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = h.DevirtualizeString(a)
	}
	return out
}
