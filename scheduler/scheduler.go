// Package scheduler implements the dependency DAG and placement policy
// described for the core: a ready set ordered by cache-eligibility then
// weight, local/remote/cache placement, and memory backpressure.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/uba-build/uba/cmn/atomic"
	"github.com/uba-build/uba/cmn/cos"
	"github.com/uba-build/uba/cmn/nlog"
	"github.com/uba-build/uba/session"
)

// EnqueueInfo is one caller-submitted process description. Proc is
// optional: a caller that already registered the process elsewhere
// (the host's process registry, so a later wire report can look the
// same object back up) passes it here instead of letting Enqueue mint
// a fresh one.
type EnqueueInfo struct {
	Info               session.StartInfo
	Dependencies       []uint32
	CacheBucketID      string
	CanDetour          bool
	CanExecuteRemotely bool
	WriteToCache       bool
	Proc               *session.Process
}

type node struct {
	id      uint32
	proc    *session.Process
	enq     EnqueueInfo
	deps    map[uint32]struct{}
	waiters []uint32 // nodes depending on this one
}

// CacheClient is the narrow interface the scheduler needs; the full
// client lives in package cache.
type CacheClient interface {
	FetchFromCache(bucketID string, info session.StartInfo) (hit bool, outputs []string, logLines []string, err error)
	WriteEntry(bucketID string, info session.StartInfo, outputs []string, logLines []string) error
}

// LocalRunner executes a process on this machine.
type LocalRunner interface {
	RunLocal(p *session.Process) error
}

// RemoteDispatcher hands a process to a connected helper via the
// session host.
type RemoteDispatcher interface {
	DispatchRemote(p *session.Process) error
}

type Scheduler struct {
	mtx     sync.Mutex
	nodes   map[uint32]*node
	ready   []*node
	running map[uint32]*node

	localWeight     float64
	usedLocalWeight float64

	cache  CacheClient
	local  LocalRunner
	remote RemoteDispatcher
	mem    *memWatcher

	queued, activeLocal, activeRemote, finished atomic.Int64

	onFinished func(*session.Process)

	stopCh cos.StopCh
	wg     sync.WaitGroup
}

type Config struct {
	LocalWeight        float64
	MemWaitLoadPercent float64
	MemKillLoadPercent float64
	AllowRemote        bool
}

func New(cfg Config, cache CacheClient, local LocalRunner, remote RemoteDispatcher) *Scheduler {
	s := &Scheduler{
		nodes:       make(map[uint32]*node),
		running:     make(map[uint32]*node),
		localWeight: cfg.LocalWeight,
		cache:       cache,
		local:       local,
		remote:      remote,
		mem:         newMemWatcher(cfg.MemWaitLoadPercent, cfg.MemKillLoadPercent),
	}
	s.stopCh.Init()
	return s
}

func (s *Scheduler) SetProcessFinishedCallback(f func(*session.Process)) { s.onFinished = f }

func (s *Scheduler) Counters() (queued, activeLocal, activeRemote, fin int64) {
	return s.queued.Load(), s.activeLocal.Load(), s.activeRemote.Load(), s.finished.Load()
}

// MemLoadPercent exposes the scheduler's own memory watcher reading so
// other subsystems (the trace sampler) don't need a second poller.
func (s *Scheduler) MemLoadPercent() float64 { return s.mem.LoadPercent() }

// Enqueue adds a process to the DAG; it becomes ready once every
// dependency has finished successfully.
func (s *Scheduler) Enqueue(e EnqueueInfo) *session.Process {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	p := e.Proc
	if p == nil {
		p = session.NewProcess(e.Info)
	}
	n := &node{id: p.Info.ProcessID, proc: p, enq: e, deps: make(map[uint32]struct{})}
	for _, d := range e.Dependencies {
		if dn, ok := s.nodes[d]; ok {
			state, _ := dn.proc.Snapshot()
			if state != session.StateFinishedSuccess {
				n.deps[d] = struct{}{}
				dn.waiters = append(dn.waiters, n.id)
			}
		}
	}
	s.nodes[n.id] = n
	s.queued.Inc()
	if len(n.deps) == 0 {
		s.ready = append(s.ready, n)
	}
	return p
}

// Run drives the dispatch loop until Cancel. Callers typically
// run this on a dedicated goroutine.
func (s *Scheduler) Run(tick time.Duration) {
	go s.mem.run(time.Second)
	s.wg.Add(1)
	defer s.wg.Done()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh.Listen():
			return
		case <-ticker.C:
			s.dispatchReady()
			s.enforceMemoryPolicy()
		}
	}
}

// dispatchReady orders the ready set (cache-eligible first, then higher
// weight) and attempts placement for each.
func (s *Scheduler) dispatchReady() {
	s.mtx.Lock()
	sort.Slice(s.ready, func(i, j int) bool {
		ci, cj := s.ready[i].enq.CacheBucketID != "", s.ready[j].enq.CacheBucketID != ""
		if ci != cj {
			return ci
		}
		return s.ready[i].enq.Info.Weight > s.ready[j].enq.Info.Weight
	})
	ready := s.ready
	s.ready = nil
	s.mtx.Unlock()

	var requeue []*node
	for _, n := range ready {
		if !s.place(n) {
			requeue = append(requeue, n)
		}
	}
	if len(requeue) > 0 {
		s.mtx.Lock()
		s.ready = append(s.ready, requeue...)
		s.mtx.Unlock()
	}
}

func (s *Scheduler) place(n *node) (placed bool) {
	if n.enq.CacheBucketID != "" && s.cache != nil {
		hit, outputs, logLines, err := s.cache.FetchFromCache(n.enq.CacheBucketID, n.enq.Info)
		if err == nil && hit {
			n.proc.SetRunning(session.ExecCacheHit)
			_ = logLines
			_ = outputs
			n.proc.Finish(session.StateFinishedSuccess, 0, nil)
			s.complete(n)
			return true
		}
	}

	s.mtx.Lock()
	freeLocal := s.localWeight - s.usedLocalWeight
	canLocal := freeLocal >= n.proc.Info.Weight && !s.mem.ShouldWait()
	s.mtx.Unlock()

	if canLocal {
		s.mtx.Lock()
		s.usedLocalWeight += n.proc.Info.Weight
		s.running[n.id] = n
		s.mtx.Unlock()
		s.activeLocal.Inc()
		go s.runLocal(n)
		return true
	}
	if n.enq.CanExecuteRemotely && s.remote != nil {
		s.mtx.Lock()
		s.running[n.id] = n
		s.mtx.Unlock()
		s.activeRemote.Inc()
		if err := s.remote.DispatchRemote(n.proc); err != nil {
			nlog.Warningln("remote dispatch failed, will retry:", err)
			s.mtx.Lock()
			delete(s.running, n.id)
			s.mtx.Unlock()
			s.activeRemote.Dec()
			return false
		}
		return true
	}
	return false
}

// NotifyRemoteFinished is called by the caller's wire handler once a
// helper reports a process outcome (ProcessFinished/ProcessReturned
// already applied to the *session.Process itself); it moves the node
// out of the running set and fires the usual completion path.
func (s *Scheduler) NotifyRemoteFinished(processID uint32) {
	s.mtx.Lock()
	n, ok := s.running[processID]
	if ok {
		delete(s.running, processID)
	}
	s.mtx.Unlock()
	if !ok {
		return
	}
	s.activeRemote.Dec()
	s.completeWithWrite(n)
}

func (s *Scheduler) runLocal(n *node) {
	err := s.local.RunLocal(n.proc)
	s.mtx.Lock()
	s.usedLocalWeight -= n.proc.Info.Weight
	delete(s.running, n.id)
	s.mtx.Unlock()
	s.activeLocal.Dec()

	if err != nil {
		n.proc.Finish(session.StateFinishedError, 1, nil)
	}
	s.completeWithWrite(n)
}

func (s *Scheduler) completeWithWrite(n *node) {
	state, _ := n.proc.Snapshot()
	if state == session.StateFinishedSuccess && n.enq.WriteToCache && n.enq.CacheBucketID != "" && s.cache != nil {
		paths := make([]string, len(n.proc.Outputs))
		for i, k := range n.proc.Outputs {
			paths[i] = k.String()
		}
		if err := s.cache.WriteEntry(n.enq.CacheBucketID, n.proc.Info, paths, n.proc.LogLines); err != nil {
			nlog.Warningln("cache write failed:", err)
		}
	}
	s.complete(n)
}

// complete fires the finished callback and unblocks waiters whose
// dependency just finished successfully.
func (s *Scheduler) complete(n *node) {
	s.finished.Inc()
	if s.onFinished != nil {
		s.onFinished(n.proc)
	}
	state, _ := n.proc.Snapshot()
	if state == session.StateReturned {
		s.mtx.Lock()
		s.ready = append(s.ready, n)
		s.mtx.Unlock()
		return
	}
	if state != session.StateFinishedSuccess {
		return
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, wid := range n.waiters {
		wn, ok := s.nodes[wid]
		if !ok {
			continue
		}
		delete(wn.deps, n.id)
		if len(wn.deps) == 0 {
			s.ready = append(s.ready, wn)
		}
	}
}

// enforceMemoryPolicy kills the newest running process when memory
// exceeds the kill threshold, returning it to the queue.
func (s *Scheduler) enforceMemoryPolicy() {
	if !s.mem.ShouldKill() {
		return
	}
	s.mtx.Lock()
	var newest *node
	for _, n := range s.running {
		if newest == nil || n.proc.StartedAt.After(newest.proc.StartedAt) {
			newest = n
		}
	}
	s.mtx.Unlock()
	if newest == nil {
		return
	}
	nlog.Warningln("memory kill threshold exceeded, returning newest process", newest.id, "to queue")
	newest.proc.Return("OOM")
	s.complete(newest)
}

// Cancel stops the dispatch loop and the memory watcher and clears the
// ready set; processes already running are not cancelled.
func (s *Scheduler) Cancel() {
	s.stopCh.Close()
	s.mem.stop()
	s.mtx.Lock()
	s.ready = nil
	s.mtx.Unlock()
	s.wg.Wait()
}
