// Package fs provides root-path virtualization: an ordered list of
// (virtual, local) prefix pairs used to rewrite paths a detoured process
// sees into paths the local OS understands, and back again when
// serializing file references to a remote helper.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package fs

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/uba-build/uba/cmn/cos"
)

type Root struct {
	Virtual string
	Local   string
}

// RootsHandle is an immutable, ordered list of virtual/local prefix
// pairs shared by every process launched under the same roots set; the
// handle is looked up by id when a remote process record references it.
type RootsHandle struct {
	id    uint32
	roots []Root
}

func NewRootsHandle(id uint32, roots []Root) *RootsHandle {
	// Longest virtual prefix first so DevirtualizeString picks the most
	// specific mapping.
	sorted := make([]Root, len(roots))
	copy(sorted, roots)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && len(sorted[j].Virtual) > len(sorted[j-1].Virtual); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return &RootsHandle{id: id, roots: sorted}
}

func (h *RootsHandle) ID() uint32 { return h.id }

// Roots returns the handle's virtual/local pairs in the sorted order
// DevirtualizeString uses, for wire encoding (MsgGetRoots).
func (h *RootsHandle) Roots() []Root { return h.roots }

// DevirtualizeString rewrites a virtual path to its local equivalent,
// e.g. "/vfs/toolchain/bin/cc" -> "C:/sdk/bin/cc". Paths with no matching
// prefix are returned unchanged (already a local path).
func (h *RootsHandle) DevirtualizeString(p string) string {
	for _, r := range h.roots {
		if strings.HasPrefix(p, r.Virtual) {
			return r.Local + strings.TrimPrefix(p, r.Virtual)
		}
	}
	return p
}

// VirtualizeString is the inverse of DevirtualizeString, used when the
// host serializes a local file reference to send to a helper.
func (h *RootsHandle) VirtualizeString(p string) string {
	for _, r := range h.roots {
		if strings.HasPrefix(p, r.Local) {
			return r.Virtual + strings.TrimPrefix(p, r.Local)
		}
	}
	return p
}

// Registry holds the roots handles live for a session, keyed by id.
type Registry struct {
	mtx  sync.RWMutex
	m    map[uint32]*RootsHandle
	next uint32
}

func NewRegistry() *Registry { return &Registry{m: make(map[uint32]*RootsHandle)} }

func (r *Registry) Register(roots []Root) *RootsHandle {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.next++
	h := NewRootsHandle(r.next, roots)
	r.m[h.id] = h
	return h
}

func (r *Registry) Get(id uint32) (*RootsHandle, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	h, ok := r.m[id]
	return h, ok
}

// WorkfileName mirrors the teacher's tie-broken unique-name scheme for
// scratch files: prefix.base.tie.pid, so concurrently-running processes
// on the same mountpoint never collide on a workfile name.
func WorkfileName(dir, base, prefix string, pid int) string {
	tie := cos.GenTie()
	fname := fmt.Sprintf("%s.%s.%s.%x", prefix, base, tie, pid)
	return filepath.Join(dir, fname)
}
