// Package memsys provides memory management on top of memory-mapped
// files and a reusable slab pool, the same scatter-gather-buffer idiom
// the core applies to its io.Reader/io.Writer scratch buffers, adapted
// here to back content-addressed blob views.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// MappedView is a read-only view of a blob's contents, either backed by
// mmap (MapFile) or held as a plain heap slice (NewHeapView, used when
// the bytes were already materialized by decompression). Data is valid
// only until Release drops the ref count to zero. RefCount lets callers
// overlap views of the same CAS entry without re-mapping, matching the
// in-memory ref-count the eviction policy checks before reclaiming a
// CasTable row.
type MappedView struct {
	Data   []byte
	refs   int32
	mapped bool // true if Data came from unix.Mmap and must be unmapped on release
}

func MapFile(path string) (*MappedView, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return &MappedView{Data: nil, refs: 1}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &MappedView{Data: data, refs: 1, mapped: true}, nil
}

// NewHeapView wraps an already-materialized slice (e.g. decompression
// output) in the same ref-counted view type MapFile returns, so callers
// don't need to distinguish a mapped blob from a decompressed one.
func NewHeapView(data []byte) *MappedView {
	return &MappedView{Data: data, refs: 1}
}

func (v *MappedView) AddRef() { atomic.AddInt32(&v.refs, 1) }

// Release decrements the ref count and unmaps once it reaches zero; a
// heap-backed view is simply dropped for the garbage collector.
func (v *MappedView) Release() error {
	if atomic.AddInt32(&v.refs, -1) > 0 {
		return nil
	}
	if !v.mapped || v.Data == nil {
		return nil
	}
	return unix.Munmap(v.Data)
}

func (v *MappedView) RefCount() int32 { return atomic.LoadInt32(&v.refs) }
