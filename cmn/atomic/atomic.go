// Package atomic provides thin, typed wrappers around sync/atomic so call
// sites read as "load/store/cas" instead of bit-width juggling.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package atomic

import "sync/atomic"

type Bool struct{ v int32 }

func (b *Bool) Load() bool { return atomic.LoadInt32(&b.v) != 0 }

func (b *Bool) Store(val bool) {
	if val {
		atomic.StoreInt32(&b.v, 1)
	} else {
		atomic.StoreInt32(&b.v, 0)
	}
}

func (b *Bool) CAS(old, newVal bool) bool {
	var o, n int32
	if old {
		o = 1
	}
	if newVal {
		n = 1
	}
	return atomic.CompareAndSwapInt32(&b.v, o, n)
}

type Int32 struct{ v int32 }

func (i *Int32) Load() int32           { return atomic.LoadInt32(&i.v) }
func (i *Int32) Store(val int32)       { atomic.StoreInt32(&i.v, val) }
func (i *Int32) Add(delta int32) int32 { return atomic.AddInt32(&i.v, delta) }
func (i *Int32) Inc() int32            { return i.Add(1) }
func (i *Int32) Dec() int32            { return i.Add(-1) }

type Int64 struct{ v int64 }

func (i *Int64) Load() int64           { return atomic.LoadInt64(&i.v) }
func (i *Int64) Store(val int64)       { atomic.StoreInt64(&i.v, val) }
func (i *Int64) Add(delta int64) int64 { return atomic.AddInt64(&i.v, delta) }
func (i *Int64) Inc() int64            { return i.Add(1) }
func (i *Int64) Dec() int64            { return i.Add(-1) }
func (i *Int64) CAS(old, n int64) bool { return atomic.CompareAndSwapInt64(&i.v, old, n) }

type Uint64 struct{ v uint64 }

func (u *Uint64) Load() uint64            { return atomic.LoadUint64(&u.v) }
func (u *Uint64) Store(val uint64)        { atomic.StoreUint64(&u.v, val) }
func (u *Uint64) Add(delta uint64) uint64 { return atomic.AddUint64(&u.v, delta) }
func (u *Uint64) Sub(delta uint64) uint64 { return atomic.AddUint64(&u.v, ^(delta - 1)) }

type Pointer struct{ v atomic.Value }

func (p *Pointer) Load() interface{}     { return p.v.Load() }
func (p *Pointer) Store(val interface{}) { p.v.Store(val) }
