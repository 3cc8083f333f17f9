// Package storageproxy implements the zone-local cache-blob proxy: a
// per-key state machine that coalesces concurrent helper fetches into
// one upstream request to the host and answers segmented delivery as
// bytes arrive.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package storageproxy

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/uba-build/uba/cas"
	"github.com/uba-build/uba/cmn/nlog"
)

type State int

const (
	Unseen State = iota
	Fetching
	Available
	Error
)

// Awaiter is one helper's pending interest in a key; RespCh carries its
// segments: an awaiter that joins a fetch already in progress first
// receives every byte fetched so far, then each later segment.
// NeedByte is not consulted by the proxy. Dead is set once the helper's connection drops so the
// proxy's segment-arrival loop can skip it without serializing data
// for a client nobody is listening on.
type Awaiter struct {
	ID       uint64
	NeedByte int64
	RespCh   chan Segment
	Dead     bool
}

type Segment struct {
	Data []byte
	Err  error
	Done bool
}

type keyState struct {
	mtx      sync.Mutex
	state    State
	have     []byte // bytes fetched so far from the host
	total    int64
	err      error
	awaiters []*Awaiter
}

// Fetcher abstracts the upstream host connection so the proxy can be
// unit tested without a live Network client.
type Fetcher interface {
	FetchSegment(key cas.CasKey, offset int64) ([]byte, bool, error)
}

type Proxy struct {
	mtx           sync.Mutex
	keys          map[cas.CasKey]*keyState
	fetcher       Fetcher
	local         *cas.Store // non-nil when UseLocalStorage is enabled
	useLocalStore bool
	nextAwaiterID uint64
}

func New(fetcher Fetcher, local *cas.Store, useLocalStorage bool) *Proxy {
	return &Proxy{
		keys:          make(map[cas.CasKey]*keyState),
		fetcher:       fetcher,
		local:         local,
		useLocalStore: useLocalStorage,
	}
}

// FetchBegin is called when a helper issues its first request for key;
// returns a channel the caller reads segments from until Done is true.
// Coalescing keys on Canonical() so two requests for the same content
// that differ only in their Compressed/ViaProxy flag bits share one
// in-flight fetch rather than fragmenting into separate keyStates.
func (p *Proxy) FetchBegin(key cas.CasKey) *Awaiter {
	canon := key.Canonical()
	if p.useLocalStore && p.local != nil {
		if err := p.local.CheckContent(canon); err == nil {
			aw := p.newAwaiter()
			aw.RespCh <- Segment{Done: true}
			return aw
		}
	}

	p.mtx.Lock()
	ks, ok := p.keys[canon]
	if !ok {
		ks = &keyState{state: Unseen}
		p.keys[canon] = ks
	}
	p.mtx.Unlock()

	aw := p.newAwaiter()

	ks.mtx.Lock()
	defer ks.mtx.Unlock()
	switch ks.state {
	case Available:
		aw.RespCh <- Segment{Data: ks.have, Done: true}
	case Error:
		aw.RespCh <- Segment{Err: ks.err, Done: true}
	case Unseen:
		ks.state = Fetching
		ks.awaiters = append(ks.awaiters, aw)
		go p.driveFetch(key, ks)
	case Fetching:
		if len(ks.have) > 0 {
			aw.RespCh <- Segment{Data: ks.have}
		}
		ks.awaiters = append(ks.awaiters, aw)
	}
	return aw
}

func (p *Proxy) newAwaiter() *Awaiter {
	p.mtx.Lock()
	p.nextAwaiterID++
	id := p.nextAwaiterID
	p.mtx.Unlock()
	return &Awaiter{ID: id, RespCh: make(chan Segment, 8)}
}

// Disconnect marks an awaiter dead; its queued responses are dropped
// silently rather than serialized to a peer that is gone.
func (p *Proxy) Disconnect(aw *Awaiter) {
	aw.Dead = true
}

func (p *Proxy) driveFetch(key cas.CasKey, ks *keyState) {
	var offset int64
	for {
		data, done, err := p.fetcher.FetchSegment(key, offset)
		ks.mtx.Lock()
		if err != nil {
			ks.state = Error
			ks.err = err
			p.broadcast(ks, Segment{Err: err, Done: true})
			ks.mtx.Unlock()
			return
		}
		ks.have = append(ks.have, data...)
		offset += int64(len(data))
		p.broadcastSegment(ks, data, done)
		if done {
			ks.state = Available
			ks.total = offset
			ks.mtx.Unlock()
			return
		}
		ks.mtx.Unlock()
	}
}

// broadcastSegment sends the newly arrived segment to every live
// awaiter; it does not remove them from the queue until Done.
func (p *Proxy) broadcastSegment(ks *keyState, data []byte, done bool) {
	live := ks.awaiters[:0]
	for _, aw := range ks.awaiters {
		if aw.Dead {
			continue
		}
		select {
		case aw.RespCh <- Segment{Data: data, Done: done}:
		default:
			nlog.Warningln("proxy: awaiter", aw.ID, "response queue full, dropping segment")
		}
		if !done {
			live = append(live, aw)
		}
	}
	ks.awaiters = live
}

func (p *Proxy) broadcast(ks *keyState, seg Segment) {
	for _, aw := range ks.awaiters {
		if aw.Dead {
			continue
		}
		aw.RespCh <- seg
	}
	ks.awaiters = nil
}

// PrefetchAll drains every key to Available or Error without a caller
// waiting on individual Awaiters, used by a helper warming its cache
// ahead of a batch of processes it already knows it will need files
// for. Concurrency is capped so a large prefetch list doesn't open one
// goroutine per key against the upstream host.
func (p *Proxy) PrefetchAll(keys []cas.CasKey, concurrency int) error {
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(concurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			aw := p.FetchBegin(key)
			for seg := range aw.RespCh {
				if seg.Err != nil {
					return seg.Err
				}
				if seg.Done {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// ReportBadProxy logs a client's report that this proxy is bad; the
// report is not forwarded anywhere, and no replacement proxy is chosen.
func (p *Proxy) ReportBadProxy(reason string) {
	nlog.Warningln("proxy reported bad by a client:", reason)
}
