// Package cache implements the cache client: lookups keyed by
// (bucket, normalized inputs, argv, env delta), queued asynchronous
// writes, and deterministic path-hash seeding for toolchain roots.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/uba-build/uba/cas"
	"github.com/uba-build/uba/cmn/nlog"
	"github.com/uba-build/uba/session"
)

// Key uniquely identifies a cacheable unit of work.
type Key struct {
	BucketID string
	Inputs   string // normalized, sorted path=hash pairs joined
	Argv     string
	EnvDelta string
}

func (k Key) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(k.BucketID))
	h.Write([]byte{0})
	h.Write([]byte(k.Inputs))
	h.Write([]byte{0})
	h.Write([]byte(k.Argv))
	h.Write([]byte{0})
	h.Write([]byte(k.EnvDelta))
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is what a cache hit returns.
type Entry struct {
	Outputs  []cas.CasKey
	LogLines []string
}

// Backend is the durable store behind the client: a remote cache
// server reached over the network, or (in populateCache mode) a local
// directory-backed store used for offline seeding.
type Backend interface {
	Lookup(ctx context.Context, fingerprint string) (*Entry, bool, error)
	Write(ctx context.Context, fingerprint string, e Entry) error
}

type Client struct {
	backend       Backend
	lookupTimeout time.Duration
	populateCache bool

	mtx        sync.Mutex
	pathHashes map[string]string // registered deterministic root hashes

	writeCh chan writeJob
	wg      sync.WaitGroup
	limiter *rate.Limiter
}

type writeJob struct {
	fingerprint string
	entry       Entry
}

// NewClient builds a cache client; writesPerSecond bounds how often the
// write loop drains the queue against the backend (0 disables
// throttling), so a build that produces a burst of cacheable outputs
// doesn't open a write-per-process flood against a remote tier.
func NewClient(backend Backend, lookupTimeout time.Duration, populateCache bool, writesPerSecond float64) *Client {
	var limiter *rate.Limiter
	if writesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(writesPerSecond), int(writesPerSecond)+1)
	}
	c := &Client{
		backend:       backend,
		lookupTimeout: lookupTimeout,
		populateCache: populateCache,
		pathHashes:    make(map[string]string),
		writeCh:       make(chan writeJob, 256),
		limiter:       limiter,
	}
	c.wg.Add(1)
	go c.writeLoop()
	return c
}

// RegisterPathHash seeds a deterministic content hash for a directory
// whose version matters (a toolchain root), so the input fingerprint
// stays stable across agents that happen to lay out scratch paths
// differently.
func (c *Client) RegisterPathHash(path, hash string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.pathHashes[path] = hash
}

func (c *Client) normalizeInputs(trackedInputs map[string]string) string {
	c.mtx.Lock()
	for p, h := range c.pathHashes {
		if _, ok := trackedInputs[p]; !ok {
			trackedInputs[p] = h
		}
	}
	c.mtx.Unlock()

	paths := make([]string, 0, len(trackedInputs))
	for p := range trackedInputs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var sb strings.Builder
	for _, p := range paths {
		sb.WriteString(p)
		sb.WriteByte('=')
		sb.WriteString(trackedInputs[p])
		sb.WriteByte(';')
	}
	return sb.String()
}

// Lookup sends a single request and returns a miss (optionally with a
// reason recorded in logs) or a hit with the cached outputs.
func (c *Client) Lookup(bucketID string, info session.StartInfo, trackedInputs map[string]string) (*Entry, bool) {
	key := Key{
		BucketID: bucketID,
		Inputs:   c.normalizeInputs(trackedInputs),
		Argv:     strings.Join(info.Argv, "\x1f"),
		EnvDelta: envDeltaString(info.EnvDelta),
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.lookupTimeout)
	defer cancel()
	e, hit, err := c.backend.Lookup(ctx, key.Fingerprint())
	if err != nil {
		nlog.Warningln("cache lookup failed, treating as miss:", err)
		return nil, false
	}
	return e, hit
}

// Write queues an upload so many simultaneous writes never stall the
// scheduler loop. Write does not consult the populateCache flag: whether
// a finished process is written at all is decided by the caller.
func (c *Client) Write(bucketID string, info session.StartInfo, trackedInputs map[string]string, outputs []cas.CasKey, logLines []string) {
	key := Key{
		BucketID: bucketID,
		Inputs:   c.normalizeInputs(trackedInputs),
		Argv:     strings.Join(info.Argv, "\x1f"),
		EnvDelta: envDeltaString(info.EnvDelta),
	}
	job := writeJob{fingerprint: key.Fingerprint(), entry: Entry{Outputs: outputs, LogLines: logLines}}
	select {
	case c.writeCh <- job:
	default:
		nlog.Warningln("cache write queue full, dropping entry for", bucketID)
	}
}

func (c *Client) PopulateMode() bool { return c.populateCache }

// FetchFromCache and WriteEntry adapt Client to scheduler.CacheClient;
// the scheduler only has string output paths and caller-supplied tracked
// inputs, so the richer Lookup/Write above take the fuller session-level
// shape and these two do the string<->CasKey conversion.
func (c *Client) FetchFromCache(bucketID string, info session.StartInfo) (hit bool, outputs []string, logLines []string, err error) {
	trackedInputs := make(map[string]string, len(info.TrackedHints))
	for _, h := range info.TrackedHints {
		trackedInputs[h] = h
	}
	e, ok := c.Lookup(bucketID, info, trackedInputs)
	if !ok || e == nil {
		return false, nil, nil, nil
	}
	outs := make([]string, len(e.Outputs))
	for i, k := range e.Outputs {
		outs[i] = k.String()
	}
	return true, outs, e.LogLines, nil
}

func (c *Client) WriteEntry(bucketID string, info session.StartInfo, outputs []string, logLines []string) error {
	keys := make([]cas.CasKey, 0, len(outputs))
	for _, o := range outputs {
		if k, err := cas.ParseCasKey(o); err == nil {
			keys = append(keys, k)
		}
	}
	trackedInputs := make(map[string]string, len(info.TrackedHints))
	for _, h := range info.TrackedHints {
		trackedInputs[h] = h
	}
	c.Write(bucketID, info, trackedInputs, keys, logLines)
	return nil
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	for job := range c.writeCh {
		ctx, cancel := context.WithTimeout(context.Background(), c.lookupTimeout)
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				cancel()
				continue
			}
		}
		if err := c.backend.Write(ctx, job.fingerprint, job.entry); err != nil {
			nlog.Warningln("cache write failed:", err)
		}
		cancel()
	}
}

func (c *Client) Close() {
	close(c.writeCh)
	c.wg.Wait()
}

func envDeltaString(delta map[string]string) string {
	keys := make([]string, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(delta[k])
		sb.WriteByte(';')
	}
	return sb.String()
}
