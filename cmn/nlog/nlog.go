// Package nlog is a small leveled logger in the spirit of the teacher's
// glog wrapper: a V() verbosity check for call sites to gate Info on,
// Info/Warning/Error writers that log unconditionally, and a
// depth-aware variant for call sites that want the caller's line number.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
)

var (
	mu   sync.Mutex
	std  = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
	vlvl int32
)

// SetVerbosity sets the global verbosity threshold that V() checks;
// Infoln itself does not consult it, so call sites gate with
// `if nlog.V(n) { ... }`.
func SetVerbosity(v int) { atomic.StoreInt32(&vlvl, int32(v)) }

func V(lvl int) bool { return int32(lvl) <= atomic.LoadInt32(&vlvl) }

func Infoln(a ...interface{})    { logln("I", 0, a...) }
func Warningln(a ...interface{}) { logln("W", 0, a...) }
func Errorln(a ...interface{})   { logln("E", 0, a...) }

func Infof(f string, a ...interface{})    { logf("I", 0, f, a...) }
func Warningf(f string, a ...interface{}) { logf("W", 0, f, a...) }
func Errorf(f string, a ...interface{})   { logf("E", 0, f, a...) }

func InfoDepth(depth int, a ...interface{})    { logln("I", depth, a...) }
func ErrorDepth(depth int, a ...interface{})   { logln("E", depth, a...) }
func WarningDepth(depth int, a ...interface{}) { logln("W", depth, a...) }

func logln(level string, depth int, a ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	std.Output(4+depth, level+" "+fmt.Sprintln(a...))
}

func logf(level string, depth int, f string, a ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	std.Output(4+depth, level+" "+fmt.Sprintf(f, a...)+"\n")
}

// Flush is a no-op placeholder kept for call-site parity with glog.Flush().
func Flush() {}

// Stacktrace is used by fatal call sites that want to leave a trail before exit.
func Stacktrace() string {
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
