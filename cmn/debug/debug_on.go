//go:build debug

// Package debug provides assertions that compile to no-ops unless built
// with -tags debug; see debug_off.go for the release-build counterpart.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"

	"github.com/uba-build/uba/cmn/nlog"
)

func Assert(cond bool, a ...interface{}) {
	if !cond {
		panic("assertion failed: " + fmt.Sprint(a...))
	}
}

func Assertf(cond bool, f string, a ...interface{}) {
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(f, a...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic("assertion failed: " + err.Error())
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		panic("assertion failed: " + msg)
	}
}

func Func(f func()) { f() }

func Errorln(a ...interface{}) { nlog.ErrorDepth(1, append([]interface{}{"[DEBUG]"}, a...)...) }

func Infof(f string, a ...interface{}) { nlog.Infof("[DEBUG] "+f, a...) }
