//go:build !debug

// Package debug, release build: every assertion is a zero-cost no-op.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

func Assert(_ bool, _ ...interface{})            {}
func Assertf(_ bool, _ string, _ ...interface{}) {}
func AssertNoErr(_ error)                        {}
func AssertMsg(_ bool, _ string)                 {}
func Func(_ func())                              {}
func Errorln(_ ...interface{})                   {}
func Infof(_ string, _ ...interface{})           {}
