package main

import (
	"reflect"
	"testing"
)

func TestMergeEnvAppendsDelta(t *testing.T) {
	base := []string{"PATH=/usr/bin"}
	got := mergeEnv(base, map[string]string{"FOO": "bar"})
	want := []string{"PATH=/usr/bin", "FOO=bar"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mergeEnv = %v, want %v", got, want)
	}
	if len(base) != 1 {
		t.Fatalf("mergeEnv mutated its base slice: %v", base)
	}
}

func TestSplitLinesBasic(t *testing.T) {
	got := splitLines([]byte("stdout line\nstderr line\n"))
	want := []string{"stdout line", "stderr line"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitLines = %v, want %v", got, want)
	}
}

func TestSplitLinesNoTrailingNewline(t *testing.T) {
	got := splitLines([]byte("only line"))
	want := []string{"only line"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitLines = %v, want %v", got, want)
	}
}
