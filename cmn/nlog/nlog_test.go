package nlog

import (
	"strings"
	"testing"
)

func TestVerbosityGate(t *testing.T) {
	defer SetVerbosity(0)

	SetVerbosity(2)
	if !V(0) || !V(1) || !V(2) {
		t.Fatalf("V() rejected a level at or below the configured verbosity")
	}
	if V(3) {
		t.Fatalf("V(3) = true, want false at verbosity 2")
	}

	SetVerbosity(0)
	if V(1) {
		t.Fatalf("V(1) = true, want false at verbosity 0")
	}
}

func TestStacktraceContainsThisFunction(t *testing.T) {
	s := Stacktrace()
	if !strings.Contains(s, "TestStacktraceContainsThisFunction") {
		t.Fatalf("Stacktrace() did not mention the calling test function:\n%s", s)
	}
}
