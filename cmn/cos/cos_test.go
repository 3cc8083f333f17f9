package cos

import (
	"testing"
	"time"
)

func TestS2B(t *testing.T) {
	cases := map[string]int64{
		"256KiB": 256 << 10,
		"20GB":   20 << 30,
		"1.5MB":  int64(1.5 * (1 << 20)),
		"100":    100,
		"0":      0,
	}
	for in, want := range cases {
		got, err := S2B(in)
		if err != nil {
			t.Fatalf("S2B(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("S2B(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestS2BRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "10XB"} {
		if _, err := S2B(in); err == nil {
			t.Fatalf("S2B(%q) accepted invalid input", in)
		}
	}
}

func TestToSizeString(t *testing.T) {
	if got := ToSizeString(512); got != "512B" {
		t.Fatalf("ToSizeString(512) = %q, want 512B", got)
	}
	if got := ToSizeString(1 << 20); got != "1.00MiB" {
		t.Fatalf("ToSizeString(1<<20) = %q, want 1.00MiB", got)
	}
}

func TestClampDuration(t *testing.T) {
	if got := ClampDuration(5*time.Second, time.Second, 10*time.Second); got != 5*time.Second {
		t.Fatalf("ClampDuration within range = %v, want 5s", got)
	}
	if got := ClampDuration(time.Millisecond, time.Second, 10*time.Second); got != time.Second {
		t.Fatalf("ClampDuration below lo = %v, want 1s", got)
	}
	if got := ClampDuration(time.Minute, time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("ClampDuration above hi = %v, want 10s", got)
	}
}

func TestStopChCloseIsIdempotent(t *testing.T) {
	s := NewStopCh()
	if s.IsClosed() {
		t.Fatalf("new StopCh reports closed")
	}
	s.Close()
	s.Close() // must not panic
	if !s.IsClosed() {
		t.Fatalf("StopCh does not report closed after Close")
	}
	select {
	case <-s.Listen():
	default:
		t.Fatalf("Listen() channel not closed")
	}
}

func TestStringSet(t *testing.T) {
	s := NewStringSet("a", "b")
	if !s.Contains("a") || !s.Contains("b") {
		t.Fatalf("NewStringSet did not seed all keys: %v", s)
	}
	if s.Contains("c") {
		t.Fatalf("StringSet reports an unseeded key present")
	}
	s.Add("c")
	if !s.Contains("c") {
		t.Fatalf("Add did not register the key")
	}
}

func TestStringInSlice(t *testing.T) {
	list := []string{"cl.exe", "clang", "gcc"}
	if !StringInSlice("clang", list) {
		t.Fatalf("StringInSlice did not find a present element")
	}
	if StringInSlice("rustc", list) {
		t.Fatalf("StringInSlice found an absent element")
	}
}

func TestNonZero(t *testing.T) {
	if got := NonZero(0, 5); got != 5 {
		t.Fatalf("NonZero(0, 5) = %d, want 5", got)
	}
	if got := NonZero(3, 5); got != 3 {
		t.Fatalf("NonZero(3, 5) = %d, want 3", got)
	}
}
