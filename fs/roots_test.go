package fs

import (
	"strings"
	"testing"
)

func TestDevirtualizeStringLongestPrefixWins(t *testing.T) {
	h := NewRootsHandle(1, []Root{
		{Virtual: "/vfs", Local: "C:/sdk"},
		{Virtual: "/vfs/toolchain", Local: "C:/toolchain"},
	})
	got := h.DevirtualizeString("/vfs/toolchain/bin/cc")
	want := "C:/toolchain/bin/cc"
	if got != want {
		t.Fatalf("DevirtualizeString = %q, want %q (longest virtual prefix should win)", got, want)
	}

	got = h.DevirtualizeString("/vfs/other/file.h")
	want = "C:/sdk/other/file.h"
	if got != want {
		t.Fatalf("DevirtualizeString = %q, want %q", got, want)
	}
}

func TestDevirtualizeStringNoMatchPassesThrough(t *testing.T) {
	h := NewRootsHandle(1, []Root{{Virtual: "/vfs", Local: "C:/sdk"}})
	p := "C:/already/local/path"
	if got := h.DevirtualizeString(p); got != p {
		t.Fatalf("DevirtualizeString(%q) = %q, want unchanged", p, got)
	}
}

func TestVirtualizeStringIsInverse(t *testing.T) {
	h := NewRootsHandle(1, []Root{{Virtual: "/vfs", Local: "C:/sdk"}})
	local := "C:/sdk/include/stdio.h"
	virtual := h.VirtualizeString(local)
	if virtual != "/vfs/include/stdio.h" {
		t.Fatalf("VirtualizeString(%q) = %q", local, virtual)
	}
	if got := h.DevirtualizeString(virtual); got != local {
		t.Fatalf("round trip mismatch: DevirtualizeString(%q) = %q, want %q", virtual, got, local)
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	h1 := r.Register([]Root{{Virtual: "/a", Local: "/b"}})
	h2 := r.Register([]Root{{Virtual: "/c", Local: "/d"}})
	if h1.ID() == h2.ID() {
		t.Fatalf("Registry assigned duplicate ids: %d", h1.ID())
	}

	got, ok := r.Get(h1.ID())
	if !ok || got != h1 {
		t.Fatalf("Get(%d) = %v, %v; want h1, true", h1.ID(), got, ok)
	}
	if _, ok := r.Get(999); ok {
		t.Fatalf("Get found a handle id that was never registered")
	}
}

func TestWorkfileNameIsUniquePerCall(t *testing.T) {
	a := WorkfileName("/tmp", "main.obj", "uba", 1234)
	b := WorkfileName("/tmp", "main.obj", "uba", 1234)
	if a == b {
		t.Fatalf("WorkfileName produced the same name twice: %s", a)
	}
	if !strings.HasPrefix(a, "/tmp/uba.main.obj.") {
		t.Fatalf("WorkfileName = %q, want prefix /tmp/uba.main.obj.", a)
	}
}
