package cache

import (
	"context"
	"testing"

	"github.com/uba-build/uba/cas"
)

func TestLocalBackendMissThenHit(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	ctx := context.Background()

	if _, hit, err := b.Lookup(ctx, "nonexistent"); err != nil || hit {
		t.Fatalf("Lookup on empty backend: hit=%v err=%v", hit, err)
	}

	key := cas.HashBytes([]byte("object output"))
	entry := Entry{Outputs: []cas.CasKey{key}, LogLines: []string{"compiling main.cpp"}}
	if err := b.Write(ctx, "fp1", entry); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, hit, err := b.Lookup(ctx, "fp1")
	if err != nil || !hit {
		t.Fatalf("Lookup after Write: hit=%v err=%v", hit, err)
	}
	if len(got.Outputs) != 1 || got.Outputs[0] != key {
		t.Fatalf("Lookup Outputs = %v, want [%v]", got.Outputs, key)
	}
	if len(got.LogLines) != 1 || got.LogLines[0] != "compiling main.cpp" {
		t.Fatalf("Lookup LogLines = %v", got.LogLines)
	}
}
