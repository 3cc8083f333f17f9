package coordinator

import (
	"context"
	"testing"
	"time"
)

func TestTimeoutFromNoDeadline(t *testing.T) {
	got := timeoutFrom(context.Background())
	if got != 2*time.Second {
		t.Fatalf("timeoutFrom(no deadline) = %v, want 2s", got)
	}
}

func TestTimeoutFromFutureDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := timeoutFrom(ctx)
	if got <= 0 || got > 5*time.Second {
		t.Fatalf("timeoutFrom(5s deadline) = %v, want in (0, 5s]", got)
	}
}

func TestTimeoutFromPastDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), -1*time.Second)
	defer cancel()
	got := timeoutFrom(ctx)
	if got != 2*time.Second {
		t.Fatalf("timeoutFrom(expired deadline) = %v, want fallback 2s", got)
	}
}
