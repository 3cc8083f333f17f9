package trace

import (
	"bytes"
	"testing"
	"time"
)

func rec(b byte) []byte { return []byte{b} }

func TestRingSnapshotBeforeWrap(t *testing.T) {
	r := NewRing(4)
	r.Append(rec(1))
	r.Append(rec(2))

	got := r.Snapshot()
	if len(got) != 2 || !bytes.Equal(got[0], rec(1)) || !bytes.Equal(got[1], rec(2)) {
		t.Fatalf("Snapshot = %v, want [[1] [2]]", got)
	}
}

func TestRingSnapshotAfterWrapPreservesOrder(t *testing.T) {
	r := NewRing(3)
	for i := byte(1); i <= 5; i++ {
		r.Append(rec(i))
	}
	// capacity 3, 5 appends: ring now holds [3,4,5] oldest-to-newest.
	got := r.Snapshot()
	want := [][]byte{rec(3), rec(4), rec(5)}
	if len(got) != len(want) {
		t.Fatalf("Snapshot len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("Snapshot[%d] = %v, want %v (full snapshot: %v)", i, got[i], want[i], got)
		}
	}
}

func TestRingSubscribeReceivesAppendedRecords(t *testing.T) {
	r := NewRing(4)
	ch := r.Subscribe(2)
	r.Append(rec(9))

	select {
	case got := <-ch:
		if !bytes.Equal(got, rec(9)) {
			t.Fatalf("subscriber got %v, want %v", got, rec(9))
		}
	default:
		t.Fatalf("subscriber received nothing after Append")
	}

	r.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after Unsubscribe")
	}
}

func TestRingSubscriberDoesNotBlockWriterWhenFull(t *testing.T) {
	r := NewRing(4)
	r.Subscribe(1)
	r.Append(rec(1))

	// channel capacity 1 is now full and nobody is draining it; a second
	// append must still return instead of blocking on the send.
	done := make(chan struct{})
	go func() {
		r.Append(rec(2))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Append blocked on a saturated subscriber channel")
	}
}
