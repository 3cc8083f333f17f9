package trace

import "testing"

func TestRatePerSec(t *testing.T) {
	if got := ratePerSec(100, 200, 2); got != 50 {
		t.Fatalf("ratePerSec(100, 200, 2) = %v, want 50", got)
	}
	if got := ratePerSec(200, 100, 2); got != 0 {
		t.Fatalf("ratePerSec(200, 100, 2) = %v, want 0 (counter reset should not go negative)", got)
	}
	if got := ratePerSec(0, 0, 0); got != 0 {
		t.Fatalf("ratePerSec(0, 0, 0) = %v, want 0 (zero elapsed should not divide by zero)", got)
	}
}
