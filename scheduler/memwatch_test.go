package scheduler

import "testing"

func TestParseMeminfoKB(t *testing.T) {
	cases := map[string]uint64{
		"MemTotal:       16384000 kB": 16384000,
		"MemAvailable:    2048 kB":    2048,
		"MemTotal:":                   0,
		"garbage line":                0,
	}
	for line, want := range cases {
		if got := parseMeminfoKB(line); got != want {
			t.Fatalf("parseMeminfoKB(%q) = %d, want %d", line, got, want)
		}
	}
}

func TestMemWatcherThresholds(t *testing.T) {
	mw := newMemWatcher(80, 95)
	mw.loadPct.Store(70 * 100)
	if mw.ShouldWait() || mw.ShouldKill() {
		t.Fatalf("at 70%% load, ShouldWait/ShouldKill should both be false")
	}

	mw.loadPct.Store(85 * 100)
	if !mw.ShouldWait() {
		t.Fatalf("at 85%% load (>= wait threshold 80), ShouldWait should be true")
	}
	if mw.ShouldKill() {
		t.Fatalf("at 85%% load (< kill threshold 95), ShouldKill should be false")
	}

	mw.loadPct.Store(96 * 100)
	if !mw.ShouldKill() {
		t.Fatalf("at 96%% load (>= kill threshold 95), ShouldKill should be true")
	}
}
