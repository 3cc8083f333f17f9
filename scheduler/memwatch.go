package scheduler

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/uba-build/uba/cmn/atomic"
	"github.com/uba-build/uba/cmn/cos"
)

// memWatcher samples system memory load on a tick, the same
// reserved/excess split idea the dsort package uses for its watcher,
// collapsed here to the two percent thresholds the scheduler acts on:
// stop starting new local processes at memWaitLoadPercent, kill the
// newest running one at memKillLoadPercent.
type memWatcher struct {
	waitPct, killPct float64
	loadPct          atomic.Int64 // stored as pct*100 for integer atomics
	stopCh           cos.StopCh
}

func newMemWatcher(waitPct, killPct float64) *memWatcher {
	mw := &memWatcher{waitPct: waitPct, killPct: killPct}
	mw.stopCh.Init()
	return mw
}

func (mw *memWatcher) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-mw.stopCh.Listen():
			return
		case <-ticker.C:
			if pct, err := readMemLoadPercent(); err == nil {
				mw.loadPct.Store(int64(pct * 100))
			}
		}
	}
}

func (mw *memWatcher) stop() { mw.stopCh.Close() }

func (mw *memWatcher) LoadPercent() float64 { return float64(mw.loadPct.Load()) / 100 }

func (mw *memWatcher) ShouldWait() bool { return mw.LoadPercent() >= mw.waitPct }
func (mw *memWatcher) ShouldKill() bool { return mw.LoadPercent() >= mw.killPct }

// readMemLoadPercent reads /proc/meminfo and returns used-memory percent.
// There is no ecosystem memory-stat library in the reference corpus;
// this mirrors the teacher's own internal sys.Mem() shape using the
// standard library only, see DESIGN.md.
func readMemLoadPercent() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total, avail uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			avail = parseMeminfoKB(line)
		}
	}
	if total == 0 {
		return 0, os.ErrInvalid
	}
	used := total - avail
	return float64(used) / float64(total) * 100, nil
}

func parseMeminfoKB(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, _ := strconv.ParseUint(fields[1], 10, 64)
	return v
}
