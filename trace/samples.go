package trace

import (
	"time"

	"github.com/lufia/iostat"

	"github.com/uba-build/uba/cmn/nlog"
	"github.com/uba-build/uba/scheduler"
)

// SampleRunner periodically emits CpuMemSample and DriveSample records,
// the host's own telemetry alongside whatever the detoured processes
// report; it reuses the scheduler's memory reading for the mem half
// and lufia/iostat for per-drive throughput, since no code path in the
// reference corpus wired that dependency to anything before this.
type SampleRunner struct {
	w         *Writer
	interval  time.Duration
	prevRead  map[string]uint64
	prevWrite map[string]uint64
	prevAt    time.Time
}

func NewSampleRunner(w *Writer, interval time.Duration) *SampleRunner {
	return &SampleRunner{
		w:         w,
		interval:  interval,
		prevRead:  make(map[string]uint64),
		prevWrite: make(map[string]uint64),
	}
}

// Sample takes one reading and writes the corresponding records;
// RunSamples loops calling this on interval until stopCh closes.
func (s *SampleRunner) Sample(memPercent float64) {
	if err := s.w.WriteRecord(RecCpuMemSample, &CpuMemSampleBody{MemPercent: memPercent}); err != nil {
		nlog.Warningln("trace: cpu/mem sample write failed:", err)
	}
	s.sampleDrives()
}

func (s *SampleRunner) sampleDrives() {
	drives, err := iostat.ReadDriveStats()
	if err != nil {
		return
	}
	now := time.Now()
	elapsed := now.Sub(s.prevAt).Seconds()
	s.prevAt = now
	if elapsed <= 0 {
		elapsed = s.interval.Seconds()
	}
	for _, d := range drives {
		readBps := ratePerSec(s.prevRead[d.Name], uint64(d.ReadBytes), elapsed)
		writeBps := ratePerSec(s.prevWrite[d.Name], uint64(d.WriteBytes), elapsed)
		s.prevRead[d.Name] = uint64(d.ReadBytes)
		s.prevWrite[d.Name] = uint64(d.WriteBytes)
		body := &DriveSampleBody{Name: d.Name, ReadBps: readBps, WriteBps: writeBps}
		if err := s.w.WriteRecord(RecDriveSample, body); err != nil {
			nlog.Warningln("trace: drive sample write failed:", err)
		}
	}
}

func ratePerSec(prev, cur uint64, elapsed float64) float64 {
	if cur < prev || elapsed <= 0 {
		return 0
	}
	return float64(cur-prev) / elapsed
}

// RunSamples wires a scheduler's memory watcher reading into the sampler loop;
// callers typically start this as a goroutine.
func RunSamples(w *Writer, sched *scheduler.Scheduler, interval time.Duration, stopCh <-chan struct{}) {
	sampler := NewSampleRunner(w, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			sampler.Sample(sched.MemLoadPercent())
		}
	}
}
