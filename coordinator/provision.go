package coordinator

import (
	"context"
	"time"

	"github.com/uba-build/uba/cluster"
	"github.com/uba-build/uba/cmn/cos"
	"github.com/uba-build/uba/cmn/nlog"
)

// Provisioner is what the coordinator's autoscale loop needs from
// whichever backend is configured: Kubernetes, or nothing (manual helper
// registration only). The SSH fleet (SSHProvisioner) has no ScaleTo and
// is not a Provisioner; it only starts a fixed list of hosts.
type Provisioner interface {
	// ScaleTo asks for exactly n helpers to be running.
	ScaleTo(ctx context.Context, n int32) error
}

// QueueDepthFunc reports how many processes are currently queued or
// waiting on a helper, the signal the autoscale loop reacts to.
type QueueDepthFunc func() (queued, runningRemote int64)

// Coordinator is the long-lived background runner that watches queue
// depth and drives the configured Provisioner to keep the helper pool
// sized to demand. It does not watch spot/preemption notices itself;
// interruptions reach it through HandleInterruption.
type Coordinator struct {
	prov       Provisioner
	depth      QueueDepthFunc
	owner      *cluster.Owner
	minHelpers int32
	maxHelpers int32
	interval   time.Duration
	watcher    *InterruptWatcher
	stopCh     cos.StopCh
}

func NewCoordinator(prov Provisioner, depth QueueDepthFunc, owner *cluster.Owner, minHelpers, maxHelpers int32, interval time.Duration, watcher *InterruptWatcher) *Coordinator {
	c := &Coordinator{
		prov:       prov,
		depth:      depth,
		owner:      owner,
		minHelpers: minHelpers,
		maxHelpers: maxHelpers,
		interval:   cos.ClampDuration(interval, 5*time.Second, 5*time.Minute),
		watcher:    watcher,
	}
	c.stopCh.Init()
	return c
}

func (c *Coordinator) Name() string { return "coordinator" }

func (c *Coordinator) Run() error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh.Listen():
			return nil
		case <-ticker.C:
			c.reconcile()
		}
	}
}

func (c *Coordinator) Stop(error) { c.stopCh.Close() }

// reconcile computes a target helper count from current queue pressure
// and asks the provisioner to match it; one helper covers roughly one
// queued-or-remote-running unit of work, clamped to [min,max].
func (c *Coordinator) reconcile() {
	if c.prov == nil {
		return
	}
	queued, running := c.depth()
	target := queued + running
	if target < int64(c.minHelpers) {
		target = int64(c.minHelpers)
	}
	if target > int64(c.maxHelpers) {
		target = int64(c.maxHelpers)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.prov.ScaleTo(ctx, int32(target)); err != nil {
		nlog.Warningln("coordinator: scale request failed:", err)
	}
}

// HandleInterruption removes a node from the membership map ahead of a
// forced reclamation, then immediately reconciles so a replacement is
// requested without waiting for the next tick.
func (c *Coordinator) HandleInterruption(nodeID string) {
	if c.owner == nil {
		return
	}
	smap := c.owner.Get()
	if _, ok := smap.Helpers[nodeID]; !ok {
		return
	}
	next := smap.Clone()
	delete(next.Helpers, nodeID)
	c.owner.Put(next)
	nlog.Warningln("coordinator: dropped interrupted helper", nodeID, "from membership")
	c.reconcile()
}
