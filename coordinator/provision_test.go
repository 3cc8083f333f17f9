package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/uba-build/uba/cluster"
)

type fakeProvisioner struct {
	mtx  sync.Mutex
	last int32
	n    int
}

func (f *fakeProvisioner) ScaleTo(_ context.Context, n int32) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.last = n
	f.n++
	return nil
}

func (f *fakeProvisioner) snapshot() (int32, int) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.last, f.n
}

func TestCoordinatorReconcileClampsToRange(t *testing.T) {
	prov := &fakeProvisioner{}
	depth := func() (int64, int64) { return 2, 1 } // target = 3, within [1,5]
	c := NewCoordinator(prov, depth, nil, 1, 5, 5*time.Second, nil)
	c.reconcile()
	if last, _ := prov.snapshot(); last != 3 {
		t.Fatalf("reconcile scaled to %d, want 3", last)
	}
}

func TestCoordinatorReconcileClampsBelowMin(t *testing.T) {
	prov := &fakeProvisioner{}
	depth := func() (int64, int64) { return 0, 0 }
	c := NewCoordinator(prov, depth, nil, 2, 10, 5*time.Second, nil)
	c.reconcile()
	if last, _ := prov.snapshot(); last != 2 {
		t.Fatalf("reconcile scaled to %d, want min 2", last)
	}
}

func TestCoordinatorReconcileClampsAboveMax(t *testing.T) {
	prov := &fakeProvisioner{}
	depth := func() (int64, int64) { return 50, 50 }
	c := NewCoordinator(prov, depth, nil, 1, 10, 5*time.Second, nil)
	c.reconcile()
	if last, _ := prov.snapshot(); last != 10 {
		t.Fatalf("reconcile scaled to %d, want max 10", last)
	}
}

func TestCoordinatorReconcileNoopWithoutProvisioner(t *testing.T) {
	c := NewCoordinator(nil, func() (int64, int64) { return 1, 1 }, nil, 1, 5, 5*time.Second, nil)
	c.reconcile() // must not panic with a nil Provisioner
}

func TestCoordinatorHandleInterruptionRemovesNodeAndReconciles(t *testing.T) {
	host := &cluster.Node{ID: "host-1"}
	smap := cluster.NewSmap(host)
	smap.Helpers["h1"] = &cluster.Node{ID: "h1"}
	owner := cluster.NewOwner(smap)

	prov := &fakeProvisioner{}
	c := NewCoordinator(prov, func() (int64, int64) { return 0, 0 }, owner, 0, 5, 5*time.Second, nil)

	c.HandleInterruption("h1")

	if _, ok := owner.Get().Helpers["h1"]; ok {
		t.Fatalf("HandleInterruption did not remove the interrupted helper from the Smap")
	}
	if _, n := prov.snapshot(); n == 0 {
		t.Fatalf("HandleInterruption did not trigger a reconcile")
	}
}

func TestCoordinatorHandleInterruptionIgnoresUnknownNode(t *testing.T) {
	host := &cluster.Node{ID: "host-1"}
	smap := cluster.NewSmap(host)
	owner := cluster.NewOwner(smap)
	prov := &fakeProvisioner{}
	c := NewCoordinator(prov, func() (int64, int64) { return 0, 0 }, owner, 0, 5, 5*time.Second, nil)

	c.HandleInterruption("does-not-exist")

	if _, n := prov.snapshot(); n != 0 {
		t.Fatalf("HandleInterruption reconciled for an unknown node id")
	}
}
