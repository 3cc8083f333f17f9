package session

import "testing"

func TestNewProcessAssignsTag(t *testing.T) {
	p1 := NewProcess(StartInfo{Argv: []string{"cl.exe"}})
	p2 := NewProcess(StartInfo{Argv: []string{"cl.exe"}})
	if p1.Tag == "" || p2.Tag == "" {
		t.Fatalf("NewProcess left Tag empty")
	}
	if p1.Tag == p2.Tag {
		t.Fatalf("two processes got the same Tag: %s", p1.Tag)
	}
	if p1.State != StateQueued {
		t.Fatalf("NewProcess State = %v, want StateQueued", p1.State)
	}
}

func TestProcessLifecycle(t *testing.T) {
	p := NewProcess(StartInfo{})
	p.SetRunning(ExecLocal)
	state, mode := p.Snapshot()
	if state != StateRunning || mode != ExecLocal {
		t.Fatalf("after SetRunning: state=%v mode=%v", state, mode)
	}

	p.Finish(StateFinishedSuccess, 0, nil)
	state, _ = p.Snapshot()
	if state != StateFinishedSuccess {
		t.Fatalf("after Finish: state=%v, want StateFinishedSuccess", state)
	}
	if p.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", p.ExitCode)
	}
}

func TestProcessReturn(t *testing.T) {
	p := NewProcess(StartInfo{})
	p.Return("out of memory")
	state, _ := p.Snapshot()
	if state != StateReturned {
		t.Fatalf("state = %v, want StateReturned", state)
	}
	if p.ReturnReason != "out of memory" {
		t.Fatalf("ReturnReason = %q", p.ReturnReason)
	}
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	p1 := r.Add(StartInfo{Argv: []string{"a"}})
	p2 := r.Add(StartInfo{Argv: []string{"b"}})
	if p1.Info.ProcessID == p2.Info.ProcessID {
		t.Fatalf("Registry.Add assigned duplicate ids")
	}

	got, ok := r.Get(p1.Info.ProcessID)
	if !ok || got != p1 {
		t.Fatalf("Get(%d) = %v, %v; want p1, true", p1.Info.ProcessID, got, ok)
	}

	r.Remove(p1.Info.ProcessID)
	if _, ok := r.Get(p1.Info.ProcessID); ok {
		t.Fatalf("Get returned a process after Remove")
	}
	if _, ok := r.Get(p2.Info.ProcessID); !ok {
		t.Fatalf("Remove of p1 evicted p2 too")
	}
}
