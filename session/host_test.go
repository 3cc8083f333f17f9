package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/uba-build/uba/cas"
)

func TestHostEnqueueAndGetNextProcess(t *testing.T) {
	h := NewHost()
	if _, resp := h.GetNextProcess(); resp != NextProcessDisconnect {
		t.Fatalf("GetNextProcess on empty host = %v, want NextProcessDisconnect", resp)
	}

	p := h.Procs.Add(StartInfo{Argv: []string{"cl.exe"}})
	h.Enqueue(p)

	got, resp := h.GetNextProcess()
	if resp != NextProcessRecord || got != p {
		t.Fatalf("GetNextProcess = %v, %v; want p, NextProcessRecord", got, resp)
	}
	state, mode := got.Snapshot()
	if state != StateRunning || mode != ExecRemote {
		t.Fatalf("dispatched process state=%v mode=%v, want Running/ExecRemote", state, mode)
	}
}

func TestHostDisableRemoteExecution(t *testing.T) {
	h := NewHost()
	p := h.Procs.Add(StartInfo{})
	h.Enqueue(p)
	h.DisableRemoteExecution()

	if _, resp := h.GetNextProcess(); resp != NextProcessRemoteExecutionDisabled {
		t.Fatalf("GetNextProcess after disable = %v, want NextProcessRemoteExecutionDisabled", resp)
	}
}

func TestHostProcessReturnedRequeues(t *testing.T) {
	h := NewHost()
	var returned *Process
	h.SetReturnedCallback(func(p *Process) { returned = p })

	p := h.Procs.Add(StartInfo{CanExecRemote: true})
	h.ProcessReturned(p, "tcp reset")

	if returned != p {
		t.Fatalf("onReturned callback not invoked with the returned process")
	}
	if p.Info.CanExecRemote {
		t.Fatalf("ProcessReturned left CanExecRemote set")
	}
	if _, resp := h.GetNextProcess(); resp != NextProcessRecord {
		t.Fatalf("returned process was not re-enqueued")
	}
}

func TestHostPeekNextProcessDoesNotDequeue(t *testing.T) {
	h := NewHost()
	if resp := h.PeekNextProcess(); resp != NextProcessDisconnect {
		t.Fatalf("PeekNextProcess on empty host = %v, want NextProcessDisconnect", resp)
	}

	p := h.Procs.Add(StartInfo{Argv: []string{"cl.exe"}})
	h.Enqueue(p)

	if resp := h.PeekNextProcess(); resp != NextProcessRecord {
		t.Fatalf("PeekNextProcess = %v, want NextProcessRecord", resp)
	}
	if resp := h.PeekNextProcess(); resp != NextProcessRecord {
		t.Fatalf("second PeekNextProcess = %v, want NextProcessRecord (peek must not dequeue)", resp)
	}

	got, resp := h.GetNextProcess()
	if resp != NextProcessRecord || got != p {
		t.Fatalf("GetNextProcess after peeking = %v, %v; want p, NextProcessRecord", got, resp)
	}
	if resp := h.PeekNextProcess(); resp != NextProcessDisconnect {
		t.Fatalf("PeekNextProcess after the only process was dequeued = %v, want NextProcessDisconnect", resp)
	}
}

func TestHostPeekNextProcessHonorsRemoteDisabled(t *testing.T) {
	h := NewHost()
	p := h.Procs.Add(StartInfo{})
	h.Enqueue(p)
	h.DisableRemoteExecution()

	if resp := h.PeekNextProcess(); resp != NextProcessRemoteExecutionDisabled {
		t.Fatalf("PeekNextProcess after disable = %v, want NextProcessRemoteExecutionDisabled", resp)
	}
}

func TestHostRecordDeleteAndCopy(t *testing.T) {
	h := NewHost()
	h.Hashes.Append(NewNameHashEntry("/src/a.h", cas.HashBytes([]byte("a")), time.Now()))

	if err := h.RecordCopy("/src/a.h", "/src/b.h"); err != nil {
		t.Fatalf("RecordCopy: %v", err)
	}
	key, ok := h.LookupHashPath("/src/b.h")
	if !ok || key != cas.HashBytes([]byte("a")) {
		t.Fatalf("LookupHashPath(/src/b.h) = %v, %v; want a's hash", key, ok)
	}

	h.RecordDelete("/src/a.h")
	if _, ok := h.LookupHashPath("/src/a.h"); ok {
		t.Fatalf("RecordDelete did not tombstone /src/a.h")
	}

	if err := h.RecordCopy("/src/missing.h", "/src/c.h"); err == nil {
		t.Fatalf("RecordCopy succeeded for a source with no known hash")
	}
}

func TestHostRecordCreateAndRemoveDirectory(t *testing.T) {
	h := NewHost()
	h.RecordCreateDirectory("/build/out")
	if _, ok := h.LookupDirPath("/build/out"); !ok {
		t.Fatalf("RecordCreateDirectory did not make /build/out resolvable")
	}

	h.RecordRemoveDirectory("/build/out")
	if _, ok := h.LookupDirPath("/build/out"); ok {
		t.Fatalf("RecordRemoveDirectory did not tombstone /build/out")
	}
}

func TestHostPopulateDirTable(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "top.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "nested.txt"), []byte("y"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	h := NewHost()
	if err := h.PopulateDirTable(root); err != nil {
		t.Fatalf("PopulateDirTable: %v", err)
	}

	rootEntry, ok := h.LookupDirPath(root)
	if !ok {
		t.Fatalf("LookupDirPath(%s) not found after PopulateDirTable", root)
	}
	foundTop := false
	for _, f := range rootEntry.Files {
		if f == "top.txt" {
			foundTop = true
		}
	}
	if !foundTop {
		t.Fatalf("root entry Files = %v, want top.txt present", rootEntry.Files)
	}
	foundSub := false
	for _, d := range rootEntry.SubDirs {
		if d == "sub" {
			foundSub = true
		}
	}
	if !foundSub {
		t.Fatalf("root entry SubDirs = %v, want sub present", rootEntry.SubDirs)
	}

	subEntry, ok := h.LookupDirPath(filepath.Join(root, "sub"))
	if !ok || len(subEntry.Files) != 1 || subEntry.Files[0] != "nested.txt" {
		t.Fatalf("sub dir entry = %+v, %v; want a single nested.txt", subEntry, ok)
	}
}
