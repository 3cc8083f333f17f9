package main

import (
	"os"
	"os/exec"
	"sync"

	"github.com/uba-build/uba/cmn/cos"
	"github.com/uba-build/uba/network"
	"github.com/uba-build/uba/session"
)

// rungroup mirrors the teacher's daemon rungroup: every long-lived
// worker is a cos.Runner, and the first one to exit tears down the
// rest.
type rungroup struct {
	mtx sync.Mutex
	rs  []cos.Runner
}

func newRungroup() *rungroup { return &rungroup{} }

func (g *rungroup) add(r cos.Runner) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	g.rs = append(g.rs, r)
}

func (g *rungroup) run() error {
	g.mtx.Lock()
	rs := append([]cos.Runner{}, g.rs...)
	g.mtx.Unlock()

	errCh := make(chan error, len(rs))
	for _, r := range rs {
		go func(r cos.Runner) {
			errCh <- r.Run()
		}(r)
	}
	err := <-errCh
	g.stopAll(err)
	for i := 0; i < len(rs)-1; i++ {
		<-errCh
	}
	return err
}

func (g *rungroup) stopAll(cause error) {
	g.mtx.Lock()
	rs := append([]cos.Runner{}, g.rs...)
	g.mtx.Unlock()
	for _, r := range rs {
		r.Stop(cause)
	}
}

// serverRunner adapts *network.Server to cos.Runner.
type serverRunner struct{ s *network.Server }

func (s serverRunner) Run() error { return s.s.Serve() }
func (s serverRunner) Stop(error) { _ = s.s.Shutdown() }

// localRunner executes a process on the host machine itself, used when
// the host has spare local weight and the job isn't remote-only.
type localRunner struct {
	sessionHost *session.Host
}

func (lr *localRunner) RunLocal(p *session.Process) error {
	p.SetRunning(session.ExecLocal)
	if len(p.Info.Argv) == 0 {
		err := fmtErr("empty argv")
		p.Finish(session.StateFinishedError, 1, nil)
		return err
	}
	cmd := exec.Command(p.Info.Argv[0], p.Info.Argv[1:]...)
	cmd.Dir = p.Info.WorkingDir
	cmd.Env = mergeEnv(os.Environ(), p.Info.EnvDelta)
	out, err := cmd.CombinedOutput()
	p.LogLines = append(p.LogLines, splitLines(out)...)
	if err != nil {
		exitCode := 1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		p.Finish(session.StateFinishedError, exitCode, nil)
		return nil
	}
	p.Finish(session.StateFinishedSuccess, 0, nil)
	return nil
}

func fmtErr(s string) error { return &simpleErr{s} }

type simpleErr struct{ s string }

func (e *simpleErr) Error() string { return e.s }

func mergeEnv(base []string, delta map[string]string) []string {
	out := append([]string{}, base...)
	for k, v := range delta {
		out = append(out, k+"="+v)
	}
	return out
}

func splitLines(b []byte) []string {
	var lines []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			lines = append(lines, string(b[start:i]))
			start = i + 1
		}
	}
	if start < len(b) {
		lines = append(lines, string(b[start:]))
	}
	return lines
}

// remoteDispatcher hands a process to the session host's pending queue
// so the next helper that calls GetNextProcess picks it up.
type remoteDispatcher struct {
	sessionHost *session.Host
}

func (rd *remoteDispatcher) DispatchRemote(p *session.Process) error {
	if p.Info.CanExecRemote {
		rd.sessionHost.Enqueue(p)
		return nil
	}
	return fmtErr("process not eligible for remote execution")
}
