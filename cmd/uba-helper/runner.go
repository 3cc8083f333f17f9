package main

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/uba-build/uba/cas"
	"github.com/uba-build/uba/cmn/nlog"
	"github.com/uba-build/uba/session"
)

func readFileBytes(path string) ([]byte, error) { return os.ReadFile(path) }

// executionLoop repeatedly pulls work from the host, runs it locally,
// and reports the outcome. It owns no concurrency itself; main starts
// one of these per -maxcpu slot.
type executionLoop struct {
	helper  *session.Helper
	host    *netHostCaller
	workDir string
	stopCh  chan struct{}
}

func newExecutionLoop(h *session.Helper, hc *netHostCaller, workDir string) *executionLoop {
	return &executionLoop{helper: h, host: hc, workDir: workDir, stopCh: make(chan struct{})}
}

func (l *executionLoop) stop() { close(l.stopCh) }

func (l *executionLoop) run() {
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}
		info, status, err := l.host.getNextProcess()
		if err != nil {
			nlog.Warningln("helper: GetNextProcess failed, backing off:", err)
			sleep(l.stopCh, backoffDelay)
			continue
		}
		switch status {
		case session.NextProcessDisconnect, session.NextProcessRemoteExecutionDisabled:
			sleep(l.stopCh, pollDelay)
			continue
		}
		l.runOne(info)
	}
}

// runOne executes a single process and reports its outcome. Without the
// interposer this binary targets (file-open interception is out of
// scope here), every tracked-input hint is resolved up front through
// the mirror tables instead of lazily on first open, and the same
// hints list doubles as the output manifest the host expects shipped
// back when the process exits successfully.
func (l *executionLoop) runOne(info session.StartInfo) {
	p := session.NewProcess(info)
	p.SetRunning(session.ExecRemote)

	for _, hint := range info.TrackedHints {
		dest := filepath.Join(l.workDir, hint)
		if err := l.helper.ResolveFile(hint, dest); err != nil {
			nlog.Warningln("helper: resolving tracked input", hint, "failed:", err)
		}
	}

	if len(info.Argv) == 0 {
		_ = l.host.reportFinished(info.ProcessID, 1, nil)
		return
	}
	cmd := exec.Command(info.Argv[0], info.Argv[1:]...)
	cmd.Dir = info.WorkingDir
	cmd.Env = mergeEnv(os.Environ(), info.EnvDelta)
	out, runErr := cmd.CombinedOutput()
	p.LogLines = append(p.LogLines, splitLines(out)...)

	exitCode := 0
	if runErr != nil {
		exitCode = 1
		if ee, ok := runErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
	}

	var outputs []cas.CasKey
	if exitCode == 0 {
		var outPaths []string
		for _, hint := range info.TrackedHints {
			outPaths = append(outPaths, filepath.Join(info.WorkingDir, hint))
		}
		keys, err := l.helper.ShipOutputs(outPaths)
		if err != nil {
			nlog.Warningln("helper: shipping outputs failed:", err)
		} else {
			outputs = keys
		}
	}

	if err := l.host.reportFinished(info.ProcessID, exitCode, outputs); err != nil {
		nlog.Warningln("helper: reporting process finished failed:", err)
	}
}

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
