//go:build linux

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// shellPolicy runs scripts with /bin/sh so the process-level behavior can be
// tested without a Python installation.
func shellPolicy(t *testing.T) Policy {
	t.Helper()
	p := DefaultPolicy()
	p.Interpreter = "sh"
	p.ScriptName = "main.sh"
	p.WorkRoot = filepath.Join(t.TempDir(), "runs")
	p.QueueWait = 0
	return p
}

func newSandbox(t *testing.T, p Policy) *ProcessSandbox {
	t.Helper()
	sb, err := NewProcessSandbox(p, zaptest.NewLogger(t))
	if errors.Is(err, ErrUnconfined) {
		t.Skipf("host cannot confine runs: %v", err)
	}
	if err != nil {
		t.Fatalf("NewProcessSandbox: %v", err)
	}
	return sb
}

func assertWorkRootEmpty(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("reading work root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("work root has %d leftover entries, want 0", len(entries))
	}
}

func TestRunSuccess(t *testing.T) {
	p := shellPolicy(t)
	sb := newSandbox(t, p)

	res, err := sb.Run(context.Background(), Request{Code: "echo hello", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("outcome = %q, want success (stderr %q)", res.Outcome, res.Stderr)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "hello\n")
	}
	if res.ErrorMessage() != "" {
		t.Errorf("error message = %q, want empty", res.ErrorMessage())
	}
	assertWorkRootEmpty(t, p.WorkRoot)
}

func TestRunNonZeroExit(t *testing.T) {
	p := shellPolicy(t)
	sb := newSandbox(t, p)

	res, err := sb.Run(context.Background(), Request{Code: "echo partial; echo oops >&2; exit 3", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeFailure {
		t.Fatalf("outcome = %q, want failure", res.Outcome)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if res.Stdout != "partial\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if res.ErrorMessage() != "oops\n" {
		t.Errorf("error message = %q, want stderr", res.ErrorMessage())
	}
	if res.Duration >= 5*time.Second {
		t.Errorf("duration = %v, want well under the budget", res.Duration)
	}
	assertWorkRootEmpty(t, p.WorkRoot)
}

func TestRunEmptyCode(t *testing.T) {
	sb := newSandbox(t, shellPolicy(t))

	res, err := sb.Run(context.Background(), Request{Code: "", Timeout: time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Succeeded() {
		t.Errorf("outcome = %q, want success for an empty script", res.Outcome)
	}
}

func TestRunTimeout(t *testing.T) {
	p := shellPolicy(t)
	sb := newSandbox(t, p)

	budget := 300 * time.Millisecond
	start := time.Now()
	res, err := sb.Run(context.Background(), Request{Code: "echo started; while :; do :; done", Timeout: budget})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("outcome = %q, want timeout", res.Outcome)
	}
	if res.Duration != budget {
		t.Errorf("duration = %v, want %v", res.Duration, budget)
	}
	if res.ErrorMessage() != "execution timed out after 0.3 seconds" {
		t.Errorf("error message = %q, want timeout notice with bound", res.ErrorMessage())
	}
	if res.Stdout != "started\n" {
		t.Errorf("partial stdout = %q, want %q", res.Stdout, "started\n")
	}
	if elapsed > budget+2*time.Second {
		t.Errorf("Run took %v, want about %v", elapsed, budget)
	}
	assertWorkRootEmpty(t, p.WorkRoot)
}

func TestRunTimeoutIgnoresSignalHandlers(t *testing.T) {
	sb := newSandbox(t, shellPolicy(t))

	start := time.Now()
	res, err := sb.Run(context.Background(), Request{
		Code:    "trap '' TERM INT HUP; while :; do :; done",
		Timeout: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("outcome = %q, want timeout", res.Outcome)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Run took %v", elapsed)
	}
}

func TestRunKillsDescendants(t *testing.T) {
	sleepPath, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	setsidPath, err := exec.LookPath("setsid")
	if err != nil {
		t.Skip("setsid not available")
	}

	tests := []struct {
		name        string
		code        string
		wantOutcome Outcome
	}{
		{
			name:        "background child on timeout",
			code:        sleepPath + " %s &\nwait\n",
			wantOutcome: OutcomeTimeout,
		},
		{
			name:        "new session on timeout",
			code:        setsidPath + " " + sleepPath + " %s </dev/null >/dev/null 2>&1 &\n" + sleepPath + " 100\n",
			wantOutcome: OutcomeTimeout,
		},
		{
			name:        "new session after clean exit",
			code:        setsidPath + " " + sleepPath + " %s </dev/null >/dev/null 2>&1 &\necho done\n",
			wantOutcome: OutcomeSuccess,
		},
	}

	sb := newSandbox(t, shellPolicy(t))
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A sleep length no other process on the host is using.
			marker := strconv.Itoa(4000+i) + "." + strconv.Itoa(os.Getpid())

			start := time.Now()
			res, err := sb.Run(context.Background(), Request{Code: fmt.Sprintf(tt.code, marker), Timeout: 500 * time.Millisecond})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Outcome != tt.wantOutcome {
				t.Fatalf("outcome = %q, want %q (stderr %q)", res.Outcome, tt.wantOutcome, res.Stderr)
			}
			if elapsed := time.Since(start); elapsed > 3*time.Second {
				t.Errorf("Run took %v; descendant kept pipes open", elapsed)
			}

			deadline := time.Now().Add(2 * time.Second)
			for {
				pids := processesWithArg(marker)
				if len(pids) == 0 {
					break
				}
				if time.Now().After(deadline) {
					for _, pid := range pids {
						unix.Kill(pid, unix.SIGKILL)
					}
					t.Fatalf("descendants %v still alive after Run returned", pids)
				}
				time.Sleep(20 * time.Millisecond)
			}
		})
	}
}

// processesWithArg lists live processes with arg in their command line.
// Zombies have an empty command line and are not reported.
func processesWithArg(arg string) []int {
	entries, _ := os.ReadDir("/proc")
	var pids []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join("/proc", e.Name(), "cmdline"))
		if err != nil {
			continue
		}
		for _, a := range strings.Split(string(raw), "\x00") {
			if a == arg {
				pids = append(pids, pid)
				break
			}
		}
	}
	return pids
}

func TestRunConfinesFilesystem(t *testing.T) {
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("hunter2"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := shellPolicy(t)
	sb := newSandbox(t, p)

	code := `( echo pwned > ../escaped.txt ) 2>/dev/null; echo "parent=$?"
( echo pwned > ` + filepath.Join(outside, "escaped.txt") + ` ) 2>/dev/null; echo "outside=$?"
( cat ` + secret + ` ) 2>/dev/null; echo "read=$?"
echo kept > inside.txt && cat inside.txt
`
	res, err := sb.Run(context.Background(), Request{Code: code, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, line := range []string{"parent=0", "outside=0", "read=0", "hunter2"} {
		if strings.Contains(res.Stdout, line+"\n") {
			t.Errorf("stdout %q contains %q; access outside the workspace succeeded", res.Stdout, line)
		}
	}
	if !strings.Contains(res.Stdout, "kept\n") {
		t.Errorf("stdout = %q, want the workspace to stay writable", res.Stdout)
	}
	for _, path := range []string{filepath.Join(p.WorkRoot, "escaped.txt"), filepath.Join(outside, "escaped.txt")} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s was created outside the workspace (stat err %v)", path, err)
		}
	}
}

func TestRunCannotReachSiblingWorkspace(t *testing.T) {
	p := shellPolicy(t)
	sb := newSandbox(t, p)

	sibling, err := NewWorkspace(p.WorkRoot)
	if err != nil {
		t.Fatal(err)
	}
	defer sibling.Release(zaptest.NewLogger(t))
	if _, err := sibling.WriteFile("main.sh", "echo other"); err != nil {
		t.Fatal(err)
	}

	code := `( cat ` + filepath.Join(sibling.Dir(), "main.sh") + ` ) 2>/dev/null; echo "read=$?"
( echo x > ` + filepath.Join(sibling.Dir(), "planted.sh") + ` ) 2>/dev/null; echo "write=$?"
`
	res, err := sb.Run(context.Background(), Request{Code: code, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(res.Stdout, "echo other") || strings.Contains(res.Stdout, "read=0") {
		t.Errorf("read a sibling workspace: %q", res.Stdout)
	}
	if _, err := os.Stat(filepath.Join(sibling.Dir(), "planted.sh")); !os.IsNotExist(err) {
		t.Errorf("wrote into a sibling workspace (stat err %v)", err)
	}
}

func TestRunRestrictedEnvironment(t *testing.T) {
	t.Setenv("PYLAB_SECRET", "hunter2")

	p := shellPolicy(t)
	p.ExtraEnv = map[string]string{"LESSON": "loops", "HOME": "/root"}
	sb := newSandbox(t, p)

	code := `echo "HOME=$HOME"
echo "TMPDIR=$TMPDIR"
echo "PWD=$(pwd)"
echo "PATH=$PATH"
echo "SECRET=$PYLAB_SECRET"
echo "LESSON=$LESSON"
`
	res, err := sb.Run(context.Background(), Request{Code: code, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	vars := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		k, v, _ := strings.Cut(line, "=")
		vars[k] = v
	}

	if !strings.HasPrefix(vars["HOME"], p.WorkRoot) {
		t.Errorf("HOME = %q, want a directory under %q", vars["HOME"], p.WorkRoot)
	}
	if vars["TMPDIR"] != vars["HOME"] {
		t.Errorf("TMPDIR = %q, want %q", vars["TMPDIR"], vars["HOME"])
	}
	if vars["PWD"] != vars["HOME"] {
		t.Errorf("working dir = %q, want %q", vars["PWD"], vars["HOME"])
	}
	if vars["PATH"] != filepath.Dir(sb.interpreter) {
		t.Errorf("PATH = %q, want %q", vars["PATH"], filepath.Dir(sb.interpreter))
	}
	if vars["SECRET"] != "" {
		t.Errorf("runner environment leaked into the child: %q", vars["SECRET"])
	}
	if vars["LESSON"] != "loops" {
		t.Errorf("extra env LESSON = %q, want loops", vars["LESSON"])
	}
}

func TestRunClampsTimeout(t *testing.T) {
	p := shellPolicy(t)
	p.MaxTimeout = 200 * time.Millisecond
	sb := newSandbox(t, p)

	res, err := sb.Run(context.Background(), Request{Code: "while :; do :; done", Timeout: time.Hour})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("outcome = %q, want timeout", res.Outcome)
	}
	if res.Timeout != p.MaxTimeout {
		t.Errorf("applied timeout = %v, want %v", res.Timeout, p.MaxTimeout)
	}
}

func TestRunTruncatesOutput(t *testing.T) {
	p := shellPolicy(t)
	p.MaxOutputBytes = 16
	sb := newSandbox(t, p)

	code := "i=0; while [ $i -lt 100 ]; do echo xxxxxxxx; i=$((i+1)); done"
	res, err := sb.Run(context.Background(), Request{Code: code, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("outcome = %q, want success", res.Outcome)
	}
	if !res.Truncated {
		t.Error("expected Truncated")
	}
	if len(res.Stdout) != 16 {
		t.Errorf("len(stdout) = %d, want 16", len(res.Stdout))
	}
}

func TestRunBusy(t *testing.T) {
	p := shellPolicy(t)
	p.MaxConcurrent = 1
	sb := newSandbox(t, p)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sb.Run(context.Background(), Request{Code: "while :; do :; done", Timeout: 2 * time.Second})
	}()

	// Wait for the first run to occupy the only slot.
	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, _ := os.ReadDir(p.WorkRoot)
		if len(entries) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, err := sb.Run(context.Background(), Request{Code: "echo hi", Timeout: time.Second})
	if !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	<-done
}

func TestRunQueuesBriefly(t *testing.T) {
	p := shellPolicy(t)
	p.MaxConcurrent = 1
	p.QueueWait = 5 * time.Second
	sb := newSandbox(t, p)

	var g errgroup.Group
	for i := 0; i < 3; i++ {
		g.Go(func() error {
			res, err := sb.Run(context.Background(), Request{Code: "echo ok", Timeout: time.Second})
			if err != nil {
				return err
			}
			if !res.Succeeded() {
				return errors.New("run did not succeed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("queued runs: %v", err)
	}
}

func TestRunConcurrentIndependence(t *testing.T) {
	p := shellPolicy(t)
	p.MaxConcurrent = 6
	sb := newSandbox(t, p)

	var g errgroup.Group
	g.Go(func() error {
		res, err := sb.Run(context.Background(), Request{Code: "while :; do :; done", Timeout: 3 * time.Second})
		if err != nil {
			return err
		}
		if res.Outcome != OutcomeTimeout {
			return errors.New("looping run did not time out")
		}
		return nil
	})

	for i := 0; i < 5; i++ {
		want := strconv.Itoa(i)
		g.Go(func() error {
			start := time.Now()
			res, err := sb.Run(context.Background(), Request{Code: "echo " + want, Timeout: 3 * time.Second})
			if err != nil {
				return err
			}
			if res.Stdout != want+"\n" {
				return errors.New("stdout mixed between runs: " + res.Stdout)
			}
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				return errors.New("short run delayed by the looping run: " + elapsed.String())
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	assertWorkRootEmpty(t, p.WorkRoot)
}

func TestRunFaultWhenWorkRootMissing(t *testing.T) {
	p := shellPolicy(t)
	sb := newSandbox(t, p)
	if err := os.RemoveAll(p.WorkRoot); err != nil {
		t.Fatal(err)
	}

	_, err := sb.Run(context.Background(), Request{Code: "echo hi", Timeout: time.Second})
	if !errors.Is(err, ErrFault) {
		t.Fatalf("err = %v, want ErrFault", err)
	}
	var fe *FaultError
	if !errors.As(err, &fe) || fe.Op != "prepare workspace" {
		t.Errorf("fault = %#v, want op %q", fe, "prepare workspace")
	}
}

func TestNewProcessSandboxUnknownInterpreter(t *testing.T) {
	p := shellPolicy(t)
	p.Interpreter = "definitely-not-an-interpreter-xyz"
	if _, err := NewProcessSandbox(p, zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected error for missing interpreter")
	}
}

func TestNewProcessSandboxQuotedInterpreter(t *testing.T) {
	p := shellPolicy(t)
	p.Interpreter = `sh -c 'echo quoted' --`
	sb := newSandbox(t, p)
	if got, want := sb.args, []string{"-c", "echo quoted", "--"}; strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestNewProcessSandboxRejectsBrokenInterpreter(t *testing.T) {
	p := shellPolicy(t)
	p.Interpreter = `sh -c 'echo broken >&2; exit 3' --`
	sb, err := NewProcessSandbox(p, zaptest.NewLogger(t))
	if errors.Is(err, ErrUnconfined) {
		t.Skipf("host cannot confine runs: %v", err)
	}
	if err == nil {
		t.Fatalf("NewProcessSandbox succeeded with interpreter %s, want self-check error", sb.Interpreter())
	}
	if !strings.Contains(err.Error(), "self-check") || !strings.Contains(err.Error(), "broken") {
		t.Errorf("err = %v, want self-check error carrying stderr", err)
	}
	assertWorkRootEmpty(t, p.WorkRoot)
}

func TestNewProcessSandboxRejectsUnrunnableShim(t *testing.T) {
	if _, err := os.Stat("/usr/bin/env"); err != nil {
		t.Skip("/usr/bin/env not available")
	}
	// Like a version-manager shim: it relies on a PATH lookup that the
	// restricted environment cannot satisfy.
	shim := filepath.Join(t.TempDir(), "bin", "interp")
	if err := os.MkdirAll(filepath.Dir(shim), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(shim, []byte("#!/usr/bin/env pylab-missing-shell\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	p := shellPolicy(t)
	p.Interpreter = shim
	_, err := NewProcessSandbox(p, zaptest.NewLogger(t))
	if errors.Is(err, ErrUnconfined) {
		t.Skipf("host cannot confine runs: %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "self-check") {
		t.Fatalf("err = %v, want self-check error", err)
	}
}

func TestResolveInterpreterFollowsSymlinks(t *testing.T) {
	target, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	want, err := filepath.EvalSymlinks(target)
	if err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(t.TempDir(), "interp")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	got, err := resolveInterpreter(link)
	if err != nil {
		t.Fatalf("resolveInterpreter: %v", err)
	}
	if got != want {
		t.Errorf("resolveInterpreter(%q) = %q, want %q", link, got, want)
	}
}

func TestResolveInterpreterSkipsPythonShim(t *testing.T) {
	path, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not found")
	}
	out, err := exec.Command(path, "-c", "import sys; print(sys.executable)").Output()
	if err != nil {
		t.Skipf("python3 cannot report sys.executable: %v", err)
	}
	want, err := filepath.EvalSymlinks(strings.TrimSpace(string(out)))
	if err != nil {
		t.Fatal(err)
	}

	// A wrapper script in front of the real binary, the way pyenv installs one.
	shim := filepath.Join(t.TempDir(), "python3")
	if err := os.WriteFile(shim, []byte("#!/bin/sh\nexec "+path+" \"$@\"\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := resolveInterpreter(shim)
	if err != nil {
		t.Fatalf("resolveInterpreter: %v", err)
	}
	if got != want {
		t.Errorf("resolveInterpreter(shim) = %q, want %q", got, want)
	}
	if isScript(got) {
		t.Errorf("%s is still a script", got)
	}
}

func TestInterpreterPrefix(t *testing.T) {
	tests := []struct {
		interpreter string
		want        string
	}{
		{"/usr/bin/python3.11", "/usr"},
		{"/root/.pyenv/versions/3.11.7/bin/python3.11", "/root/.pyenv/versions/3.11.7"},
		{"/bin/sh", "/bin"},
	}
	for _, tt := range tests {
		if got := interpreterPrefix(tt.interpreter); got != tt.want {
			t.Errorf("interpreterPrefix(%q) = %q, want %q", tt.interpreter, got, tt.want)
		}
	}
}

// --- Python interpreter tests ---

func pythonPolicy(t *testing.T) Policy {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not found")
	}
	p := DefaultPolicy()
	p.WorkRoot = filepath.Join(t.TempDir(), "runs")
	return p
}

func TestPythonHelloWorld(t *testing.T) {
	p := pythonPolicy(t)
	sb := newSandbox(t, p)

	res, err := sb.Run(context.Background(), Request{Code: "print('Hello, World!')", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("outcome = %q, stderr %q", res.Outcome, res.Stderr)
	}
	if res.Stdout != "Hello, World!\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if res.Stderr != "" {
		t.Errorf("stderr = %q, want empty", res.Stderr)
	}
	assertWorkRootEmpty(t, p.WorkRoot)
}

func TestPythonInfiniteLoop(t *testing.T) {
	sb := newSandbox(t, pythonPolicy(t))

	start := time.Now()
	res, err := sb.Run(context.Background(), Request{Code: "while True: pass", Timeout: time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("outcome = %q, want timeout", res.Outcome)
	}
	if res.Duration != time.Second {
		t.Errorf("duration = %v, want 1s", res.Duration)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Run took %v", elapsed)
	}
}

func TestPythonRaises(t *testing.T) {
	sb := newSandbox(t, pythonPolicy(t))

	res, err := sb.Run(context.Background(), Request{Code: "raise ValueError('x')", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeFailure {
		t.Fatalf("outcome = %q, want failure", res.Outcome)
	}
	if !strings.Contains(res.Stderr, "Traceback") || !strings.Contains(res.Stderr, "ValueError: x") {
		t.Errorf("stderr = %q, want traceback", res.Stderr)
	}
	if res.Duration >= 5*time.Second {
		t.Errorf("duration = %v", res.Duration)
	}
}

func TestPythonSyntaxError(t *testing.T) {
	sb := newSandbox(t, pythonPolicy(t))

	res, err := sb.Run(context.Background(), Request{Code: "def broken(:\n", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeFailure || !strings.Contains(res.Stderr, "SyntaxError") {
		t.Errorf("outcome = %q stderr = %q, want SyntaxError failure", res.Outcome, res.Stderr)
	}
}

func TestPythonCannotReachHostFiles(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(secret, []byte("hunter2"), 0o644); err != nil {
		t.Fatal(err)
	}
	sb := newSandbox(t, pythonPolicy(t))

	code := `import os
for op, path in (("read", ` + strconv.Quote(secret) + `), ("write", "/tmp/pylab-escaped.txt"), ("write", "../escaped.txt")):
    try:
        if op == "read":
            print(open(path).read())
        else:
            open(path, "w").write("pwned")
        print(op, "allowed")
    except OSError as e:
        print(op, "denied", type(e).__name__)
open("inside.txt", "w").write("ok")
print(open("inside.txt").read())
`
	res, err := sb.Run(context.Background(), Request{Code: code, Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("outcome = %q, stderr %q", res.Outcome, res.Stderr)
	}
	if strings.Contains(res.Stdout, "allowed") || strings.Contains(res.Stdout, "hunter2") {
		t.Errorf("stdout = %q, want every host access denied", res.Stdout)
	}
	if got := strings.Count(res.Stdout, "denied"); got != 3 {
		t.Errorf("stdout = %q, want 3 denials", res.Stdout)
	}
	if !strings.HasSuffix(res.Stdout, "ok\n") {
		t.Errorf("stdout = %q, want the workspace writable", res.Stdout)
	}
	if _, err := os.Stat("/tmp/pylab-escaped.txt"); err == nil {
		os.Remove("/tmp/pylab-escaped.txt")
		t.Error("program wrote /tmp/pylab-escaped.txt")
	}
}
