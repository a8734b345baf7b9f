package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrUnconfined is wrapped by faults raised because the host cannot provide
// the namespaces or Landlock support a run is confined with.
var ErrUnconfined = errors.New("confinement unavailable")

const selfCheckTimeout = 10 * time.Second

// ProcessSandbox runs each request as a fresh interpreter process inside its
// own user, pid and network namespaces, restricted by Landlock to a private
// workspace and read-only system paths, with a minimal environment.
type ProcessSandbox struct {
	policy      Policy
	interpreter string   // absolute, symlinks resolved
	args        []string // interpreter flags placed before the script
	readOnly    []string // paths the program may read and execute
	helper      string   // runner binary re-executed as the init helper
	slots       *semaphore.Weighted
	log         *zap.Logger
}

// NewProcessSandbox resolves the policy's interpreter, prepares the work root
// and runs an empty program once to prove the confinement and interpreter
// work on this host.
func NewProcessSandbox(policy Policy, log *zap.Logger) (*ProcessSandbox, error) {
	if !confinementSupported {
		return nil, fmt.Errorf("%w: process sandbox requires linux", ErrUnconfined)
	}

	argv, err := shlex.Split(policy.Interpreter)
	if err != nil {
		return nil, fmt.Errorf("parsing interpreter %q: %w", policy.Interpreter, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("interpreter is required")
	}

	interpreter, err := resolveInterpreter(argv[0])
	if err != nil {
		return nil, err
	}

	helper, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating runner binary: %w", err)
	}

	if policy.ScriptName == "" {
		policy.ScriptName = "main.py"
	}
	if policy.MaxConcurrent <= 0 {
		policy.MaxConcurrent = 1
	}
	if err := os.MkdirAll(policy.WorkRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating work root: %w", err)
	}

	s := &ProcessSandbox{
		policy:      policy,
		interpreter: interpreter,
		args:        argv[1:],
		readOnly:    append(slices.Clone(policy.ReadOnlyPaths), interpreterPrefix(interpreter)),
		helper:      helper,
		slots:       semaphore.NewWeighted(int64(policy.MaxConcurrent)),
		log:         log,
	}
	if err := s.selfCheck(); err != nil {
		return nil, err
	}
	return s, nil
}

// resolveInterpreter finds the real interpreter binary. Wrapper scripts such
// as version-manager shims cannot run under the restricted PATH, so a
// script is asked for sys.executable instead.
func resolveInterpreter(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("locating interpreter: %w", err)
	}
	if path, err = filepath.Abs(path); err != nil {
		return "", fmt.Errorf("resolving interpreter path: %w", err)
	}
	if path, err = filepath.EvalSymlinks(path); err != nil {
		return "", fmt.Errorf("resolving interpreter path: %w", err)
	}
	if !isScript(path) {
		return path, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), selfCheckTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "-c", "import sys; print(sys.executable)").Output()
	if err != nil {
		return path, nil
	}
	exe := strings.TrimSpace(string(out))
	if !filepath.IsAbs(exe) {
		return path, nil
	}
	if exe, err = filepath.EvalSymlinks(exe); err != nil {
		return "", fmt.Errorf("resolving interpreter path: %w", err)
	}
	return exe, nil
}

func isScript(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, 2)
	n, _ := io.ReadFull(f, head)
	return n == 2 && string(head) == "#!"
}

// interpreterPrefix is the installation root the interpreter loads its
// standard library from, e.g. /usr for /usr/bin/python3.
func interpreterPrefix(interpreter string) string {
	prefix := filepath.Dir(filepath.Dir(interpreter))
	if prefix == "/" {
		return filepath.Dir(interpreter)
	}
	return prefix
}

// selfCheck runs an empty program. A failure here is a broken installation,
// which would otherwise show up as every learner program failing.
func (s *ProcessSandbox) selfCheck() error {
	ws, err := NewWorkspace(s.policy.WorkRoot)
	if err != nil {
		return fmt.Errorf("interpreter self-check: %w", err)
	}
	defer ws.Release(s.log)

	script, err := ws.WriteFile(s.policy.ScriptName, "")
	if err != nil {
		return fmt.Errorf("interpreter self-check: %w", err)
	}
	res, err := s.execute(context.Background(), ws, script, selfCheckTimeout)
	if err != nil {
		return fmt.Errorf("interpreter self-check: %w", err)
	}
	if !res.Succeeded() {
		return fmt.Errorf("interpreter self-check: %s ended with %s (exit %d): %s",
			s.interpreter, res.Outcome, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Policy returns the effective policy.
func (s *ProcessSandbox) Policy() Policy { return s.policy }

// Interpreter returns the resolved interpreter binary.
func (s *ProcessSandbox) Interpreter() string { return s.interpreter }

// Run executes req.Code and reports what happened. Program errors and
// timeouts are reported in the Result; only sandbox faults and admission
// refusals are returned as errors. The workspace is removed on every path.
func (s *ProcessSandbox) Run(ctx context.Context, req Request) (*Result, error) {
	budget := s.policy.Budget(req.Timeout)

	if err := s.admit(ctx); err != nil {
		return nil, err
	}
	defer s.slots.Release(1)

	ws, err := NewWorkspace(s.policy.WorkRoot)
	if err != nil {
		return nil, fault("prepare workspace", err)
	}
	defer ws.Release(s.log)

	script, err := ws.WriteFile(s.policy.ScriptName, req.Code)
	if err != nil {
		return nil, fault("write script", err)
	}

	return s.execute(ctx, ws, script, budget)
}

func (s *ProcessSandbox) admit(ctx context.Context) error {
	if s.policy.QueueWait <= 0 {
		if !s.slots.TryAcquire(1) {
			return ErrBusy
		}
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.policy.QueueWait)
	defer cancel()
	if err := s.slots.Acquire(waitCtx, 1); err != nil {
		return ErrBusy
	}
	return nil
}

func (s *ProcessSandbox) execute(ctx context.Context, ws *Workspace, script string, budget time.Duration) (*Result, error) {
	log := s.log.With(zap.String("run_id", ws.ID()))

	initReq, err := json.Marshal(initRequest{
		Argv:      append(append([]string{s.interpreter}, s.args...), script),
		Workspace: ws.Dir(),
		ReadOnly:  s.readOnly,
		Devices:   devices,
		Limits: limits{
			CPUSeconds:  uint64(math.Ceil(budget.Seconds())) + 1,
			MemoryBytes: s.policy.MaxMemoryBytes,
			FileBytes:   s.policy.MaxFileBytes,
			Processes:   s.policy.MaxProcesses,
		},
	})
	if err != nil {
		return nil, fault("encode init request", err)
	}

	statusR, statusW, err := os.Pipe()
	if err != nil {
		return nil, fault("create status pipe", err)
	}
	defer statusR.Close()

	// The budget is the only cancellation trigger; a caller hanging up does
	// not shorten the run.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), budget)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.helper)
	cmd.Args = []string{initArg0}
	cmd.Dir = ws.Dir()
	cmd.Env = s.environment(ws)
	cmd.Stdin = bytes.NewReader(initReq)
	cmd.ExtraFiles = []*os.File{statusW}
	cmd.SysProcAttr = sysProcAttr(s.policy)
	cmd.WaitDelay = s.policy.WaitDelay
	// The helper is pid 1 of the run's pid namespace; killing it takes
	// every remaining process in the namespace with it.
	cmd.Cancel = func() error {
		return killProcessGroup(cmd.Process.Pid)
	}

	stdout := newCappedBuffer(s.policy.MaxOutputBytes)
	stderr := newCappedBuffer(s.policy.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err = cmd.Start()
	statusW.Close()
	if err != nil {
		if unconfinedStart(err) {
			err = fmt.Errorf("%w: %v", ErrUnconfined, err)
		}
		return nil, fault("start sandbox", err)
	}

	// Returns once the helper has exec'd the interpreter or given up.
	setupErr := readInitStatus(statusR)

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if setupErr != nil {
		return nil, fault("confine", setupErr)
	}
	if cmd.ProcessState == nil {
		return nil, fault("wait interpreter", waitErr)
	}

	result := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  cmd.ProcessState.ExitCode(),
		Duration:  elapsed,
		Timeout:   budget,
		Truncated: stdout.truncated || stderr.truncated,
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Outcome = OutcomeTimeout
		result.Duration = budget
	case result.ExitCode == 0:
		result.Outcome = OutcomeSuccess
	default:
		result.Outcome = OutcomeFailure
	}

	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) && result.Outcome != OutcomeTimeout {
			log.Warn("interpreter wait", zap.Error(waitErr))
		}
	}

	log.Debug("run finished",
		zap.String("outcome", string(result.Outcome)),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", elapsed),
		zap.Bool("truncated", result.Truncated))

	return result, nil
}

// readInitStatus blocks until the status pipe closes. An empty pipe means
// the interpreter was exec'd.
func readInitStatus(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading init status: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var st initStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("malformed init status %q: %w", data, err)
	}
	if st.Unsupported {
		return fmt.Errorf("%w: %s", ErrUnconfined, st.Error)
	}
	return errors.New(st.Error)
}

// environment builds the complete child environment. Nothing is inherited
// from the runner process.
func (s *ProcessSandbox) environment(ws *Workspace) []string {
	env := make(map[string]string, len(s.policy.ExtraEnv)+8)
	for k, v := range s.policy.ExtraEnv {
		env[k] = v
	}
	env["PATH"] = filepath.Dir(s.interpreter)
	env["HOME"] = ws.Dir()
	env["TMPDIR"] = ws.Dir()
	env["PWD"] = ws.Dir()
	env["PYTHONPATH"] = ""
	env["PYTHONDONTWRITEBYTECODE"] = "1"
	env["PYTHONIOENCODING"] = "utf-8"
	env["LANG"] = "C.UTF-8"

	pairs := lo.MapToSlice(env, func(k, v string) string { return k + "=" + v })
	slices.Sort(pairs)
	return pairs
}
