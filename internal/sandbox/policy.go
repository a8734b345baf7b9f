package sandbox

import (
	"os"
	"path/filepath"
	"slices"
	"time"
)

// Policy defines the isolation and resource limits applied to every run.
type Policy struct {
	Interpreter    string            `mapstructure:"interpreter"`      // command line, e.g. "python3 -I -B"
	ScriptName     string            `mapstructure:"script_name"`      // file the code is written to
	WorkRoot       string            `mapstructure:"work_root"`        // parent of per-run workspaces
	DefaultTimeout time.Duration     `mapstructure:"default_timeout"`  // used when a request has none
	MaxTimeout     time.Duration     `mapstructure:"max_timeout"`      // hard clamp on any request
	WaitDelay      time.Duration     `mapstructure:"wait_delay"`       // bound on pipe draining after exit or kill
	MaxConcurrent  int               `mapstructure:"max_concurrent"`   // in-flight executions
	QueueWait      time.Duration     `mapstructure:"queue_wait"`       // how long a request may wait for a slot
	MaxOutputBytes int               `mapstructure:"max_output_bytes"` // per stream; 0 means unlimited
	MaxMemoryBytes uint64            `mapstructure:"max_memory_bytes"` // RLIMIT_AS; 0 leaves it unset
	MaxFileBytes   uint64            `mapstructure:"max_file_bytes"`   // RLIMIT_FSIZE; 0 leaves it unset
	MaxProcesses   uint64            `mapstructure:"max_processes"`    // RLIMIT_NPROC; ignored when the runner is root
	ReadOnlyPaths  []string          `mapstructure:"read_only_paths"`  // readable besides the workspace and interpreter prefix
	AllowNetwork   bool              `mapstructure:"allow_network"`    // share the runner's network namespace
	ExtraEnv       map[string]string `mapstructure:"extra_env"`
}

// DefaultReadOnlyPaths are the system locations an interpreter needs to start.
var DefaultReadOnlyPaths = []string{"/usr", "/lib", "/lib64", "/lib32", "/bin", "/sbin", "/etc/ld.so.cache"}

// DefaultPolicy returns safe defaults for running learner code.
func DefaultPolicy() Policy {
	return Policy{
		Interpreter:    "python3 -I -B",
		ScriptName:     "main.py",
		WorkRoot:       filepath.Join(os.TempDir(), "pylab-runs"),
		DefaultTimeout: 30 * time.Second,
		MaxTimeout:     60 * time.Second,
		WaitDelay:      500 * time.Millisecond,
		MaxConcurrent:  4,
		QueueWait:      2 * time.Second,
		MaxOutputBytes: 1 << 20,
		MaxMemoryBytes: 512 << 20,
		MaxFileBytes:   16 << 20,
		MaxProcesses:   64,
		ReadOnlyPaths:  slices.Clone(DefaultReadOnlyPaths),
	}
}

// Budget returns the wall-clock budget for a requested timeout.
func (p Policy) Budget(requested time.Duration) time.Duration {
	budget := requested
	if budget <= 0 {
		budget = p.DefaultTimeout
	}
	if p.MaxTimeout > 0 && budget > p.MaxTimeout {
		budget = p.MaxTimeout
	}
	return budget
}
