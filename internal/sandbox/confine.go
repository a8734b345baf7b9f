package sandbox

// initArg0 is argv[0] of the re-executed runner binary that confines itself
// and then execs the interpreter.
const initArg0 = "pylab-sandbox-init"

// statusFD carries an initStatus back to the runner when setup fails. It is
// close-on-exec, so a successful exec leaves it empty.
const statusFD = 3

// initRequest is sent to the init helper on stdin.
type initRequest struct {
	Argv      []string `json:"argv"`
	Workspace string   `json:"workspace"`
	ReadOnly  []string `json:"read_only"`
	Devices   []string `json:"devices"`
	Limits    limits   `json:"limits"`
}

type limits struct {
	CPUSeconds  uint64 `json:"cpu_seconds"`
	MemoryBytes uint64 `json:"memory_bytes"`
	FileBytes   uint64 `json:"file_bytes"`
	Processes   uint64 `json:"processes"`
}

type initStatus struct {
	Error       string `json:"error"`
	Unsupported bool   `json:"unsupported"`
}

// devices are granted read and write inside every run.
var devices = []string{"/dev/null", "/dev/zero", "/dev/full", "/dev/random", "/dev/urandom"}
