//go:build linux

package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

const confinementSupported = true

func init() {
	if len(os.Args) > 0 && os.Args[0] == initArg0 {
		os.Exit(runInit())
	}
}

// sysProcAttr puts the init helper in fresh user, pid, ipc and uts
// namespaces (and a network namespace unless allowed). The helper becomes
// pid 1 of its namespace; when it exits the kernel kills every process left
// in it, including ones that moved to another session or group.
func sysProcAttr(p Policy) *syscall.SysProcAttr {
	flags := uintptr(unix.CLONE_NEWUSER | unix.CLONE_NEWPID | unix.CLONE_NEWIPC | unix.CLONE_NEWUTS)
	if !p.AllowNetwork {
		flags |= unix.CLONE_NEWNET
	}
	return &syscall.SysProcAttr{
		Setpgid:                    true,
		Pdeathsig:                  syscall.SIGKILL,
		Cloneflags:                 flags,
		GidMappingsEnableSetgroups: false,
		UidMappings:                []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}},
		GidMappings:                []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}},
	}
}

// unconfinedStart reports whether a start error means the host refuses to
// create the namespaces.
func unconfinedStart(err error) bool {
	return errors.Is(err, unix.EPERM) || errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EUSERS) || errors.Is(err, unix.ENOSYS)
}

// runInit runs in the init helper. It only returns on failure.
func runInit() int {
	// Landlock and no_new_privs apply to the calling thread; exec must happen
	// on the same one.
	runtime.LockOSThread()

	status := os.NewFile(statusFD, "status")
	unix.CloseOnExec(statusFD)

	fail := func(unsupported bool, format string, args ...any) int {
		json.NewEncoder(status).Encode(initStatus{Error: fmt.Sprintf(format, args...), Unsupported: unsupported})
		return 1
	}

	var req initRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		return fail(false, "decode request: %v", err)
	}
	if len(req.Argv) == 0 || req.Workspace == "" {
		return fail(false, "argv and workspace are required")
	}

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return fail(false, "open %s: %v", os.DevNull, err)
	}
	if err := unix.Dup3(int(devNull.Fd()), 0, 0); err != nil {
		return fail(false, "redirect stdin: %v", err)
	}
	devNull.Close()

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fail(false, "no_new_privs: %v", err)
	}
	if err := restrictFilesystem(req); err != nil {
		var unsup *unsupportedError
		return fail(errors.As(err, &unsup), "landlock: %v", err)
	}

	// Build everything execve needs before the memory limit applies; the
	// runtime must not allocate between setrlimit and exec.
	path, err := unix.BytePtrFromString(req.Argv[0])
	if err != nil {
		return fail(false, "exec %s: %v", req.Argv[0], err)
	}
	argv, err := cStrings(req.Argv)
	if err != nil {
		return fail(false, "exec %s: %v", req.Argv[0], err)
	}
	envv, err := cStrings(os.Environ())
	if err != nil {
		return fail(false, "exec %s: %v", req.Argv[0], err)
	}

	if err := applyRlimits(req.Limits); err != nil {
		return fail(false, "rlimits: %v", err)
	}

	_, _, errno := unix.RawSyscall(unix.SYS_EXECVE,
		uintptr(unsafe.Pointer(path)), uintptr(unsafe.Pointer(&argv[0])), uintptr(unsafe.Pointer(&envv[0])))
	return fail(false, "exec %s: %v", req.Argv[0], errno)
}

// cStrings returns a NULL-terminated array of C strings.
func cStrings(ss []string) ([]*byte, error) {
	out := make([]*byte, len(ss)+1)
	for i, s := range ss {
		p, err := unix.BytePtrFromString(s)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func applyRlimits(l limits) error {
	set := func(resource int, v uint64) error {
		return unix.Setrlimit(resource, &unix.Rlimit{Cur: v, Max: v})
	}
	if err := set(unix.RLIMIT_CORE, 0); err != nil {
		return fmt.Errorf("RLIMIT_CORE: %w", err)
	}
	if l.CPUSeconds > 0 {
		if err := set(unix.RLIMIT_CPU, l.CPUSeconds); err != nil {
			return fmt.Errorf("RLIMIT_CPU: %w", err)
		}
	}
	if l.FileBytes > 0 {
		if err := set(unix.RLIMIT_FSIZE, l.FileBytes); err != nil {
			return fmt.Errorf("RLIMIT_FSIZE: %w", err)
		}
	}
	if l.Processes > 0 {
		if err := set(unix.RLIMIT_NPROC, l.Processes); err != nil {
			return fmt.Errorf("RLIMIT_NPROC: %w", err)
		}
	}
	// Last: the helper allocates nothing after this.
	if l.MemoryBytes > 0 {
		if err := set(unix.RLIMIT_AS, l.MemoryBytes); err != nil {
			return fmt.Errorf("RLIMIT_AS: %w", err)
		}
	}
	return nil
}

type unsupportedError struct{ err error }

func (e *unsupportedError) Error() string { return "not supported by this kernel: " + e.err.Error() }

const (
	fsReadOnly = unix.LANDLOCK_ACCESS_FS_EXECUTE | unix.LANDLOCK_ACCESS_FS_READ_FILE | unix.LANDLOCK_ACCESS_FS_READ_DIR

	// Rights that may be granted on a regular file or device rather than a
	// directory.
	fsFileRights = unix.LANDLOCK_ACCESS_FS_EXECUTE | unix.LANDLOCK_ACCESS_FS_WRITE_FILE |
		unix.LANDLOCK_ACCESS_FS_READ_FILE | unix.LANDLOCK_ACCESS_FS_TRUNCATE | unix.LANDLOCK_ACCESS_FS_IOCTL_DEV

	fsDevice = unix.LANDLOCK_ACCESS_FS_READ_FILE | unix.LANDLOCK_ACCESS_FS_WRITE_FILE |
		unix.LANDLOCK_ACCESS_FS_TRUNCATE | unix.LANDLOCK_ACCESS_FS_IOCTL_DEV
)

// handledAccess returns the filesystem rights a ruleset of the given Landlock
// ABI version can restrict.
func handledAccess(abi int) uint64 {
	access := uint64(unix.LANDLOCK_ACCESS_FS_EXECUTE | unix.LANDLOCK_ACCESS_FS_WRITE_FILE |
		unix.LANDLOCK_ACCESS_FS_READ_FILE | unix.LANDLOCK_ACCESS_FS_READ_DIR |
		unix.LANDLOCK_ACCESS_FS_REMOVE_DIR | unix.LANDLOCK_ACCESS_FS_REMOVE_FILE |
		unix.LANDLOCK_ACCESS_FS_MAKE_CHAR | unix.LANDLOCK_ACCESS_FS_MAKE_DIR |
		unix.LANDLOCK_ACCESS_FS_MAKE_REG | unix.LANDLOCK_ACCESS_FS_MAKE_SOCK |
		unix.LANDLOCK_ACCESS_FS_MAKE_FIFO | unix.LANDLOCK_ACCESS_FS_MAKE_BLOCK |
		unix.LANDLOCK_ACCESS_FS_MAKE_SYM)
	if abi >= 2 {
		access |= unix.LANDLOCK_ACCESS_FS_REFER
	}
	if abi >= 3 {
		access |= unix.LANDLOCK_ACCESS_FS_TRUNCATE
	}
	if abi >= 5 {
		access |= unix.LANDLOCK_ACCESS_FS_IOCTL_DEV
	}
	return access
}

// restrictFilesystem confines the calling thread with Landlock: full access
// to the workspace, read and execute on req.ReadOnly, read and write on the
// listed devices, nothing anywhere else. From ABI 6 on the program also
// cannot signal processes outside the sandbox.
func restrictFilesystem(req initRequest) error {
	abi, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET, 0, 0, unix.LANDLOCK_CREATE_RULESET_VERSION)
	if errno != 0 {
		return &unsupportedError{err: errno}
	}

	attr := unix.LandlockRulesetAttr{Access_fs: handledAccess(int(abi))}
	if abi >= 6 {
		attr.Scoped = unix.LANDLOCK_SCOPE_SIGNAL | unix.LANDLOCK_SCOPE_ABSTRACT_UNIX_SOCKET
	}
	fd, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET,
		uintptr(unsafe.Pointer(&attr)), unsafe.Sizeof(attr), 0)
	if errno != 0 {
		return fmt.Errorf("create ruleset: %w", errno)
	}
	ruleset := int(fd)
	defer unix.Close(ruleset)

	if err := allowPath(ruleset, req.Workspace, attr.Access_fs, attr.Access_fs, true); err != nil {
		return err
	}
	for _, p := range req.ReadOnly {
		if err := allowPath(ruleset, p, fsReadOnly, attr.Access_fs, false); err != nil {
			return err
		}
	}
	for _, p := range req.Devices {
		if err := allowPath(ruleset, p, fsDevice, attr.Access_fs, false); err != nil {
			return err
		}
	}

	if _, _, errno := unix.Syscall(unix.SYS_LANDLOCK_RESTRICT_SELF, uintptr(ruleset), 0, 0); errno != 0 {
		return fmt.Errorf("restrict self: %w", errno)
	}
	return nil
}

// allowPath adds a path-beneath rule. Missing optional paths are skipped.
func allowPath(ruleset int, path string, access, handled uint64, required bool) error {
	fd, err := unix.Open(path, unix.O_PATH|unix.O_CLOEXEC, 0)
	if err != nil {
		if !required && errors.Is(err, unix.ENOENT) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		access &= fsFileRights
	}

	rule := unix.LandlockPathBeneathAttr{Allowed_access: access & handled, Parent_fd: int32(fd)}
	if _, _, errno := unix.Syscall6(unix.SYS_LANDLOCK_ADD_RULE, uintptr(ruleset),
		unix.LANDLOCK_RULE_PATH_BENEATH, uintptr(unsafe.Pointer(&rule)), 0, 0, 0); errno != 0 {
		return fmt.Errorf("add rule for %s: %w", path, errno)
	}
	return nil
}
