// Package procrun runs external processes for aept: plain fork+exec for
// tools like usign and diff, and a user-namespace+chroot variant for
// maintainer scripts running against an offline root.
package procrun

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Reserved exit codes: 255 means exec failed, 254 means setup (e.g.
// user-ns) failed.
const (
	ExitCodeExecFailed  = 255
	ExitCodeSetupFailed = 254
)

// Result carries the outcome of a child process run.
type Result struct {
	ExitCode int
}

// System runs argv[0] with argv[1:] as arguments, inheriting the current
// working directory and environment, waiting for it to complete. A
// non-exec-related signal or setup failure is returned as an explicit
// error rather than passed through as an exit code.
func System(ctx context.Context, argv []string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("procrun: empty argv")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	return resultFromErr(cmd, err)
}

// SystemOfflineRoot runs argv the same way as System, but if offlineRoot is
// non-empty and the current process is not running as root, the child
// first unshares into a new user namespace (mapping the real uid/gid to 0,
// the idiomatic unprivileged-chroot trick), then chroots into offlineRoot
// and chdirs to "/". If offlineRoot is empty, this is identical to System.
// Maintainer scripts always run through this entry point so their view of
// the filesystem matches what they were installed against.
func SystemOfflineRoot(ctx context.Context, argv []string, offlineRoot string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("procrun: empty argv")
	}
	if offlineRoot == "" {
		return System(ctx, argv)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = "/"

	attr := &syscall.SysProcAttr{
		Chroot: offlineRoot,
	}
	if os.Geteuid() != 0 {
		attr.Cloneflags = syscall.CLONE_NEWUSER
		attr.UidMappings = []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getuid(), Size: 1},
		}
		attr.GidMappings = []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getgid(), Size: 1},
		}
	}
	cmd.SysProcAttr = attr

	err := cmd.Run()
	return resultFromErr(cmd, err)
}

func resultFromErr(cmd *exec.Cmd, err error) (Result, error) {
	if err == nil {
		return Result{ExitCode: 0}, nil
	}

	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		if code := exitErr.ExitCode(); code >= 0 {
			return Result{ExitCode: code}, nil
		}
		// Killed by a signal: an explicit error, never an exit-code
		// passthrough.
		return Result{ExitCode: ExitCodeSetupFailed}, fmt.Errorf("procrun: %s: %w", cmd.Path, err)
	}

	// Not even able to start the child: an explicit error, not an
	// exit-code passthrough.
	return Result{ExitCode: ExitCodeExecFailed}, fmt.Errorf("procrun: %s: %w", cmd.Path, err)
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
