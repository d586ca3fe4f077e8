//go:build linux

package isolation

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
)

var _ Isolator = (*LinuxIsolator)(nil)

// LinuxIsolator runs the process in its own process group so a kill reaches
// any helpers it spawned, and asks the kernel to SIGKILL it if the spawning
// thread dies first.
type LinuxIsolator struct{}

// NewLinuxIsolator creates a LinuxIsolator.
func NewLinuxIsolator() *LinuxIsolator {
	return &LinuxIsolator{}
}

// Wrap clones cmd onto a context-aware exec.Cmd in a new process group.
func (l *LinuxIsolator) Wrap(ctx context.Context, cmd *exec.Cmd, limits ResourceLimits) (*exec.Cmd, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	execCtx, cancel := context.WithCancel(ctx)
	wrapped := clone(execCtx, cmd, limits)
	// Pdeathsig follows the OS thread that forked the child, not the server
	// process (golang/go#27505). Callers never lock their goroutine to a
	// thread, so the runtime keeps that thread alive until the process exits;
	// a Wrap from a LockOSThread goroutine that then exits would kill the
	// dialog early.
	wrapped.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	wrapped.Cancel = func() error {
		if wrapped.Process == nil {
			return nil
		}
		// Negative pid addresses the whole group.
		err := syscall.Kill(-wrapped.Process.Pid, syscall.SIGKILL)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, syscall.ESRCH):
			return os.ErrProcessDone
		default:
			return wrapped.Process.Kill()
		}
	}
	return wrapped, cancel, nil
}

// Capabilities reports group kill and parent-death signalling.
func (l *LinuxIsolator) Capabilities() IsolatorCaps {
	return IsolatorCaps{ScrubsEnv: true, KillsProcessGroup: true, DiesWithParent: true}
}
