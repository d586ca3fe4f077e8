//go:build linux || darwin

package main

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

const ttyPath = "/dev/tty"

// takeForeground makes this process group the terminal's foreground group.
// The orchestrator starts dialogs in their own group, which would otherwise
// stop on the first terminal read.
func takeForeground(tty *os.File) func() {
	fd := int(tty.Fd())
	prev, err := unix.IoctlGetInt(fd, unix.TIOCGPGRP)
	if err != nil {
		return func() {}
	}
	self := unix.Getpgrp()
	if prev == self {
		return func() {}
	}
	signal.Ignore(syscall.SIGTTOU)
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, self); err != nil {
		return func() {}
	}
	return func() {
		_ = unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, prev)
	}
}
