// Package isolation runs helper processes (the credential dialog) apart from
// the server: a scrubbed environment and a kill on context cancellation.
// Deadlines are the caller's: pass a context with a timeout.
package isolation

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ResourceLimits specifies constraints for an isolated process.
type ResourceLimits struct {
	// EnvAllowlist names the variables passed through from the parent.
	// Entries ending in "*" match by prefix. Nil uses DefaultEnvAllowlist.
	EnvAllowlist []string `json:"env_allowlist,omitempty"`
	// WaitDelay bounds how long Wait blocks on pipes after a kill.
	WaitDelay time.Duration `json:"wait_delay,omitempty"`
}

// DefaultEnvAllowlist keeps what a desktop or terminal program needs to
// render and nothing that could carry credentials.
var DefaultEnvAllowlist = []string{
	"PATH", "HOME", "USER", "LOGNAME", "SHELL", "TERM", "COLORTERM",
	"LANG", "LC_*", "TZ", "TMPDIR",
	"DISPLAY", "WAYLAND_DISPLAY", "XAUTHORITY", "XDG_*", "DBUS_SESSION_BUS_ADDRESS",
	"SystemRoot", "SYSTEMROOT", "windir", "TEMP", "TMP", "USERPROFILE", "APPDATA", "LOCALAPPDATA",
}

const defaultWaitDelay = 5 * time.Second

// ScrubEnv filters environ ("KEY=value" pairs) down to allowlisted keys.
func ScrubEnv(environ, allow []string) []string {
	if allow == nil {
		allow = DefaultEnvAllowlist
	}
	out := make([]string, 0, len(allow))
	for _, kv := range environ {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		if envAllowed(key, allow) {
			out = append(out, kv)
		}
	}
	return out
}

func envAllowed(key string, allow []string) bool {
	for _, a := range allow {
		if prefix, ok := strings.CutSuffix(a, "*"); ok {
			if strings.HasPrefix(key, prefix) {
				return true
			}
			continue
		}
		if key == a {
			return true
		}
	}
	return false
}

// IsolatorCaps describes what a platform's isolator enforces.
type IsolatorCaps struct {
	ScrubsEnv         bool `json:"scrubs_env"`
	KillsProcessGroup bool `json:"kills_process_group"`
	DiesWithParent    bool `json:"dies_with_parent"`
}

// Isolator wraps a command with platform-specific process isolation.
type Isolator interface {
	// Wrap returns the command to run in place of cmd. The cleanup func must
	// be called after the process has been waited on.
	Wrap(ctx context.Context, cmd *exec.Cmd, limits ResourceLimits) (*exec.Cmd, func(), error)
	Capabilities() IsolatorCaps
}

// clone copies cmd onto exec.CommandContext so cancellation is honored, with
// the scrubbed environment and the configured wait delay.
func clone(ctx context.Context, cmd *exec.Cmd, limits ResourceLimits) *exec.Cmd {
	wrapped := exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...)
	wrapped.Args = cmd.Args
	wrapped.Dir = cmd.Dir
	wrapped.Stdin = cmd.Stdin
	wrapped.Stdout = cmd.Stdout
	wrapped.Stderr = cmd.Stderr

	environ := cmd.Env
	if environ == nil {
		environ = os.Environ()
	}
	wrapped.Env = ScrubEnv(environ, limits.EnvAllowlist)

	wrapped.WaitDelay = limits.WaitDelay
	if wrapped.WaitDelay <= 0 {
		wrapped.WaitDelay = defaultWaitDelay
	}
	return wrapped
}
