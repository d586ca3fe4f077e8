package isolation

import (
	"context"
	"os/exec"
)

var _ Isolator = (*FallbackIsolator)(nil)

// FallbackIsolator scrubs the environment and kills the direct child when
// the context ends.
type FallbackIsolator struct{}

// NewFallbackIsolator creates a FallbackIsolator.
func NewFallbackIsolator() *FallbackIsolator {
	return &FallbackIsolator{}
}

// Wrap clones cmd onto a context-aware exec.Cmd. The caller must use the
// returned *exec.Cmd, not the original.
func (f *FallbackIsolator) Wrap(ctx context.Context, cmd *exec.Cmd, limits ResourceLimits) (*exec.Cmd, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	execCtx, cancel := context.WithCancel(ctx)
	wrapped := clone(execCtx, cmd, limits)
	wrapped.Cancel = func() error {
		if wrapped.Process != nil {
			return wrapped.Process.Kill()
		}
		return nil
	}
	return wrapped, cancel, nil
}

// Capabilities reports env scrubbing only.
func (f *FallbackIsolator) Capabilities() IsolatorCaps {
	return IsolatorCaps{ScrubsEnv: true}
}
