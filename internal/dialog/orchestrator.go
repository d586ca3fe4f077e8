// Package dialog runs the external credential dialog: one JSON template on
// stdin, one JSON result (or nothing) on stdout, and an exit code that says
// submitted (0), cancelled (1) or failed (anything else).
package dialog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rendis/mcp-secrets/internal/isolation"
	"github.com/rendis/mcp-secrets/internal/logging"
	"github.com/rendis/mcp-secrets/pkg/schema"
)

// PathBinary is looked up on PATH when no platform binary is installed.
const PathBinary = "secrets-dialog"

// Exit codes of the dialog protocol.
const (
	ExitSubmitted = 0
	ExitCancelled = 1
	ExitError     = 2
)

const (
	defaultTimeout  = 10 * time.Minute
	maxStdoutBytes  = 1 << 20
	maxStderrBytes  = 16 << 10
	stderrInErrSize = 2 << 10
)

// PlatformBinary returns the bundled dialog executable name for goos.
func PlatformBinary(goos string) string {
	switch goos {
	case "darwin":
		return "macos_dialog"
	case "windows":
		return "windows_dialog.exe"
	default:
		return "linux_dialog"
	}
}

// Config configures an Orchestrator.
type Config struct {
	// BinaryOverride is an explicit dialog path that skips auto-detection.
	BinaryOverride string
	// BinDir holds the bundled platform binaries.
	BinDir string
	// Timeout bounds one dialog round trip. Zero uses 10 minutes.
	Timeout time.Duration
	// EnvAllowlist is passed to the isolator; nil uses its default.
	EnvAllowlist []string
	Isolator     isolation.Isolator
	Logger       *slog.Logger
}

// Pending is a running dialog.
type Pending interface {
	// Wait blocks until the dialog exits or ctx ends. If ctx ends first the
	// dialog is terminated and ctx's error returned.
	Wait(ctx context.Context) (schema.DialogResult, error)
	// Terminate kills and reaps the dialog. It is idempotent and a no-op
	// once the dialog has exited.
	Terminate()
}

// Orchestrator starts dialog processes.
type Orchestrator struct {
	cfg      Config
	protocol *Protocol
	logger   *slog.Logger
	goos     string
}

// NewOrchestrator returns an Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	p, err := NewProtocol()
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Isolator == nil {
		cfg.Isolator = isolation.NewIsolator()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{
		cfg:      cfg,
		protocol: p,
		logger:   logger.With("component", "dialog"),
		goos:     runtime.GOOS,
	}, nil
}

// ResolveBinary returns the dialog executable: the override if configured,
// else the platform binary in BinDir, else secrets-dialog on PATH.
func (o *Orchestrator) ResolveBinary() (string, error) {
	if o.cfg.BinaryOverride != "" {
		if err := checkExecutable(o.cfg.BinaryOverride); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeDialogBinaryNotFound,
				"configured dialog binary %s is not usable", o.cfg.BinaryOverride).WithCause(err)
		}
		return o.cfg.BinaryOverride, nil
	}

	var tried []string
	if o.cfg.BinDir != "" {
		p := filepath.Join(o.cfg.BinDir, PlatformBinary(o.goos))
		if checkExecutable(p) == nil {
			return p, nil
		}
		tried = append(tried, p)
	}
	if p, err := exec.LookPath(PathBinary); err == nil {
		return p, nil
	}
	tried = append(tried, PathBinary+" on PATH")
	return "", schema.NewErrorf(schema.ErrCodeDialogBinaryNotFound,
		"no dialog binary found (tried %s)", strings.Join(tried, ", "))
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return fs.ErrPermission
	}
	return nil
}

// Start validates tpl, spawns the dialog, writes the template to its stdin
// and closes it. It returns without waiting for the user.
func (o *Orchestrator) Start(ctx context.Context, tpl schema.DialogTemplate) (Pending, error) {
	payload, err := o.protocol.EncodeTemplate(tpl)
	if err != nil {
		return nil, err
	}
	bin, err := o.ResolveBinary()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	p := &process{
		tpl:      tpl,
		protocol: o.protocol,
		logger:   o.logger,
		cancel:   cancel,
		timeout:  o.cfg.Timeout,
		done:     make(chan struct{}),
	}

	cmd := exec.Command(bin)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &limitedWriter{w: &p.stdout, limit: maxStdoutBytes}
	p.stderrW = &limitedWriter{w: &p.stderr, limit: maxStderrBytes}
	cmd.Stderr = p.stderrW

	wrapped, cleanup, err := o.cfg.Isolator.Wrap(runCtx, cmd, isolation.ResourceLimits{
		EnvAllowlist: o.cfg.EnvAllowlist,
	})
	if err != nil {
		cancel()
		return nil, schema.NewError(schema.ErrCodeIsolation, "prepare dialog process").WithCause(err)
	}
	if err := wrapped.Start(); err != nil {
		cleanup()
		cancel()
		code := schema.ErrCodeDialogProcessFailed
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
			code = schema.ErrCodeDialogBinaryNotFound
		}
		return nil, schema.NewErrorf(code, "start dialog %s", filepath.Base(bin)).WithCause(err)
	}

	p.cmd = wrapped
	o.logger.InfoContext(ctx, "dialog started",
		"binary", bin, "pid", wrapped.Process.Pid, "fields", len(tpl.Fields))

	go func() {
		p.waitErr = wrapped.Wait()
		p.ctxErr = runCtx.Err()
		cleanup()
		cancel()
		close(p.done)
	}()
	return p, nil
}

// Collect runs a dialog to completion.
func (o *Orchestrator) Collect(ctx context.Context, tpl schema.DialogTemplate) (schema.DialogResult, error) {
	p, err := o.Start(ctx, tpl)
	if err != nil {
		return schema.DialogResult{}, err
	}
	defer p.Terminate()
	return p.Wait(ctx)
}

// process is a started dialog.
type process struct {
	cmd      *exec.Cmd
	tpl      schema.DialogTemplate
	protocol *Protocol
	logger   *slog.Logger
	timeout  time.Duration

	cancel context.CancelFunc

	stdout  bytes.Buffer
	stderr  bytes.Buffer
	stderrW *limitedWriter

	done    chan struct{}
	waitErr error
	ctxErr  error // run context state when the process exited

	mu         sync.Mutex
	terminated bool
}

func (p *process) Wait(ctx context.Context) (schema.DialogResult, error) {
	select {
	case <-p.done:
		return p.classify()
	case <-ctx.Done():
		p.Terminate()
		return schema.DialogResult{}, ctx.Err()
	}
}

func (p *process) Terminate() {
	select {
	case <-p.done:
		return
	default:
	}
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	p.cancel()
	<-p.done
	p.logger.Info("dialog terminated", "pid", p.cmd.Process.Pid)
}

func (p *process) wasTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// classify maps the exit status onto the protocol outcomes. Only called
// after done is closed.
func (p *process) classify() (schema.DialogResult, error) {
	if p.waitErr == nil {
		values, err := p.protocol.DecodeResult(p.stdout.Bytes(), p.tpl)
		if err != nil {
			return schema.DialogResult{}, err
		}
		return schema.DialogResult{Values: values}, nil
	}

	if p.wasTerminated() {
		return schema.DialogResult{Cancelled: true}, nil
	}
	switch err := p.ctxErr; {
	case errors.Is(err, context.DeadlineExceeded):
		return schema.DialogResult{}, schema.NewErrorf(schema.ErrCodeDialogProcessFailed,
			"dialog timed out after %s", p.timeout)
	case errors.Is(err, context.Canceled):
		return schema.DialogResult{}, err
	}

	var exitErr *exec.ExitError
	if !errors.As(p.waitErr, &exitErr) {
		return schema.DialogResult{}, schema.NewError(schema.ErrCodeDialogProcessFailed, "wait for dialog").
			WithCause(p.waitErr)
	}
	if exitErr.ExitCode() == ExitCancelled {
		return schema.DialogResult{Cancelled: true}, nil
	}

	stderr := strings.TrimSpace(p.stderr.String())
	if len(stderr) > stderrInErrSize {
		stderr = stderr[:stderrInErrSize] + "..."
	}
	msg := fmt.Sprintf("dialog exited with code %d", exitErr.ExitCode())
	if stderr != "" {
		msg += ": " + stderr
	}
	return schema.DialogResult{}, schema.NewError(schema.ErrCodeDialogProcessFailed, msg).
		WithCause(p.waitErr).
		WithDetails(map[string]any{
			"exit_code":        exitErr.ExitCode(),
			"stderr_truncated": p.stderrW.truncated,
		})
}
