// Command secrets-dialog is the terminal dialog for mcp-secrets. It reads a
// dialog template on stdin, asks for the values on the controlling terminal
// and prints the result as JSON on stdout.
package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/rendis/mcp-secrets/internal/dialog"
	"github.com/rendis/mcp-secrets/internal/dialogtui"
)

const maxTemplateBytes = 1 << 20

func main() {
	os.Exit(run(os.Stdin, os.Stdout, os.Stderr, openTTY))
}

// run returns the process exit code: 0 submitted, 1 cancelled, 2 error.
func run(stdin io.Reader, stdout, stderr io.Writer, tty func() (*os.File, error)) int {
	proto, err := dialog.NewProtocol()
	if err != nil {
		fmt.Fprintf(stderr, "secrets-dialog: %v\n", err)
		return dialog.ExitError
	}

	data, err := io.ReadAll(io.LimitReader(stdin, maxTemplateBytes))
	if err != nil {
		fmt.Fprintf(stderr, "secrets-dialog: reading template: %v\n", err)
		return dialog.ExitError
	}
	tpl, err := proto.DecodeTemplate(data)
	if err != nil {
		fmt.Fprintf(stderr, "secrets-dialog: %v\n", err)
		return dialog.ExitError
	}

	t, err := tty()
	if err != nil {
		fmt.Fprintf(stderr, "secrets-dialog: %v\n", err)
		return dialog.ExitError
	}
	defer t.Close()

	restore := takeForeground(t)
	m, err := dialogtui.Run(tpl, t, t)
	restore()
	if err != nil {
		fmt.Fprintf(stderr, "secrets-dialog: %v\n", err)
		return dialog.ExitError
	}
	if !m.Submitted() {
		return dialog.ExitCancelled
	}

	out, err := proto.EncodeResult(m.Values())
	if err != nil {
		fmt.Fprintf(stderr, "secrets-dialog: %v\n", err)
		return dialog.ExitError
	}
	if _, err := stdout.Write(out); err != nil {
		fmt.Fprintf(stderr, "secrets-dialog: writing result: %v\n", err)
		return dialog.ExitError
	}
	return dialog.ExitSubmitted
}

// openTTY opens the controlling terminal. stdin and stdout carry the
// protocol, so the form needs its own handle.
func openTTY() (*os.File, error) {
	f, err := os.OpenFile(ttyPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("no terminal available: %w", err)
	}
	if !term.IsTerminal(int(f.Fd())) {
		f.Close()
		return nil, fmt.Errorf("%s is not a terminal", ttyPath)
	}
	return f, nil
}
