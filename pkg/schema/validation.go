package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Issue is one problem with a field list or a submitted value. Path is a
// field name or a location such as "fields[1].name". Messages never quote
// secret values.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationResult collects the issues of one check. Errors reject the
// input; warnings are reported and the input is still used.
type ValidationResult struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Valid reports whether no errors were found.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) AddError(path, message string) {
	r.Errors = append(r.Errors, Issue{Path: path, Message: message})
}

func (r *ValidationResult) AddWarning(path, message string) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Message: message})
}

// LogWarnings writes every warning to logger, tagged with source (a manifest
// path, a tool name).
func (r *ValidationResult) LogWarnings(ctx context.Context, logger *slog.Logger, source string) {
	if r == nil || logger == nil {
		return
	}
	for _, w := range r.Warnings {
		logger.WarnContext(ctx, w.Message, "source", source, "path", w.Path)
	}
}

// ToError returns a VALIDATION_ERROR naming every error, or nil when valid.
// The paths are also attached as details.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	parts := make([]string, len(r.Errors))
	paths := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		parts[i] = e.String()
		paths[i] = e.Path
	}
	msg := parts[0]
	if len(parts) > 1 {
		msg = fmt.Sprintf("%d problems: %s", len(parts), strings.Join(parts, "; "))
	}
	return NewError(ErrCodeValidation, msg).WithDetails(map[string]any{"paths": paths})
}
