package schema

import (
	"fmt"
	"regexp"
)

// FieldKind is the input widget a dialog renders for a field.
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldPassword FieldKind = "password"
	FieldURL      FieldKind = "url"
	FieldEmail    FieldKind = "email"
)

// Valid reports whether k is a known field kind.
func (k FieldKind) Valid() bool {
	switch k {
	case FieldText, FieldPassword, FieldURL, FieldEmail:
		return true
	}
	return false
}

// FieldDescriptor describes one secret the dialog collects.
// Validate is a server-side rule and never leaves the process.
type FieldDescriptor struct {
	Name        string    `json:"name" yaml:"name"`
	Label       string    `json:"label" yaml:"label"`
	Kind        FieldKind `json:"field_type" yaml:"field_type"`
	Required    bool      `json:"required" yaml:"required"`
	Default     string    `json:"default,omitempty" yaml:"default,omitempty"`
	HelpText    string    `json:"help_text,omitempty" yaml:"help_text,omitempty"`
	Placeholder string    `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Validate    string    `json:"-" yaml:"validate,omitempty"`
}

// DialogTemplate is the single JSON document written to the dialog's stdin.
type DialogTemplate struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Fields      []FieldDescriptor `json:"fields"`
}

// DialogResult is the outcome of one dialog round trip.
type DialogResult struct {
	Values    map[string]string
	Cancelled bool
}

// Submitted returns the non-empty values in the given field order.
// Empty submissions mean "leave unchanged" and are skipped.
func (r DialogResult) Submitted(fields []FieldDescriptor) []FieldValue {
	out := make([]FieldValue, 0, len(r.Values))
	for _, f := range fields {
		if v := r.Values[f.Name]; v != "" {
			out = append(out, FieldValue{Field: f, Value: v})
		}
	}
	return out
}

// FieldValue pairs a submitted value with its descriptor.
type FieldValue struct {
	Field FieldDescriptor
	Value string
}

// IndexAccount is the vault account that holds a namespace's name index.
const IndexAccount = "__secret_index__"

var secretNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,127}$`)

// ValidateSecretName checks that name is usable as a vault account.
func ValidateSecretName(name string) error {
	if name == IndexAccount {
		return NewErrorf(ErrCodeValidation, "%q is reserved", name)
	}
	if !secretNamePattern.MatchString(name) {
		return NewErrorf(ErrCodeValidation,
			"invalid secret name %q: must match %s", name, secretNamePattern.String())
	}
	return nil
}

// ValidateFields checks a field list for names, kinds and duplicates. An
// empty kind is accepted; Normalize turns it into text.
func ValidateFields(fields []FieldDescriptor) *ValidationResult {
	r := &ValidationResult{}
	if len(fields) == 0 {
		r.AddError("fields", "at least one field is required")
		return r
	}
	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		path := fmt.Sprintf("fields[%d]", i)
		if err := ValidateSecretName(f.Name); err != nil {
			r.AddError(path+".name", err.(*SecretsError).Message)
		}
		if _, dup := seen[f.Name]; dup {
			r.AddError(path+".name", fmt.Sprintf("duplicate field name %q", f.Name))
		}
		seen[f.Name] = struct{}{}
		if f.Kind != "" && !f.Kind.Valid() {
			r.AddError(path+".field_type",
				fmt.Sprintf("unknown field_type %q: must be one of text, password, url, email", f.Kind))
		}
		if f.Label == "" {
			r.AddWarning(path+".label", "empty label, the name will be shown instead")
		}
		if f.Kind == FieldPassword && f.Default != "" {
			r.AddWarning(path+".default", "password fields should not carry a default")
		}
	}
	return r
}

// Normalize fills in defaults the dialog protocol expects: a label and a kind.
func (f FieldDescriptor) Normalize() FieldDescriptor {
	if f.Label == "" {
		f.Label = f.Name
	}
	if f.Kind == "" {
		f.Kind = FieldText
	}
	return f
}
