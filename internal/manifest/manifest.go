// Package manifest loads the secret fields a server declares from YAML:
//
//	secrets:
//	  - name: api_key
//	    label: API Key
//	    field_type: password
//	    required: true
//	    validate: 'value startsWith "sk-"'
//	  - name: endpoint
//	    field_type: url
//	    default: https://api.example.com
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rendis/mcp-secrets/internal/rules"
	"github.com/rendis/mcp-secrets/pkg/schema"
)

// Manifest is an ordered list of declared secret fields.
type Manifest struct {
	Secrets []schema.FieldDescriptor `yaml:"secrets"`

	// Warnings holds the non-fatal issues found while parsing.
	Warnings *schema.ValidationResult `yaml:"-"`
}

// Empty returns a manifest that declares nothing.
func Empty() *Manifest { return &Manifest{} }

// Parse decodes and validates a manifest. Unknown keys are rejected and every
// validate rule must compile.
func Parse(data []byte, checker *rules.Checker) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse manifest: %s", err.Error()).WithCause(err)
	}
	if len(m.Secrets) == 0 {
		return &m, nil
	}
	vr := schema.ValidateFields(m.Secrets)
	if err := vr.ToError(); err != nil {
		return nil, err
	}
	m.Warnings = vr
	for i := range m.Secrets {
		m.Secrets[i] = m.Secrets[i].Normalize()
	}
	if checker != nil {
		if err := checker.CompileFields(m.Secrets); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// Load reads and parses the manifest at path.
func Load(path string, checker *rules.Checker) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data, checker)
}

// Names returns the declared names in manifest order.
func (m *Manifest) Names() []string {
	out := make([]string, len(m.Secrets))
	for i, f := range m.Secrets {
		out[i] = f.Name
	}
	return out
}

// Field returns the descriptor for name.
func (m *Manifest) Field(name string) (schema.FieldDescriptor, bool) {
	for _, f := range m.Secrets {
		if f.Name == name {
			return f, true
		}
	}
	return schema.FieldDescriptor{}, false
}

// Fields returns the descriptors for names in manifest order, or every
// descriptor when names is empty. Undeclared names are an error.
func (m *Manifest) Fields(names ...string) ([]schema.FieldDescriptor, error) {
	if len(names) == 0 {
		return append([]schema.FieldDescriptor(nil), m.Secrets...), nil
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := m.Field(n); !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "secret %q is not declared", n)
		}
		want[n] = struct{}{}
	}
	out := make([]schema.FieldDescriptor, 0, len(want))
	for _, f := range m.Secrets {
		if _, ok := want[f.Name]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}
