// Package rules checks submitted credential values before they are stored:
// format checks per field kind, and optional expr-lang rules per field.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/mcp-secrets/pkg/schema"
)

// Env is what a rule expression sees. A rule must evaluate to a bool.
//
//	validate: 'value startsWith "sk-" && len(value) >= 20'
type Env struct {
	Value string `expr:"value"`
	Name  string `expr:"name"`
	Kind  string `expr:"kind"`
}

var formatSchemas = map[schema.FieldKind]string{
	schema.FieldURL:   `{"type": "string", "format": "uri"}`,
	schema.FieldEmail: `{"type": "string", "format": "email"}`,
}

// Checker validates values. Compiled rules are cached; safe for concurrent use.
type Checker struct {
	formats map[schema.FieldKind]*jsonschema.Schema

	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewChecker compiles the format schemas.
func NewChecker() (*Checker, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	formats := make(map[schema.FieldKind]*jsonschema.Schema, len(formatSchemas))
	for kind, src := range formatSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s format schema: %w", kind, err)
		}
		url := "mcp-secrets://formats/" + string(kind)
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s format schema: %w", kind, err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s format schema: %w", kind, err)
		}
		formats[kind] = sch
	}
	return &Checker{formats: formats, cache: make(map[string]*vm.Program)}, nil
}

// Compile checks that expression is a valid boolean rule and caches it.
func (c *Checker) Compile(expression string) error {
	_, err := c.program(expression)
	return err
}

// CompileFields compiles every rule in fields.
func (c *Checker) CompileFields(fields []schema.FieldDescriptor) error {
	for _, f := range fields {
		if f.Validate == "" {
			continue
		}
		if err := c.Compile(f.Validate); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "field %s: %s", f.Name, err.(*schema.SecretsError).Message).
				WithCause(err)
		}
	}
	return nil
}

// Check validates value against f's kind and rule. Errors name the field,
// never the value.
func (c *Checker) Check(f schema.FieldDescriptor, value string) error {
	if sch, ok := c.formats[f.Kind]; ok {
		if err := sch.Validate(value); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "not a valid %s", f.Kind).WithSecret(f.Name)
		}
	}
	if f.Validate == "" {
		return nil
	}

	prg, err := c.program(f.Validate)
	if err != nil {
		return err
	}
	out, err := vm.Run(prg, Env{Value: value, Name: f.Name, Kind: string(f.Kind)})
	if err != nil {
		// Runtime messages may quote the value, so the cause is not attached.
		return schema.NewErrorf(schema.ErrCodeValidation, "rule %q could not be evaluated", f.Validate).
			WithSecret(f.Name)
	}
	if ok, _ := out.(bool); !ok {
		msg := fmt.Sprintf("value does not satisfy rule %q", f.Validate)
		if f.HelpText != "" {
			msg += " (" + f.HelpText + ")"
		}
		return schema.NewError(schema.ErrCodeValidation, msg).WithSecret(f.Name)
	}
	return nil
}

// CheckAll validates every non-empty value and reports all violations.
func (c *Checker) CheckAll(values []schema.FieldValue) *schema.ValidationResult {
	r := &schema.ValidationResult{}
	for _, fv := range values {
		if err := c.Check(fv.Field, fv.Value); err != nil {
			msg := err.Error()
			var se *schema.SecretsError
			if errors.As(err, &se) {
				msg = se.Message
			}
			r.AddError(fv.Field.Name, msg)
		}
	}
	return r
}

func (c *Checker) program(expression string) (*vm.Program, error) {
	c.mu.RLock()
	if prg, ok := c.cache[expression]; ok {
		c.mu.RUnlock()
		return prg, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, ok := c.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"rule compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	c.cache[expression] = prg
	return prg, nil
}
