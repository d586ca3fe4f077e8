package dialog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/mcp-secrets/pkg/schema"
)

// Protocol schema identifiers. The version is part of the URL; a breaking
// change to the stdio contract gets a new URL.
const (
	templateSchemaURL = "https://mcp-secrets.dev/schemas/dialog/v1/template.json"
	resultSchemaURL   = "https://mcp-secrets.dev/schemas/dialog/v1/result.json"
)

const templateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://mcp-secrets.dev/schemas/dialog/v1/template.json",
  "type": "object",
  "required": ["title", "description", "fields"],
  "properties": {
    "title": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "fields": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/field" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "field": {
      "type": "object",
      "required": ["name", "label", "field_type", "required"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "label": { "type": "string", "minLength": 1 },
        "field_type": { "type": "string", "enum": ["text", "password", "url", "email"] },
        "required": { "type": "boolean" },
        "default": { "type": "string" },
        "help_text": { "type": "string" },
        "placeholder": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

const resultSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://mcp-secrets.dev/schemas/dialog/v1/result.json",
  "type": "object",
  "additionalProperties": { "type": "string" }
}`

// Protocol validates both directions of the dialog stdio exchange.
// It is safe for concurrent use.
type Protocol struct {
	template *jsonschema.Schema
	result   *jsonschema.Schema
}

// NewProtocol compiles the protocol schemas.
func NewProtocol() (*Protocol, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	for url, src := range map[string]string{
		templateSchemaURL: templateSchemaJSON,
		resultSchemaURL:   resultSchemaJSON,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	tpl, err := c.Compile(templateSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile template schema: %w", err)
	}
	res, err := c.Compile(resultSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile result schema: %w", err)
	}
	return &Protocol{template: tpl, result: res}, nil
}

// EncodeTemplate validates tpl and returns the bytes written to the dialog's
// stdin.
func (p *Protocol) EncodeTemplate(tpl schema.DialogTemplate) ([]byte, error) {
	if err := schema.ValidateFields(tpl.Fields).ToError(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(tpl)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "encode dialog template").WithCause(err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "encode dialog template").WithCause(err)
	}
	if err := p.template.Validate(doc); err != nil {
		return nil, toSecretsError(schema.ErrCodeValidation, "invalid dialog template", err)
	}
	return data, nil
}

// DecodeTemplate parses and validates a template read by a dialog binary.
func (p *Protocol) DecodeTemplate(data []byte) (schema.DialogTemplate, error) {
	var tpl schema.DialogTemplate
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return tpl, schema.NewError(schema.ErrCodeValidation, "template is not valid JSON").WithCause(err)
	}
	if err := p.template.Validate(doc); err != nil {
		return tpl, toSecretsError(schema.ErrCodeValidation, "invalid dialog template", err)
	}
	if err := json.Unmarshal(data, &tpl); err != nil {
		return tpl, schema.NewError(schema.ErrCodeValidation, "decode dialog template").WithCause(err)
	}
	return tpl, nil
}

// DecodeResult parses the dialog's stdout. Empty output is an empty result.
// Keys that are not template fields are dropped.
func (p *Protocol) DecodeResult(data []byte, tpl schema.DialogTemplate) (map[string]string, error) {
	values := make(map[string]string, len(tpl.Fields))
	if len(bytes.TrimSpace(data)) == 0 {
		return values, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeDialogMalformedOutput, "dialog output is not valid JSON").
			WithCause(err)
	}
	if err := p.result.Validate(doc); err != nil {
		return nil, toSecretsError(schema.ErrCodeDialogMalformedOutput, "dialog output does not match the result schema", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, schema.NewError(schema.ErrCodeDialogMalformedOutput, "decode dialog output").WithCause(err)
	}
	for _, f := range tpl.Fields {
		if v, ok := raw[f.Name]; ok {
			values[f.Name] = v
		}
	}
	return values, nil
}

// EncodeResult serializes a result. Used by dialog binaries.
func (p *Protocol) EncodeResult(values map[string]string) ([]byte, error) {
	if values == nil {
		values = map[string]string{}
	}
	return json.Marshal(values)
}

// toSecretsError converts a jsonschema validation error. Only instance
// locations and keywords are reported, never instance values.
func toSecretsError(code, msg string, err error) *schema.SecretsError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(code, msg).WithCause(err)
	}
	violations := collectViolations(verr)
	return schema.NewError(code, msg).WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		kw := "invalid"
		if verr.ErrorKind != nil {
			kw = strings.Join(verr.ErrorKind.KeywordPath(), "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, kw)}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
