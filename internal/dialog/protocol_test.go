package dialog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mcp-secrets/pkg/schema"
)

func TestProtocol_EncodeTemplateOmitsServerSideRules(t *testing.T) {
	p, err := NewProtocol()
	require.NoError(t, err)

	tpl := testTemplate()
	tpl.Fields[0].Validate = `len(value) > 10`
	data, err := p.EncodeTemplate(tpl)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "validate")
	assert.NotContains(t, string(data), "len(value)")
}

func TestProtocol_DecodeTemplate(t *testing.T) {
	p, err := NewProtocol()
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
		ok   bool
	}{
		{"minimal", `{"title":"t","description":"","fields":[{"name":"a","label":"A","field_type":"text","required":false}]}`, true},
		{"with extras", `{"title":"t","description":"d","fields":[{"name":"a","label":"A","field_type":"email","required":true,"default":"x","help_text":"h","placeholder":"p"}]}`, true},
		{"no fields", `{"title":"t","description":"","fields":[]}`, false},
		{"unknown kind", `{"title":"t","description":"","fields":[{"name":"a","label":"A","field_type":"color","required":false}]}`, false},
		{"unknown property", `{"title":"t","description":"","fields":[{"name":"a","label":"A","field_type":"text","required":false,"validate":"x"}]}`, false},
		{"missing title", `{"description":"","fields":[{"name":"a","label":"A","field_type":"text","required":false}]}`, false},
		{"not json", `{`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.DecodeTemplate([]byte(tc.doc))
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
			}
		})
	}
}

func TestProtocol_DecodeResult(t *testing.T) {
	p, err := NewProtocol()
	require.NoError(t, err)
	tpl := testTemplate()

	got, err := p.DecodeResult([]byte("  \n"), tpl)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = p.DecodeResult([]byte(`{"api_key":"k","other":"x"}`), tpl)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"api_key": "k"}, got)

	_, err = p.DecodeResult([]byte(`{"api_key":null}`), tpl)
	assert.True(t, schema.IsCode(err, schema.ErrCodeDialogMalformedOutput))
}

func TestProtocol_EncodeResult(t *testing.T) {
	p, err := NewProtocol()
	require.NoError(t, err)

	data, err := p.EncodeResult(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	data, err = p.EncodeResult(map[string]string{"a": "1"})
	require.NoError(t, err)
	got, err := p.DecodeResult(data, schema.DialogTemplate{Fields: []schema.FieldDescriptor{{Name: "a"}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1"}, got)
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 5}

	n, err := lw.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = lw.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "abcde", buf.String())
	assert.True(t, lw.truncated)
}
