package tools

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/loom/pkg/config"
	"github.com/entrhq/loom/pkg/types"
)

func newTestParser(t *testing.T, protocol config.Protocol) *Parser {
	t.Helper()
	r, err := NewRegistry()
	require.NoError(t, err)
	r.MustRegister(
		&stubTool{name: "lookup", params: []Param{
			{Name: "query", Type: TypeString, Required: true},
			{Name: "page", Type: TypeResource},
		}},
		NewTaskCompletionTool(),
	)
	return NewParser(r, protocol, config.DefaultSentinels())
}

func TestParseEmbeddedBlocks(t *testing.T) {
	p := newTestParser(t, config.ProtocolAuto)

	tests := []struct {
		name     string
		text     string
		tool     string
		args     map[string]interface{}
		leftover string
	}{
		{
			name:     "registered tag with child elements",
			text:     "Let me search.\n<lookup>\n<query>overdraft fees</query>\n<page>3</page>\n</lookup>",
			tool:     "lookup",
			args:     map[string]interface{}{"query": "overdraft fees", "page": "3"},
			leftover: "Let me search.",
		},
		{
			name: "json body",
			text: `<lookup>{"query": "apr", "page": 2}</lookup>`,
			tool: "lookup",
			args: map[string]interface{}{"query": "apr", "page": float64(2)},
		},
		{
			name:     "inside fenced code block",
			text:     "Searching now\n```xml\n<lookup><query>limits</query></lookup>\n```\n",
			tool:     "lookup",
			args:     map[string]interface{}{"query": "limits"},
			leftover: "Searching now",
		},
		{
			name: "unescaped ampersand",
			text: "<lookup><query>terms & conditions</query></lookup>",
			tool: "lookup",
			args: map[string]interface{}{"query": "terms & conditions"},
		},
		{
			name: "legacy tool wrapper",
			text: "<tool>\n<server_name>local</server_name>\n<tool_name>lookup</tool_name>\n<arguments><query>rates</query></arguments>\n</tool>",
			tool: "lookup",
			args: map[string]interface{}{"query": "rates"},
		},
		{
			name: "tool_call wrapper around registered tag",
			text: "<tool_call><lookup><query>a</query></lookup></tool_call>",
			tool: "lookup",
			args: map[string]interface{}{"query": "a"},
		},
		{
			name: "invoke with name attribute and parameter elements",
			text: `<function_calls><invoke name="lookup"><parameter name="query">disclosures</parameter></invoke></function_calls>`,
			tool: "lookup",
			args: map[string]interface{}{"query": "disclosures"},
		},
		{
			name: "tool_call wrapper with json name and arguments",
			text: `<tool_call>{"name": "lookup", "arguments": {"query": "json"}}</tool_call>`,
			tool: "lookup",
			args: map[string]interface{}{"query": "json"},
		},
		{
			name:     "bracket sentinel",
			text:     "thinking...\n[TOOL_CALL]\n<task_completion><result>done</result></task_completion>\n[/TOOL_CALL]",
			tool:     "task_completion",
			args:     map[string]interface{}{"result": "done"},
			leftover: "thinking...",
		},
		{
			name: "pipe sentinel with json call",
			text: `<|tool_call|>{"name": "task_completion", "arguments": "{\"result\": \"ok\"}"}<|/tool_call|>`,
			tool: "task_completion",
			args: map[string]interface{}{"result": "ok"},
		},
		{
			name: "plain body for single string parameter",
			text: "<task_completion>All findings recorded.</task_completion>",
			tool: "task_completion",
			args: map[string]interface{}{"result": "All findings recorded."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.Parse(tt.text, nil)
			require.NoError(t, err)
			require.True(t, res.HasCalls(), "expected a call in %q", tt.text)
			assert.Equal(t, tt.leftover, res.Text)

			inv, err := p.Resolve(res.Calls[0])
			require.NoError(t, err)
			assert.Equal(t, tt.tool, inv.Name)
			assert.Equal(t, tt.args, inv.Arguments)
			assert.Equal(t, types.EncodingEmbedded, inv.Encoding)
			assert.NotEmpty(t, inv.CallID)
		})
	}
}

func TestParsePrefersRegisteredTag(t *testing.T) {
	p := newTestParser(t, config.ProtocolEmbedded)

	res, err := p.Parse("<xml><note>x</note></xml> then <lookup><query>q</query></lookup>", nil)
	require.NoError(t, err)
	require.True(t, res.HasCalls())
	assert.Equal(t, "lookup", res.Calls[0].ToolName())
}

func TestParseSkipsParameterTags(t *testing.T) {
	p := newTestParser(t, config.ProtocolEmbedded)

	// A wrapper holding only a parameter element names no tool.
	res, err := p.Parse("<tool_call><query>fees</query></tool_call>", nil)
	require.NoError(t, err)
	assert.False(t, res.HasCalls())
}

func TestParsePlainText(t *testing.T) {
	p := newTestParser(t, config.ProtocolAuto)

	for _, text := range []string{
		"No tools needed, the answer is 42.",
		"Use <b>bold</b> for emphasis.",
		"An unterminated <lookup><query>x</query>",
	} {
		res, err := p.Parse(text, nil)
		require.NoError(t, err)
		assert.False(t, res.HasCalls(), text)
		assert.Equal(t, text, res.Text)
	}
}

func TestParseStructuredWins(t *testing.T) {
	p := newTestParser(t, config.ProtocolAuto)

	res, err := p.Parse("<lookup><query>ignored</query></lookup>", []StructuredCall{
		{ID: "call_1", Name: "lookup", Arguments: `{"query":"structured"}`},
	})
	require.NoError(t, err)
	require.Len(t, res.Calls, 1)

	inv, err := p.Resolve(res.Calls[0])
	require.NoError(t, err)
	assert.Equal(t, "call_1", inv.CallID)
	assert.Equal(t, types.EncodingStructured, inv.Encoding)
	assert.Equal(t, "structured", inv.Arguments["query"])
}

func TestResolveProtocolErrors(t *testing.T) {
	p := newTestParser(t, config.ProtocolAuto)

	t.Run("malformed json", func(t *testing.T) {
		inv, err := p.Resolve(StructuredCall{ID: "c1", Name: "lookup", Arguments: `{"query": `})
		var pe *types.ProtocolError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "lookup", pe.ToolName)
		assert.Equal(t, "c1", inv.CallID, "the call id is kept so the error can answer it")
	})

	t.Run("unknown structured tool", func(t *testing.T) {
		_, err := p.Resolve(StructuredCall{ID: "c2", Name: "nope", Arguments: `{}`})
		var pe *types.ProtocolError
		require.True(t, errors.As(err, &pe))
		assert.True(t, errors.Is(err, ErrToolNotFound))
	})

	t.Run("unknown legacy tool name", func(t *testing.T) {
		res, err := p.Parse("<tool><tool_name>delete_all</tool_name><arguments></arguments></tool>", nil)
		require.NoError(t, err)
		require.True(t, res.HasCalls())
		_, err = p.Resolve(res.Calls[0])
		assert.True(t, errors.Is(err, ErrToolNotFound))
	})
}

func TestNativeOnlyIgnoresEmbedded(t *testing.T) {
	p := newTestParser(t, config.ProtocolNative)
	assert.True(t, p.NativeTools())

	res, err := p.Parse("<lookup><query>x</query></lookup>", nil)
	require.NoError(t, err)
	assert.False(t, res.HasCalls())
}

func TestXMLToMap(t *testing.T) {
	got, err := XMLToMap([]byte(`<arguments><q>a</q><tag>x</tag><tag>y</tag><nested><k>v</k></nested></arguments>`))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"q":      "a",
		"tag":    []interface{}{"x", "y"},
		"nested": map[string]interface{}{"k": "v"},
	}, got)
}

func TestEscapeUnescapedAmpersands(t *testing.T) {
	in := []byte(`a & b &amp; c &#38; d &lt;`)
	assert.Equal(t, `a &amp; b &amp; c &#38; d &lt;`, string(escapeUnescapedAmpersands(in)))
}
