package document

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/loom/pkg/agent/resources"
	"github.com/entrhq/loom/pkg/agent/tools"
)

func TestExtractHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains []string
		excludes []string
	}{
		{
			name:     "drops scripts and styles",
			input:    `<html><head><style>.x{}</style></head><body><p>Hello</p><script>alert(1)</script></body></html>`,
			contains: []string{"Hello"},
			excludes: []string{"alert", ".x{}"},
		},
		{
			name:     "blocks on separate lines",
			input:    `<body><h1>Title</h1><p>First</p><p>Second</p></body>`,
			contains: []string{"Title\nFirst\nSecond"},
		},
		{
			name:     "inline text joined",
			input:    `<p>Some <b>bold</b> and <a href="/x">link</a>.</p>`,
			contains: []string{"Some bold and link ."},
		},
		{
			name:     "list items",
			input:    `<ul><li>one</li><li>two</li></ul>`,
			contains: []string{"- one\n- two"},
		},
		{
			name:     "comments removed",
			input:    `<p>visible<!-- hidden --></p>`,
			contains: []string{"visible"},
			excludes: []string{"hidden"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ExtractHTML(tt.input, 0)
			require.NoError(t, err)
			for _, s := range tt.contains {
				if !strings.Contains(doc.Text, s) {
					t.Errorf("text %q does not contain %q", doc.Text, s)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(doc.Text, s) {
					t.Errorf("text %q should not contain %q", doc.Text, s)
				}
			}
		})
	}
}

func TestExtractHTMLMetadata(t *testing.T) {
	input := `<html><head><title> Report </title>
<meta name="description" content="Quarterly numbers"></head><body>x</body></html>`

	doc, err := ExtractHTML(input, 0)
	require.NoError(t, err)
	assert.Equal(t, "Report", doc.Title)
	assert.Equal(t, "Quarterly numbers", doc.Description)
	assert.Equal(t, "x", doc.Text)
}

func TestExtractHTMLTruncates(t *testing.T) {
	doc, err := ExtractHTML(`<p>`+strings.Repeat("word ", 100)+`</p>`, 20)
	require.NoError(t, err)
	assert.True(t, doc.Truncated)
	assert.True(t, strings.HasSuffix(doc.Text, "..."))
	assert.LessOrEqual(t, len(doc.Text), 23)
}

func TestExtractTruncatesOnRuneBoundary(t *testing.T) {
	doc := ExtractPlain("aé", 2)
	assert.Equal(t, "a...", doc.Text)
	assert.True(t, utf8.ValidString(doc.Text))

	html, err := ExtractHTML("<p>"+strings.Repeat("日本", 10)+"</p>", 7)
	require.NoError(t, err)
	assert.True(t, html.Truncated)
	assert.True(t, utf8.ValidString(html.Text))
	assert.Equal(t, "日本...", html.Text)
}

func TestExtractPlain(t *testing.T) {
	doc := ExtractPlain("  hello world  ", 0)
	assert.Equal(t, "hello world", doc.Text)
	assert.False(t, doc.Truncated)

	doc = ExtractPlain("abcdefgh", 4)
	assert.Equal(t, "abcd...", doc.Text)
	assert.True(t, doc.Truncated)
}

func bind(t *testing.T, tool tools.Tool, res resources.Resource) tools.Arguments {
	t.Helper()
	args, err := tool.Schema().Coerce(map[string]interface{}{"attachment": float64(res.Index)})
	require.NoError(t, err)
	rv := args["attachment"].(tools.ResourceValue)
	rv.Resource, rv.Bound = res, true
	args["attachment"] = rv
	return args
}

func TestExtractTextTool(t *testing.T) {
	tool := NewExtractTextTool(0)

	t.Run("HTML", func(t *testing.T) {
		res := resources.Resource{Index: 2, MimeType: "text/html", Data: []byte(`<title>T</title><p>Body</p>`)}
		result, err := tool.Execute(context.Background(), bind(t, tool, res))
		require.NoError(t, err)

		payload := result.Payload.(map[string]interface{})
		assert.Equal(t, 2, payload["index"])
		assert.Equal(t, "T", payload["title"])
		assert.Equal(t, "Body", payload["text"])
	})

	t.Run("SniffsUntypedHTML", func(t *testing.T) {
		res := resources.Resource{Index: 1, MimeType: "application/octet-stream", Data: []byte(`<!DOCTYPE html><p>Sniffed</p>`)}
		result, err := tool.Execute(context.Background(), bind(t, tool, res))
		require.NoError(t, err)
		assert.Equal(t, "Sniffed", result.Payload.(map[string]interface{})["text"])
	})

	t.Run("PlainText", func(t *testing.T) {
		res := resources.Resource{Index: 1, MimeType: "text/plain; charset=utf-8", Data: []byte("notes")}
		result, err := tool.Execute(context.Background(), bind(t, tool, res))
		require.NoError(t, err)
		assert.Equal(t, "notes", result.Payload.(map[string]interface{})["text"])
	})

	t.Run("RejectsBinary", func(t *testing.T) {
		res := resources.Resource{Index: 1, MimeType: "image/png", Data: []byte("\x89PNG")}
		_, err := tool.Execute(context.Background(), bind(t, tool, res))
		assert.Error(t, err)
	})

	t.Run("Unbound", func(t *testing.T) {
		_, err := tool.Execute(context.Background(), tools.Arguments{})
		assert.Error(t, err)
	})

	assert.True(t, tool.Cacheable())
	assert.False(t, tool.IsLoopBreaking())
}
