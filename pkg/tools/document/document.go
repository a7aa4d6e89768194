// Package document extracts readable text from attached HTML and plain-text
// files for the model.
package document

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Document is the readable content of an attachment.
type Document struct {
	Title       string
	Description string
	Text        string
	Truncated   bool
}

// ExtractHTML parses raw HTML and renders its visible text, one block per
// line, up to maxLength bytes of text (0 means unlimited).
func ExtractHTML(raw string, maxLength int) (*Document, error) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	w := &textWriter{max: maxLength}
	w.walk(root)

	return &Document{
		Title:       findTitle(root),
		Description: findMetaDescription(root),
		Text:        strings.TrimSpace(w.b.String()),
		Truncated:   w.truncated,
	}, nil
}

// ExtractPlain wraps plain text, truncated to maxLength bytes.
func ExtractPlain(raw string, maxLength int) *Document {
	text := strings.TrimSpace(raw)
	doc := &Document{Text: text}
	if maxLength > 0 && len(text) > maxLength {
		doc.Text = cut(text, maxLength) + "..."
		doc.Truncated = true
	}
	return doc
}

type textWriter struct {
	b         strings.Builder
	written   int
	max       int
	truncated bool

	// pendingBreak is set after a block element so the next text starts a new line.
	pendingBreak bool
}

func (w *textWriter) walk(n *html.Node) {
	if w.truncated {
		return
	}

	switch n.Type {
	case html.CommentNode:
		return
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skippedElements[tag] {
			return
		}
		if tag == "br" {
			w.pendingBreak = true
			return
		}
		block := blockElements[tag]
		if block {
			w.pendingBreak = true
		}
		if tag == "li" {
			w.text("-")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			w.walk(c)
		}
		if block {
			w.pendingBreak = true
		}
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *textWriter) text(s string) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return
	}

	if w.b.Len() > 0 {
		if w.pendingBreak {
			w.b.WriteString("\n")
		} else {
			w.b.WriteString(" ")
		}
	}
	w.pendingBreak = false

	if w.max > 0 && w.written+len(s) > w.max {
		s = cut(s, w.max-w.written) + "..."
		w.truncated = true
	}
	w.b.WriteString(s)
	w.written += len(s)
}

// cut returns the longest prefix of s within n bytes that ends on a rune boundary.
func cut(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var skippedElements = map[string]bool{
	"head":     true,
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"embed":    true,
	"object":   true,
	"svg":      true,
	"template": true,
}

var blockElements = map[string]bool{
	"div": true, "p": true, "section": true, "article": true,
	"header": true, "footer": true, "nav": true, "main": true, "aside": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true,
	"table": true, "tr": true, "td": true, "th": true,
	"form": true, "fieldset": true, "blockquote": true, "pre": true,
}

func findTitle(root *html.Node) string {
	n := findElement(root, func(n *html.Node) bool { return n.Data == "title" })
	if n == nil || n.FirstChild == nil || n.FirstChild.Type != html.TextNode {
		return ""
	}
	return strings.TrimSpace(n.FirstChild.Data)
}

func findMetaDescription(root *html.Node) string {
	n := findElement(root, func(n *html.Node) bool {
		return n.Data == "meta" && attr(n, "name") == "description" && attr(n, "content") != ""
	})
	if n == nil {
		return ""
	}
	return strings.TrimSpace(attr(n, "content"))
}

// findElement returns the first element in document order accepted by match.
func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
