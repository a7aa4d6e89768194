package parser

import (
	"strings"
	"testing"
)

func feed(p *ThinkingParser, chunks []string) (thinking, message string) {
	var th, msg strings.Builder
	for _, c := range chunks {
		t, m := p.Parse(c)
		th.WriteString(t)
		msg.WriteString(m)
	}
	t, m := p.Flush()
	th.WriteString(t)
	msg.WriteString(m)
	return th.String(), msg.String()
}

// Thinking content containing < and > must not hide the closing tag.
func TestThinkingParserWithLessThanGreaterThan(t *testing.T) {
	parser := NewThinkingParser()

	chunks := []string{
		"<thinking>",
		"Looking at code:\n",
		"2. Line 11: `if x>3{`\n",
		"3. Line 15: `for i:=0;i<10;i++{`\n",
		"</thinking>",
		"\n\n<lookup>test</lookup>",
	}

	thinking, message := feed(parser, chunks)

	if parser.IsInThinking() {
		t.Error("parser is still in thinking mode after </thinking>")
	}
	if !strings.Contains(message, "<lookup>test</lookup>") {
		t.Errorf("tool block should be visible text, got %q", message)
	}
	if !strings.Contains(thinking, "i<10") || !strings.Contains(thinking, "x>3") {
		t.Errorf("thinking should preserve < and >, got %q", thinking)
	}
}

func TestThinkingParserSplitTags(t *testing.T) {
	parser := NewThinkingParser()

	thinking, message := feed(parser, []string{"Hi <thi", "nk>secret</th", "ink> there"})

	if thinking != "secret" {
		t.Errorf("expected thinking %q, got %q", "secret", thinking)
	}
	if message != "Hi  there" {
		t.Errorf("expected message %q, got %q", "Hi  there", message)
	}
}

func TestThinkingParserMismatchedCloseStaysInside(t *testing.T) {
	parser := NewThinkingParser()

	thinking, message := feed(parser, []string{"<thinking>a</think>b</thinking>c"})

	if thinking != "a</think>b" {
		t.Errorf("unexpected thinking %q", thinking)
	}
	if message != "c" {
		t.Errorf("unexpected message %q", message)
	}
}

func TestThinkingParserFlushUnclosedTag(t *testing.T) {
	parser := NewThinkingParser()

	_, message := feed(parser, []string{"value <unfinished"})

	if message != "value <unfinished" {
		t.Errorf("expected held-back tag text to be flushed, got %q", message)
	}
}

func TestThinkingParserReset(t *testing.T) {
	parser := NewThinkingParser()
	parser.Parse("<thinking>half")
	parser.Reset()

	if parser.IsInThinking() {
		t.Error("Reset should leave thinking mode")
	}
	_, message := feed(parser, []string{"plain"})
	if message != "plain" {
		t.Errorf("unexpected message %q", message)
	}
}
