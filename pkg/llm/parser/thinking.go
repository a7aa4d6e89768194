// Package parser provides utilities for parsing structured content from LLM streams.
package parser

import (
	"strings"
)

// thinkingTags lists the open/close pairs treated as private reasoning.
var thinkingTags = map[string]string{
	"<thinking>": "</thinking>",
	"<think>":    "</think>",
}

// ThinkingParser separates <thinking> (and <think>) sections from visible text
// in a stream of deltas. Tags may be split across deltas.
type ThinkingParser struct {
	buffer    strings.Builder
	tagBuffer strings.Builder // potential tag content between < and >
	closeTag  string          // non-empty while inside a thinking section
	inTag     bool            // saw '<' but not yet '>'
}

// NewThinkingParser creates a new thinking parser.
func NewThinkingParser() *ThinkingParser {
	return &ThinkingParser{}
}

// Parse consumes a delta and returns the thinking and visible text it completes.
// Text that might be the start of a tag is held back until the tag resolves.
func (p *ThinkingParser) Parse(content string) (thinking, message string) {
	var th, msg strings.Builder

	emit := func(text string) {
		if text == "" {
			return
		}
		if p.closeTag != "" {
			th.WriteString(text)
		} else {
			msg.WriteString(text)
		}
	}

	for _, ch := range content {
		if ch == '<' {
			// A second '<' means the buffered one was not a tag.
			if p.inTag {
				emit(p.tagBuffer.String())
			}
			emit(p.buffer.String())
			p.buffer.Reset()

			p.inTag = true
			p.tagBuffer.Reset()
			p.tagBuffer.WriteRune(ch)
			continue
		}

		if ch == '>' && p.inTag {
			p.tagBuffer.WriteRune(ch)
			tag := p.tagBuffer.String()
			p.tagBuffer.Reset()
			p.inTag = false

			if p.closeTag == "" {
				if closing, ok := thinkingTags[tag]; ok {
					p.closeTag = closing
					continue
				}
			} else if tag == p.closeTag {
				p.closeTag = ""
				continue
			}

			emit(tag)
			continue
		}

		if p.inTag {
			p.tagBuffer.WriteRune(ch)
		} else {
			p.buffer.WriteRune(ch)
		}
	}

	emit(p.buffer.String())
	p.buffer.Reset()

	return th.String(), msg.String()
}

// IsInThinking returns true if currently inside a thinking section.
func (p *ThinkingParser) IsInThinking() bool {
	return p.closeTag != ""
}

// Flush returns any buffered content. Call it at the end of a stream.
func (p *ThinkingParser) Flush() (thinking, message string) {
	pending := p.buffer.String()
	if p.inTag {
		pending = p.tagBuffer.String() + pending
		p.inTag = false
	}
	p.buffer.Reset()
	p.tagBuffer.Reset()

	if p.closeTag != "" {
		return pending, ""
	}
	return "", pending
}

// Reset clears the parser state for a new stream.
func (p *ThinkingParser) Reset() {
	p.buffer.Reset()
	p.tagBuffer.Reset()
	p.closeTag = ""
	p.inTag = false
}
