package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/entrhq/loom/pkg/config"
	"github.com/entrhq/loom/pkg/types"
)

// wrapperTags are generic containers models put around a tool block. The
// parser descends into them instead of treating them as tool names.
var wrapperTags = map[string]bool{
	"tool":           true,
	"xml":            true,
	"tool_call":      true,
	"function_call":  true,
	"invoke":         true,
	"function_calls": true,
}

var (
	openTagRegex = regexp.MustCompile(`<([A-Za-z_][A-Za-z0-9_.:-]*)((?:\s+[^<>]*?)?)\s*(/?)>`)
	attrRegex    = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_.:-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	fenceRegex   = regexp.MustCompile("(?s)^```[A-Za-z0-9_-]*\\s*\n?(.*?)\\s*```$")
)

// Call is a tool request located in a model turn. It is either a
// StructuredCall or an EmbeddedBlockCall.
type Call interface {
	ToolName() string
	isCall()
}

// StructuredCall is a provider-native tool-call object with JSON arguments.
type StructuredCall struct {
	ID        string
	Name      string
	Arguments string
}

// EmbeddedBlockCall is a tagged block found in free text.
type EmbeddedBlockCall struct {
	// Arguments is set when the block already carried decoded arguments
	// (e.g. a JSON {"name": ..., "arguments": {...}} wrapper body).
	Arguments map[string]interface{}

	Name     string
	Body     string
	Wrapper  string
	Sentinel string

	// Start and End delimit the whole block in the parsed text.
	Start int
	End   int
}

func (c StructuredCall) ToolName() string    { return c.Name }
func (c EmbeddedBlockCall) ToolName() string { return c.Name }
func (StructuredCall) isCall()               {}
func (EmbeddedBlockCall) isCall()            {}

// ParseResult is the outcome of parsing one assistant turn.
type ParseResult struct {
	// Text is the turn text with any embedded block removed.
	Text  string
	Calls []Call
}

// HasCalls reports whether the turn requested any tool.
func (r *ParseResult) HasCalls() bool {
	return r != nil && len(r.Calls) > 0
}

// Parser locates tool invocations in assistant turns.
type Parser struct {
	registry   *Registry
	sentinels  []config.Sentinel
	structured bool
	embedded   bool
}

// NewParser creates a parser for the given protocol mode.
func NewParser(registry *Registry, protocol config.Protocol, sentinels []config.Sentinel) *Parser {
	p := &Parser{registry: registry, sentinels: sentinels}
	switch protocol {
	case config.ProtocolNative:
		p.structured = true
	case config.ProtocolEmbedded:
		p.embedded = true
	default:
		p.structured = true
		p.embedded = true
	}
	return p
}

// NativeTools reports whether tool definitions should be sent to the provider.
func (p *Parser) NativeTools() bool {
	return p.structured
}

// Parse inspects a completed turn. Structured calls win; otherwise the text is
// searched for a single embedded block. A turn with neither is plain text.
func (p *Parser) Parse(text string, structured []StructuredCall) (*ParseResult, error) {
	if p.structured && len(structured) > 0 {
		calls := make([]Call, 0, len(structured))
		for _, sc := range structured {
			calls = append(calls, sc)
		}
		return &ParseResult{Text: text, Calls: calls}, nil
	}

	if !p.embedded {
		return &ParseResult{Text: text}, nil
	}
	if len(text) > maxBlockSize {
		return &ParseResult{Text: text}, &types.ProtocolError{
			Err: fmt.Errorf("turn exceeds maximum size of %d bytes", maxBlockSize),
		}
	}

	call, ok := p.findEmbedded(text)
	if !ok {
		return &ParseResult{Text: text}, nil
	}
	remaining := strings.TrimSpace(text[:call.Start] + text[call.End:])
	return &ParseResult{Text: remaining, Calls: []Call{*call}}, nil
}

// Resolve turns a located call into an invocation. Unknown tools and
// undecodable arguments produce a *types.ProtocolError.
func (p *Parser) Resolve(call Call) (types.ToolInvocation, error) {
	switch c := call.(type) {
	case StructuredCall:
		inv := types.ToolInvocation{Name: c.Name, CallID: c.ID, Encoding: types.EncodingStructured}
		if inv.CallID == "" {
			inv.CallID = newCallID()
		}
		if _, err := p.registry.Resolve(c.Name); err != nil {
			return inv, &types.ProtocolError{Err: err, ToolName: c.Name, Raw: c.Arguments}
		}
		args, err := decodeJSONArguments(c.Arguments)
		if err != nil {
			return inv, &types.ProtocolError{Err: err, ToolName: c.Name, Raw: c.Arguments}
		}
		inv.Arguments = args
		return inv, nil

	case EmbeddedBlockCall:
		inv := types.ToolInvocation{Name: c.Name, CallID: newCallID(), Encoding: types.EncodingEmbedded}
		tool, err := p.registry.Resolve(c.Name)
		if err != nil {
			return inv, &types.ProtocolError{Err: err, ToolName: c.Name, Raw: c.Body}
		}
		args := c.Arguments
		if args == nil {
			args, err = decodeBlockBody(c.Body, tool.Schema())
			if err != nil {
				return inv, &types.ProtocolError{Err: err, ToolName: c.Name, Raw: c.Body}
			}
		}
		inv.Arguments = args
		return inv, nil
	}
	return types.ToolInvocation{}, &types.ProtocolError{Err: fmt.Errorf("unsupported call type %T", call)}
}

func newCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func decodeJSONArguments(raw string) (map[string]interface{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("malformed tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// decodeBlockBody reads a block body as JSON, child elements, or, for tools
// with a single required string parameter, plain text.
func decodeBlockBody(body string, schema Schema) (map[string]interface{}, error) {
	body = stripFence(strings.TrimSpace(body))
	if body == "" {
		return map[string]interface{}{}, nil
	}

	if strings.HasPrefix(body, "{") {
		return decodeJSONArguments(body)
	}

	if strings.Contains(body, "<") {
		args, err := XMLToMap([]byte(body))
		if err == nil && len(args) > 0 {
			return args, nil
		}
	}

	if name, ok := soleStringParam(schema); ok {
		return map[string]interface{}{name: body}, nil
	}
	return nil, errors.New("block body is neither child elements nor a JSON object")
}

func soleStringParam(schema Schema) (string, bool) {
	var candidate string
	for _, p := range schema.Params {
		if p.Required {
			if candidate != "" {
				return "", false
			}
			candidate = p.Name
		}
	}
	if candidate == "" && len(schema.Params) == 1 {
		candidate = schema.Params[0].Name
	}
	if candidate == "" {
		return "", false
	}
	p, _ := schema.Param(candidate)
	return candidate, p.Type == TypeString || p.Type == ""
}

func stripFence(s string) string {
	if m := fenceRegex.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// findEmbedded searches sentinel-wrapped regions first, then the whole text.
func (p *Parser) findEmbedded(text string) (*EmbeddedBlockCall, bool) {
	for _, s := range p.sentinels {
		if s.Open == "" {
			continue
		}
		start := strings.Index(text, s.Open)
		if start < 0 {
			continue
		}
		innerStart := start + len(s.Open)
		innerEnd, end := len(text), len(text)
		if s.Close != "" {
			if i := strings.Index(text[innerStart:], s.Close); i >= 0 {
				innerEnd = innerStart + i
				end = innerEnd + len(s.Close)
			}
		}
		inner := text[innerStart:innerEnd]

		call, ok := p.findBlock(inner)
		if !ok {
			call, ok = p.jsonCall(stripFence(strings.TrimSpace(inner)))
		}
		if ok {
			call.Start, call.End = start, end
			call.Sentinel = s.Open
			return call, true
		}
	}

	call, ok := p.findBlock(text)
	if !ok {
		return nil, false
	}
	call.Start, call.End = expandFence(text, call.Start, call.End)
	return call, true
}

// findBlock prefers a registered tool tag, then a generic wrapper.
func (p *Parser) findBlock(text string) (*EmbeddedBlockCall, bool) {
	tags := scanTags(text)

	for _, tag := range tags {
		if tag.selfClosing || !p.registry.Has(tag.name) {
			continue
		}
		closeStart, closeEnd, ok := findClosingTag(text, tag.name, tag.end)
		if !ok {
			continue
		}
		call := &EmbeddedBlockCall{
			Name: tag.name,
			Body: text[tag.end:closeStart],
		}
		call.Start, call.End, call.Wrapper = expandWrappers(text, tag.start, closeEnd)
		return call, true
	}

	for _, tag := range tags {
		if tag.selfClosing || !wrapperTags[tag.name] {
			continue
		}
		closeStart, closeEnd, ok := findClosingTag(text, tag.name, tag.end)
		if !ok {
			continue
		}
		call, ok := p.unwrap(tag, text[tag.end:closeStart], 0)
		if !ok {
			continue
		}
		call.Start, call.End = tag.start, closeEnd
		return call, true
	}
	return nil, false
}

// unwrap descends into a wrapper body. Nested wrappers (function_calls >
// invoke) are followed one extra level.
func (p *Parser) unwrap(wrapper tagMatch, body string, depth int) (*EmbeddedBlockCall, bool) {
	// <invoke name="lookup">...</invoke>
	if name := wrapper.attrs["name"]; name != "" {
		return &EmbeddedBlockCall{Name: name, Body: body, Wrapper: wrapper.name}, true
	}

	trimmed := stripFence(strings.TrimSpace(body))

	// {"name": "lookup", "arguments": {...}}
	if strings.HasPrefix(trimmed, "{") {
		if call, ok := p.jsonCall(trimmed); ok {
			call.Wrapper = wrapper.name
			return call, true
		}
	}

	tags := scanTags(body)

	// <tool_name>lookup</tool_name><arguments>...</arguments>
	if nameStart, nameEnd, ok := elementSpan(body, tags, "tool_name"); ok {
		name := strings.TrimSpace(body[nameStart:nameEnd])
		argsBody := ""
		if argsStart, argsEnd, ok := elementSpan(body, tags, argumentsTagName); ok {
			argsBody = body[argsStart:argsEnd]
		}
		if name != "" {
			return &EmbeddedBlockCall{Name: name, Body: argsBody, Wrapper: wrapper.name}, true
		}
	}

	params := make(map[string]bool)
	for _, n := range p.registry.ParamNames() {
		params[n] = true
	}

	for _, tag := range tags {
		if tag.selfClosing {
			continue
		}
		closeStart, _, ok := findClosingTag(body, tag.name, tag.end)
		if !ok {
			continue
		}
		inner := body[tag.end:closeStart]

		if wrapperTags[tag.name] {
			if depth > 0 {
				continue
			}
			if call, ok := p.unwrap(tag, inner, depth+1); ok {
				return call, true
			}
			continue
		}
		if params[tag.name] && !p.registry.Has(tag.name) {
			continue
		}
		return &EmbeddedBlockCall{Name: tag.name, Body: inner, Wrapper: wrapper.name}, true
	}
	return nil, false
}

// jsonCall reads a {"name": ..., "arguments": ...} object.
func (p *Parser) jsonCall(s string) (*EmbeddedBlockCall, bool) {
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var obj struct {
		Name       string          `json:"name"`
		Arguments  json.RawMessage `json:"arguments"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj.Name == "" {
		return nil, false
	}

	raw := obj.Arguments
	if len(raw) == 0 {
		raw = obj.Parameters
	}
	args := map[string]interface{}{}
	if len(raw) > 0 {
		// Arguments may arrive as an object or as a JSON-encoded string.
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err == nil {
			raw = json.RawMessage(encoded)
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return &EmbeddedBlockCall{Name: obj.Name, Body: string(raw)}, true
		}
	}
	return &EmbeddedBlockCall{Name: obj.Name, Arguments: args}, true
}

type tagMatch struct {
	attrs       map[string]string
	name        string
	start       int
	end         int
	selfClosing bool
}

func scanTags(text string) []tagMatch {
	matches := openTagRegex.FindAllStringSubmatchIndex(text, -1)
	tags := make([]tagMatch, 0, len(matches))
	for _, m := range matches {
		tag := tagMatch{
			name:        text[m[2]:m[3]],
			start:       m[0],
			end:         m[1],
			selfClosing: m[7] > m[6],
		}
		if m[5] > m[4] {
			for _, a := range attrRegex.FindAllStringSubmatch(text[m[4]:m[5]], -1) {
				if tag.attrs == nil {
					tag.attrs = make(map[string]string)
				}
				value := a[2]
				if value == "" {
					value = a[3]
				}
				tag.attrs[a[1]] = value
			}
		}
		tags = append(tags, tag)
	}
	return tags
}

// elementSpan returns the inner span of the first complete element named name.
func elementSpan(text string, tags []tagMatch, name string) (int, int, bool) {
	for _, tag := range tags {
		if tag.name != name || tag.selfClosing {
			continue
		}
		closeStart, _, ok := findClosingTag(text, name, tag.end)
		if ok {
			return tag.end, closeStart, true
		}
	}
	return 0, 0, false
}

// findClosingTag finds the close tag matching an open tag ending at from,
// accounting for nested elements of the same name.
func findClosingTag(text, name string, from int) (closeStart, closeEnd int, ok bool) {
	closeTag := "</" + name + ">"
	depth := 1
	i := from
	for i <= len(text) {
		nextClose := strings.Index(text[i:], closeTag)
		if nextClose < 0 {
			return 0, 0, false
		}
		nextOpen := indexOpenTag(text[i:], name)
		if nextOpen >= 0 && nextOpen < nextClose {
			depth++
			i += nextOpen + len(name) + 1
			continue
		}
		depth--
		if depth == 0 {
			return i + nextClose, i + nextClose + len(closeTag), true
		}
		i += nextClose + len(closeTag)
	}
	return 0, 0, false
}

func indexOpenTag(text, name string) int {
	open := "<" + name
	offset := 0
	for {
		idx := strings.Index(text[offset:], open)
		if idx < 0 {
			return -1
		}
		pos := offset + idx
		after := pos + len(open)
		if after < len(text) {
			switch text[after] {
			case '>', ' ', '\t', '\n', '\r':
				return pos
			}
		}
		offset = after
	}
}

// expandWrappers widens [start,end) over wrapper elements that enclose
// nothing but the block, returning the outermost wrapper name.
func expandWrappers(text string, start, end int) (int, int, string) {
	var outer string
	for {
		before := strings.TrimRight(text[:start], " \t\r\n")
		after := strings.TrimLeft(text[end:], " \t\r\n")
		expanded := false
		for name := range wrapperTags {
			open, closeTag := "<"+name+">", "</"+name+">"
			if strings.HasSuffix(before, open) && strings.HasPrefix(after, closeTag) {
				start = len(before) - len(open)
				end = len(text) - len(after) + len(closeTag)
				outer = name
				expanded = true
				break
			}
		}
		if !expanded {
			return start, end, outer
		}
	}
}

// expandFence widens [start,end) to a surrounding ``` fence that holds
// nothing but the block.
func expandFence(text string, start, end int) (int, int) {
	before := strings.TrimRight(text[:start], " \t\r\n")
	lineStart := strings.LastIndex(before, "\n") + 1
	if !strings.HasPrefix(before[lineStart:], "```") || strings.Contains(before[lineStart+3:], "`") {
		return start, end
	}
	after := text[end:]
	trimmed := strings.TrimLeft(after, " \t\r\n")
	if !strings.HasPrefix(trimmed, "```") {
		return start, end
	}
	return lineStart, end + (len(after) - len(trimmed)) + 3
}
