package tools

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const maxBlockSize = 10 * 1024 * 1024 // 10MB limit for embedded tool blocks

// ampersandEntityRegex matches ampersands that are already part of XML entities
// to avoid double-escaping them. Matches: &amp; &lt; &gt; &quot; &apos; &#123; &#xAB;
var ampersandEntityRegex = regexp.MustCompile(`&(?:amp|lt|gt|quot|apos|#\d+|#x[0-9a-fA-F]+);`)

// parameterElements name the <parameter name="x">value</parameter> style used by
// some models instead of one element per argument.
var parameterElements = map[string]bool{
	"parameter": true,
	"param":     true,
	"arg":       true,
	"argument":  true,
}

// UnmarshalXMLWithFallback attempts to unmarshal XML, with fallback to
// escape unescaped ampersands if the initial parse fails.
// Models regularly emit bare & characters inside argument values.
func UnmarshalXMLWithFallback(data []byte, v interface{}) error {
	err := xml.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	return xml.Unmarshal(escapeUnescapedAmpersands(data), v)
}

// escapeUnescapedAmpersands replaces bare & with &amp; while preserving
// existing entities (&amp;, &lt;, &gt;, &quot;, &apos;, &#..;)
func escapeUnescapedAmpersands(data []byte) []byte {
	text := string(data)

	entityPositions := make(map[int]bool)
	for _, match := range ampersandEntityRegex.FindAllStringIndex(text, -1) {
		entityPositions[match[0]] = true
	}

	var result strings.Builder
	result.Grow(len(text) + 20)
	for i := 0; i < len(text); i++ {
		if text[i] == '&' && !entityPositions[i] {
			result.WriteString("&amp;")
		} else {
			result.WriteByte(text[i])
		}
	}
	return []byte(result.String())
}

type xmlNode struct {
	attrs    map[string]string
	name     string
	text     strings.Builder
	children []*xmlNode
}

// XMLToMap converts a sequence of child elements into a map.
//
// Leaf elements become strings, elements with children become nested maps and
// repeated names become arrays. A <parameter name="x">v</parameter> element is
// stored under "x". An optional single <arguments> root is unwrapped.
func XMLToMap(data []byte) (map[string]interface{}, error) {
	if len(data) > maxBlockSize {
		return nil, fmt.Errorf("tool block exceeds maximum size of %d bytes", maxBlockSize)
	}

	root, err := parseXMLTree(data, true)
	if err != nil {
		root, err = parseXMLTree(escapeUnescapedAmpersands(data), true)
	}
	if err != nil {
		root, err = parseXMLTree(data, false)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	if len(root.children) == 1 && root.children[0].name == argumentsTagName && strings.TrimSpace(root.text.String()) == "" {
		root = root.children[0]
	}
	return childrenToMap(root), nil
}

const argumentsTagName = "arguments"

// parseXMLTree decodes data under a synthetic root so that bodies with several
// top-level elements are accepted.
func parseXMLTree(data []byte, strict bool) (*xmlNode, error) {
	decoder := xml.NewDecoder(strings.NewReader("<root>" + string(data) + "</root>"))
	decoder.Strict = strict
	if !strict {
		decoder.AutoClose = xml.HTMLAutoClose
		decoder.Entity = xml.HTMLEntity
	}

	var stack []*xmlNode
	var root *xmlNode
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			node := &xmlNode{name: t.Name.Local}
			for _, a := range t.Attr {
				if node.attrs == nil {
					node.attrs = make(map[string]string)
				}
				node.attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, node)
			} else {
				root = node
			}
			stack = append(stack, node)

		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("empty document")
	}
	return root, nil
}

func childrenToMap(n *xmlNode) map[string]interface{} {
	result := make(map[string]interface{}, len(n.children))
	for _, child := range n.children {
		key := child.name
		if parameterElements[key] && child.attrs["name"] != "" {
			key = child.attrs["name"]
		}
		value := nodeValue(child)

		switch existing := result[key].(type) {
		case nil:
			result[key] = value
		case []interface{}:
			result[key] = append(existing, value)
		default:
			result[key] = []interface{}{existing, value}
		}
	}
	return result
}

func nodeValue(n *xmlNode) interface{} {
	if len(n.children) == 0 {
		return strings.TrimSpace(n.text.String())
	}
	return childrenToMap(n)
}
