package prompts

import (
	"fmt"
	"strings"

	"github.com/entrhq/loom/pkg/agent/tools"
)

// XMLExampleProvider is an optional interface that tools can implement
// to provide a custom usage example.
type XMLExampleProvider interface {
	XMLExample() string
}

// GenerateXMLExample creates a concrete tagged-block example for a tool.
// Only required parameters are shown.
func GenerateXMLExample(schema tools.Schema, toolName string) string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("<%s>\n", toolName))
	for _, p := range schema.Params {
		if !p.Required {
			continue
		}
		builder.WriteString(generateParamExample(p, "  "))
	}
	builder.WriteString(fmt.Sprintf("</%s>", toolName))

	return builder.String()
}

// generateParamExample creates an example element for a single parameter
func generateParamExample(p tools.Param, indent string) string {
	switch p.Type {
	case tools.TypeNumber:
		return fmt.Sprintf("%s<%s>3.14</%s>\n", indent, p.Name, p.Name)
	case tools.TypeInteger, tools.TypeResource:
		return fmt.Sprintf("%s<%s>42</%s>\n", indent, p.Name, p.Name)
	case tools.TypeBoolean:
		return fmt.Sprintf("%s<%s>true</%s>\n", indent, p.Name, p.Name)
	case tools.TypeArray:
		return generateArrayExample(p.Name, indent)
	case tools.TypeObject:
		return fmt.Sprintf("%s<%s>\n%s  <key>value</key>\n%s</%s>\n", indent, p.Name, indent, indent, p.Name)
	default:
		return generateStringExample(p, indent)
	}
}

// generateStringExample creates example for string parameters
func generateStringExample(p tools.Param, indent string) string {
	if len(p.Enum) > 0 {
		return fmt.Sprintf("%s<%s>%s</%s>\n", indent, p.Name, p.Enum[0], p.Name)
	}

	description := strings.ToLower(p.Description)
	if strings.Contains(description, "summary") || strings.Contains(description, "content") ||
		strings.Contains(p.Name, "result") || strings.Contains(p.Name, "content") {
		// Show entity escaping where free text is likely.
		return fmt.Sprintf("%s<%s>example &amp; content</%s>\n", indent, p.Name, p.Name)
	}
	return fmt.Sprintf("%s<%s>value</%s>\n", indent, p.Name, p.Name)
}

// generateArrayExample shows repeated elements with the singular form of the name,
// e.g. <tags><tag>item1</tag><tag>item2</tag></tags>
func generateArrayExample(name string, indent string) string {
	singular := name
	if strings.HasSuffix(name, "s") && len(name) > 1 {
		singular = name[:len(name)-1]
	} else {
		singular = "item"
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("%s<%s>\n", indent, name))
	builder.WriteString(fmt.Sprintf("%s  <%s>item1</%s>\n", indent, singular, singular))
	builder.WriteString(fmt.Sprintf("%s  <%s>item2</%s>\n", indent, singular, singular))
	builder.WriteString(fmt.Sprintf("%s</%s>\n", indent, name))
	return builder.String()
}
