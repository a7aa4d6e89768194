package document

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/entrhq/loom/pkg/agent/tools"
	"github.com/entrhq/loom/pkg/types"
)

// DefaultMaxLength bounds the text returned for one attachment.
const DefaultMaxLength = 20000

// ExtractTextTool returns the readable text of an HTML or plain-text attachment.
type ExtractTextTool struct {
	maxLength int
}

// NewExtractTextTool creates the tool. A maxLength <= 0 uses DefaultMaxLength.
func NewExtractTextTool(maxLength int) *ExtractTextTool {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &ExtractTextTool{maxLength: maxLength}
}

// Name returns the tool's identifier
func (t *ExtractTextTool) Name() string {
	return "extract_text"
}

// Description returns a description of what this tool does
func (t *ExtractTextTool) Description() string {
	return "Extract the readable text of an HTML or plain-text attachment by its index. " +
		"Scripts, styles and markup are removed."
}

// Schema declares the attachment to read.
func (t *ExtractTextTool) Schema() tools.Schema {
	return tools.NewSchema(tools.Param{
		Name:        "attachment",
		Type:        tools.TypeResource,
		Description: "Index of the attachment to read",
		Required:    true,
	})
}

// Execute extracts the text of the bound attachment.
func (t *ExtractTextTool) Execute(ctx context.Context, args tools.Arguments) (*types.ToolResult, error) {
	res, ok := args.Resource("attachment")
	if !ok {
		return nil, errors.New("no attachment bound")
	}

	var (
		doc *Document
		err error
	)
	switch {
	case isHTML(res.MimeType, res.Data):
		doc, err = ExtractHTML(string(res.Data), t.maxLength)
		if err != nil {
			return nil, err
		}
	case strings.HasPrefix(res.MimeType, "text/"):
		doc = ExtractPlain(string(res.Data), t.maxLength)
	default:
		return nil, fmt.Errorf("attachment %d is %s, not text", res.Index, res.MimeType)
	}

	payload := map[string]interface{}{
		"index": res.Index,
		"text":  doc.Text,
	}
	if doc.Title != "" {
		payload["title"] = doc.Title
	}
	if doc.Description != "" {
		payload["description"] = doc.Description
	}
	if doc.Truncated {
		payload["truncated"] = true
	}
	return &types.ToolResult{Payload: payload}, nil
}

// IsLoopBreaking returns false; extraction is part of the working phase.
func (t *ExtractTextTool) IsLoopBreaking() bool {
	return false
}

// Cacheable reports that identical extractions can be served from cache.
func (t *ExtractTextTool) Cacheable() bool {
	return true
}

func isHTML(mimeType string, data []byte) bool {
	if strings.HasPrefix(mimeType, "text/html") || strings.HasPrefix(mimeType, "application/xhtml") {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(string(data[:min(len(data), 512)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}
