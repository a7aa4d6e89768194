package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/entrhq/loom/pkg/agent/tools"
	"github.com/entrhq/loom/pkg/types"
)

var errNoAttachment = errors.New("no attachment bound")

// inspectAttachmentTool reports basic facts about a caller attachment and
// hands the bytes back to the model.
type inspectAttachmentTool struct{}

func newInspectAttachmentTool() *inspectAttachmentTool {
	return &inspectAttachmentTool{}
}

func (t *inspectAttachmentTool) Name() string {
	return "inspect_attachment"
}

func (t *inspectAttachmentTool) Description() string {
	return "Inspect an attached file by its index. Returns its type, size and digest, " +
		"and shows the file again. A missing index resolves to the nearest attachment."
}

func (t *inspectAttachmentTool) Schema() tools.Schema {
	return tools.NewSchema(tools.Param{
		Name:        "attachment",
		Type:        tools.TypeResource,
		Description: "Index of the attachment to inspect",
		Required:    true,
	})
}

func (t *inspectAttachmentTool) Execute(ctx context.Context, args tools.Arguments) (*types.ToolResult, error) {
	res, ok := args.Resource("attachment")
	if !ok {
		return nil, errNoAttachment
	}

	mimeType := res.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(res.Data)
	}

	return &types.ToolResult{
		Payload: map[string]interface{}{
			"index":     res.Index,
			"mime_type": mimeType,
			"size":      len(res.Data),
			"sha256":    res.Digest(),
		},
		Attachments: []types.Attachment{{MimeType: mimeType, Data: res.Data}},
	}, nil
}

func (t *inspectAttachmentTool) IsLoopBreaking() bool {
	return false
}

// Cacheable lets repeated inspections of the same attachment skip the handler.
func (t *inspectAttachmentTool) Cacheable() bool {
	return true
}
