package builtin

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"strings"

	"github.com/tesserahq/toolgate/internal/workspace"
	"github.com/tesserahq/toolgate/pkg/models"
)

// fileWriteTool writes to the per-user workspace. The manager enforces
// the extension allow-lists, the size cap, and traversal rejection.
type fileWriteTool struct {
	ws *workspace.Manager
}

func (t *fileWriteTool) Name() string { return "file_write" }

func (t *fileWriteTool) Description() string {
	return "Write a file to the user workspace. Binary content must be base64 with a binary extension."
}

func (t *fileWriteTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"filename": prop("string", "Workspace-relative file name, e.g. \"notes.txt\"."),
		"content":  prop("string", "File content. Base64 when encoding is base64."),
		"encoding": enumProp("Content encoding.", "text", "base64"),
	}, "filename", "content")
}

func (t *fileWriteTool) Execute(_ context.Context, args map[string]any, user UserContext) *models.BuiltinToolResult {
	name, ok := stringArg(args, "filename")
	if !ok || strings.TrimSpace(name) == "" {
		return failf("filename is required")
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return failf("content is required")
	}
	encoding := stringArgOr(args, "encoding", "text")

	var data []byte
	binary := false
	switch encoding {
	case "text":
		data = []byte(content)
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return failf("decode base64 content: %v", err)
		}
		data = decoded
		binary = true
	default:
		return failf("encoding must be text or base64")
	}

	if _, err := t.ws.WriteFile(user.scope(), name, data, binary); err != nil {
		return failf("%v", err)
	}
	return models.BuiltinOK(map[string]any{
		"filename": name,
		"bytes":    len(data),
	})
}

// fileReadTool reads from the per-user workspace. Binary files come
// back base64-encoded.
type fileReadTool struct {
	ws *workspace.Manager
}

func (t *fileReadTool) Name() string { return "file_read" }

func (t *fileReadTool) Description() string {
	return "Read a file from the user workspace. Binary files are returned base64-encoded."
}

func (t *fileReadTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"filename": prop("string", "Workspace-relative file name."),
	}, "filename")
}

func (t *fileReadTool) Execute(_ context.Context, args map[string]any, user UserContext) *models.BuiltinToolResult {
	name, ok := stringArg(args, "filename")
	if !ok || strings.TrimSpace(name) == "" {
		return failf("filename is required")
	}
	data, binary, err := t.ws.ReadFile(user.scope(), name)
	if err != nil {
		return failf("%v", err)
	}
	result := map[string]any{
		"filename": name,
		"bytes":    len(data),
	}
	if binary {
		result["content"] = base64.StdEncoding.EncodeToString(data)
		result["encoding"] = "base64"
	} else {
		result["content"] = string(data)
		result["encoding"] = "text"
	}
	result["extension"] = strings.ToLower(filepath.Ext(name))
	return models.BuiltinOK(result)
}
