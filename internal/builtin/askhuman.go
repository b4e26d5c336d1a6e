package builtin

import (
	"context"
	"strings"

	"github.com/tesserahq/toolgate/pkg/models"
)

// askHumanTool signals the host to pause the agent for user input. It
// returns immediately; the await behavior belongs to the caller.
type askHumanTool struct{}

func (t *askHumanTool) Name() string { return "ask_human" }

func (t *askHumanTool) Description() string {
	return "Ask the human user a question. The conversation pauses until the user answers."
}

func (t *askHumanTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"prompt":  prop("string", "The question to put to the user."),
		"context": prop("string", "Optional context shown alongside the question."),
	}, "prompt")
}

func (t *askHumanTool) Execute(_ context.Context, args map[string]any, _ UserContext) *models.BuiltinToolResult {
	prompt, ok := stringArg(args, "prompt")
	if !ok || strings.TrimSpace(prompt) == "" {
		return failf("prompt is required")
	}
	meta := map[string]any{
		"action": "await_user_input",
		"prompt": prompt,
	}
	if extra, ok := stringArg(args, "context"); ok && extra != "" {
		meta["context"] = extra
	}
	return &models.BuiltinToolResult{
		Success:  true,
		Result:   "waiting for user input",
		Metadata: meta,
	}
}
