package orchestrator

import (
	"context"

	"github.com/tesserahq/toolgate/internal/commands"
	"github.com/tesserahq/toolgate/internal/providers"
	"github.com/tesserahq/toolgate/pkg/models"
)

// maxInputBytes caps an inbound user message. Oversized input is
// truncated rather than rejected.
const maxInputBytes = 1 << 20 // 1MB

// HandleUserMessage runs the reactive path: persist the message, drive
// an LLM run with the conversation history and the tool catalogue, and
// translate each run event into its wire effect. The assistant message
// persisted as pending is completed once the run yields full content.
func (c *Context) HandleUserMessage(ctx context.Context, content string) {
	c.send(models.MsgMessageAck, models.AckPayload{Status: "received"})

	switch c.state {
	case StatePaused:
		c.sendSystemError("flow", "conversation_paused", "conversation is paused", false)
		return
	case StateCompleted:
		c.sendSystemError("flow", "conversation_completed", "conversation is completed", false)
		return
	case StateProcessing:
		c.sendSystemError("flow", "run_in_progress", "a response is already being generated", true)
		return
	}
	if content == "" {
		return
	}
	if len(content) > maxInputBytes {
		c.logger.Warn("input message truncated",
			"original_size", len(content), "max_size", maxInputBytes)
		content = content[:maxInputBytes]
	}

	res := c.deps.Bus.Execute(ctx, commands.PersistUserMessage{
		ConversationID: c.conversationID,
		Content:        content,
	})
	if !res.OK() {
		c.sendSystemError("persistence", string(res.Status), res.Detail, false)
		return
	}
	persisted := res.Data.(commands.PersistedMessage)

	if c.deps.Runner == nil {
		c.sendSystemError("llm", "no_provider", "no language model is configured", false)
		return
	}

	history, err := c.history(ctx)
	if err != nil {
		c.logger.Error("load history", "error", err)
		c.sendSystemError("persistence", "history_unavailable", "failed to load conversation history", true)
		return
	}

	c.state = StateProcessing
	defer func() {
		if c.state == StateProcessing {
			c.state = c.restoreState()
		}
	}()

	events := c.deps.Runner.Run(ctx, &providers.RunRequest{
		Provider: c.def.Provider,
		Model:    c.model,
		System:   c.def.SystemPrompt,
		History:  history,
		Tools:    c.tools,
		Execute:  c.toolExecutor(),
	})
	c.consumeRun(ctx, events, persisted.AssistantMessageID)
}

// consumeRun applies the run-event table: chunks stream under the
// pending assistant message id, tool calls and results are mirrored to
// the client and collected for persistence, and a terminal event
// re-enables chat input.
func (c *Context) consumeRun(ctx context.Context, events <-chan models.RunEvent, assistantMessageID string) {
	var records []models.ToolCallRecord
	recordIdx := make(map[string]int)
	var fullContent string
	failed := false

	for ev := range events {
		switch ev.Type {
		case models.RunEventStarted:
			c.setChatInput(false)

		case models.RunEventChunk:
			c.send(models.MsgContentChunk, models.ContentChunkPayload{
				Content:   ev.Chunk.Delta,
				MessageID: assistantMessageID,
				Final:     false,
			})

		case models.RunEventToolStarted:
			recordIdx[ev.ToolCall.CallID] = len(records)
			records = append(records, models.ToolCallRecord{
				CallID:    ev.ToolCall.CallID,
				ToolName:  ev.ToolCall.ToolName,
				Arguments: ev.ToolCall.Arguments,
			})
			c.send(models.MsgToolCall, models.ToolCallPayload{
				CallID:    ev.ToolCall.CallID,
				ToolName:  ev.ToolCall.ToolName,
				Arguments: ev.ToolCall.Arguments,
			})

		case models.RunEventToolCompleted:
			if i, ok := recordIdx[ev.ToolResult.CallID]; ok {
				records[i].Success = ev.ToolResult.Success
				records[i].Result = ev.ToolResult.Result
				records[i].ExecutionTimeMs = ev.ToolResult.ExecutionTimeMs
			}
			c.send(models.MsgToolResult, models.ToolResultPayload{
				CallID:          ev.ToolResult.CallID,
				ToolName:        ev.ToolResult.ToolName,
				Success:         ev.ToolResult.Success,
				Result:          ev.ToolResult.Result,
				ExecutionTimeMs: ev.ToolResult.ExecutionTimeMs,
			})

		case models.RunEventCompleted:
			fullContent = ev.Completed.FullContent
			c.send(models.MsgContentChunk, models.ContentChunkPayload{
				MessageID: assistantMessageID,
				Final:     true,
			})
			c.send(models.MsgContentComplete, models.ContentCompletePayload{
				MessageID:   assistantMessageID,
				Role:        models.RoleAssistant,
				FullContent: fullContent,
			})
			c.setChatInput(true)

		case models.RunEventFailed:
			code := ev.Error.Code
			if code == "" {
				code = "run_failed"
			}
			c.sendSystemError("llm", code, ev.Error.Message, ev.Error.Retryable)
			c.setChatInput(true)
			failed = true
		}
	}

	if failed || fullContent == "" || assistantMessageID == "" {
		return
	}
	res := c.deps.Bus.Execute(ctx, commands.CompleteMessage{
		MessageID: assistantMessageID,
		Content:   fullContent,
		ToolCalls: records,
	})
	if !res.OK() {
		c.logger.Error("complete assistant message",
			"message_id", assistantMessageID, "status", res.Status, "detail", res.Detail)
	}
}

// history maps the persisted thread onto provider turns. Pending
// assistant slots and empty turns are skipped; tool traffic is not
// replayed across runs.
func (c *Context) history(ctx context.Context) ([]providers.Turn, error) {
	msgs, err := c.deps.Messages.ListByConversation(ctx, c.conversationID)
	if err != nil {
		return nil, err
	}
	turns := make([]providers.Turn, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Status == models.MessagePending || msg.Content == "" {
			continue
		}
		switch msg.Role {
		case models.RoleUser:
			turns = append(turns, providers.Turn{Role: providers.RoleUser, Content: msg.Content})
		case models.RoleAssistant:
			turns = append(turns, providers.Turn{Role: providers.RoleAssistant, Content: msg.Content})
		}
	}
	return turns, nil
}

// toolExecutor binds model-requested tool calls to the execute command.
// Failures come back as readable results so the model can react; the
// subject token rides the command, never the result.
func (c *Context) toolExecutor() providers.ToolExecutor {
	return func(ctx context.Context, name string, args map[string]any) (any, bool) {
		res := c.deps.Bus.Execute(ctx, commands.ExecuteTool{
			ToolName:   name,
			Arguments:  args,
			AgentToken: c.accessToken,
		})
		if !res.OK() {
			return res.Detail, false
		}
		result, ok := res.Data.(*models.ExecuteToolResult)
		if !ok {
			return "unexpected execution result", false
		}
		if !result.Succeeded() {
			if result.Error != nil {
				return result.Error.Message, false
			}
			return "tool execution failed", false
		}
		return result.Result, true
	}
}
