package orchestrator

import (
	"context"
	"fmt"

	"github.com/tesserahq/toolgate/internal/commands"
	"github.com/tesserahq/toolgate/pkg/models"
)

// presentItem sends one template item to the client: the item context,
// each content entry in order (message stems as assistant streams,
// widgets as render frames), and the synthetic confirmation button when
// the item demands one. Past the last item the flow completes.
func (c *Context) presentItem(ctx context.Context, index int) {
	if c.template == nil || index >= len(c.template.Items) {
		c.completeFlow()
		return
	}

	item := &c.template.Items[index]
	c.state = StatePresenting
	c.itemIndex = index
	c.item = models.NewItemExecutionState(item, index, c.now())

	c.send(models.MsgItemContext, models.ItemContextPayload{
		ItemID:                   item.ID,
		ItemIndex:                index,
		TotalItems:               len(c.template.Items),
		ItemTitle:                item.Title,
		EnableChatInput:          item.EnableChatInput,
		TimeLimitSeconds:         item.TimeLimitSeconds,
		ShowRemainingTime:        item.ShowRemainingTime,
		WidgetCompletionBehavior: item.WidgetCompletionBehavior,
	})

	for i := range item.Contents {
		content := &item.Contents[i]
		if content.WidgetType == models.WidgetTypeMessage {
			c.streamAssistant(c.renderStem(ctx, item, content))
			continue
		}
		c.send(models.MsgWidgetRender, models.WidgetRenderPayload{
			ItemID:           item.ID,
			WidgetID:         content.WidgetID,
			WidgetType:       content.WidgetType,
			Stem:             c.renderStem(ctx, item, content),
			Options:          content.Options,
			WidgetConfig:     content.WidgetConfig,
			Required:         content.Required,
			Skippable:        content.Skippable,
			InitialValue:     content.InitialValue,
			ShowUserResponse: content.ShowUserResponse,
			Layout:           content.Layout,
			Constraints:      content.Constraints,
		})
	}

	if item.RequireUserConfirmation {
		c.send(models.MsgWidgetRender, models.WidgetRenderPayload{
			ItemID:       item.ID,
			WidgetID:     item.ConfirmationWidgetID(),
			WidgetType:   "button",
			Required:     true,
			WidgetConfig: map[string]any{"label": "Continue"},
		})
	}

	c.logger.Debug("item presented",
		"item_id", item.ID,
		"item_index", index,
		"required_widgets", len(c.item.RequiredWidgetIDs),
		"needs_confirmation", item.RequireUserConfirmation)

	if len(c.item.RequiredWidgetIDs) > 0 || item.RequireUserConfirmation {
		c.state = StateSuspended
		return
	}
	c.state = StateReady
	c.setChatInput(true)
}

// HandleWidgetResponse records one widget answer. Responses may arrive
// in any order; the item advances only once the completion predicate
// holds, and a duplicate advance is absorbed by the template cursor's
// conflict guard.
func (c *Context) HandleWidgetResponse(ctx context.Context, p *models.WidgetResponsePayload) {
	c.send(models.MsgResponseAck, models.AckPayload{Status: "received", WidgetID: p.WidgetID})

	if c.item == nil {
		c.logger.Warn("widget response without active item", "widget_id", p.WidgetID)
		return
	}
	if c.state == StatePaused {
		c.logger.Debug("widget response while paused", "widget_id", p.WidgetID)
		return
	}

	item := &c.template.Items[c.itemIndex]
	if p.WidgetID == item.ConfirmationWidgetID() {
		c.item.UserConfirmed = true
	} else {
		c.item.WidgetResponses[p.WidgetID] = p.Value
		if c.item.RequiredWidgetIDs[p.WidgetID] {
			c.item.AnsweredWidgetIDs[p.WidgetID] = true
		}
	}

	if !c.item.Complete() {
		return
	}
	c.item.CompletedAt = c.now()

	res := c.deps.Bus.Execute(ctx, commands.RecordItemResponse{
		ConversationID:  c.conversationID,
		ItemID:          c.item.ItemID,
		ItemIndex:       c.item.ItemIndex,
		WidgetResponses: c.item.WidgetResponses,
		StartedAt:       c.item.StartedAt,
		CompletedAt:     c.item.CompletedAt,
	})
	if !res.OK() {
		c.logger.Error("record item response",
			"item_id", c.item.ItemID, "status", res.Status, "detail", res.Detail)
	}

	adv := c.deps.Bus.Execute(ctx, commands.AdvanceTemplate{
		ConversationID: c.conversationID,
		FromIndex:      c.item.ItemIndex,
	})
	if !adv.OK() {
		c.logger.Warn("advance template",
			"from_index", c.item.ItemIndex, "status", adv.Status, "detail", adv.Detail)
		return
	}

	next := adv.Data.(commands.TemplateAdvanced).NextIndex
	c.item = nil
	c.presentItem(ctx, next)
}

// completeFlow closes out the template: stream the completion message,
// then either hand the conversation over to free chat or lock it.
func (c *Context) completeFlow() {
	c.item = nil
	if c.template != nil && c.template.CompletionMessage != "" {
		c.streamAssistant(c.template.CompletionMessage)
	}
	if c.template != nil && c.template.ContinueAfterCompletion {
		c.state = StateReady
		c.setChatInput(true)
		c.logger.Info("flow completed, continuing as chat")
		return
	}
	c.state = StateCompleted
	c.setChatInput(false)
	c.logger.Info("flow completed")
}

// Pause suspends the flow until an explicit resume.
func (c *Context) Pause() {
	if c.state == StatePaused {
		c.send(models.MsgMessageAck, models.AckPayload{Status: "paused"})
		return
	}
	c.resumeState = c.state
	c.state = StatePaused
	c.send(models.MsgMessageAck, models.AckPayload{Status: "paused"})
	c.logger.Debug("flow paused", "from_state", c.resumeState)
}

// Resume returns to the state the pause interrupted.
func (c *Context) Resume() {
	if c.state != StatePaused {
		c.send(models.MsgMessageAck, models.AckPayload{Status: "not_paused"})
		return
	}
	restored := c.resumeState
	if restored == "" || restored == StatePaused || restored == StateProcessing {
		restored = c.restoreState()
	}
	c.state = restored
	c.resumeState = ""
	c.send(models.MsgMessageAck, models.AckPayload{Status: "resumed"})
	if restored == StateReady {
		c.setChatInput(true)
	}
	c.logger.Debug("flow resumed", "state", restored)
}

// CancelFlow abandons the active item and returns to free chat. An
// upstream call already in flight completes and is discarded.
func (c *Context) CancelFlow() {
	c.item = nil
	c.resumeState = ""
	c.state = StateReady
	c.send(models.MsgMessageAck, models.AckPayload{Status: "cancelled"})
	c.setChatInput(true)
	c.logger.Debug("flow cancelled")
}

// ChangeModel validates and applies a model override. An unknown model
// leaves the context unchanged.
func (c *Context) ChangeModel(model string) {
	if model == "" || c.deps.Factory == nil || !c.deps.Factory.ValidModel(model) {
		c.sendSystemError("control", "invalid_model",
			fmt.Sprintf("model %q is not available", model), false)
		return
	}
	c.model = model
	c.send(models.MsgMessageAck, models.AckPayload{Status: "model_changed"})
	c.logger.Info("model changed", "model", model)
}
