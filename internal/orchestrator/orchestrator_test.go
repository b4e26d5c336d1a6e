package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tesserahq/toolgate/internal/commands"
	"github.com/tesserahq/toolgate/internal/executor"
	"github.com/tesserahq/toolgate/internal/infra"
	"github.com/tesserahq/toolgate/internal/inventory"
	"github.com/tesserahq/toolgate/internal/providers"
	"github.com/tesserahq/toolgate/internal/storage"
	"github.com/tesserahq/toolgate/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

// frameRecorder implements Sender and captures every outbound frame.
type frameRecorder struct {
	frames []*models.WireMessage
}

func (r *frameRecorder) Send(msg *models.WireMessage) error {
	r.frames = append(r.frames, msg)
	return nil
}

func (r *frameRecorder) reset() { r.frames = nil }

func (r *frameRecorder) types() []string {
	types := make([]string, len(r.frames))
	for i, f := range r.frames {
		types[i] = f.Type
	}
	return types
}

func (r *frameRecorder) byType(msgType string) []*models.WireMessage {
	var out []*models.WireMessage
	for _, f := range r.frames {
		if f.Type == msgType {
			out = append(out, f)
		}
	}
	return out
}

// one returns the single frame of the given type, failing the test when
// zero or several were sent.
func (r *frameRecorder) one(t *testing.T, msgType string) *models.WireMessage {
	t.Helper()
	matches := r.byType(msgType)
	if len(matches) != 1 {
		t.Fatalf("got %d %s frames, want 1 (all: %v)", len(matches), msgType, r.types())
	}
	return matches[0]
}

func decodePayload[T any](t *testing.T, msg *models.WireMessage) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		t.Fatalf("decode %s payload: %v", msg.Type, err)
	}
	return out
}

func assertFrameTypes(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("frame types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame[%d] = %s, want %s (all: %v)", i, got[i], want[i], got)
		}
	}
}

// stubProvider replays canned chunk sequences, one per Complete call.
type stubProvider struct {
	name      string
	models    []providers.ModelInfo
	responses [][]*providers.Chunk
	calls     []*providers.CompletionRequest
	err       error
}

func (s *stubProvider) Complete(ctx context.Context, req *providers.CompletionRequest) (<-chan *providers.Chunk, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("stub provider exhausted")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]

	ch := make(chan *providers.Chunk, len(resp))
	for _, c := range resp {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (s *stubProvider) Name() string                  { return s.name }
func (s *stubProvider) Models() []providers.ModelInfo { return s.models }

type stubToolExecutor struct {
	req    *executor.Request
	result *models.ExecuteToolResult
}

func (s *stubToolExecutor) Execute(ctx context.Context, req *executor.Request) *models.ExecuteToolResult {
	s.req = req
	if s.result != nil {
		return s.result
	}
	return models.CompletedResult("stub-ok", 1)
}

type harness struct {
	stores   storage.StoreSet
	bus      *commands.Bus
	exec     *stubToolExecutor
	provider *stubProvider
	sender   *frameRecorder
	deps     Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	stores := storage.NewMemoryStores()
	bus := commands.NewBus(testLogger())
	convHandlers := commands.NewConversationHandlers(stores.Conversations, stores.Messages, stores.Responses, testLogger())
	if err := convHandlers.Register(bus); err != nil {
		t.Fatalf("register conversation handlers: %v", err)
	}
	exec := &stubToolExecutor{}
	circuits := infra.NewCircuitRegistry(infra.CircuitConfig{})
	toolHandlers := commands.NewToolHandlers(stores.Tools, stores.Sources, nil, exec, circuits, testLogger())
	if err := toolHandlers.Register(bus); err != nil {
		t.Fatalf("register tool handlers: %v", err)
	}

	provider := &stubProvider{
		name:   "stub",
		models: []providers.ModelInfo{{ID: "stub-large", Name: "Stub Large"}},
	}
	factory, err := providers.NewFactory(providers.FactoryConfig{}, testLogger())
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	factory.Register(provider)
	runner := providers.NewRunner(factory, providers.RunnerConfig{}, testLogger())

	sender := &frameRecorder{}
	return &harness{
		stores:   stores,
		bus:      bus,
		exec:     exec,
		provider: provider,
		sender:   sender,
		deps: Deps{
			Bus:           bus,
			Conversations: stores.Conversations,
			Messages:      stores.Messages,
			Definitions:   stores.Definitions,
			Templates:     stores.Templates,
			Catalogue:     inventory.NewCatalogue(stores.Tools),
			Runner:        runner,
			Factory:       factory,
			Logger:        testLogger(),
		},
	}
}

// seedDefinition stores an agent definition, defaulting the fields the
// orchestrator requires. Passing nil seeds a plain reactive agent.
func (h *harness) seedDefinition(t *testing.T, def *models.AgentDefinition) *models.AgentDefinition {
	t.Helper()
	if def == nil {
		def = &models.AgentDefinition{}
	}
	if def.ID == "" {
		def.ID = "agent-1"
	}
	if def.Name == "" {
		def.Name = "Atlas"
	}
	if def.Provider == "" {
		def.Provider = "stub"
	}
	if err := h.stores.Definitions.Put(context.Background(), def); err != nil {
		t.Fatalf("seed definition: %v", err)
	}
	return def
}

func (h *harness) seedConversation(t *testing.T, id, userID string) *models.Conversation {
	t.Helper()
	now := time.Now()
	conv := &models.Conversation{
		ID:           id,
		UserID:       userID,
		DefinitionID: "agent-1",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.stores.Conversations.Create(context.Background(), conv); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return conv
}

func (h *harness) seedTemplate(t *testing.T, tmpl *models.Template) *models.Template {
	t.Helper()
	if tmpl.ID == "" {
		tmpl.ID = "tpl-1"
	}
	if err := h.stores.Templates.Put(context.Background(), tmpl); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	return tmpl
}

func (h *harness) seedSource(t *testing.T, id string) *models.SourceAggregate {
	t.Helper()
	src := models.NewSourceAggregate(id, id, "https://"+id+".example.com", models.SourceTypeOpenAPI, models.AuthModeAPIKey, time.Now())
	src.IsEnabled = true
	if err := h.stores.Sources.Add(context.Background(), src); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	return src
}

func (h *harness) seedTool(t *testing.T, sourceID, name string) *models.ToolAggregate {
	t.Helper()
	def := models.ToolDefinition{
		Name:        name,
		InputSchema: models.EmptyObjectSchema(),
		Execution: models.ExecutionProfile{
			Mode:        models.ModeSyncHTTP,
			Method:      "GET",
			URLTemplate: "https://api.example.com/" + name,
		},
	}
	tool := models.NewToolAggregate(sourceID, def, time.Now())
	if err := h.stores.Tools.Add(context.Background(), tool); err != nil {
		t.Fatalf("seed tool: %v", err)
	}
	return tool
}

func (h *harness) newContext(t *testing.T, conversationID, token string) *Context {
	t.Helper()
	c, err := New("conn-1", &models.SessionInitPayload{
		ConversationID: conversationID,
		AccessToken:    token,
	}, h.sender, h.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// attach builds and initializes a context, then drops the handshake
// frames so tests start from a clean recorder.
func (h *harness) attach(t *testing.T, conversationID, token string) *Context {
	t.Helper()
	c := h.newContext(t, conversationID, token)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	h.sender.reset()
	return c
}

func TestNewValidation(t *testing.T) {
	h := newHarness(t)
	init := &models.SessionInitPayload{ConversationID: "conv-1"}

	if _, err := New("conn-1", init, nil, h.deps); err == nil {
		t.Error("nil sender accepted")
	}
	if _, err := New("conn-1", &models.SessionInitPayload{}, h.sender, h.deps); err == nil {
		t.Error("empty conversation id accepted")
	}
	deps := h.deps
	deps.Bus = nil
	if _, err := New("conn-1", init, h.sender, deps); err == nil {
		t.Error("missing bus accepted")
	}
}

func TestInitializeReactive(t *testing.T) {
	h := newHarness(t)
	h.seedDefinition(t, nil)
	h.seedConversation(t, "conv-1", "")

	c := h.newContext(t, "conv-1", "")
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if c.State() != StateReady {
		t.Errorf("state = %s, want %s", c.State(), StateReady)
	}
	cfg := decodePayload[models.ConversationConfigPayload](t, h.sender.one(t, models.MsgConversationConfig))
	if !cfg.EnableChatInputInitially {
		t.Error("reactive config should enable chat input")
	}
	if cfg.TotalItems != 0 || cfg.TemplateID != "" {
		t.Errorf("config = %+v, want no template", cfg)
	}
}

func TestInitializeUnknownConversation(t *testing.T) {
	h := newHarness(t)

	c := h.newContext(t, "ghost", "")
	err := c.Initialize(context.Background())
	te, ok := models.AsToolError(err)
	if !ok || te.Code != models.ErrCodeNotFound {
		t.Fatalf("err = %v, want not_found tool error", err)
	}
	if c.State() != StateError {
		t.Errorf("state = %s, want %s", c.State(), StateError)
	}
}

func TestInitializeUnknownDefinition(t *testing.T) {
	h := newHarness(t)
	h.seedConversation(t, "conv-1", "")

	c := h.newContext(t, "conv-1", "")
	err := c.Initialize(context.Background())
	te, ok := models.AsToolError(err)
	if !ok || te.Code != models.ErrCodeNotFound {
		t.Fatalf("err = %v, want not_found tool error", err)
	}
}

func TestInitializeOwnership(t *testing.T) {
	h := newHarness(t)
	h.seedDefinition(t, nil)
	h.seedConversation(t, "conv-1", "user-1")

	t.Run("mismatch", func(t *testing.T) {
		token := signedToken(t, jwt.MapClaims{"sub": "intruder"})
		c := h.newContext(t, "conv-1", token)
		err := c.Initialize(context.Background())
		te, ok := models.AsToolError(err)
		if !ok || te.Code != models.ErrCodeForbidden {
			t.Fatalf("err = %v, want forbidden tool error", err)
		}
		if c.State() != StateError {
			t.Errorf("state = %s, want %s", c.State(), StateError)
		}
	})

	t.Run("anonymous", func(t *testing.T) {
		c := h.newContext(t, "conv-1", "")
		err := c.Initialize(context.Background())
		if te, ok := models.AsToolError(err); !ok || te.Code != models.ErrCodeForbidden {
			t.Fatalf("err = %v, want forbidden tool error", err)
		}
	})

	t.Run("match", func(t *testing.T) {
		token := signedToken(t, jwt.MapClaims{"sub": "user-1"})
		c := h.newContext(t, "conv-1", token)
		if err := c.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		if c.userID != "user-1" {
			t.Errorf("userID = %q, want user-1", c.userID)
		}
	})
}

func TestInitializeProactive(t *testing.T) {
	h := newHarness(t)
	h.seedTemplate(t, &models.Template{
		ID:               "tpl-1",
		Name:             "Onboarding",
		AgentStartsFirst: true,
		DisplayMode:      "focused",
		Items:            []models.TemplateItem{{ID: "item-1"}, {ID: "item-2"}},
	})
	h.seedDefinition(t, &models.AgentDefinition{TemplateID: "tpl-1"})
	h.seedConversation(t, "conv-1", "")

	c := h.newContext(t, "conv-1", "")
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if c.State() != StatePresenting {
		t.Errorf("state = %s, want %s", c.State(), StatePresenting)
	}
	cfg := decodePayload[models.ConversationConfigPayload](t, h.sender.one(t, models.MsgConversationConfig))
	if cfg.TemplateID != "tpl-1" || cfg.TemplateName != "Onboarding" {
		t.Errorf("config template = %q/%q", cfg.TemplateID, cfg.TemplateName)
	}
	if cfg.TotalItems != 2 || cfg.DisplayMode != "focused" {
		t.Errorf("config = %+v", cfg)
	}
}

func TestInitializeMissingTemplate(t *testing.T) {
	h := newHarness(t)
	h.seedDefinition(t, &models.AgentDefinition{TemplateID: "ghost"})
	h.seedConversation(t, "conv-1", "")

	c := h.newContext(t, "conv-1", "")
	err := c.Initialize(context.Background())
	te, ok := models.AsToolError(err)
	if !ok || te.Code != models.ErrCodeNotFound {
		t.Fatalf("err = %v, want not_found tool error", err)
	}
}

func TestInitializeToolCatalogue(t *testing.T) {
	h := newHarness(t)
	h.seedDefinition(t, nil)
	h.seedSource(t, "s1")
	h.seedTool(t, "s1", "get_weather")

	t.Run("with token", func(t *testing.T) {
		h.seedConversation(t, "conv-1", "user-1")
		c := h.newContext(t, "conv-1", signedToken(t, jwt.MapClaims{"sub": "user-1"}))
		if err := c.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		if len(c.tools) != 1 || c.tools[0].Name != "get_weather" {
			t.Errorf("tools = %+v, want [get_weather]", c.tools)
		}
	})

	t.Run("anonymous", func(t *testing.T) {
		h.seedConversation(t, "conv-2", "")
		c := h.newContext(t, "conv-2", "")
		if err := c.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		if len(c.tools) != 0 {
			t.Errorf("anonymous context loaded %d tools, want none", len(c.tools))
		}
	})
}

func TestBeginFlowReactive(t *testing.T) {
	h := newHarness(t)
	h.seedDefinition(t, nil)
	h.seedConversation(t, "conv-1", "")
	c := h.attach(t, "conv-1", "")
	ctx := context.Background()

	c.BeginFlow(ctx)

	input := decodePayload[models.ChatInputPayload](t, h.sender.one(t, models.MsgFlowChatInput))
	if !input.Enabled {
		t.Error("chat input should be enabled")
	}
	if c.State() != StateReady {
		t.Errorf("state = %s, want %s", c.State(), StateReady)
	}

	// Repeated begins are no-ops.
	n := len(h.sender.frames)
	c.BeginFlow(ctx)
	if len(h.sender.frames) != n {
		t.Errorf("second begin sent %d extra frames", len(h.sender.frames)-n)
	}
}

func TestBeginFlowProactive(t *testing.T) {
	h := newHarness(t)
	h.seedTemplate(t, &models.Template{
		ID:                  "tpl-1",
		AgentStartsFirst:    true,
		IntroductionMessage: "Welcome aboard.",
		Items: []models.TemplateItem{
			{
				ID:    "item-1",
				Title: "Basics",
				Contents: []models.ItemContent{
					{WidgetID: "m1", WidgetType: models.WidgetTypeMessage, Stem: "Let's get started."},
					{WidgetID: "w1", WidgetType: "text_input", Stem: "What should I call you?", Required: true},
				},
			},
			{
				ID:       "item-2",
				Contents: []models.ItemContent{{WidgetID: "w2", WidgetType: "rating", Required: true}},
			},
		},
	})
	h.seedDefinition(t, &models.AgentDefinition{TemplateID: "tpl-1"})
	h.seedConversation(t, "conv-1", "")
	c := h.attach(t, "conv-1", "")

	c.BeginFlow(context.Background())

	assertFrameTypes(t, h.sender.types(),
		models.MsgContentChunk,
		models.MsgContentComplete,
		models.MsgItemContext,
		models.MsgContentChunk,
		models.MsgContentComplete,
		models.MsgWidgetRender,
	)

	introChunk := decodePayload[models.ContentChunkPayload](t, h.sender.frames[0])
	introDone := decodePayload[models.ContentCompletePayload](t, h.sender.frames[1])
	if introDone.FullContent != "Welcome aboard." {
		t.Errorf("introduction = %q", introDone.FullContent)
	}
	if !introChunk.Final || introChunk.MessageID == "" || introChunk.MessageID != introDone.MessageID {
		t.Errorf("introduction frames disagree: chunk %+v, complete %+v", introChunk, introDone)
	}

	itemCtx := decodePayload[models.ItemContextPayload](t, h.sender.frames[2])
	if itemCtx.ItemID != "item-1" || itemCtx.ItemIndex != 0 || itemCtx.TotalItems != 2 {
		t.Errorf("item context = %+v", itemCtx)
	}
	if itemCtx.ItemTitle != "Basics" {
		t.Errorf("item title = %q", itemCtx.ItemTitle)
	}

	stem := decodePayload[models.ContentCompletePayload](t, h.sender.frames[4])
	if stem.FullContent != "Let's get started." {
		t.Errorf("message stem = %q", stem.FullContent)
	}

	widget := decodePayload[models.WidgetRenderPayload](t, h.sender.frames[5])
	if widget.ItemID != "item-1" || widget.WidgetID != "w1" || widget.WidgetType != "text_input" {
		t.Errorf("widget = %+v", widget)
	}
	if !widget.Required || widget.Stem != "What should I call you?" {
		t.Errorf("widget = %+v", widget)
	}

	if c.State() != StateSuspended {
		t.Errorf("state = %s, want %s", c.State(), StateSuspended)
	}
}

func TestBeginFlowResumesCursor(t *testing.T) {
	h := newHarness(t)
	h.seedTemplate(t, &models.Template{
		ID:                  "tpl-1",
		AgentStartsFirst:    true,
		IntroductionMessage: "Welcome aboard.",
		Items: []models.TemplateItem{
			{ID: "item-1", Contents: []models.ItemContent{{WidgetID: "w1", WidgetType: "text_input", Required: true}}},
			{ID: "item-2", Contents: []models.ItemContent{{WidgetID: "w2", WidgetType: "rating", Required: true}}},
		},
	})
	h.seedDefinition(t, &models.AgentDefinition{TemplateID: "tpl-1"})
	conv := &models.Conversation{
		ID:           "conv-1",
		DefinitionID: "agent-1",
		Metadata:     map[string]any{commands.MetaCurrentItemIndex: 1},
	}
	if err := h.stores.Conversations.Create(context.Background(), conv); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	c := h.attach(t, "conv-1", "")

	c.BeginFlow(context.Background())

	// No introduction replay past item zero; the cursor's item is
	// re-presented from scratch.
	assertFrameTypes(t, h.sender.types(), models.MsgItemContext, models.MsgWidgetRender)
	itemCtx := decodePayload[models.ItemContextPayload](t, h.sender.frames[0])
	if itemCtx.ItemID != "item-2" || itemCtx.ItemIndex != 1 {
		t.Errorf("item context = %+v, want item-2 at index 1", itemCtx)
	}
	if c.State() != StateSuspended {
		t.Errorf("state = %s, want %s", c.State(), StateSuspended)
	}
}

func TestBeginFlowEmptyTemplate(t *testing.T) {
	h := newHarness(t)
	h.seedTemplate(t, &models.Template{
		ID:                "tpl-1",
		AgentStartsFirst:  true,
		CompletionMessage: "Nothing to do.",
	})
	h.seedDefinition(t, &models.AgentDefinition{TemplateID: "tpl-1"})
	h.seedConversation(t, "conv-1", "")
	c := h.attach(t, "conv-1", "")

	c.BeginFlow(context.Background())

	done := decodePayload[models.ContentCompletePayload](t, h.sender.one(t, models.MsgContentComplete))
	if done.FullContent != "Nothing to do." {
		t.Errorf("completion message = %q", done.FullContent)
	}
	input := decodePayload[models.ChatInputPayload](t, h.sender.one(t, models.MsgFlowChatInput))
	if input.Enabled {
		t.Error("chat input should be locked after completion")
	}
	if c.State() != StateCompleted {
		t.Errorf("state = %s, want %s", c.State(), StateCompleted)
	}
}
