package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tesserahq/toolgate/internal/orchestrator"
	"github.com/tesserahq/toolgate/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsSendBuffer      = 64
	wsEventBuffer     = 16
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

type conversationHandler struct {
	server   *Server
	deps     orchestrator.Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func (s *Server) newConversationHandler() http.Handler {
	return &conversationHandler{
		server: s,
		deps:   s.deps,
		logger: s.logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

func (h *conversationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	session := &wsSession{
		handler: h,
		conn:    conn,
		send:    make(chan []byte, wsSendBuffer),
		events:  make(chan *models.WireMessage, wsEventBuffer),
		ctx:     ctx,
		cancel:  cancel,
		id:      uuid.NewString(),
	}
	session.logger = h.logger.With("connection_id", session.id)
	session.logger.Debug("connection opened", "remote", r.RemoteAddr)
	h.server.metrics.ConnectionOpened()
	defer h.server.metrics.ConnectionClosed()
	session.run()
}

// wsSession is one WebSocket connection. The read loop decodes frames
// into the events channel; the dispatch goroutine owns the
// orchestrator context and is the only caller of its methods; the
// write loop is the only writer on the connection. Send blocks when
// the send buffer is full, so a slow client applies backpressure to
// the conversation instead of growing a queue.
type wsSession struct {
	handler *conversationHandler
	conn    *websocket.Conn
	send    chan []byte
	events  chan *models.WireMessage
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger

	id           string
	conversation *orchestrator.Context
}

func (s *wsSession) run() {
	defer s.close()
	go s.writeLoop()
	go s.dispatchLoop()
	s.readLoop()
}

func (s *wsSession) close() {
	s.cancel()
	_ = s.conn.Close()
	s.logger.Debug("connection closed")
}

// Send implements orchestrator.Sender.
func (s *wsSession) Send(msg *models.WireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case s.send <- data:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *wsSession) readLoop() {
	s.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg models.WireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendSystemError("protocol", "invalid_frame", err.Error())
			continue
		}
		if msg.Type == "" {
			s.sendSystemError("protocol", "invalid_frame", "missing message type")
			continue
		}

		select {
		case s.events <- &msg:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *wsSession) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.flush()
			return
		case data := <-s.send:
			if !s.write(data) {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				return
			}
		}
	}
}

// flush drains frames queued before the session was cancelled, then
// sends a close frame. Writes after a peer disconnect fail fast.
func (s *wsSession) flush() {
	for {
		select {
		case data := <-s.send:
			if !s.write(data) {
				return
			}
		default:
			deadline := time.Now().Add(wsWriteWait)
			_ = s.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

func (s *wsSession) write(data []byte) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.cancel()
		return false
	}
	return true
}

// dispatchLoop is the session's single conversation goroutine. Events
// are handled strictly in arrival order; a control frame that arrives
// during an LLM run takes effect when the run finishes.
func (s *wsSession) dispatchLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.events:
			s.dispatch(msg)
		}
	}
}

func (s *wsSession) dispatch(msg *models.WireMessage) {
	if s.conversation == nil {
		if msg.Type != models.MsgSessionInit {
			s.sendSystemError("protocol", "handshake_required", "session.init must precede other messages")
			return
		}
		s.handleSessionInit(msg.Payload)
		return
	}

	switch msg.Type {
	case models.MsgSessionInit:
		s.sendSystemError("protocol", "already_initialized", "session is already attached to a conversation")
	case models.MsgSessionAck, models.MsgFlowBegin:
		s.conversation.BeginFlow(s.ctx)
	case models.MsgMessageSend:
		var p models.MessageSendPayload
		if !s.decode(msg.Payload, &p) {
			return
		}
		started := time.Now()
		s.conversation.HandleUserMessage(s.ctx, p.Content)
		s.handler.server.metrics.ObserveRun(s.conversation.Model(), time.Since(started))
	case models.MsgWidgetResponse:
		var p models.WidgetResponsePayload
		if !s.decode(msg.Payload, &p) {
			return
		}
		s.conversation.HandleWidgetResponse(s.ctx, &p)
	case models.MsgFlowPause:
		s.conversation.Pause()
	case models.MsgFlowResume:
		s.conversation.Resume()
	case models.MsgFlowCancel:
		s.conversation.CancelFlow()
	case models.MsgModelChange:
		var p models.ModelChangePayload
		if !s.decode(msg.Payload, &p) {
			return
		}
		s.conversation.ChangeModel(p.Model)
	default:
		s.sendSystemError("protocol", "unknown_type", fmt.Sprintf("unsupported message type %q", msg.Type))
	}
}

// handleSessionInit attaches the connection to a conversation. Failure
// reports a system error and closes the connection; the client
// reconnects with corrected credentials.
func (s *wsSession) handleSessionInit(raw json.RawMessage) {
	var init models.SessionInitPayload
	if err := json.Unmarshal(raw, &init); err != nil {
		s.sendSystemError("protocol", "invalid_payload", err.Error())
		s.cancel()
		return
	}

	conv, err := orchestrator.New(s.id, &init, s, s.handler.deps)
	if err != nil {
		s.sendSystemError("session", "init_failed", err.Error())
		s.cancel()
		return
	}
	if err := conv.Initialize(s.ctx); err != nil {
		code := "init_failed"
		message := err.Error()
		if toolErr, ok := models.AsToolError(err); ok {
			code = string(toolErr.Code)
			message = toolErr.Message
		}
		s.sendSystemError("session", code, message)
		s.logger.Warn("session init failed",
			"conversation_id", init.ConversationID, "code", code)
		s.cancel()
		return
	}

	s.conversation = conv
	s.logger.Info("session attached", "conversation_id", conv.ConversationID())
}

func (s *wsSession) decode(raw json.RawMessage, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		s.sendSystemError("protocol", "invalid_payload", err.Error())
		return false
	}
	return true
}

func (s *wsSession) sendSystemError(category, code, message string) {
	msg, err := models.NewWireMessage(models.MsgSystemError, &models.SystemErrorPayload{
		Category: category,
		Code:     code,
		Message:  message,
	})
	if err != nil {
		return
	}
	if err := s.Send(msg); err != nil {
		s.logger.Debug("system error not delivered", "code", code, "error", err)
	}
}
