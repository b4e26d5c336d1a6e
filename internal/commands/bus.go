package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler executes one kind of command.
type Handler func(ctx context.Context, cmd Command) OperationResult

// Bus routes commands to their registered handlers.
type Bus struct {
	handlers map[string]Handler
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewBus creates an empty command bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "commands"),
	}
}

// Handle registers the handler for a command name.
func (b *Bus) Handle(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("command name is required")
	}
	if h == nil {
		return fmt.Errorf("handler for %q is nil", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[name]; exists {
		return fmt.Errorf("command %q already has a handler", name)
	}
	b.handlers[name] = h
	b.logger.Debug("registered command handler", "command", name)
	return nil
}

// Execute dispatches a command and returns its result. A command with
// no handler is a wiring fault, reported as an internal error.
func (b *Bus) Execute(ctx context.Context, cmd Command) OperationResult {
	if cmd == nil {
		return BadRequest("command is nil")
	}

	b.mu.RLock()
	h, ok := b.handlers[cmd.Name()]
	b.mu.RUnlock()

	if !ok {
		b.logger.Error("no handler for command", "command", cmd.Name())
		return InternalError(fmt.Sprintf("no handler registered for command %q", cmd.Name()))
	}

	res := h(ctx, cmd)
	if !res.OK() {
		b.logger.Debug("command failed",
			"command", cmd.Name(),
			"status", res.Status,
			"detail", res.Detail)
	}
	return res
}

// typed adapts a strongly-typed handler to the bus signature. A
// mismatched payload type is a wiring fault.
func typed[T Command](fn func(context.Context, T) OperationResult) Handler {
	return func(ctx context.Context, cmd Command) OperationResult {
		t, ok := cmd.(T)
		if !ok {
			return InternalError(fmt.Sprintf("command %q dispatched with payload type %T", cmd.Name(), cmd))
		}
		return fn(ctx, t)
	}
}
