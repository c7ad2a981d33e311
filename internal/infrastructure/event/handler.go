package event

import (
	"context"

	"github.com/itechsmart/sentinel/internal/domain/shared"
)

// HandlerFunc adapts a function to shared.EventHandler.
// Handlers are compared by pointer, so keep the returned value to unsubscribe.
type HandlerFunc struct {
	fn    func(ctx context.Context, event shared.DomainEvent) error
	types []string
}

// NewHandlerFunc wraps fn as a handler for eventTypes
func NewHandlerFunc(fn func(ctx context.Context, event shared.DomainEvent) error, eventTypes ...string) *HandlerFunc {
	return &HandlerFunc{fn: fn, types: eventTypes}
}

// Handle calls the wrapped function
func (h *HandlerFunc) Handle(ctx context.Context, event shared.DomainEvent) error {
	return h.fn(ctx, event)
}

// EventTypes returns the types given at construction
func (h *HandlerFunc) EventTypes() []string {
	return h.types
}
