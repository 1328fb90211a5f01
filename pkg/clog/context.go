package clog

import (
	"context"
	"maps"
	"sync"
)

// attributeBag collects attributes that the AttributesHandler appends to every
// record logged with the owning context.
type attributeBag struct {
	mu         sync.RWMutex
	attributes map[string]any
}

type bagKey struct{}

const (
	ErrorAttributeKey    = "error.message"
	StackAttributeKey    = "error.stack"
	TicketIDAttributeKey = "ticket_id"
	AgentAttributeKey    = "agent"
)

func bagFrom(ctx context.Context) *attributeBag {
	b, _ := ctx.Value(bagKey{}).(*attributeBag)
	return b
}

// ContextWithSlog returns a context with a fresh attribute bag. Attributes of
// an enclosing bag are copied in, so a nested scope starts from what its
// parent already knew and never writes back to it.
func ContextWithSlog(ctx context.Context) context.Context {
	b := &attributeBag{attributes: make(map[string]any)}
	if parent := bagFrom(ctx); parent != nil {
		b.attributes = parent.snapshot()
	}
	return context.WithValue(ctx, bagKey{}, b)
}

// WithTicket opens a nested bag scoped to one agent run of a ticket.
func WithTicket(ctx context.Context, ticketID, agent string) context.Context {
	ctx = ContextWithSlog(ctx)
	AddAttributes(ctx, map[string]any{
		TicketIDAttributeKey: ticketID,
		AgentAttributeKey:    agent,
	})
	return ctx
}

func AddAttribute(ctx context.Context, key string, value any) {
	b := bagFrom(ctx)
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attributes[key] = value
}

func AddAttributes(ctx context.Context, attributes map[string]any) {
	b := bagFrom(ctx)
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	mergeMaps(b.attributes, attributes)
}

func GetAttribute[T any](ctx context.Context, key string) T {
	var zero T
	b := bagFrom(ctx)
	if b == nil {
		return zero
	}
	b.mu.RLock()
	v, ok := b.attributes[key].(T)
	b.mu.RUnlock()
	if !ok {
		return zero
	}
	return v
}

// mergeMaps copies src into dst, merging nested maps key by key.
func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		if existing, ok := dst[k].(map[string]any); ok {
			mergeMaps(existing, sub)
			continue
		}
		dst[k] = maps.Clone(sub)
	}
}

func AddError(ctx context.Context, err error) {
	AddAttribute(ctx, ErrorAttributeKey, err)
}

func GetError(ctx context.Context) error {
	return GetAttribute[error](ctx, ErrorAttributeKey)
}

func AddStack(ctx context.Context, stack string) {
	AddAttribute(ctx, StackAttributeKey, stack)
}

func GetStack(ctx context.Context) string {
	return GetAttribute[string](ctx, StackAttributeKey)
}

func (b *attributeBag) snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.attributes)
}

func GetAttributes(ctx context.Context) map[string]any {
	b := bagFrom(ctx)
	if b == nil {
		return nil
	}
	return b.snapshot()
}
