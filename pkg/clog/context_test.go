package clog

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextWithSlog_NestedScopes(t *testing.T) {
	outer := ContextWithSlog(context.Background())
	AddAttribute(outer, "path", "/api/tickets")

	inner := WithTicket(outer, "T1", "planner")
	AddAttribute(inner, "attempt", 2)

	assert.Equal(t, "/api/tickets", GetAttribute[string](inner, "path"))
	assert.Equal(t, "T1", GetAttribute[string](inner, TicketIDAttributeKey))
	assert.Equal(t, 2, GetAttribute[int](inner, "attempt"))
	assert.Zero(t, GetAttribute[int](outer, "attempt"), "inner scope does not leak")
	assert.Zero(t, GetAttribute[string](outer, AgentAttributeKey))
}

func TestGetAttribute_WithoutBag(t *testing.T) {
	ctx := context.Background()
	AddAttribute(ctx, "k", "v")
	assert.Empty(t, GetAttribute[string](ctx, "k"))
	assert.Nil(t, GetAttributes(ctx))
}

func TestAddAttributes_MergesNestedMaps(t *testing.T) {
	ctx := ContextWithSlog(context.Background())
	AddAttributes(ctx, map[string]any{"http": map[string]any{"method": "GET"}})
	AddAttributes(ctx, map[string]any{"http": map[string]any{"status": 200}})

	got := GetAttribute[map[string]any](ctx, "http")
	assert.Equal(t, map[string]any{"method": "GET", "status": 200}, got)
}

func TestAttributesHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewAttributesHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithTicket(context.Background(), "T1", "planner")
	AddError(ctx, errors.New("boom"))
	AddAttribute(ctx, "skipped", nil)
	logger.InfoContext(ctx, "agent run failed")

	assert.Contains(t, buf.String(), `msg="agent run failed" agent=planner error.message=boom ticket_id=T1`)
	assert.NotContains(t, buf.String(), "skipped")
}
