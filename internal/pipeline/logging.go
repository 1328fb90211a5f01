package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/mikaelliljedahl/prfactory/pkg/clog"
)

// Logging records one structured entry per run keyed by ticket and agent.
type Logging struct{}

func (Logging) Invoke(ctx context.Context, actx *AgentContext, next Handler) (*Result, error) {
	ctx = clog.WithTicket(ctx, actx.TicketID(), actx.AgentName)
	if actx.Ticket != nil {
		clog.AddAttribute(ctx, "state", string(actx.Ticket.State))
	}
	if actx.ResumedFrom != "" {
		clog.AddAttribute(ctx, "resumed_from", actx.ResumedFrom)
	}
	slog.DebugContext(ctx, "agent run started")

	start := time.Now()
	res, err := next(ctx, actx)
	clog.AddAttribute(ctx, "duration", time.Since(start))

	switch {
	case err != nil:
		clog.AddError(ctx, err)
		if isCancellation(ctx, err) {
			slog.InfoContext(ctx, "agent run cancelled")
		} else {
			slog.ErrorContext(ctx, "agent run crashed")
		}
	case res.failed():
		clog.AddAttributes(ctx, map[string]any{
			"attempts":  res.Attempts,
			"cancelled": res.Cancelled,
		})
		clog.AddAttribute(ctx, clog.ErrorAttributeKey, res.Error)
		slog.WarnContext(ctx, "agent run failed")
	default:
		clog.AddAttributes(ctx, map[string]any{
			"attempts":  res.Attempts,
			"suspended": res.Suspended,
		})
		slog.InfoContext(ctx, "agent run completed")
	}
	return res, err
}
