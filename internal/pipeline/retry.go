package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/mikaelliljedahl/prfactory/internal/recovery"
	"github.com/mikaelliljedahl/prfactory/internal/retry"
)

// Retry re-invokes the inner chain while the failure is classified as
// recoverable and attempts remain.
type Retry struct {
	Options    retry.Options
	Classifier *recovery.Classifier
	Metrics    *Metrics
	// Jitter overrides the random source of the backoff delay.
	Jitter func(n int64) int64
}

func (m Retry) Invoke(ctx context.Context, actx *AgentContext, next Handler) (*Result, error) {
	for attempt := 0; ; attempt++ {
		actx.Attempt = attempt
		res, err := next(ctx, actx)
		if isCancellation(ctx, err) {
			return res, err
		}
		if err == nil && !res.failed() {
			res.Attempts = attempt + 1
			return res, nil
		}

		msg, details := failureText(res, err)
		analysis := m.Classifier.Classify(msg, details, attempt)
		if !analysis.IsRecoverable || attempt >= m.Options.MaxRetryAttempts {
			if res != nil {
				res.ShouldRetry = false
				res.Attempts = attempt + 1
			}
			return res, err
		}

		delay := m.delay(attempt + 1)
		m.Metrics.retried(actx.AgentName, string(analysis.ErrorType))
		slog.InfoContext(ctx, "retrying agent",
			"ticket_id", actx.TicketID(),
			"agent", actx.AgentName,
			"attempt", attempt+1,
			"error_type", analysis.ErrorType,
			"delay", delay,
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (m Retry) delay(attempt int) time.Duration {
	if m.Jitter != nil {
		return m.Options.DelayWithJitter(attempt, m.Jitter)
	}
	return m.Options.Delay(attempt)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
