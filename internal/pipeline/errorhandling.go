package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikaelliljedahl/prfactory/pkg/cerr"
	"github.com/mikaelliljedahl/prfactory/pkg/panicerr"
)

type ErrorHandlingOptions struct {
	IncludeStackTrace     bool
	SanitizeErrorMessages bool
	RethrowCancellation   bool
	RethrowUnhandled      bool
}

func DefaultErrorHandlingOptions() ErrorHandlingOptions {
	return ErrorHandlingOptions{
		SanitizeErrorMessages: true,
		RethrowCancellation:   true,
	}
}

// ErrorHandling turns errors and panics from the inner chain into Failed
// results. Only cancellation and, if configured, panics cross it as errors.
type ErrorHandling struct {
	Options ErrorHandlingOptions
}

func (m ErrorHandling) Invoke(ctx context.Context, actx *AgentContext, next Handler) (*Result, error) {
	var res *Result
	err := panicerr.Call(func() error {
		var err error
		res, err = next(ctx, actx)
		return err
	})

	if err == nil {
		if res == nil {
			res = Failed("agent returned no result")
		}
		if res.failed() {
			res.Error = m.clean(res.Error)
			if !m.Options.IncludeStackTrace {
				res.ErrorDetails = ""
			}
			m.record(actx, res)
		}
		return res, nil
	}

	var pe *panicerr.PanicError
	switch {
	case errors.As(err, &pe):
		if m.Options.RethrowUnhandled {
			return nil, &UnhandledError{AgentName: actx.AgentName, Err: err}
		}
		res = Failed(m.clean(err.Error()))
		if m.Options.IncludeStackTrace {
			res.ErrorDetails = pe.Stack
		}
	case isCancellation(ctx, err):
		if m.Options.RethrowCancellation {
			var ce *CancellationError
			if errors.As(err, &ce) {
				return nil, err
			}
			return nil, &CancellationError{TicketID: actx.TicketID(), AgentName: actx.AgentName, Err: err}
		}
		res = Failed(m.clean(err.Error()))
		res.Cancelled = true
	default:
		res = Failed(m.clean(err.Error()))
		if m.Options.IncludeStackTrace {
			res.ErrorDetails = stackOf(err)
		}
	}
	res.ShouldRetry = false
	res.Attempts = actx.Attempt + 1
	m.record(actx, res)
	return res, nil
}

func (m ErrorHandling) clean(msg string) string {
	if m.Options.SanitizeErrorMessages {
		return sanitize(msg)
	}
	return msg
}

func (m ErrorHandling) record(actx *AgentContext, res *Result) {
	actx.ErrorMessage = res.Error
	actx.ErrorDetails = res.ErrorDetails
}

func stackOf(err error) string {
	var ce *cerr.Error
	if errors.As(err, &ce) && ce.Stack != "" {
		return ce.Stack
	}
	return fmt.Sprintf("%+v", err)
}
