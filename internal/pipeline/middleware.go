package pipeline

import "context"

// Handler runs the remainder of the chain.
type Handler func(ctx context.Context, actx *AgentContext) (*Result, error)

// Middleware wraps a Handler. Implementations call next zero or more times.
type Middleware interface {
	Invoke(ctx context.Context, actx *AgentContext, next Handler) (*Result, error)
}

// chain composes middleware so that mws[0] is outermost.
func chain(mws []Middleware, final Handler) Handler {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		mw, next := mws[i], h
		h = func(ctx context.Context, actx *AgentContext) (*Result, error) {
			return mw.Invoke(ctx, actx, next)
		}
	}
	return h
}

// CancellationError reports that a run stopped because its context was
// cancelled or timed out. It unwraps to the context error.
type CancellationError struct {
	TicketID  string
	AgentName string
	Err       error
}

func (e *CancellationError) Error() string {
	return "agent " + e.AgentName + " on ticket " + e.TicketID + " cancelled: " + e.Err.Error()
}

func (e *CancellationError) Unwrap() error { return e.Err }

// UnhandledError reports a panic inside agent code.
type UnhandledError struct {
	AgentName string
	Err       error
}

func (e *UnhandledError) Error() string {
	return "agent " + e.AgentName + " crashed: " + e.Err.Error()
}

func (e *UnhandledError) Unwrap() error { return e.Err }

// isCancellation reports whether err ended the run because ctx itself is
// done. Context errors from an agent's own operations, such as an HTTP client
// timeout, are ordinary failures while ctx is still alive.
func isCancellation(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil
}

func failureText(res *Result, err error) (string, string) {
	if err != nil {
		return err.Error(), ""
	}
	if res == nil {
		return "agent returned no result", ""
	}
	return res.Error, res.ErrorDetails
}
