package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/mikaelliljedahl/prfactory/internal/eventbus"
	"github.com/mikaelliljedahl/prfactory/internal/recovery"
	"github.com/mikaelliljedahl/prfactory/internal/ticket"
	"github.com/mikaelliljedahl/prfactory/pkg/panicerr"
)

// maxSteps bounds how many agents one Run may chain before yielding.
const maxSteps = 32

// Binding assigns the agent that works a ticket in State and the state the
// ticket moves to when that agent completes.
type Binding struct {
	State ticket.State `yaml:"state" json:"state"`
	Agent string       `yaml:"agent" json:"agent"`
	Next  ticket.State `yaml:"next" json:"next"`
}

type Bindings interface {
	Binding(state ticket.State) (Binding, bool)
}

// Notifier posts a markdown comment on the ticket in its source platform.
type Notifier interface {
	PostComment(ctx context.Context, ticketKey, markdown string) error
}

// Outcome summarizes one Step.
type Outcome struct {
	TicketID  string             `json:"ticket_id"`
	Agent     string             `json:"agent,omitempty"`
	From      ticket.State       `json:"from"`
	State     ticket.State       `json:"state"`
	Result    *Result            `json:"result,omitempty"`
	Analysis  *recovery.Analysis `json:"analysis,omitempty"`
	Action    *recovery.Action   `json:"action,omitempty"`
	Idle      bool               `json:"idle,omitempty"`
	Suspended bool               `json:"suspended,omitempty"`
	Cancelled bool               `json:"cancelled,omitempty"`
	Disabled  bool               `json:"disabled,omitempty"`

	// Superseded is set when the ticket left From while the agent ran, e.g.
	// through a manual transition. The agent's result was discarded.
	Superseded bool `json:"superseded,omitempty"`
}

// errSuperseded aborts a ticket write whose step started from a state the
// ticket no longer has.
var errSuperseded = errors.New("ticket changed while the agent ran")

type RunnerOptions struct {
	// AutoRetry makes Run wait out a Retry decision and run the step again.
	AutoRetry bool
}

// Runner drives tickets through the workflow: it runs the agent bound to the
// ticket's state, applies the resulting transition and turns failures into
// recovery actions.
type Runner struct {
	pipeline    *Pipeline
	tickets     ticket.Repository
	transitions *ticket.TransitionTable
	bindings    Bindings
	planner     *recovery.Planner
	notifier    Notifier
	publisher   Publisher
	opts        RunnerOptions

	wait func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	running map[string]struct{}
	wg      conc.WaitGroup
}

type RunnerDependencies struct {
	Tickets     ticket.Repository
	Transitions *ticket.TransitionTable
	Bindings    Bindings
	Planner     *recovery.Planner
	Notifier    Notifier
	Publisher   Publisher
}

func NewRunner(p *Pipeline, deps RunnerDependencies, opts RunnerOptions) *Runner {
	if deps.Transitions == nil {
		deps.Transitions = ticket.DefaultTransitions()
	}
	if deps.Planner == nil {
		deps.Planner = recovery.NewPlanner(recovery.NewClassifier())
	}
	return &Runner{
		pipeline:    p,
		tickets:     deps.Tickets,
		transitions: deps.Transitions,
		bindings:    deps.Bindings,
		planner:     deps.Planner,
		notifier:    deps.Notifier,
		publisher:   deps.Publisher,
		opts:        opts,
		wait:        sleep,
		running:     make(map[string]struct{}),
	}
}

// Step runs at most one agent for the ticket. The ticket is read again
// before the result is written, and the result is dropped when the ticket
// moved on in the meantime.
func (r *Runner) Step(ctx context.Context, ticketID string) (*Outcome, error) {
	unlock, err := r.pipeline.locks.Lock(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tk, err := r.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	out := &Outcome{TicketID: tk.ID, From: tk.State, State: tk.State}
	if tk.State.IsTerminal() {
		out.Idle = true
		return out, nil
	}
	if !r.pipeline.Enabled() {
		out.Idle, out.Disabled = true, true
		return out, nil
	}
	b, ok := r.bindings.Binding(tk.State)
	if !ok {
		out.Idle = true
		return out, nil
	}
	out.Agent = b.Agent

	actx := NewAgentContext(tk.Clone())
	res, err := r.pipeline.execute(ctx, b.Agent, actx)
	if err != nil {
		var ce *CancellationError
		if !errors.As(err, &ce) || ctx.Err() != nil {
			return nil, err
		}
		// the run's own deadline fired while the caller is still alive
		res = Failed(fmt.Sprintf("agent run timed out: %v", ce.Err))
		res.Cancelled = true
	}
	out.Result = res
	if res.Cancelled && ctx.Err() != nil {
		out.Cancelled = true
		return out, nil
	}

	if !res.failed() {
		cur, err := r.advance(ctx, tk.ID, out.From, b, res)
		var te *ticket.TransitionError
		switch {
		case err == nil:
			out.State = cur.State
			out.Suspended = res.Suspended
			return out, nil
		case errors.Is(err, errSuperseded):
			return r.superseded(ctx, out, cur), nil
		case errors.As(err, &te):
			res = Failed(err.Error())
			out.Result = res
		default:
			return nil, err
		}
	}

	cur, err := r.handleFailure(ctx, tk.ID, out.From, b, res, out)
	if errors.Is(err, errSuperseded) {
		return r.superseded(ctx, out, cur), nil
	}
	if err != nil {
		return nil, err
	}
	out.State = cur.State
	return out, nil
}

func (r *Runner) superseded(ctx context.Context, out *Outcome, cur *ticket.Ticket) *Outcome {
	slog.InfoContext(ctx, "discarding agent result, ticket changed during the run",
		"ticket_id", out.TicketID, "agent", out.Agent, "from", out.From, "state", cur.State)
	out.Superseded = true
	out.State = cur.State
	out.Analysis, out.Action = nil, nil
	return out
}

// current makes fn fail with errSuperseded once the ticket is no longer in from.
func current(from ticket.State, fn func(tk *ticket.Ticket) error) func(tk *ticket.Ticket) error {
	return func(tk *ticket.Ticket) error {
		if tk.State != from {
			return errSuperseded
		}
		return fn(tk)
	}
}

func (r *Runner) advance(ctx context.Context, ticketID string, from ticket.State, b Binding, res *Result) (*ticket.Ticket, error) {
	next := b.Next
	if res.NextState != "" {
		next = res.NextState
	}
	tk, err := ticket.Modify(ctx, r.tickets, ticketID, current(from, func(tk *ticket.Ticket) error {
		if next != "" && next != tk.State {
			if err := r.transitions.Apply(tk, next, "agent "+b.Agent+" completed"); err != nil {
				return err
			}
		}
		tk.RetryCount = 0
		tk.LastError = ""
		tk.UpdatedAt = time.Now()
		return nil
	}))
	if err != nil {
		return tk, err
	}
	if from != tk.State {
		r.publish(ctx, &eventbus.Event{
			Type:      eventbus.EventTransitionApplied,
			TicketID:  tk.ID,
			AgentName: b.Agent,
			Metadata:  map[string]string{"from": string(from), "to": string(tk.State)},
		})
	}
	return tk, nil
}

func (r *Runner) handleFailure(ctx context.Context, ticketID string, from ticket.State, b Binding, res *Result, out *Outcome) (*ticket.Ticket, error) {
	var (
		analysis recovery.Analysis
		action   recovery.Action
	)
	tk, err := ticket.Modify(ctx, r.tickets, ticketID, current(from, func(tk *ticket.Ticket) error {
		analysis, action = r.planner.Analyze(res.Error, res.ErrorDetails, tk.RetryCount)
		switch action.Action {
		case recovery.ActionFail:
			if err := r.transitions.Apply(tk, ticket.StateFailed, "recovery: "+string(analysis.ErrorType)); err != nil {
				return err
			}
			tk.LastError = res.Error
		case recovery.ActionRetry:
			tk.RetryCount++
			tk.LastError = res.Error
			tk.UpdatedAt = time.Now()
		case recovery.ActionSkip:
			slog.WarnContext(ctx, "recovery skipped", "ticket_id", tk.ID, "agent", b.Agent, "error_type", analysis.ErrorType)
		}
		return nil
	}))
	if err != nil {
		return tk, err
	}
	out.Analysis, out.Action = &analysis, &action

	r.publish(ctx, &eventbus.Event{
		Type:      eventbus.EventRecoveryPlanned,
		TicketID:  tk.ID,
		AgentName: b.Agent,
		Message:   res.Error,
		Metadata: map[string]string{
			"action":        string(action.Action),
			"error_type":    string(analysis.ErrorType),
			"retry_count":   fmt.Sprint(tk.RetryCount),
			"delay_seconds": fmt.Sprint(action.DelaySeconds),
		},
	})
	if action.ShouldNotifyUser {
		r.notify(ctx, tk, b, analysis, action)
	}
	return tk, nil
}

func (r *Runner) notify(ctx context.Context, tk *ticket.Ticket, b Binding, a recovery.Analysis, act recovery.Action) {
	if r.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointWriteTimeout)
	defer cancel()
	err := panicerr.Call(func() error {
		return r.notifier.PostComment(ctx, tk.Key, renderComment(tk, b, a, act))
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to notify ticket platform", "ticket_id", tk.ID, "key", tk.Key, "error", err)
	}
}

func renderComment(tk *ticket.Ticket, b Binding, a recovery.Analysis, act recovery.Action) string {
	var sb strings.Builder
	switch act.Action {
	case recovery.ActionFail:
		fmt.Fprintf(&sb, "**Workflow stopped**: step `%s` failed and will not be retried.\n\n", b.Agent)
	default:
		fmt.Fprintf(&sb, "**Workflow retrying**: step `%s` failed, retry %d scheduled in %ds.\n\n", b.Agent, tk.RetryCount, act.DelaySeconds)
	}
	fmt.Fprintf(&sb, "- Error type: %s (%s, severity %s)\n", a.ErrorType, a.Category, a.Severity)
	if tk.LastError != "" {
		fmt.Fprintf(&sb, "- Error: `%s`\n", strings.ReplaceAll(tk.LastError, "`", "'"))
	}
	if act.Recommendation != "" {
		fmt.Fprintf(&sb, "\n> %s\n", act.Recommendation)
	}
	return sb.String()
}

func (r *Runner) publish(ctx context.Context, ev *eventbus.Event) {
	if r.publisher == nil {
		return
	}
	if err := panicerr.Call(func() error { return r.publisher.Publish(ctx, ev) }); err != nil {
		slog.WarnContext(ctx, "failed to publish event", "ticket_id", ev.TicketID, "type", ev.Type, "error", err)
	}
}

// Run steps the ticket until it is idle, suspended, cancelled, terminal or
// waiting on a recovery decision, or until another writer moves it. With AutoRetry, Retry decisions are waited out in place.
func (r *Runner) Run(ctx context.Context, ticketID string) (*Outcome, error) {
	var last *Outcome
	for range maxSteps {
		out, err := r.Step(ctx, ticketID)
		if err != nil {
			return last, err
		}
		last = out
		switch {
		case out.Idle, out.Suspended, out.Cancelled, out.Superseded, out.State.IsTerminal():
			return out, nil
		case out.Action != nil:
			if out.Action.Action != recovery.ActionRetry || !r.opts.AutoRetry {
				return out, nil
			}
			if err := r.wait(ctx, time.Duration(out.Action.DelaySeconds)*time.Second); err != nil {
				return out, err
			}
		}
	}
	return last, nil
}

// Start runs the ticket in the background unless it is already running.
func (r *Runner) Start(ctx context.Context, ticketID string) bool {
	if !r.pipeline.Enabled() {
		slog.InfoContext(ctx, "agent pipeline is disabled, not starting run", "ticket_id", ticketID)
		return false
	}
	r.mu.Lock()
	if _, ok := r.running[ticketID]; ok {
		r.mu.Unlock()
		return false
	}
	r.running[ticketID] = struct{}{}
	r.mu.Unlock()

	r.wg.Go(func() {
		defer func() {
			r.mu.Lock()
			delete(r.running, ticketID)
			r.mu.Unlock()
		}()
		err := panicerr.Call(func() error {
			_, err := r.Run(ctx, ticketID)
			return err
		})
		if err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "ticket run failed", "ticket_id", ticketID, "error", err)
		}
	})
	return true
}

// Wait blocks until all background runs have returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}
