package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mikaelliljedahl/prfactory/internal/checkpoint"
	"github.com/mikaelliljedahl/prfactory/internal/eventbus"
	"github.com/mikaelliljedahl/prfactory/internal/recovery"
	"github.com/mikaelliljedahl/prfactory/internal/retry"
	"github.com/mikaelliljedahl/prfactory/pkg/cerr"
	"github.com/mikaelliljedahl/prfactory/pkg/panicerr"
)

// checkpointWriteTimeout bounds checkpoint and event I/O issued after the run
// context may already be cancelled.
const checkpointWriteTimeout = 10 * time.Second

type Options struct {
	// Enabled false makes Execute and the runner skip agents entirely.
	Enabled                 bool
	Timeout                 time.Duration
	MaxConcurrentExecutions int64
	EnableCheckpoints       bool

	EnableLogging       bool
	EnableTelemetry     bool
	EnableErrorHandling bool
	EnableRetry         bool

	Retry         retry.Options
	ErrorHandling ErrorHandlingOptions
}

func DefaultOptions() Options {
	return Options{
		Enabled:                 true,
		Timeout:                 30 * time.Minute,
		MaxConcurrentExecutions: 4,
		EnableCheckpoints:       true,
		EnableLogging:           true,
		EnableTelemetry:         true,
		EnableErrorHandling:     true,
		EnableRetry:             true,
		Retry:                   retry.DefaultOptions(),
		ErrorHandling:           DefaultErrorHandlingOptions(),
	}
}

// Publisher receives lifecycle events. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, event *eventbus.Event) error
}

type Dependencies struct {
	Agents      Resolver
	Classifier  *recovery.Classifier
	Checkpoints checkpoint.Repository
	Publisher   Publisher
	Metrics     *Metrics
}

// Pipeline runs named agents behind the middleware chain
// Logging > Telemetry > ErrorHandling > Retry, with admission control, a
// per-ticket run lock, a run timeout and checkpointing.
type Pipeline struct {
	opts        Options
	agents      Resolver
	checkpoints checkpoint.Repository
	publisher   Publisher
	middleware  []Middleware
	sem         *semaphore.Weighted
	locks       *ticketLocks
}

func New(opts Options, deps Dependencies) *Pipeline {
	if deps.Classifier == nil {
		deps.Classifier = recovery.NewClassifier()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	if opts.MaxConcurrentExecutions <= 0 {
		opts.MaxConcurrentExecutions = 1
	}

	var mws []Middleware
	if opts.EnableLogging {
		mws = append(mws, Logging{})
	}
	if opts.EnableTelemetry {
		mws = append(mws, Telemetry{Metrics: deps.Metrics})
	}
	if opts.EnableErrorHandling {
		mws = append(mws, ErrorHandling{Options: opts.ErrorHandling})
	}
	if opts.EnableRetry {
		mws = append(mws, Retry{Options: opts.Retry, Classifier: deps.Classifier, Metrics: deps.Metrics})
	}

	return &Pipeline{
		opts:        opts,
		agents:      deps.Agents,
		checkpoints: deps.Checkpoints,
		publisher:   deps.Publisher,
		middleware:  mws,
		sem:         semaphore.NewWeighted(opts.MaxConcurrentExecutions),
		locks:       newTicketLocks(),
	}
}

// Use replaces the middleware chain. Intended for tests and embedding.
func (p *Pipeline) Use(mws ...Middleware) {
	p.middleware = mws
}

// Execute runs agentName for the ticket in actx. Expected failures come back
// as a Failed result; an error is returned only for cancellation and, when
// configured, for panics in agent code.
func (p *Pipeline) Execute(ctx context.Context, agentName string, actx *AgentContext) (*Result, error) {
	unlock, err := p.locks.Lock(ctx, actx.TicketID())
	if err != nil {
		return p.cancelled(actx, agentName, err)
	}
	defer unlock()
	return p.execute(ctx, agentName, actx)
}

// DisabledMessage is the failure text of runs refused while the pipeline is
// switched off.
const DisabledMessage = "agent pipeline is disabled"

// Enabled reports whether agents may run.
func (p *Pipeline) Enabled() bool {
	return p.opts.Enabled
}

// execute expects the caller to hold the ticket lock.
func (p *Pipeline) execute(ctx context.Context, agentName string, actx *AgentContext) (*Result, error) {
	actx.AgentName = agentName
	if !p.opts.Enabled {
		return Failed(DisabledMessage), nil
	}
	agent, ok := p.agents.Agent(agentName)
	if !ok {
		res := Failed(fmt.Sprintf("invalid agent binding: no agent registered as %q", agentName))
		actx.ErrorMessage = res.Error
		slog.WarnContext(ctx, "agent run rejected",
			"ticket_id", actx.TicketID(), "agent", agentName, "error", res.Error)
		p.finish(ctx, actx, nil, res, nil)
		return res, nil
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return p.cancelled(actx, agentName, err)
	}
	defer p.sem.Release(1)

	runCtx := ctx
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	resumed := p.restore(runCtx, actx)
	h := chain(p.middleware, func(ctx context.Context, actx *AgentContext) (*Result, error) {
		return agent.Execute(ctx, actx)
	})
	res, err := h(runCtx, actx)
	if err == nil && res == nil {
		res = Failed("agent returned no result")
	}
	p.finish(ctx, actx, resumed, res, err)
	return res, err
}

func (p *Pipeline) cancelled(actx *AgentContext, agentName string, err error) (*Result, error) {
	if p.opts.ErrorHandling.RethrowCancellation || !p.opts.EnableErrorHandling {
		return nil, &CancellationError{TicketID: actx.TicketID(), AgentName: agentName, Err: err}
	}
	res := Failed(err.Error())
	res.Cancelled = true
	return res, nil
}

func (p *Pipeline) restore(ctx context.Context, actx *AgentContext) *checkpoint.Checkpoint {
	if !p.opts.EnableCheckpoints || p.checkpoints == nil {
		return nil
	}
	cp, err := p.checkpoints.GetLatest(ctx, actx.TicketID(), actx.AgentName)
	if err != nil {
		if !cerr.IsCode(err, cerr.NotFound) {
			slog.WarnContext(ctx, "failed to load checkpoint, starting fresh",
				"ticket_id", actx.TicketID(), "agent", actx.AgentName, "error", err)
		}
		return nil
	}
	if cp.Status != checkpoint.StatusActive {
		return nil
	}
	payload, err := checkpoint.DecodePayload(cp.Payload)
	if err != nil {
		slog.WarnContext(ctx, "ignoring unreadable checkpoint",
			"ticket_id", actx.TicketID(), "agent", actx.AgentName, "checkpoint_id", cp.ID, "error", err)
		return nil
	}
	for k, v := range payload.State {
		actx.Set(k, v)
	}
	actx.ResumedFrom = cp.ID
	return cp
}

func (p *Pipeline) finish(ctx context.Context, actx *AgentContext, resumed *checkpoint.Checkpoint, res *Result, runErr error) {
	ioCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointWriteTimeout)
	defer cancel()

	var (
		eventType eventbus.EventType
		reason    string
		message   string
	)
	switch {
	case runErr != nil:
		var ce *CancellationError
		if errors.As(runErr, &ce) || isCancellation(ctx, runErr) {
			eventType, reason = eventbus.EventRunCancelled, "cancelled"
		} else {
			eventType, reason = eventbus.EventRunFailed, "crashed"
		}
		message = runErr.Error()
		if p.opts.ErrorHandling.SanitizeErrorMessages {
			message = sanitize(message)
		}
	case res.failed():
		eventType, reason, message = eventbus.EventRunFailed, "failed", res.Error
		if res.Cancelled {
			eventType, reason = eventbus.EventRunCancelled, "cancelled"
		}
	case res.Suspended:
		eventType, reason = eventbus.EventRunSuspended, "suspended"
	default:
		eventType = eventbus.EventRunCompleted
	}

	metadata := map[string]string{"agent": actx.AgentName}
	if reason != "" {
		if id := p.saveCheckpoint(ioCtx, actx, reason, message); id != "" {
			metadata["checkpoint_id"] = id
		}
	} else if resumed != nil && p.checkpoints != nil {
		if err := p.checkpoints.UpdateStatus(ioCtx, resumed.TicketID, resumed.ID, checkpoint.StatusResumed); err != nil {
			slog.WarnContext(ctx, "failed to mark checkpoint resumed",
				"ticket_id", actx.TicketID(), "agent", actx.AgentName, "checkpoint_id", resumed.ID, "error", err)
		}
	}

	p.publish(ioCtx, &eventbus.Event{
		Type:      eventType,
		TicketID:  actx.TicketID(),
		AgentName: actx.AgentName,
		Message:   message,
		Metadata:  metadata,
	})
}

func (p *Pipeline) saveCheckpoint(ctx context.Context, actx *AgentContext, reason, message string) string {
	if !p.opts.EnableCheckpoints || p.checkpoints == nil {
		return ""
	}
	data, err := checkpoint.EncodePayload(&checkpoint.Payload{
		State:        actx.snapshot(),
		Error:        message,
		ErrorDetails: actx.ErrorDetails,
		Reason:       reason,
		Attempt:      actx.Attempt,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode checkpoint",
			"ticket_id", actx.TicketID(), "agent", actx.AgentName, "error", err)
		return ""
	}
	cp := checkpoint.New(actx.TicketID(), actx.AgentName, data)
	if err := p.checkpoints.Save(ctx, cp); err != nil {
		slog.ErrorContext(ctx, "failed to save checkpoint",
			"ticket_id", actx.TicketID(), "agent", actx.AgentName, "error", err)
		return ""
	}
	return cp.ID
}

func (p *Pipeline) publish(ctx context.Context, ev *eventbus.Event) {
	if p.publisher == nil {
		return
	}
	err := panicerr.Call(func() error {
		return p.publisher.Publish(ctx, ev)
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to publish lifecycle event",
			"ticket_id", ev.TicketID, "type", ev.Type, "error", err)
	}
}
