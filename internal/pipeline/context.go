package pipeline

import (
	"maps"

	"github.com/mikaelliljedahl/prfactory/internal/ticket"
)

// AgentContext is the per-run working set handed to an agent. It is owned by
// exactly one run and must not be shared between goroutines.
type AgentContext struct {
	Ticket    *ticket.Ticket
	AgentName string
	// State carries step data between runs and is what a checkpoint saves.
	State        map[string]any
	ErrorMessage string
	ErrorDetails string
	// Attempt is the zero-based attempt number within the current run.
	Attempt int
	// ResumedFrom is the checkpoint id the state bag was restored from.
	ResumedFrom string
}

func NewAgentContext(t *ticket.Ticket) *AgentContext {
	return &AgentContext{
		Ticket: t,
		State:  make(map[string]any),
	}
}

func (c *AgentContext) TicketID() string {
	if c.Ticket == nil {
		return ""
	}
	return c.Ticket.ID
}

func (c *AgentContext) Get(key string) (any, bool) {
	v, ok := c.State[key]
	return v, ok
}

func (c *AgentContext) Set(key string, v any) {
	if c.State == nil {
		c.State = make(map[string]any)
	}
	c.State[key] = v
}

func (c *AgentContext) snapshot() map[string]any {
	return maps.Clone(c.State)
}

type Status string

const (
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Result is the outcome of one pipeline run.
type Result struct {
	Status       Status         `json:"status"`
	ShouldRetry  bool           `json:"should_retry"`
	Output       map[string]any `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorDetails string         `json:"error_details,omitempty"`
	// Suspended marks a completed step that waits for an external actor.
	Suspended bool `json:"suspended,omitempty"`
	// Cancelled marks a failure caused by cancellation or timeout.
	Cancelled bool `json:"cancelled,omitempty"`
	// NextState overrides the binding's default successor state.
	NextState ticket.State `json:"next_state,omitempty"`
	Attempts  int          `json:"attempts"`
}

func Completed(output map[string]any) *Result {
	return &Result{Status: StatusCompleted, Output: output}
}

func Suspended(output map[string]any) *Result {
	return &Result{Status: StatusCompleted, Output: output, Suspended: true}
}

func Failed(msg string) *Result {
	return &Result{Status: StatusFailed, Error: msg}
}

func (r *Result) failed() bool {
	return r == nil || r.Status == StatusFailed
}
