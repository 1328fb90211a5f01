package eventbus

import "time"

type EventType string

const (
	// Lifecycle events emitted by the agent pipeline.
	EventRunSuspended EventType = "run.suspended"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"
	EventRunCancelled EventType = "run.cancelled"

	EventTransitionApplied EventType = "ticket.transition_applied"
	EventRecoveryPlanned   EventType = "ticket.recovery_planned"
	EventTicketDeleted     EventType = "ticket.deleted"
)

type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	TicketID  string            `json:"ticket_id"`
	AgentName string            `json:"agent_name,omitempty"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
