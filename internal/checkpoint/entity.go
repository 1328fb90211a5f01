package checkpoint

import (
	"time"

	"github.com/oklog/ulid/v2"
)

type Status string

const (
	StatusActive  Status = "Active"
	StatusResumed Status = "Resumed"
	StatusExpired Status = "Expired"
	StatusDeleted Status = "Deleted"
)

// Checkpoint is a snapshot of an agent run that can be resumed later.
type Checkpoint struct {
	ID        string    `yaml:"id" json:"id"`
	TicketID  string    `yaml:"ticket_id" json:"ticket_id"`
	AgentName string    `yaml:"agent_name" json:"agent_name"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	Status    Status    `yaml:"status" json:"status"`
	Payload   []byte    `yaml:"payload" json:"payload"`
}

func New(ticketID, agentName string, payload []byte) *Checkpoint {
	return &Checkpoint{
		ID:        ulid.Make().String(),
		TicketID:  ticketID,
		AgentName: agentName,
		Timestamp: time.Now().UTC(),
		Status:    StatusActive,
		Payload:   payload,
	}
}

// Newer reports whether c sorts after o: later timestamp, ties broken by id.
func (c *Checkpoint) Newer(o *Checkpoint) bool {
	if !c.Timestamp.Equal(o.Timestamp) {
		return c.Timestamp.After(o.Timestamp)
	}
	return c.ID > o.ID
}

func (c *Checkpoint) Clone() *Checkpoint {
	n := *c
	n.Payload = append([]byte(nil), c.Payload...)
	return &n
}
