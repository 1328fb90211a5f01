package checkpoint

import (
	"context"
	"time"
)

// Repository stores checkpoint history per (ticket, agent). Save upserts by
// checkpoint id and GetLatest returns the newest entry for the key. Writers
// of different keys must not serialize on each other.
type Repository interface {
	Save(ctx context.Context, c *Checkpoint) error
	Get(ctx context.Context, ticketID, id string) (*Checkpoint, error)
	GetLatest(ctx context.Context, ticketID, agentName string) (*Checkpoint, error)
	// GetAll returns every checkpoint of a ticket, newest first.
	GetAll(ctx context.Context, ticketID string) ([]*Checkpoint, error)
	UpdateStatus(ctx context.Context, ticketID, id string, status Status) error
	Delete(ctx context.Context, ticketID, id string) error
	DeleteAllForTicket(ctx context.Context, ticketID string) (int, error)
	// ListBefore returns checkpoints with a timestamp before cutoff.
	ListBefore(ctx context.Context, cutoff time.Time) ([]*Checkpoint, error)
}
