package ticket

import (
	"context"

	"github.com/mikaelliljedahl/prfactory/pkg/cerr"
)

type Repository interface {
	Create(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id string) (*Ticket, error)
	List(ctx context.Context, state State, limit, offset int) ([]*Ticket, int, error)
	// Update stores t if the stored ticket still has t.Version and then bumps
	// t.Version. A stale version fails with cerr.Aborted.
	Update(ctx context.Context, t *Ticket) error
	Delete(ctx context.Context, id string) error
}

const maxModifyAttempts = 5

// Modify reads the ticket, lets fn change it and writes it back. When another
// writer updated the ticket in between, it reads again and calls fn again.
// An error from fn aborts without writing and is returned with the ticket fn
// saw.
func Modify(ctx context.Context, repo Repository, id string, fn func(t *Ticket) error) (*Ticket, error) {
	for range maxModifyAttempts {
		t, err := repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(t); err != nil {
			return t, err
		}
		err = repo.Update(ctx, t)
		if err == nil {
			return t, nil
		}
		if !cerr.IsCode(err, cerr.Aborted) {
			return nil, err
		}
	}
	return nil, cerr.NewError(cerr.Aborted, "ticket is being modified concurrently", nil)
}
