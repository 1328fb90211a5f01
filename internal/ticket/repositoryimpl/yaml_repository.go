package repositoryimpl

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mikaelliljedahl/prfactory/internal/ticket"
	"github.com/mikaelliljedahl/prfactory/pkg/cerr"
	"github.com/mikaelliljedahl/prfactory/pkg/storage"
)

const ticketsPrefix = "tickets"

type YAMLRepository struct {
	// mu makes the version check and write of Update atomic.
	mu      sync.Mutex
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", ticketsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, t *ticket.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exists, err := r.storage.Exists(ctx, path(t.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("ticket", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "ticket already exists", nil)
	}
	return r.write(ctx, t)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*ticket.Ticket, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("ticket", err)
	}
	return decode(data)
}

func decode(data []byte) (*ticket.Ticket, error) {
	var t ticket.Ticket
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal ticket: %w", err))
	}
	return &t, nil
}

func (r *YAMLRepository) List(ctx context.Context, state ticket.State, limit, offset int) ([]*ticket.Ticket, int, error) {
	paths, err := r.storage.List(ctx, ticketsPrefix)
	if err != nil {
		return nil, 0, cerr.WrapStorageReadError("tickets", err)
	}

	// ids are ULIDs, so path order is creation order
	sort.Strings(paths)

	var all []*ticket.Ticket
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var t ticket.Ticket
		if err := yaml.Unmarshal(data, &t); err != nil {
			continue
		}
		if state != "" && t.State != state {
			continue
		}
		all = append(all, &t)
	}

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *YAMLRepository) Update(ctx context.Context, t *ticket.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, err := r.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	if cur.Version != t.Version {
		return cerr.NewError(cerr.Aborted, "ticket was modified concurrently",
			fmt.Errorf("ticket %s: stored version %d, update based on %d", t.ID, cur.Version, t.Version))
	}
	t.Version++
	if err := r.write(ctx, t); err != nil {
		t.Version--
		return err
	}
	return nil
}

func (r *YAMLRepository) write(ctx context.Context, t *ticket.Ticket) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal ticket: %w", err))
	}
	if err := r.storage.Write(ctx, path(t.ID), data); err != nil {
		return cerr.WrapStorageWriteError("ticket", err)
	}
	return nil
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.WrapStorageDeleteError("ticket", err)
	}
	return nil
}
