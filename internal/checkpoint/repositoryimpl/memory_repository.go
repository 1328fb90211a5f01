package repositoryimpl

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mikaelliljedahl/prfactory/internal/checkpoint"
	"github.com/mikaelliljedahl/prfactory/pkg/cerr"
)

type partitionKey struct {
	ticketID  string
	agentName string
}

type partition struct {
	mu    sync.Mutex
	items map[string]*checkpoint.Checkpoint
}

// MemoryRepository keeps checkpoints in process memory. Each (ticket, agent)
// key owns its own partition lock; the partition index itself is a sync.Map,
// so writers of different keys never wait on each other.
type MemoryRepository struct {
	partitions sync.Map // partitionKey -> *partition
	index      sync.Map // checkpoint id -> partitionKey
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) partition(key partitionKey) *partition {
	p, _ := r.partitions.LoadOrStore(key, &partition{items: make(map[string]*checkpoint.Checkpoint)})
	return p.(*partition)
}

func foreignCheckpoint() error {
	return cerr.NewError(cerr.InvalidArgument, "checkpoint belongs to another ticket or agent", nil)
}

// claim binds id to key in the index, or reports false when another key
// already owns it.
func (r *MemoryRepository) claim(id string, key partitionKey) bool {
	prev, loaded := r.index.LoadOrStore(id, key)
	return !loaded || prev.(partitionKey) == key
}

func (r *MemoryRepository) Save(_ context.Context, c *checkpoint.Checkpoint) error {
	key := partitionKey{ticketID: c.TicketID, agentName: c.AgentName}
	if !r.claim(c.ID, key) {
		return foreignCheckpoint()
	}
	p := r.partition(key)
	p.mu.Lock()
	defer p.mu.Unlock()
	// a concurrent Delete may have released the id since the first claim
	if !r.claim(c.ID, key) {
		return foreignCheckpoint()
	}
	p.items[c.ID] = c.Clone()
	return nil
}

func (r *MemoryRepository) lookup(ticketID, id string) (*partition, error) {
	k, ok := r.index.Load(id)
	if !ok || k.(partitionKey).ticketID != ticketID {
		return nil, cerr.NewError(cerr.NotFound, "checkpoint not found", nil)
	}
	return r.partition(k.(partitionKey)), nil
}

func (r *MemoryRepository) Get(_ context.Context, ticketID, id string) (*checkpoint.Checkpoint, error) {
	p, err := r.lookup(ticketID, id)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.items[id]
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, "checkpoint not found", nil)
	}
	return c.Clone(), nil
}

func (r *MemoryRepository) GetLatest(_ context.Context, ticketID, agentName string) (*checkpoint.Checkpoint, error) {
	v, ok := r.partitions.Load(partitionKey{ticketID: ticketID, agentName: agentName})
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, "checkpoint not found", nil)
	}
	p := v.(*partition)
	p.mu.Lock()
	defer p.mu.Unlock()
	var latest *checkpoint.Checkpoint
	for _, c := range p.items {
		if latest == nil || c.Newer(latest) {
			latest = c
		}
	}
	if latest == nil {
		return nil, cerr.NewError(cerr.NotFound, "checkpoint not found", nil)
	}
	return latest.Clone(), nil
}

func (r *MemoryRepository) collect(match func(partitionKey) bool, keep func(*checkpoint.Checkpoint) bool) []*checkpoint.Checkpoint {
	var out []*checkpoint.Checkpoint
	r.partitions.Range(func(k, v any) bool {
		if !match(k.(partitionKey)) {
			return true
		}
		p := v.(*partition)
		p.mu.Lock()
		for _, c := range p.items {
			if keep(c) {
				out = append(out, c.Clone())
			}
		}
		p.mu.Unlock()
		return true
	})
	sortNewestFirst(out)
	return out
}

func (r *MemoryRepository) GetAll(_ context.Context, ticketID string) ([]*checkpoint.Checkpoint, error) {
	return r.collect(
		func(k partitionKey) bool { return k.ticketID == ticketID },
		func(*checkpoint.Checkpoint) bool { return true },
	), nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, ticketID, id string, status checkpoint.Status) error {
	p, err := r.lookup(ticketID, id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.items[id]
	if !ok {
		return cerr.NewError(cerr.NotFound, "checkpoint not found", nil)
	}
	c.Status = status
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, ticketID, id string) error {
	p, err := r.lookup(ticketID, id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.items, id)
	r.index.Delete(id)
	p.mu.Unlock()
	return nil
}

func (r *MemoryRepository) DeleteAllForTicket(_ context.Context, ticketID string) (int, error) {
	deleted := 0
	r.partitions.Range(func(k, v any) bool {
		if k.(partitionKey).ticketID != ticketID {
			return true
		}
		p := v.(*partition)
		p.mu.Lock()
		for id := range p.items {
			r.index.Delete(id)
			deleted++
		}
		p.items = make(map[string]*checkpoint.Checkpoint)
		p.mu.Unlock()
		return true
	})
	return deleted, nil
}

func (r *MemoryRepository) ListBefore(_ context.Context, cutoff time.Time) ([]*checkpoint.Checkpoint, error) {
	return r.collect(
		func(partitionKey) bool { return true },
		func(c *checkpoint.Checkpoint) bool { return c.Timestamp.Before(cutoff) },
	), nil
}

func sortNewestFirst(cs []*checkpoint.Checkpoint) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Newer(cs[j]) })
}
