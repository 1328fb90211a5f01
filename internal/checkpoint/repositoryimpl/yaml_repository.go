package repositoryimpl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mikaelliljedahl/prfactory/internal/checkpoint"
	"github.com/mikaelliljedahl/prfactory/pkg/cerr"
	"github.com/mikaelliljedahl/prfactory/pkg/storage"
)

const checkpointsPrefix = "checkpoints"

// document is the on-disk form; the payload is JSON text so it is stored as a
// readable block scalar instead of a byte sequence.
type document struct {
	ID        string            `yaml:"id"`
	TicketID  string            `yaml:"ticket_id"`
	AgentName string            `yaml:"agent_name"`
	Timestamp time.Time         `yaml:"timestamp"`
	Status    checkpoint.Status `yaml:"status"`
	Payload   string            `yaml:"payload"`
}

// YAMLRepository stores one YAML document per checkpoint on a storage.Storage,
// laid out as checkpoints/<ticket>/<checkpoint>.yaml. Atomicity of each write
// comes from the storage backend.
type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func ticketPrefix(ticketID string) string {
	return fmt.Sprintf("%s/%s", checkpointsPrefix, ticketID)
}

func path(ticketID, id string) string {
	return fmt.Sprintf("%s/%s.yaml", ticketPrefix(ticketID), id)
}

func (r *YAMLRepository) Save(ctx context.Context, c *checkpoint.Checkpoint) error {
	if existing, err := r.Get(ctx, c.TicketID, c.ID); err == nil && existing.AgentName != c.AgentName {
		return cerr.NewError(cerr.InvalidArgument, "checkpoint belongs to another agent", nil)
	}
	data, err := yaml.Marshal(&document{
		ID:        c.ID,
		TicketID:  c.TicketID,
		AgentName: c.AgentName,
		Timestamp: c.Timestamp,
		Status:    c.Status,
		Payload:   string(c.Payload),
	})
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal checkpoint: %w", err))
	}
	if err := r.storage.Write(ctx, path(c.TicketID, c.ID), data); err != nil {
		return cerr.WrapStorageWriteError("checkpoint", err)
	}
	return nil
}

func (r *YAMLRepository) read(ctx context.Context, p string) (*checkpoint.Checkpoint, error) {
	data, err := r.storage.Read(ctx, p)
	if err != nil {
		return nil, cerr.WrapStorageReadError("checkpoint", err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal checkpoint: %w", err))
	}
	return &checkpoint.Checkpoint{
		ID:        doc.ID,
		TicketID:  doc.TicketID,
		AgentName: doc.AgentName,
		Timestamp: doc.Timestamp,
		Status:    doc.Status,
		Payload:   []byte(doc.Payload),
	}, nil
}

func (r *YAMLRepository) Get(ctx context.Context, ticketID, id string) (*checkpoint.Checkpoint, error) {
	return r.read(ctx, path(ticketID, id))
}

func (r *YAMLRepository) listTicket(ctx context.Context, ticketID string) ([]*checkpoint.Checkpoint, error) {
	paths, err := r.storage.List(ctx, ticketPrefix(ticketID))
	if err != nil {
		return nil, cerr.WrapStorageReadError("checkpoints", err)
	}
	out := make([]*checkpoint.Checkpoint, 0, len(paths))
	for _, p := range paths {
		if !strings.HasSuffix(p, ".yaml") {
			continue
		}
		c, err := r.read(ctx, p)
		if err != nil {
			// deleted between List and Read
			if cerr.IsCode(err, cerr.NotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, c)
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *YAMLRepository) GetLatest(ctx context.Context, ticketID, agentName string) (*checkpoint.Checkpoint, error) {
	all, err := r.listTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	for _, c := range all {
		if c.AgentName == agentName {
			return c, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "checkpoint not found", nil)
}

func (r *YAMLRepository) GetAll(ctx context.Context, ticketID string) ([]*checkpoint.Checkpoint, error) {
	return r.listTicket(ctx, ticketID)
}

func (r *YAMLRepository) UpdateStatus(ctx context.Context, ticketID, id string, status checkpoint.Status) error {
	c, err := r.Get(ctx, ticketID, id)
	if err != nil {
		return err
	}
	c.Status = status
	return r.Save(ctx, c)
}

func (r *YAMLRepository) Delete(ctx context.Context, ticketID, id string) error {
	if err := r.storage.Delete(ctx, path(ticketID, id)); err != nil {
		return cerr.WrapStorageDeleteError("checkpoint", err)
	}
	return nil
}

func (r *YAMLRepository) DeleteAllForTicket(ctx context.Context, ticketID string) (int, error) {
	paths, err := r.storage.List(ctx, ticketPrefix(ticketID))
	if err != nil {
		return 0, cerr.WrapStorageReadError("checkpoints", err)
	}
	deleted := 0
	for _, p := range paths {
		if err := r.storage.Delete(ctx, p); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return deleted, cerr.WrapStorageDeleteError("checkpoint", err)
		}
		deleted++
	}
	return deleted, nil
}

func (r *YAMLRepository) ListBefore(ctx context.Context, cutoff time.Time) ([]*checkpoint.Checkpoint, error) {
	tickets, err := r.storage.ListPrefixes(ctx, checkpointsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("checkpoints", err)
	}
	var out []*checkpoint.Checkpoint
	for _, prefix := range tickets {
		ticketID := strings.TrimPrefix(prefix, checkpointsPrefix+"/")
		cs, err := r.listTicket(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		for _, c := range cs {
			if c.Timestamp.Before(cutoff) {
				out = append(out, c)
			}
		}
	}
	sortNewestFirst(out)
	return out, nil
}
