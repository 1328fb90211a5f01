package repositoryimpl

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/mikaelliljedahl/prfactory/internal/pushsubscription"
	"github.com/mikaelliljedahl/prfactory/pkg/cerr"
	"github.com/mikaelliljedahl/prfactory/pkg/storage"
)

const subscriptionsPrefix = "push_subscriptions"

// YAMLRepository keeps one YAML document per subscription, named by its id.
type YAMLRepository struct {
	storage storage.Storage
	// mu makes the endpoint lookup and write in Save one step.
	mu sync.Mutex
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func docPath(id string) string {
	return fmt.Sprintf("%s/%s.yaml", subscriptionsPrefix, id)
}

func (r *YAMLRepository) Save(ctx context.Context, s *pushsubscription.Subscription) (*pushsubscription.Subscription, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.findByEndpoint(ctx, s.Endpoint)
	if err != nil {
		return nil, false, err
	}
	stored := *s
	created := existing == nil
	if !created {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else if stored.ID == "" {
		stored.ID = ulid.Make().String()
	}

	data, err := yaml.Marshal(&stored)
	if err != nil {
		return nil, false, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal push subscription: %w", err))
	}
	if err := r.storage.Write(ctx, docPath(stored.ID), data); err != nil {
		return nil, false, cerr.WrapStorageWriteError("push_subscription", err)
	}
	return &stored, created, nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*pushsubscription.Subscription, error) {
	data, err := r.storage.Read(ctx, docPath(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("push_subscription", err)
	}
	return decode(data)
}

func decode(data []byte) (*pushsubscription.Subscription, error) {
	var s pushsubscription.Subscription
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal push subscription: %w", err))
	}
	return &s, nil
}

// scan visits every readable subscription in id order until visit returns
// false. Unreadable documents are skipped.
func (r *YAMLRepository) scan(ctx context.Context, visit func(*pushsubscription.Subscription) bool) error {
	paths, err := r.storage.List(ctx, subscriptionsPrefix)
	if err != nil {
		return cerr.WrapStorageReadError("push_subscriptions", err)
	}
	sort.Strings(paths)
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		s, err := decode(data)
		if err != nil {
			continue
		}
		if !visit(s) {
			return nil
		}
	}
	return nil
}

func (r *YAMLRepository) List(ctx context.Context, ticketID string) ([]*pushsubscription.Subscription, error) {
	var out []*pushsubscription.Subscription
	err := r.scan(ctx, func(s *pushsubscription.Subscription) bool {
		if ticketID == "" || s.Wants(ticketID) {
			out = append(out, s)
		}
		return true
	})
	return out, err
}

func (r *YAMLRepository) findByEndpoint(ctx context.Context, endpoint string) (*pushsubscription.Subscription, error) {
	var found *pushsubscription.Subscription
	err := r.scan(ctx, func(s *pushsubscription.Subscription) bool {
		if s.Endpoint == endpoint {
			found = s
			return false
		}
		return true
	})
	return found, err
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, docPath(id)); err != nil {
		return cerr.WrapStorageDeleteError("push_subscription", err)
	}
	return nil
}

func (r *YAMLRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.findByEndpoint(ctx, endpoint)
	if err != nil {
		return err
	}
	if s == nil {
		return cerr.NewError(cerr.NotFound, "push subscription not found", nil)
	}
	return r.Delete(ctx, s.ID)
}
