package pushsubscription

import "context"

// Repository stores Web Push subscriptions. An endpoint is unique: saving a
// subscription for a known endpoint updates the stored one in place.
type Repository interface {
	// Save upserts s by endpoint. It returns the stored subscription and
	// whether it was newly created.
	Save(ctx context.Context, s *Subscription) (*Subscription, bool, error)
	Get(ctx context.Context, id string) (*Subscription, error)
	// List returns the subscriptions that want alerts for ticketID, oldest
	// first. An empty ticketID returns every subscription.
	List(ctx context.Context, ticketID string) ([]*Subscription, error)
	Delete(ctx context.Context, id string) error
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}
