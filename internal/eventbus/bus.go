package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Bus fans events out to in-process subscribers. Delivery is best-effort: a
// subscriber whose buffer is full misses the event and the publisher never
// blocks.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan *Event),
	}
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan *Event) {
	id := ulid.Make().String()
	ch := make(chan *Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Publish satisfies the pipeline's publisher boundary. It never fails.
func (b *Bus) Publish(_ context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// buffer full, drop event for this subscriber
		}
	}
	return nil
}

func (b *Bus) PublishNew(ctx context.Context, eventType EventType, ticketID, message string, metadata map[string]string) {
	_ = b.Publish(ctx, &Event{
		Type:     eventType,
		TicketID: ticketID,
		Message:  message,
		Metadata: metadata,
	})
}
