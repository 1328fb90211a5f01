package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mikaelliljedahl/prfactory/internal/eventbus"
)

// Conn is the subset of *nats.Conn the forwarder needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Connect dials a NATS server with reconnects enabled for the lifetime of the
// process.
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}

// Forwarder republishes bus events on NATS as JSON under
// <prefix>.<event type>, e.g. prfactory.events.run.failed.
type Forwarder struct {
	eventBus *eventbus.Bus
	conn     Conn
	prefix   string
}

func NewForwarder(eventBus *eventbus.Bus, conn Conn, prefix string) *Forwarder {
	return &Forwarder{eventBus: eventBus, conn: conn, prefix: prefix}
}

func (f *Forwarder) Subject(t eventbus.EventType) string {
	if f.prefix == "" {
		return string(t)
	}
	return f.prefix + "." + string(t)
}

// Start forwards events until ctx is done, then drains the connection.
func (f *Forwarder) Start(ctx context.Context) {
	subID, ch := f.eventBus.Subscribe(256)
	defer f.eventBus.Unsubscribe(subID)

	slog.Info("nats forwarder started", "prefix", f.prefix)
	defer func() {
		if err := f.conn.Drain(); err != nil {
			slog.Warn("failed to drain nats connection", "error", err)
		}
		slog.Info("nats forwarder stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			f.forward(ev)
		}
	}
}

func (f *Forwarder) forward(ev *eventbus.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("nats forwarder: failed to marshal event", "id", ev.ID, "error", err)
		return
	}
	if err := f.conn.Publish(f.Subject(ev.Type), data); err != nil {
		slog.Warn("nats forwarder: failed to publish", "id", ev.ID, "type", ev.Type, "error", err)
	}
}
