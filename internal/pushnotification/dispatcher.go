package pushnotification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikaelliljedahl/prfactory/internal/eventbus"
	"github.com/mikaelliljedahl/prfactory/internal/ticket"
)

// Dispatcher turns lifecycle events that need a human into push alerts: a
// suspended step waits for an answer or review, and a failed ticket needs
// attention.
type Dispatcher struct {
	eventBus   *eventbus.Bus
	ticketRepo ticket.Repository
	sender     *Sender
}

func NewDispatcher(eventBus *eventbus.Bus, ticketRepo ticket.Repository, sender *Sender) *Dispatcher {
	return &Dispatcher{
		eventBus:   eventBus,
		ticketRepo: ticketRepo,
		sender:     sender,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.eventBus.Subscribe(256)
	defer d.eventBus.Unsubscribe(subID)

	slog.Info("push notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("push notification dispatcher stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if payload := d.payload(ctx, event); payload != nil {
				d.sender.SendToAll(ctx, event.TicketID, payload)
			}
		}
	}
}

func (d *Dispatcher) payload(ctx context.Context, event *eventbus.Event) *NotificationPayload {
	var title string
	switch event.Type {
	case eventbus.EventRunSuspended:
		title = "Waiting for you"
	case eventbus.EventRecoveryPlanned:
		if event.Metadata["action"] != "Fail" {
			return nil
		}
		title = "Workflow failed"
	default:
		return nil
	}

	body := fmt.Sprintf("Ticket %s", event.TicketID)
	t, err := d.ticketRepo.Get(ctx, event.TicketID)
	if err != nil {
		slog.WarnContext(ctx, "push dispatcher: failed to get ticket", "ticket_id", event.TicketID, "error", err)
	} else {
		body = fmt.Sprintf("%s: %s", t.Key, t.Title)
		if event.Type == eventbus.EventRunSuspended {
			body = fmt.Sprintf("%s is %s", body, t.State)
		}
	}
	if event.Type == eventbus.EventRecoveryPlanned && event.Message != "" {
		body = body + "\n" + event.Message
	}

	return &NotificationPayload{
		Title: title,
		Body:  body,
		URL:   "/tickets/" + event.TicketID,
		Tag:   event.TicketID,
	}
}
