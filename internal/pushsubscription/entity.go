package pushsubscription

import "time"

// Subscription is a browser Web Push endpoint that receives workflow alerts.
type Subscription struct {
	ID        string    `yaml:"id" json:"id"`
	Endpoint  string    `yaml:"endpoint" json:"endpoint"`
	P256dhKey string    `yaml:"p256dh_key" json:"p256dh_key"`
	AuthKey   string    `yaml:"auth_key" json:"auth_key"`
	// TicketID limits the subscription to one ticket. Empty means all tickets.
	TicketID  string    `yaml:"ticket_id,omitempty" json:"ticket_id,omitempty"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// Wants reports whether the subscription should receive alerts for ticketID.
func (s *Subscription) Wants(ticketID string) bool {
	return s.TicketID == "" || s.TicketID == ticketID
}
