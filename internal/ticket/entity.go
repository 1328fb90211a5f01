package ticket

import "time"

type Ticket struct {
	ID            string            `yaml:"id" json:"id"`
	Key           string            `yaml:"key" json:"key"`
	Title         string            `yaml:"title" json:"title"`
	Description   string            `yaml:"description" json:"description"`
	RepositoryURL string            `yaml:"repository_url" json:"repository_url"`
	State         State             `yaml:"state" json:"state"`
	RetryCount    int               `yaml:"retry_count" json:"retry_count"`
	LastError     string            `yaml:"last_error,omitempty" json:"last_error,omitempty"`
	Metadata      map[string]string `yaml:"metadata" json:"metadata"`
	History       []Transition      `yaml:"history" json:"history"`
	CreatedAt     time.Time         `yaml:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `yaml:"updated_at" json:"updated_at"`
	CompletedAt   *time.Time        `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
	// Version is bumped by every successful Update.
	Version int64 `yaml:"version" json:"version"`
}

// Transition records one applied state change.
type Transition struct {
	From   State     `yaml:"from" json:"from"`
	To     State     `yaml:"to" json:"to"`
	Reason string    `yaml:"reason,omitempty" json:"reason,omitempty"`
	At     time.Time `yaml:"at" json:"at"`
}

func (t *Ticket) Clone() *Ticket {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	c.History = append([]Transition(nil), t.History...)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
