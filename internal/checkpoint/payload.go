package checkpoint

import (
	"encoding/json"
	"fmt"
)

// Payload is the serialized content of a checkpoint.
type Payload struct {
	State        map[string]any `json:"state"`
	Error        string         `json:"error,omitempty"`
	ErrorDetails string         `json:"error_details,omitempty"`
	Reason       string         `json:"reason"`
	Attempt      int            `json:"attempt,omitempty"`
}

func EncodePayload(p *Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint payload: %w", err)
	}
	return data, nil
}

func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint payload: %w", err)
	}
	if p.State == nil {
		p.State = map[string]any{}
	}
	return &p, nil
}
