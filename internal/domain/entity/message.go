package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeText           MessageType = "message"
	MessageTypeRentalRequest  MessageType = "rental_request"
	MessageTypeRentalResponse MessageType = "rental_response"
)

// Payload is the kind-specific part of a message. A nil Payload is a plain
// text message.
type Payload interface {
	Kind() MessageType
	validate() error
}

// RentalRequest is sent by a tenant asking to rent the chat's property.
type RentalRequest struct {
	PropertyID string    `json:"property_id"`
	MoveIn     time.Time `json:"move_in"`
	MoveOut    time.Time `json:"move_out"`
	Occupants  int       `json:"occupants"`
}

func (*RentalRequest) Kind() MessageType { return MessageTypeRentalRequest }

func (r *RentalRequest) validate() error {
	if r.PropertyID == "" {
		return fmt.Errorf("rental request needs a property")
	}
	if r.MoveIn.IsZero() || !r.MoveOut.After(r.MoveIn) {
		return fmt.Errorf("move-out date must be after move-in date")
	}
	if r.Occupants < 1 {
		return fmt.Errorf("rental request needs at least one occupant")
	}
	return nil
}

// RentalResponse answers an earlier rental request message.
type RentalResponse struct {
	RequestID string `json:"request_id"`
	Accepted  bool   `json:"accepted"`
}

func (*RentalResponse) Kind() MessageType { return MessageTypeRentalResponse }

func (r *RentalResponse) validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("rental response must reference a request")
	}
	return nil
}

// Message rows are append-only; Read is the only field that ever changes, and
// only from false to true.
type Message struct {
	ID         string
	ChatID     string
	SenderID   string
	ReceiverID string
	Content    string
	Payload    Payload
	Read       bool
	CreatedAt  time.Time

	// ClientID is the sender-generated idempotency key.
	ClientID string
	// Pending is set on local optimistic entries until the row is confirmed.
	Pending bool
}

func (m *Message) Type() MessageType {
	if m.Payload == nil {
		return MessageTypeText
	}
	return m.Payload.Kind()
}

func (m *Message) Validate() error {
	if m.ChatID == "" {
		return fmt.Errorf("chat id is required")
	}
	if m.SenderID == "" || m.ReceiverID == "" {
		return fmt.Errorf("sender and receiver are required")
	}
	if m.SenderID == m.ReceiverID {
		return fmt.Errorf("sender and receiver must differ")
	}
	if m.Payload == nil {
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("message content is required")
		}
		return nil
	}
	return m.Payload.validate()
}

// Clone returns a copy that shares no mutable state with m.
func (m *Message) Clone() *Message {
	c := *m
	switch p := m.Payload.(type) {
	case *RentalRequest:
		cp := *p
		c.Payload = &cp
	case *RentalResponse:
		cp := *p
		c.Payload = &cp
	}
	return &c
}

// EncodePayload returns the JSON form of p, or nil for plain messages.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func DecodePayload(t MessageType, raw []byte) (Payload, error) {
	switch t {
	case MessageTypeText, "":
		return nil, nil
	case MessageTypeRentalRequest:
		var r RentalRequest
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode rental request: %w", err)
		}
		return &r, nil
	case MessageTypeRentalResponse:
		var r RentalResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode rental response: %w", err)
		}
		return &r, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", t)
	}
}

type messageJSON struct {
	ID         string          `json:"id"`
	ChatID     string          `json:"chat_id"`
	SenderID   string          `json:"sender_id"`
	ReceiverID string          `json:"receiver_id"`
	Content    string          `json:"content"`
	Type       MessageType     `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Read       bool            `json:"read"`
	CreatedAt  time.Time       `json:"created_at"`
	ClientID   string          `json:"client_id,omitempty"`
	Pending    bool            `json:"pending,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	raw, err := EncodePayload(m.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Type:       m.Type(),
		Payload:    raw,
		Read:       m.Read,
		CreatedAt:  m.CreatedAt,
		ClientID:   m.ClientID,
		Pending:    m.Pending,
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		return err
	}
	*m = Message{
		ID:         w.ID,
		ChatID:     w.ChatID,
		SenderID:   w.SenderID,
		ReceiverID: w.ReceiverID,
		Content:    w.Content,
		Payload:    payload,
		Read:       w.Read,
		CreatedAt:  w.CreatedAt,
		ClientID:   w.ClientID,
		Pending:    w.Pending,
	}
	return nil
}
