package entity

import (
	"sort"
	"strings"
	"time"
)

type ChatStatus string

const (
	ChatStatusActive   ChatStatus = "active"
	ChatStatusArchived ChatStatus = "archived"
)

// Chat is a two-party conversation, optionally about a property listing.
// Participants is an array rather than a slice so a chat value can never have
// its pair changed after creation.
type Chat struct {
	ID           string     `json:"id"`
	Participants [2]string  `json:"participants"`
	PropertyID   string     `json:"property_id,omitempty"`
	Status       ChatStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (c *Chat) IsActive() bool {
	return c.Status == ChatStatusActive
}

func (c *Chat) HasParticipant(userID string) bool {
	return userID != "" && (c.Participants[0] == userID || c.Participants[1] == userID)
}

// Counterpart returns the other participant, or "" when userID is not in the chat.
func (c *Chat) Counterpart(userID string) string {
	switch userID {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	}
	return ""
}

func (c *Chat) PairKey() string {
	return PairKey(c.Participants)
}

// PairKey is the order-independent identity of a participant pair.
func PairKey(participants [2]string) string {
	p := []string{participants[0], participants[1]}
	sort.Strings(p)
	return strings.Join(p, "|")
}
