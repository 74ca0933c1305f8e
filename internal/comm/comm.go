package comm

import (
	"time"
)

const (
	EventCardCreated   = "card.created"
	EventCardsReplaced = "cards.replaced"
	EventCardUpdated   = "card.updated"
	EventCardDeleted   = "card.deleted"
)

// CardEvent announces a completed mutation of the card collection.
// It is pushed to websocket clients and published on NATS.
type CardEvent struct {
	Type      string    `json:"type"`
	CardID    string    `json:"card_id,omitempty"`
	Count     int       `json:"count"`    // collection size after the change
	Matched   int       `json:"matched"`  // cards touched by update/delete
	Instance  string    `json:"instance"` // service instance that made the change
	Timestamp time.Time `json:"timestamp"`
}
