// Package domain contains core concepts of the chat system.
// This file defines Message records and their per-recipient delivery state.
// The payload is immutable once appended; only delivery state moves.
package domain

import (
	"time"
)

type DeliveryState int

const (
	Pending DeliveryState = iota
	Delivered
	Read
)

func (d DeliveryState) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Read:
		return "read"
	default:
		return "pending"
	}
}

// Advance returns the furthest of the two states.
// Delivery state never goes backwards: a late "delivered" ack cannot undo a "read".
func (d DeliveryState) Advance(next DeliveryState) DeliveryState {
	if next > d {
		return next
	}
	return d
}

type Message struct {
	ID             MessageID
	ConversationID ConversationID
	Sender         Identity
	Payload        string
	ReceivedAt     time.Time
	Delivery       map[Identity]DeliveryState
}

// NewPendingDelivery builds the initial delivery map: every participant but the sender is pending.
func NewPendingDelivery(sender Identity, participants []Identity) map[Identity]DeliveryState {
	delivery := make(map[Identity]DeliveryState, len(participants))
	for _, p := range participants {
		if p == sender {
			continue
		}
		delivery[p] = Pending
	}
	return delivery
}
