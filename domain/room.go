package domain

import "slices"

type ConversationKind string

const (
	Direct ConversationKind = "direct"
	Group  ConversationKind = "group"
)

// Conversation is reference data owned by the external CRUD surface.
// The core reads it and caches its participants.
type Conversation struct {
	ID           ConversationID
	Participants []Identity
}

func NewConversation(id ConversationID, participants ...Identity) Conversation {
	return Conversation{ID: id, Participants: participants}
}

func (c Conversation) Kind() ConversationKind {
	if len(c.Participants) <= 2 {
		return Direct
	}
	return Group
}

func (c Conversation) Has(identity Identity) bool {
	return slices.Contains(c.Participants, identity)
}
