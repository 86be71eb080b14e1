package domain

import "time"

// Inbound is the closed set of events a client may send once authenticated.
type Inbound interface {
	inbound()
}

type SendMessage struct {
	ConversationID ConversationID `validate:"required,max=128,excludes=:"`
	Payload        string         `validate:"required"`
	ClientRef      string         `validate:"max=64"`
}

type Heartbeat struct{}

type AckDelivered struct {
	ConversationID ConversationID `validate:"required,max=128,excludes=:"`
	MessageID      MessageID      `validate:"gt=0"`
}

type AckRead struct {
	ConversationID ConversationID `validate:"required,max=128,excludes=:"`
	MessageID      MessageID      `validate:"gt=0"`
}

func (SendMessage) inbound()  {}
func (Heartbeat) inbound()    {}
func (AckDelivered) inbound() {}
func (AckRead) inbound()      {}

// Outbound is the closed set of events the gateway pushes to a client.
type Outbound interface {
	outbound()
}

type MessageEvent struct {
	Message Message
}

type PresenceEvent struct {
	Identity Identity
	State    PresenceState
	LastSeen time.Time
}

// SentEvent acknowledges a durable append to the originating connection.
type SentEvent struct {
	ClientRef      string
	ConversationID ConversationID
	MessageID      MessageID
	ReceivedAt     time.Time
}

type ErrorEvent struct {
	Code           string
	Reason         string
	ClientRef      string
	ConversationID ConversationID
	MessageID      *MessageID
}

func (MessageEvent) outbound()  {}
func (PresenceEvent) outbound() {}
func (SentEvent) outbound()     {}
func (ErrorEvent) outbound()    {}

type AckKind int

const (
	AckKindDelivered AckKind = iota
	AckKindRead
)

// Ack is a queued delivery-state update for one recipient.
type Ack struct {
	Kind           AckKind
	ConversationID ConversationID
	MessageID      MessageID
	Identity       Identity
}
