// Package domain contains core concepts of the chat system.
// This file defines identities and the identifiers the core hands around.
// No runtime, network, or UI logic should be added here.
package domain

// Identity is the stable user key issued by the authentication subsystem.
// The core never interprets it.
type Identity string

// ConnectionID is generated once at accept time and never reused.
type ConnectionID string

type ConversationID string

// MessageID is assigned by the store and strictly increases within a conversation.
// It is not unique across conversations.
type MessageID uint64
