package broker

import (
	"chat-core/contract"
	"chat-core/domain"
	"context"
	"sync"

	"github.com/google/uuid"
)

// LocalHub delivers membership changes in process. It stands in for NATS when no
// NATS_URL is configured: the CRUD surface then runs inside the gateway process.
type LocalHub struct {
	mu         sync.RWMutex
	membership map[string]func(domain.ConversationID)
}

func NewLocalHub() *LocalHub {
	return &LocalHub{membership: make(map[string]func(domain.ConversationID))}
}

// Instance returns the broadcaster seen by one publisher or subscriber.
func (h *LocalHub) Instance(instanceID string) *LocalBroker {
	return &LocalBroker{hub: h, instanceID: instanceID}
}

// Ensure *LocalBroker implements the contract.IBroadcaster interface at compile time.
var _ contract.IBroadcaster = (*LocalBroker)(nil)

type LocalBroker struct {
	hub        *LocalHub
	instanceID string
}

// PublishMembershipChanged calls every subscriber synchronously, the publisher's own included.
func (b *LocalBroker) PublishMembershipChanged(_ context.Context, conversationID domain.ConversationID) error {
	b.hub.mu.RLock()
	targets := make([]func(domain.ConversationID), 0, len(b.hub.membership))
	for _, handler := range b.hub.membership {
		targets = append(targets, handler)
	}
	b.hub.mu.RUnlock()
	for _, handler := range targets {
		handler(conversationID)
	}
	return nil
}

func (b *LocalBroker) SubscribeMembershipChanged(handler func(conversationID domain.ConversationID)) (func() error, error) {
	key := b.instanceID + "/" + uuid.NewString()
	b.hub.mu.Lock()
	b.hub.membership[key] = handler
	b.hub.mu.Unlock()
	return func() error {
		b.hub.mu.Lock()
		delete(b.hub.membership, key)
		b.hub.mu.Unlock()
		return nil
	}, nil
}
