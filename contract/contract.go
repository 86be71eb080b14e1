//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-core/domain"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// ISessionStore owns the Connection -> Identity mapping.
type ISessionStore interface {
	Register(connectionID domain.ConnectionID, identity domain.Identity) error
	Unregister(connectionID domain.ConnectionID) []domain.Identity
	ConnectionsFor(identity domain.Identity) []domain.ConnectionID
	IsOnline(identity domain.Identity) bool
}

// SessionListener receives register/unregister events in the order they happened for an identity.
// It is called while the store holds the identity's lock and must not block.
type SessionListener interface {
	OnSessionEvent(evt domain.SessionEvent)
}

// IMessageStore is the durable persistence collaborator.
type IMessageStore interface {
	Append(ctx context.Context, conversationID domain.ConversationID, sender domain.Identity, payload string) (domain.Message, error)
	History(ctx context.Context, conversationID domain.ConversationID, before *domain.MessageID, limit int) ([]domain.Message, error)
	MarkDelivered(ctx context.Context, conversationID domain.ConversationID, messageID domain.MessageID, identity domain.Identity) error
	MarkRead(ctx context.Context, conversationID domain.ConversationID, messageID domain.MessageID, identity domain.Identity) error
	ParticipantsOf(ctx context.Context, conversationID domain.ConversationID) ([]domain.Identity, error)
}

// IConversationDirectory is the read/write side of conversation reference data.
// Writes come from the external CRUD surface (tools and tests here).
type IConversationDirectory interface {
	SaveConversation(ctx context.Context, conversation domain.Conversation) error
	ConversationsOf(ctx context.Context, identity domain.Identity) ([]domain.ConversationID, error)
}

// IPusher delivers one outbound event to one live connection.
type IPusher interface {
	Push(ctx context.Context, connectionID domain.ConnectionID, evt domain.Outbound) error
}

// IdentityVerifier is the external authentication collaborator.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, credential string) (domain.Identity, error)
}

// IBroadcaster announces membership changes made by the CRUD surface.
// Messages never travel through it: the process owning the message store delivers them.
type IBroadcaster interface {
	PublishMembershipChanged(ctx context.Context, conversationID domain.ConversationID) error
	SubscribeMembershipChanged(handler func(conversationID domain.ConversationID)) (func() error, error)
}

// IRouter is the Conversation Router as seen by the gateway and the workers.
type IRouter interface {
	Send(ctx context.Context, origin domain.ConnectionID, sender domain.Identity, cmd domain.SendMessage) (domain.Message, error)
	Acknowledge(ack domain.Ack) bool
	History(ctx context.Context, identity domain.Identity, conversationID domain.ConversationID, before *domain.MessageID, limit int) ([]domain.Message, error)
	PeersOf(ctx context.Context, identity domain.Identity) ([]domain.Identity, error)
	InvalidateParticipants(conversationID domain.ConversationID)
}

// Transport is one authenticated bidirectional channel, already decoded into domain events.
type Transport interface {
	Recv() (domain.Inbound, error)
	Send(evt domain.Outbound) error
}
