package workers

import (
	"chat-core/contract"
	"chat-core/domain"
	"context"
	"fmt"
	"log/slog"
)

// Ensure *BroadcastListener implements the contract.Worker interface at compile time.
var _ contract.Worker = (*BroadcastListener)(nil)

// BroadcastListener drops cached participants when the CRUD surface announces
// that a conversation's membership changed.
type BroadcastListener struct {
	log         *slog.Logger
	broadcaster contract.IBroadcaster
	router      contract.IRouter
}

func NewBroadcastListener(log *slog.Logger, broadcaster contract.IBroadcaster, router contract.IRouter) *BroadcastListener {
	return &BroadcastListener{log: log, broadcaster: broadcaster, router: router}
}

func (w *BroadcastListener) Run(ctx context.Context) error {
	unsubscribeMembership, err := w.broadcaster.SubscribeMembershipChanged(func(conversationID domain.ConversationID) {
		w.log.Debug("Membership changed", "conversation_id", conversationID)
		w.router.InvalidateParticipants(conversationID)
	})
	if err != nil {
		return fmt.Errorf("subscribe membership: %w", err)
	}
	defer w.unsubscribe("membership", unsubscribeMembership)

	<-ctx.Done()
	w.log.Debug("Stopping broadcast listener")
	return nil
}

func (w *BroadcastListener) unsubscribe(name string, unsubscribe func() error) {
	if err := unsubscribe(); err != nil {
		w.log.Warn("Unable to unsubscribe", "subscription", name, "error", err)
	}
}
