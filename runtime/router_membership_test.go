package runtime

import (
	"chat-core/domain"
	"chat-core/infrastructure/broker"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouter_Membership_Change_Refreshes_The_Cache(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)
	req.NoError(store.SaveConversation(ctx, domain.NewConversation("c1", "alice", "bob")))
	hub := broker.NewLocalHub()
	sessions := NewSessionStore(nil)
	router := newTestRouter(t, store, store, sessions, newRecordingPusher())
	_, err := hub.Instance("gateway").SubscribeMembershipChanged(router.InvalidateParticipants)
	req.NoError(err)

	// Given carol is not yet a member (and the cache knows it)
	_, err = router.Send(ctx, "carol-1", "carol", domain.SendMessage{ConversationID: "c1", Payload: "early"})
	req.Error(err)

	// When the CRUD surface adds her and announces it
	req.NoError(store.SaveConversation(ctx, domain.NewConversation("c1", "alice", "bob", "carol")))
	req.NoError(hub.Instance("crud").PublishMembershipChanged(ctx, "c1"))

	// Then her send is accepted
	_, err = router.Send(ctx, "carol-1", "carol", domain.SendMessage{ConversationID: "c1", Payload: "hello"})
	req.NoError(err)
}
