package workers

import (
	"chat-core/domain"
	"chat-core/mocks"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestBroadcastListener_Invalidates_Changed_Membership(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	broadcaster := mocks.NewMockIBroadcaster(ctrl)
	router := mocks.NewMockIRouter(ctrl)
	listener := NewBroadcastListener(logs.GetLoggerFromLevel(slog.LevelDebug), broadcaster, router)

	var onMembership func(domain.ConversationID)
	subscribed := make(chan struct{})
	broadcaster.EXPECT().SubscribeMembershipChanged(gomock.Any()).
		DoAndReturn(func(handler func(domain.ConversationID)) (func() error, error) {
			onMembership = handler
			close(subscribed)
			return func() error { return nil }, nil
		})

	router.EXPECT().InvalidateParticipants(domain.ConversationID("c1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	select {
	case <-subscribed:
	case <-time.After(time.Second):
		t.Fatal("listener did not subscribe")
	}

	// When the CRUD surface announces a change
	onMembership("c1")

	cancel()
	req.NoError(<-done)
}
