package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversation_Kind_And_Membership(t *testing.T) {
	req := require.New(t)

	// Given a direct and a group conversation
	direct := NewConversation("c1", "alice", "bob")
	group := NewConversation("c2", "alice", "bob", "clara")

	// Then the kind follows the participant count
	req.Equal(Direct, direct.Kind())
	req.Equal(Group, group.Kind())

	// And membership is exact
	req.True(direct.Has("alice"))
	req.False(direct.Has("clara"))
	req.True(group.Has("clara"))
}

func TestDeliveryState_Never_Regresses(t *testing.T) {
	req := require.New(t)

	req.Equal(Delivered, Pending.Advance(Delivered))
	req.Equal(Read, Delivered.Advance(Read))
	// A late delivered ack after read keeps read
	req.Equal(Read, Read.Advance(Delivered))
	req.Equal(Read, Read.Advance(Pending))
}

func TestNewPendingDelivery_Excludes_Sender(t *testing.T) {
	req := require.New(t)

	delivery := NewPendingDelivery("alice", []Identity{"alice", "bob", "clara"})

	req.Len(delivery, 2)
	req.NotContains(delivery, Identity("alice"))
	req.Equal(Pending, delivery["bob"])
	req.Equal(Pending, delivery["clara"])
}

func TestConnectionState_Transitions(t *testing.T) {
	tests := []struct {
		from, to ConnectionState
		allowed  bool
	}{
		{Connecting, Authenticated, true},
		{Connecting, Closed, true},
		{Connecting, Active, false},
		{Authenticated, Active, true},
		{Active, Closing, true},
		{Active, Authenticated, false},
		{Closing, Closed, true},
		{Closing, Active, false},
		{Closed, Connecting, false},
		{Closed, Active, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			require.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}
