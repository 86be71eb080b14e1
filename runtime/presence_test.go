package runtime

import (
	"chat-core/domain"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const testGraceWindow = 60 * time.Millisecond

func newTrackedStore() (*SessionStore, *PresenceTracker) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	tracker := NewPresenceTracker(log, NewScheduler(), testGraceWindow)
	return NewSessionStore(tracker), tracker
}

func TestPresence_First_Connection_Emits_One_Online(t *testing.T) {
	req := require.New(t)
	store, tracker := newTrackedStore()

	// When alice registers two connections
	req.NoError(store.Register("c1", "alice"))
	req.NoError(store.Register("c2", "alice"))

	// Then exactly one online event was emitted
	changes := tracker.Drain()
	req.Len(changes, 1)
	req.Equal(domain.Identity("alice"), changes[0].Identity)
	req.Equal(domain.Online, changes[0].State)
	req.Equal(domain.Online, tracker.Presence("alice").State)
}

func TestPresence_Offline_Only_After_Grace_Window(t *testing.T) {
	req := require.New(t)
	store, tracker := newTrackedStore()

	req.NoError(store.Register("c1", "alice"))
	req.NoError(store.Register("c2", "alice"))
	tracker.Drain()

	// When every connection of alice is gone
	store.Unregister("c1")
	store.Unregister("c2")
	disconnectedAt := time.Now().UTC()

	// Then nothing is emitted inside the grace window
	time.Sleep(testGraceWindow / 3)
	req.Empty(tracker.Drain())

	// And exactly one offline event is emitted once it elapsed
	var changes []domain.PresenceEvent
	req.Eventually(func() bool {
		changes = append(changes, tracker.Drain()...)
		return len(changes) > 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(testGraceWindow)
	changes = append(changes, tracker.Drain()...)

	req.Len(changes, 1)
	req.Equal(domain.Offline, changes[0].State)
	req.WithinDuration(disconnectedAt, changes[0].LastSeen, 50*time.Millisecond)

	req.Equal(domain.Offline, tracker.Presence("alice").State)
}

func TestPresence_Forgets_Identities_Once_Offline(t *testing.T) {
	req := require.New(t)
	store, tracker := newTrackedStore()

	// Given many identities that came and went
	for i := 0; i < 50; i++ {
		connectionID := domain.ConnectionID(fmt.Sprintf("conn-%d", i))
		req.NoError(store.Register(connectionID, domain.Identity(fmt.Sprintf("user-%d", i))))
		store.Unregister(connectionID)
	}
	req.NotZero(tracker.Tracked())

	// When their grace windows elapse
	req.Eventually(func() bool { return tracker.Tracked() == 0 }, time.Second, 5*time.Millisecond)

	// Then each got its offline event and nothing is retained
	offline := 0
	for _, change := range tracker.Drain() {
		if change.State == domain.Offline {
			offline++
		}
	}
	req.Equal(50, offline)
	req.Equal(domain.Offline, tracker.Presence("user-7").State)

	// And a returning identity starts over as online
	req.NoError(store.Register("conn-back", "user-7"))
	req.Equal(domain.Online, tracker.Presence("user-7").State)
	req.Equal(1, tracker.Tracked())
}

func TestPresence_Reconnect_Within_Grace_Window_Emits_Nothing(t *testing.T) {
	req := require.New(t)
	store, tracker := newTrackedStore()

	req.NoError(store.Register("c1", "alice"))
	tracker.Drain()

	// When alice drops and comes back with a new connection inside the window
	store.Unregister("c1")
	time.Sleep(testGraceWindow / 4)
	req.NoError(store.Register("c2", "alice"))

	// Then no event at all is emitted, even after the window
	time.Sleep(2 * testGraceWindow)
	req.Empty(tracker.Drain())
	req.Equal(domain.Online, tracker.Presence("alice").State)
}

func TestPresence_Unknown_Identity_Is_Offline(t *testing.T) {
	_, tracker := newTrackedStore()
	require.Equal(t, domain.Offline, tracker.Presence("ghost").State)
}

func TestPresence_Ready_Signals_Pending_Changes(t *testing.T) {
	req := require.New(t)
	store, tracker := newTrackedStore()

	req.NoError(store.Register("c1", "alice"))

	select {
	case <-tracker.Ready():
	case <-time.After(time.Second):
		req.Fail("ready was never signalled")
	}
	req.Len(tracker.Drain(), 1)
}
