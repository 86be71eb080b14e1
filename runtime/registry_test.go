package runtime

import (
	"chat-core/domain"
	"chat-core/errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	mu     sync.Mutex
	events []domain.SessionEvent
}

func (l *recordingListener) OnSessionEvent(evt domain.SessionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *recordingListener) snapshot() []domain.SessionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.SessionEvent(nil), l.events...)
}

func TestSessionStore_Register_One_Identity_Multiple_Devices(t *testing.T) {
	req := require.New(t)
	listener := &recordingListener{}
	store := NewSessionStore(listener)
	alice := domain.Identity("alice")

	// Given no connection is registered
	req.False(store.IsOnline(alice))
	req.Empty(store.ConnectionsFor(alice))

	// When alice connects from two devices
	req.NoError(store.Register("c1", alice))
	req.NoError(store.Register("c2", alice))

	// Then both connections are listed in registration order
	req.Equal([]domain.ConnectionID{"c1", "c2"}, store.ConnectionsFor(alice))
	req.True(store.IsOnline(alice))
	req.Equal(2, store.Count())

	// And each register emitted an event with the live count
	events := listener.snapshot()
	req.Len(events, 2)
	req.Equal(domain.SessionRegistered, events[0].Kind)
	req.Equal(1, events[0].LiveConnections)
	req.Equal(2, events[1].LiveConnections)
}

func TestSessionStore_Register_Same_Connection_Twice_Fails(t *testing.T) {
	req := require.New(t)
	store := NewSessionStore(nil)

	req.NoError(store.Register("c1", "alice"))

	// When the same connection id is bound again, even to another identity
	err := store.Register("c1", "bob")

	// Then the binding is refused and nothing changed
	req.ErrorIs(err, errors.ErrAlreadyRegistered)
	req.Empty(store.ConnectionsFor("bob"))
	owner, ok := store.IdentityOf("c1")
	req.True(ok)
	req.Equal(domain.Identity("alice"), owner)
}

func TestSessionStore_Unregister_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	listener := &recordingListener{}
	store := NewSessionStore(listener)

	req.NoError(store.Register("c1", "alice"))

	// When the connection is unregistered twice
	first := store.Unregister("c1")
	second := store.Unregister("c1")

	// Then only the first call affects alice
	req.Equal([]domain.Identity{"alice"}, first)
	req.Empty(second)
	req.False(store.IsOnline("alice"))

	// And an unknown id is a no-op
	req.Empty(store.Unregister("unknown"))

	events := listener.snapshot()
	req.Len(events, 2)
	req.Equal(domain.SessionUnregistered, events[1].Kind)
	req.Equal(0, events[1].LiveConnections)
}

func TestSessionStore_Unregister_Keeps_Other_Devices(t *testing.T) {
	req := require.New(t)
	store := NewSessionStore(nil)

	req.NoError(store.Register("c1", "alice"))
	req.NoError(store.Register("c2", "alice"))
	req.NoError(store.Register("c3", "alice"))

	store.Unregister("c2")

	req.Equal([]domain.ConnectionID{"c1", "c3"}, store.ConnectionsFor("alice"))
}

// Property: after any interleaving of concurrent register/unregister calls,
// ConnectionsFor equals exactly the set of connections still registered.
func TestSessionStore_Concurrent_Register_Unregister_No_Loss(t *testing.T) {
	req := require.New(t)
	store := NewSessionStore(&recordingListener{})
	identities := []domain.Identity{"alice", "bob", "clara", "dan"}

	const perIdentity = 200
	type op struct {
		identity domain.Identity
		conn     domain.ConnectionID
		remove   bool
	}
	var ops []op
	for _, identity := range identities {
		for i := 0; i < perIdentity; i++ {
			ops = append(ops, op{identity: identity, conn: domain.ConnectionID(uuid.NewString()), remove: i%3 == 0})
		}
	}
	rand.Shuffle(len(ops), func(i, j int) { ops[i], ops[j] = ops[j], ops[i] })

	var wg sync.WaitGroup
	for _, o := range ops {
		wg.Add(1)
		go func(o op) {
			defer wg.Done()
			req.NoError(store.Register(o.conn, o.identity))
			if o.remove {
				store.Unregister(o.conn)
			}
		}(o)
	}
	wg.Wait()

	for _, identity := range identities {
		expected := lo.FilterMap(ops, func(o op, _ int) (domain.ConnectionID, bool) {
			return o.conn, o.identity == identity && !o.remove
		})
		got := store.ConnectionsFor(identity)
		req.ElementsMatch(expected, got, fmt.Sprintf("identity %s", identity))
		req.Len(lo.Uniq(got), len(got))
	}
}
