package runtime

import (
	"chat-core/contract"
	"chat-core/domain"
	"chat-core/errors"
	"hash/fnv"
	"slices"
	"sync"
	"time"
)

const defaultSessionShards = 64

// Ensure *SessionStore implements the contract.ISessionStore interface at compile time.
var _ contract.ISessionStore = (*SessionStore)(nil)

// SessionStore tracks which identity owns which live connection(s).
// Identities are spread over shards; every read-modify-write for one identity happens
// under its shard lock, so concurrent register/unregister never lose or duplicate an entry.
// Lock order is always shard -> owners.
type SessionStore struct {
	shards   []*sessionShard
	ownersMu sync.RWMutex
	owners   map[domain.ConnectionID]domain.Identity
	listener contract.SessionListener
	now      func() time.Time
}

type sessionShard struct {
	mu          sync.RWMutex
	connections map[domain.Identity][]domain.ConnectionID
}

// NewSessionStore builds an empty store. listener may be nil.
func NewSessionStore(listener contract.SessionListener) *SessionStore {
	shards := make([]*sessionShard, defaultSessionShards)
	for i := range shards {
		shards[i] = &sessionShard{connections: make(map[domain.Identity][]domain.ConnectionID)}
	}
	return &SessionStore{
		shards:   shards,
		owners:   make(map[domain.ConnectionID]domain.Identity),
		listener: listener,
		now:      time.Now,
	}
}

func (s *SessionStore) shardFor(identity domain.Identity) *sessionShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Register binds a connection to an identity exactly once.
// Rebinding a connection id that is still registered fails with ErrAlreadyRegistered.
func (s *SessionStore) Register(connectionID domain.ConnectionID, identity domain.Identity) error {
	shard := s.shardFor(identity)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	s.ownersMu.Lock()
	if _, exists := s.owners[connectionID]; exists {
		s.ownersMu.Unlock()
		return errors.ErrAlreadyRegistered
	}
	s.owners[connectionID] = identity
	s.ownersMu.Unlock()

	shard.connections[identity] = append(shard.connections[identity], connectionID)
	s.emit(domain.SessionEvent{
		Kind:            domain.SessionRegistered,
		Identity:        identity,
		ConnectionID:    connectionID,
		LiveConnections: len(shard.connections[identity]),
		At:              s.now().UTC(),
	})
	return nil
}

// Unregister is idempotent: an unknown connection id is a no-op returning nil.
func (s *SessionStore) Unregister(connectionID domain.ConnectionID) []domain.Identity {
	s.ownersMu.RLock()
	identity, ok := s.owners[connectionID]
	s.ownersMu.RUnlock()
	if !ok {
		return nil
	}

	shard := s.shardFor(identity)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	// Re-check under the shard lock: a concurrent Unregister may have won.
	s.ownersMu.Lock()
	if owner, stillThere := s.owners[connectionID]; !stillThere || owner != identity {
		s.ownersMu.Unlock()
		return nil
	}
	delete(s.owners, connectionID)
	s.ownersMu.Unlock()

	remaining := slices.DeleteFunc(shard.connections[identity], func(id domain.ConnectionID) bool {
		return id == connectionID
	})
	if len(remaining) == 0 {
		delete(shard.connections, identity)
	} else {
		shard.connections[identity] = remaining
	}

	s.emit(domain.SessionEvent{
		Kind:            domain.SessionUnregistered,
		Identity:        identity,
		ConnectionID:    connectionID,
		LiveConnections: len(remaining),
		At:              s.now().UTC(),
	})
	return []domain.Identity{identity}
}

// ConnectionsFor returns a copy of the identity's live connections, oldest first.
func (s *SessionStore) ConnectionsFor(identity domain.Identity) []domain.ConnectionID {
	shard := s.shardFor(identity)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return slices.Clone(shard.connections[identity])
}

func (s *SessionStore) IsOnline(identity domain.Identity) bool {
	shard := s.shardFor(identity)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return len(shard.connections[identity]) > 0
}

// IdentityOf resolves the owner of a live connection.
func (s *SessionStore) IdentityOf(connectionID domain.ConnectionID) (domain.Identity, bool) {
	s.ownersMu.RLock()
	defer s.ownersMu.RUnlock()
	identity, ok := s.owners[connectionID]
	return identity, ok
}

// Count returns the number of live connections across all identities.
func (s *SessionStore) Count() int {
	s.ownersMu.RLock()
	defer s.ownersMu.RUnlock()
	return len(s.owners)
}

func (s *SessionStore) emit(evt domain.SessionEvent) {
	if s.listener != nil {
		s.listener.OnSessionEvent(evt)
	}
}
