package runtime

import (
	"chat-core/domain"
	"sync"
)

// ConversationLocks serializes work per conversation. A lock exists only while
// someone holds or waits for it, so the set stays as small as the number of busy conversations.
type ConversationLocks struct {
	mu    sync.Mutex
	locks map[domain.ConversationID]*conversationLock
}

type conversationLock struct {
	mu   sync.Mutex
	refs int
}

func NewConversationLocks() *ConversationLocks {
	return &ConversationLocks{locks: make(map[domain.ConversationID]*conversationLock)}
}

// Lock acquires the conversation's lock and returns its release func.
func (c *ConversationLocks) Lock(conversationID domain.ConversationID) func() {
	c.mu.Lock()
	lock, ok := c.locks[conversationID]
	if !ok {
		lock = &conversationLock{}
		c.locks[conversationID] = lock
	}
	lock.refs++
	c.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		c.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(c.locks, conversationID)
		}
		c.mu.Unlock()
	}
}

// Len is the number of conversations currently locked or awaited.
func (c *ConversationLocks) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}
