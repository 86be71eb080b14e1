package runtime

import (
	"chat-core/contract"
	"chat-core/domain"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
)

// ParticipantsCache is a read-through cache in front of IMessageStore.ParticipantsOf.
// Invalidate bumps a per-conversation generation so a load racing with an invalidation
// never writes a stale list back. A generation only exists while a load is in flight.
type ParticipantsCache struct {
	store contract.IMessageStore
	cache *ristretto.Cache[string, []domain.Identity]

	mu          sync.Mutex
	generations map[domain.ConversationID]*generation
}

type generation struct {
	value uint64
	loads int
}

func NewParticipantsCache(store contract.IMessageStore, size int64) (*ParticipantsCache, error) {
	if size <= 0 {
		size = 10_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []domain.Identity]{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
		// One unit per conversation; MaxCost is a number of entries.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("participants cache: %w", err)
	}
	return &ParticipantsCache{
		store:       store,
		cache:       cache,
		generations: make(map[domain.ConversationID]*generation),
	}, nil
}

func (p *ParticipantsCache) beginLoad(conversationID domain.ConversationID) (*generation, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gen, ok := p.generations[conversationID]
	if !ok {
		gen = &generation{}
		p.generations[conversationID] = gen
	}
	gen.loads++
	return gen, gen.value
}

// Get returns the participants of the conversation, loading them from the store on a miss.
// The returned slice is a copy.
func (p *ParticipantsCache) Get(ctx context.Context, conversationID domain.ConversationID) ([]domain.Identity, error) {
	if cached, ok := p.cache.Get(string(conversationID)); ok {
		return slices.Clone(cached), nil
	}
	gen, startedAt := p.beginLoad(conversationID)
	participants, err := p.store.ParticipantsOf(ctx, conversationID)

	p.mu.Lock()
	defer p.mu.Unlock()
	gen.loads--
	if gen.loads == 0 {
		delete(p.generations, conversationID)
	}
	if err != nil {
		return nil, err
	}
	if gen.value == startedAt {
		p.cache.Set(string(conversationID), slices.Clone(participants), 1)
		p.cache.Wait()
	}
	return participants, nil
}

// Invalidate drops the cached participants of a conversation after a membership change.
func (p *ParticipantsCache) Invalidate(conversationID domain.ConversationID) {
	p.mu.Lock()
	if gen, ok := p.generations[conversationID]; ok {
		gen.value++
	}
	p.cache.Del(string(conversationID))
	p.mu.Unlock()
}

// loading is the number of conversations with a load in flight.
func (p *ParticipantsCache) loading() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.generations)
}

func (p *ParticipantsCache) Close() {
	p.cache.Close()
}
