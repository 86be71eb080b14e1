package runtime

import (
	"chat-core/contract"
	"chat-core/domain"
	"log/slog"
	"sync"
	"time"
)

var _ contract.SessionListener = (*PresenceTracker)(nil)

// PresenceTracker derives online/offline state purely from session events.
//
// 0 -> 1 live connections emits "online" right away.
// 1 -> 0 arms a grace window; "offline" is emitted only if no connection came back
// before it elapsed. A reconnect inside the window emits nothing at all.
//
// Changes are queued and drained by a worker so that OnSessionEvent never blocks
// the session store. An identity is forgotten once its offline event is queued.
type PresenceTracker struct {
	mu          sync.Mutex
	log         *slog.Logger
	scheduler   *Scheduler
	graceWindow time.Duration
	entries     map[domain.Identity]*presenceEntry
	pending     []domain.PresenceEvent
	ready       chan struct{}
}

type presenceEntry struct {
	live           int
	record         domain.PresenceRecord
	offlinePending bool
	lastDisconnect time.Time
}

func NewPresenceTracker(log *slog.Logger, scheduler *Scheduler, graceWindow time.Duration) *PresenceTracker {
	return &PresenceTracker{
		log:         log,
		scheduler:   scheduler,
		graceWindow: graceWindow,
		entries:     make(map[domain.Identity]*presenceEntry),
		ready:       make(chan struct{}, 1),
	}
}

func presenceKey(identity domain.Identity) string {
	return "presence:" + string(identity)
}

func (p *PresenceTracker) OnSessionEvent(evt domain.SessionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[evt.Identity]
	if !ok {
		entry = &presenceEntry{record: domain.PresenceRecord{Identity: evt.Identity, State: domain.Offline}}
		p.entries[evt.Identity] = entry
	}
	entry.live = evt.LiveConnections

	switch evt.Kind {
	case domain.SessionRegistered:
		if entry.live != 1 {
			return
		}
		if entry.offlinePending {
			// Came back inside the grace window: the pending offline is suppressed.
			entry.offlinePending = false
			p.scheduler.Cancel(presenceKey(evt.Identity))
			p.log.Debug("Reconnect absorbed by grace window", "identity", evt.Identity)
			return
		}
		if entry.record.State == domain.Online {
			return
		}
		entry.record.State = domain.Online
		p.enqueue(domain.PresenceEvent{Identity: evt.Identity, State: domain.Online, LastSeen: entry.record.LastSeen})

	case domain.SessionUnregistered:
		if entry.live != 0 {
			return
		}
		entry.lastDisconnect = evt.At
		entry.offlinePending = true
		identity := evt.Identity
		p.scheduler.Schedule(presenceKey(identity), p.graceWindow, func() {
			p.expire(identity)
		})
	}
}

// expire runs when the grace window elapsed without a reconnect.
func (p *PresenceTracker) expire(identity domain.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[identity]
	if !ok || !entry.offlinePending || entry.live != 0 {
		return
	}
	delete(p.entries, identity)
	p.enqueue(domain.PresenceEvent{Identity: identity, State: domain.Offline, LastSeen: entry.lastDisconnect})
}

// enqueue must be called with p.mu held.
func (p *PresenceTracker) enqueue(evt domain.PresenceEvent) {
	p.pending = append(p.pending, evt)
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled whenever Drain has something to return.
func (p *PresenceTracker) Ready() <-chan struct{} {
	return p.ready
}

// Drain returns queued changes in emission order and clears the queue.
func (p *PresenceTracker) Drain() []domain.PresenceEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	changes := p.pending
	p.pending = nil
	return changes
}

// Presence returns the current record. An identity without live connections is offline.
func (p *PresenceTracker) Presence(identity domain.Identity) domain.PresenceRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[identity]
	if !ok {
		return domain.PresenceRecord{Identity: identity, State: domain.Offline}
	}
	return entry.record
}

// Tracked is the number of identities currently held in memory.
func (p *PresenceTracker) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
