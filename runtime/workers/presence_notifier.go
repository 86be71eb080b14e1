package workers

import (
	"chat-core/contract"
	"chat-core/domain"
	"context"
	"log/slog"
	"time"
)

// Ensure *PresenceNotifier implements the contract.Worker interface at compile time.
var _ contract.Worker = (*PresenceNotifier)(nil)

// PresenceSource is the queue of presence changes produced by the tracker.
type PresenceSource interface {
	Ready() <-chan struct{}
	Drain() []domain.PresenceEvent
}

type presenceMetrics interface {
	PresenceChanged(state domain.PresenceState)
}

// PresenceNotifier pushes every presence change to the live connections of the identities
// sharing a conversation with the subject.
type PresenceNotifier struct {
	log         *slog.Logger
	source      PresenceSource
	router      contract.IRouter
	sessions    contract.ISessionStore
	pusher      contract.IPusher
	metrics     presenceMetrics
	pushTimeout time.Duration
}

func NewPresenceNotifier(log *slog.Logger, source PresenceSource, router contract.IRouter,
	sessions contract.ISessionStore, pusher contract.IPusher, metrics presenceMetrics, pushTimeout time.Duration) *PresenceNotifier {
	return &PresenceNotifier{
		log:         log,
		source:      source,
		router:      router,
		sessions:    sessions,
		pusher:      pusher,
		metrics:     metrics,
		pushTimeout: pushTimeout,
	}
}

func (w *PresenceNotifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping presence notifier")
			return ctx.Err()
		case <-w.source.Ready():
			for _, evt := range w.source.Drain() {
				w.notify(ctx, evt)
			}
		}
	}
}

func (w *PresenceNotifier) notify(ctx context.Context, evt domain.PresenceEvent) {
	w.metrics.PresenceChanged(evt.State)
	peers, err := w.router.PeersOf(ctx, evt.Identity)
	if err != nil {
		w.log.Warn("Unable to resolve peers for presence change", "identity", evt.Identity, "error", err)
		return
	}
	for _, peer := range peers {
		for _, connectionID := range w.sessions.ConnectionsFor(peer) {
			pushCtx, cancel := context.WithTimeout(ctx, w.pushTimeout)
			if err := w.pusher.Push(pushCtx, connectionID, evt); err != nil {
				w.log.Debug("Presence push failed", "connection_id", connectionID, "identity", evt.Identity, "error", err)
			}
			cancel()
		}
	}
}
