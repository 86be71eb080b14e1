package runtime

import (
	"chat-core/contract"
	"chat-core/domain"
	"chat-core/errors"
	"chat-core/observability"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "chat-core/runtime"

// Ensure *Router implements the contract.IRouter interface at compile time.
var _ contract.IRouter = (*Router)(nil)

// Router accepts sends from authenticated connections, records them durably
// and pushes them to every live connection of the conversation's participants.
//
// For one conversation, append and fan-out run under the same lock,
// so every recipient connection sees messages in store id order.
// Different conversations never wait on each other.
// Ordering holds within one process only: every connection of a deployment
// must be served by the process that owns the message store.
type Router struct {
	log             *slog.Logger
	store           contract.IMessageStore
	directory       contract.IConversationDirectory
	sessions        contract.ISessionStore
	pusher          contract.IPusher
	participants    *ParticipantsCache
	locks           *ConversationLocks
	acks            chan domain.Ack
	metrics         *observability.Metrics
	tracer          trace.Tracer
	pushTimeout     time.Duration
	historyMaxLimit int
}

type RouterConfig struct {
	PushTimeout     time.Duration
	HistoryMaxLimit int
	AckQueueSize    int
}

func NewRouter(log *slog.Logger, store contract.IMessageStore, directory contract.IConversationDirectory,
	sessions contract.ISessionStore, pusher contract.IPusher,
	participants *ParticipantsCache, metrics *observability.Metrics, cfg RouterConfig) *Router {
	if cfg.HistoryMaxLimit <= 0 {
		cfg.HistoryMaxLimit = 100
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = time.Second
	}
	return &Router{
		log:             log,
		store:           store,
		directory:       directory,
		sessions:        sessions,
		pusher:          pusher,
		participants:    participants,
		locks:           NewConversationLocks(),
		acks:            make(chan domain.Ack, max(cfg.AckQueueSize, 1)),
		metrics:         metrics,
		tracer:          otel.Tracer(tracerName),
		pushTimeout:     cfg.PushTimeout,
		historyMaxLimit: cfg.HistoryMaxLimit,
	}
}

// SetPusher breaks the construction cycle between the router and the gateway.
func (r *Router) SetPusher(pusher contract.IPusher) {
	r.pusher = pusher
}

// Send validates membership, appends the message and fans it out.
// Nothing is pushed to anyone unless the append succeeded.
// The originating connection is excluded from the fan-out; the sender's other connections are not.
func (r *Router) Send(ctx context.Context, origin domain.ConnectionID, sender domain.Identity, cmd domain.SendMessage) (domain.Message, error) {
	ctx, span := r.tracer.Start(ctx, "router.send", trace.WithAttributes(
		attribute.String("conversation_id", string(cmd.ConversationID)),
		attribute.String("identity", string(sender)),
	))
	defer span.End()

	participants, err := r.authorize(ctx, sender, cmd.ConversationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Message{}, err
	}

	unlock := r.locks.Lock(cmd.ConversationID)
	defer unlock()
	start := time.Now()
	// Once requested, an append runs to completion even if the sender goes away.
	message, err := r.store.Append(context.WithoutCancel(ctx), cmd.ConversationID, sender, cmd.Payload)
	r.metrics.AppendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.AppendFailures.Inc()
		err = storeError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Warn("Append failed", "conversation_id", cmd.ConversationID, "identity", sender, "error", err)
		return domain.Message{}, err
	}
	r.metrics.MessagesAppended.Inc()
	span.SetAttributes(attribute.Int64("message_id", int64(message.ID)))

	// Membership may have changed while the append was in flight.
	if current, err := r.participants.Get(context.WithoutCancel(ctx), cmd.ConversationID); err == nil {
		participants = current
	} else {
		r.log.Warn("Fan-out falls back to participants resolved before append",
			"conversation_id", cmd.ConversationID, "message_id", message.ID, "error", err)
	}
	r.fanout(context.WithoutCancel(ctx), message, participants, origin)
	return message, nil
}

// fanout pushes concurrently to every target connection and waits for all of them.
// Each push is bounded by the push timeout; a failing connection never affects the others.
func (r *Router) fanout(ctx context.Context, message domain.Message, participants []domain.Identity, origin domain.ConnectionID) {
	targets := lo.Filter(
		lo.FlatMap(participants, func(identity domain.Identity, _ int) []domain.ConnectionID {
			return r.sessions.ConnectionsFor(identity)
		}),
		func(connectionID domain.ConnectionID, _ int) bool { return connectionID != origin },
	)
	if len(targets) == 0 {
		return
	}

	evt := domain.MessageEvent{Message: message}
	var wg sync.WaitGroup
	for _, connectionID := range targets {
		wg.Add(1)
		go func(connectionID domain.ConnectionID) {
			defer wg.Done()
			pushCtx, cancel := context.WithTimeout(ctx, r.pushTimeout)
			defer cancel()
			if err := r.pusher.Push(pushCtx, connectionID, evt); err != nil {
				r.metrics.FanoutPushes.WithLabelValues("failed").Inc()
				r.log.Debug("Push failed", "connection_id", connectionID,
					"conversation_id", message.ConversationID, "message_id", message.ID, "error", err)
				return
			}
			r.metrics.FanoutPushes.WithLabelValues("ok").Inc()
		}(connectionID)
	}
	wg.Wait()
}

// Acknowledge queues a delivery-state update. It never blocks: when the queue is full the ack
// is dropped and false is returned.
func (r *Router) Acknowledge(ack domain.Ack) bool {
	select {
	case r.acks <- ack:
		return true
	default:
		r.metrics.AcksDropped.Inc()
		r.log.Warn("Ack queue full, dropping ack", "conversation_id", ack.ConversationID,
			"message_id", ack.MessageID, "identity", ack.Identity)
		return false
	}
}

// AckQueue is consumed by the ack workers.
func (r *Router) AckQueue() <-chan domain.Ack {
	return r.acks
}

// History returns one page of a conversation, newest first, to one of its participants.
func (r *Router) History(ctx context.Context, identity domain.Identity, conversationID domain.ConversationID, before *domain.MessageID, limit int) ([]domain.Message, error) {
	if _, err := r.authorize(ctx, identity, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > r.historyMaxLimit {
		limit = r.historyMaxLimit
	}
	messages, err := r.store.History(ctx, conversationID, before, limit)
	if err != nil {
		return nil, storeError(err)
	}
	return messages, nil
}

// PeersOf lists every other identity sharing at least one conversation with identity.
func (r *Router) PeersOf(ctx context.Context, identity domain.Identity) ([]domain.Identity, error) {
	conversations, err := r.directory.ConversationsOf(ctx, identity)
	if err != nil {
		return nil, storeError(err)
	}
	var peers []domain.Identity
	for _, conversationID := range conversations {
		participants, err := r.participants.Get(ctx, conversationID)
		if err != nil {
			if stderrors.Is(err, errors.ErrConversationNotFound) {
				continue
			}
			return nil, storeError(err)
		}
		peers = append(peers, participants...)
	}
	return lo.Without(lo.Uniq(peers), identity), nil
}

func (r *Router) InvalidateParticipants(conversationID domain.ConversationID) {
	r.participants.Invalidate(conversationID)
}

// authorize returns the participants of the conversation if identity is one of them.
func (r *Router) authorize(ctx context.Context, identity domain.Identity, conversationID domain.ConversationID) ([]domain.Identity, error) {
	participants, err := r.participants.Get(ctx, conversationID)
	switch {
	case stderrors.Is(err, errors.ErrConversationNotFound):
		return nil, fmt.Errorf("%w: %s", errors.ErrNotAParticipant, conversationID)
	case err != nil:
		return nil, storeError(err)
	}
	if !slices.Contains(participants, identity) {
		return nil, fmt.Errorf("%w: %s", errors.ErrNotAParticipant, conversationID)
	}
	return participants, nil
}

func storeError(err error) error {
	if stderrors.Is(err, errors.ErrStoreUnavailable) ||
		stderrors.Is(err, errors.ErrConversationNotFound) ||
		stderrors.Is(err, errors.ErrMessageNotFound) ||
		stderrors.Is(err, errors.ErrInvalidConversation) {
		return err
	}
	return fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
}
