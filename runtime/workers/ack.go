package workers

import (
	"chat-core/contract"
	"chat-core/domain"
	"context"
	"log/slog"
	"time"
)

// Ensure *AckWorker implements the contract.Worker interface at compile time.
var _ contract.Worker = (*AckWorker)(nil)

// AckWorker applies queued delivery acknowledgments to the store.
// Several of them share one queue to form the ack pool.
type AckWorker struct {
	log     *slog.Logger
	store   contract.IMessageStore
	acks    <-chan domain.Ack
	metrics ackMetrics
	timeout time.Duration
}

type ackMetrics interface {
	AckApplied(kind domain.AckKind, err error)
}

func NewAckWorker(log *slog.Logger, store contract.IMessageStore, acks <-chan domain.Ack, metrics ackMetrics, timeout time.Duration) *AckWorker {
	return &AckWorker{log: log, store: store, acks: acks, metrics: metrics, timeout: timeout}
}

func (w *AckWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping ack worker")
			return ctx.Err()
		case ack, ok := <-w.acks:
			if !ok {
				w.log.Debug("Ack queue is closed")
				return nil
			}
			w.apply(ctx, ack)
		}
	}
}

func (w *AckWorker) apply(ctx context.Context, ack domain.Ack) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	var err error
	switch ack.Kind {
	case domain.AckKindRead:
		err = w.store.MarkRead(ctx, ack.ConversationID, ack.MessageID, ack.Identity)
	default:
		err = w.store.MarkDelivered(ctx, ack.ConversationID, ack.MessageID, ack.Identity)
	}
	w.metrics.AckApplied(ack.Kind, err)
	if err != nil {
		w.log.Debug("Ack not applied", "conversation_id", ack.ConversationID,
			"message_id", ack.MessageID, "identity", ack.Identity, "error", err)
	}
}
