package broker

import (
	"chat-core/contract"
	"chat-core/domain"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	membershipPrefix = "chat.membership."
	originHeader     = "Chat-Origin"
)

// Ensure *NatsBroker implements the contract.IBroadcaster interface at compile time.
var _ contract.IBroadcaster = (*NatsBroker)(nil)

// NatsBroker carries membership changes from the CRUD surface to the gateway.
// It never carries chat messages: those are appended and fanned out by the single
// process that owns the message store.
type NatsBroker struct {
	log        *slog.Logger
	conn       *nats.Conn
	instanceID string
	propagator propagation.TextMapPropagator
	tracer     trace.Tracer
}

// Connect dials NATS and reconnects forever.
func Connect(log *slog.Logger, url, instanceID string) (*NatsBroker, error) {
	conn, err := nats.Connect(url,
		nats.Name("chat-core-"+instanceID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return NewNatsBroker(log, conn, instanceID), nil
}

func NewNatsBroker(log *slog.Logger, conn *nats.Conn, instanceID string) *NatsBroker {
	return &NatsBroker{
		log:        log,
		conn:       conn,
		instanceID: instanceID,
		propagator: propagation.TraceContext{},
		tracer:     otel.Tracer("chat-core/broker"),
	}
}

func (b *NatsBroker) PublishMembershipChanged(ctx context.Context, conversationID domain.ConversationID) error {
	return b.publish(ctx, membershipPrefix+string(conversationID), nil)
}

// SubscribeMembershipChanged also receives this process's own notifications.
func (b *NatsBroker) SubscribeMembershipChanged(handler func(conversationID domain.ConversationID)) (func() error, error) {
	return b.subscribe(membershipPrefix+"*", func(_ context.Context, msg *nats.Msg) {
		handler(domain.ConversationID(strings.TrimPrefix(msg.Subject, membershipPrefix)))
	})
}

// Close drains pending publications before closing the connection.
func (b *NatsBroker) Close() error {
	return b.conn.Drain()
}

func (b *NatsBroker) publish(ctx context.Context, subject string, data []byte) error {
	ctx, span := b.tracer.Start(ctx, subject+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "nats"),
			attribute.String("messaging.destination.name", subject),
		))
	defer span.End()

	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	msg.Header.Set(originHeader, b.instanceID)
	b.propagator.Inject(ctx, headerCarrier(msg.Header))
	if err := b.conn.PublishMsg(msg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (b *NatsBroker) subscribe(subject string, handle func(ctx context.Context, msg *nats.Msg)) (func() error, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		ctx := b.propagator.Extract(context.Background(), headerCarrier(msg.Header))
		ctx, span := b.tracer.Start(ctx, msg.Subject+" receive",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "nats"),
				attribute.String("messaging.destination.name", msg.Subject),
			))
		defer span.End()
		handle(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub.Unsubscribe, nil
}

// headerCarrier adapts nats.Header to propagation.TextMapCarrier.
type headerCarrier nats.Header

func (c headerCarrier) Get(key string) string {
	return nats.Header(c).Get(key)
}

func (c headerCarrier) Set(key, value string) {
	nats.Header(c).Set(key, value)
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
