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
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ensure *Gateway implements the contract.IPusher interface at compile time.
var _ contract.IPusher = (*Gateway)(nil)

type GatewayConfig struct {
	HeartbeatTimeout          time.Duration
	PushTimeout               time.Duration
	BufferSize                int
	MaxConnectionsPerIdentity int
}

// Gateway owns the lifecycle of every live connection of this instance:
// Connecting -> Authenticated -> Active -> Closing -> Closed.
// Outbound events go through a bounded per-connection outbox drained by one writer goroutine,
// so a slow client only ever blocks its own pushes.
type Gateway struct {
	log       *slog.Logger
	verifier  contract.IdentityVerifier
	sessions  contract.ISessionStore
	router    contract.IRouter
	scheduler *Scheduler
	metrics   *observability.Metrics
	cfg       GatewayConfig
	newID     func() domain.ConnectionID
	now       func() time.Time

	mu          sync.RWMutex
	connections map[domain.ConnectionID]*liveConnection
}

type liveConnection struct {
	id        domain.ConnectionID
	identity  domain.Identity
	createdAt time.Time
	outbox    chan domain.Outbound
	done      chan struct{}

	mu            sync.Mutex
	state         domain.ConnectionState
	lastHeartbeat time.Time
	closeReason   error
	closeOnce     sync.Once
}

func NewGateway(log *slog.Logger, verifier contract.IdentityVerifier, sessions contract.ISessionStore,
	router contract.IRouter, scheduler *Scheduler, metrics *observability.Metrics, cfg GatewayConfig) *Gateway {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}
	return &Gateway{
		log:         log,
		verifier:    verifier,
		sessions:    sessions,
		router:      router,
		scheduler:   scheduler,
		metrics:     metrics,
		cfg:         cfg,
		newID:       func() domain.ConnectionID { return domain.ConnectionID(uuid.NewString()) },
		now:         time.Now,
		connections: make(map[domain.ConnectionID]*liveConnection),
	}
}

func heartbeatKey(connectionID domain.ConnectionID) string {
	return "hb:" + string(connectionID)
}

func (c *liveConnection) transition(next domain.ConnectionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, c.state, next)
	}
	c.state = next
	return nil
}

func (c *liveConnection) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// requestClose records the first close reason and wakes up Serve.
func (c *liveConnection) requestClose(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeReason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *liveConnection) reason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// Serve runs one connection until the client leaves, the heartbeat expires, the connection is
// evicted or ctx is cancelled. It returns nil on a plain client disconnect.
func (g *Gateway) Serve(ctx context.Context, credential string, transport contract.Transport) error {
	conn := &liveConnection{
		id:        g.newID(),
		createdAt: g.now().UTC(),
		outbox:    make(chan domain.Outbound, g.cfg.BufferSize),
		done:      make(chan struct{}),
		state:     domain.Connecting,
	}

	identity, err := g.verifier.VerifyIdentity(ctx, credential)
	if err != nil {
		_ = conn.transition(domain.Closed)
		_ = transport.Send(domain.ErrorEvent{Code: string(errors.CodeAuthRejected), Reason: "invalid credential"})
		g.metrics.ConnectionsClosed.WithLabelValues(string(errors.CodeAuthRejected)).Inc()
		g.log.Debug("Authentication rejected", "connection_id", conn.id, "error", err)
		if !stderrors.Is(err, errors.ErrAuthRejected) {
			err = fmt.Errorf("%w: %v", errors.ErrAuthRejected, err)
		}
		return err
	}
	conn.identity = identity
	if err := conn.transition(domain.Authenticated); err != nil {
		return err
	}

	g.enforceSessionLimit(identity)

	// Active before registration: fan-out may target the connection as soon as it is registered.
	if err := conn.transition(domain.Active); err != nil {
		return err
	}
	g.mu.Lock()
	g.connections[conn.id] = conn
	g.mu.Unlock()
	if err := g.sessions.Register(conn.id, identity); err != nil {
		g.forget(conn.id)
		_ = conn.transition(domain.Closing)
		_ = conn.transition(domain.Closed)
		return err
	}
	g.metrics.ConnectionsOpened.Inc()
	g.metrics.ConnectionsActive.Inc()
	g.log.Debug("Connection active", "connection_id", conn.id, "identity", identity)

	g.touch(conn)
	writerDone := make(chan struct{})
	go g.writeLoop(conn, transport, writerDone)
	go g.readLoop(ctx, conn, transport)

	select {
	case <-conn.done:
	case <-ctx.Done():
		conn.requestClose(ctx.Err())
	}
	return g.close(conn, transport, writerDone)
}

// close unregisters the connection, flushes whatever is still queued and releases it.
func (g *Gateway) close(conn *liveConnection, transport contract.Transport, writerDone <-chan struct{}) error {
	_ = conn.transition(domain.Closing)
	g.scheduler.Cancel(heartbeatKey(conn.id))
	g.sessions.Unregister(conn.id)
	g.forget(conn.id)
	g.metrics.ConnectionsActive.Dec()

	reason := conn.reason()
	select {
	case <-writerDone:
		g.drain(conn, transport, reason)
	case <-time.After(g.cfg.PushTimeout):
		// The writer is stuck on a dead transport; returning releases the stream.
		g.log.Debug("Writer did not stop in time, skipping drain", "connection_id", conn.id)
	}
	_ = conn.transition(domain.Closed)

	label := "client_closed"
	if code := errors.CodeOf(reason); code != "" && !stderrors.Is(reason, errors.ErrConnectionClosed) {
		label = string(code)
	}
	g.metrics.ConnectionsClosed.WithLabelValues(label).Inc()
	g.log.Debug("Connection closed", "connection_id", conn.id, "identity", conn.identity, "reason", reason)

	if stderrors.Is(reason, errors.ErrConnectionClosed) || stderrors.Is(reason, context.Canceled) {
		return nil
	}
	return reason
}

func (g *Gateway) drain(conn *liveConnection, transport contract.Transport, reason error) {
	if stderrors.Is(reason, errors.ErrConnectionClosed) {
		return
	}
	for {
		select {
		case evt := <-conn.outbox:
			if err := transport.Send(evt); err != nil {
				return
			}
		default:
			if code := closingCode(reason); code != "" {
				_ = transport.Send(domain.ErrorEvent{Code: string(code), Reason: reason.Error()})
			}
			return
		}
	}
}

// closingCode is the error code announced to a client that the server disconnects.
func closingCode(reason error) errors.Code {
	switch {
	case stderrors.Is(reason, errors.ErrHeartbeatTimeout):
		return errors.CodeHeartbeatTimeout
	case stderrors.Is(reason, errors.ErrDuplicateSession):
		return errors.CodeDuplicateSession
	default:
		return ""
	}
}

func (g *Gateway) writeLoop(conn *liveConnection, transport contract.Transport, writerDone chan<- struct{}) {
	defer close(writerDone)
	for {
		select {
		case <-conn.done:
			return
		case evt := <-conn.outbox:
			if err := transport.Send(evt); err != nil {
				conn.requestClose(fmt.Errorf("%w: %v", errors.ErrConnectionClosed, err))
				return
			}
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, conn *liveConnection, transport contract.Transport) {
	for {
		evt, err := transport.Recv()
		if err != nil {
			if stderrors.Is(err, errors.ErrInvalidEvent) {
				g.reply(conn, domain.ErrorEvent{Code: string(errors.CodeInvalidEvent), Reason: err.Error()})
				continue
			}
			conn.requestClose(fmt.Errorf("%w: %v", errors.ErrConnectionClosed, err))
			return
		}
		select {
		case <-conn.done:
			return
		default:
		}
		g.touch(conn)
		g.handle(ctx, conn, evt)
	}
}

func (g *Gateway) handle(ctx context.Context, conn *liveConnection, evt domain.Inbound) {
	switch e := evt.(type) {
	case domain.Heartbeat:
	case domain.SendMessage:
		message, err := g.router.Send(ctx, conn.id, conn.identity, e)
		if err != nil {
			g.reply(conn, domain.ErrorEvent{
				Code:           string(errors.CodeOf(err)),
				Reason:         err.Error(),
				ClientRef:      e.ClientRef,
				ConversationID: e.ConversationID,
			})
			return
		}
		g.reply(conn, domain.SentEvent{
			ClientRef:      e.ClientRef,
			ConversationID: message.ConversationID,
			MessageID:      message.ID,
			ReceivedAt:     message.ReceivedAt,
		})
	case domain.AckDelivered:
		g.router.Acknowledge(domain.Ack{Kind: domain.AckKindDelivered, ConversationID: e.ConversationID, MessageID: e.MessageID, Identity: conn.identity})
	case domain.AckRead:
		g.router.Acknowledge(domain.Ack{Kind: domain.AckKindRead, ConversationID: e.ConversationID, MessageID: e.MessageID, Identity: conn.identity})
	default:
		g.reply(conn, domain.ErrorEvent{Code: string(errors.CodeInvalidEvent), Reason: fmt.Sprintf("unsupported event %T", evt)})
	}
}

// reply queues an event for the connection itself.
func (g *Gateway) reply(conn *liveConnection, evt domain.Outbound) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.PushTimeout)
	defer cancel()
	if err := g.enqueue(ctx, conn, evt); err != nil {
		g.log.Debug("Unable to reply", "connection_id", conn.id, "error", err)
	}
}

// touch records liveness and pushes the heartbeat deadline forward.
func (g *Gateway) touch(conn *liveConnection) {
	conn.mu.Lock()
	conn.lastHeartbeat = g.now().UTC()
	conn.mu.Unlock()
	g.scheduler.Schedule(heartbeatKey(conn.id), g.cfg.HeartbeatTimeout, func() {
		g.log.Debug("Heartbeat timeout", "connection_id", conn.id, "identity", conn.identity)
		conn.requestClose(errors.ErrHeartbeatTimeout)
	})
}

// Push queues evt for a live connection. When the outbox stays full until ctx expires the
// connection is considered dead and scheduled for closing.
func (g *Gateway) Push(ctx context.Context, connectionID domain.ConnectionID, evt domain.Outbound) error {
	g.mu.RLock()
	conn, ok := g.connections[connectionID]
	g.mu.RUnlock()
	if !ok {
		return errors.ErrConnectionNotFound
	}
	return g.enqueue(ctx, conn, evt)
}

func (g *Gateway) enqueue(ctx context.Context, conn *liveConnection, evt domain.Outbound) error {
	if conn.State() != domain.Active {
		return errors.ErrConnectionClosed
	}
	select {
	case conn.outbox <- evt:
		return nil
	case <-conn.done:
		return errors.ErrConnectionClosed
	case <-ctx.Done():
		conn.requestClose(errors.ErrPushTimeout)
		return fmt.Errorf("%w: %s", errors.ErrPushTimeout, conn.id)
	}
}

// Evict closes a live connection from the server side.
func (g *Gateway) Evict(connectionID domain.ConnectionID, reason error) bool {
	g.mu.RLock()
	conn, ok := g.connections[connectionID]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	conn.requestClose(reason)
	return true
}

// enforceSessionLimit evicts the oldest connections of identity so that the new one fits.
func (g *Gateway) enforceSessionLimit(identity domain.Identity) {
	limit := g.cfg.MaxConnectionsPerIdentity
	if limit <= 0 {
		return
	}
	existing := g.sessions.ConnectionsFor(identity)
	if excess := len(existing) - limit + 1; excess > 0 {
		for _, connectionID := range existing[:excess] {
			if g.Evict(connectionID, errors.ErrDuplicateSession) {
				g.log.Info("Evicting connection, session limit reached", "connection_id", connectionID, "identity", identity)
			}
		}
	}
}

func (g *Gateway) forget(connectionID domain.ConnectionID) {
	g.mu.Lock()
	delete(g.connections, connectionID)
	g.mu.Unlock()
}

// Connections returns a snapshot of the live connections of this instance.
func (g *Gateway) Connections() []domain.Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]domain.Connection, 0, len(g.connections))
	for _, conn := range g.connections {
		conn.mu.Lock()
		out = append(out, domain.Connection{
			ID:            conn.id,
			Identity:      conn.identity,
			CreatedAt:     conn.createdAt,
			LastHeartbeat: conn.lastHeartbeat,
		})
		conn.mu.Unlock()
	}
	return out
}
