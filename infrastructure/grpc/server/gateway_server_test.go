package server

import (
	"chat-core/auth"
	"chat-core/domain"
	"chat-core/infrastructure/grpc/client"
	"chat-core/infrastructure/grpc/wire"
	"chat-core/infrastructure/storage"
	"chat-core/observability"
	"chat-core/runtime"
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var (
	testSecret = []byte("bufconn-secret-0123456789-abcdefghij")
	testIssuer = "chat-core-test"
)

type testStack struct {
	store    *storage.MessageRepository
	sessions *runtime.SessionStore
	listener *bufconn.Listener
}

func newTestStack(t *testing.T) testStack {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.NewMessageRepository(db, log)
	metrics := observability.NewTestMetrics()
	scheduler := runtime.NewScheduler()
	t.Cleanup(scheduler.Stop)
	tracker := runtime.NewPresenceTracker(log, scheduler, time.Second)
	sessions := runtime.NewSessionStore(tracker)
	cache, err := runtime.NewParticipantsCache(store, 100)
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	verifier := auth.NewJWTVerifier(testSecret, testIssuer)

	router := runtime.NewRouter(log, store, store, sessions, nil, cache, metrics, runtime.RouterConfig{
		PushTimeout:     time.Second,
		HistoryMaxLimit: 50,
		AckQueueSize:    16,
	})
	gateway := runtime.NewGateway(log, verifier, sessions, router, scheduler, metrics, runtime.GatewayConfig{
		HeartbeatTimeout: 5 * time.Second,
		PushTimeout:      time.Second,
		BufferSize:       16,
	})
	router.SetPusher(gateway)

	listener := bufconn.Listen(1 << 20)
	s := NewGRPCServer(log, verifier, NewGatewayServer(log, gateway, router, 1024))
	go func() { _ = s.Serve(listener) }()
	t.Cleanup(s.Stop)

	return testStack{store: store, sessions: sessions, listener: listener}
}

func (s testStack) client(t *testing.T, credential string) *client.Client {
	t.Helper()
	c, err := client.New("passthrough:///bufnet", credential,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return s.listener.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (s testStack) token(t *testing.T, identity string) string {
	t.Helper()
	token, err := auth.GenerateToken(identity, time.Hour, testSecret, testIssuer)
	require.NoError(t, err)
	return token
}

func (s testStack) connect(t *testing.T, identity string) *client.Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	session, err := s.client(t, s.token(t, identity)).Connect(ctx)
	require.NoError(t, err)
	return session
}

func (s testStack) waitOnline(t *testing.T, identity domain.Identity, connections int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.sessions.ConnectionsFor(identity)) == connections
	}, 2*time.Second, 5*time.Millisecond)
}

func recvType(t *testing.T, session *client.Session, frameType string) *wire.ServerFrame {
	t.Helper()
	for {
		frame, err := session.Recv()
		require.NoError(t, err)
		if frame.Type == frameType {
			return frame
		}
	}
}

func TestGatewayServer_Multi_Device_Delivery_Over_gRPC(t *testing.T) {
	req := require.New(t)
	stack := newTestStack(t)
	req.NoError(stack.store.SaveConversation(context.Background(), domain.NewConversation("c1", "u1", "u2")))

	// Given U1 on two devices and U2 on two devices
	u1Phone, u1Laptop := stack.connect(t, "u1"), stack.connect(t, "u1")
	u2Phone, u2Laptop := stack.connect(t, "u2"), stack.connect(t, "u2")
	stack.waitOnline(t, "u1", 2)
	stack.waitOnline(t, "u2", 2)

	// When U2 sends from the phone
	req.NoError(u2Phone.SendMessage("c1", "hello", "ref-1"))

	// Then the phone gets the durable id, not an echo
	sent := recvType(t, u2Phone, wire.TypeSent)
	req.Equal("ref-1", sent.Sent.ClientRef)
	req.Equal(uint64(1), sent.Sent.MessageID)

	// And every other device gets the message
	for _, session := range []*client.Session{u1Phone, u1Laptop, u2Laptop} {
		frame := recvType(t, session, wire.TypeMessage)
		req.Equal("hello", frame.Message.Payload)
		req.Equal("u2", frame.Message.Sender)
		req.Equal(uint64(1), frame.Message.ID)
	}
}

func TestGatewayServer_Not_A_Participant_And_Invalid_Frames(t *testing.T) {
	req := require.New(t)
	stack := newTestStack(t)
	req.NoError(stack.store.SaveConversation(context.Background(), domain.NewConversation("c1", "u1", "u2")))
	mallory := stack.connect(t, "mallory")
	stack.waitOnline(t, "mallory", 1)

	req.NoError(mallory.SendMessage("c1", "let me in", "r1"))
	frame := recvType(t, mallory, wire.TypeError)
	req.Equal("NOT_A_PARTICIPANT", frame.Error.Code)
	req.Equal("r1", frame.Error.ClientRef)

	// A malformed frame is answered but the connection stays up
	req.NoError(mallory.SendMessage("", "no conversation", "r2"))
	frame = recvType(t, mallory, wire.TypeError)
	req.Equal("INVALID_EVENT", frame.Error.Code)
	req.NoError(mallory.Heartbeat())
	req.True(stack.sessions.IsOnline("mallory"))
}

func TestGatewayServer_Auth_Rejected(t *testing.T) {
	req := require.New(t)
	stack := newTestStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	session, err := stack.client(t, "forged").Connect(ctx)
	req.NoError(err)

	frame, err := session.Recv()
	req.NoError(err)
	req.Equal("AUTH_REJECTED", frame.Error.Code)

	_, err = session.Recv()
	req.Equal(codes.Unauthenticated, status.Code(err))
	req.Zero(stack.sessions.Count())
}

func TestGatewayServer_History(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	stack := newTestStack(t)
	req.NoError(stack.store.SaveConversation(ctx, domain.NewConversation("c1", "u1", "u2")))
	for _, payload := range []string{"one", "two", "three"} {
		_, err := stack.store.Append(ctx, "c1", "u1", payload)
		req.NoError(err)
	}

	u2 := stack.client(t, stack.token(t, "u2"))
	page, err := u2.History(ctx, "c1", nil, 2)
	req.NoError(err)
	req.Len(page.Messages, 2)
	req.Equal("three", page.Messages[0].Payload)
	req.NotNil(page.NextBefore)

	page, err = u2.History(ctx, "c1", page.NextBefore, 2)
	req.NoError(err)
	req.Len(page.Messages, 1)
	req.Equal("one", page.Messages[0].Payload)
	req.Nil(page.NextBefore)

	// An outsider is refused, an unauthenticated caller too
	_, err = stack.client(t, stack.token(t, "mallory")).History(ctx, "c1", nil, 2)
	req.Equal(codes.PermissionDenied, status.Code(err))
	_, err = stack.client(t, "forged").History(ctx, "c1", nil, 2)
	req.Equal(codes.Unauthenticated, status.Code(err))
}

func TestGatewayServer_Reconnect_Catches_Up_Through_History(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	stack := newTestStack(t)
	req.NoError(stack.store.SaveConversation(ctx, domain.NewConversation("c1", "u1", "u2")))

	// Given U1 and U2 online, U1 says "hi"
	u1, u2 := stack.connect(t, "u1"), stack.connect(t, "u2")
	stack.waitOnline(t, "u1", 1)
	stack.waitOnline(t, "u2", 1)
	req.NoError(u1.SendMessage("c1", "hi", "ref-1"))
	req.Equal(uint64(1), recvType(t, u1, wire.TypeSent).Sent.MessageID)
	req.Equal(uint64(1), recvType(t, u2, wire.TypeMessage).Message.ID)

	// When U2 disconnects and U1 says "ping" meanwhile
	req.NoError(u2.Close())
	stack.waitOnline(t, "u2", 0)
	req.NoError(u1.SendMessage("c1", "ping", "ref-2"))
	req.Equal(uint64(2), recvType(t, u1, wire.TypeSent).Sent.MessageID)

	// Then U2, back online, finds both messages newest first
	stack.connect(t, "u2")
	stack.waitOnline(t, "u2", 1)
	page, err := stack.client(t, stack.token(t, "u2")).History(ctx, "c1", nil, 10)
	req.NoError(err)
	req.Len(page.Messages, 2)
	req.Equal(uint64(2), page.Messages[0].ID)
	req.Equal("ping", page.Messages[0].Payload)
	req.Equal(uint64(1), page.Messages[1].ID)
	req.Equal("hi", page.Messages[1].Payload)
	req.Nil(page.NextBefore)
}
