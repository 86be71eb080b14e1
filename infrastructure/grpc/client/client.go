package client

import (
	"chat-core/infrastructure/grpc/wire"
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client talks to a gateway on behalf of one credential.
type Client struct {
	conn       *grpc.ClientConn
	api        wire.GatewayClient
	credential string
}

// New connects lazily to addr. Extra dial options come after the defaults (plaintext).
func New(addr, credential string, opts ...grpc.DialOption) (*Client, error) {
	options := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, options...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, api: wire.NewGatewayClient(conn), credential: credential}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) authorize(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.credential)
}

// Connect opens the event stream. The stream lives as long as ctx.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	stream, err := c.api.Connect(c.authorize(ctx))
	if err != nil {
		return nil, err
	}
	return &Session{stream: stream}, nil
}

// History fetches one page, newest first. before may be nil for the latest page.
func (c *Client) History(ctx context.Context, conversationID string, before *uint64, limit int) (*wire.HistoryResponse, error) {
	return c.api.History(c.authorize(ctx), &wire.HistoryRequest{
		ConversationID:  conversationID,
		BeforeMessageID: before,
		Limit:           limit,
	})
}

// Session is one live connection seen from the client side.
type Session struct {
	stream grpc.BidiStreamingClient[wire.ClientFrame, wire.ServerFrame]
}

func (s *Session) SendMessage(conversationID, payload, clientRef string) error {
	return s.stream.Send(&wire.ClientFrame{Type: wire.TypeSendMessage, ConversationID: conversationID, Payload: payload, ClientRef: clientRef})
}

func (s *Session) Heartbeat() error {
	return s.stream.Send(&wire.ClientFrame{Type: wire.TypeHeartbeat})
}

func (s *Session) AckDelivered(conversationID string, messageID uint64) error {
	return s.stream.Send(&wire.ClientFrame{Type: wire.TypeAckDelivered, ConversationID: conversationID, MessageID: messageID})
}

func (s *Session) AckRead(conversationID string, messageID uint64) error {
	return s.stream.Send(&wire.ClientFrame{Type: wire.TypeAckRead, ConversationID: conversationID, MessageID: messageID})
}

func (s *Session) Recv() (*wire.ServerFrame, error) {
	return s.stream.Recv()
}

// Close tells the server the client is leaving.
func (s *Session) Close() error {
	return s.stream.CloseSend()
}
