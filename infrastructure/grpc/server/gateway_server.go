package server

import (
	"chat-core/auth"
	"chat-core/contract"
	"chat-core/domain"
	"chat-core/errors"
	"chat-core/infrastructure/grpc/wire"
	"context"
	"log/slog"

	"github.com/samber/lo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Connector runs one connection to completion.
type Connector interface {
	Serve(ctx context.Context, credential string, transport contract.Transport) error
}

type GatewayServer struct {
	log             *slog.Logger
	connector       Connector
	router          contract.IRouter
	maxPayloadBytes int
}

func NewGatewayServer(log *slog.Logger, connector Connector, router contract.IRouter, maxPayloadBytes int) *GatewayServer {
	return &GatewayServer{log: log, connector: connector, router: router, maxPayloadBytes: maxPayloadBytes}
}

// Connect hands the stream to the gateway. The credential comes from the "authorization" metadata;
// a rejected credential is answered on the stream before the call ends with Unauthenticated.
func (s *GatewayServer) Connect(stream grpc.BidiStreamingServer[wire.ClientFrame, wire.ServerFrame]) error {
	credential, _ := auth.CredentialFromContext(stream.Context())
	err := s.connector.Serve(stream.Context(), credential, &streamTransport{stream: stream, maxPayloadBytes: s.maxPayloadBytes})
	if err != nil {
		s.log.Debug("Stream ended", "error", err)
	}
	return errors.MapToGRPCError(err)
}

func (s *GatewayServer) History(ctx context.Context, req *wire.HistoryRequest) (*wire.HistoryResponse, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing identity")
	}
	var before *domain.MessageID
	if req.BeforeMessageID != nil {
		before = lo.ToPtr(domain.MessageID(*req.BeforeMessageID))
	}
	messages, err := s.router.History(ctx, identity, domain.ConversationID(req.ConversationID), before, req.Limit)
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	response := &wire.HistoryResponse{Messages: lo.Map(messages, func(m domain.Message, _ int) wire.MessageFrame {
		return wire.ToMessageFrame(m)
	})}
	if len(messages) > 0 && messages[len(messages)-1].ID > 1 {
		response.NextBefore = lo.ToPtr(uint64(messages[len(messages)-1].ID))
	}
	return response, nil
}

// streamTransport adapts a gRPC stream to contract.Transport.
type streamTransport struct {
	stream          grpc.BidiStreamingServer[wire.ClientFrame, wire.ServerFrame]
	maxPayloadBytes int
}

func (t *streamTransport) Recv() (domain.Inbound, error) {
	frame, err := t.stream.Recv()
	if err != nil {
		return nil, err
	}
	return wire.DecodeFrame(frame, t.maxPayloadBytes)
}

func (t *streamTransport) Send(evt domain.Outbound) error {
	return t.stream.Send(wire.EncodeEvent(evt))
}
