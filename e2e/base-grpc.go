package e2e

import (
	"bytes"
	"chat-core/auth"
	"chat-core/infrastructure/grpc/client"
	"chat-core/infrastructure/grpc/wire"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

type BaseGrpcSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseGrpcSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.GatewayAddr == "" {
		s.T().Skip("GATEWAY_ADDR not set, skipping end-to-end suite")
	}
	s.Require().NotEmpty(s.Config.JWTSecret, "JWT_SECRET must match the gateway's")
}

// Client connects as identity, logging every unary call
func (s *BaseGrpcSuite) Client(t *testing.T, name string, identity string) *client.Client {
	header := fmt.Sprintf("  ====== %s (%s) ======", name, identity)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)

	token, err := auth.GenerateToken(identity, time.Hour, []byte(s.Config.JWTSecret), s.Config.JWTIssuer)
	s.Require().NoError(err)

	c, err := client.New(s.Config.GatewayAddr, token,
		grpc.WithUnaryInterceptor(func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
			start := time.Now()
			err := invoker(ctx, method, req, reply, cc, opts...)

			logBuilder := strings.Builder{}
			fmt.Fprintf(&logBuilder, "GRPC %s [%s] in %v", method, status.Code(err), time.Since(start))

			// Log full JSON request/response bodies if E2E_DEBUG_JSON is enabled
			if s.Config.DebugJSON {
				fmt.Fprintln(&logBuilder, "\nREQUEST:")
				fmt.Fprintln(&logBuilder, indent(req))
				if err != nil {
					fmt.Fprintln(&logBuilder, "ERROR:", err)
				} else {
					fmt.Fprintln(&logBuilder, "RESPONSE:")
					fmt.Fprintln(&logBuilder, indent(reply))
				}
			}
			t.Log(logBuilder.String())
			return err
		}),
	)
	s.Require().NoError(err, "Failed to connect to gateway at "+s.Config.GatewayAddr)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// CreateConversation goes through the admin endpoint so every instance drops its cached participants
func (s *BaseGrpcSuite) CreateConversation(id string, participants ...string) {
	body, err := json.Marshal(map[string][]string{"participants": participants})
	s.Require().NoError(err)
	request, err := http.NewRequest(http.MethodPut, s.Config.AdminURL+"/conversations/"+id, bytes.NewReader(body))
	s.Require().NoError(err)
	response, err := http.DefaultClient.Do(request)
	s.Require().NoError(err)
	defer func() { _ = response.Body.Close() }()
	s.Require().Equal(http.StatusNoContent, response.StatusCode)
}

// Await reads frames until one of the given type arrives
func (s *BaseGrpcSuite) Await(session *client.Session, frameType string) *wire.ServerFrame {
	for {
		frame, err := session.Recv()
		s.Require().NoError(err)
		if s.Config.DebugJSON {
			s.T().Log(indent(frame))
		}
		if frame.Type == frameType {
			return frame
		}
	}
}

func indent(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(out)
}
