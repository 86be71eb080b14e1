package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrWorkerPanic          = fmt.Errorf("worker panic")
	ErrAlreadyRegistered    = fmt.Errorf("connection already registered")
	ErrNotAParticipant      = fmt.Errorf("identity is not a participant of the conversation")
	ErrStoreUnavailable     = fmt.Errorf("message store unavailable")
	ErrAuthRejected         = fmt.Errorf("authentication rejected")
	ErrDuplicateSession     = fmt.Errorf("connection evicted by a newer session")
	ErrHeartbeatTimeout     = fmt.Errorf("heartbeat timeout")
	ErrConnectionClosed     = fmt.Errorf("connection closed")
	ErrConnectionNotFound   = fmt.Errorf("connection not found")
	ErrPushTimeout          = fmt.Errorf("push to connection timed out")
	ErrInvalidEvent         = fmt.Errorf("invalid event")
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrMessageNotFound      = fmt.Errorf("message not found")
	ErrInvalidConversation  = fmt.Errorf("invalid conversation id")
	ErrInvalidTransition    = fmt.Errorf("invalid connection state transition")
)

// Code is the error identifier surfaced to clients in error{code} events.
type Code string

const (
	CodeAuthRejected     Code = "AUTH_REJECTED"
	CodeNotAParticipant  Code = "NOT_A_PARTICIPANT"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeDuplicateSession Code = "DUPLICATE_SESSION"
	CodeHeartbeatTimeout Code = "HEARTBEAT_TIMEOUT"
	CodeInvalidEvent     Code = "INVALID_EVENT"
	CodeInternal         Code = "INTERNAL"
)

// CodeOf maps any error of the core onto a boundary code.
// A missing conversation is reported as NOT_A_PARTICIPANT: the sender cannot belong to it.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, ErrAuthRejected):
		return CodeAuthRejected
	case stderrors.Is(err, ErrNotAParticipant), stderrors.Is(err, ErrConversationNotFound):
		return CodeNotAParticipant
	case stderrors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	case stderrors.Is(err, ErrDuplicateSession):
		return CodeDuplicateSession
	case stderrors.Is(err, ErrHeartbeatTimeout):
		return CodeHeartbeatTimeout
	case stderrors.Is(err, ErrInvalidEvent), stderrors.Is(err, ErrInvalidConversation):
		return CodeInvalidEvent
	default:
		return CodeInternal
	}
}

// Retryable reports whether the client may resend the same request.
func Retryable(err error) bool {
	return CodeOf(err) == CodeStoreUnavailable
}

// MapToGRPCError converts core errors into gRPC status errors for unary RPCs.
func MapToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch CodeOf(err) {
	case CodeAuthRejected:
		return status.Error(codes.Unauthenticated, err.Error())
	case CodeNotAParticipant:
		return status.Error(codes.PermissionDenied, err.Error())
	case CodeStoreUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	case CodeInvalidEvent:
		return status.Error(codes.InvalidArgument, err.Error())
	case CodeDuplicateSession, CodeHeartbeatTimeout:
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
