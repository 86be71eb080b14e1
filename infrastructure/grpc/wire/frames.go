package wire

import (
	"chat-core/domain"
	"chat-core/errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// Frame types carried on the Connect stream.
const (
	TypeSendMessage  = "send_message"
	TypeHeartbeat    = "heartbeat"
	TypeAckDelivered = "ack_delivered"
	TypeAckRead      = "ack_read"

	TypeMessage  = "message"
	TypePresence = "presence"
	TypeSent     = "sent"
	TypeError    = "error"
)

var validate = validator.New()

// ClientFrame is one event sent by a client. Type selects which fields are meaningful.
type ClientFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Payload        string `json:"payload,omitempty"`
	ClientRef      string `json:"client_ref,omitempty"`
	MessageID      uint64 `json:"message_id,omitempty"`
}

// ServerFrame is one event pushed to a client. Exactly one of the pointers is set, matching Type.
type ServerFrame struct {
	Type     string         `json:"type"`
	Message  *MessageFrame  `json:"message,omitempty"`
	Presence *PresenceFrame `json:"presence,omitempty"`
	Sent     *SentFrame     `json:"sent,omitempty"`
	Error    *ErrorFrame    `json:"error,omitempty"`
}

type MessageFrame struct {
	ID             uint64            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Sender         string            `json:"sender"`
	Payload        string            `json:"payload"`
	ReceivedAt     time.Time         `json:"received_at"`
	Delivery       map[string]string `json:"delivery,omitempty"`
}

type PresenceFrame struct {
	Identity string    `json:"identity"`
	State    string    `json:"state"`
	LastSeen time.Time `json:"last_seen"`
}

type SentFrame struct {
	ClientRef      string    `json:"client_ref,omitempty"`
	ConversationID string    `json:"conversation_id"`
	MessageID      uint64    `json:"message_id"`
	ReceivedAt     time.Time `json:"received_at"`
}

type ErrorFrame struct {
	Code           string  `json:"code"`
	Reason         string  `json:"reason,omitempty"`
	ClientRef      string  `json:"client_ref,omitempty"`
	ConversationID string  `json:"conversation_id,omitempty"`
	MessageID      *uint64 `json:"message_id,omitempty"`
}

type HistoryRequest struct {
	ConversationID  string  `json:"conversation_id"`
	BeforeMessageID *uint64 `json:"before_message_id,omitempty"`
	Limit           int     `json:"limit,omitempty"`
}

type HistoryResponse struct {
	Messages []MessageFrame `json:"messages"`
	// NextBefore is the cursor of the next (older) page, absent on the last page.
	NextBefore *uint64 `json:"next_before,omitempty"`
}

// DecodeFrame turns a client frame into a validated domain event.
// Any malformed frame is reported as ErrInvalidEvent.
func DecodeFrame(frame *ClientFrame, maxPayloadBytes int) (domain.Inbound, error) {
	var evt domain.Inbound
	switch frame.Type {
	case TypeSendMessage:
		if maxPayloadBytes > 0 && len(frame.Payload) > maxPayloadBytes {
			return nil, fmt.Errorf("%w: payload exceeds %d bytes", errors.ErrInvalidEvent, maxPayloadBytes)
		}
		evt = domain.SendMessage{
			ConversationID: domain.ConversationID(frame.ConversationID),
			Payload:        frame.Payload,
			ClientRef:      frame.ClientRef,
		}
	case TypeHeartbeat:
		return domain.Heartbeat{}, nil
	case TypeAckDelivered:
		evt = domain.AckDelivered{ConversationID: domain.ConversationID(frame.ConversationID), MessageID: domain.MessageID(frame.MessageID)}
	case TypeAckRead:
		evt = domain.AckRead{ConversationID: domain.ConversationID(frame.ConversationID), MessageID: domain.MessageID(frame.MessageID)}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", errors.ErrInvalidEvent, frame.Type)
	}
	if err := validate.Struct(evt); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidEvent, err)
	}
	return evt, nil
}

// EncodeEvent turns a domain event into its wire frame.
func EncodeEvent(evt domain.Outbound) *ServerFrame {
	switch e := evt.(type) {
	case domain.MessageEvent:
		return &ServerFrame{Type: TypeMessage, Message: lo.ToPtr(ToMessageFrame(e.Message))}
	case domain.PresenceEvent:
		return &ServerFrame{Type: TypePresence, Presence: &PresenceFrame{
			Identity: string(e.Identity),
			State:    string(e.State),
			LastSeen: e.LastSeen,
		}}
	case domain.SentEvent:
		return &ServerFrame{Type: TypeSent, Sent: &SentFrame{
			ClientRef:      e.ClientRef,
			ConversationID: string(e.ConversationID),
			MessageID:      uint64(e.MessageID),
			ReceivedAt:     e.ReceivedAt,
		}}
	case domain.ErrorEvent:
		frame := &ErrorFrame{
			Code:           e.Code,
			Reason:         e.Reason,
			ClientRef:      e.ClientRef,
			ConversationID: string(e.ConversationID),
		}
		if e.MessageID != nil {
			frame.MessageID = lo.ToPtr(uint64(*e.MessageID))
		}
		return &ServerFrame{Type: TypeError, Error: frame}
	default:
		return &ServerFrame{Type: TypeError, Error: &ErrorFrame{Code: string(errors.CodeInternal), Reason: fmt.Sprintf("unsupported event %T", evt)}}
	}
}

func ToMessageFrame(m domain.Message) MessageFrame {
	return MessageFrame{
		ID:             uint64(m.ID),
		ConversationID: string(m.ConversationID),
		Sender:         string(m.Sender),
		Payload:        m.Payload,
		ReceivedAt:     m.ReceivedAt,
		Delivery: lo.MapEntries(m.Delivery, func(identity domain.Identity, state domain.DeliveryState) (string, string) {
			return string(identity), state.String()
		}),
	}
}
