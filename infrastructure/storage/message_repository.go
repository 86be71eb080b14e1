package storage

import (
	"chat-core/contract"
	"chat-core/domain"
	"chat-core/errors"
	"context"
	"encoding/binary"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

// Ensure MessageRepository implements both store contracts at compile time.
var (
	_ contract.IMessageStore          = (*MessageRepository)(nil)
	_ contract.IConversationDirectory = (*MessageRepository)(nil)
)

const maxConflictRetries = 5

// Key layout:
//
//	conv:{conversation}               -> diskConversation
//	member:{identity}:{conversation}  -> empty (reverse index for ConversationsOf)
//	seq:{conversation}                -> last message id, big endian uint64
//	msg:{conversation}:{id, 20 digits} -> diskMessage
//
// Conversation ids never contain ':' so every prefix scan stays inside one conversation.
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, log: log, now: time.Now}
}

type diskConversation struct {
	Participants []domain.Identity `json:"participants"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type diskMessage struct {
	ID         uint64                                  `json:"id"`
	Sender     domain.Identity                         `json:"sender"`
	Payload    string                                  `json:"payload"`
	ReceivedAt time.Time                               `json:"received_at"`
	Delivery   map[domain.Identity]domain.DeliveryState `json:"delivery"`
}

func conversationKey(conversationID domain.ConversationID) []byte {
	return []byte("conv:" + string(conversationID))
}

func memberPrefix(identity domain.Identity) string {
	return "member:" + string(identity) + ":"
}

func memberKey(identity domain.Identity, conversationID domain.ConversationID) []byte {
	return []byte(memberPrefix(identity) + string(conversationID))
}

func sequenceKey(conversationID domain.ConversationID) []byte {
	return []byte("seq:" + string(conversationID))
}

func messagePrefix(conversationID domain.ConversationID) string {
	return "msg:" + string(conversationID) + ":"
}

func messageKey(conversationID domain.ConversationID, id domain.MessageID) []byte {
	return []byte(fmt.Sprintf("%s%020d", messagePrefix(conversationID), id))
}

func ValidateConversationID(conversationID domain.ConversationID) error {
	if conversationID == "" || strings.Contains(string(conversationID), ":") {
		return fmt.Errorf("%w: %q", errors.ErrInvalidConversation, conversationID)
	}
	return nil
}

// unavailable wraps low level failures; domain errors pass through untouched.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		errors.ErrConversationNotFound, errors.ErrMessageNotFound,
		errors.ErrNotAParticipant, errors.ErrInvalidConversation, errors.ErrStoreUnavailable,
	} {
		if stderrors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
}

// update retries a read-modify-write transaction when another writer touched the same keys.
func (m *MessageRepository) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return unavailable(ctxErr)
		}
		err = m.db.Update(fn)
		if !stderrors.Is(err, badger.ErrConflict) {
			return unavailable(err)
		}
		m.log.Debug("Transaction conflict, retrying", "attempt", attempt+1)
	}
	return unavailable(err)
}

func readConversation(txn *badger.Txn, conversationID domain.ConversationID) (diskConversation, error) {
	var conversation diskConversation
	item, err := txn.Get(conversationKey(conversationID))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return conversation, fmt.Errorf("%w: %s", errors.ErrConversationNotFound, conversationID)
	}
	if err != nil {
		return conversation, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &conversation)
	})
	return conversation, err
}

func readMessage(txn *badger.Txn, conversationID domain.ConversationID, id domain.MessageID) (diskMessage, error) {
	var message diskMessage
	item, err := txn.Get(messageKey(conversationID, id))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return message, fmt.Errorf("%w: %s/%d", errors.ErrMessageNotFound, conversationID, id)
	}
	if err != nil {
		return message, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &message)
	})
	return message, err
}

// Append assigns the next id of the conversation and persists the message in one transaction.
// Ids start at 1 and strictly increase per conversation.
func (m *MessageRepository) Append(ctx context.Context, conversationID domain.ConversationID, sender domain.Identity, payload string) (domain.Message, error) {
	var stored diskMessage
	err := m.update(ctx, func(txn *badger.Txn) error {
		conversation, err := readConversation(txn, conversationID)
		if err != nil {
			return err
		}
		var last uint64
		item, err := txn.Get(sequenceKey(conversationID))
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				last = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		case !stderrors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		stored = diskMessage{
			ID:         last + 1,
			Sender:     sender,
			Payload:    payload,
			ReceivedAt: m.now().UTC(),
			Delivery:   domain.NewPendingDelivery(sender, conversation.Participants),
		}
		bytes, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		seq := make([]byte, 8)
		binary.BigEndian.PutUint64(seq, stored.ID)
		if err := txn.Set(sequenceKey(conversationID), seq); err != nil {
			return err
		}
		return txn.Set(messageKey(conversationID, domain.MessageID(stored.ID)), bytes)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return toMessage(conversationID, stored), nil
}

// History returns up to limit messages older than before (exclusive), newest first.
// A nil before starts from the latest message.
func (m *MessageRepository) History(ctx context.Context, conversationID domain.ConversationID, before *domain.MessageID, limit int) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		if _, err := readConversation(txn, conversationID); err != nil {
			return err
		}
		prefix := []byte(messagePrefix(conversationID))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Reverse iteration positions on the greatest key <= seek.
		seekKey := append(slices.Clone(prefix), []byte("99999999999999999999")...)
		if before != nil {
			if *before == 0 {
				return nil
			}
			seekKey = messageKey(conversationID, *before-1)
		}
		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(messages) < limit; it.Next() {
			var stored diskMessage
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return err
			}
			messages = append(messages, toMessage(conversationID, stored))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return messages, nil
}

func (m *MessageRepository) MarkDelivered(ctx context.Context, conversationID domain.ConversationID, messageID domain.MessageID, identity domain.Identity) error {
	return m.advance(ctx, conversationID, messageID, identity, domain.Delivered)
}

func (m *MessageRepository) MarkRead(ctx context.Context, conversationID domain.ConversationID, messageID domain.MessageID, identity domain.Identity) error {
	return m.advance(ctx, conversationID, messageID, identity, domain.Read)
}

// advance moves the delivery state of one recipient forward, never backwards.
// Acks from the sender are ignored: the sender has no delivery entry.
func (m *MessageRepository) advance(ctx context.Context, conversationID domain.ConversationID, messageID domain.MessageID, identity domain.Identity, next domain.DeliveryState) error {
	return m.update(ctx, func(txn *badger.Txn) error {
		stored, err := readMessage(txn, conversationID, messageID)
		if err != nil {
			return err
		}
		current, ok := stored.Delivery[identity]
		if !ok {
			if identity == stored.Sender {
				return nil
			}
			return fmt.Errorf("%w: %s", errors.ErrNotAParticipant, identity)
		}
		advanced := current.Advance(next)
		if advanced == current {
			return nil
		}
		stored.Delivery[identity] = advanced
		bytes, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return txn.Set(messageKey(conversationID, messageID), bytes)
	})
}

func (m *MessageRepository) ParticipantsOf(ctx context.Context, conversationID domain.ConversationID) ([]domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	var conversation diskConversation
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		conversation, err = readConversation(txn, conversationID)
		return err
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return conversation.Participants, nil
}

// SaveConversation creates or replaces a conversation and keeps the membership index in sync.
func (m *MessageRepository) SaveConversation(ctx context.Context, conversation domain.Conversation) error {
	if err := ValidateConversationID(conversation.ID); err != nil {
		return err
	}
	participants := lo.Uniq(lo.Compact(conversation.Participants))
	return m.update(ctx, func(txn *badger.Txn) error {
		previous, err := readConversation(txn, conversation.ID)
		if err != nil && !stderrors.Is(err, errors.ErrConversationNotFound) {
			return err
		}
		removed, _ := lo.Difference(previous.Participants, participants)
		for _, identity := range removed {
			if err := txn.Delete(memberKey(identity, conversation.ID)); err != nil {
				return err
			}
		}
		for _, identity := range participants {
			if err := txn.Set(memberKey(identity, conversation.ID), nil); err != nil {
				return err
			}
		}
		bytes, err := json.Marshal(diskConversation{Participants: participants, UpdatedAt: m.now().UTC()})
		if err != nil {
			return err
		}
		return txn.Set(conversationKey(conversation.ID), bytes)
	})
}

// ConversationsOf lists the conversations identity currently belongs to.
func (m *MessageRepository) ConversationsOf(ctx context.Context, identity domain.Identity) ([]domain.ConversationID, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	var conversations []domain.ConversationID
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := memberPrefix(identity)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = []byte(prefix)
		it := txn.NewIterator(options)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix([]byte(prefix)); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), prefix)
			// An identity containing ':' shares the prefix of a longer one.
			if strings.Contains(rest, ":") {
				continue
			}
			conversations = append(conversations, domain.ConversationID(rest))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return conversations, nil
}

// Entry is a raw key/value pair exposed by the admin inspector.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Size  int64  `json:"size"`
}

// Inspect dumps up to limit entries whose key starts with prefix.
func (m *MessageRepository) Inspect(prefix string, limit int) ([]Entry, error) {
	var entries []Entry
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = []byte(prefix)
		it := txn.NewIterator(options)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix([]byte(prefix)) && len(entries) < limit; it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if strings.HasPrefix(string(item.Key()), "seq:") && len(value) == 8 {
				value = []byte(fmt.Sprintf("%d", binary.BigEndian.Uint64(value)))
			}
			entries = append(entries, Entry{
				Key:   string(item.KeyCopy(nil)),
				Value: string(value),
				Size:  item.EstimatedSize(),
			})
		}
		return nil
	})
	return entries, unavailable(err)
}

func toMessage(conversationID domain.ConversationID, stored diskMessage) domain.Message {
	return domain.Message{
		ID:             domain.MessageID(stored.ID),
		ConversationID: conversationID,
		Sender:         stored.Sender,
		Payload:        stored.Payload,
		ReceivedAt:     stored.ReceivedAt,
		Delivery:       stored.Delivery,
	}
}
