package storage

import (
	"chat-core/domain"
	"chat-core/errors"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *MessageRepository {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewMessageRepository(db, logs.GetLoggerFromLevel(slog.LevelDebug))
}

func TestMessageRepository_Append_Assigns_Increasing_Ids_Per_Conversation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := newTestRepository(t)
	req.NoError(repository.SaveConversation(ctx, domain.NewConversation("c1", "alice", "bob")))
	req.NoError(repository.SaveConversation(ctx, domain.NewConversation("c2", "alice", "bob")))

	// When messages are appended to two conversations
	m1, err := repository.Append(ctx, "c1", "alice", "hi")
	req.NoError(err)
	m2, err := repository.Append(ctx, "c1", "bob", "hello")
	req.NoError(err)
	other, err := repository.Append(ctx, "c2", "bob", "elsewhere")
	req.NoError(err)

	// Then ids are independent and strictly increasing per conversation
	req.Equal(domain.MessageID(1), m1.ID)
	req.Equal(domain.MessageID(2), m2.ID)
	req.Equal(domain.MessageID(1), other.ID)
	req.Equal(domain.ConversationID("c1"), m1.ConversationID)
	req.False(m1.ReceivedAt.IsZero())

	// And only the recipients are pending
	req.Equal(map[domain.Identity]domain.DeliveryState{"bob": domain.Pending}, m1.Delivery)
}

func TestMessageRepository_Append_Unknown_Conversation(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)

	_, err := repository.Append(context.Background(), "missing", "alice", "hi")

	req.ErrorIs(err, errors.ErrConversationNotFound)
}

func TestMessageRepository_Concurrent_Appends_Never_Share_An_Id(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := newTestRepository(t)
	req.NoError(repository.SaveConversation(ctx, domain.NewConversation("c1", "alice", "bob")))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ids []domain.MessageID
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			message, err := repository.Append(ctx, "c1", "alice", "hi")
			if err != nil {
				return
			}
			mu.Lock()
			ids = append(ids, message.ID)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Every successful append got its own id
	req.NotEmpty(ids)
	req.Len(lo.Uniq(ids), len(ids))
}

func TestMessageRepository_History_Pagination(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := newTestRepository(t)
	req.NoError(repository.SaveConversation(ctx, domain.NewConversation("c1", "alice", "bob")))
	for i := 0; i < 5; i++ {
		_, err := repository.Append(ctx, "c1", "alice", "msg")
		req.NoError(err)
	}

	// When fetching the latest page
	page, err := repository.History(ctx, "c1", nil, 2)
	req.NoError(err)

	// Then it is newest first
	req.Equal([]domain.MessageID{5, 4}, ids(page))

	// When fetching before the last id seen
	before := page[len(page)-1].ID
	page, err = repository.History(ctx, "c1", &before, 2)
	req.NoError(err)
	req.Equal([]domain.MessageID{3, 2}, ids(page))

	// When reaching the start
	before = 2
	page, err = repository.History(ctx, "c1", &before, 10)
	req.NoError(err)
	req.Equal([]domain.MessageID{1}, ids(page))

	before = 1
	page, err = repository.History(ctx, "c1", &before, 10)
	req.NoError(err)
	req.Empty(page)
}

func TestMessageRepository_History_Does_Not_Leak_Across_Conversations(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := newTestRepository(t)
	req.NoError(repository.SaveConversation(ctx, domain.NewConversation("c1", "alice", "bob")))
	req.NoError(repository.SaveConversation(ctx, domain.NewConversation("c10", "alice", "bob")))
	_, err := repository.Append(ctx, "c10", "alice", "other")
	req.NoError(err)

	page, err := repository.History(ctx, "c1", nil, 10)

	req.NoError(err)
	req.Empty(page)
}

func TestMessageRepository_Delivery_State_Is_Monotonic(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := newTestRepository(t)
	req.NoError(repository.SaveConversation(ctx, domain.NewConversation("c1", "alice", "bob", "carol")))
	message, err := repository.Append(ctx, "c1", "alice", "hi")
	req.NoError(err)

	// When bob reads then a late delivered ack arrives
	req.NoError(repository.MarkRead(ctx, "c1", message.ID, "bob"))
	req.NoError(repository.MarkDelivered(ctx, "c1", message.ID, "bob"))
	req.NoError(repository.MarkDelivered(ctx, "c1", message.ID, "carol"))

	// Then bob stays read
	page, err := repository.History(ctx, "c1", nil, 1)
	req.NoError(err)
	req.Equal(domain.Read, page[0].Delivery["bob"])
	req.Equal(domain.Delivered, page[0].Delivery["carol"])

	// And the sender's own ack is a no-op while strangers are refused
	req.NoError(repository.MarkRead(ctx, "c1", message.ID, "alice"))
	req.ErrorIs(repository.MarkRead(ctx, "c1", message.ID, "mallory"), errors.ErrNotAParticipant)
	req.ErrorIs(repository.MarkRead(ctx, "c1", 42, "bob"), errors.ErrMessageNotFound)
}

func TestMessageRepository_SaveConversation_Maintains_Membership_Index(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := newTestRepository(t)
	req.NoError(repository.SaveConversation(ctx, domain.NewConversation("c1", "alice", "bob")))
	req.NoError(repository.SaveConversation(ctx, domain.NewConversation("c2", "alice", "carol")))

	// When bob leaves c1
	req.NoError(repository.SaveConversation(ctx, domain.NewConversation("c1", "alice", "dave")))

	// Then the reverse index follows
	conversations, err := repository.ConversationsOf(ctx, "alice")
	req.NoError(err)
	req.ElementsMatch([]domain.ConversationID{"c1", "c2"}, conversations)

	conversations, err = repository.ConversationsOf(ctx, "bob")
	req.NoError(err)
	req.Empty(conversations)

	participants, err := repository.ParticipantsOf(ctx, "c1")
	req.NoError(err)
	req.Equal([]domain.Identity{"alice", "dave"}, participants)
}

func TestMessageRepository_Rejects_Unsafe_Conversation_Ids(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)

	err := repository.SaveConversation(context.Background(), domain.NewConversation("a:b", "alice"))

	req.ErrorIs(err, errors.ErrInvalidConversation)
	_, err = repository.ParticipantsOf(context.Background(), "nope")
	req.ErrorIs(err, errors.ErrConversationNotFound)
}

func TestMessageRepository_Inspect(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := newTestRepository(t)
	req.NoError(repository.SaveConversation(ctx, domain.NewConversation("c1", "alice", "bob")))
	_, err := repository.Append(ctx, "c1", "alice", "hi")
	req.NoError(err)

	entries, err := repository.Inspect("seq:", 10)

	req.NoError(err)
	req.Len(entries, 1)
	req.Equal("seq:c1", entries[0].Key)
	req.Equal("1", entries[0].Value)
}

func ids(messages []domain.Message) []domain.MessageID {
	return lo.Map(messages, func(m domain.Message, _ int) domain.MessageID { return m.ID })
}

func TestMessageRepository_Store_Belongs_To_One_Process(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()

	// Given a gateway holding the store
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	req.NoError(err)
	defer func() { _ = db.Close() }()

	// When a second gateway points at the same directory
	_, err = badger.Open(badger.DefaultOptions(dir).WithLogger(nil))

	// Then it cannot open it: ids and history come from exactly one process
	req.Error(err)
}
