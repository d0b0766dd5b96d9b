package usecase

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapter "rentalhub/internal/adapter/repository"
	"rentalhub/internal/domain/entity"
	"rentalhub/internal/domain/repository"
	"rentalhub/internal/infrastructure/metrics"
	"rentalhub/pkg/errors"
)

type recordingNotifier struct {
	mu  sync.Mutex
	got []Notification
}

func (n *recordingNotifier) Notify(x Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, x)
}

func (n *recordingNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.got...)
}

type eventLog struct {
	mu     sync.Mutex
	events []StoreEvent
}

func (l *eventLog) listen(ev StoreEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []StoreEventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StoreEventType, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

// cacheLog records the order of cache writes on top of a real cache.
type cacheLog struct {
	repository.ChatCache
	mu  sync.Mutex
	ops []string
}

func (c *cacheLog) record(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, op)
}

func (c *cacheLog) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ops...)
}

func (c *cacheLog) PutMessage(ctx context.Context, userID string, msg *entity.Message) error {
	c.record("put_message")
	return c.ChatCache.PutMessage(ctx, userID, msg)
}

func (c *cacheLog) DeleteChat(ctx context.Context, userID, chatID string) error {
	c.record("delete_chat")
	return c.ChatCache.DeleteChat(ctx, userID, chatID)
}

func (c *cacheLog) Clear(ctx context.Context, userID string) error {
	c.record("clear")
	return c.ChatCache.Clear(ctx, userID)
}

func newCacheLog(t *testing.T) *cacheLog {
	t.Helper()
	cache, err := adapter.NewSQLiteChatCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return &cacheLog{ChatCache: cache}
}

// gatedChatRepository holds the first ListActiveChats call until release is
// closed.
type gatedChatRepository struct {
	*adapter.MemoryChatRepository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedChatRepository() *gatedChatRepository {
	return &gatedChatRepository{
		MemoryChatRepository: adapter.NewMemoryChatRepository(),
		entered:              make(chan struct{}),
		release:              make(chan struct{}),
	}
}

func (r *gatedChatRepository) ListActiveChats(ctx context.Context, userID string) ([]*entity.Chat, error) {
	r.once.Do(func() {
		close(r.entered)
		<-r.release
	})
	return r.MemoryChatRepository.ListActiveChats(ctx, userID)
}

func newStore(t *testing.T, repo *adapter.MemoryChatRepository, userID string, opts ...StoreOption) *ChatStore {
	t.Helper()
	s := NewChatStore(userID, repo, repo, opts...)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(s.Cleanup)
	return s
}

func TestChatStoreConversationScenario(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	tenant := newStore(t, repo, "u1")
	landlord := newStore(t, repo, "u2")

	// First contact creates an active chat at the front of the list.
	chatID, err := tenant.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}, PropertyID: "p1"})
	require.NoError(t, err)
	chats := tenant.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, chatID, chats[0].ID)
	assert.Equal(t, entity.ChatStatusActive, chats[0].Status)
	assert.Equal(t, [2]string{"u1", "u2"}, chats[0].Participants)
	assert.Equal(t, chatID, tenant.ActiveChatID())

	// The message reaches both stores through the feed.
	sent, err := tenant.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "Hi", SenderID: "u1", ReceiverID: "u2"})
	require.NoError(t, err)
	msgs := tenant.Messages(chatID)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.False(t, msgs[0].Read)

	require.Len(t, landlord.Chats(), 1, "the landlord's store discovers the new chat")
	require.Len(t, landlord.Messages(chatID), 1)
	assert.Equal(t, 1, landlord.UnreadCount(chatID, "u2"))
	assert.Equal(t, 1, landlord.TotalUnread("u2"))

	// Opening the chat is a separate step from reading it.
	landlord.SetActiveChat(chatID)
	assert.Equal(t, 1, landlord.UnreadCount(chatID, "u2"))

	require.NoError(t, landlord.MarkAsRead(ctx, chatID, "u2"))
	assert.True(t, landlord.Messages(chatID)[0].Read)
	assert.Zero(t, landlord.UnreadCount(chatID, "u2"))
	assert.True(t, tenant.Messages(chatID)[0].Read, "read receipt reaches the sender")

	// Archiving hides the chat without destroying it.
	require.NoError(t, tenant.DeleteChat(ctx, chatID))
	assert.Empty(t, tenant.Chats())
	assert.Empty(t, tenant.Messages(chatID))
	assert.Empty(t, tenant.ActiveChatID())

	archived, err := tenant.ArchivedMessages(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "Hi", archived[0].Content)
}

func TestChatStoreSendFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	notifier := &recordingNotifier{}
	s := newStore(t, repo, "u1", WithNotifier(notifier))

	chatID, err := s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}})
	require.NoError(t, err)

	repo.FailNext(adapter.OpSendMessage, errors.Unavailable("network down", nil))
	_, err = s.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "Hi", SenderID: "u1", ReceiverID: "u2"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeUnavailable))

	assert.Empty(t, s.Messages(chatID))
	assert.NotEmpty(t, s.LastError())
	got := notifier.all()
	require.Len(t, got, 1)
	assert.Equal(t, NotificationError, got[0].Level)
}

func TestChatStoreSendValidatesBeforeCallingRemote(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	s := newStore(t, repo, "u1")
	chatID, err := s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}})
	require.NoError(t, err)

	// Any remote call would consume this failure.
	repo.FailNext(adapter.OpSendMessage, errors.Internal("must not be called", nil))

	_, err = s.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "  ", SenderID: "u1", ReceiverID: "u2"})
	assert.True(t, errors.Is(err, errors.CodeValidation))

	_, err = s.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "Hi", SenderID: "u1", ReceiverID: "u3"})
	assert.True(t, errors.Is(err, errors.CodeValidation))

	_, err = s.SendMessage(ctx, SendMessageInput{ChatID: "unknown", Content: "Hi", SenderID: "u1", ReceiverID: "u2"})
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	_, err = s.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "Hi", SenderID: "u2", ReceiverID: "u1"})
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	// The injected failure is still pending, so the remote was never reached.
	_, err = s.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "Hi", SenderID: "u1", ReceiverID: "u2"})
	assert.True(t, errors.Is(err, errors.CodeInternal))
}

func TestChatStoreDuplicateFeedDelivery(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	rec := metrics.New(prometheus.NewRegistry())
	s := newStore(t, repo, "u1", WithMetrics(rec))

	chatID, err := s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}})
	require.NoError(t, err)
	sent, err := s.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "Hi", SenderID: "u1", ReceiverID: "u2"})
	require.NoError(t, err)

	repo.Deliver(repository.FeedEvent{Kind: repository.FeedEventInsert, Message: sent})
	repo.Deliver(repository.FeedEvent{Kind: repository.FeedEventInsert, Message: sent})

	msgs := s.Messages(chatID)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.Equal(t, float64(2), testutil.ToFloat64(rec.DuplicatesSuppressed))
}

func TestChatStoreSortsOutOfOrderFeedEvents(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	s := newStore(t, repo, "u1")
	chatID, err := s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}})
	require.NoError(t, err)

	_, err = s.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "second", SenderID: "u1", ReceiverID: "u2"})
	require.NoError(t, err)

	earlier := &entity.Message{
		ID: "late-arrival", ChatID: chatID, SenderID: "u2", ReceiverID: "u1",
		Content: "first", CreatedAt: time.Now().Add(-time.Hour),
	}
	repo.Deliver(repository.FeedEvent{Kind: repository.FeedEventInsert, Message: earlier})

	msgs := s.Messages(chatID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
}

func TestChatStoreUnreadIsDerived(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	tenant := newStore(t, repo, "u1")
	landlord := newStore(t, repo, "u2")

	chatID, err := tenant.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}})
	require.NoError(t, err)
	for _, text := range []string{"a", "b", "c"} {
		_, err := tenant.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: text, SenderID: "u1", ReceiverID: "u2"})
		require.NoError(t, err)
	}
	_, err = landlord.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "reply", SenderID: "u2", ReceiverID: "u1"})
	require.NoError(t, err)

	for _, s := range []*ChatStore{tenant, landlord} {
		for _, uid := range []string{"u1", "u2"} {
			want := 0
			for _, m := range s.Messages(chatID) {
				if m.ReceiverID == uid && !m.Read {
					want++
				}
			}
			assert.Equal(t, want, s.UnreadCount(chatID, uid), "store %s viewer %s", s.UserID(), uid)
		}
	}
	assert.Equal(t, 3, landlord.UnreadCount(chatID, "u2"))
	assert.Equal(t, 1, tenant.UnreadCount(chatID, "u1"))
}

func TestChatStoreMarkAsReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	tenant := newStore(t, repo, "u1")
	landlord := newStore(t, repo, "u2")

	chatID, err := tenant.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}})
	require.NoError(t, err)
	_, err = tenant.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "Hi", SenderID: "u1", ReceiverID: "u2"})
	require.NoError(t, err)

	require.NoError(t, landlord.MarkAsRead(ctx, chatID, "u2"))
	once := landlord.Messages(chatID)

	var log eventLog
	unsubscribe := landlord.Subscribe(log.listen)
	defer unsubscribe()

	require.NoError(t, landlord.MarkAsRead(ctx, chatID, "u2"))
	assert.Equal(t, once, landlord.Messages(chatID))
	assert.Empty(t, log.types(), "second mark changes nothing")
}

func TestChatStoreCreateChatIsIdempotentPerPair(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	s := newStore(t, repo, "u1")

	first, err := s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}, PropertyID: "p1"})
	require.NoError(t, err)
	other, err := s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u3"}})
	require.NoError(t, err)

	again, err := s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u2", "u1"}, PropertyID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, first, again)

	chats := s.Chats()
	require.Len(t, chats, 2)
	assert.Equal(t, first, chats[0].ID, "re-created chat moves to the front")
	assert.Equal(t, other, chats[1].ID)
	assert.Equal(t, [2]string{"u1", "u2"}, chats[0].Participants)
}

func TestChatStoreCreateChatValidation(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	s := newStore(t, repo, "u1")

	_, err := s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u1"}})
	assert.True(t, errors.Is(err, errors.CodeValidation))
	_, err = s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", ""}})
	assert.True(t, errors.Is(err, errors.CodeValidation))
	_, err = s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u2", "u3"}})
	assert.True(t, errors.Is(err, errors.CodeForbidden))
	assert.Empty(t, s.Chats())
}

func TestChatStoreInitializeIsIdempotent(t *testing.T) {
	repo := adapter.NewMemoryChatRepository()
	s := NewChatStore("u1", repo, repo)
	t.Cleanup(s.Cleanup)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Initialize(context.Background()))
		}()
	}
	wg.Wait()
	require.NoError(t, s.Initialize(context.Background()))

	assert.True(t, s.Initialized())
	assert.False(t, s.Loading())
	assert.Equal(t, 1, repo.SubscriberCount("u1"))
}

func TestChatStoreInitializeFailureCanBeRetried(t *testing.T) {
	repo := adapter.NewMemoryChatRepository()
	notifier := &recordingNotifier{}
	s := NewChatStore("u1", repo, repo, WithNotifier(notifier))
	t.Cleanup(s.Cleanup)

	repo.FailNext(adapter.OpListActiveChats, errors.Unavailable("offline", nil))
	err := s.Initialize(context.Background())
	require.Error(t, err)
	assert.False(t, s.Initialized())
	assert.False(t, s.Loading())
	assert.NotEmpty(t, s.LastError())
	assert.Len(t, notifier.all(), 1)
	assert.Zero(t, repo.SubscriberCount("u1"))

	require.NoError(t, s.Initialize(context.Background()))
	assert.True(t, s.Initialized())
	assert.Empty(t, s.LastError())
	assert.Equal(t, 1, repo.SubscriberCount("u1"))
}

func TestChatStoreInitializeLoadsExistingState(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	older, _ := repo.CreateChat(ctx, [2]string{"u1", "u2"}, "")
	newer, _ := repo.CreateChat(ctx, [2]string{"u3", "u1"}, "")
	archived, _ := repo.CreateChat(ctx, [2]string{"u1", "u4"}, "")
	_, err := repo.SendMessage(ctx, repository.SendMessageParams{ChatID: older.ID, SenderID: "u2", ReceiverID: "u1", Content: "one"})
	require.NoError(t, err)
	_, err = repo.SendMessage(ctx, repository.SendMessageParams{ChatID: older.ID, SenderID: "u1", ReceiverID: "u2", Content: "two"})
	require.NoError(t, err)
	require.NoError(t, repo.ArchiveChat(ctx, archived.ID))

	s := newStore(t, repo, "u1")

	chats := s.Chats()
	require.Len(t, chats, 2)
	assert.Equal(t, older.ID, chats[0].ID, "most recently updated first")
	assert.Equal(t, newer.ID, chats[1].ID)
	msgs := s.Messages(older.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
}

func TestChatStoreCleanupKeepsDataResetClearsIt(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	s := newStore(t, repo, "u1")

	chatID, err := s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}})
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "Hi", SenderID: "u1", ReceiverID: "u2"})
	require.NoError(t, err)

	s.Cleanup()
	assert.False(t, s.Initialized())
	assert.Zero(t, repo.SubscriberCount("u1"))
	assert.Len(t, s.Chats(), 1)
	assert.Len(t, s.Messages(chatID), 1)

	// Messages sent while unsubscribed are not applied.
	_, err = repo.SendMessage(ctx, repository.SendMessageParams{ChatID: chatID, SenderID: "u2", ReceiverID: "u1", Content: "missed"})
	require.NoError(t, err)
	assert.Len(t, s.Messages(chatID), 1)

	// Initializing again reloads and resubscribes exactly once.
	require.NoError(t, s.Initialize(ctx))
	assert.Len(t, s.Messages(chatID), 2)
	assert.Equal(t, 1, repo.SubscriberCount("u1"))

	var log eventLog
	s.Subscribe(log.listen)
	s.Reset()
	assert.False(t, s.Initialized())
	assert.Empty(t, s.Chats())
	assert.Empty(t, s.Messages(chatID))
	assert.Empty(t, s.ActiveChatID())
	assert.Zero(t, repo.SubscriberCount("u1"))
	assert.Contains(t, log.types(), EventStoreReset)
}

func TestChatStoreOptimisticSendReconciles(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	s := newStore(t, repo, "u1", WithOptimisticSend(true))
	chatID, err := s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}})
	require.NoError(t, err)

	var log eventLog
	s.Subscribe(log.listen)

	sent, err := s.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "Hi", SenderID: "u1", ReceiverID: "u2"})
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ClientID)

	msgs := s.Messages(chatID)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.False(t, msgs[0].Pending)
	assert.Equal(t, []StoreEventType{EventMessageAdded, EventMessageReplaced}, log.types())

	// A late duplicate of the confirmed row changes nothing.
	repo.Deliver(repository.FeedEvent{Kind: repository.FeedEventInsert, Message: sent})
	assert.Len(t, s.Messages(chatID), 1)
}

func TestChatStoreOptimisticSendRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	s := newStore(t, repo, "u1", WithOptimisticSend(true))
	chatID, err := s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}})
	require.NoError(t, err)

	var log eventLog
	s.Subscribe(log.listen)

	repo.FailNext(adapter.OpSendMessage, errors.Unavailable("offline", nil))
	_, err = s.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "Hi", SenderID: "u1", ReceiverID: "u2"})
	require.Error(t, err)

	assert.Empty(t, s.Messages(chatID))
	assert.Equal(t, []StoreEventType{EventMessageAdded, EventMessageRemoved}, log.types())
}

func TestChatStoreIgnoresFeedForArchivedUnknownChat(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	s := newStore(t, repo, "u1")

	chat, err := repo.CreateChat(ctx, [2]string{"u2", "u1"}, "")
	require.NoError(t, err)
	msg, err := repo.SendMessage(ctx, repository.SendMessageParams{ChatID: chat.ID, SenderID: "u2", ReceiverID: "u1", Content: "Hi"})
	require.NoError(t, err)
	require.Len(t, s.Chats(), 1)

	require.NoError(t, s.DeleteChat(ctx, chat.ID))
	repo.Deliver(repository.FeedEvent{Kind: repository.FeedEventInsert, Message: msg})

	assert.Empty(t, s.Chats())
	assert.Empty(t, s.Messages(chat.ID))
}

func TestChatStoreFeedUpdateOnlyRaisesRead(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	s := newStore(t, repo, "u1")
	chatID, err := s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}})
	require.NoError(t, err)
	sent, err := s.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "Hi", SenderID: "u1", ReceiverID: "u2"})
	require.NoError(t, err)

	tampered := sent.Clone()
	tampered.Content = "edited"
	repo.Deliver(repository.FeedEvent{Kind: repository.FeedEventUpdate, Message: tampered})
	assert.Equal(t, "Hi", s.Messages(chatID)[0].Content)
	assert.False(t, s.Messages(chatID)[0].Read)

	tampered.Read = true
	repo.Deliver(repository.FeedEvent{Kind: repository.FeedEventUpdate, Message: tampered})
	got := s.Messages(chatID)[0]
	assert.True(t, got.Read)
	assert.Equal(t, "Hi", got.Content)
	assert.Equal(t, sent.CreatedAt, got.CreatedAt)

	tampered.Read = false
	repo.Deliver(repository.FeedEvent{Kind: repository.FeedEventUpdate, Message: tampered})
	assert.True(t, s.Messages(chatID)[0].Read)
}

func TestChatStoreReconnectsAfterFeedDrop(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	notifier := &recordingNotifier{}
	rec := metrics.New(prometheus.NewRegistry())
	s := newStore(t, repo, "u1",
		WithNotifier(notifier),
		WithMetrics(rec),
		WithReconnectBackoff(5*time.Millisecond, 20*time.Millisecond),
	)
	chatID, err := s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}})
	require.NoError(t, err)

	repo.FailNext(adapter.OpListActiveChats, errors.Unavailable("still offline", nil))
	repo.DropFeeds(stderrors.New("transport closed"))
	_, err = repo.SendMessage(ctx, repository.SendMessageParams{ChatID: chatID, SenderID: "u2", ReceiverID: "u1", Content: "during the gap"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return repo.SubscriberCount("u1") == 1 && len(s.Messages(chatID)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "during the gap", s.Messages(chatID)[0].Content)
	assert.True(t, s.Initialized())
	assert.GreaterOrEqual(t, testutil.ToFloat64(rec.FeedReconnects), float64(2))
	assert.NotEmpty(t, notifier.all())
}

func TestChatStoreCleanupStopsReconnect(t *testing.T) {
	repo := adapter.NewMemoryChatRepository()
	s := newStore(t, repo, "u1", WithReconnectBackoff(50*time.Millisecond, 50*time.Millisecond))

	repo.DropFeeds(stderrors.New("transport closed"))
	s.Cleanup()

	time.Sleep(120 * time.Millisecond)
	assert.Zero(t, repo.SubscriberCount("u1"))
	assert.False(t, s.Initialized())
}

func TestChatStoreRehydratesFromCache(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	cache, err := adapter.NewSQLiteChatCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	first := newStore(t, repo, "u1", WithCache(cache))
	chatID, err := first.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}})
	require.NoError(t, err)
	_, err = first.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "Hi", SenderID: "u1", ReceiverID: "u2"})
	require.NoError(t, err)
	first.Cleanup()

	// The remote is unreachable, but the cached copy is still shown.
	repo.FailNext(adapter.OpListActiveChats, errors.Unavailable("offline", nil))
	second := NewChatStore("u1", repo, repo, WithCache(cache))
	t.Cleanup(second.Cleanup)
	require.Error(t, second.Initialize(ctx))

	require.Len(t, second.Chats(), 1)
	msgs := second.Messages(chatID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi", msgs[0].Content)

	second.Reset()
	cachedChats, _, err := cache.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cachedChats)
}

func TestChatStoreArchivedMessagesRequiresParticipant(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	chat, _ := repo.CreateChat(ctx, [2]string{"u2", "u3"}, "")
	s := newStore(t, repo, "u1")

	_, err := s.ArchivedMessages(ctx, chat.ID)
	assert.True(t, errors.Is(err, errors.CodeForbidden))
}

func TestChatStoreResetDuringInitializeReportsIt(t *testing.T) {
	repo := newGatedChatRepository()
	_, err := repo.CreateChat(context.Background(), [2]string{"u1", "u2"}, "")
	require.NoError(t, err)
	s := NewChatStore("u1", repo, repo)
	t.Cleanup(s.Cleanup)

	done := make(chan error, 1)
	go func() { done <- s.Initialize(context.Background()) }()
	<-repo.entered
	s.Reset()
	close(repo.release)

	err = <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreReset)
	assert.True(t, errors.Is(err, errors.CodeUnavailable))
	assert.False(t, s.Initialized())
	assert.Empty(t, s.Chats())
	assert.Zero(t, repo.SubscriberCount("u1"))

	require.NoError(t, s.Initialize(context.Background()))
	assert.True(t, s.Initialized())
	assert.Len(t, s.Chats(), 1)
}

func TestChatStoreReadReceiptForOlderMessageAfterResubscribe(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	var ahead atomic.Int64
	clock := func() time.Time { return time.Now().Add(time.Duration(ahead.Load())) }
	tenant := newStore(t, repo, "u1", WithClock(clock))
	landlord := newStore(t, repo, "u2")

	chatID, err := tenant.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}})
	require.NoError(t, err)
	_, err = tenant.SendMessage(ctx, SendMessageInput{ChatID: chatID, Content: "Hi", SenderID: "u1", ReceiverID: "u2"})
	require.NoError(t, err)
	require.Len(t, landlord.Messages(chatID), 1)

	// The new subscription starts well after the message was created.
	ahead.Store(int64(time.Hour))
	tenant.Cleanup()
	require.NoError(t, tenant.Initialize(ctx))
	require.Len(t, tenant.Messages(chatID), 1)
	require.False(t, tenant.Messages(chatID)[0].Read)

	require.NoError(t, landlord.MarkAsRead(ctx, chatID, "u2"))
	assert.True(t, tenant.Messages(chatID)[0].Read, "read receipt reaches the sender")
}

func TestChatStoreNoCacheWriteAfterDeleteChat(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	cache := newCacheLog(t)
	s := newStore(t, repo, "u1", WithCache(cache))
	chatID, err := s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}})
	require.NoError(t, err)

	// The chat is archived after the message reached memory but before it
	// reached the cache.
	var once sync.Once
	s.Subscribe(func(ev StoreEvent) {
		if ev.Type == EventMessageAdded {
			once.Do(func() { assert.NoError(t, s.DeleteChat(ctx, ev.ChatID)) })
		}
	})
	_, err = repo.SendMessage(ctx, repository.SendMessageParams{ChatID: chatID, SenderID: "u2", ReceiverID: "u1", Content: "Hi"})
	require.NoError(t, err)

	ops := cache.all()
	require.NotEmpty(t, ops)
	assert.Equal(t, "delete_chat", ops[len(ops)-1])
	assert.NotContains(t, ops, "put_message")

	_, cached, err := cache.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cached[chatID])
}

func TestChatStoreNoCacheWriteAfterReset(t *testing.T) {
	ctx := context.Background()
	repo := adapter.NewMemoryChatRepository()
	cache := newCacheLog(t)
	s := newStore(t, repo, "u1", WithCache(cache))
	chatID, err := s.CreateChat(ctx, CreateChatInput{Participants: [2]string{"u1", "u2"}})
	require.NoError(t, err)

	var once sync.Once
	s.Subscribe(func(ev StoreEvent) {
		if ev.Type == EventMessageAdded {
			once.Do(s.Reset)
		}
	})
	_, err = repo.SendMessage(ctx, repository.SendMessageParams{ChatID: chatID, SenderID: "u2", ReceiverID: "u1", Content: "Hi"})
	require.NoError(t, err)

	ops := cache.all()
	require.NotEmpty(t, ops)
	assert.Equal(t, "clear", ops[len(ops)-1])

	chats, cached, err := cache.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, chats)
	assert.Empty(t, cached)
}
