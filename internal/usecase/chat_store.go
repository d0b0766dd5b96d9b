package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"rentalhub/internal/domain/entity"
	"rentalhub/internal/domain/repository"
	"rentalhub/internal/infrastructure/metrics"
	"rentalhub/pkg/errors"
	"rentalhub/pkg/logger"
)

type StoreEventType string

const (
	EventChatsLoaded       StoreEventType = "chats_loaded"
	EventChatUpserted      StoreEventType = "chat_upserted"
	EventChatRemoved       StoreEventType = "chat_removed"
	EventMessageAdded      StoreEventType = "message_added"
	EventMessageReplaced   StoreEventType = "message_replaced"
	EventMessageRemoved    StoreEventType = "message_removed"
	EventMessagesRead      StoreEventType = "messages_read"
	EventActiveChatChanged StoreEventType = "active_chat_changed"
	EventStoreReset        StoreEventType = "store_reset"
)

// StoreEvent describes one change of a ChatStore's state. Values carried by an
// event are copies.
type StoreEvent struct {
	Type       StoreEventType  `json:"type"`
	ChatID     string          `json:"chat_id,omitempty"`
	Chat       *entity.Chat    `json:"chat,omitempty"`
	Message    *entity.Message `json:"message,omitempty"`
	ReplacedID string          `json:"replaced_id,omitempty"`
	MessageIDs []string        `json:"message_ids,omitempty"`
}

type StoreListener func(StoreEvent)

type NotificationLevel string

const (
	NotificationError NotificationLevel = "error"
	NotificationInfo  NotificationLevel = "info"
)

// Notification is a transient message meant for the user (a toast).
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
}

type Notifier interface {
	Notify(n Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

type StoreOption func(*ChatStore)

// WithCache makes the store write its state through to cache and rehydrate
// from it on Initialize.
func WithCache(cache repository.ChatCache) StoreOption {
	return func(s *ChatStore) { s.cache = cache }
}

func WithNotifier(n Notifier) StoreOption {
	return func(s *ChatStore) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithMetrics(m *metrics.Recorder) StoreOption {
	return func(s *ChatStore) { s.metrics = m }
}

// WithOptimisticSend shows sent messages as pending entries until the remote
// confirms them.
func WithOptimisticSend(enabled bool) StoreOption {
	return func(s *ChatStore) { s.optimistic = enabled }
}

// WithReconnectBackoff sets the delay window used after the change feed drops.
func WithReconnectBackoff(initial, maxDelay time.Duration) StoreOption {
	return func(s *ChatStore) {
		if initial > 0 {
			s.backoffInitial = initial
		}
		if maxDelay >= s.backoffInitial {
			s.backoffMax = maxDelay
		}
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *ChatStore) {
		if now != nil {
			s.now = now
		}
	}
}

// ChatStore holds one user's chats and messages and keeps them in step with
// the remote service. Every mutation goes through the remote first; the change
// feed keeps the local copy current afterwards.
type ChatStore struct {
	userID   string
	remote   repository.ChatRepository
	feed     repository.MessageFeed
	cache    repository.ChatCache
	notifier Notifier
	metrics  *metrics.Recorder

	optimistic     bool
	backoffInitial time.Duration
	backoffMax     time.Duration
	now            func() time.Time

	// cacheMu orders cache writes against Clear and DeleteChat. It is taken
	// before mu, never while holding it.
	cacheMu sync.Mutex

	mu           sync.Mutex
	chats        []*entity.Chat
	messages     map[string][]*entity.Message
	activeChatID string
	initialized  bool
	initializing bool
	loading      bool
	lastError    string

	sub       repository.Subscription
	subGen    uint64
	epoch     uint64
	runCancel context.CancelFunc

	listeners    map[int]StoreListener
	nextListener int
}

func NewChatStore(userID string, remote repository.ChatRepository, feed repository.MessageFeed, opts ...StoreOption) *ChatStore {
	s := &ChatStore{
		userID:         userID,
		remote:         remote,
		feed:           feed,
		notifier:       nopNotifier{},
		backoffInitial: time.Second,
		backoffMax:     30 * time.Second,
		now:            time.Now,
		messages:       make(map[string][]*entity.Message),
		listeners:      make(map[int]StoreListener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ChatStore) UserID() string {
	return s.userID
}

// ErrStoreReset is returned by Initialize when Cleanup or Reset tore the store
// down before loading finished.
var ErrStoreReset = errors.Unavailable("Chat store was reset while loading", nil)

// Initialize loads all active chats with their messages and opens the change
// feed. It does nothing when the store is already initialized or another call
// is doing the work.
func (s *ChatStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized || s.initializing {
		s.mu.Unlock()
		return nil
	}
	s.initializing = true
	s.loading = true
	epoch := s.epoch
	runCtx, cancel := context.WithCancel(context.Background())
	s.runCancel = cancel
	empty := len(s.chats) == 0
	s.mu.Unlock()

	if empty {
		s.rehydrate(ctx, epoch)
	}

	err := s.loadAndSubscribe(ctx, runCtx, epoch)

	s.mu.Lock()
	if s.epoch != epoch {
		// Cleanup or Reset ran while we were loading; they own the flags now.
		s.mu.Unlock()
		cancel()
		return ErrStoreReset
	}
	s.initializing = false
	s.loading = false
	if err != nil {
		s.initialized = false
		s.runCancel = nil
	} else {
		s.initialized = true
		s.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		cancel()
		s.fail("initialize", err)
		return err
	}
	s.metrics.Operation("initialize", nil)
	logger.Info("Chat store for user %s initialized", s.userID)
	return nil
}

// rehydrate fills an empty store from the persisted cache so the UI has
// something to show before the remote answers.
func (s *ChatStore) rehydrate(ctx context.Context, epoch uint64) {
	if s.cache == nil {
		return
	}
	chats, messages, err := s.cache.Load(ctx, s.userID)
	if err != nil {
		logger.Warn("Chat cache load failed for user %s: %v", s.userID, err)
		return
	}
	if len(chats) == 0 {
		return
	}

	s.mu.Lock()
	if s.epoch != epoch || len(s.chats) > 0 {
		s.mu.Unlock()
		return
	}
	s.replaceStateLocked(chats, messages)
	s.mu.Unlock()

	s.emit(StoreEvent{Type: EventChatsLoaded})
}

// loadAndSubscribe is the bulk-load path shared by Initialize and the feed
// reconnect loop. Remote reads use ctx; the feed lives on runCtx.
func (s *ChatStore) loadAndSubscribe(ctx, runCtx context.Context, epoch uint64) error {
	since := s.now()

	chats, err := s.remote.ListActiveChats(ctx, s.userID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(chats))
	for _, chat := range chats {
		ids = append(ids, chat.ID)
	}

	byChat := make(map[string][]*entity.Message, len(chats))
	if len(ids) > 0 {
		rows, err := s.remote.ListMessagesForChats(ctx, ids)
		if err != nil {
			return err
		}
		for _, msg := range rows {
			byChat[msg.ChatID] = append(byChat[msg.ChatID], msg)
		}
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil
	}
	s.replaceStateLocked(chats, byChat)
	snapshotChats, snapshotMessages := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(StoreEvent{Type: EventChatsLoaded})

	s.writeCache(epoch, "", func(cache repository.ChatCache) error {
		return cache.ReplaceAll(ctx, s.userID, snapshotChats, snapshotMessages)
	})

	return s.subscribe(runCtx, since, epoch)
}

// replaceStateLocked installs a fresh copy of the remote state. Pending
// optimistic entries whose chat survived are carried over.
func (s *ChatStore) replaceStateLocked(chats []*entity.Chat, messages map[string][]*entity.Message) {
	next := make(map[string][]*entity.Message, len(chats))
	for _, chat := range chats {
		list := append([]*entity.Message(nil), messages[chat.ID]...)
		sort.SliceStable(list, func(i, j int) bool { return messageBefore(list[i], list[j]) })
		list = dedupByID(list)

		confirmed := make(map[string]bool)
		for _, msg := range list {
			if msg.ClientID != "" {
				confirmed[msg.ClientID] = true
			}
		}
		for _, old := range s.messages[chat.ID] {
			if old.Pending && !confirmed[old.ClientID] {
				list = insertSorted(list, old)
			}
		}
		next[chat.ID] = list
	}

	s.chats = append([]*entity.Chat(nil), chats...)
	s.messages = next
	if s.activeChatID != "" && s.chatIndexLocked(s.activeChatID) < 0 {
		s.activeChatID = ""
	}
}

func (s *ChatStore) snapshotLocked() ([]*entity.Chat, map[string][]*entity.Message) {
	chats := make([]*entity.Chat, len(s.chats))
	for i, chat := range s.chats {
		cp := *chat
		chats[i] = &cp
	}
	messages := make(map[string][]*entity.Message, len(s.messages))
	for chatID, list := range s.messages {
		messages[chatID] = cloneMessages(list)
	}
	return chats, messages
}

// Cleanup stops the change feed and clears the lifecycle flags. Loaded chats
// and messages are kept.
func (s *ChatStore) Cleanup() {
	s.mu.Lock()
	sub, cancel := s.teardownLocked()
	s.mu.Unlock()

	stop(sub, cancel)
	logger.Debug("Chat store for user %s cleaned up", s.userID)
}

// Reset stops the change feed and drops every piece of local state, including
// the persisted cache.
func (s *ChatStore) Reset() {
	s.mu.Lock()
	sub, cancel := s.teardownLocked()
	s.chats = nil
	s.messages = make(map[string][]*entity.Message)
	s.activeChatID = ""
	s.lastError = ""
	s.mu.Unlock()

	stop(sub, cancel)

	if s.cache != nil {
		s.cacheMu.Lock()
		if err := s.cache.Clear(context.Background(), s.userID); err != nil {
			logger.Warn("Chat cache clear failed for user %s: %v", s.userID, err)
		}
		s.cacheMu.Unlock()
	}
	s.emit(StoreEvent{Type: EventStoreReset})
	logger.Debug("Chat store for user %s reset", s.userID)
}

// writeCache runs fn against the cache unless the store was torn down after
// epoch or chatID is no longer listed. An empty chatID skips the listing check.
func (s *ChatStore) writeCache(epoch uint64, chatID string, fn func(cache repository.ChatCache) error) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.mu.Lock()
	live := s.epoch == epoch && (chatID == "" || s.chatIndexLocked(chatID) >= 0)
	s.mu.Unlock()
	if !live {
		return
	}
	if err := fn(s.cache); err != nil {
		logger.Warn("Chat cache write failed for user %s: %v", s.userID, err)
	}
}

func (s *ChatStore) teardownLocked() (repository.Subscription, context.CancelFunc) {
	sub, cancel := s.sub, s.runCancel
	s.sub = nil
	s.runCancel = nil
	s.subGen++
	s.epoch++
	s.initialized = false
	s.initializing = false
	s.loading = false
	return sub, cancel
}

func stop(sub repository.Subscription, cancel context.CancelFunc) {
	if sub != nil {
		sub.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

// Subscribe registers listener for state changes. Listeners run outside the
// store lock, on whichever goroutine made the change.
func (s *ChatStore) Subscribe(listener StoreListener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *ChatStore) emit(events ...StoreEvent) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	listeners := make([]StoreListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}

// fail logs err, shows it to the user and remembers it as the last error.
func (s *ChatStore) fail(op string, err error) {
	logger.Error("ChatStore %s Error: user %s: %v", op, s.userID, err)
	msg := errors.UserMessage(err)

	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()

	s.notifier.Notify(Notification{Level: NotificationError, Message: msg})
	s.metrics.Operation(op, err)
}

func (s *ChatStore) Chats() []*entity.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*entity.Chat, len(s.chats))
	for i, chat := range s.chats {
		cp := *chat
		out[i] = &cp
	}
	return out
}

// Messages returns the chat's messages sorted by creation time.
func (s *ChatStore) Messages(chatID string) []*entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessages(s.messages[chatID])
}

func (s *ChatStore) Chat(chatID string) (*entity.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.chatIndexLocked(chatID)
	if i < 0 {
		return nil, false
	}
	cp := *s.chats[i]
	return &cp, true
}

func (s *ChatStore) ActiveChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChatID
}

func (s *ChatStore) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *ChatStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *ChatStore) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *ChatStore) chatIndexLocked(chatID string) int {
	for i, chat := range s.chats {
		if chat.ID == chatID {
			return i
		}
	}
	return -1
}

// moveToFrontLocked puts chat at the head of the list, replacing any entry with
// the same id.
func (s *ChatStore) moveToFrontLocked(chat *entity.Chat) {
	if i := s.chatIndexLocked(chat.ID); i >= 0 {
		s.chats = append(s.chats[:i], s.chats[i+1:]...)
	}
	s.chats = append([]*entity.Chat{chat}, s.chats...)
	if _, ok := s.messages[chat.ID]; !ok {
		s.messages[chat.ID] = nil
	}
}

func messageBefore(a, b *entity.Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func insertSorted(list []*entity.Message, msg *entity.Message) []*entity.Message {
	i := sort.Search(len(list), func(i int) bool { return messageBefore(msg, list[i]) })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = msg
	return list
}

func indexOfMessage(list []*entity.Message, id string) int {
	for i, msg := range list {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

// dedupByID keeps the first row of every id in an already sorted list.
func dedupByID(list []*entity.Message) []*entity.Message {
	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, msg := range list {
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		out = append(out, msg)
	}
	return out
}

func cloneMessages(list []*entity.Message) []*entity.Message {
	out := make([]*entity.Message, len(list))
	for i, msg := range list {
		out[i] = msg.Clone()
	}
	return out
}
