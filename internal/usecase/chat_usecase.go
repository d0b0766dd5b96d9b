package usecase

import (
	"context"
	"sync"

	"rentalhub/internal/domain/entity"
	"rentalhub/internal/domain/repository"
	"rentalhub/internal/infrastructure/metrics"
	"rentalhub/internal/infrastructure/ratelimit"
	"rentalhub/pkg/errors"
	"rentalhub/pkg/logger"
)

// Push message types sent to a user's UI connections.
const (
	PushStoreEvent   = "store_event"
	PushNotification = "notification"
)

// Pusher delivers server-initiated messages to every UI connection of a user.
type Pusher interface {
	PushToUser(userID, msgType string, data interface{})
}

type pushNotifier struct {
	userID string
	pusher Pusher
}

func (n pushNotifier) Notify(x Notification) {
	n.pusher.PushToUser(n.userID, PushNotification, x)
}

type session struct {
	store       *ChatStore
	unsubscribe func()
	// ready admits one initializer at a time; the others wait for its result.
	ready chan struct{}
}

// ChatUseCase owns one ChatStore per signed-in user and routes UI actions to
// it, applying per-user rate limits.
type ChatUseCase struct {
	remote       repository.ChatRepository
	feed         repository.MessageFeed
	cache        repository.ChatCache
	pusher       Pusher
	rateLimiter  *ratelimit.RateLimiter
	metrics      *metrics.Recorder
	storeOptions []StoreOption

	mu       sync.Mutex
	sessions map[string]*session
}

// NewChatUseCase wires the registry. cache and recorder may be nil; storeOpts
// are applied to every store it creates.
func NewChatUseCase(
	remote repository.ChatRepository,
	feed repository.MessageFeed,
	cache repository.ChatCache,
	pusher Pusher,
	rateLimiter *ratelimit.RateLimiter,
	recorder *metrics.Recorder,
	storeOpts ...StoreOption,
) *ChatUseCase {
	if rateLimiter == nil {
		rateLimiter = ratelimit.NewRateLimiter()
	}
	return &ChatUseCase{
		remote:       remote,
		feed:         feed,
		cache:        cache,
		pusher:       pusher,
		rateLimiter:  rateLimiter,
		metrics:      recorder,
		storeOptions: storeOpts,
		sessions:     make(map[string]*session),
	}
}

// ChatSummary is one row of a user's chat list.
type ChatSummary struct {
	Chat        *entity.Chat    `json:"chat"`
	UnreadCount int             `json:"unread_count"`
	LastMessage *entity.Message `json:"last_message,omitempty"`
}

type ChatList struct {
	Chats        []ChatSummary `json:"chats"`
	TotalUnread  int           `json:"total_unread"`
	ActiveChatID string        `json:"active_chat_id,omitempty"`
	Initialized  bool          `json:"initialized"`
	LastError    string        `json:"last_error,omitempty"`
}

// Session returns the user's store, creating it on first use and making sure
// it is initialized. Concurrent callers share the same store and wait, bounded
// by ctx, until the first caller's load finished.
func (uc *ChatUseCase) Session(ctx context.Context, userID string) (*ChatStore, error) {
	if userID == "" {
		return nil, errors.Unauthorized("User not authenticated", nil)
	}

	uc.mu.Lock()
	sess, ok := uc.sessions[userID]
	if !ok {
		sess = uc.newSession(userID)
		uc.sessions[userID] = sess
	}
	uc.mu.Unlock()

	if sess.store.Initialized() {
		return sess.store, nil
	}
	select {
	case sess.ready <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Unavailable("Chat session is still loading", ctx.Err())
	}
	defer func() { <-sess.ready }()

	if err := sess.store.Initialize(ctx); err != nil {
		return nil, err
	}
	return sess.store, nil
}

func (uc *ChatUseCase) newSession(userID string) *session {
	opts := append([]StoreOption(nil), uc.storeOptions...)
	opts = append(opts, WithMetrics(uc.metrics))
	if uc.cache != nil {
		opts = append(opts, WithCache(uc.cache))
	}
	if uc.pusher != nil {
		opts = append(opts, WithNotifier(pushNotifier{userID: userID, pusher: uc.pusher}))
	}

	store := NewChatStore(userID, uc.remote, uc.feed, opts...)
	unsubscribe := func() {}
	if uc.pusher != nil {
		unsubscribe = store.Subscribe(func(ev StoreEvent) {
			uc.pusher.PushToUser(userID, PushStoreEvent, ev)
		})
	}

	uc.metrics.SessionOpened()
	logger.With("user_id", userID, "optimistic", store.optimistic).Info("Chat session opened")
	return &session{store: store, unsubscribe: unsubscribe, ready: make(chan struct{}, 1)}
}

func (uc *ChatUseCase) allow(userID, action string) error {
	ok, wait := uc.rateLimiter.Allow(userID, action)
	if ok {
		return nil
	}
	uc.metrics.Limited(action)
	logger.Warn("Rate limit hit for user %s on %s, retry in %s", userID, action, wait)
	return errors.TooManyRequests("Too many requests, please slow down", wait)
}

// SendMessage sends as userID. A missing receiver defaults to the chat's
// other participant.
func (uc *ChatUseCase) SendMessage(ctx context.Context, userID string, input SendMessageInput) (*entity.Message, error) {
	store, err := uc.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := uc.allow(userID, ratelimit.ActionSendMessage); err != nil {
		return nil, err
	}

	chat, ok := store.Chat(input.ChatID)
	if !ok {
		return nil, errors.NotFound("Chat", nil)
	}
	input.SenderID = userID
	if input.ReceiverID == "" {
		input.ReceiverID = chat.Counterpart(userID)
	}
	return store.SendMessage(ctx, input)
}

func (uc *ChatUseCase) CreateChat(ctx context.Context, userID, counterpartID, propertyID string) (*entity.Chat, error) {
	store, err := uc.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := uc.allow(userID, ratelimit.ActionCreateChat); err != nil {
		return nil, err
	}

	chatID, err := store.CreateChat(ctx, CreateChatInput{
		Participants: [2]string{userID, counterpartID},
		PropertyID:   propertyID,
	})
	if err != nil {
		return nil, err
	}
	chat, ok := store.Chat(chatID)
	if !ok {
		// Archived or reset in the meantime.
		return nil, errors.NotFound("Chat", nil)
	}
	return chat, nil
}

func (uc *ChatUseCase) MarkChatAsRead(ctx context.Context, userID, chatID string) error {
	store, err := uc.Session(ctx, userID)
	if err != nil {
		return err
	}
	return store.MarkAsRead(ctx, chatID, userID)
}

func (uc *ChatUseCase) DeleteChat(ctx context.Context, userID, chatID string) error {
	store, err := uc.Session(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := store.Chat(chatID); !ok {
		return errors.NotFound("Chat", nil)
	}
	return store.DeleteChat(ctx, chatID)
}

// SetActiveChat focuses the user's UI on chatID; "" clears the focus.
func (uc *ChatUseCase) SetActiveChat(ctx context.Context, userID, chatID string) error {
	store, err := uc.Session(ctx, userID)
	if err != nil {
		return err
	}
	if chatID != "" {
		if _, ok := store.Chat(chatID); !ok {
			return errors.NotFound("Chat", nil)
		}
	}
	store.SetActiveChat(chatID)
	return nil
}

func (uc *ChatUseCase) ListChats(ctx context.Context, userID string) (*ChatList, error) {
	store, err := uc.Session(ctx, userID)
	if err != nil {
		return nil, err
	}

	chats := store.Chats()
	list := &ChatList{
		Chats:        make([]ChatSummary, 0, len(chats)),
		ActiveChatID: store.ActiveChatID(),
		Initialized:  store.Initialized(),
		LastError:    store.LastError(),
	}
	for _, chat := range chats {
		summary := ChatSummary{Chat: chat, UnreadCount: store.UnreadCount(chat.ID, userID)}
		if msgs := store.Messages(chat.ID); len(msgs) > 0 {
			summary.LastMessage = msgs[len(msgs)-1]
		}
		list.TotalUnread += summary.UnreadCount
		list.Chats = append(list.Chats, summary)
	}
	return list, nil
}

// ListMessages returns the chat's messages oldest first. Viewing them does not
// mark them read.
func (uc *ChatUseCase) ListMessages(ctx context.Context, userID, chatID string) ([]*entity.Message, error) {
	store, err := uc.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, ok := store.Chat(chatID); !ok {
		return nil, errors.NotFound("Chat", nil)
	}
	return store.Messages(chatID), nil
}

func (uc *ChatUseCase) ArchivedMessages(ctx context.Context, userID, chatID string) ([]*entity.Message, error) {
	store, err := uc.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	return store.ArchivedMessages(ctx, chatID)
}

// Disconnect is called when the user's last UI connection goes away. The feed
// is stopped; loaded data stays for a quick resume.
func (uc *ChatUseCase) Disconnect(userID string) {
	uc.mu.Lock()
	sess, ok := uc.sessions[userID]
	uc.mu.Unlock()

	if ok {
		sess.store.Cleanup()
		logger.Info("Chat session for user %s paused", userID)
	}
}

// Logout tears the user's store down completely and forgets the session.
func (uc *ChatUseCase) Logout(userID string) {
	uc.mu.Lock()
	sess, ok := uc.sessions[userID]
	delete(uc.sessions, userID)
	uc.mu.Unlock()

	if !ok {
		return
	}
	sess.store.Reset()
	sess.unsubscribe()
	uc.rateLimiter.Forget(userID)
	uc.metrics.SessionClosed()
	logger.Info("Chat session closed for user %s", userID)
}

// Shutdown stops every store's feed.
func (uc *ChatUseCase) Shutdown() {
	uc.mu.Lock()
	sessions := make([]*session, 0, len(uc.sessions))
	for _, sess := range uc.sessions {
		sessions = append(sessions, sess)
	}
	uc.mu.Unlock()

	for _, sess := range sessions {
		sess.store.Cleanup()
	}
}

// ActiveSessions reports how many users have a store in memory.
func (uc *ChatUseCase) ActiveSessions() int {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return len(uc.sessions)
}
