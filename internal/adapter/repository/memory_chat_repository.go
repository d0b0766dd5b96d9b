package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rentalhub/internal/domain/entity"
	"rentalhub/internal/domain/repository"
	"rentalhub/pkg/errors"
)

// MemoryChatRepository is a process-local remote: it implements both
// repository.ChatRepository and repository.MessageFeed. Feed events are
// delivered synchronously on the goroutine that caused them.
type MemoryChatRepository struct {
	mu       sync.Mutex
	chats    map[string]*entity.Chat
	messages []*entity.Message
	subs     map[int]*memorySubscription
	nextSub  int
	failures map[string]error
	last     time.Time
}

var (
	_ repository.ChatRepository = (*MemoryChatRepository)(nil)
	_ repository.MessageFeed    = (*MemoryChatRepository)(nil)
)

// Operation names accepted by FailNext.
const (
	OpGetChat              = "get_chat"
	OpListActiveChats      = "list_active_chats"
	OpListMessagesForChats = "list_messages_for_chats"
	OpSendMessage          = "send_message"
	OpMarkMessagesRead     = "mark_messages_read"
	OpCreateChat           = "create_chat"
	OpArchiveChat          = "archive_chat"
	OpSubscribe            = "subscribe"
)

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		chats:    make(map[string]*entity.Chat),
		subs:     make(map[int]*memorySubscription),
		failures: make(map[string]error),
	}
}

// FailNext makes the next call of op return err.
func (r *MemoryChatRepository) FailNext(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = err
}

func (r *MemoryChatRepository) takeFailure(op string) error {
	err, ok := r.failures[op]
	if !ok {
		return nil
	}
	delete(r.failures, op)
	return err
}

// now returns strictly increasing timestamps so creation order is total.
func (r *MemoryChatRepository) now() time.Time {
	t := time.Now().UTC()
	if !t.After(r.last) {
		t = r.last.Add(time.Microsecond)
	}
	r.last = t
	return t
}

func (r *MemoryChatRepository) GetChat(ctx context.Context, chatID string) (*entity.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.takeFailure(OpGetChat); err != nil {
		return nil, err
	}
	chat, ok := r.chats[chatID]
	if !ok {
		return nil, errors.NotFound("Chat", nil)
	}
	cp := *chat
	return &cp, nil
}

func (r *MemoryChatRepository) ListActiveChats(ctx context.Context, userID string) ([]*entity.Chat, error) {
	r.mu.Lock()
	if err := r.takeFailure(OpListActiveChats); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()
	return r.ListChatsByStatus(ctx, userID, entity.ChatStatusActive)
}

func (r *MemoryChatRepository) ListChatsByStatus(ctx context.Context, userID string, status entity.ChatStatus) ([]*entity.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var chats []*entity.Chat
	for _, chat := range r.chats {
		if chat.Status == status && chat.HasParticipant(userID) {
			cp := *chat
			chats = append(chats, &cp)
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		if chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func (r *MemoryChatRepository) ListMessagesForChats(ctx context.Context, chatIDs []string) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.takeFailure(OpListMessagesForChats); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(chatIDs))
	for _, id := range chatIDs {
		wanted[id] = true
	}
	var out []*entity.Message
	for _, msg := range r.messages {
		if wanted[msg.ChatID] {
			out = append(out, msg.Clone())
		}
	}
	return out, nil
}

func (r *MemoryChatRepository) ListChatMessages(ctx context.Context, chatID string) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.Message
	for _, msg := range r.messages {
		if msg.ChatID == chatID {
			out = append(out, msg.Clone())
		}
	}
	return out, nil
}

func (r *MemoryChatRepository) SendMessage(ctx context.Context, params repository.SendMessageParams) (*entity.Message, error) {
	r.mu.Lock()

	if err := r.takeFailure(OpSendMessage); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	chat, ok := r.chats[params.ChatID]
	if !ok {
		r.mu.Unlock()
		return nil, errors.NotFound("Chat", nil)
	}
	if !chat.IsActive() {
		r.mu.Unlock()
		return nil, errors.BadRequest("Chat is archived", nil)
	}
	if !chat.HasParticipant(params.SenderID) || chat.Counterpart(params.SenderID) != params.ReceiverID {
		r.mu.Unlock()
		return nil, errors.Forbidden("Sender and receiver must be the chat's participants", nil)
	}
	if params.ClientID != "" {
		for _, existing := range r.messages {
			if existing.ChatID == params.ChatID && existing.ClientID == params.ClientID {
				cp := existing.Clone()
				r.mu.Unlock()
				return cp, nil
			}
		}
	}

	now := r.now()
	msg := &entity.Message{
		ID:         uuid.New().String(),
		ChatID:     params.ChatID,
		SenderID:   params.SenderID,
		ReceiverID: params.ReceiverID,
		Content:    params.Content,
		Payload:    params.Payload,
		CreatedAt:  now,
		ClientID:   params.ClientID,
	}
	if msg.Payload != nil {
		msg.Payload = msg.Clone().Payload
	}
	r.messages = append(r.messages, msg)
	chat.UpdatedAt = now
	targets := r.subscribersFor(msg, false)
	r.mu.Unlock()

	deliver(targets, repository.FeedEvent{Kind: repository.FeedEventInsert, Message: msg})
	return msg.Clone(), nil
}

func (r *MemoryChatRepository) MarkMessagesRead(ctx context.Context, chatID, userID string) error {
	r.mu.Lock()

	if err := r.takeFailure(OpMarkMessagesRead); err != nil {
		r.mu.Unlock()
		return err
	}
	type pending struct {
		msg     *entity.Message
		targets []*memorySubscription
	}
	var updates []pending
	for _, msg := range r.messages {
		if msg.ChatID == chatID && msg.ReceiverID == userID && !msg.Read {
			msg.Read = true
			updates = append(updates, pending{msg: msg, targets: r.subscribersFor(msg, true)})
		}
	}
	r.mu.Unlock()

	for _, u := range updates {
		deliver(u.targets, repository.FeedEvent{Kind: repository.FeedEventUpdate, Message: u.msg})
	}
	return nil
}

func (r *MemoryChatRepository) CreateChat(ctx context.Context, participants [2]string, propertyID string) (*entity.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.takeFailure(OpCreateChat); err != nil {
		return nil, err
	}
	key := entity.PairKey(participants)
	for _, chat := range r.chats {
		if chat.IsActive() && chat.PairKey() == key && chat.PropertyID == propertyID {
			cp := *chat
			return &cp, nil
		}
	}

	now := r.now()
	chat := &entity.Chat{
		ID:           uuid.New().String(),
		Participants: participants,
		PropertyID:   propertyID,
		Status:       entity.ChatStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.chats[chat.ID] = chat
	cp := *chat
	return &cp, nil
}

func (r *MemoryChatRepository) ArchiveChat(ctx context.Context, chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.takeFailure(OpArchiveChat); err != nil {
		return err
	}
	chat, ok := r.chats[chatID]
	if !ok {
		return errors.NotFound("Chat", nil)
	}
	chat.Status = entity.ChatStatusArchived
	chat.UpdatedAt = r.now()
	return nil
}

// Subscribe first replays the rows created at or after since, like the initial
// result of a snapshot listener, then follows new changes.
func (r *MemoryChatRepository) Subscribe(ctx context.Context, userID string, since time.Time, handler repository.FeedHandler) (repository.Subscription, error) {
	r.mu.Lock()
	if err := r.takeFailure(OpSubscribe); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.nextSub++
	sub := &memorySubscription{
		repo:    r,
		id:      r.nextSub,
		userID:  userID,
		since:   since,
		handler: handler,
		done:    make(chan error, 1),
	}
	r.subs[sub.id] = sub

	var replay []*entity.Message
	for _, msg := range r.messages {
		if (msg.SenderID == userID || msg.ReceiverID == userID) && !msg.CreatedAt.Before(since) {
			replay = append(replay, msg.Clone())
		}
	}
	r.mu.Unlock()

	for _, msg := range replay {
		handler(repository.FeedEvent{Kind: repository.FeedEventInsert, Message: msg})
	}
	return sub, nil
}

// Deliver pushes ev to every live subscription of the message's participants,
// as if the feed had produced it, regardless of the subscription's start time.
// Used to replay, reorder or duplicate deliveries.
func (r *MemoryChatRepository) Deliver(ev repository.FeedEvent) {
	r.mu.Lock()
	var targets []*memorySubscription
	for _, sub := range r.subs {
		if sub.userID == ev.Message.SenderID || sub.userID == ev.Message.ReceiverID {
			targets = append(targets, sub)
		}
	}
	r.mu.Unlock()
	deliver(targets, ev)
}

// DropFeeds ends every live subscription with err, as a transport failure would.
func (r *MemoryChatRepository) DropFeeds(err error) {
	r.mu.Lock()
	subs := make([]*memorySubscription, 0, len(r.subs))
	for id, sub := range r.subs {
		subs = append(subs, sub)
		delete(r.subs, id)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		sub.finish(err)
	}
}

// SubscriberCount reports the live subscriptions for userID.
func (r *MemoryChatRepository) SubscriberCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, sub := range r.subs {
		if sub.userID == userID {
			n++
		}
	}
	return n
}

// subscribersFor lists the subscriptions that see a change to msg. A read flip
// happens now, so it reaches every participant subscription whatever the row's
// age; inserts only reach subscriptions started at or before the row.
func (r *MemoryChatRepository) subscribersFor(msg *entity.Message, readFlip bool) []*memorySubscription {
	var out []*memorySubscription
	for _, sub := range r.subs {
		if sub.userID != msg.SenderID && sub.userID != msg.ReceiverID {
			continue
		}
		if readFlip || !msg.CreatedAt.Before(sub.since) {
			out = append(out, sub)
		}
	}
	return out
}

func deliver(targets []*memorySubscription, ev repository.FeedEvent) {
	for _, sub := range targets {
		sub.handler(repository.FeedEvent{Kind: ev.Kind, Message: ev.Message.Clone()})
	}
}

type memorySubscription struct {
	repo    *MemoryChatRepository
	id      int
	userID  string
	since   time.Time
	handler repository.FeedHandler
	done    chan error
	once    sync.Once
}

func (s *memorySubscription) Stop() {
	s.repo.mu.Lock()
	delete(s.repo.subs, s.id)
	s.repo.mu.Unlock()
	s.finish(nil)
}

func (s *memorySubscription) finish(err error) {
	s.once.Do(func() {
		s.done <- err
		close(s.done)
	})
}

func (s *memorySubscription) Done() <-chan error {
	return s.done
}
