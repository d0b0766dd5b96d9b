package usecase

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"rentalhub/internal/domain/entity"
	"rentalhub/internal/domain/repository"
	"rentalhub/pkg/errors"
	"rentalhub/pkg/logger"
)

type SendMessageInput struct {
	ChatID     string
	Content    string
	SenderID   string
	ReceiverID string
	PropertyID string
	Payload    entity.Payload
}

type CreateChatInput struct {
	Participants [2]string
	PropertyID   string
}

// SendMessage validates the message locally and hands it to the remote
// send_message procedure. Unless optimistic sending is enabled the message
// only shows up in the store once the change feed delivers it.
func (s *ChatStore) SendMessage(ctx context.Context, input SendMessageInput) (*entity.Message, error) {
	draft := &entity.Message{
		ChatID:     input.ChatID,
		SenderID:   input.SenderID,
		ReceiverID: input.ReceiverID,
		Content:    input.Content,
		Payload:    input.Payload,
	}
	if err := draft.Validate(); err != nil {
		appErr := errors.Validation(err.Error())
		s.fail("send_message", appErr)
		return nil, appErr
	}
	if input.SenderID != s.userID {
		err := errors.Forbidden("You can only send messages as yourself", nil)
		s.fail("send_message", err)
		return nil, err
	}

	s.mu.Lock()
	i := s.chatIndexLocked(input.ChatID)
	if i < 0 {
		s.mu.Unlock()
		err := errors.NotFound("Chat", nil)
		s.fail("send_message", err)
		return nil, err
	}
	if s.chats[i].Counterpart(input.SenderID) != input.ReceiverID {
		s.mu.Unlock()
		err := errors.Validation("Sender and receiver must be the chat's participants")
		s.fail("send_message", err)
		return nil, err
	}

	var pending *entity.Message
	var events []StoreEvent
	epoch := s.epoch
	if s.optimistic {
		clientID := uuid.New().String()
		pending = draft.Clone()
		pending.ID = "local-" + clientID
		pending.ClientID = clientID
		pending.Pending = true
		pending.CreatedAt = s.now()
		s.messages[input.ChatID] = insertSorted(s.messages[input.ChatID], pending)
		events = append(events, StoreEvent{Type: EventMessageAdded, ChatID: input.ChatID, Message: pending.Clone()})
	}
	s.mu.Unlock()
	s.emit(events...)

	params := repository.SendMessageParams{
		ChatID:     input.ChatID,
		SenderID:   input.SenderID,
		ReceiverID: input.ReceiverID,
		PropertyID: input.PropertyID,
		Content:    input.Content,
		Payload:    input.Payload,
	}
	if pending != nil {
		params.ClientID = pending.ClientID
	}

	sent, err := s.remote.SendMessage(ctx, params)
	if err != nil {
		if pending != nil {
			s.dropPending(input.ChatID, pending.ID)
		}
		s.fail("send_message", err)
		return nil, err
	}

	if pending != nil {
		s.confirmPending(epoch, pending, sent)
	}
	s.metrics.Operation("send_message", nil)
	return sent, nil
}

func (s *ChatStore) dropPending(chatID, pendingID string) {
	s.mu.Lock()
	list := s.messages[chatID]
	i := indexOfMessage(list, pendingID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.messages[chatID] = append(list[:i], list[i+1:]...)
	s.mu.Unlock()

	s.emit(StoreEvent{Type: EventMessageRemoved, ChatID: chatID, MessageIDs: []string{pendingID}})
}

// confirmPending swaps the pending entry for the stored row, unless the feed
// already did.
func (s *ChatStore) confirmPending(epoch uint64, pending, sent *entity.Message) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	list := s.messages[sent.ChatID]
	if indexOfMessage(list, sent.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	if indexOfMessage(list, pending.ID) < 0 || s.chatIndexLocked(sent.ChatID) < 0 {
		s.mu.Unlock()
		return
	}
	events := s.insertMessageLocked(sent)
	s.mu.Unlock()

	s.emit(events...)
	s.cacheMessage(epoch, sent)
}

// CreateChat returns the id of the chat between the two participants, creating
// it remotely if no active one exists, and makes it the newest and active chat.
func (s *ChatStore) CreateChat(ctx context.Context, input CreateChatInput) (string, error) {
	p := input.Participants
	if p[0] == "" || p[1] == "" || p[0] == p[1] {
		err := errors.Validation("A chat needs exactly two distinct participants")
		s.fail("create_chat", err)
		return "", err
	}
	if p[0] != s.userID && p[1] != s.userID {
		err := errors.Forbidden("You can only create chats you take part in", nil)
		s.fail("create_chat", err)
		return "", err
	}

	chat, err := s.remote.CreateChat(ctx, p, input.PropertyID)
	if err != nil {
		s.fail("create_chat", err)
		return "", err
	}

	s.mu.Lock()
	epoch := s.epoch
	s.moveToFrontLocked(chat)
	cp := *chat
	events := []StoreEvent{{Type: EventChatUpserted, ChatID: chat.ID, Chat: &cp}}
	if s.activeChatID != chat.ID {
		s.activeChatID = chat.ID
		events = append(events, StoreEvent{Type: EventActiveChatChanged, ChatID: chat.ID})
	}
	s.mu.Unlock()

	s.emit(events...)
	s.writeCache(epoch, chat.ID, func(cache repository.ChatCache) error {
		return cache.PutChat(ctx, s.userID, chat)
	})
	s.metrics.Operation("create_chat", nil)
	return chat.ID, nil
}

// DeleteChat archives the chat remotely and forgets it locally. The remote
// keeps the chat and its messages.
func (s *ChatStore) DeleteChat(ctx context.Context, chatID string) error {
	if chatID == "" {
		err := errors.Validation("Chat id is required")
		s.fail("delete_chat", err)
		return err
	}
	if err := s.remote.ArchiveChat(ctx, chatID); err != nil {
		s.fail("delete_chat", err)
		return err
	}

	s.mu.Lock()
	var events []StoreEvent
	if i := s.chatIndexLocked(chatID); i >= 0 {
		s.chats = append(s.chats[:i], s.chats[i+1:]...)
	}
	delete(s.messages, chatID)
	events = append(events, StoreEvent{Type: EventChatRemoved, ChatID: chatID})
	if s.activeChatID == chatID {
		s.activeChatID = ""
		events = append(events, StoreEvent{Type: EventActiveChatChanged})
	}
	s.mu.Unlock()

	s.emit(events...)
	if s.cache != nil {
		s.cacheMu.Lock()
		if err := s.cache.DeleteChat(ctx, s.userID, chatID); err != nil {
			logger.Warn("Chat cache delete failed for user %s: %v", s.userID, err)
		}
		s.cacheMu.Unlock()
	}
	s.metrics.Operation("delete_chat", nil)
	return nil
}

// SetActiveChat changes which chat the UI is focused on. An empty id clears
// it. Messages are not marked read.
func (s *ChatStore) SetActiveChat(chatID string) {
	s.mu.Lock()
	if s.activeChatID == chatID {
		s.mu.Unlock()
		return
	}
	s.activeChatID = chatID
	s.mu.Unlock()

	s.emit(StoreEvent{Type: EventActiveChatChanged, ChatID: chatID})
}

// ArchivedMessages re-fetches a chat's messages straight from the remote,
// whether or not the chat is still active. Local state is not touched.
func (s *ChatStore) ArchivedMessages(ctx context.Context, chatID string) ([]*entity.Message, error) {
	chat, err := s.remote.GetChat(ctx, chatID)
	if err != nil {
		s.fail("archived_messages", err)
		return nil, err
	}
	if !chat.HasParticipant(s.userID) {
		err := errors.Forbidden("You are not a participant of this chat", nil)
		s.fail("archived_messages", err)
		return nil, err
	}

	messages, err := s.remote.ListChatMessages(ctx, chatID)
	if err != nil {
		s.fail("archived_messages", err)
		return nil, err
	}
	sort.SliceStable(messages, func(i, j int) bool { return messageBefore(messages[i], messages[j]) })
	s.metrics.Operation("archived_messages", nil)
	return messages, nil
}
