package usecase

import (
	"context"

	"rentalhub/internal/domain/repository"
	"rentalhub/pkg/errors"
)

// MarkAsRead marks every message of chatID received by userID as read, on the
// remote first and then locally. Calling it again changes nothing.
func (s *ChatStore) MarkAsRead(ctx context.Context, chatID, userID string) error {
	if chatID == "" || userID == "" {
		err := errors.Validation("Chat id and user id are required")
		s.fail("mark_as_read", err)
		return err
	}
	if err := s.remote.MarkMessagesRead(ctx, chatID, userID); err != nil {
		s.fail("mark_as_read", err)
		return err
	}

	s.mu.Lock()
	epoch := s.epoch
	var ids []string
	for _, msg := range s.messages[chatID] {
		if msg.ReceiverID == userID && !msg.Read && !msg.Pending {
			msg.Read = true
			ids = append(ids, msg.ID)
		}
	}
	s.mu.Unlock()

	if len(ids) > 0 {
		s.emit(StoreEvent{Type: EventMessagesRead, ChatID: chatID, MessageIDs: ids})
	}
	s.writeCache(epoch, chatID, func(cache repository.ChatCache) error {
		return cache.MarkRead(ctx, s.userID, chatID, userID)
	})
	s.metrics.Operation("mark_as_read", nil)
	return nil
}

// UnreadCount is computed from the messages on every call; there is no stored
// counter.
func (s *ChatStore) UnreadCount(chatID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadLocked(chatID, userID)
}

func (s *ChatStore) TotalUnread(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, chat := range s.chats {
		total += s.unreadLocked(chat.ID, userID)
	}
	return total
}

func (s *ChatStore) unreadLocked(chatID, userID string) int {
	n := 0
	for _, msg := range s.messages[chatID] {
		if msg.ReceiverID == userID && !msg.Read {
			n++
		}
	}
	return n
}
