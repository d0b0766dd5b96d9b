package usecase

import (
	"context"
	"time"

	"rentalhub/internal/domain/entity"
	"rentalhub/internal/domain/repository"
	"rentalhub/pkg/errors"
	"rentalhub/pkg/logger"
)

// subscribe opens the store's single change-feed subscription, replacing any
// previous one.
func (s *ChatStore) subscribe(runCtx context.Context, since time.Time, epoch uint64) error {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil
	}
	old := s.sub
	s.sub = nil
	s.subGen++
	gen := s.subGen
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}

	sub, err := s.feed.Subscribe(runCtx, s.userID, since, func(ev repository.FeedEvent) {
		s.applyFeedEvent(runCtx, gen, ev)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.subGen != gen || s.epoch != epoch {
		s.mu.Unlock()
		sub.Stop()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	go s.watch(runCtx, gen, epoch, sub)
	return nil
}

// watch waits for the subscription to end. A transport failure starts the
// reconnect loop; a deliberate stop does nothing.
func (s *ChatStore) watch(runCtx context.Context, gen, epoch uint64, sub repository.Subscription) {
	var err error
	select {
	case err = <-sub.Done():
	case <-runCtx.Done():
		return
	}
	if err == nil {
		return
	}

	s.mu.Lock()
	if s.subGen != gen || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.sub = nil
	s.mu.Unlock()

	logger.Warn("Chat feed for user %s dropped, reloading: %v", s.userID, err)
	s.notifier.Notify(Notification{Level: NotificationInfo, Message: "Connection lost. Reconnecting..."})
	s.reconnect(runCtx, epoch)
}

// reconnect reruns the bulk load and resubscribes, backing off exponentially
// between failed attempts until it succeeds or the store is torn down.
func (s *ChatStore) reconnect(runCtx context.Context, epoch uint64) {
	delay := s.backoffInitial
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-runCtx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		s.loading = true
		s.mu.Unlock()

		s.metrics.Reconnect()
		err := s.loadAndSubscribe(runCtx, runCtx, epoch)

		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		s.loading = false
		if err == nil {
			s.lastError = ""
			s.mu.Unlock()
			logger.Info("Chat feed for user %s restored after %d attempt(s)", s.userID, attempt)
			return
		}
		s.lastError = errors.UserMessage(err)
		s.mu.Unlock()

		logger.Warn("Chat feed reconnect %d for user %s failed: %v", attempt, s.userID, err)
		delay *= 2
		if delay > s.backoffMax {
			delay = s.backoffMax
		}
	}
}

func (s *ChatStore) applyFeedEvent(runCtx context.Context, gen uint64, ev repository.FeedEvent) {
	if ev.Message == nil {
		return
	}
	s.metrics.FeedEvent(string(ev.Kind))

	switch ev.Kind {
	case repository.FeedEventInsert:
		s.applyInsert(runCtx, gen, ev.Message)
	case repository.FeedEventUpdate:
		s.applyUpdate(gen, ev.Message)
	}
}

func (s *ChatStore) applyInsert(runCtx context.Context, gen uint64, msg *entity.Message) {
	s.mu.Lock()
	if s.subGen != gen {
		s.mu.Unlock()
		return
	}
	if s.chatIndexLocked(msg.ChatID) < 0 {
		s.mu.Unlock()
		s.discoverChat(runCtx, gen, msg)
		return
	}
	epoch := s.epoch
	events := s.insertMessageLocked(msg)
	s.mu.Unlock()

	s.emit(events...)
	s.cacheMessage(epoch, msg)
}

// discoverChat handles an insert for a chat the store does not list yet,
// typically one the counterpart just created. Inactive chats are ignored.
func (s *ChatStore) discoverChat(ctx context.Context, gen uint64, msg *entity.Message) {
	chat, err := s.remote.GetChat(ctx, msg.ChatID)
	if err != nil {
		logger.Warn("Dropping feed message %s: chat %s lookup failed: %v", msg.ID, msg.ChatID, err)
		return
	}
	if !chat.IsActive() || !chat.HasParticipant(s.userID) {
		logger.Debug("Dropping feed message %s for inactive chat %s", msg.ID, chat.ID)
		return
	}

	s.mu.Lock()
	if s.subGen != gen {
		s.mu.Unlock()
		return
	}
	epoch := s.epoch
	var events []StoreEvent
	added := false
	if s.chatIndexLocked(chat.ID) < 0 {
		s.moveToFrontLocked(chat)
		cp := *chat
		events = append(events, StoreEvent{Type: EventChatUpserted, ChatID: chat.ID, Chat: &cp})
		added = true
	}
	events = append(events, s.insertMessageLocked(msg)...)
	s.mu.Unlock()

	s.emit(events...)
	if added {
		s.writeCache(epoch, chat.ID, func(cache repository.ChatCache) error {
			return cache.PutChat(context.Background(), s.userID, chat)
		})
	}
	s.cacheMessage(epoch, msg)
}

// insertMessageLocked adds msg unless a row with its id is already present. A
// pending entry with the same client id is replaced by msg.
func (s *ChatStore) insertMessageLocked(msg *entity.Message) []StoreEvent {
	list := s.messages[msg.ChatID]

	if i := indexOfMessage(list, msg.ID); i >= 0 {
		s.metrics.DuplicateSuppressed()
		existing := list[i]
		if msg.Read && !existing.Read {
			existing.Read = true
			return []StoreEvent{{Type: EventMessagesRead, ChatID: msg.ChatID, MessageIDs: []string{msg.ID}}}
		}
		return nil
	}

	stored := msg.Clone()
	stored.Pending = false

	if msg.ClientID != "" {
		for i, existing := range list {
			if existing.Pending && existing.ClientID == msg.ClientID {
				list = append(list[:i], list[i+1:]...)
				s.messages[msg.ChatID] = insertSorted(list, stored)
				return []StoreEvent{{
					Type:       EventMessageReplaced,
					ChatID:     msg.ChatID,
					ReplacedID: existing.ID,
					Message:    stored.Clone(),
				}}
			}
		}
	}

	s.messages[msg.ChatID] = insertSorted(list, stored)
	return []StoreEvent{{Type: EventMessageAdded, ChatID: msg.ChatID, Message: stored.Clone()}}
}

// applyUpdate only ever moves read from false to true; every other field of a
// message is immutable.
func (s *ChatStore) applyUpdate(gen uint64, msg *entity.Message) {
	if !msg.Read {
		return
	}

	s.mu.Lock()
	if s.subGen != gen {
		s.mu.Unlock()
		return
	}
	list := s.messages[msg.ChatID]
	i := indexOfMessage(list, msg.ID)
	if i < 0 || list[i].Read {
		s.mu.Unlock()
		return
	}
	list[i].Read = true
	epoch := s.epoch
	s.mu.Unlock()

	s.emit(StoreEvent{Type: EventMessagesRead, ChatID: msg.ChatID, MessageIDs: []string{msg.ID}})
	s.cacheMessage(epoch, msg)
}

func (s *ChatStore) cacheMessage(epoch uint64, msg *entity.Message) {
	s.writeCache(epoch, msg.ChatID, func(cache repository.ChatCache) error {
		return cache.PutMessage(context.Background(), s.userID, msg)
	})
}
