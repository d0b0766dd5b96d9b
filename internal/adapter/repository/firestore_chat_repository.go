package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"rentalhub/internal/domain/entity"
	"rentalhub/internal/domain/repository"
	"rentalhub/pkg/errors"
	"rentalhub/pkg/logger"
)

const (
	chatsCollection    = "chats"
	messagesCollection = "messages"

	// Firestore caps the value list of an "in" filter.
	maxInValues = 30
)

type chatDoc struct {
	ID           string    `firestore:"id"`
	Participants []string  `firestore:"participants"`
	PairKey      string    `firestore:"pairKey"`
	PropertyID   string    `firestore:"propertyId"`
	Status       string    `firestore:"status"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

type messageDoc struct {
	ID           string    `firestore:"id"`
	ChatID       string    `firestore:"chatId"`
	SenderID     string    `firestore:"senderId"`
	ReceiverID   string    `firestore:"receiverId"`
	Participants []string  `firestore:"participants"`
	Content      string    `firestore:"content"`
	Type         string    `firestore:"type"`
	Payload      string    `firestore:"payload,omitempty"`
	Read         bool      `firestore:"read"`
	ClientID     string    `firestore:"clientId,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func chatToDoc(c *entity.Chat) chatDoc {
	return chatDoc{
		ID:           c.ID,
		Participants: []string{c.Participants[0], c.Participants[1]},
		PairKey:      c.PairKey(),
		PropertyID:   c.PropertyID,
		Status:       string(c.Status),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func (d chatDoc) toEntity() (*entity.Chat, error) {
	if len(d.Participants) != 2 {
		return nil, fmt.Errorf("chat %s has %d participants", d.ID, len(d.Participants))
	}
	return &entity.Chat{
		ID:           d.ID,
		Participants: [2]string{d.Participants[0], d.Participants[1]},
		PropertyID:   d.PropertyID,
		Status:       entity.ChatStatus(d.Status),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}, nil
}

func messageToDoc(m *entity.Message) (messageDoc, error) {
	raw, err := entity.EncodePayload(m.Payload)
	if err != nil {
		return messageDoc{}, err
	}
	return messageDoc{
		ID:           m.ID,
		ChatID:       m.ChatID,
		SenderID:     m.SenderID,
		ReceiverID:   m.ReceiverID,
		Participants: []string{m.SenderID, m.ReceiverID},
		Content:      m.Content,
		Type:         string(m.Type()),
		Payload:      string(raw),
		Read:         m.Read,
		ClientID:     m.ClientID,
		CreatedAt:    m.CreatedAt,
	}, nil
}

func (d messageDoc) toEntity() (*entity.Message, error) {
	var raw []byte
	if d.Payload != "" {
		raw = []byte(d.Payload)
	}
	payload, err := entity.DecodePayload(entity.MessageType(d.Type), raw)
	if err != nil {
		return nil, err
	}
	return &entity.Message{
		ID:         d.ID,
		ChatID:     d.ChatID,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Content:    d.Content,
		Payload:    payload,
		Read:       d.Read,
		CreatedAt:  d.CreatedAt,
		ClientID:   d.ClientID,
	}, nil
}

func decodeChat(doc *firestore.DocumentSnapshot) (*entity.Chat, error) {
	var d chatDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, err
	}
	if d.ID == "" {
		d.ID = doc.Ref.ID
	}
	return d.toEntity()
}

func decodeMessage(doc *firestore.DocumentSnapshot) (*entity.Message, error) {
	var d messageDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, err
	}
	if d.ID == "" {
		d.ID = doc.Ref.ID
	}
	return d.toEntity()
}

type firestoreChatRepository struct {
	client *firestore.Client
}

func NewFirestoreChatRepository(client *firestore.Client) repository.ChatRepository {
	return &firestoreChatRepository{
		client: client,
	}
}

func (r *firestoreChatRepository) GetChat(ctx context.Context, chatID string) (*entity.Chat, error) {
	doc, err := r.client.Collection(chatsCollection).Doc(chatID).Get(ctx)
	if err != nil {
		return nil, errors.FromRemote("Failed to get chat", err)
	}
	chat, err := decodeChat(doc)
	if err != nil {
		return nil, errors.Internal("Failed to parse chat data", err)
	}
	return chat, nil
}

func (r *firestoreChatRepository) ListActiveChats(ctx context.Context, userID string) ([]*entity.Chat, error) {
	return r.ListChatsByStatus(ctx, userID, entity.ChatStatusActive)
}

func (r *firestoreChatRepository) ListChatsByStatus(ctx context.Context, userID string, status entity.ChatStatus) ([]*entity.Chat, error) {
	query := r.client.Collection(chatsCollection).
		Where("participants", "array-contains", userID).
		Where("status", "==", string(status))

	iter := query.Documents(ctx)
	defer iter.Stop()

	var chats []*entity.Chat
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while listing chats for user %s: %v", userID, err)
			return nil, errors.FromRemote("Failed to list chats", err)
		}
		chat, err := decodeChat(doc)
		if err != nil {
			logger.Warn("Skipping unreadable chat %s: %v", doc.Ref.ID, err)
			continue
		}
		chats = append(chats, chat)
	}

	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func (r *firestoreChatRepository) ListMessagesForChats(ctx context.Context, chatIDs []string) ([]*entity.Message, error) {
	var messages []*entity.Message
	for start := 0; start < len(chatIDs); start += maxInValues {
		end := start + maxInValues
		if end > len(chatIDs) {
			end = len(chatIDs)
		}
		batch, err := r.queryMessages(ctx, r.client.Collection(messagesCollection).Where("chatId", "in", chatIDs[start:end]))
		if err != nil {
			return nil, err
		}
		messages = append(messages, batch...)
	}
	return messages, nil
}

func (r *firestoreChatRepository) ListChatMessages(ctx context.Context, chatID string) ([]*entity.Message, error) {
	return r.queryMessages(ctx, r.client.Collection(messagesCollection).Where("chatId", "==", chatID))
}

func (r *firestoreChatRepository) queryMessages(ctx context.Context, query firestore.Query) ([]*entity.Message, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	var messages []*entity.Message
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while iterating messages: %v", err)
			return nil, errors.FromRemote("Failed to load messages", err)
		}
		msg, err := decodeMessage(doc)
		if err != nil {
			logger.Warn("Skipping unreadable message %s: %v", doc.Ref.ID, err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// SendMessage runs the send_message procedure: it checks the chat is active and
// that sender and receiver are its participants, inserts the row and bumps the
// chat's updatedAt, all in one transaction. A repeated ClientID returns the row
// stored by the first attempt.
func (r *firestoreChatRepository) SendMessage(ctx context.Context, params repository.SendMessageParams) (*entity.Message, error) {
	chatRef := r.client.Collection(chatsCollection).Doc(params.ChatID)
	var sent *entity.Message

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		sent = nil

		chatSnap, err := tx.Get(chatRef)
		if err != nil {
			return err
		}
		chat, err := decodeChat(chatSnap)
		if err != nil {
			return errors.Internal("Failed to parse chat data", err)
		}
		if !chat.IsActive() {
			return errors.BadRequest("Chat is archived", nil)
		}
		if !chat.HasParticipant(params.SenderID) || chat.Counterpart(params.SenderID) != params.ReceiverID {
			return errors.Forbidden("Sender and receiver must be the chat's participants", nil)
		}

		if params.ClientID != "" {
			existing, err := tx.Documents(r.client.Collection(messagesCollection).
				Where("chatId", "==", params.ChatID).
				Where("clientId", "==", params.ClientID).
				Limit(1)).GetAll()
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				sent, err = decodeMessage(existing[0])
				return err
			}
		}

		now := time.Now().UTC()
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
		doc, err := messageToDoc(msg)
		if err != nil {
			return errors.BadRequest("Invalid message payload", err)
		}

		if err := tx.Create(r.client.Collection(messagesCollection).Doc(msg.ID), doc); err != nil {
			return err
		}
		if err := tx.Update(chatRef, []firestore.Update{{Path: "updatedAt", Value: now}}); err != nil {
			return err
		}
		sent = msg
		return nil
	})
	if err != nil {
		logger.Error("SendMessage Error: chat %s: %v", params.ChatID, err)
		return nil, errors.FromRemote("Failed to send message", err)
	}
	return sent, nil
}

// MarkMessagesRead flips read on every unread row of chatID received by userID
// and stamps readAt.
func (r *firestoreChatRepository) MarkMessagesRead(ctx context.Context, chatID, userID string) error {
	query := r.client.Collection(messagesCollection).
		Where("chatId", "==", chatID).
		Where("receiverId", "==", userID).
		Where("read", "==", false)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, doc := range docs {
			// readAt feeds the sender's read-receipt listener.
			if err := tx.Update(doc.Ref, []firestore.Update{
				{Path: "read", Value: true},
				{Path: "readAt", Value: now},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("MarkMessagesRead Error: chat %s user %s: %v", chatID, userID, err)
		return errors.FromRemote("Failed to mark messages as read", err)
	}
	return nil
}

// CreateChat runs the create_chat procedure. An active chat with the same pair
// and property is returned as is.
func (r *firestoreChatRepository) CreateChat(ctx context.Context, participants [2]string, propertyID string) (*entity.Chat, error) {
	pairKey := entity.PairKey(participants)
	existingQuery := r.client.Collection(chatsCollection).
		Where("pairKey", "==", pairKey).
		Where("propertyId", "==", propertyID).
		Where("status", "==", string(entity.ChatStatusActive)).
		Limit(1)

	var chat *entity.Chat
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		chat = nil

		existing, err := tx.Documents(existingQuery).GetAll()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			chat, err = decodeChat(existing[0])
			return err
		}

		now := time.Now().UTC()
		created := &entity.Chat{
			ID:           uuid.New().String(),
			Participants: participants,
			PropertyID:   propertyID,
			Status:       entity.ChatStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Create(r.client.Collection(chatsCollection).Doc(created.ID), chatToDoc(created)); err != nil {
			return err
		}
		chat = created
		return nil
	})
	if err != nil {
		logger.Error("CreateChat Error: pair %s: %v", pairKey, err)
		return nil, errors.FromRemote("Failed to create chat", err)
	}
	return chat, nil
}

func (r *firestoreChatRepository) ArchiveChat(ctx context.Context, chatID string) error {
	_, err := r.client.Collection(chatsCollection).Doc(chatID).Update(ctx, []firestore.Update{
		{Path: "status", Value: string(entity.ChatStatusArchived)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		logger.Error("ArchiveChat Error: chat %s: %v", chatID, err)
		return errors.FromRemote("Failed to archive chat", err)
	}
	return nil
}
