package repository

import (
	"context"
	"time"

	"rentalhub/internal/domain/entity"
)

// SendMessageParams is the argument of the send_message procedure.
type SendMessageParams struct {
	ChatID     string
	SenderID   string
	ReceiverID string
	PropertyID string
	Content    string
	Payload    entity.Payload
	ClientID   string
}

// ChatRepository is the contract of the remote data service backing chat.
// SendMessage, MarkMessagesRead and CreateChat are procedures: each one must be
// applied atomically by the implementation.
type ChatRepository interface {
	GetChat(ctx context.Context, chatID string) (*entity.Chat, error)
	ListActiveChats(ctx context.Context, userID string) ([]*entity.Chat, error)
	ListChatsByStatus(ctx context.Context, userID string, status entity.ChatStatus) ([]*entity.Chat, error)
	ListMessagesForChats(ctx context.Context, chatIDs []string) ([]*entity.Message, error)
	// ListChatMessages reads a chat's messages regardless of the chat's status.
	ListChatMessages(ctx context.Context, chatID string) ([]*entity.Message, error)

	SendMessage(ctx context.Context, params SendMessageParams) (*entity.Message, error)
	MarkMessagesRead(ctx context.Context, chatID, userID string) error
	// CreateChat returns the existing active chat for the same pair and property
	// instead of inserting a duplicate.
	CreateChat(ctx context.Context, participants [2]string, propertyID string) (*entity.Chat, error)
	ArchiveChat(ctx context.Context, chatID string) error
}

type FeedEventKind string

const (
	FeedEventInsert FeedEventKind = "insert"
	FeedEventUpdate FeedEventKind = "update"
)

type FeedEvent struct {
	Kind    FeedEventKind
	Message *entity.Message
}

type FeedHandler func(FeedEvent)

// Subscription is one live change-feed listener.
type Subscription interface {
	Stop()
	// Done is closed when the listener ends. A nil value on the channel means it
	// was stopped on purpose; anything else is a transport failure.
	Done() <-chan error
}

// MessageFeed delivers message row changes visible to one user: inserts of rows
// created at or after since, and read flips made after since on any of the
// user's rows, however old.
type MessageFeed interface {
	Subscribe(ctx context.Context, userID string, since time.Time, handler FeedHandler) (Subscription, error)
}
