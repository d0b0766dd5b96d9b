package repository

import (
	"context"

	"rentalhub/internal/domain/entity"
)

// ChatCache is the persisted local copy of one user's chat state. It is written
// through after the remote accepts a change and read back on startup.
type ChatCache interface {
	// Load returns chats newest first and each chat's messages.
	Load(ctx context.Context, userID string) ([]*entity.Chat, map[string][]*entity.Message, error)
	ReplaceAll(ctx context.Context, userID string, chats []*entity.Chat, messages map[string][]*entity.Message) error
	PutChat(ctx context.Context, userID string, chat *entity.Chat) error
	PutMessage(ctx context.Context, userID string, msg *entity.Message) error
	MarkRead(ctx context.Context, userID, chatID, receiverID string) error
	DeleteChat(ctx context.Context, userID, chatID string) error
	Clear(ctx context.Context, userID string) error
}
