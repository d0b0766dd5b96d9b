package repository

import (
	"context"

	"rentalhub/internal/domain/entity"
)

type AttachmentRepository interface {
	Create(ctx context.Context, attachment *entity.Attachment) error
	// ListByChat returns a chat's attachments, newest first.
	ListByChat(ctx context.Context, chatID string) ([]*entity.Attachment, error)
}
