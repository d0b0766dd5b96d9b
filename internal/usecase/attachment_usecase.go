package usecase

import (
	"context"
	"io"
	"time"

	"rentalhub/internal/domain/entity"
	"rentalhub/internal/domain/repository"
	"rentalhub/internal/infrastructure/storage"
	"rentalhub/pkg/errors"
	"rentalhub/pkg/logger"
)

const MaxAttachmentSize = 10 << 20

type BlobStore interface {
	UploadFile(ctx context.Context, file io.Reader, fileType, folder string) (string, error)
}

// AttachmentUseCase uploads files shared in a chat. The returned URL is sent
// by the client as ordinary message content.
type AttachmentUseCase struct {
	chats   *ChatUseCase
	blobs   BlobStore
	records repository.AttachmentRepository
}

// NewAttachmentUseCase accepts a nil blobs; uploads then fail as unavailable.
// With a nil records uploads are not remembered and List returns nothing.
func NewAttachmentUseCase(chats *ChatUseCase, blobs BlobStore, records repository.AttachmentRepository) *AttachmentUseCase {
	return &AttachmentUseCase{chats: chats, blobs: blobs, records: records}
}

func (uc *AttachmentUseCase) Upload(ctx context.Context, userID, chatID, contentType string, size int64, file io.Reader) (*entity.Attachment, error) {
	if uc.blobs == nil {
		return nil, errors.Unavailable("Attachments are not configured", nil)
	}
	if !storage.Allowed(contentType) {
		return nil, errors.Validation("Unsupported attachment type")
	}
	if size <= 0 || size > MaxAttachmentSize {
		return nil, errors.Validation("Attachment must be between 1 byte and 10 MB")
	}
	if err := uc.checkChat(ctx, userID, chatID); err != nil {
		return nil, err
	}

	url, err := uc.blobs.UploadFile(ctx, io.LimitReader(file, MaxAttachmentSize), contentType, "chats/"+chatID)
	if err != nil {
		logger.Error("UploadAttachment Error: chat %s: %v", chatID, err)
		return nil, errors.Internal("Failed to upload attachment", err)
	}

	attachment := &entity.Attachment{
		ChatID:      chatID,
		URL:         url,
		UploadedBy:  userID,
		ContentType: contentType,
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}
	if uc.records != nil {
		// The blob is already stored; a lost record only hides it from List.
		if err := uc.records.Create(ctx, attachment); err != nil {
			logger.Warn("Failed to record attachment for chat %s: %v", chatID, err)
		}
	}
	return attachment, nil
}

// List returns the attachments of a chat in the user's store, newest first.
func (uc *AttachmentUseCase) List(ctx context.Context, userID, chatID string) ([]*entity.Attachment, error) {
	if err := uc.checkChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	if uc.records == nil {
		return []*entity.Attachment{}, nil
	}

	attachments, err := uc.records.ListByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if attachments == nil {
		attachments = []*entity.Attachment{}
	}
	return attachments, nil
}

func (uc *AttachmentUseCase) checkChat(ctx context.Context, userID, chatID string) error {
	store, err := uc.chats.Session(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := store.Chat(chatID); !ok {
		return errors.NotFound("Chat", nil)
	}
	return nil
}
