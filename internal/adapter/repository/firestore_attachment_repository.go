package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"rentalhub/internal/domain/entity"
	"rentalhub/internal/domain/repository"
	"rentalhub/pkg/errors"
	"rentalhub/pkg/logger"
)

const attachmentsCollection = "chat_attachments"

type firestoreAttachmentRepository struct {
	client *firestore.Client
}

func NewFirestoreAttachmentRepository(client *firestore.Client) repository.AttachmentRepository {
	return &firestoreAttachmentRepository{
		client: client,
	}
}

func (r *firestoreAttachmentRepository) Create(ctx context.Context, attachment *entity.Attachment) error {
	if attachment.ID == "" {
		attachment.ID = uuid.New().String()
	}
	_, err := r.client.Collection(attachmentsCollection).Doc(attachment.ID).Set(ctx, attachment)
	if err != nil {
		return errors.FromRemote("Failed to record attachment", err)
	}
	return nil
}

func (r *firestoreAttachmentRepository) ListByChat(ctx context.Context, chatID string) ([]*entity.Attachment, error) {
	query := r.client.Collection(attachmentsCollection).
		Where("chatId", "==", chatID).
		OrderBy("createdAt", firestore.Desc)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var attachments []*entity.Attachment
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.FromRemote("Failed to list attachments", err)
		}

		var attachment entity.Attachment
		if err := doc.DataTo(&attachment); err != nil {
			logger.Error("Failed to parse attachment %s: %v", doc.Ref.ID, err)
			continue
		}
		attachments = append(attachments, &attachment)
	}

	return attachments, nil
}
