package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"rentalhub/internal/domain/entity"
)

// MemoryAttachmentRepository keeps attachment records for the memory backend.
type MemoryAttachmentRepository struct {
	mu          sync.Mutex
	attachments []*entity.Attachment
}

func NewMemoryAttachmentRepository() *MemoryAttachmentRepository {
	return &MemoryAttachmentRepository{}
}

func (r *MemoryAttachmentRepository) Create(ctx context.Context, attachment *entity.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if attachment.ID == "" {
		attachment.ID = uuid.New().String()
	}
	cp := *attachment
	r.attachments = append(r.attachments, &cp)
	return nil
}

func (r *MemoryAttachmentRepository) ListByChat(ctx context.Context, chatID string) ([]*entity.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.Attachment
	for _, a := range r.attachments {
		if a.ChatID == chatID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
