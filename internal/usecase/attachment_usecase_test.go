package usecase

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapter "rentalhub/internal/adapter/repository"
	"rentalhub/pkg/errors"
)

type fakeBlobs struct {
	folder string
	body   string
}

func (f *fakeBlobs) UploadFile(ctx context.Context, file io.Reader, fileType, folder string) (string, error) {
	raw, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	f.folder = folder
	f.body = string(raw)
	return "https://blobs.test/" + folder + "/x.png", nil
}

func TestAttachmentUpload(t *testing.T) {
	chats, _, _, _ := newUseCase(t, nil)
	blobs := &fakeBlobs{}
	records := adapter.NewMemoryAttachmentRepository()
	uc := NewAttachmentUseCase(chats, blobs, records)
	ctx := context.Background()

	chat, err := chats.CreateChat(ctx, "u1", "u2", "")
	require.NoError(t, err)

	att, err := uc.Upload(ctx, "u2", chat.ID, "image/png", 4, strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, "chats/"+chat.ID, blobs.folder)
	assert.Equal(t, "data", blobs.body)
	assert.Contains(t, att.URL, chat.ID)
	assert.Equal(t, "u2", att.UploadedBy)

	second, err := uc.Upload(ctx, "u1", chat.ID, "application/pdf", 3, strings.NewReader("pdf"))
	require.NoError(t, err)

	listed, err := uc.List(ctx, "u1", chat.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, second.ID, listed[0].ID)
	assert.Equal(t, att.ID, listed[1].ID)

	_, err = uc.List(ctx, "u3", chat.ID)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestAttachmentListWithoutRecords(t *testing.T) {
	chats, _, _, _ := newUseCase(t, nil)
	uc := NewAttachmentUseCase(chats, &fakeBlobs{}, nil)
	ctx := context.Background()

	chat, err := chats.CreateChat(ctx, "u1", "u2", "")
	require.NoError(t, err)
	_, err = uc.Upload(ctx, "u1", chat.ID, "image/png", 4, strings.NewReader("data"))
	require.NoError(t, err)

	listed, err := uc.List(ctx, "u1", chat.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestAttachmentUploadRejects(t *testing.T) {
	chats, _, _, _ := newUseCase(t, nil)
	uc := NewAttachmentUseCase(chats, &fakeBlobs{}, nil)
	ctx := context.Background()

	chat, err := chats.CreateChat(ctx, "u1", "u2", "")
	require.NoError(t, err)

	_, err = uc.Upload(ctx, "u1", chat.ID, "text/html", 4, strings.NewReader("data"))
	assert.True(t, errors.Is(err, errors.CodeValidation))

	_, err = uc.Upload(ctx, "u1", chat.ID, "image/png", MaxAttachmentSize+1, strings.NewReader("data"))
	assert.True(t, errors.Is(err, errors.CodeValidation))

	_, err = uc.Upload(ctx, "u3", chat.ID, "image/png", 4, strings.NewReader("data"))
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	_, err = NewAttachmentUseCase(chats, nil, nil).Upload(ctx, "u1", chat.ID, "image/png", 4, strings.NewReader("data"))
	assert.True(t, errors.Is(err, errors.CodeUnavailable))
}
