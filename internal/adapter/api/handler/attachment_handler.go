package handler

import (
	"github.com/labstack/echo/v4"

	"rentalhub/internal/usecase"
	"rentalhub/pkg/errors"
	"rentalhub/pkg/response"
)

type AttachmentHandler struct {
	attachmentUseCase *usecase.AttachmentUseCase
}

func NewAttachmentHandler(attachmentUseCase *usecase.AttachmentUseCase) *AttachmentHandler {
	return &AttachmentHandler{
		attachmentUseCase: attachmentUseCase,
	}
}

// UploadAttachment stores the multipart "file" field for the chat and returns
// its URL.
func (h *AttachmentHandler) UploadAttachment(c echo.Context) error {
	userID, err := uid(c)
	if err != nil {
		return response.Error(c, err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return response.Error(c, errors.BadRequest("File is required", err))
	}

	file, err := fileHeader.Open()
	if err != nil {
		return response.Error(c, errors.BadRequest("Failed to read file", err))
	}
	defer file.Close()

	attachment, err := h.attachmentUseCase.Upload(
		c.Request().Context(),
		userID,
		c.Param("id"),
		fileHeader.Header.Get("Content-Type"),
		fileHeader.Size,
		file,
	)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, attachment)
}

func (h *AttachmentHandler) ListAttachments(c echo.Context) error {
	userID, err := uid(c)
	if err != nil {
		return response.Error(c, err)
	}

	attachments, err := h.attachmentUseCase.List(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, attachments)
}
