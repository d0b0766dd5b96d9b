package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"rentalhub/internal/domain/entity"
	"rentalhub/internal/usecase"
	"rentalhub/pkg/errors"
	"rentalhub/pkg/response"
	"rentalhub/pkg/utils"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type createChatRequest struct {
	CounterpartID string `json:"counterpart_id" validate:"required"`
	PropertyID    string `json:"property_id"`
}

type sendMessageRequest struct {
	Content    string             `json:"content" validate:"max=4000"`
	ReceiverID string             `json:"receiver_id"`
	PropertyID string             `json:"property_id"`
	Type       entity.MessageType `json:"type" validate:"omitempty,oneof=message rental_request rental_response"`
	Payload    json.RawMessage    `json:"payload"`
}

type setActiveChatRequest struct {
	ChatID string `json:"chat_id"`
}

// CreateChat returns the active chat with the counterpart, creating it when
// none exists.
func (h *ChatHandler) CreateChat(c echo.Context) error {
	userID, err := uid(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req createChatRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	chat, err := h.chatUseCase.CreateChat(c.Request().Context(), userID, req.CounterpartID, req.PropertyID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, chat)
}

// GetUserChats lists the user's active chats, newest first, with unread counts.
func (h *ChatHandler) GetUserChats(c echo.Context) error {
	userID, err := uid(c)
	if err != nil {
		return response.Error(c, err)
	}

	list, err := h.chatUseCase.ListChats(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, list)
}

// DeleteChat archives the chat. Its messages stay readable through the archive
// endpoint.
func (h *ChatHandler) DeleteChat(c echo.Context) error {
	userID, err := uid(c)
	if err != nil {
		return response.Error(c, err)
	}

	if err := h.chatUseCase.DeleteChat(c.Request().Context(), userID, c.Param("id")); err != nil {
		return response.Error(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *ChatHandler) MarkChatAsRead(c echo.Context) error {
	userID, err := uid(c)
	if err != nil {
		return response.Error(c, err)
	}

	if err := h.chatUseCase.MarkChatAsRead(c.Request().Context(), userID, c.Param("id")); err != nil {
		return response.Error(c, err)
	}

	return c.NoContent(http.StatusOK)
}

func (h *ChatHandler) SetActiveChat(c echo.Context) error {
	userID, err := uid(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req setActiveChatRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := h.chatUseCase.SetActiveChat(c.Request().Context(), userID, req.ChatID); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"active_chat_id": req.ChatID})
}

func (h *ChatHandler) GetChatMessages(c echo.Context) error {
	userID, err := uid(c)
	if err != nil {
		return response.Error(c, err)
	}

	messages, err := h.chatUseCase.ListMessages(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	// Without page or limit the whole loaded history is returned.
	if p := utils.GetPaginationParams(c); p.Requested {
		c.Response().Header().Set("X-Total-Count", strconv.Itoa(len(messages)))
		start, end := p.Window(len(messages))
		messages = messages[start:end]
	}

	return response.Success(c, messages)
}

func (h *ChatHandler) SendMessage(c echo.Context) error {
	userID, err := uid(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	payload, err := entity.DecodePayload(req.Type, req.Payload)
	if err != nil {
		return response.Error(c, errors.Validation(err.Error()))
	}

	message, err := h.chatUseCase.SendMessage(c.Request().Context(), userID, usecase.SendMessageInput{
		ChatID:     c.Param("id"),
		Content:    req.Content,
		ReceiverID: req.ReceiverID,
		PropertyID: req.PropertyID,
		Payload:    payload,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// GetArchivedMessages reads a chat's messages from the remote, archived or not.
func (h *ChatHandler) GetArchivedMessages(c echo.Context) error {
	userID, err := uid(c)
	if err != nil {
		return response.Error(c, err)
	}

	messages, err := h.chatUseCase.ArchivedMessages(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, messages)
}

// Logout drops the user's chat session and clears its cached state.
func (h *ChatHandler) Logout(c echo.Context) error {
	userID, err := uid(c)
	if err != nil {
		return response.Error(c, err)
	}

	h.chatUseCase.Logout(userID)
	return c.NoContent(http.StatusNoContent)
}
