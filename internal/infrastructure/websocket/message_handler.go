package websocket

import (
	"context"
	"encoding/json"
	"time"

	"rentalhub/internal/domain/entity"
	"rentalhub/internal/usecase"
	"rentalhub/pkg/errors"
	"rentalhub/pkg/logger"
)

// WebSocket Message Types
const (
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeSendMessage   = "send_message"
	MessageTypeMarkRead      = "mark_read"
	MessageTypeSetActiveChat = "set_active_chat"
	MessageTypeError         = "error"
)

const actionTimeout = 15 * time.Second

// ChatActions is the part of the chat service reachable from a UI connection.
type ChatActions interface {
	SendMessage(ctx context.Context, userID string, input usecase.SendMessageInput) (*entity.Message, error)
	MarkChatAsRead(ctx context.Context, userID, chatID string) error
	SetActiveChat(ctx context.Context, userID, chatID string) error
}

// WebSocket Message Structure
type WSMessage struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

type inboundMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type SendMessageData struct {
	ChatID     string             `json:"chat_id"`
	ReceiverID string             `json:"receiver_id"`
	PropertyID string             `json:"property_id"`
	Content    string             `json:"content"`
	Type       entity.MessageType `json:"type"`
	Payload    json.RawMessage    `json:"payload"`
}

type ChatRefData struct {
	ChatID string `json:"chat_id"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandleClientMessage processes one incoming WebSocket message.
func (m *Manager) HandleClientMessage(client *Client, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warn("WebSocket: failed to unmarshal message from user %s: %v", client.UserID, err)
		m.sendErrorToClient(client, "", errors.BadRequest("Invalid message format", err))
		return
	}

	logger.Debug("WebSocket: received %s from user %s", msg.Type, client.UserID)

	if msg.Type == MessageTypePing {
		m.sendToClient(client, WSMessage{
			Type:      MessageTypePong,
			RequestID: msg.RequestID,
			Data:      map[string]string{"status": "alive"},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	if m.actions == nil {
		m.sendErrorToClient(client, msg.RequestID, errors.Unavailable("Chat service not ready", nil))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case MessageTypeSendMessage:
		err = m.handleSendMessage(ctx, client, msg.Data)
	case MessageTypeMarkRead:
		err = m.handleChatRef(msg.Data, func(chatID string) error {
			return m.actions.MarkChatAsRead(ctx, client.UserID, chatID)
		})
	case MessageTypeSetActiveChat:
		err = m.handleChatRef(msg.Data, func(chatID string) error {
			return m.actions.SetActiveChat(ctx, client.UserID, chatID)
		})
	default:
		logger.Warn("WebSocket: unknown message type %q from user %s", msg.Type, client.UserID)
		err = errors.BadRequest("Unknown message type", nil)
	}

	if err != nil {
		m.sendErrorToClient(client, msg.RequestID, err)
	}
}

func (m *Manager) handleSendMessage(ctx context.Context, client *Client, data json.RawMessage) error {
	var in SendMessageData
	if err := json.Unmarshal(data, &in); err != nil {
		return errors.BadRequest("Invalid send message format", err)
	}
	if in.ChatID == "" {
		return errors.Validation("chat_id is required")
	}

	payload, err := entity.DecodePayload(in.Type, in.Payload)
	if err != nil {
		return errors.Validation(err.Error())
	}

	_, err = m.actions.SendMessage(ctx, client.UserID, usecase.SendMessageInput{
		ChatID:     in.ChatID,
		ReceiverID: in.ReceiverID,
		PropertyID: in.PropertyID,
		Content:    in.Content,
		Payload:    payload,
	})
	return err
}

// handleChatRef decodes {"chat_id": ...} and passes it to fn. set_active_chat
// accepts an empty id to clear the focus.
func (m *Manager) handleChatRef(data json.RawMessage, fn func(chatID string) error) error {
	var ref ChatRefData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ref); err != nil {
			return errors.BadRequest("Invalid chat reference", err)
		}
	}
	return fn(ref.ChatID)
}

func (m *Manager) sendToClient(client *Client, message WSMessage) {
	payload, err := json.Marshal(message)
	if err != nil {
		logger.Error("WebSocket: failed to marshal message for user %s: %v", client.UserID, err)
		return
	}

	m.mutex.Lock()
	last := false
	if m.clients[client.UserID][client] {
		select {
		case client.Send <- payload:
		default:
			logger.Warn("WebSocket: send buffer of user %s full, closing connection", client.UserID)
			last = m.removeLocked(client)
		}
	}
	m.mutex.Unlock()

	if last && m.onLastDisconnect != nil {
		m.onLastDisconnect(client.UserID)
	}
}

func (m *Manager) sendErrorToClient(client *Client, requestID string, err error) {
	data := ErrorData{Code: errors.CodeOf(err), Message: errors.UserMessage(err)}
	m.sendToClient(client, WSMessage{
		Type:      MessageTypeError,
		RequestID: requestID,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
