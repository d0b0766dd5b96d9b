package handler

import (
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	ws "rentalhub/internal/infrastructure/websocket"
	"rentalhub/internal/usecase"
	"rentalhub/pkg/logger"
	"rentalhub/pkg/response"
)

type WebSocketHandler struct {
	wsManager   *ws.Manager
	chatUseCase *usecase.ChatUseCase
	upgrader    gorillaws.Upgrader
}

// NewWebSocketHandler accepts upgrades from allowedOrigin only; an empty value
// allows any origin.
func NewWebSocketHandler(wsManager *ws.Manager, chatUseCase *usecase.ChatUseCase, allowedOrigin string) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:   wsManager,
		chatUseCase: chatUseCase,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return allowedOrigin == "" || r.Header.Get("Origin") == allowedOrigin
			},
		},
	}
}

// HandleWebSocket initializes the user's chat session, then upgrades the
// connection. Store events reach the UI through it from then on.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	userID, err := uid(c)
	if err != nil {
		return response.Error(c, err)
	}

	if _, err := h.chatUseCase.Session(c.Request().Context(), userID); err != nil {
		return response.Error(c, err)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Warn("WebSocket: upgrade failed for user %s: %v", userID, err)
		return nil
	}

	client := ws.NewClient(userID, conn)
	if !h.wsManager.AddClient(client) {
		conn.Close()
		return nil
	}

	go client.WritePump()
	go client.ReadPump(h.wsManager)

	return nil
}
