package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"rentalhub/internal/adapter/api/handler"
	"rentalhub/internal/adapter/api/middleware"
)

// Setup mounts every route. metrics may be nil to leave /metrics out, and a
// nil h.DevToken leaves out the /_dev routes.
func Setup(e *echo.Echo, h handler.Handlers, authMiddleware *middleware.AuthMiddleware, metrics http.Handler) {
	SetupHealthRouter(e, h.Health, metrics)
	SetupChatRouter(e, h.Chat, h.Attachment, authMiddleware)
	SetupWebSocketRouter(e, h.WebSocket, authMiddleware)
	SetupDevRouter(e, h.DevToken)
}
