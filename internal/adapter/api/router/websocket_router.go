package router

import (
	"github.com/labstack/echo/v4"

	"rentalhub/internal/adapter/api/handler"
	"rentalhub/internal/adapter/api/middleware"
)

// SetupWebSocketRouter sets up WebSocket routes. The token travels in the
// query string because browsers cannot set headers on the upgrade request.
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler, authMiddleware *middleware.AuthMiddleware) {
	e.GET("/ws", wsHandler.HandleWebSocket, authMiddleware.Authenticate)
}
