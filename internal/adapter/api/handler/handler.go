package handler

import (
	"github.com/labstack/echo/v4"

	"rentalhub/pkg/errors"
)

// Handlers groups everything the routers mount.
type Handlers struct {
	Chat       *ChatHandler
	Attachment *AttachmentHandler
	WebSocket  *WebSocketHandler
	Health     *HealthHandler
	DevToken   *DevTokenHandler
}

// uid returns the authenticated user set by AuthMiddleware.
func uid(c echo.Context) (string, error) {
	userID, ok := c.Get("uid").(string)
	if !ok || userID == "" {
		return "", errors.Unauthorized("Authentication required", nil)
	}
	return userID, nil
}
