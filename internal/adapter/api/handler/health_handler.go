package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is anything the health check can probe.
type Pinger interface {
	TestConnection(ctx context.Context) error
}

type HealthHandler struct {
	identity Pinger
	sessions func() int
}

func NewHealthHandler(identity Pinger, sessions func() int) *HealthHandler {
	return &HealthHandler{
		identity: identity,
		sessions: sessions,
	}
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	body := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if h.sessions != nil {
		body["sessions"] = h.sessions()
	}
	return c.JSON(http.StatusOK, body)
}

func (h *HealthHandler) CheckIdentityHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.identity.TestConnection(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "Identity provider unreachable",
			"error":  err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "Identity provider connected",
	})
}
