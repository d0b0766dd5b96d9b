package handler

import (
	"context"

	"github.com/labstack/echo/v4"

	"rentalhub/pkg/errors"
	"rentalhub/pkg/response"
)

// DevTokenHandler hands out tokens for local testing. It is only mounted when
// the server runs on the in-memory backend.
type DevTokenHandler struct {
	mint func(ctx context.Context, uid string) (string, error)
}

func NewDevTokenHandler(mint func(ctx context.Context, uid string) (string, error)) *DevTokenHandler {
	return &DevTokenHandler{
		mint: mint,
	}
}

// GenerateUserToken returns a token the auth middleware accepts for :uid.
func (h *DevTokenHandler) GenerateUserToken(c echo.Context) error {
	userID := c.Param("uid")
	if userID == "" {
		return response.Error(c, errors.Validation("uid is required"))
	}

	token, err := h.mint(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]interface{}{
		"token":   token,
		"user_id": userID,
	})
}
