package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"rentalhub/internal/infrastructure/firebase"
	"rentalhub/pkg/errors"
	"rentalhub/pkg/response"
)

type AuthMiddleware struct {
	verifier firebase.TokenVerifier
}

func NewAuthMiddleware(verifier firebase.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// Authenticate verifies the bearer token and stores the user id under "uid".
// Browsers cannot set headers on a websocket upgrade, so a token query
// parameter is accepted as well.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		idToken := c.QueryParam("token")

		if authHeader := c.Request().Header.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return response.Error(c, errors.Unauthorized("Invalid authorization format", nil))
			}
			idToken = parts[1]
		}

		if idToken == "" {
			return response.Error(c, errors.Unauthorized("Authorization header is required", nil))
		}

		uid, err := m.verifier.VerifyToken(c.Request().Context(), idToken)
		if err != nil {
			return response.Error(c, errors.Unauthorized("Invalid or expired token", err))
		}

		c.Set("uid", uid)
		return next(c)
	}
}
