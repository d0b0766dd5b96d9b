package firebase

import (
	"context"
	"strings"

	"rentalhub/pkg/errors"
)

const devTokenPrefix = "dev-"

// DevTokenVerifier accepts tokens of the form "dev-<uid>". It is only wired
// when the service runs on the in-memory backend outside production.
type DevTokenVerifier struct{}

func (DevTokenVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	uid := strings.TrimPrefix(token, devTokenPrefix)
	if uid == token || uid == "" {
		return "", errors.Unauthorized("Invalid or expired token", nil)
	}
	return uid, nil
}

// DevToken returns the token DevTokenVerifier accepts for uid.
func DevToken(uid string) string {
	return devTokenPrefix + uid
}

func (DevTokenVerifier) TestConnection(ctx context.Context) error {
	return nil
}

// GenerateToken mirrors FirebaseAuthClient.GenerateToken for the dev scheme.
func (DevTokenVerifier) GenerateToken(ctx context.Context, uid string) (string, error) {
	return DevToken(uid), nil
}
