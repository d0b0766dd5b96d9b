package firebase

import (
	"context"

	"firebase.google.com/go/v4/auth"

	"rentalhub/pkg/errors"
)

// TokenVerifier turns a bearer token into the id of the signed-in user.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

type FirebaseAuthClient struct {
	client *auth.Client
}

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (string, error) {
	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", errors.Unauthorized("Invalid or expired token", err)
	}

	return result.UID, nil
}

// GenerateToken mints a custom token for uid, for operators testing against a
// real project.
func (f *FirebaseAuthClient) GenerateToken(ctx context.Context, uid string) (string, error) {
	token, err := f.client.CustomToken(ctx, uid)
	if err != nil {
		return "", errors.Internal("Failed to mint custom token", err)
	}

	return token, nil
}

// TestConnection checks that the project answers user lookups. A missing user
// still proves the connection.
func (f *FirebaseAuthClient) TestConnection(ctx context.Context) error {
	_, err := f.client.GetUser(ctx, "health-check")
	if err != nil && !auth.IsUserNotFound(err) {
		return err
	}
	return nil
}
