package firebase

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	fbapp "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"rentalhub/pkg/config"
	"rentalhub/pkg/logger"
)

// Clients are the Google Cloud handles shared by the API server and chatctl.
type Clients struct {
	App       *fbapp.App
	Firestore *firestore.Client
	Options   []option.ClientOption
}

// ClientOptions picks credentials: inline JSON first, then a file path, then
// application default credentials.
func ClientOptions(cfg *config.Config) ([]option.ClientOption, error) {
	if cfg.ServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON))}, nil
	}
	if cfg.ServiceAccountPath != "" {
		if _, err := os.Stat(cfg.ServiceAccountPath); err != nil {
			return nil, fmt.Errorf("service account file %s: %w", cfg.ServiceAccountPath, err)
		}
		logger.Info("Using Firebase service account from file: %s", cfg.ServiceAccountPath)
		return []option.ClientOption{option.WithCredentialsFile(cfg.ServiceAccountPath)}, nil
	}
	logger.Info("Using application default credentials")
	return nil, nil
}

func NewClients(ctx context.Context, cfg *config.Config) (*Clients, error) {
	opts, err := ClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	app, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject, StorageBucket: cfg.StorageBucket}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase: %w", err)
	}

	client, err := firestore.NewClient(ctx, cfg.FirebaseProject, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	return &Clients{App: app, Firestore: client, Options: opts}, nil
}

// Auth returns the token verifier backed by Firebase Authentication.
func (c *Clients) Auth(ctx context.Context) (*FirebaseAuthClient, error) {
	authClient, err := c.App.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase auth: %w", err)
	}
	return NewFirebaseAuthClient(authClient), nil
}

func (c *Clients) Close() error {
	return c.Firestore.Close()
}
