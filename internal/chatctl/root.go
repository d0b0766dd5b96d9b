package chatctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"rentalhub/internal/adapter/repository"
	domainrepo "rentalhub/internal/domain/repository"
	"rentalhub/internal/infrastructure/firebase"
	"rentalhub/pkg/config"
	"rentalhub/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Env is what the commands operate on.
type Env struct {
	Chats domainrepo.ChatRepository
	// MintToken returns a token the API accepts for uid.
	MintToken func(ctx context.Context, uid string) (string, error)
	Close     func() error
}

// Opener builds the Env for one command run.
type Opener func(ctx context.Context) (*Env, error)

// OpenFromConfig connects to the backend named by the service configuration.
func OpenFromConfig(ctx context.Context) (*Env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Environment, cfg.LogLevel)

	if cfg.RemoteBackend != config.BackendFirestore {
		return nil, fmt.Errorf("chatctl needs REMOTE_BACKEND=firestore; the memory backend lives inside the API process")
	}

	clients, err := firebase.NewClients(ctx, cfg)
	if err != nil {
		return nil, err
	}
	auth, err := clients.Auth(ctx)
	if err != nil {
		clients.Close()
		return nil, err
	}

	return &Env{
		Chats:     repository.NewFirestoreChatRepository(clients.Firestore),
		MintToken: auth.GenerateToken,
		Close:     clients.Close,
	}, nil
}

// NewRootCommand assembles the CLI. Every subcommand opens its Env through open.
func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "chatctl",
		Short: "Operator tool for rentalhub chats",
		Long: `chatctl inspects and maintains the chats stored in the remote data service:
list a user's chats by status, dump a chat's messages and archive chats.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringP("output", "o", "table", "output format: table, json or yaml")

	root.AddCommand(
		newChatsCommand(open),
		newMessagesCommand(open),
		newTokenCommand(open),
	)
	return root
}

// Execute runs the CLI against the configured backend.
func Execute() {
	if err := NewRootCommand(OpenFromConfig).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withEnv opens the Env, runs fn and closes the Env again.
func withEnv(cmd *cobra.Command, open Opener, fn func(ctx context.Context, env *Env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := open(ctx)
	if err != nil {
		return err
	}
	if env.Close != nil {
		defer env.Close()
	}
	return fn(ctx, env)
}

// render writes v as JSON or YAML, or calls table for the default format.
func render(cmd *cobra.Command, v interface{}, table func(w io.Writer) error) error {
	format, _ := cmd.Flags().GetString("output")
	w := cmd.OutOrStdout()

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Round-trip through JSON so the yaml keys follow the json tags.
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic interface{}
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(generic)
	case "table", "":
		return table(w)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
