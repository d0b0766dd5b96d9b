package chatctl

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newTokenCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "token [user-id]",
		Short: "Mint a custom token for a user, for manual API testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				if env.MintToken == nil {
					return fmt.Errorf("this backend cannot mint tokens")
				}
				token, err := env.MintToken(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
}
