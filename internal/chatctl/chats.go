package chatctl

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rentalhub/internal/domain/entity"
)

func newChatsCommand(open Opener) *cobra.Command {
	chats := &cobra.Command{
		Use:   "chats",
		Short: "List and archive chats",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's chats with the given status, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			status, _ := cmd.Flags().GetString("status")
			if status != string(entity.ChatStatusActive) && status != string(entity.ChatStatusArchived) {
				return fmt.Errorf("status must be %q or %q", entity.ChatStatusActive, entity.ChatStatusArchived)
			}

			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				result, err := env.Chats.ListChatsByStatus(ctx, userID, entity.ChatStatus(status))
				if err != nil {
					return err
				}
				if result == nil {
					result = []*entity.Chat{}
				}
				return render(cmd, result, func(w io.Writer) error {
					return chatTable(w, result)
				})
			})
		},
	}
	list.Flags().String("user", "", "participant user id")
	list.Flags().String("status", string(entity.ChatStatusActive), "chat status: active or archived")
	list.MarkFlagRequired("user")

	archive := &cobra.Command{
		Use:   "archive [chat-id]",
		Short: "Archive a chat; its messages are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				if err := env.Chats.ArchiveChat(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Chat %s archived\n", args[0])
				return nil
			})
		},
	}

	chats.AddCommand(list, archive)
	return chats
}

func chatTable(w io.Writer, chats []*entity.Chat) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPARTICIPANTS\tPROPERTY\tSTATUS\tUPDATED")
	for _, chat := range chats {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			chat.ID,
			strings.Join(chat.Participants[:], ","),
			orDash(chat.PropertyID),
			chat.Status,
			chat.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
