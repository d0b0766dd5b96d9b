package chatctl

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rentalhub/internal/domain/entity"
)

func newMessagesCommand(open Opener) *cobra.Command {
	messages := &cobra.Command{
		Use:   "messages",
		Short: "Inspect chat messages",
	}

	dump := &cobra.Command{
		Use:   "dump [chat-id]",
		Short: "Print every message of a chat, archived chats included, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				result, err := env.Chats.ListChatMessages(ctx, args[0])
				if err != nil {
					return err
				}
				if result == nil {
					result = []*entity.Message{}
				}
				sort.SliceStable(result, func(i, j int) bool {
					return result[i].CreatedAt.Before(result[j].CreatedAt)
				})
				return render(cmd, result, func(w io.Writer) error {
					return messageTable(w, result)
				})
			})
		},
	}

	messages.AddCommand(dump)
	return messages
}

func messageTable(w io.Writer, messages []*entity.Message) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tFROM\tTO\tTYPE\tREAD\tCONTENT")
	for _, msg := range messages {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
			msg.CreatedAt.UTC().Format(time.RFC3339),
			msg.SenderID,
			msg.ReceiverID,
			msg.Type(),
			msg.Read,
			orDash(msg.Content),
		)
	}
	return tw.Flush()
}
