package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/whisper/chat-client/internal/protocol"
)

var watchCmd = &cobra.Command{
	Use:   "watch [chat-id]",
	Short: "Print messages mirrored to NATS by running clients",
	Long: `Subscribe to the event mirror and print every message another chatclient
process publishes. Without a chat id all chats are watched. Needs --nats-url.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID := "*"
		if len(args) == 1 {
			chatID = args[0]
		}
		return withApp(func(ctx context.Context, a *app, out io.Writer) error {
			if a.nats == nil {
				return fmt.Errorf("watch needs a reachable --nats-url")
			}
			var mu sync.Mutex
			err := a.nats.SubscribeToChat(chatID, func(m protocol.Message) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintf(out, "%s %s\n", m.ChatID, formatMessage(m))
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "-- watching %s\n", chatID)
			<-ctx.Done()
			return a.nats.UnsubscribeFromChat(chatID)
		})(cmd, args)
	},
}
