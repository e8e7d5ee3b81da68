package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	chatwoot "github.com/poneahealthltd/chatwoot-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat session",
	Long: "Connect to the configured inbox, replay cached history, stream live events,\n" +
		"and send messages from stdin. Commands: /typing, /stop-typing, /attach <path>, /quit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()
		client := getClient(cfg)
		store := openStorage(cfg)

		callbacks := &chatwoot.Callbacks{
			OnError: func(e *chatwoot.ClientError) {
				fmt.Printf("!! %v\n", e)
			},
			OnConfirmedSubscription: func() {
				fmt.Println("-- live channel confirmed")
			},
			OnPersistedMessagesRetrieved: func(msgs []chatwoot.Message) {
				fmt.Printf("-- %d cached message(s)\n", len(msgs))
				printHistory(msgs)
			},
			OnMessagesRetrieved: func(msgs []chatwoot.Message) {
				fmt.Printf("-- history synced, %d message(s)\n", len(msgs))
			},
			OnMessageSent: func(m chatwoot.Message, echoID string) {
				fmt.Printf("you> %s\n", m.Content)
			},
			OnMessageDelivered: func(m chatwoot.Message, echoID string) {
				fmt.Printf("-- delivered (#%d)\n", m.ID)
			},
			OnMessageReceived: func(m chatwoot.Message) {
				fmt.Printf("agent> %s\n", m.Content)
			},
			OnConversationStartedTyping: func() {
				fmt.Println("-- agent is typing...")
			},
			OnConversationStoppedTyping: func() {
				fmt.Println("-- agent stopped typing")
			},
			OnConversationIsOnline: func() {
				fmt.Println("-- conversation online")
			},
			OnConversationIsOffline: func() {
				fmt.Println("-- conversation offline")
			},
		}

		repo := chatwoot.NewRepository(client, store, callbacks)
		defer func() {
			if err := repo.Dispose(); err != nil {
				fmt.Fprintf(os.Stderr, "dispose: %v\n", err)
			}
			client.Close()
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		repo.Initialize(ctx, userRecord(cfg))
		repo.GetPersistedMessages(ctx)
		repo.GetMessages(ctx)

		fmt.Println("Type a message and press enter. /quit to exit.")
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if ctx.Err() != nil {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
				continue
			case line == "/quit":
				return nil
			case line == "/typing":
				repo.SendAction(ctx, chatwoot.ActionTypingOn)
			case line == "/stop-typing":
				repo.SendAction(ctx, chatwoot.ActionTypingOff)
			case strings.HasPrefix(line, "/attach "):
				sendAttachment(ctx, client, strings.TrimSpace(strings.TrimPrefix(line, "/attach ")))
			default:
				repo.SendMessage(ctx, chatwoot.NewMessageRequest{Content: line})
			}
		}
		return scanner.Err()
	},
}

func printHistory(msgs []chatwoot.Message) {
	for _, m := range msgs {
		who := "agent"
		if m.IsMine() {
			who = "you"
		}
		fmt.Printf("%s> %s\n", who, m.Content)
	}
}

// sendAttachment posts a file straight through the client. The created
// message comes back over the live channel, so the repository cache picks it
// up without extra plumbing here.
func sendAttachment(ctx context.Context, client *chatwoot.Client, path string) {
	if path == "" {
		fmt.Println("usage: /attach <path>")
		return
	}
	upload, err := chatwoot.AttachmentFromFile(path)
	if err != nil {
		fmt.Printf("!! %v\n", err)
		return
	}
	msg, err := client.CreateAttachmentMessage(ctx, "", upload)
	if err != nil {
		fmt.Printf("!! %v\n", err)
		return
	}
	fmt.Printf("you> [file] %s (#%d)\n", upload.FileName, msg.ID)
}
