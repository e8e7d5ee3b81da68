package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, cached state and backend reachability",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:     %s\n", valueOrDefault(cfg.Default.BaseURL, "(not set)"))
		fmt.Printf("  Inbox:        %s\n", valueOrDefault(cfg.Default.InboxIdentifier, "(not set)"))
		fmt.Printf("  Contact:      %s\n", valueOrDefault(cfg.Contact.Identifier, "(not bootstrapped)"))
		if cfg.Contact.ConversationID != 0 {
			fmt.Printf("  Conversation: %d\n", cfg.Contact.ConversationID)
		} else {
			fmt.Println("  Conversation: (not bootstrapped)")
		}

		if cfg.Default.BaseURL == "" || cfg.Contact.Identifier == "" {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Cached state.
		store := openStorage(cfg)
		defer store.Dispose()

		fmt.Println()
		fmt.Println("Cache:")
		contact, err := store.Contact(ctx)
		switch {
		case err != nil:
			fmt.Printf("  Contact:  error: %v\n", err)
		case contact == nil:
			fmt.Println("  Contact:  (none)")
		default:
			token := "present"
			if contact.PubsubToken == "" {
				token = "missing"
			}
			fmt.Printf("  Contact:  %s (pubsub token %s)\n", contact.SourceID, token)
		}
		msgs, err := store.Messages(ctx)
		if err != nil {
			fmt.Printf("  Messages: error: %v\n", err)
		} else {
			fmt.Printf("  Messages: %d\n", len(msgs))
		}

		// Live check.
		fmt.Println()
		fmt.Println("Backend:")
		client := getClient(cfg)
		live, err := client.GetContact(ctx)
		if err != nil {
			fmt.Printf("  Error fetching contact: %v\n", err)
			return nil
		}
		fmt.Printf("  Contact reachable: %s (id %d)\n", live.SourceID, live.ID)
		return nil
	},
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
