package main

import (
	"context"
	"fmt"
	"time"

	chatwoot "github.com/poneahealthltd/chatwoot-go"
	"github.com/spf13/cobra"
)

var (
	initName       string
	initEmail      string
	initIdentifier string
)

func init() {
	initCmd.Flags().StringVar(&initName, "name", "", "display name for the new contact")
	initCmd.Flags().StringVar(&initEmail, "email", "", "email for the new contact")
	initCmd.Flags().StringVar(&initIdentifier, "identifier", "", "external identifier for the new contact")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <base-url> <inbox-identifier>",
	Short: "Bootstrap a contact and conversation on an inbox",
	Long: "Register a new contact on the given inbox, open its conversation, and store\n" +
		"both in ~/.chatwoot/config.toml and the local cache. Later commands reuse\n" +
		"this identity.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Default.BaseURL = args[0]
		cfg.Default.InboxIdentifier = args[1]
		if initName != "" {
			cfg.User.Name = initName
		}
		if initEmail != "" {
			cfg.User.Email = initEmail
		}
		if initIdentifier != "" {
			cfg.User.Identifier = initIdentifier
		}

		client := chatwoot.NewClient(cfg.Default.BaseURL, cfg.Default.InboxIdentifier)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		contact, err := client.CreateContact(ctx, userRecord(cfg))
		if err != nil {
			return fmt.Errorf("create contact: %w", err)
		}
		client.SetContactIdentifier(contact.SourceID)

		conversation, err := client.CreateConversation(ctx)
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}

		cfg.Contact.Identifier = contact.SourceID
		cfg.Contact.ConversationID = conversation.ID
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		// Seed the cache so the repository finds its conversation on the
		// first initialize.
		store := openStorage(cfg)
		defer store.Dispose()
		if err := store.SaveContact(ctx, contact); err != nil {
			return fmt.Errorf("cache contact: %w", err)
		}
		if err := store.SaveConversation(ctx, conversation); err != nil {
			return fmt.Errorf("cache conversation: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Contact %s with conversation %d saved to %s\n",
			contact.SourceID, conversation.ID, path)
		return nil
	},
}
