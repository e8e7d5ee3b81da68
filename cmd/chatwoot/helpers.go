package main

import (
	"fmt"
	"log/slog"
	"os"

	chatwoot "github.com/poneahealthltd/chatwoot-go"
)

// getClient creates a client scoped to the configured inbox and contact.
func getClient(cfg *Config) *chatwoot.Client {
	if cfg.Default.BaseURL == "" || cfg.Default.InboxIdentifier == "" {
		fmt.Fprintln(os.Stderr, "No backend configured. Run 'chatwoot init <base-url> <inbox-identifier>' first.")
		os.Exit(1)
	}

	opts := []chatwoot.ClientOption{chatwoot.WithLogger(slog.Default())}
	if cfg.Contact.Identifier != "" {
		opts = append(opts, chatwoot.WithContactIdentifier(cfg.Contact.Identifier))
	}
	if cfg.Contact.ConversationID != 0 {
		opts = append(opts, chatwoot.WithConversationID(cfg.Contact.ConversationID))
	}

	return chatwoot.NewClient(cfg.Default.BaseURL, cfg.Default.InboxIdentifier, opts...)
}

// openStorage opens the shared cache database, scoped to this inbox+contact.
func openStorage(cfg *Config) *chatwoot.SQLiteStorage {
	path, err := cachePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to locate cache: %v\n", err)
		os.Exit(1)
	}
	store, err := chatwoot.OpenSQLiteStorage(path, instanceKey(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open cache: %v\n", err)
		os.Exit(1)
	}
	return store
}

// instanceKey namespaces cache rows per configured identity.
func instanceKey(cfg *Config) string {
	return cfg.Default.InboxIdentifier + ":" + cfg.Contact.Identifier
}

// mustLoadConfig loads the config or exits.
func mustLoadConfig() *Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// userRecord converts the configured profile to a User, nil when unset.
func userRecord(cfg *Config) *chatwoot.User {
	if cfg.User.Identifier == "" && cfg.User.Name == "" && cfg.User.Email == "" {
		return nil
	}
	return &chatwoot.User{
		Identifier: cfg.User.Identifier,
		Name:       cfg.User.Name,
		Email:      cfg.User.Email,
	}
}
