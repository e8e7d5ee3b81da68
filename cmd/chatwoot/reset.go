package main

import (
	"context"
	"fmt"
	"os"
	"time"

	chatwoot "github.com/poneahealthltd/chatwoot-go"
	"github.com/spf13/cobra"
)

var resetPurge bool

func init() {
	resetCmd.Flags().BoolVar(&resetPurge, "purge", false, "also delete the configuration file")
	rootCmd.AddCommand(resetCmd)
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe the cached records for the configured identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()
		store := openStorage(cfg)

		repo := chatwoot.NewRepository(getClient(cfg), store, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := repo.Clear(ctx); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		if err := repo.Dispose(); err != nil {
			return fmt.Errorf("release cache: %w", err)
		}
		fmt.Println("Cache cleared.")

		if resetPurge {
			path, err := configPath()
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove config: %w", err)
			}
			fmt.Println("Configuration removed.")
		}
		return nil
	},
}
