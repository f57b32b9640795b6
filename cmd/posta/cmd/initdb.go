package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/postaworks/posta/internal/store"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the posta database with the required schema.

This command creates the tables for cards, cached snapshots, sync cursors,
and preferences. It is safe to run multiple times - tables are only created
if they don't already exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := cfg.DatabasePath()
		logger.Info("initializing database", "path", dbPath)

		s, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		logger.Info("database initialized successfully")

		stats, err := s.GetStats()
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Database: %s\n", dbPath)
		fmt.Printf("  Cards:        %d\n", stats.CardCount)
		fmt.Printf("  Accounts:     %d\n", stats.AccountCount)
		fmt.Printf("  Cached cards: %d\n", stats.CachedCards)
		fmt.Printf("  Sync cursors: %d\n", stats.CursorCount)
		fmt.Printf("  Size:         %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
