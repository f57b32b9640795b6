package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/postaworks/posta/internal/cache"
	"github.com/postaworks/posta/internal/engine"
	"github.com/postaworks/posta/internal/store"
)

var syncFull bool

var syncCmd = &cobra.Command{
	Use:   "sync <account>",
	Short: "Run one sync pass for an account",
	Long: `Run a single incremental sync pass for an account and exit.

With --full, sync state is reset and every card is refetched from scratch.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "reset sync state and refetch everything")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	accountID := args[0]

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	if err := st.InitSchema(); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	svc, err := buildRemoteService()
	if err != nil {
		return err
	}

	cacheStore := cache.New(st, 0, logger)
	cards, err := st.ListCards(accountID)
	if err != nil {
		return fmt.Errorf("list cards: %w", err)
	}
	for _, card := range cards {
		cacheStore.Load(card.ID)
	}

	opts := engine.Options{
		GuardWindow:       cfg.GuardWindow(),
		UndoWindow:        cfg.UndoWindow(),
		RollbackOnFailure: cfg.Mutation.RollbackOnFailure,
	}
	eng := engine.New(accountID, st, cacheStore, svc, opts, logger)
	defer func() {
		eng.Close()
		cacheStore.Flush()
	}()

	ctx := cmd.Context()
	if syncFull {
		if err := eng.FullRefresh(ctx); err != nil {
			return fmt.Errorf("full refresh: %w", err)
		}
		fmt.Printf("Full refresh complete for %s (%d cards)\n", accountID, len(cards))
		return nil
	}

	changed, err := eng.SyncOnce(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if changed {
		fmt.Printf("Sync complete for %s: caches updated\n", accountID)
	} else {
		fmt.Printf("Sync complete for %s: no changes\n", accountID)
	}
	return nil
}
