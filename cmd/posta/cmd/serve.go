package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/postaworks/posta/internal/api"
	"github.com/postaworks/posta/internal/remote"
	"github.com/postaworks/posta/internal/scheduler"
	"github.com/postaworks/posta/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the posta sync daemon",
	Long: `Run posta as a long-running daemon serving the local HTTP API.

The daemon performs:
  - Adaptive incremental polling per account (fast while changes arrive,
    backed off up to the configured cap when quiet)
  - HTTP API on the configured port (default: 8484) for the desktop client
  - Optional cron full refreshes per account

Configure full-refresh schedules in config.toml:
  [[accounts]]
  account_id = "you@example.com"
  schedule = "0 */6 * * *"   # every six hours (cron format)
  enabled = true

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Validate security posture before doing any work
	if err := cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	if err := st.InitSchema(); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	maxAge := time.Duration(cfg.Data.CacheMaxAgeHours) * time.Hour
	if swept, err := st.SweepStaleCaches(maxAge); err != nil {
		logger.Warn("stale cache sweep failed", "error", err)
	} else if swept > 0 {
		logger.Info("swept stale card caches", "count", swept)
	}

	svc, err := buildRemoteService()
	if err != nil {
		return err
	}

	d, err := newDaemon(cfg, st, svc, logger)
	if err != nil {
		return err
	}
	if len(d.accounts) == 0 {
		return fmt.Errorf("no accounts configured\n\nAdd accounts to config.toml:\n\n  [[accounts]]\n  account_id = \"you@example.com\"\n  enabled = true")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Cron full refreshes are optional; the scheduler only exists when at
	// least one account carries a schedule.
	var sched *scheduler.Scheduler
	var refresher api.RefreshScheduler
	if len(cfg.ScheduledAccounts()) > 0 {
		sched = scheduler.New(d.fullRefresh, logger)
		count, errs := sched.AddAccountsFromConfig(cfg)
		for _, err := range errs {
			logger.Error("failed to schedule account", "error", err)
		}
		if count > 0 {
			sched.Start()
			refresher = sched
		}
	}

	d.start(ctx)

	apiServer := api.NewServer(cfg, st, st, d, refresher, logger)
	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Printf("posta daemon started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Accounts: %d\n", len(d.accounts))
	fmt.Printf("  Data directory: %s\n", cfg.Data.DataDir)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
		runErr = err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-time.After(30 * time.Second):
			logger.Warn("refresh scheduler drain timed out")
		}
	}

	d.stop()
	fmt.Println("Shutdown complete.")
	return runErr
}

// buildRemoteService constructs the HTTP client from config. The OAuth
// token is obtained out of band and read from the configured token file.
func buildRemoteService() (remote.Service, error) {
	if cfg.Remote.BaseURL == "" {
		return nil, fmt.Errorf("no remote configured\n\nSet the remote in config.toml:\n\n  [remote]\n  base_url = \"https://mail.example.com\"\n  token_file = \"~/.posta/token.json\"")
	}
	if cfg.Remote.TokenFile == "" {
		return nil, fmt.Errorf("no token file configured: set [remote] token_file in config.toml")
	}
	ts, err := remote.TokenSourceFromFile(cfg.Remote.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	return remote.NewClient(cfg.Remote.BaseURL, ts, cfg.Remote.RateLimitQPS, logger), nil
}
