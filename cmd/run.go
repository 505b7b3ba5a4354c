package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/disputehq/disputesync/internal/config"
	"github.com/disputehq/disputesync/internal/creds"
	"github.com/disputehq/disputesync/internal/observability"
	"github.com/disputehq/disputesync/internal/portal"
	"github.com/disputehq/disputesync/internal/reconcile"
	"github.com/disputehq/disputesync/internal/runner"
	"github.com/disputehq/disputesync/internal/snapshot"
	"github.com/disputehq/disputesync/internal/store"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run <ubereats|doordash>",
		Short: "Runs one harvest pass for the named platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			platform := args[0]
			if platform != string(creds.PlatformUberEats) && platform != string(creds.PlatformDoorDash) {
				return fmt.Errorf("unknown platform %q, expected ubereats or doordash", platform)
			}

			if cfg.Database.URL == "" {
				return fmt.Errorf("database URL is not configured (DISPUTESYNC_DATABASE_URL)")
			}
			pool, err := pgxpool.New(ctx, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			orderStore, err := store.New(ctx, pool, cfg.Platforms.DoorDash.StrictMatching, logger)
			if err != nil {
				return err
			}

			cache := creds.NewCache(cfg.Cache.Dir, cfg.Cache.TTL, logger)
			sessions := runner.NewBrowserSession(cfg, cache, logger)

			client := portal.NewClient(portal.DefaultPageInterval, logger)
			uber := portal.NewUberEatsClient(client, cfg.Platforms.UberEats.PageLimit)
			doordash := portal.NewDoorDashClient(client, cfg.Platforms.DoorDash.PageLimit)

			driver := reconcile.NewDriver(doordash, orderStore, logger)
			snapshots := snapshot.NewWriter(cfg.Snapshot.Dir, logger)

			run := runner.New(cfg, sessions, orderStore, uber, doordash, driver, snapshots, logger)

			logger.Info("Starting harvest run", zap.String("platform", platform))
			switch platform {
			case string(creds.PlatformUberEats):
				return run.RunUberEats(ctx)
			default:
				return run.RunDoorDash(ctx)
			}
		},
	}

	return runCmd
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}
