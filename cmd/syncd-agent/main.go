// Command syncd-agent runs a headless syncengine.Orchestrator against a
// local SQLite store and a remote syncd-server, demonstrating the engine as
// a background agent process rather than an embedded library call.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/meridiansync/syncd/internal/config"
	"github.com/meridiansync/syncd/internal/docid"
	"github.com/meridiansync/syncd/internal/httptransport"
	"github.com/meridiansync/syncd/internal/logging"
	"github.com/meridiansync/syncd/internal/sqlitestore"
	"github.com/meridiansync/syncd/internal/syncengine"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "syncd-agent",
		Short: "Reference offline-first sync agent for the syncd engine",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("server-url", defaults.GetString("agent.server_url"), "syncd-server base URL")
	cmd.PersistentFlags().String("api-key", "", "Bearer API key for the sync server (overrides env)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().Int("sync-interval-seconds", defaults.GetInt("sync.interval_seconds"), "Periodic sync interval in seconds (0 disables)")
	cmd.PersistentFlags().Int("batch-size", defaults.GetInt("sync.batch_size"), "Max changes pushed per sync")

	bindFlag(cmd, "agent.server_url", "server-url")
	bindFlag(cmd, "agent.api_key", "api-key")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "sync.interval_seconds", "sync-interval-seconds")
	bindFlag(cmd, "sync.batch_size", "batch-size")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}
	return nil
}

func run(ctx context.Context) error {
	appConfig, err := config.LoadAgentConfig(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, logging.Format(appConfig.LogFormat))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := sqlitestore.Open[json.RawMessage](appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	transport := httptransport.NewClient[json.RawMessage](httptransport.ClientConfig{
		BaseURL:        appConfig.ServerURL,
		APIKey:         appConfig.APIKey,
		RequestTimeout: appConfig.RequestTimeout,
		Logger:         logger,
	})

	orchestrator, err := syncengine.New(syncengine.OrchestratorConfig[json.RawMessage]{
		Store:       store,
		Transport:   transport,
		Logger:      logger,
		IDGenerator: docid.NewGenerator(),
		Sync: syncengine.Config{
			SyncInterval:        time.Duration(appConfig.SyncIntervalSeconds) * time.Second,
			BatchSize:           appConfig.BatchSize,
			RetryAttempts:       appConfig.RetryAttempts,
			RetryDelay:          time.Duration(appConfig.RetryDelayMS) * time.Millisecond,
			DebounceDelay:       time.Duration(appConfig.DebounceDelayMS) * time.Millisecond,
			PostOnlineSyncDelay: time.Duration(appConfig.PostOnlineDelayMS) * time.Millisecond,
		},
	})
	if err != nil {
		return err
	}

	logAllSyncEvents(orchestrator.Events(), logger)

	if err := orchestrator.Start(ctx); err != nil {
		return err
	}

	logger.Info("agent started", zap.String("server_url", appConfig.ServerURL))

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-signalCtx.Done()

	return orchestrator.Stop()
}

func logAllSyncEvents(bus *syncengine.EventBus, logger *zap.Logger) {
	for _, name := range []string{
		syncengine.EventSyncStarted,
		syncengine.EventSyncCompleted,
		syncengine.EventSyncFailed,
		syncengine.EventConflictDetected,
		syncengine.EventConflictResolved,
		syncengine.EventConnectionOnline,
		syncengine.EventConnectionOffline,
	} {
		eventName := name
		bus.On(eventName, func(payload any) {
			logger.Debug("sync event", zap.String("event", eventName), zap.Any("payload", payload))
		})
	}
}
