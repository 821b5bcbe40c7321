// Command syncd-server runs the reference HTTP sync server: a gin router
// backed by a SQLite-persisted syncengine.Store, serving arbitrary JSON
// documents to any syncengine.Orchestrator configured with
// internal/httptransport.Client pointed at it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/meridiansync/syncd/internal/config"
	"github.com/meridiansync/syncd/internal/httptransport/apitoken"
	"github.com/meridiansync/syncd/internal/httptransport/server"
	"github.com/meridiansync/syncd/internal/logging"
	"github.com/meridiansync/syncd/internal/sqlitestore"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "syncd-server",
		Short: "Reference HTTP sync server for the syncd engine",
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
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().Bool("require-bearer", defaults.GetBool("auth.require_bearer"), "Require a bearer token on /sync/* routes")
	cmd.PersistentFlags().String("signing-secret", "", "Bearer token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.require_bearer", "require-bearer")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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
	appConfig, err := config.LoadServerConfig(viper.GetViper())
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

	syncService := server.NewSyncService[json.RawMessage](store)

	deps := server.Dependencies[json.RawMessage]{Service: syncService, Logger: logger}
	if appConfig.RequireBearer {
		deps.TokenValidator = apitoken.NewIssuer(apitoken.IssuerConfig{
			SigningSecret: []byte(appConfig.SigningSecret),
			Issuer:        appConfig.TokenIssuer,
			Audience:      appConfig.TokenAudience,
			TokenTTL:      appConfig.TokenTTL,
		})
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
