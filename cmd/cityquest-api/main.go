package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cityquest/backend/internal/achievements"
	"github.com/cityquest/backend/internal/auth"
	"github.com/cityquest/backend/internal/config"
	"github.com/cityquest/backend/internal/database"
	"github.com/cityquest/backend/internal/geo"
	"github.com/cityquest/backend/internal/ledger"
	"github.com/cityquest/backend/internal/logging"
	"github.com/cityquest/backend/internal/realtime"
	"github.com/cityquest/backend/internal/server"
	"github.com/cityquest/backend/internal/tasks"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cityquest-api",
		Short: "CityQuest points and notification backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("geo-cell-scale", defaults.GetInt("geo.cell_scale"), "Location cell quantization scale")
	cmd.PersistentFlags().Int("worker-count", defaults.GetInt("workers.count"), "Achievement evaluation workers")
	cmd.PersistentFlags().Int("worker-backlog", defaults.GetInt("workers.backlog"), "Achievement evaluation queue depth")
	cmd.PersistentFlags().String("signing-secret", "", "Access token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "geo.cell_scale", "geo-cell-scale")
	bindFlag(cmd, "workers.count", "worker-count")
	bindFlag(cmd, "workers.backlog", "worker-backlog")
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

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "cityquest-auth",
		Audience:      "cityquest-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	ledgerService, err := ledger.NewService(ledger.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	hub := realtime.NewHub(logger)
	cells := geo.NewBucketIndex(appConfig.GeoCellScale)
	eventRouter, err := realtime.NewRouter(realtime.RouterConfig{
		Registry: hub,
		Cells:    cells,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	statsRepository := tasks.NewStatsRepository(db)
	evaluator, err := achievements.NewEvaluator(achievements.EvaluatorConfig{
		Repository: statsRepository,
		Ledger:     ledgerService,
		Events:     eventRouter,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	dispatcher := achievements.NewDispatcher(evaluator, appConfig.WorkerCount, appConfig.WorkerBacklog, logger)
	defer dispatcher.Stop()

	taskService, err := tasks.NewService(tasks.ServiceConfig{
		Database:     db,
		Ledger:       ledgerService,
		Achievements: dispatcher,
		Events:       eventRouter,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		TaskService:  taskService,
		Ledger:       ledgerService,
		Stats:        statsRepository,
		Hub:          hub,
		Cells:        cells,
		Events:       eventRouter,
		Logger:       logger,
	})
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
