// Command testdeckd is the testdeck control plane server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testdeck/internal/ai"
	"testdeck/internal/api"
	"testdeck/internal/auth"
	"testdeck/internal/cfg"
	"testdeck/internal/changeset"
	"testdeck/internal/db"
	"testdeck/internal/runner"
)

func main() {
	root := &cobra.Command{
		Use:   "testdeckd",
		Short: "Test automation control plane",
		Long:  "testdeckd manages test scripts, AI-proposed change-sets, test runs, and insights.",
	}

	var (
		listen string
		dbURL  string
	)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := cfg.FromEnv()
			if err != nil {
				return err
			}
			if listen != "" {
				config.Listen = listen
			}
			if dbURL != "" {
				config.DBURL = dbURL
			}
			return run(config)
		},
	}
	serve.Flags().StringVar(&listen, "listen", "", "address to listen on (default :8080)")
	serve.Flags().StringVar(&dbURL, "db", "", "database URL (default testdeck.db)")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			config, _ := cfg.FromEnv()
			fmt.Println(config.Version)
		},
	}

	root.AddCommand(serve, version)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(config *cfg.Config) error {
	log, err := newLogger(config.Debug)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	log.Info("testdeckd starting",
		zap.String("listen", config.Listen),
		zap.String("db", config.DBURL),
		zap.String("ai_provider", config.AIProviderURL),
		zap.String("executor", config.ExecutorURL),
		zap.String("version", config.Version),
		zap.Bool("debug", config.Debug))

	database, err := db.Open(config.DBURL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	tokens := auth.NewTokenService(
		config.JWTSigningKey,
		config.JWTIssuer,
		config.AccessTokenTTL,
		config.RefreshTokenTTL,
	)

	provider := ai.NewClient(config.AIProviderURL, config.AIProviderToken, config.AITimeout)
	engine := changeset.NewEngine(database, provider, log)

	executor := runner.NewExecutorClient(config.ExecutorURL, config.ExecutorToken)
	orch := runner.NewOrchestrator(database, executor, log)

	handler := api.NewHandler(database, config, tokens, engine, orch, log)
	router := api.WithDefaults(api.NewRouter(handler), log, config.Debug)

	srv := &http.Server{
		Addr:         config.Listen,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket watch holds connections open
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller := runner.NewPoller(orch, config.PollInterval, log)
	poller.Start(ctx)

	// Housekeeping: expired sessions hourly, stale run reaping every few
	// minutes.
	housekeeper := cron.New()
	housekeeper.AddFunc("@hourly", func() {
		if err := database.CleanupExpiredSessions(); err != nil {
			log.Warn("session cleanup failed", zap.Error(err))
		}
	})
	housekeeper.AddFunc("@every 5m", func() {
		n, err := database.ReapStaleRuns(config.RunDeadline)
		if err != nil {
			log.Warn("stale run reaping failed", zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("reaped stale runs", zap.Int64("count", n))
		}
	})
	housekeeper.Start()

	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown error", zap.Error(err))
		}

		<-housekeeper.Stop().Done()
		poller.Stop()
		cancel()
		close(done)
	}()

	log.Info("testdeckd listening", zap.String("addr", config.Listen))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	log.Info("testdeckd stopped")
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
