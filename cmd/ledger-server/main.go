package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/auditledger/auditledger/internal/config"
	"github.com/auditledger/auditledger/internal/domain/audit"
	"github.com/auditledger/auditledger/internal/ledger"
	"github.com/auditledger/auditledger/internal/platform/auth"
	"github.com/auditledger/auditledger/internal/platform/db"
	"github.com/auditledger/auditledger/internal/platform/middleware"
	"github.com/auditledger/auditledger/internal/platform/notification"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ledger-server",
		Short: "Tamper-evident audit ledger service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(rotateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the audit ledger API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a channel's hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, _ := cmd.Flags().GetString("channel")
			if channel == "" {
				return fmt.Errorf("--channel is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			result, err := ledger.NewVerifier(cfg.LogDir).Verify(channel)
			if err != nil {
				return err
			}

			if result.Valid {
				fmt.Printf("channel %s: chain valid, %d entries checked\n", channel, result.EntriesChecked)
				return nil
			}
			fmt.Printf("channel %s: CHAIN BROKEN at record %d (%d entries checked)\n",
				channel, *result.BrokenAtIndex, result.EntriesChecked)
			return fmt.Errorf("verification failed")
		},
	}
	cmd.Flags().String("channel", "", "Channel to verify")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate statistics for a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, _ := cmd.Flags().GetString("channel")
			if channel == "" {
				return fmt.Errorf("--channel is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			reader := ledger.NewStatsReader(cfg.LogDir, time.Duration(cfg.SlowThresholdMS)*time.Millisecond)
			stats, err := reader.Stats(channel)
			if err != nil {
				return err
			}

			fmt.Printf("channel %s: %d entries, %d failures, %d slow operations\n",
				channel, stats.Entries, stats.Failures, stats.SlowOperations)
			for op, n := range stats.ByOperation {
				fmt.Printf("  %-20s %d\n", op, n)
			}
			return nil
		},
	}
	cmd.Flags().String("channel", "", "Channel to summarize")
	return cmd
}

func rotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Archive a channel's stream and reset its chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, _ := cmd.Flags().GetString("channel")
			if channel == "" {
				return fmt.Errorf("--channel is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
			appender, err := ledger.NewAppender(cfg.LogDir, logger)
			if err != nil {
				return err
			}

			archive, err := appender.Rotate(channel)
			if err != nil {
				return err
			}
			fmt.Printf("channel %s archived to %s\n", channel, archive)
			return nil
		},
	}
	cmd.Flags().String("channel", "", "Channel to rotate")
	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() && len(cfg.APIKeys) == 0 && cfg.JWTSecret == "" {
		logger.Warn().Msg("running in development mode with no authentication; all callers get admin access")
	}

	// Ledger core. The fallback logger writes to stderr so failed appends
	// surface even when stdout is redirected.
	fallback := zerolog.New(os.Stderr).With().Timestamp().Str("sink", "fallback").Logger()
	appender, err := ledger.NewAppender(cfg.LogDir, fallback)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open log directory")
	}
	verifier := ledger.NewVerifier(cfg.LogDir)
	stats := ledger.NewStatsReader(cfg.LogDir, time.Duration(cfg.SlowThresholdMS)*time.Millisecond)
	logger.Info().Str("dir", cfg.LogDir).Msg("audit ledger ready")

	// Optional search mirror
	ctx := context.Background()
	var repo audit.RecordRepository
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		pgRepo := audit.NewRecordRepoPG(pool)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare mirror schema")
		}
		repo = pgRepo
		logger.Info().Msg("search mirror connected")
	} else {
		logger.Info().Msg("no DATABASE_URL configured; search endpoints disabled")
	}

	// Chain-break alerting
	var alerter audit.ChainAlerter
	if len(cfg.AlertWebhooks) > 0 {
		alerter = notification.NewWebhookAlerter(cfg.AlertWebhooks, logger)
	}

	svc := audit.NewService(appender, verifier, stats, repo, alerter, logger)
	handler := audit.NewHandler(svc)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	// Auth middleware: API keys and JWT both establish a principal; admin
	// routes then require the admin role. Development with nothing
	// configured grants admin to every request.
	attempts := auth.NewAttemptTracker(cfg.AuthMaxFailures, time.Duration(cfg.AuthWindowSecs)*time.Second)
	keyStore := auth.NewAPIKeyStore()
	for _, spec := range cfg.APIKeys {
		name, rawKey, role, ok := auth.ParseKeySpec(spec)
		if !ok {
			logger.Fatal().Str("spec", spec).Msg("API_KEYS entries must be name:key:role with role writer or admin")
		}
		keyStore.Add(name, rawKey, role)
	}

	apiV1 := e.Group("/api/v1")
	if keyStore.Len() > 0 {
		apiV1.Use(auth.APIKeyMiddleware(keyStore, attempts))
	}
	if cfg.JWTSecret != "" {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}))
	}
	if keyStore.Len() > 0 || cfg.JWTSecret != "" {
		apiV1.Use(auth.RequireAuth())
	} else if cfg.IsDev() {
		apiV1.Use(devAuthMiddleware())
	}

	handler.RegisterRoutes(apiV1)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting audit ledger server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// devAuthMiddleware grants every request the admin role. Development only.
func devAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithPrincipal(c.Request().Context(), "dev", []string{auth.RoleAdmin})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
