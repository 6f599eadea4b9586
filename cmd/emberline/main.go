package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/emberline/emberline/internal/config"
	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/events"
	"github.com/emberline/emberline/internal/handlers"
	"github.com/emberline/emberline/internal/jobs"
	"github.com/emberline/emberline/internal/messaging"
	"github.com/emberline/emberline/internal/middleware"
	"github.com/emberline/emberline/internal/notify"
	"github.com/emberline/emberline/internal/ratelimit"
	"github.com/emberline/emberline/internal/services"
	"github.com/emberline/emberline/internal/verification"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("No .env file loaded, using environment variables")
	}

	log.Info().Int("port", cfg.HTTPPort).Str("version", handlers.Version).Msg("Starting Emberline")

	if cfg.AdminPassword == "" {
		log.Fatal().Msg("ADMIN_PASSWORD is not set")
	}
	passwordHash, err := middleware.HashPassword(cfg.AdminPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash admin password")
	}
	jwtAuth := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		Enabled:           true,
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: passwordHash,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiryHours:    cfg.JWTExpiryHours,
	})
	log.Info().Str("username", cfg.AdminUsername).Msg("JWT authentication enabled")

	// Database
	if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	db := database.GetDB()
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	if err := database.InitializeDefaults(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database defaults")
	}
	settings, err := database.GetOrCreateAlertSettings(db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load alert settings")
	}

	// Notification transports
	var email notify.Sender = notify.LogSender{}
	if cfg.SMTPHost != "" {
		email = notify.NewEmailSender(notify.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		log.Info().Str("host", cfg.SMTPHost).Msg("SMTP notifications enabled")
	} else {
		log.Warn().Msg("SMTP_HOST not set, email notifications are written to the log")
	}
	var slackSender notify.Sender
	if cfg.SlackBotToken != "" {
		slackSender = notify.NewSlackSender(cfg.SlackBotToken)
		log.Info().Str("ops_channel", cfg.SlackOpsChannel).Msg("Slack notifications enabled")
	}

	// Verification oracle
	fetcher := verification.NewHTTPImageFetcher(cfg.Verification.ImageFetchTimeout())
	gateway := verification.NewGateway(
		verification.NewGeminiOracle(cfg.Verification.BaseURL),
		fetcher,
		verification.Options{
			Enabled:        settings.VerificationEnabled && len(cfg.Verification.Credentials) > 0,
			Policy:         settings.FailurePolicy,
			Models:         cfg.Verification.Models,
			Credentials:    cfg.Verification.Credentials,
			AttemptTimeout: cfg.Verification.AttemptTimeout(),
			Prompt:         cfg.Verification.Prompt,
			Limiter:        ratelimit.NewKeyed(cfg.Verification.RatePerSecond, cfg.Verification.Burst),
		},
	)
	if len(cfg.Verification.Credentials) == 0 {
		log.Warn().Str("failure_policy", string(settings.FailurePolicy)).
			Msg("No oracle credentials configured, every alert gets the failure policy verdict")
	}
	log.Info().Int("oracle_pairs", gateway.Pairs()).Msg("Verification gateway ready")

	// Event fan-out: dashboard websockets, NATS and the gatekeeper scheduler
	corsMiddleware := middleware.NewCORSMiddleware(cfg.CORSOrigins...)
	hub := events.NewHub(corsMiddleware.CheckOrigin)
	publishers := events.Fanout{hub}

	var natsSvc *messaging.Service
	if cfg.NatsURL != "" {
		natsSvc, err = messaging.NewService(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize messaging")
		}
		publishers = append(publishers, messaging.NewEventPublisher(natsSvc))
	} else {
		log.Info().Msg("NATS_URL not set, running without messaging")
	}

	var scheduler *jobs.GatekeeperScheduler
	if cfg.GatekeeperSchedulerEnabled {
		publishers = append(publishers, events.PublisherFunc(func(ctx context.Context, ev events.AlertEvent) error {
			return scheduler.Publish(ctx, ev)
		}))
	}

	// Services
	dispatchService := services.NewDispatchService(db, settings)
	responderService := services.NewResponderService(db, settings)
	alertService := services.NewAlertService(db, services.AlertServiceConfig{
		Settings:   settings,
		Verifier:   gateway,
		Dispatch:   dispatchService,
		Notifier:   notify.NewRouter(email, slackSender),
		Publisher:  publishers,
		Images:     fetcher,
		OpsChannel: cfg.SlackOpsChannel,
		PublicURL:  cfg.PublicURL,
	})
	if cfg.GatekeeperSchedulerEnabled {
		scheduler = jobs.NewGatekeeperScheduler(alertService, jobs.DefaultSchedulerConfig(settings.VerificationDelay()))
		log.Info().Dur("delay", settings.VerificationDelay()).Msg("Server-side gatekeeper enabled")
	}

	if natsSvc != nil {
		if _, err := messaging.NewDetectionConsumer(alertService).Start(natsSvc); err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe to detections")
		}
	}

	// Background jobs
	stop := make(chan struct{})
	go jobs.NewCooldownReaper(alertService).Start(settings.ReaperInterval(), stop)
	go jobs.NewStaleAlertSweeper(alertService).Start(cfg.StaleSweepInterval, stop)

	// HTTP routes
	guards := handlers.Guards{
		Operator: jwtAuth.Wrap,
		Identify: jwtAuth.Identify,
		Service:  middleware.NewServiceKeyMiddleware(middleware.ServiceKeyHeader, cfg.ServiceKey).Wrap,
		Provider: middleware.NewServiceKeyMiddleware(middleware.ProviderSecretHeader, cfg.ProviderSecret).Wrap,
	}

	mux := http.NewServeMux()
	handlers.NewHTTPHandler(map[string]handlers.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"messaging": func(context.Context) error {
			if natsSvc != nil && !natsSvc.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		},
	}).SetupRoutes(mux)
	handlers.NewAuthHandler(jwtAuth).SetupRoutes(mux)
	handlers.NewAlertHandler(alertService, guards).SetupRoutes(mux)
	handlers.NewDispatchHandler(dispatchService, responderService, guards).SetupRoutes(mux)
	hub.SetupRoutes(mux, jwtAuth.Wrap)

	handler := corsMiddleware.Wrap(middleware.RequestIDMiddleware(middleware.AccessLogMiddleware(mux)))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Received shutdown signal, cleaning up...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down HTTP server")
	}
	close(stop)
	if scheduler != nil {
		log.Info().Int("pending_gatekeeper_runs", scheduler.Pending()).Msg("Stopping gatekeeper scheduler")
		scheduler.Stop()
	}
	alertService.Wait()
	hub.Close()
	if natsSvc != nil {
		if err := natsSvc.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Error draining NATS connection")
		}
	}

	log.Info().Msg("Shutdown complete")
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.DefaultContextLogger = &log.Logger

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
