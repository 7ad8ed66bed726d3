package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/veloprocure/be-proc-approvals/internal/client"
	"github.com/veloprocure/be-proc-approvals/internal/config"
	"github.com/veloprocure/be-proc-approvals/internal/database"
	"github.com/veloprocure/be-proc-approvals/internal/handler"
	"github.com/veloprocure/be-proc-approvals/internal/repository"
	"github.com/veloprocure/be-proc-approvals/internal/service"
)

func main() {
	cfg := config.Load()

	log := newLogger(cfg)
	log.Info().
		Str("service", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Msg("Starting procurement approvals service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	publisher, err := client.NewNotificationPublisher(cfg.NATSURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer publisher.Close()
	if cfg.NATSURL != "" {
		log.Info().Str("nats_url", cfg.NATSURL).Msg("Event publisher initialized")
	}

	hierarchyRepo := repository.NewHierarchyRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	entityRepo := repository.NewEntityStatusRepository(db)

	workflowService := service.NewWorkflowService(
		hierarchyRepo, approvalRepo, userRepo, auditRepo, entityRepo, publisher, log)
	hierarchyService := service.NewHierarchyService(hierarchyRepo, log)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(handler.RequestID())
	router.Use(handler.RequestLogger(log))
	router.Use(gin.Recovery())

	httpHandler := handler.NewHTTPHandler(workflowService, hierarchyService, log)
	httpHandler.Register(router)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = os.Stdout
	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger()

	if cfg.Environment == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out})
	}
	return logger
}
