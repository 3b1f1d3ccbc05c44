package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"competition-protocol/config"
	"competition-protocol/handlers"
	"competition-protocol/middleware"
	"competition-protocol/services"
	"competition-protocol/utils"
	"competition-protocol/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func newApp(cfg *config.Config, st *stack) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit: cfg.BodyLimitMB * 1024 * 1024,
	})

	// 🔐 only gateway requests, except the metrics scrape
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken, "/metrics"))

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Origins(),
		AllowMethods:     "GET,POST,OPTIONS,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, Last-Event-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupEventRoutes(app, services.NewEventStreamService(st.db), st.registry)
	handlers.SetupCompetitionRoutes(app, st.protocol)
	handlers.SetupCommunityRoutes(app, st.communities)
	handlers.SetupAccountRoutes(app, st.custody)
	return app
}

func serveRun(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdownTracing, err := utils.SetupTracing(ctx, cfg.TracingServiceName, cfg.TracingStdout)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				log.Printf("tracing shutdown: %v", err)
			}
		}()
	}

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.bus.Stop()

	if err := st.scheduler.Start(ctx); err != nil {
		return err
	}
	defer st.scheduler.Shutdown()

	if cfg.SyncServiceURL != "" {
		worker := workers.NewDepositSyncWorker(st.db, st.custody, cfg.SyncServiceURL, cfg.ServiceToken, cfg.DepositPollInterval)
		go worker.Run(ctx)
	} else {
		log.Println("⚠️  SYNC_SERVICE_URL not set, deposit mirroring is disabled")
	}

	app := newApp(cfg, st)
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.Port))
	}()

	log.Printf("✅ Server running on http://localhost:%d", cfg.Port)
	log.Printf("✅ Round scheduler running every %s", cfg.SchedulerInterval)
	log.Printf("✅ CORS configured for origins: %s", cfg.Origins())

	select {
	case err := <-listenErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	return app.ShutdownWithTimeout(cfg.ShutdownTimeout)
}
