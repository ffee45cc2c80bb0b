// Package main provides the Deskflow API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/deskflow/pkg/cmd"
	"github.com/dukex/deskflow/pkg/services"
	"github.com/dukex/deskflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

const shutdownTimeout = 10 * time.Second

type API struct {
	logger   *slog.Logger
	runtime  *cmd.Runtime
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, runtime *cmd.Runtime) *API {
	return &API{
		logger:   logger,
		runtime:  runtime,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	db := a.runtime.Storage.Persistence
	engine := a.runtime.Engine

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(db, engine, a.validate),
		services.NewRule(db, engine, a.validate, a.logger),
		services.NewExecution(db, engine),
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))
	app.Use(web.Instrument(a.runtime.Metrics))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return db.HealthCheck(c.Context()) == nil
		},
	}))

	app.Get("/metrics", web.MetricsHandler(a.runtime.Metrics))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Deskflow API")
	})

	handlers.Register(app)

	return app
}

// Start serves until ctx is cancelled or the process receives SIGINT or
// SIGTERM, then shuts the server down.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)

	go func() {
		errs <- app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	a.logger.InfoContext(ctx, "Deskflow API listening", "port", port)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	a.logger.InfoContext(ctx, "Shutting down Deskflow API")

	err := app.ShutdownWithTimeout(shutdownTimeout)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return nil
}
