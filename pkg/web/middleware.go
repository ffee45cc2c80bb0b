package web

import (
	"errors"
	"time"

	"github.com/dukex/deskflow/pkg/metrics"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
)

// Instrument records request counts and latencies by route pattern, so ids
// in the path do not explode the label space.
func Instrument(m *metrics.Metrics) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError

			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		m.ObserveHTTP(c.Method(), c.Route().Path, status, time.Since(started))

		return err
	}
}

// MetricsHandler exposes the registry in the Prometheus text format.
func MetricsHandler(m *metrics.Metrics) fiber.Handler {
	return adaptor.HTTPHandler(m.Handler())
}
