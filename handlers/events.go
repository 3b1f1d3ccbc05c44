// handlers/events.go
package handlers

import (
	"competition-protocol/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupEventRoutes(app *fiber.App, stream *services.EventStreamService, gatherer prometheus.Gatherer) {
	app.Get("/events/stream", stream.StreamEvents)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
