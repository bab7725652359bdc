package sentinel

import (
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Server exposes the pipeline over HTTP: the current threat snapshot, the
// persisted event history, an ingest endpoint for raw platform events, and
// the health and metrics endpoints.
type Server struct {
	app    *fiber.App
	coord  *Coordinator
	store  EventStore
	pusher EventPusher
	logger zerolog.Logger
}

// NewServer wires the routes. pusher may be nil when the raw source is not
// in-process (NATS); the ingest endpoint then returns 501.
func NewServer(coord *Coordinator, store EventStore, pusher EventPusher, metrics *Metrics, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "sentinel",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})

	s := &Server{
		app:    app,
		coord:  coord,
		store:  store,
		pusher: pusher,
		logger: logger,
	}

	api := app.Group("/api/v1")
	api.Get("/snapshot", s.handleSnapshot)
	api.Get("/events", s.handleEvents)
	api.Post("/events", s.handleIngest)

	app.Get("/healthz", s.handleHealthz)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	return s
}

// Listen blocks serving HTTP on addr.
func (s *Server) Listen(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("http server listening")
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(5 * time.Second)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	return c.JSON(s.coord.Snapshot())
}

func (s *Server) handleEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "since must be RFC3339")
		}
		since = parsed
	}

	var (
		events []SecurityEvent
		err    error
	)
	if since.IsZero() {
		events, err = s.store.All(c.Context(), limit)
	} else {
		events, err = s.store.Recent(c.Context(), since, limit)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("event query failed")
		return fiber.NewError(fiber.StatusInternalServerError, "event store unavailable")
	}
	if events == nil {
		events = []SecurityEvent{}
	}
	return c.JSON(fiber.Map{
		"count":  len(events),
		"events": events,
	})
}

func (s *Server) handleIngest(c *fiber.Ctx) error {
	if s.pusher == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "ingest disabled: raw events arrive over the bus")
	}

	var raw RawEvent
	if err := c.BodyParser(&raw); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "body must be a JSON raw event")
	}
	if raw.Topic == "" {
		return fiber.NewError(fiber.StatusBadRequest, "topic is required")
	}

	s.pusher.Push(raw)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
}

func (s *Server) handleHealthz(c *fiber.Ctx) error {
	status := fiber.StatusOK
	storeStatus := "ok"
	if err := s.store.HealthCheck(c.Context()); err != nil {
		status = fiber.StatusServiceUnavailable
		storeStatus = err.Error()
	}
	return c.Status(status).JSON(fiber.Map{
		"status":     statusWord(status == fiber.StatusOK),
		"store":      storeStatus,
		"last_cycle": s.coord.LastCycle(),
	})
}

func statusWord(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}
