package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/limitgate/limitgate/pkg/config"
	handlers "github.com/limitgate/limitgate/pkg/handlers/http"
	"github.com/limitgate/limitgate/pkg/infra/prometheus"
	"github.com/limitgate/limitgate/pkg/middleware"
	"github.com/limitgate/limitgate/pkg/version"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const HealthPath = "/health"

// Server is the HTTP frontend of the rate limiting service.
type Server struct {
	config         *config.Config
	logger         *logrus.Logger
	router         *fiber.App
	transport      middleware.Transport
	handlers       handlers.HandlerTransport
	metricsStarted bool
}

func New(cfg *config.Config, logger *logrus.Logger, transport middleware.Transport, handlerTransport handlers.HandlerTransport) *Server {
	r := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReduceMemoryUsage:     true,
		Network:               fiber.NetworkTCP,
		ReadTimeout:           60 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	r.Server().NoDefaultServerHeader = true
	r.Server().NoDefaultDate = true
	r.Server().NoDefaultContentType = true

	return &Server{
		config:    cfg,
		logger:    logger,
		router:    r,
		transport: transport,
		handlers:  handlerTransport,
	}
}

// Router exposes the fiber app so callers can register the routes they want
// protected, each with its own rate limit policy middleware.
func (s *Server) Router() *fiber.App {
	return s.router
}

func (s *Server) Run() error {
	s.router.Use(s.transport.PanicRecoverMiddleware.Middleware())
	s.router.Use(s.transport.MetricsMiddleware.Middleware())
	s.router.Use(s.transport.GlobalIngressMiddleware.Middleware())

	s.router.Get(HealthPath, func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":  "healthy",
			"version": version.Version,
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	s.router.Post("/api/v1/check", s.handlers.CheckHandler.Handle)
	s.router.Get("/api/v1/version", s.handlers.GetVersionHandler.Handle)

	s.setupMetricsEndpoint()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.logger.WithField("addr", addr).Info("starting server")
	return s.router.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.router.Shutdown()
}

func (s *Server) setupMetricsEndpoint() {
	if s.metricsStarted {
		return
	}
	s.metricsStarted = true

	metricsApp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	metricsApp.Use(recover.New())

	metricsApp.Get("/metrics", func(c *fiber.Ctx) error {
		handler := fasthttpadaptor.NewFastHTTPHandler(prometheus.Handler())
		handler(c.Context())
		return nil
	})

	go func() {
		addr := fmt.Sprintf(":%d", s.config.Server.MetricsPort)
		if err := metricsApp.Listen(addr); err != nil {
			if !strings.Contains(err.Error(), "address already in use") {
				s.logger.WithError(err).Error("failed to start metrics server")
			}
		}
	}()
}
