package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/limitgate/limitgate/pkg/common"
	"github.com/limitgate/limitgate/pkg/infra/prometheus"
	"github.com/sirupsen/logrus"
)

type metricsMiddleware struct {
	logger *logrus.Logger
}

func NewMetricsMiddleware(logger *logrus.Logger) Middleware {
	return &metricsMiddleware{logger: logger}
}

func (m *metricsMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(common.RequestIDContextKey, uuid.New().String())

		err := c.Next()

		prometheus.RequestTotal.WithLabelValues(
			c.Method(),
			statusClass(c.Response().StatusCode()),
		).Inc()

		return err
	}
}

// statusClass collapses a status code to its class (e.g. "4xx") to keep
// metric cardinality down.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "5xx"
	}
	return fmt.Sprintf("%dxx", code/100)
}
