package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/limitgate/limitgate/pkg/common"
	"github.com/limitgate/limitgate/pkg/ratelimit"
	"github.com/sirupsen/logrus"
)

type checkRequest struct {
	Key    string                 `json:"key"`
	Path   string                 `json:"path"`
	Policy map[string]interface{} `json:"policy"`
}

type checkHandler struct {
	logger       *logrus.Logger
	orchestrator *ratelimit.Orchestrator
}

// NewCheckHandler exposes the decision API over HTTP so non-Go services can
// gate their own operations through the engine.
func NewCheckHandler(logger *logrus.Logger, orchestrator *ratelimit.Orchestrator) Handler {
	return &checkHandler{
		logger:       logger,
		orchestrator: orchestrator,
	}
}

func (h *checkHandler) Handle(c *fiber.Ctx) error {
	var req checkRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	policy, err := ratelimit.DecodePolicy(req.Policy)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if policy.Key == "" {
		policy.Key = req.Key
	}

	err = h.orchestrator.Acquire(c.UserContext(), policy, ratelimit.Request{Path: req.Path})
	if err == nil {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"allowed": true,
		})
	}

	var limitErr *ratelimit.RateLimitError
	if !errors.As(err, &limitErr) {
		h.logger.WithError(err).WithField("request_id", c.Locals(common.RequestIDContextKey)).
			Error("rate limit check failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"allowed": false,
		"message": limitErr.Message,
	})
}
