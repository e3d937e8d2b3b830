package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/limitgate/limitgate/pkg/version"
	"github.com/sirupsen/logrus"
)

type getVersionHandler struct {
	logger *logrus.Logger
}

func NewGetVersionHandler(logger *logrus.Logger) Handler {
	return &getVersionHandler{
		logger: logger,
	}
}

func (h *getVersionHandler) Handle(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(version.GetInfo())
}
