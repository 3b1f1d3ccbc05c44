package handlers

import (
	"log"
	"strconv"

	"competition-protocol/services"

	"github.com/gofiber/fiber/v2"
)

// respondError maps a service error to its status and stable code.
func respondError(c *fiber.Ctx, err error) error {
	status := services.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		log.Printf("❌ [API] %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{
			"error": "internal error",
			"code":  services.CodeInternal,
		})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  services.CodeOf(err),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  services.CodeInvalidArgument,
	})
}

func paramUint(c *fiber.Ctx, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Params(name), 10, 64)
	return v, err == nil
}
