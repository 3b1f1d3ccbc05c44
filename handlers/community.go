// handlers/community.go
package handlers

import (
	"competition-protocol/middleware"
	"competition-protocol/services"

	"github.com/gofiber/fiber/v2"
)

func SetupCommunityRoutes(app *fiber.App, communities *services.CommunityService) {
	app.Get("/communities/:id", func(c *fiber.Ctx) error {
		id, ok := paramUint(c, "id")
		if !ok {
			return badRequest(c, "invalid community id")
		}
		community, err := communities.GetCommunity(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(community)
	})

	app.Get("/communities/:id/rounds/current", func(c *fiber.Ctx) error {
		id, ok := paramUint(c, "id")
		if !ok {
			return badRequest(c, "invalid community id")
		}
		comp, err := communities.CurrentRound(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(comp)
	})

	auth := middleware.UserContextMiddleware()

	app.Post("/communities", auth, func(c *fiber.Ctx) error {
		var in services.CreateCommunityInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		in.Owner = middleware.UserID(c)
		community, err := communities.CreateCommunity(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(community)
	})

	app.Post("/communities/:id/build", auth, func(c *fiber.Ctx) error {
		id, ok := paramUint(c, "id")
		if !ok {
			return badRequest(c, "invalid community id")
		}
		reg, err := parseEntryInput(c)
		if err != nil {
			return badRequest(c, err.Error())
		}
		if reg.Sponsored && !middleware.HasRole(c, middleware.RoleSponsor) {
			return respondError(c, services.ErrNotAuthorized)
		}
		entry, err := communities.Build(c.UserContext(), services.BuildInput{
			CommunityID: id,
			Owner:       middleware.UserID(c),
			Title:       reg.Title,
			Metadata:    reg.Metadata,
			Content:     reg.Content,
			ContentType: reg.ContentType,
			Sponsored:   reg.Sponsored,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(entry)
	})
}
