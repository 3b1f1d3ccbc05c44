// handlers/account.go
package handlers

import (
	"competition-protocol/middleware"
	"competition-protocol/services"

	"github.com/gofiber/fiber/v2"
)

func SetupAccountRoutes(app *fiber.App, custody *services.LedgerCustody) {
	auth := middleware.UserContextMiddleware()

	app.Get("/tokens/:token/balance", auth, func(c *fiber.Ctx) error {
		token := c.Params("token")
		user := middleware.UserID(c)
		balance, err := custody.BalanceOf(c.UserContext(), token, user)
		if err != nil {
			return respondError(c, err)
		}
		allowance, err := custody.Allowance(c.UserContext(), token, user, services.ProtocolAccount)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"token":     token,
			"account":   user,
			"balance":   balance,
			"allowance": allowance,
		})
	})

	// approve sets the protocol's allowance over the caller's balance
	app.Post("/tokens/:token/approve", auth, func(c *fiber.Ctx) error {
		var body struct {
			Amount uint64 `json:"amount"`
		}
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		token := c.Params("token")
		if err := custody.Approve(c.UserContext(), token, middleware.UserID(c), services.ProtocolAccount, body.Amount); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"token": token, "spender": services.ProtocolAccount, "allowance": body.Amount})
	})

	admin := app.Group("/admin", auth, middleware.RequireRole(middleware.RoleAdmin))

	admin.Post("/tokens", func(c *fiber.Ctx) error {
		var body struct {
			Symbol      string `json:"symbol"`
			Name        string `json:"name"`
			Whitelisted bool   `json:"whitelisted"`
		}
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		if err := custody.SetWhitelisted(c.UserContext(), body.Symbol, body.Name, body.Whitelisted); err != nil {
			return respondError(c, err)
		}
		return c.JSON(body)
	})

	admin.Post("/tokens/:token/mint", func(c *fiber.Ctx) error {
		var body struct {
			Account string `json:"account"`
			Amount  uint64 `json:"amount"`
		}
		if err := c.BodyParser(&body); err != nil || body.Account == "" {
			return badRequest(c, "account and amount are required")
		}
		if err := custody.Mint(c.UserContext(), c.Params("token"), body.Account, body.Amount); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"token": c.Params("token"), "account": body.Account, "minted": body.Amount})
	})
}
