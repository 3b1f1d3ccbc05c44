// handlers/competition.go
package handlers

import (
	"strconv"

	"competition-protocol/middleware"
	"competition-protocol/services"
	"competition-protocol/utils"

	"github.com/gofiber/fiber/v2"
)

const maxContentBytes = 32 << 20

func SetupCompetitionRoutes(app *fiber.App, protocol *services.CompetitionProtocol) {
	// 🔓 reads need only the gateway token
	app.Get("/competitions/:id", func(c *fiber.Ctx) error {
		id, ok := paramUint(c, "id")
		if !ok {
			return badRequest(c, "invalid competition id")
		}
		comp, err := protocol.GetCompetition(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(comp)
	})

	app.Get("/competitions/:id/entries", func(c *fiber.Ctx) error {
		id, ok := paramUint(c, "id")
		if !ok {
			return badRequest(c, "invalid competition id")
		}
		entries, err := protocol.ListEntries(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"entries": entries})
	})

	app.Get("/competitions/:id/settlement", func(c *fiber.Ctx) error {
		id, ok := paramUint(c, "id")
		if !ok {
			return badRequest(c, "invalid competition id")
		}
		settlement, err := protocol.PreviewSettlement(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(settlement)
	})

	// 🔐 writes act on behalf of X-User-ID; the middleware is attached per route
	auth := middleware.UserContextMiddleware()

	app.Get("/competitions/:id/entries/:entry/positions/me", auth, func(c *fiber.Ctx) error {
		id, ok1 := paramUint(c, "id")
		entryID, ok2 := paramUint(c, "entry")
		if !ok1 || !ok2 {
			return badRequest(c, "invalid competition or entry id")
		}
		pos, err := protocol.GetPosition(c.UserContext(), id, entryID, middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(pos)
	})

	app.Post("/competitions", auth, func(c *fiber.Ctx) error {
		var in services.CreateCompetitionInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		in.Creator = middleware.UserID(c)
		comp, err := protocol.Create(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(comp)
	})

	app.Post("/competitions/:id/entries", auth, func(c *fiber.Ctx) error {
		id, ok := paramUint(c, "id")
		if !ok {
			return badRequest(c, "invalid competition id")
		}
		in, err := parseEntryInput(c)
		if err != nil {
			return badRequest(c, err.Error())
		}
		if in.Sponsored && !middleware.HasRole(c, middleware.RoleSponsor) {
			return respondError(c, services.ErrNotAuthorized)
		}
		in.CompetitionID = id
		in.Owner = middleware.UserID(c)
		entry, err := protocol.RegisterEntry(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(entry)
	})

	app.Post("/competitions/:id/entries/:entry/votes", auth, func(c *fiber.Ctx) error {
		id, ok1 := paramUint(c, "id")
		entryID, ok2 := paramUint(c, "entry")
		if !ok1 || !ok2 {
			return badRequest(c, "invalid competition or entry id")
		}
		var in services.VoteInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		in.CompetitionID, in.EntryID, in.Voter = id, entryID, middleware.UserID(c)
		pos, err := protocol.IncreaseStake(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(pos)
	})

	app.Post("/competitions/:id/entries/:entry/retract", auth, func(c *fiber.Ctx) error {
		id, ok1 := paramUint(c, "id")
		entryID, ok2 := paramUint(c, "entry")
		if !ok1 || !ok2 {
			return badRequest(c, "invalid competition or entry id")
		}
		var in services.RetractInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		in.CompetitionID, in.EntryID, in.Voter = id, entryID, middleware.UserID(c)
		pos, err := protocol.RetractStakeWithComment(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(pos)
	})

	app.Post("/competitions/:id/entries/:entry/withdraw/owner", auth, func(c *fiber.Ctx) error {
		id, ok1 := paramUint(c, "id")
		entryID, ok2 := paramUint(c, "entry")
		if !ok1 || !ok2 {
			return badRequest(c, "invalid competition or entry id")
		}
		payout, err := protocol.WithdrawByOwner(c.UserContext(), id, entryID, middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(payout)
	})

	app.Post("/competitions/:id/entries/:entry/withdraw/voter", auth, func(c *fiber.Ctx) error {
		id, ok1 := paramUint(c, "id")
		entryID, ok2 := paramUint(c, "entry")
		if !ok1 || !ok2 {
			return badRequest(c, "invalid competition or entry id")
		}
		payout, err := protocol.WithdrawByVoter(c.UserContext(), id, entryID, middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(payout)
	})

	app.Post("/withdrawals/owner/batch", auth, func(c *fiber.Ctx) error {
		var body struct {
			Positions []services.PositionKey `json:"positions"`
		}
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		payouts, err := protocol.BatchWithdrawByOwner(c.UserContext(), middleware.UserID(c), body.Positions)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"payouts": payouts})
	})

	app.Post("/withdrawals/voter/batch", auth, func(c *fiber.Ctx) error {
		var body struct {
			Positions []services.PositionKey `json:"positions"`
		}
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		payouts, err := protocol.BatchWithdrawByVoter(c.UserContext(), middleware.UserID(c), body.Positions)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"payouts": payouts})
	})

	// anonymous: the caller identity is deliberately not attached to a ballot
	app.Post("/competitions/:id/ballots", func(c *fiber.Ctx) error {
		id, ok := paramUint(c, "id")
		if !ok {
			return badRequest(c, "invalid competition id")
		}
		var ballot services.BallotProof
		if err := c.BodyParser(&ballot); err != nil {
			return badRequest(c, "invalid request body")
		}
		ballot.CompetitionID = id
		pos, err := protocol.CastBallot(c.UserContext(), ballot)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"competition_id": pos.CompetitionID,
			"entry_id":       pos.EntryID,
			"weight":         pos.Amount,
		})
	})
}

// parseEntryInput accepts JSON or a multipart form carrying the entry content as "content".
func parseEntryInput(c *fiber.Ctx) (services.RegisterEntryInput, error) {
	var in services.RegisterEntryInput
	form, err := c.MultipartForm()
	if err != nil {
		if err := c.BodyParser(&in); err != nil {
			return in, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		return in, nil
	}

	in.Title = c.FormValue("title")
	in.Metadata = c.FormValue("metadata")
	if raw := c.FormValue("entry_id"); raw != "" {
		if in.EntryID, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return in, fiber.NewError(fiber.StatusBadRequest, "invalid entry_id")
		}
	}
	in.Sponsored = c.FormValue("sponsored") == "true"

	files := form.File["content"]
	if len(files) == 0 {
		return in, nil
	}
	if in.Content, in.ContentType, err = utils.ReadFormFile(files[0], maxContentBytes); err != nil {
		return in, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return in, nil
}
