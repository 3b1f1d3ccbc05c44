package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"competition-protocol/events"
	"competition-protocol/middleware"
	"competition-protocol/models"
	"competition-protocol/services"
	"competition-protocol/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "gateway-secret"

var testNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type testAPI struct {
	t       *testing.T
	app     *fiber.App
	clock   *clockwork.FakeClock
	custody *services.LedgerCustody
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := utils.OpenDatabase(utils.DatabaseOptions{Driver: "sqlite", DSN: dsn, Quiet: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))

	clock := clockwork.NewFakeClockAt(testNow)
	reg := prometheus.NewRegistry()
	bus := events.NewEventBus(reg)
	t.Cleanup(bus.Stop)

	custody := services.NewLedgerCustody(db)
	scheduler := services.NewRoundScheduler(db, clock, bus)
	protocol := services.NewCompetitionProtocol(db, scheduler, custody, bus)
	protocol.Metrics = services.NewProtocolMetrics(reg)
	communities := services.NewCommunityService(protocol)
	scheduler.Rounds = communities

	app := fiber.New()
	app.Use(middleware.GatewayAuthMiddleware(testToken, "/metrics"))
	SetupEventRoutes(app, services.NewEventStreamService(db), reg)
	SetupCompetitionRoutes(app, protocol)
	SetupCommunityRoutes(app, communities)
	SetupAccountRoutes(app, custody)

	ctx := context.Background()
	for _, token := range []string{"VOTE", "PRIZE"} {
		require.NoError(t, custody.SetWhitelisted(ctx, token, token, true))
	}
	return &testAPI{t: t, app: app, clock: clock, custody: custody}
}

func (a *testAPI) fund(token, account string, amount uint64) {
	a.t.Helper()
	ctx := context.Background()
	require.NoError(a.t, a.custody.Mint(ctx, token, account, amount))
	require.NoError(a.t, a.custody.Approve(ctx, token, account, services.ProtocolAccount, math.MaxInt64))
}

// do sends a gateway-authenticated request; user may be empty, roles is the raw header.
func (a *testAPI) do(method, path, user, roles string, body any) (int, map[string]any) {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if roles != "" {
		req.Header.Set("X-User-Roles", roles)
	}
	return a.send(req)
}

func (a *testAPI) send(req *http.Request) (int, map[string]any) {
	a.t.Helper()
	resp, err := a.app.Test(req, -1)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func (a *testAPI) createCompetition(creator string) uint64 {
	a.t.Helper()
	a.fund("PRIZE", creator, 1_000)
	status, body := a.do("POST", "/competitions", creator, "", map[string]any{
		"title":        "Spring Jam",
		"stake_token":  "VOTE",
		"payout_token": "PRIZE",
		"tier_shares":  []uint64{1_000},
		"mode":         "ranked",
		"end_time":     testNow.Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(a.t, fiber.StatusCreated, status, body)
	return uint64(body["id"].(float64))
}

func TestGatewayTokenRequired(t *testing.T) {
	api := newTestAPI(t)

	resp, err := api.app.Test(httptest.NewRequest("GET", "/competitions/1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest("GET", "/competitions/1", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = api.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	// the raw token without the Bearer prefix is accepted as well
	req = httptest.NewRequest("GET", "/competitions/1", nil)
	req.Header.Set("Authorization", testToken)
	resp, err = api.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = api.app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestWritesRequireUserContext(t *testing.T) {
	api := newTestAPI(t)
	status, _ := api.do("POST", "/competitions", "", "", map[string]any{"title": "x"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = api.do("GET", "/tokens/VOTE/balance", "", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestCompetitionLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	id := api.createCompetition("creator")
	base := "/competitions/" + uitoa(id)

	status, body := api.do("GET", base, "", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "open", body["phase"])
	assert.Equal(t, "spring-jam", body["slug"])

	status, body = api.do("POST", base+"/entries", "alice", "", map[string]any{"title": "Sunrise"})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, float64(1), body["entry_id"])

	status, body = api.do("POST", base+"/entries", "alice", "", map[string]any{"title": "Again", "entry_id": 1})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, string(services.CodeDuplicateEntry), body["code"])

	// no balance yet
	status, body = api.do("POST", base+"/entries/1/votes", "bob", "", map[string]any{"amount": 10, "token": "VOTE"})
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, string(services.CodeTransferFailed), body["code"])

	api.fund("VOTE", "bob", 100)
	status, body = api.do("POST", base+"/entries/1/votes", "bob", "", map[string]any{"amount": 10, "token": "VOTE"})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, float64(10), body["amount"])

	status, body = api.do("POST", base+"/entries/1/votes", "bob", "", map[string]any{"amount": 5, "token": "PRIZE"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, string(services.CodeInvalidArgument), body["code"])

	status, body = api.do("POST", base+"/entries/9/votes", "bob", "", map[string]any{"amount": 5, "token": "VOTE"})
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = api.do("GET", base+"/entries/1/positions/me", "bob", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(10), body["amount"])

	status, _ = api.do("POST", base+"/entries/1/withdraw/voter", "bob", "", nil)
	assert.Equal(t, fiber.StatusConflict, status)

	api.clock.Advance(time.Hour)

	status, body = api.do("POST", base+"/entries/1/votes", "bob", "", map[string]any{"amount": 5, "token": "VOTE"})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, string(services.CodePhaseViolation), body["code"])

	status, body = api.do("POST", "/withdrawals/voter/batch", "bob", "", map[string]any{
		"positions": []map[string]uint64{{"competition_id": id, "entry_id": 1}},
	})
	require.Equal(t, fiber.StatusOK, status, body)
	payouts := body["payouts"].([]any)
	require.Len(t, payouts, 1)
	assert.Equal(t, float64(1_000), payouts[0].(map[string]any)["reward"])

	status, _ = api.do("POST", base+"/entries/1/withdraw/owner", "mallory", "", nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = api.do("GET", "/tokens/PRIZE/balance", "bob", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1_000), body["balance"])
}

func TestSponsoredEntryNeedsRole(t *testing.T) {
	api := newTestAPI(t)
	id := api.createCompetition("creator")
	path := "/competitions/" + uitoa(id) + "/entries"

	status, body := api.do("POST", path, "alice", "", map[string]any{"title": "Free", "sponsored": true})
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, string(services.CodePermissionDenied), body["code"])

	status, body = api.do("POST", path, "alice", "sponsor", map[string]any{"title": "Free", "sponsored": true})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, true, body["sponsored"])
}

func TestMultipartEntryWithoutContentStore(t *testing.T) {
	api := newTestAPI(t)
	id := api.createCompetition("creator")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("title", "Pixel"))
	part, err := w.CreateFormFile("content", "pixel.png")
	require.NoError(t, err)
	_, err = part.Write([]byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/competitions/"+uitoa(id)+"/entries", &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-User-ID", "alice")
	status, body := api.send(req)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body["error"], "content uploads are not configured")
}

func TestAdminRoutesRequireRole(t *testing.T) {
	api := newTestAPI(t)

	status, _ := api.do("POST", "/admin/tokens/VOTE/mint", "alice", "", map[string]any{"account": "alice", "amount": 10})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body := api.do("POST", "/admin/tokens/VOTE/mint", "ops", "admin", map[string]any{"account": "alice", "amount": 10})
	require.Equal(t, fiber.StatusOK, status, body)

	status, _ = api.do("POST", "/admin/tokens", "ops", "sponsor, admin", map[string]any{"symbol": "GEM", "name": "Gem", "whitelisted": true})
	require.Equal(t, fiber.StatusOK, status)
	ok, err := api.custody.IsWhitelisted(context.Background(), "GEM")
	require.NoError(t, err)
	assert.True(t, ok)

	status, _ = api.do("POST", "/tokens/VOTE/approve", "alice", "", map[string]any{"amount": 7})
	require.Equal(t, fiber.StatusOK, status)
	status, body = api.do("GET", "/tokens/VOTE/balance", "alice", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(10), body["balance"])
	assert.Equal(t, float64(7), body["allowance"])
}

func TestCommunityRoutes(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.do("POST", "/communities", "curator", "", map[string]any{
		"name":           "Voxel Club",
		"token":          "VOTE",
		"round_duration": int64(time.Hour),
	})
	require.Equal(t, fiber.StatusCreated, status, body)
	id := uint64(body["id"].(float64))

	status, body = api.do("GET", "/communities/"+uitoa(id)+"/rounds/current", "", "", nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, float64(1), body["round"])
	assert.Equal(t, "threshold", body["mode"])

	status, body = api.do("POST", "/communities/"+uitoa(id)+"/build", "alice", "", map[string]any{"title": "Hut"})
	require.Equal(t, fiber.StatusCreated, status, body)

	status, _ = api.do("GET", "/communities/999", "", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	status, _ = api.do("GET", "/communities/abc", "", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestAnonymousBallotWithoutVerifier(t *testing.T) {
	api := newTestAPI(t)
	id := api.createCompetition("creator")
	status, body := api.do("POST", "/competitions/"+uitoa(id)+"/ballots", "", "", map[string]any{"choice": 1})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, string(services.CodeInvalidArgument), body["code"])
}

func uitoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
