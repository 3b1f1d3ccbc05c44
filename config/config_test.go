package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVICE_TOKEN", "secret")
	t.Setenv("DATABASE_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5200, cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, time.Minute, cfg.SchedulerInterval)
	assert.Equal(t, 10*time.Second, cfg.DepositPollInterval)
	assert.Equal(t, uint32(0), cfg.DefaultRoyaltyBps)
	assert.False(t, cfg.ContentStoreEnabled())
}

func TestLoadRequiresServiceToken(t *testing.T) {
	t.Setenv("SERVICE_TOKEN", "")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{DatabaseDriver: "sqlite", SchedulerInterval: time.Minute}
	require.NoError(t, base.Validate())

	pg := base
	pg.DatabaseDriver = "postgres"
	assert.Error(t, pg.Validate())
	pg.DatabaseURL = "postgres://localhost/competition"
	assert.NoError(t, pg.Validate())

	bad := base
	bad.DatabaseDriver = "mysql"
	assert.Error(t, bad.Validate())

	bps := base
	bps.DefaultRoyaltyBps = 10_001
	assert.Error(t, bps.Validate())
}

func TestOrigins(t *testing.T) {
	cfg := Config{AllowedOrigins: " https://a.example.com, ,https://b.example.com "}
	assert.Equal(t, "https://a.example.com,https://b.example.com", cfg.Origins())
}

func TestLoadSeed(t *testing.T) {
	content := `
tokens:
  - symbol: VOTE
    name: Vote Token
    whitelisted: true
mints:
  - token: VOTE
    account: alice
    amount: 1000
communities:
  - name: Pixel Art
    owner: curator
    token: VOTE
    roundDuration: 168h
    buildFee: 100
    royaltyBps: 2000
    roundEmission: 5000
    treasury: 50000
`
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, seed.Tokens, 1)
	assert.True(t, seed.Tokens[0].Whitelisted)
	require.Len(t, seed.Mints, 1)
	assert.Equal(t, uint64(1000), seed.Mints[0].Amount)
	require.Len(t, seed.Communities, 1)
	c := seed.Communities[0]
	assert.Equal(t, 168*time.Hour, c.RoundDuration)
	require.NotNil(t, c.RoyaltyBps)
	assert.Equal(t, uint32(2000), *c.RoyaltyBps)
	assert.Equal(t, uint64(50000), c.Treasury)
}

func TestLoadSeedRejectsMissingDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("communities:\n  - name: x\n    token: VOTE\n"), 0644))
	_, err := LoadSeed(path)
	require.Error(t, err)
}
