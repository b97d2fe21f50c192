package app

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlreg/internal/config"
	"mlreg/internal/credentials"
	"mlreg/internal/oracle"
	"mlreg/internal/registry"
)

type fixedOracle struct{ score float64 }

func (o fixedOracle) Rate(context.Context, string, string) (oracle.Rating, error) {
	return oracle.Rating{NetScore: o.score}, nil
}

func testConfig() config.Config {
	return config.Config{
		StorageBackend:     config.StorageMemory,
		URLIndex:           config.IndexMemory,
		S3AuthPrefix:       "auth/",
		JWTSecret:          "test-secret",
		JWTExpiry:          time.Hour,
		BcryptCost:         4,
		RatingThreshold:    0.5,
		RaterBackend:       config.RaterExec,
		RaterCommand:       "unused",
		RaterTimeout:       time.Second,
		ResetAdminName:     "ece30861defaultadminuser",
		ResetAdminPassword: "correct horse battery staple",
	}
}

func build(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg, zerolog.Nop(), Options{Oracle: fixedOracle{score: 0.9}})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = ""

	_, err := Build(context.Background(), cfg, zerolog.Nop(), Options{})
	assert.Error(t, err)
}

func TestSeedAdminIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := build(t, testConfig())

	require.NoError(t, a.SeedAdmin(ctx))
	require.NoError(t, a.SeedAdmin(ctx))

	user, err := a.Stores.Credentials.GetUser(ctx, "ece30861defaultadminuser")
	require.NoError(t, err)
	assert.True(t, user.IsAdmin)

	token, err := a.Auth.Login(ctx, "ece30861defaultadminuser", "correct horse battery staple", true)
	require.NoError(t, err)
	assert.Contains(t, token, "bearer ")
}

func TestSeedAdminWithoutPasswordSkips(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.ResetAdminPassword = ""
	a := build(t, cfg)

	require.NoError(t, a.SeedAdmin(ctx))
	_, err := a.Stores.Credentials.GetUser(ctx, cfg.ResetAdminName)
	assert.ErrorIs(t, err, credentials.ErrNotFound)
}

func TestResetKeepsUsersByDefault(t *testing.T) {
	ctx := context.Background()
	a := build(t, testConfig())
	require.NoError(t, a.SeedAdmin(ctx))
	require.NoError(t, a.Auth.SetUser(ctx, "alice", "pw", false))

	art, err := a.Registry.Create(ctx, "model", "https://huggingface.co/openai/whisper-tiny", registry.Caller{Name: "alice"})
	require.NoError(t, err)

	require.NoError(t, a.Reset(ctx))

	_, err = a.Registry.Get(ctx, "model", art.Metadata.ID)
	assert.Error(t, err)
	_, err = a.Stores.Credentials.GetUser(ctx, "alice")
	assert.NoError(t, err)
}

func TestResetAuthReseedsAdmin(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.ResetAuth = true
	a := build(t, cfg)
	require.NoError(t, a.SeedAdmin(ctx))
	require.NoError(t, a.Auth.SetUser(ctx, "alice", "pw", false))

	require.NoError(t, a.Reset(ctx))

	_, err := a.Stores.Credentials.GetUser(ctx, "alice")
	assert.ErrorIs(t, err, credentials.ErrNotFound)
	_, err = a.Stores.Credentials.GetUser(ctx, cfg.ResetAdminName)
	assert.NoError(t, err)
}

func TestCleanupTokensStopsWithContext(t *testing.T) {
	a := build(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.CleanupTokens(ctx, 10*time.Millisecond) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}

func TestNewSignerPrefersAgeKey(t *testing.T) {
	cfg := testConfig()
	cfg.AgeSecretKey = "not-an-age-key"

	_, err := NewSigner(cfg, zerolog.Nop())
	assert.Error(t, err)

	cfg.AgeSecretKey = ""
	signer, err := NewSigner(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, signer)
}
