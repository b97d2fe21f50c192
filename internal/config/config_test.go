package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"JWT_SECRET":    "s",
		"RATER_COMMAND": "python3 -m scorer",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StorageMemory, cfg.StorageBackend)
	assert.Equal(t, IndexScan, cfg.URLIndex)
	assert.Equal(t, "auth/", cfg.S3AuthPrefix)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, 60*time.Second, cfg.RaterTimeout)
	assert.Equal(t, 0.5, cfg.RatingThreshold)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, "ece30861defaultadminuser", cfg.ResetAdminName)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.False(t, cfg.ResetAuth)
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"AGE_SECRET_KEY":       "AGE-SECRET-KEY-1XYZ",
		"STORAGE_BACKEND":      "s3",
		"S3_BUCKET":            "artifacts",
		"URL_INDEX":            "redis",
		"REDIS_ADDR":           "localhost:6379",
		"RATER_BACKEND":        "nats",
		"NATS_URL":             "nats://localhost:4222",
		"RATING_THRESHOLD":     "0.7",
		"JWT_EXPIRY":           "10h",
		"CORS_ALLOWED_ORIGINS": "https://a.example,https://b.example",
		"RESET_AUTH":           "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "artifacts", cfg.AuthBucket())
	assert.Equal(t, 0.7, cfg.RatingThreshold)
	assert.Equal(t, 10*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.ResetAuth)
}

func TestValidate(t *testing.T) {
	valid := Config{
		StorageBackend: StorageMemory,
		URLIndex:       IndexScan,
		RaterBackend:   RaterExec,
		RaterCommand:   "scorer",
		JWTSecret:      "s",
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "s3 without bucket", mutate: func(c *Config) { c.StorageBackend = StorageS3 }, wantErr: "S3_BUCKET"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.StorageBackend = StoragePostgres }, wantErr: "DB_DSN"},
		{name: "unknown storage", mutate: func(c *Config) { c.StorageBackend = "ftp" }, wantErr: "STORAGE_BACKEND"},
		{name: "redis without addr", mutate: func(c *Config) { c.URLIndex = IndexRedis }, wantErr: "REDIS_ADDR"},
		{name: "unknown index", mutate: func(c *Config) { c.URLIndex = "btree" }, wantErr: "URL_INDEX"},
		{name: "exec without command", mutate: func(c *Config) { c.RaterCommand = "" }, wantErr: "RATER_COMMAND"},
		{name: "nats without url", mutate: func(c *Config) { c.RaterBackend = RaterNATS }, wantErr: "NATS_URL"},
		{name: "no signing key", mutate: func(c *Config) { c.JWTSecret = "" }, wantErr: "JWT_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateStorageIgnoresServerSettings(t *testing.T) {
	cfg := Config{StorageBackend: StorageMemory, URLIndex: IndexScan, RaterBackend: RaterExec}

	assert.NoError(t, cfg.ValidateStorage())
	assert.Error(t, cfg.Validate())
}
