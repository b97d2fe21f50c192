package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageS3       = "s3"
	StoragePostgres = "postgres"
)

// URL index modes.
const (
	IndexScan   = "scan"
	IndexMemory = "memory"
	IndexRedis  = "redis"
)

// Rater backends.
const (
	RaterExec = "exec"
	RaterNATS = "nats"
)

// Config holds runtime configuration for the registry services.
type Config struct {
	Addr      string `env:"ADDR,default=:8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=console"`

	StorageBackend   string `env:"STORAGE_BACKEND,default=memory"`
	S3Bucket         string `env:"S3_BUCKET"`
	S3Prefix         string `env:"S3_PREFIX"`
	S3AuthBucket     string `env:"S3_AUTH_BUCKET"`
	S3AuthPrefix     string `env:"S3_AUTH_PREFIX,default=auth/"`
	S3Region         string `env:"S3_REGION,default=us-east-1"`
	S3Endpoint       string `env:"S3_ENDPOINT"`
	S3AccessKey      string `env:"S3_ACCESS_KEY"`
	S3SecretKey      string `env:"S3_SECRET_KEY"`
	S3ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE,default=false"`
	DBDSN            string `env:"DB_DSN"`

	URLIndex       string `env:"URL_INDEX,default=scan"`
	RedisAddr      string `env:"REDIS_ADDR"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB,default=0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX,default=mlreg:"`

	JWTSecret    string        `env:"JWT_SECRET"`
	AgeSecretKey string        `env:"AGE_SECRET_KEY"`
	JWTExpiry    time.Duration `env:"JWT_EXPIRY,default=24h"`
	BcryptCost   int           `env:"BCRYPT_COST,default=10"`

	RatingThreshold float64       `env:"RATING_THRESHOLD,default=0.5"`
	RaterBackend    string        `env:"RATER_BACKEND,default=exec"`
	RaterCommand    string        `env:"RATER_COMMAND"`
	RaterTimeout    time.Duration `env:"RATER_TIMEOUT,default=60s"`
	NATSURL         string        `env:"NATS_URL"`
	RaterSubject    string        `env:"RATER_SUBJECT,default=mlreg.rate"`
	RaterQueue      string        `env:"RATER_QUEUE,default=raters"`

	ResetAdminName       string        `env:"RESET_ADMIN_NAME,default=ece30861defaultadminuser"`
	ResetAdminPassword   string        `env:"RESET_ADMIN_PASSWORD"`
	ResetAuth            bool          `env:"RESET_AUTH,default=false"`
	TokenCleanupInterval time.Duration `env:"TOKEN_CLEANUP_INTERVAL,default=1h"`

	OTLPEndpoint       string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	AllowedOrigins     []string `env:"CORS_ALLOWED_ORIGINS,default=*"`
	RateLimitPerMinute int      `env:"RATE_LIMIT_PER_MINUTE,default=600"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom returns a Config populated from l. Callers validate the parts
// they use with Validate or ValidateStorage.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AuthBucket is the bucket for credential records, defaulting to S3Bucket.
func (c Config) AuthBucket() string {
	if c.S3AuthBucket != "" {
		return c.S3AuthBucket
	}
	return c.S3Bucket
}

// Validate checks that every selected backend has what the server needs.
func (c Config) Validate() error {
	errs := c.storageErrors()

	switch c.RaterBackend {
	case RaterExec:
		if c.RaterCommand == "" {
			errs = append(errs, errors.New("RATER_COMMAND is required for the exec rater"))
		}
	case RaterNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("NATS_URL is required for the nats rater"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RATER_BACKEND %q", c.RaterBackend))
	}

	if c.JWTSecret == "" && c.AgeSecretKey == "" {
		errs = append(errs, errors.New("JWT_SECRET or AGE_SECRET_KEY must be set"))
	}

	return errors.Join(errs...)
}

// ValidateStorage checks only the storage backend and URL index settings.
func (c Config) ValidateStorage() error {
	return errors.Join(c.storageErrors()...)
}

func (c Config) storageErrors() []error {
	var errs []error

	switch c.StorageBackend {
	case StorageMemory:
	case StorageS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 storage backend"))
		}
	case StoragePostgres:
		if c.DBDSN == "" {
			errs = append(errs, errors.New("DB_DSN is required for the postgres storage backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}

	switch c.URLIndex {
	case IndexScan, IndexMemory:
	case IndexRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis url index"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown URL_INDEX %q", c.URLIndex))
	}

	return errs
}
