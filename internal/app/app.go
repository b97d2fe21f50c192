// Package app assembles the registry from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"mlreg/internal/admission"
	"mlreg/internal/artifacts"
	"mlreg/internal/auth"
	"mlreg/internal/blobstore"
	"mlreg/internal/config"
	"mlreg/internal/credentials"
	"mlreg/internal/oracle"
	"mlreg/internal/registry"
	"mlreg/pkg/bus"
	"mlreg/pkg/db"
	"mlreg/pkg/metrics"
	"mlreg/pkg/s3"
)

// Stores holds the persistence layer.
type Stores struct {
	Credentials *credentials.Store
	Artifacts   *artifacts.Store

	closers []func()
}

// Close releases backend connections in reverse order of acquisition.
func (s *Stores) Close() {
	if s == nil {
		return
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// OpenStores connects the storage backend and URL index selected by cfg.
func OpenStores(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Stores, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}

	stores := &Stores{}
	ok := false
	defer func() {
		if !ok {
			stores.Close()
		}
	}()

	artifactBlobs, authBlobs, err := stores.openBlobs(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var index artifacts.URLIndex
	switch cfg.URLIndex {
	case config.IndexMemory:
		index = artifacts.NewMemoryIndex()
	case config.IndexRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		stores.closers = append(stores.closers, func() { _ = client.Close() })
		if err := client.WithContext(ctx).Ping().Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		redisIndex, err := artifacts.NewRedisIndex(client, cfg.RedisKeyPrefix)
		if err != nil {
			return nil, err
		}
		index = redisIndex
	}

	stores.Credentials, err = credentials.NewStore(authBlobs, credentials.Options{
		Prefix: cfg.S3AuthPrefix,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	stores.Artifacts, err = artifacts.NewStore(artifactBlobs, artifacts.Options{
		Prefix: cfg.S3Prefix,
		Index:  index,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	if index != nil {
		claimed, err := stores.Artifacts.RebuildIndex(ctx)
		if err != nil {
			return nil, fmt.Errorf("rebuild url index: %w", err)
		}
		logger.Info().Int("artifacts", claimed).Str("index", cfg.URLIndex).Msg("url index ready")
	}

	ok = true
	return stores, nil
}

func (s *Stores) openBlobs(ctx context.Context, cfg config.Config, logger zerolog.Logger) (blobstore.Store, blobstore.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		client, err := s3.New(ctx, s3.Options{
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		artifactBlobs, err := blobstore.NewS3Store(client, cfg.S3Bucket)
		if err != nil {
			return nil, nil, err
		}
		authBlobs, err := blobstore.NewS3Store(client, cfg.AuthBucket())
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("bucket", cfg.S3Bucket).Str("auth_bucket", cfg.AuthBucket()).Msg("using s3 storage")
		return artifactBlobs, authBlobs, nil

	case config.StoragePostgres:
		pool, err := db.Open(ctx, cfg.DBDSN)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, pool.Close)
		if err := db.Migrate(ctx, pool); err != nil {
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
		blobs, err := blobstore.NewPostgresStore(pool)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("using postgres storage")
		return blobs, blobs, nil

	default:
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
		blobs := blobstore.NewMemoryStore()
		return blobs, blobs, nil
	}
}

// Options overrides collaborators that are otherwise built from config.
type Options struct {
	// Oracle replaces the configured rating backend.
	Oracle oracle.Oracle
	// Stores replaces the configured storage backend.
	Stores *Stores
}

// App is the assembled registry.
type App struct {
	Config   config.Config
	Logger   zerolog.Logger
	Metrics  *metrics.Recorder
	Gatherer prometheus.Gatherer

	Stores    *Stores
	Auth      *auth.Authenticator
	Admission *admission.Controller
	Oracle    oracle.Oracle
	Registry  *registry.Registry

	closers []func()
}

// Build assembles the registry described by cfg.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(promReg)

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Metrics:  recorder,
		Gatherer: promReg,
	}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.Stores = opts.Stores
	if a.Stores == nil {
		stores, err := OpenStores(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.Stores = stores
		a.closers = append(a.closers, stores.Close)
	}

	signer, err := NewSigner(cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Auth, err = auth.New(a.Stores.Credentials, signer, auth.Options{
		TokenTTL:   cfg.JWTExpiry,
		BcryptCost: cfg.BcryptCost,
		Logger:     logger,
		Metrics:    recorder,
	})
	if err != nil {
		return nil, err
	}

	a.Oracle = opts.Oracle
	if a.Oracle == nil {
		o, err := a.newOracle(cfg, logger)
		if err != nil {
			return nil, err
		}
		a.Oracle = o
	}

	a.Admission, err = admission.New(a.Oracle, admission.Options{
		Threshold: cfg.RatingThreshold,
		Timeout:   cfg.RaterTimeout,
		Logger:    logger,
		Metrics:   recorder,
	})
	if err != nil {
		return nil, err
	}

	a.Registry, err = registry.New(a.Stores.Artifacts, a.Admission, a.Oracle, registry.Options{
		RateTimeout: cfg.RaterTimeout,
		Logger:      logger,
		Metrics:     recorder,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// NewSigner returns an EdDSA signer when AGE_SECRET_KEY is set and an HMAC
// signer otherwise.
func NewSigner(cfg config.Config, logger zerolog.Logger) (*auth.Signer, error) {
	if cfg.AgeSecretKey != "" {
		key, recipient, err := auth.KeyFromAgeSecret(cfg.AgeSecretKey)
		if err != nil {
			return nil, fmt.Errorf("age secret key: %w", err)
		}
		logger.Info().Str("recipient", recipient).Msg("signing tokens with age-derived ed25519 key")
		return auth.NewEd25519Signer(key)
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET or AGE_SECRET_KEY must be set")
	}
	return auth.NewHMACSigner([]byte(cfg.JWTSecret))
}

func (a *App) newOracle(cfg config.Config, logger zerolog.Logger) (oracle.Oracle, error) {
	switch cfg.RaterBackend {
	case config.RaterNATS:
		b, err := bus.New(cfg.NATSURL, nats.Name("mlreg-registryd"))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.closers = append(a.closers, b.Close)
		return oracle.NewNATSOracle(b, cfg.RaterSubject)
	default:
		return oracle.NewExecOracle(cfg.RaterCommand, logger)
	}
}

// SeedAdmin creates the bootstrap administrator unless it already exists.
// It is a no-op when no bootstrap password is configured.
func (a *App) SeedAdmin(ctx context.Context) error {
	name, password := a.Config.ResetAdminName, a.Config.ResetAdminPassword
	if password == "" {
		a.Logger.Warn().Msg("RESET_ADMIN_PASSWORD not set; skipping admin bootstrap")
		return nil
	}
	created, err := a.Auth.EnsureUser(ctx, name, password, true)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if created {
		a.Logger.Info().Str("user", name).Msg("seeded admin user")
	}
	return nil
}

// Reset clears every artifact. With RESET_AUTH it also clears users, tokens
// and audit entries and then re-seeds the bootstrap administrator.
func (a *App) Reset(ctx context.Context) error {
	if err := a.Registry.Reset(ctx); err != nil {
		return err
	}
	if !a.Config.ResetAuth {
		return nil
	}
	if err := a.Stores.Credentials.Reset(ctx); err != nil {
		return err
	}
	return a.SeedAdmin(ctx)
}

// CleanupTokens runs CleanupExpiredTokens every interval until ctx is done.
func (a *App) CleanupTokens(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := a.Stores.Credentials.CleanupExpiredTokens(ctx)
			if err != nil {
				a.Logger.Warn().Err(err).Msg("token cleanup")
				continue
			}
			a.Metrics.RecordTokenCleanup(removed)
		}
	}
}

// Close releases every connection opened by Build.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
