// Package auth issues and verifies bearer tokens for registry users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mlreg/internal/credentials"
	"mlreg/pkg/metrics"
)

// DefaultTokenTTL is the token lifetime when none is configured.
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrAuthFailed indicates a missing, malformed, expired or revoked token.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrMissingToken is returned when no token was presented at all.
	ErrMissingToken = fmt.Errorf("%w: missing token", ErrAuthFailed)
	// ErrInvalidCredentials is returned by Login for unknown users, wrong
	// passwords and admin flag mismatches alike.
	ErrInvalidCredentials = errors.New("the user or password is invalid")
	// ErrForbidden is returned by RequireAdmin for non-admin identities.
	ErrForbidden = errors.New("permission denied")
)

// Identity is the authenticated caller.
type Identity struct {
	Name    string
	IsAdmin bool
}

// CredentialStore is the subset of the credential store the authenticator uses.
type CredentialStore interface {
	CreateUser(ctx context.Context, user credentials.User) error
	GetUser(ctx context.Context, name string) (credentials.User, error)
	StoreToken(ctx context.Context, token credentials.Token) error
	GetToken(ctx context.Context, fingerprint string) (credentials.Token, error)
	RevokeToken(ctx context.Context, fingerprint string) error
	LogAuthEvent(ctx context.Context, username, action string, metadata map[string]any)
}

// Options configures an Authenticator.
type Options struct {
	TokenTTL   time.Duration
	BcryptCost int
	Logger     zerolog.Logger
	Metrics    *metrics.Recorder
	Now        func() time.Time
}

// Authenticator logs users in and verifies the tokens it issued.
type Authenticator struct {
	store   CredentialStore
	signer  *Signer
	ttl     time.Duration
	cost    int
	log     zerolog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// New returns an Authenticator.
func New(store CredentialStore, signer *Signer, opts Options) (*Authenticator, error) {
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Authenticator{
		store:   store,
		signer:  signer,
		ttl:     ttl,
		cost:    cost,
		log:     opts.Logger.With().Str("component", "auth").Logger(),
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// Login checks the password and admin flag of name and returns a header
// value of the form "bearer <token>". The issued token is recorded so that
// it can later be revoked.
func (a *Authenticator) Login(ctx context.Context, name, password string, isAdmin bool) (string, error) {
	user, err := a.store.GetUser(ctx, name)
	if errors.Is(err, credentials.ErrNotFound) {
		a.failed(ctx, name, "user_not_found")
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if !CheckPassword(user.PasswordHash, password) {
		a.failed(ctx, name, "invalid_credentials")
		return "", ErrInvalidCredentials
	}
	if user.IsAdmin != isAdmin {
		a.failed(ctx, name, "invalid_credentials")
		return "", ErrInvalidCredentials
	}

	// Token timestamps carry whole seconds, so the record uses the same ones.
	issued := a.now().UTC().Truncate(time.Second)
	expires := issued.Add(a.ttl).Truncate(time.Second)
	token, err := a.signer.Sign(Claims{
		Name:             user.Name,
		IsAdmin:          user.IsAdmin,
		RegisteredClaims: registeredClaims(uuid.NewString(), issued, expires),
	})
	if err != nil {
		return "", err
	}

	if err := a.store.StoreToken(ctx, credentials.Token{
		Fingerprint: credentials.Fingerprint(token),
		Username:    user.Name,
		IsAdmin:     user.IsAdmin,
		IssuedAt:    issued,
		ExpiresAt:   expires,
	}); err != nil {
		return "", err
	}

	a.store.LogAuthEvent(ctx, user.Name, credentials.ActionLogin, map[string]any{"is_admin": user.IsAdmin})
	a.metrics.RecordAuthEvent(credentials.ActionLogin)
	a.log.Info().Str("user", user.Name).Bool("is_admin", user.IsAdmin).Msg("login")

	return "bearer " + token, nil
}

func (a *Authenticator) failed(ctx context.Context, name, reason string) {
	a.store.LogAuthEvent(ctx, name, credentials.ActionFailedLogin, map[string]any{"reason": reason})
	a.metrics.RecordAuthEvent(credentials.ActionFailedLogin)
	a.log.Info().Str("user", name).Str("reason", reason).Msg("login rejected")
}

// Verify checks a presented header value of the form "bearer <token>". The
// scheme is case-insensitive. The token must carry a valid signature, be
// unexpired and still be on record in the credential store.
func (a *Authenticator) Verify(ctx context.Context, header string) (Identity, error) {
	if strings.TrimSpace(header) == "" {
		return Identity{}, ErrMissingToken
	}
	token, ok := ParseBearer(header)
	if !ok {
		return Identity{}, ErrAuthFailed
	}

	claims, err := a.signer.Parse(token, a.now())
	if err != nil {
		a.log.Debug().Err(err).Msg("token rejected")
		return Identity{}, ErrAuthFailed
	}

	if _, err := a.store.GetToken(ctx, credentials.Fingerprint(token)); err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return Identity{}, ErrAuthFailed
		}
		return Identity{}, err
	}

	return Identity{Name: claims.Name, IsAdmin: claims.IsAdmin}, nil
}

// RequireAdmin returns ErrForbidden unless id is an administrator.
func (a *Authenticator) RequireAdmin(id Identity) error {
	if !id.IsAdmin {
		return ErrForbidden
	}
	return nil
}

// Logout verifies header and revokes its token.
func (a *Authenticator) Logout(ctx context.Context, header string) error {
	id, err := a.Verify(ctx, header)
	if err != nil {
		return err
	}
	token, _ := ParseBearer(header)
	if err := a.store.RevokeToken(ctx, credentials.Fingerprint(token)); err != nil {
		return err
	}
	a.store.LogAuthEvent(ctx, id.Name, credentials.ActionLogout, nil)
	a.metrics.RecordAuthEvent(credentials.ActionLogout)
	return nil
}

// EnsureUser creates name with password unless the user already exists.
// It reports whether a user was created.
func (a *Authenticator) EnsureUser(ctx context.Context, name, password string, isAdmin bool) (bool, error) {
	if name == "" || password == "" {
		return false, errors.New("user name and password are required")
	}
	_, err := a.store.GetUser(ctx, name)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, credentials.ErrNotFound) {
		return false, err
	}
	if err := a.SetUser(ctx, name, password, isAdmin); err != nil {
		return false, err
	}
	return true, nil
}

// SetUser creates or replaces name with a freshly hashed password.
func (a *Authenticator) SetUser(ctx context.Context, name, password string, isAdmin bool) error {
	hash, err := HashPassword(password, a.cost)
	if err != nil {
		return err
	}
	return a.store.CreateUser(ctx, credentials.User{
		Name:         name,
		IsAdmin:      isAdmin,
		PasswordHash: hash,
		CreatedAt:    a.now().UTC(),
	})
}

// ParseBearer splits a header value into its token. It accepts exactly two
// space separated parts, the first being "bearer" in any case.
func ParseBearer(header string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(header), " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
