// Package credentials persists users, issued token records and the
// authentication audit trail on top of a blobstore.
package credentials

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"github.com/zeebo/errs"

	"mlreg/internal/blobstore"
)

// DefaultAuditLimit bounds AuditTrail when the caller passes no limit.
const DefaultAuditLimit = 100

// auditTimeLayout sorts lexically in time order.
const auditTimeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	// ErrNotFound is returned when a user or token record does not exist.
	ErrNotFound = errors.New("credential not found")

	// Error wraps backend failures.
	Error = errs.Class("credentials")
)

// Fingerprint derives the storage key for a bearer token. Raw tokens are never persisted.
func Fingerprint(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Store is the credential store.
type Store struct {
	blobs  blobstore.Store
	prefix string
	log    zerolog.Logger
	now    func() time.Time
}

// Options configures a Store.
type Options struct {
	// Prefix is prepended to every key, for example "auth/".
	Prefix string
	Logger zerolog.Logger
	Now    func() time.Time
}

// NewStore returns a credential store over blobs.
func NewStore(blobs blobstore.Store, opts Options) (*Store, error) {
	if blobs == nil {
		return nil, errors.New("blobstore is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		blobs:  blobs,
		prefix: opts.Prefix,
		log:    opts.Logger.With().Str("component", "credentials").Logger(),
		now:    now,
	}, nil
}

func (s *Store) userKey(name string) string {
	return s.prefix + "users/" + url.PathEscape(name) + ".json"
}

func (s *Store) tokenKey(fingerprint string) string {
	return s.prefix + "tokens/" + fingerprint + ".json"
}

func (s *Store) auditPrefix(username string) string {
	return s.prefix + "audit/" + url.PathEscape(username) + "/"
}

// CreateUser writes or replaces the user record.
func (s *Store) CreateUser(ctx context.Context, user User) error {
	if user.Name == "" {
		return Error.New("user name is required")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	return s.putJSON(ctx, s.userKey(user.Name), user)
}

// GetUser returns the user record or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, name string) (User, error) {
	var user User
	if err := s.getJSON(ctx, s.userKey(name), &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// StoreToken writes the token record under its fingerprint.
func (s *Store) StoreToken(ctx context.Context, token Token) error {
	if token.Fingerprint == "" {
		return Error.New("token fingerprint is required")
	}
	token.StoredAt = s.now().UTC()
	return s.putJSON(ctx, s.tokenKey(token.Fingerprint), token)
}

// GetToken returns the token record for fingerprint. Expired records are
// deleted and reported as ErrNotFound.
func (s *Store) GetToken(ctx context.Context, fingerprint string) (Token, error) {
	var token Token
	if err := s.getJSON(ctx, s.tokenKey(fingerprint), &token); err != nil {
		return Token{}, err
	}
	if token.Expired(s.now()) {
		if err := s.blobs.Delete(ctx, s.tokenKey(fingerprint)); err != nil {
			s.log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("delete expired token")
		}
		return Token{}, ErrNotFound
	}
	return token, nil
}

// RevokeToken removes the token record. Revoking an unknown token is not an error.
func (s *Store) RevokeToken(ctx context.Context, fingerprint string) error {
	return Error.Wrap(s.blobs.Delete(ctx, s.tokenKey(fingerprint)))
}

// LogAuthEvent appends an audit entry. Failures are logged and swallowed so
// that auditing never blocks authentication.
func (s *Store) LogAuthEvent(ctx context.Context, username, action string, metadata map[string]any) {
	entry := AuditEntry{
		Username:  username,
		Action:    action,
		Timestamp: s.now().UTC(),
		Metadata:  metadata,
	}
	key := s.auditPrefix(username) + entry.Timestamp.Format(auditTimeLayout) + "-" + action + ".json"
	if err := s.putJSON(ctx, key, entry); err != nil {
		s.log.Warn().Err(err).Str("username", username).Str("action", action).Msg("write audit entry")
	}
}

// AuditTrail returns up to limit of the most recent audit entries for
// username, newest first. Unreadable entries are skipped.
func (s *Store) AuditTrail(ctx context.Context, username string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	keys, err := s.blobs.List(ctx, s.auditPrefix(username))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if len(keys) > limit {
		keys = keys[:limit]
	}

	entries := make([]AuditEntry, 0, len(keys))
	for _, key := range keys {
		var entry AuditEntry
		if err := s.getJSON(ctx, key, &entry); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("read audit entry")
			continue
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries, nil
}

// CleanupExpiredTokens deletes every expired token record and returns how
// many were removed. Per-record failures are logged and skipped.
func (s *Store) CleanupExpiredTokens(ctx context.Context) (int, error) {
	keys, err := s.blobs.List(ctx, s.prefix+"tokens/")
	if err != nil {
		return 0, Error.Wrap(err)
	}

	now := s.now()
	removed := 0
	for _, key := range keys {
		var token Token
		if err := s.getJSON(ctx, key, &token); err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.log.Warn().Err(err).Str("key", key).Msg("read token during cleanup")
			}
			continue
		}
		if !token.Expired(now) {
			continue
		}
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("delete expired token")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("cleaned up expired tokens")
	}
	return removed, nil
}

// Reset deletes all users, tokens and audit entries. Per-record failures are
// logged and skipped.
func (s *Store) Reset(ctx context.Context) error {
	var listErr error
	for _, section := range []string{"users/", "tokens/", "audit/"} {
		keys, err := s.blobs.List(ctx, s.prefix+section)
		if err != nil {
			listErr = errs.Combine(listErr, Error.Wrap(err))
			continue
		}
		for _, key := range keys {
			if err := s.blobs.Delete(ctx, key); err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("delete during reset")
			}
		}
	}
	return listErr
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(s.blobs.Put(ctx, key, data))
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return Error.Wrap(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return Error.New("decode %s: %v", strings.TrimPrefix(key, s.prefix), err)
	}
	return nil
}
