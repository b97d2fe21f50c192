// Package admin implements the operator commands behind registryctl.
package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"mlreg/internal/artifacts"
	"mlreg/internal/auth"
	"mlreg/internal/credentials"
)

// CredentialStore is the part of the credential store the admin commands use.
type CredentialStore interface {
	CreateUser(ctx context.Context, user credentials.User) error
	GetUser(ctx context.Context, name string) (credentials.User, error)
	AuditTrail(ctx context.Context, username string, limit int) ([]credentials.AuditEntry, error)
	CleanupExpiredTokens(ctx context.Context) (int, error)
}

// ArtifactStore is the part of the artifact store the admin commands use.
type ArtifactStore interface {
	Get(ctx context.Context, typ artifacts.Type, id string) (artifacts.Artifact, error)
	All(ctx context.Context) ([]artifacts.Artifact, error)
}

// SeedConfig configures SeedAdmin.
type SeedConfig struct {
	Store      CredentialStore
	Name       string
	Password   string
	BcryptCost int
	// Force replaces an existing user's password.
	Force  bool
	Stdout io.Writer
}

// SeedAdmin creates an administrator account. An existing account is left
// alone unless Force is set.
func SeedAdmin(ctx context.Context, cfg SeedConfig) error {
	if cfg.Store == nil {
		return errors.New("credential store is required")
	}
	if cfg.Name == "" || cfg.Password == "" {
		return errors.New("name and password are required")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	_, err := cfg.Store.GetUser(ctx, cfg.Name)
	switch {
	case err == nil && !cfg.Force:
		fmt.Fprintf(cfg.Stdout, "user %s already exists\n", cfg.Name)
		return nil
	case err != nil && !errors.Is(err, credentials.ErrNotFound):
		return fmt.Errorf("lookup user: %w", err)
	}

	hash, err := auth.HashPassword(cfg.Password, cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := cfg.Store.CreateUser(ctx, credentials.User{
		Name:         cfg.Name,
		IsAdmin:      true,
		PasswordHash: hash,
	}); err != nil {
		return fmt.Errorf("store user: %w", err)
	}

	fmt.Fprintf(cfg.Stdout, "seeded admin %s\n", cfg.Name)
	return nil
}

// DebugReport describes a stored account without revealing its hash.
type DebugReport struct {
	Name          string `json:"name" yaml:"name"`
	Exists        bool   `json:"exists" yaml:"exists"`
	IsAdmin       bool   `json:"is_admin" yaml:"is_admin"`
	HashAlgorithm string `json:"hash_algorithm,omitempty" yaml:"hash_algorithm,omitempty"`
	PasswordMatch *bool  `json:"password_match,omitempty" yaml:"password_match,omitempty"`
}

// DebugAuth reports on name and, when password is non-empty, whether it
// matches the stored hash.
func DebugAuth(ctx context.Context, store CredentialStore, name, password string) (DebugReport, error) {
	if store == nil {
		return DebugReport{}, errors.New("credential store is required")
	}
	report := DebugReport{Name: name}

	user, err := store.GetUser(ctx, name)
	if errors.Is(err, credentials.ErrNotFound) {
		return report, nil
	}
	if err != nil {
		return DebugReport{}, err
	}

	report.Exists = true
	report.IsAdmin = user.IsAdmin
	report.HashAlgorithm = hashAlgorithm(user.PasswordHash)
	if password != "" {
		ok := auth.CheckPassword(user.PasswordHash, password)
		report.PasswordMatch = &ok
	}
	return report, nil
}

func hashAlgorithm(hash string) string {
	if len(hash) >= 4 && hash[0] == '$' && hash[1] == '2' {
		return "bcrypt"
	}
	if hash == "" {
		return "none"
	}
	return "unknown"
}

// CleanupTokens removes expired token records and reports how many went.
func CleanupTokens(ctx context.Context, store CredentialStore, stdout io.Writer) (int, error) {
	if store == nil {
		return 0, errors.New("credential store is required")
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	removed, err := store.CleanupExpiredTokens(ctx)
	if err != nil {
		return 0, err
	}
	fmt.Fprintf(stdout, "removed %d expired tokens\n", removed)
	return removed, nil
}

// Audit writes the most recent audit entries for user in format.
func Audit(ctx context.Context, store CredentialStore, user string, limit int, format string, stdout io.Writer) error {
	if store == nil {
		return errors.New("credential store is required")
	}
	if user == "" {
		return errors.New("user is required")
	}
	entries, err := store.AuditTrail(ctx, user, limit)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []credentials.AuditEntry{}
	}
	return Write(stdout, format, entries)
}

// GetArtifact writes the stored artifact in format.
func GetArtifact(ctx context.Context, store ArtifactStore, typeName, id, format string, stdout io.Writer) error {
	if store == nil {
		return errors.New("artifact store is required")
	}
	typ, err := artifacts.ParseType(typeName)
	if err != nil {
		return err
	}
	art, err := store.Get(ctx, typ, id)
	if err != nil {
		return err
	}
	return Write(stdout, format, art)
}
