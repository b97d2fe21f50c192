package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zeebo/errs"

	"mlreg/internal/blobstore"
)

var (
	// ErrNotFound is returned when no artifact is stored under a type and id.
	ErrNotFound = errors.New("artifact does not exist")
	// ErrAlreadyExists is returned when another artifact holds the same normalized URL.
	ErrAlreadyExists = errors.New("artifact exists already")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("corrupt artifact record")

	// Error wraps backend failures.
	Error = errs.Class("artifacts")
)

// DefaultClaimGrace is how long a URL claim is honored without a stored
// artifact carrying that URL.
const DefaultClaimGrace = time.Minute

// Options configures a Store.
type Options struct {
	// Prefix is prepended to every key, for example "registry/".
	Prefix string
	// Index claims URLs atomically. When nil every write scans all stored
	// artifacts under a process-local lock.
	Index  URLIndex
	Logger zerolog.Logger
	// NewID generates artifact ids. Defaults to random UUIDs.
	NewID func() string
	// ClaimGrace overrides DefaultClaimGrace.
	ClaimGrace time.Duration
	Now        func() time.Time
}

// Store persists artifacts as JSON documents keyed by "{prefix}{type}/{id}.json".
type Store struct {
	blobs  blobstore.Store
	prefix string
	index  URLIndex
	log    zerolog.Logger
	newID  func() string
	grace  time.Duration
	now    func() time.Time

	// mu serializes the scan and the write in scan mode.
	mu sync.Mutex
}

// NewStore returns an artifact store over blobs.
func NewStore(blobs blobstore.Store, opts Options) (*Store, error) {
	if blobs == nil {
		return nil, errors.New("blobstore is required")
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	grace := opts.ClaimGrace
	if grace <= 0 {
		grace = DefaultClaimGrace
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		blobs:  blobs,
		prefix: opts.Prefix,
		index:  opts.Index,
		log:    opts.Logger.With().Str("component", "artifacts").Logger(),
		newID:  newID,
		grace:  grace,
		now:    now,
	}, nil
}

func (s *Store) key(ref Ref) string {
	return s.prefix + string(ref.Type) + "/" + ref.ID + ".json"
}

// Create stores a new artifact for rawURL under a fresh id. It fails with
// ErrAlreadyExists when the normalized URL is already registered.
func (s *Store) Create(ctx context.Context, typ Type, rawURL, name string) (Artifact, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return Artifact{}, err
	}

	ref := Ref{Type: typ, ID: s.newID()}
	art := Artifact{
		Metadata: Metadata{Name: name, ID: ref.ID, Type: typ},
		Data:     Data{URL: normalized},
	}

	if s.index != nil {
		if err := s.claim(ctx, normalized, ref); err != nil {
			return Artifact{}, err
		}
		if err := s.put(ctx, art); err != nil {
			if relErr := s.index.Release(ctx, normalized, ref); relErr != nil {
				s.log.Warn().Err(relErr).Str("url", normalized).Msg("release url claim")
			}
			return Artifact{}, err
		}
		return art, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.scan(ctx, normalized, Ref{}); err == nil {
		return Artifact{}, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return Artifact{}, err
	}

	if err := s.put(ctx, art); err != nil {
		return Artifact{}, err
	}
	return art, nil
}

// Get returns the artifact stored under typ and id.
func (s *Store) Get(ctx context.Context, typ Type, id string) (Artifact, error) {
	return s.get(ctx, s.key(Ref{Type: typ, ID: id}))
}

// Lookup returns the artifact holding the normalized url, or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, rawURL string) (Ref, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return Ref{}, err
	}
	if s.index != nil {
		held, err := s.index.Lookup(ctx, normalized)
		if err != nil {
			return Ref{}, err
		}
		backed, err := s.backed(ctx, normalized, held)
		if err != nil {
			return Ref{}, err
		}
		if !backed {
			return Ref{}, ErrNotFound
		}
		return held.Ref, nil
	}
	return s.scan(ctx, normalized, Ref{})
}

// Update replaces the URL of an existing artifact. The new URL must not be
// held by any other artifact.
func (s *Store) Update(ctx context.Context, typ Type, id, rawURL string) (Artifact, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return Artifact{}, err
	}

	ref := Ref{Type: typ, ID: id}

	if s.index == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	current, err := s.get(ctx, s.key(ref))
	if err != nil {
		return Artifact{}, err
	}
	previous := current.Data.URL
	current.Data.URL = normalized

	if s.index != nil {
		if err := s.claim(ctx, normalized, ref); err != nil {
			return Artifact{}, err
		}
		if err := s.put(ctx, current); err != nil {
			if previous != normalized {
				_ = s.index.Release(ctx, normalized, ref)
			}
			return Artifact{}, err
		}
		if previous != normalized {
			if err := s.index.Release(ctx, previous, ref); err != nil {
				s.log.Warn().Err(err).Str("url", previous).Msg("release previous url claim")
			}
		}
		return current, nil
	}

	if _, err := s.scan(ctx, normalized, ref); err == nil {
		return Artifact{}, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return Artifact{}, err
	}

	if err := s.put(ctx, current); err != nil {
		return Artifact{}, err
	}
	return current, nil
}

// All returns every stored artifact. Records that cannot be decoded are skipped.
func (s *Store) All(ctx context.Context) ([]Artifact, error) {
	var out []Artifact
	err := s.walk(ctx, func(art Artifact) bool {
		out = append(out, art)
		return true
	})
	return out, err
}

// RebuildIndex claims the URL of every stored artifact in the index. Stored
// artifacts that already collide are logged and left in place.
func (s *Store) RebuildIndex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}

	claimed := 0
	err := s.walk(ctx, func(art Artifact) bool {
		ref := Ref{Type: art.Metadata.Type, ID: art.Metadata.ID}
		normalized, err := NormalizeURL(art.Data.URL)
		if err != nil {
			return true
		}
		if err := s.claim(ctx, normalized, ref); err != nil {
			s.log.Warn().Err(err).Str("artifact", ref.String()).Str("url", normalized).Msg("index artifact url")
			return true
		}
		claimed++
		return true
	})
	return claimed, err
}

// Reset deletes every artifact and drops all URL claims. Per-record delete
// failures are logged and skipped.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var group errs.Group
	for _, typ := range Types {
		keys, err := s.blobs.List(ctx, s.prefix+string(typ)+"/")
		if err != nil {
			group.Add(Error.Wrap(err))
			continue
		}
		for _, key := range keys {
			if err := s.blobs.Delete(ctx, key); err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("delete during reset")
			}
		}
	}

	if s.index != nil {
		group.Add(s.index.Reset(ctx))
	}
	return group.Err()
}

// claim reserves normalized for ref. A claim held by another artifact is
// taken over once it is older than the grace period and its holder no longer
// carries the URL. Interrupted writes and racing updates of one artifact
// leave such claims behind.
func (s *Store) claim(ctx context.Context, normalized string, ref Ref) error {
	err := s.index.Reserve(ctx, normalized, Claim{Ref: ref, At: s.now().UTC()})
	if !errors.Is(err, ErrAlreadyExists) {
		return err
	}

	held, err := s.index.Lookup(ctx, normalized)
	if errors.Is(err, ErrNotFound) {
		return s.index.Reserve(ctx, normalized, Claim{Ref: ref, At: s.now().UTC()})
	}
	if err != nil {
		return err
	}
	backed, err := s.backed(ctx, normalized, held)
	if err != nil {
		return err
	}
	if backed {
		return ErrAlreadyExists
	}

	s.log.Warn().Str("url", normalized).Str("holder", held.Ref.String()).Msg("dropping orphaned url claim")
	if err := s.index.Release(ctx, normalized, held.Ref); err != nil {
		return err
	}
	return s.index.Reserve(ctx, normalized, Claim{Ref: ref, At: s.now().UTC()})
}

// backed reports whether held still accounts for its claim on normalized:
// it is within the grace period, or its stored artifact carries the URL.
// Unreadable holders are treated as backed.
func (s *Store) backed(ctx context.Context, normalized string, held Claim) (bool, error) {
	if s.now().Sub(held.At) < s.grace {
		return true, nil
	}
	art, err := s.get(ctx, s.key(held.Ref))
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case errors.Is(err, ErrCorrupt):
		return true, nil
	case err != nil:
		return false, err
	}
	existing, err := NormalizeURL(art.Data.URL)
	return err == nil && existing == normalized, nil
}

// scan walks every stored artifact looking for normalized, ignoring skip.
func (s *Store) scan(ctx context.Context, normalized string, skip Ref) (Ref, error) {
	var found *Ref
	err := s.walk(ctx, func(art Artifact) bool {
		ref := Ref{Type: art.Metadata.Type, ID: art.Metadata.ID}
		if ref == skip {
			return true
		}
		existing, err := NormalizeURL(art.Data.URL)
		if err != nil || existing != normalized {
			return true
		}
		found = &ref
		return false
	})
	if err != nil {
		return Ref{}, err
	}
	if found == nil {
		return Ref{}, ErrNotFound
	}
	return *found, nil
}

func (s *Store) walk(ctx context.Context, fn func(Artifact) bool) error {
	for _, typ := range Types {
		keys, err := s.blobs.List(ctx, s.prefix+string(typ)+"/")
		if err != nil {
			return Error.Wrap(err)
		}
		for _, key := range keys {
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			art, err := s.get(ctx, key)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if errors.Is(err, ErrCorrupt) {
				s.log.Warn().Err(err).Str("key", key).Msg("skip unreadable artifact")
				continue
			}
			if err != nil {
				return err
			}
			if !fn(art) {
				return nil
			}
		}
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (Artifact, error) {
	data, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, Error.Wrap(err)
	}

	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return Artifact{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return art, nil
}

func (s *Store) put(ctx context.Context, art Artifact) error {
	data, err := json.Marshal(art)
	if err != nil {
		return Error.Wrap(err)
	}
	ref := Ref{Type: art.Metadata.Type, ID: art.Metadata.ID}
	return Error.Wrap(s.blobs.Put(ctx, s.key(ref), data))
}
