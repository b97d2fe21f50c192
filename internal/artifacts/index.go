package artifacts

import (
	"context"
	"sync"
	"time"
)

// Claim records which artifact holds a URL and since when.
type Claim struct {
	Ref Ref
	At  time.Time
}

// URLIndex maps normalized URLs to the artifact holding them so that
// uniqueness can be claimed atomically instead of by scanning.
type URLIndex interface {
	// Reserve claims url for claim.Ref. It returns ErrAlreadyExists when
	// another artifact holds url. Reserving a url already held by the same
	// ref succeeds and keeps the original claim time.
	Reserve(ctx context.Context, url string, claim Claim) error
	// Release drops the claim on url if it is held by ref.
	Release(ctx context.Context, url string, ref Ref) error
	// Lookup returns the claim on url or ErrNotFound.
	Lookup(ctx context.Context, url string) (Claim, error)
	// Reset drops every claim.
	Reset(ctx context.Context) error
}

// MemoryIndex is a process-local URLIndex.
type MemoryIndex struct {
	mu     sync.Mutex
	claims map[string]Claim
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{claims: make(map[string]Claim)}
}

func (m *MemoryIndex) Reserve(_ context.Context, url string, claim Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.claims[url]; ok {
		if held.Ref != claim.Ref {
			return ErrAlreadyExists
		}
		return nil
	}
	m.claims[url] = claim
	return nil
}

func (m *MemoryIndex) Release(_ context.Context, url string, ref Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.claims[url]; ok && held.Ref == ref {
		delete(m.claims, url)
	}
	return nil
}

func (m *MemoryIndex) Lookup(_ context.Context, url string) (Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.claims[url]
	if !ok {
		return Claim{}, ErrNotFound
	}
	return held, nil
}

func (m *MemoryIndex) Reset(context.Context) error {
	m.mu.Lock()
	m.claims = make(map[string]Claim)
	m.mu.Unlock()
	return nil
}
