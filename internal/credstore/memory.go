package credstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation for tests and local
// development. It applies the same selection and mutation semantics as the
// SQL backends but holds everything in a map guarded by a mutex.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*Credential)}
}

func key(tenantID, provider string) string {
	return tenantID + "\x00" + provider
}

// Get returns a copy of the stored credential or a not-found error.
func (s *MemoryStore) Get(ctx context.Context, tenantID, provider string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[key(tenantID, provider)]
	if !ok {
		return nil, NotFound(tenantID, provider)
	}
	copied := *cred
	return &copied, nil
}

// Upsert creates or replaces a credential record.
func (s *MemoryStore) Upsert(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *cred
	now := time.Now().UTC()
	if existing, ok := s.creds[key(cred.TenantID, cred.Provider)]; ok {
		copied.CreatedAt = existing.CreatedAt
	} else {
		copied.CreatedAt = now
	}
	copied.UpdatedAt = now
	s.creds[key(cred.TenantID, cred.Provider)] = &copied
	return nil
}

// ApplyGrant atomically replaces the token set and marks the tenant ACTIVE.
func (s *MemoryStore) ApplyGrant(ctx context.Context, tenantID, provider string, update GrantUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[key(tenantID, provider)]
	if !ok {
		return NotFound(tenantID, provider)
	}

	expiry := update.Expiry
	cred.AccessToken = update.AccessToken
	cred.RefreshToken = update.RefreshToken
	cred.AccessTokenExpiry = &expiry
	cred.Status = StatusActive
	cred.LastError = ""
	cred.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkError records a failure without touching the stored tokens.
func (s *MemoryStore) MarkError(ctx context.Context, tenantID, provider, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[key(tenantID, provider)]
	if !ok {
		return NotFound(tenantID, provider)
	}

	cred.Status = StatusError
	cred.LastError = lastError
	cred.UpdatedAt = time.Now().UTC()
	return nil
}

// ListDue returns eligible credentials due for refresh, ordered by tenant id.
func (s *MemoryStore) ListDue(ctx context.Context, now time.Time, window time.Duration, forceAll bool) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Credential
	for _, cred := range s.creds {
		if cred.Status != StatusActive && cred.Status != StatusNeedsSetup && cred.Status != StatusError {
			continue
		}
		// An errored tenant is always due: the failed run left its tokens
		// stale, and waiting for the expiry window would strand it.
		if !forceAll && cred.Status != StatusError && !cred.IsDue(now, window) {
			continue
		}
		copied := *cred
		due = append(due, &copied)
	}

	sort.Slice(due, func(i, j int) bool { return due[i].TenantID < due[j].TenantID })
	return due, nil
}

// List returns every stored credential, ordered by tenant id.
func (s *MemoryStore) List(ctx context.Context) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Credential, 0, len(s.creds))
	for _, cred := range s.creds {
		copied := *cred
		all = append(all, &copied)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].TenantID < all[j].TenantID })
	return all, nil
}

// Delete removes a credential record.
func (s *MemoryStore) Delete(ctx context.Context, tenantID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creds[key(tenantID, provider)]; !ok {
		return NotFound(tenantID, provider)
	}
	delete(s.creds, key(tenantID, provider))
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
