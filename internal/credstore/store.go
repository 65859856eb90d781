package credstore

import (
	"context"
	"time"

	"credsync/internal/common/errors"
)

// Store is the contract for credential persistence backends.
//
// ApplyGrant and MarkError are the only two mutation paths used by the refresh
// machinery: the first atomically replaces the whole token set on success, the
// second records a failure without ever touching existing tokens, so a
// still-valid-but-about-to-expire token is not discarded on a transient error.
type Store interface {
	// Get returns the credential for (tenantID, provider) or a not-found error
	Get(ctx context.Context, tenantID, provider string) (*Credential, error)
	// Upsert creates or replaces a credential record (seeding, manual connect)
	Upsert(ctx context.Context, cred *Credential) error
	// ApplyGrant atomically replaces access token, refresh token and expiry,
	// sets status ACTIVE and clears last_error
	ApplyGrant(ctx context.Context, tenantID, provider string, update GrantUpdate) error
	// MarkError sets status ERROR and last_error, leaving tokens untouched
	MarkError(ctx context.Context, tenantID, provider, lastError string) error
	// ListDue returns credentials eligible for refresh: status ACTIVE or
	// NEEDS_SETUP and due within the window, plus every ERROR tenant (a
	// failed tenant is retried each run), or all eligible when forceAll
	ListDue(ctx context.Context, now time.Time, window time.Duration, forceAll bool) ([]*Credential, error)
	// List returns every credential record
	List(ctx context.Context) ([]*Credential, error)
	// Delete removes a credential record (tenant disconnect)
	Delete(ctx context.Context, tenantID, provider string) error
	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error
	// Close releases backend resources
	Close() error
}

// NotFound returns the canonical not-found error for a credential lookup.
func NotFound(tenantID, provider string) error {
	return errors.NotFoundError("credential").
		WithContext("tenant_id", tenantID).
		WithContext("provider", provider)
}

// IsNotFound reports whether err is a credential not-found error.
func IsNotFound(err error) bool {
	return errors.IsType(err, errors.ErrTypeNotFound)
}
