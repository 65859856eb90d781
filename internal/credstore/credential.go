// Package credstore persists per-tenant integration credentials for the
// upstream practice management provider and exposes the lifecycle operations
// the refresh machinery needs: atomic grant application, failure marking and
// due-for-refresh selection.
package credstore

import (
	"time"
)

// DefaultProvider is the upstream practice management integration; the only
// provider currently wired.
const DefaultProvider = "pms"

// Status describes the health of one tenant's integration.
type Status string

const (
	// StatusActive means the tenant holds a token set that was valid when last written
	StatusActive Status = "ACTIVE"
	// StatusNeedsSetup means the tenant connected but no grant has succeeded yet
	StatusNeedsSetup Status = "NEEDS_SETUP"
	// StatusError means the most recent refresh attempt failed; retried on every run
	StatusError Status = "ERROR"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusNeedsSetup, StatusError:
		return true
	}
	return false
}

// Credential is the durable per-(tenant, provider) record of current tokens,
// their expiry and integration health. RefreshToken and Secret are stored
// encrypted at rest by the SQL backends.
type Credential struct {
	// TenantID identifies the owning tenant; unique together with Provider
	TenantID string `json:"tenant_id"`
	// Provider names the upstream integration (e.g. "pms")
	Provider string `json:"provider"`
	// Status drives eligibility for automatic refresh
	Status Status `json:"status"`
	// AccessToken is the current opaque bearer token; empty if never issued
	AccessToken string `json:"-"`
	// RefreshToken is the rotating single-use token for the refresh grant
	RefreshToken string `json:"-"`
	// OfficeID is the stable practice identifier for the re-authorization grant
	OfficeID string `json:"office_id,omitempty"`
	// Secret is the long-lived provider secret paired with OfficeID
	Secret string `json:"-"`
	// AccessTokenExpiry is when AccessToken expires; nil means unknown/expired
	AccessTokenExpiry *time.Time `json:"access_token_expiry,omitempty"`
	// LastError is the human-readable last failure reason; cleared on success
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRefreshToken reports whether the rotating refresh grant can be attempted.
func (c *Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// HasOfficeCredentials reports whether the re-authorization grant can be
// attempted from the long-lived pair.
func (c *Credential) HasOfficeCredentials() bool {
	return c.OfficeID != "" && c.Secret != ""
}

// IsDue reports whether the credential should be refreshed now given the
// look-ahead window. An unknown expiry or a missing refresh token always
// counts as due; otherwise the token must expire within the window.
func (c *Credential) IsDue(now time.Time, window time.Duration) bool {
	if c.AccessTokenExpiry == nil {
		return true
	}
	if !c.HasRefreshToken() {
		return true
	}
	return c.AccessTokenExpiry.Before(now.Add(window))
}

// GrantUpdate carries the result of a successful grant. ApplyGrant persists
// all three fields together; a mix of old and new values is never written.
type GrantUpdate struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}
