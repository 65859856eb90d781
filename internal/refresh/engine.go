// Package refresh holds the credential refresh core: the per-tenant engine
// that picks and executes a grant with fallback, and the batch coordinator
// that fans the engine out across due tenants.
package refresh

import (
	"context"
	"fmt"
	"time"

	"credsync/internal/common/errors"
	"credsync/internal/common/logging"
	"credsync/internal/credstore"
	"credsync/internal/grantclient"
)

// DefaultTokenLifetime is applied when the provider does not report an
// access token lifetime. Leaving expiry unset would make the tenant either
// never due or always due, so a fixed conservative lifetime is used instead.
const DefaultTokenLifetime = 24 * time.Hour

// OutcomeKind tags the result of refreshing one tenant.
type OutcomeKind string

const (
	// OutcomeRefreshed means the rotating refresh grant succeeded.
	OutcomeRefreshed OutcomeKind = "refreshed"
	// OutcomeReauthorized means refresh was unavailable or failed and the
	// long-lived office credentials produced a fresh token set.
	OutcomeReauthorized OutcomeKind = "reauthorized"
	// OutcomeFailed means no grant produced a token set.
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome is the result of a single tenant refresh attempt.
type Outcome struct {
	Kind OutcomeKind
	// Update carries the new token set for successful outcomes.
	Update *credstore.GrantUpdate
	// Err is set for failed outcomes.
	Err error
}

// Succeeded reports whether the outcome carries a new token set.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeRefreshed || o.Kind == OutcomeReauthorized
}

// GrantClient is the subset of the grant client the engine needs.
type GrantClient interface {
	Authorize(ctx context.Context, officeID, secret string) (*grantclient.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*grantclient.TokenSet, error)
}

// Engine decides which grant to attempt for one tenant and executes it.
type Engine struct {
	client GrantClient
	logger logging.Logger
	now    func() time.Time
}

// NewEngine creates a refresh engine on top of a grant client.
func NewEngine(client GrantClient, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Engine{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// RefreshOne attempts to obtain a fresh token set for the credential.
//
// The refresh grant is tried first when a refresh token is stored. Any
// refresh failure falls through to the authorization grant when the
// long-lived office pair is present: the upstream rotates refresh tokens on
// every use, so a token that has gone stale upstream must not leave the
// tenant stuck. A refresh token is never reused within one attempt, even
// when the failure was a timeout with an unknown upstream outcome.
func (e *Engine) RefreshOne(ctx context.Context, cred *credstore.Credential) Outcome {
	hasRefresh := cred.HasRefreshToken()
	hasOffice := cred.HasOfficeCredentials()

	if !hasRefresh && !hasOffice {
		return Outcome{
			Kind: OutcomeFailed,
			Err:  errors.ConfigError("no credential material: neither refresh token nor office credentials present"),
		}
	}

	var refreshErr error
	if hasRefresh {
		tokens, err := e.client.Refresh(ctx, cred.RefreshToken)
		if err == nil {
			e.logger.Info("Refresh grant succeeded",
				logging.Field{Key: "tenant_id", Value: cred.TenantID},
			)
			return Outcome{Kind: OutcomeRefreshed, Update: e.update(tokens)}
		}

		refreshErr = err
		e.logger.Warn("Refresh grant failed, falling back to authorization",
			logging.Field{Key: "tenant_id", Value: cred.TenantID},
			logging.Field{Key: "error", Value: err.Error()},
			logging.Field{Key: "fallback_available", Value: hasOffice},
		)

		if !hasOffice {
			return Outcome{
				Kind: OutcomeFailed,
				Err:  fmt.Errorf("refresh grant failed and no office credentials for fallback: %w", refreshErr),
			}
		}
	}

	tokens, err := e.client.Authorize(ctx, cred.OfficeID, cred.Secret)
	if err != nil {
		if refreshErr != nil {
			return Outcome{
				Kind: OutcomeFailed,
				Err:  fmt.Errorf("refresh grant failed (%v); authorization grant failed: %w", refreshErr, err),
			}
		}
		return Outcome{
			Kind: OutcomeFailed,
			Err:  fmt.Errorf("authorization grant failed: %w", err),
		}
	}

	e.logger.Info("Authorization grant succeeded",
		logging.Field{Key: "tenant_id", Value: cred.TenantID},
	)
	return Outcome{Kind: OutcomeReauthorized, Update: e.update(tokens)}
}

// update converts a token set into a store update, computing expiry from the
// provider-reported lifetime or the fixed default.
func (e *Engine) update(tokens *grantclient.TokenSet) *credstore.GrantUpdate {
	lifetime := DefaultTokenLifetime
	if tokens.ExpiresIn > 0 {
		lifetime = time.Duration(tokens.ExpiresIn) * time.Second
	}

	return &credstore.GrantUpdate{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Expiry:       e.now().Add(lifetime),
	}
}
