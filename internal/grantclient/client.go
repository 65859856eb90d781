// Package grantclient implements the two token grant exchanges against the
// upstream PMS token endpoint: initial authorization from the long-lived
// office credentials, and rotation of a refresh token. The client is
// stateless and performs no retries; fallback between grant types is the
// refresh engine's job.
package grantclient

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"credsync/internal/circuitbreaker"
	"credsync/internal/common/errors"
	commonhttp "credsync/internal/common/http"
	"credsync/internal/common/logging"
)

// ErrorKind classifies a failed grant exchange.
type ErrorKind string

const (
	// KindTimeout means the exchange exceeded its deadline; the outcome
	// upstream is unknown and any refresh token sent must be considered spent.
	KindTimeout ErrorKind = "timeout"
	// KindRejected means the endpoint answered with a non-2xx status.
	KindRejected ErrorKind = "rejected"
	// KindTransient covers transport failures and open circuit breakers.
	KindTransient ErrorKind = "transient"
)

// TokenSet is a successful grant response.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresIn is the access token lifetime in seconds as reported by the
	// provider; zero means the provider did not report one.
	ExpiresIn int `json:"expires_in"`
}

// GrantError is a typed failure from a grant exchange.
type GrantError struct {
	Kind   ErrorKind
	Detail string
	// Status is the HTTP status code for rejected exchanges, zero otherwise.
	Status int
	Cause  error
}

func (e *GrantError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("grant %s (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("grant %s: %s", e.Kind, e.Detail)
}

func (e *GrantError) Unwrap() error {
	return e.Cause
}

// IsGrantError returns the typed grant error if err is one.
func IsGrantError(err error) (*GrantError, bool) {
	ge, ok := err.(*GrantError)
	return ge, ok
}

// grantRequest is the JSON body posted to the token endpoint.
type grantRequest struct {
	GrantType    string `json:"grant_type"`
	OfficeID     string `json:"office_id,omitempty"`
	Secret       string `json:"secret,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// errorResponse is the provider's body on a non-2xx status.
type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// Client performs grant exchanges against a single token endpoint.
type Client struct {
	tokenURL   string
	httpClient *http.Client
	breaker    *circuitbreaker.GoBreakerAdapter
	logger     logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a grant client for the given token endpoint.
// Each exchange is bounded by the timeout; the circuit breaker opens after
// repeated transport failures so a wedged endpoint fails fast.
func NewClient(tokenURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	if tokenURL == "" {
		return nil, errors.ValidationError("token URL is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		tokenURL:   tokenURL,
		httpClient: commonhttp.NewHTTPClientWithTimeout(timeout),
		breaker:    circuitbreaker.NewGoBreaker("grant-client", circuitbreaker.GrantConfig, logging.GetGlobalLogger()),
		logger:     logging.GetGlobalLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Authorize performs the initial authorization grant using the long-lived
// office credential pair.
func (c *Client) Authorize(ctx context.Context, officeID, secret string) (*TokenSet, error) {
	if officeID == "" || secret == "" {
		return nil, &GrantError{Kind: KindRejected, Detail: "office credentials are required"}
	}

	return c.exchange(ctx, grantRequest{
		GrantType: "authorization",
		OfficeID:  officeID,
		Secret:    secret,
	})
}

// Refresh performs the refresh grant. The refresh token is single-use
// upstream: callers must treat it as spent regardless of the result.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, &GrantError{Kind: KindRejected, Detail: "refresh token is required"}
	}

	return c.exchange(ctx, grantRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
	})
}

// exchange performs a single POST to the token endpoint and classifies the
// result. The circuit breaker wraps only the transport call so rejections
// from a healthy endpoint never trip it.
func (c *Client) exchange(ctx context.Context, greq grantRequest) (*TokenSet, error) {
	body, err := json.Marshal(greq)
	if err != nil {
		return nil, &GrantError{Kind: KindTransient, Detail: "failed to encode grant request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, &GrantError{Kind: KindTransient, Detail: "failed to create grant request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var resp *http.Response
	err = c.breaker.Execute(ctx, func() error {
		var httpErr error
		resp, httpErr = c.httpClient.Do(req)
		return httpErr
	})
	if err != nil {
		return nil, c.classifyTransportError(greq.GrantType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)
		var errResp errorResponse
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&errResp); decodeErr == nil && errResp.Error != "" {
			detail = errResp.Error
			if errResp.Description != "" {
				detail = fmt.Sprintf("%s: %s", errResp.Error, errResp.Description)
			}
		}

		c.logger.Warn("Grant rejected by token endpoint",
			logging.Field{Key: "grant_type", Value: greq.GrantType},
			logging.Field{Key: "status", Value: resp.StatusCode},
		)
		return nil, &GrantError{Kind: KindRejected, Detail: detail, Status: resp.StatusCode}
	}

	var tokens TokenSet
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, &GrantError{Kind: KindTransient, Detail: "failed to decode token response", Cause: err}
	}
	if tokens.AccessToken == "" {
		return nil, &GrantError{Kind: KindTransient, Detail: "token response missing access token"}
	}

	c.logger.Debug("Grant succeeded",
		logging.Field{Key: "grant_type", Value: greq.GrantType},
		logging.Field{Key: "expires_in", Value: tokens.ExpiresIn},
	)
	return &tokens, nil
}

func (c *Client) classifyTransportError(grantType string, err error) *GrantError {
	kind := KindTransient
	detail := "token endpoint unreachable"

	if errors.IsType(err, errors.ErrTypeConnection) {
		// Open circuit breaker: fail fast without touching the network.
		detail = "token endpoint circuit open"
	} else if isTimeout(err) {
		kind = KindTimeout
		detail = "token endpoint timed out"
	}

	c.logger.Warn("Grant transport failure",
		logging.Field{Key: "grant_type", Value: grantType},
		logging.Field{Key: "kind", Value: string(kind)},
		logging.Field{Key: "error", Value: err.Error()},
	)
	return &GrantError{Kind: kind, Detail: detail, Cause: err}
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
