// Package auth validates the bearer tokens that protect the admin API.
package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"credsync/internal/common/logging"
)

const issuer = "credsync"

type contextKey string

const subjectContextKey contextKey = "authSubject"

var (
	errMissingToken = stderrors.New("missing bearer token")
	errInvalidToken = stderrors.New("invalid bearer token")
)

// adminClaims are the claims carried by an admin API token.
type adminClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Auth issues and validates HMAC-signed admin tokens.
type Auth struct {
	secret []byte
	logger logging.Logger
}

// New creates an Auth over the shared HMAC secret.
func New(secret string, logger logging.Logger) *Auth {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Auth{
		secret: []byte(secret),
		logger: logger,
	}
}

// IssueToken signs an admin token for the subject with the given lifetime.
func (a *Auth) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := adminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken parses a bearer token and returns its subject.
func (a *Auth) ValidateToken(tokenStr string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &adminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if !parsed.Valid {
		return "", errInvalidToken
	}

	claims, ok := parsed.Claims.(*adminClaims)
	if !ok || claims.Issuer != issuer {
		return "", errInvalidToken
	}

	return claims.Subject, nil
}

// RequireAuth wraps a handler and rejects requests without a valid bearer
// token.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := a.authenticate(r)
		if err != nil {
			a.logger.Debug("Rejected unauthenticated request",
				logging.Field{Key: "path", Value: r.URL.Path},
				logging.Field{Key: "error", Value: err.Error()},
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "Authentication required"}`))
			return
		}

		ctx := context.WithValue(r.Context(), subjectContextKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errMissingToken
	}

	tokenStr := strings.TrimPrefix(header, "Bearer ")
	if tokenStr == header || tokenStr == "" {
		return "", errMissingToken
	}

	return a.ValidateToken(tokenStr)
}

// Subject returns the authenticated subject stored by RequireAuth.
func Subject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectContextKey).(string)
	return subject, ok
}
