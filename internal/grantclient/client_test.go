package grantclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func decodeGrantRequest(t *testing.T, r *http.Request) grantRequest {
	t.Helper()
	var req grantRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestClient_Authorize(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		req := decodeGrantRequest(t, r)
		assert.Equal(t, "authorization", req.GrantType)
		assert.Equal(t, "office-1", req.OfficeID)
		assert.Equal(t, "s3cret", req.Secret)
		assert.Empty(t, req.RefreshToken)

		json.NewEncoder(w).Encode(TokenSet{
			AccessToken:  "a1",
			RefreshToken: "r1",
			ExpiresIn:    86400,
		})
	})

	client, err := NewClient(srv.URL, 5*time.Second)
	require.NoError(t, err)

	tokens, err := client.Authorize(context.Background(), "office-1", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "a1", tokens.AccessToken)
	assert.Equal(t, "r1", tokens.RefreshToken)
	assert.Equal(t, 86400, tokens.ExpiresIn)
}

func TestClient_Refresh(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeGrantRequest(t, r)
		assert.Equal(t, "refresh_token", req.GrantType)
		assert.Equal(t, "r1", req.RefreshToken)
		assert.Empty(t, req.OfficeID)

		json.NewEncoder(w).Encode(TokenSet{
			AccessToken:  "a2",
			RefreshToken: "r2",
			ExpiresIn:    3600,
		})
	})

	client, err := NewClient(srv.URL, 5*time.Second)
	require.NoError(t, err)

	tokens, err := client.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", tokens.AccessToken)
	assert.Equal(t, "r2", tokens.RefreshToken)
}

func TestClient_Rejected(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "refresh token revoked",
		})
	})

	client, err := NewClient(srv.URL, 5*time.Second)
	require.NoError(t, err)

	tokens, err := client.Refresh(context.Background(), "revoked")
	assert.Nil(t, tokens)

	ge, ok := IsGrantError(err)
	require.True(t, ok)
	assert.Equal(t, KindRejected, ge.Kind)
	assert.Equal(t, http.StatusUnauthorized, ge.Status)
	assert.Contains(t, ge.Detail, "invalid_grant")
	assert.Contains(t, ge.Detail, "refresh token revoked")
}

func TestClient_Timeout(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})

	client, err := NewClient(srv.URL, 100*time.Millisecond)
	require.NoError(t, err)

	_, err = client.Refresh(context.Background(), "r1")
	ge, ok := IsGrantError(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, ge.Kind)
}

func TestClient_Transient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client, err := NewClient(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = client.Authorize(context.Background(), "office-1", "s3cret")
	ge, ok := IsGrantError(err)
	require.True(t, ok)
	assert.Equal(t, KindTransient, ge.Kind)
}

func TestClient_MalformedResponse(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	client, err := NewClient(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = client.Refresh(context.Background(), "r1")
	ge, ok := IsGrantError(err)
	require.True(t, ok)
	assert.Equal(t, KindTransient, ge.Kind)
}

func TestClient_MissingAccessToken(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TokenSet{RefreshToken: "r2"})
	})

	client, err := NewClient(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = client.Refresh(context.Background(), "r1")
	ge, ok := IsGrantError(err)
	require.True(t, ok)
	assert.Equal(t, KindTransient, ge.Kind)
	assert.Contains(t, ge.Detail, "access token")
}

func TestClient_InputValidation(t *testing.T) {
	_, err := NewClient("", time.Second)
	assert.Error(t, err)

	client, err := NewClient("http://localhost:1", time.Second)
	require.NoError(t, err)

	_, err = client.Authorize(context.Background(), "", "")
	ge, ok := IsGrantError(err)
	require.True(t, ok)
	assert.Equal(t, KindRejected, ge.Kind)

	_, err = client.Refresh(context.Background(), "")
	ge, ok = IsGrantError(err)
	require.True(t, ok)
	assert.Equal(t, KindRejected, ge.Kind)
}
