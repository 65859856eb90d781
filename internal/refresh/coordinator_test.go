package refresh

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credsync/internal/credstore"
	"credsync/internal/grantclient"
)

// scriptedClient routes grant calls through test-provided functions.
type scriptedClient struct {
	refreshFn   func(refreshToken string) (*grantclient.TokenSet, error)
	authorizeFn func(officeID, secret string) (*grantclient.TokenSet, error)
}

func (s *scriptedClient) Refresh(ctx context.Context, refreshToken string) (*grantclient.TokenSet, error) {
	if s.refreshFn == nil {
		return nil, &grantclient.GrantError{Kind: grantclient.KindRejected, Detail: "unexpected refresh call"}
	}
	return s.refreshFn(refreshToken)
}

func (s *scriptedClient) Authorize(ctx context.Context, officeID, secret string) (*grantclient.TokenSet, error) {
	if s.authorizeFn == nil {
		return nil, &grantclient.GrantError{Kind: grantclient.KindRejected, Detail: "unexpected authorize call"}
	}
	return s.authorizeFn(officeID, secret)
}

// failingListStore simulates an unreachable backend at selection time.
type failingListStore struct {
	credstore.Store
}

func (f *failingListStore) ListDue(ctx context.Context, now time.Time, window time.Duration, forceAll bool) ([]*credstore.Credential, error) {
	return nil, fmt.Errorf("connection refused")
}

// failingApplyStore rejects every token write.
type failingApplyStore struct {
	credstore.Store
}

func (f *failingApplyStore) ApplyGrant(ctx context.Context, tenantID, provider string, update credstore.GrantUpdate) error {
	return fmt.Errorf("disk full")
}

// fakeCoordination is an in-memory stand-in for the Redis client.
type fakeCoordination struct {
	locked    bool
	summaries map[string][]byte

	mu      sync.Mutex
	extends int
}

func (f *fakeCoordination) AcquireLock(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	if f.locked {
		return false, nil
	}
	f.locked = true
	return true, nil
}

func (f *fakeCoordination) ExtendLock(ctx context.Context, key string, expiration time.Duration) error {
	f.mu.Lock()
	f.extends++
	f.mu.Unlock()
	return nil
}

func (f *fakeCoordination) extendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extends
}

func (f *fakeCoordination) ReleaseLock(ctx context.Context, key string) error {
	f.locked = false
	return nil
}

func (f *fakeCoordination) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return nil
}

func (f *fakeCoordination) GetJSON(ctx context.Context, key string, dest interface{}) error {
	return fmt.Errorf("not found")
}

func seedActive(t *testing.T, store credstore.Store, tenantID, refreshToken string, expiresIn time.Duration) {
	t.Helper()
	expiry := time.Now().Add(expiresIn)
	require.NoError(t, store.Upsert(context.Background(), &credstore.Credential{
		TenantID:          tenantID,
		Provider:          "pms",
		Status:            credstore.StatusActive,
		AccessToken:       "a1",
		RefreshToken:      refreshToken,
		OfficeID:          "office-" + tenantID,
		Secret:            "secret",
		AccessTokenExpiry: &expiry,
	}))
}

func TestCoordinator_ConcreteDueRun(t *testing.T) {
	store := credstore.NewMemoryStore()
	seedActive(t, store, "T", "r1", 30*time.Minute)

	client := &scriptedClient{
		refreshFn: func(refreshToken string) (*grantclient.TokenSet, error) {
			assert.Equal(t, "r1", refreshToken)
			return &grantclient.TokenSet{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 86400}, nil
		},
	}

	coord := NewCoordinator(store, NewEngine(client, nil), nil, CoordinatorOptions{}, nil)

	summary, err := coord.Run(context.Background(), ModeDue)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeRefreshed, summary.Results[0].Outcome)

	cred, err := store.Get(context.Background(), "T", "pms")
	require.NoError(t, err)
	assert.Equal(t, credstore.StatusActive, cred.Status)
	assert.Equal(t, "a2", cred.AccessToken)
	assert.Equal(t, "r2", cred.RefreshToken)
	assert.Empty(t, cred.LastError)
	require.NotNil(t, cred.AccessTokenExpiry)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *cred.AccessTokenExpiry, time.Minute)
}

func TestCoordinator_FailureIsolation(t *testing.T) {
	store := credstore.NewMemoryStore()
	seedActive(t, store, "A", "rA", 30*time.Minute)
	seedActive(t, store, "B", "rB", 30*time.Minute)
	seedActive(t, store, "C", "rC", 30*time.Minute)

	client := &scriptedClient{
		refreshFn: func(refreshToken string) (*grantclient.TokenSet, error) {
			if refreshToken == "rB" {
				return nil, &grantclient.GrantError{Kind: grantclient.KindTransient, Detail: "endpoint down"}
			}
			return &grantclient.TokenSet{AccessToken: "new-" + refreshToken, RefreshToken: "next-" + refreshToken, ExpiresIn: 3600}, nil
		},
		authorizeFn: func(officeID, secret string) (*grantclient.TokenSet, error) {
			return nil, &grantclient.GrantError{Kind: grantclient.KindRejected, Detail: "office rejected"}
		},
	}

	coord := NewCoordinator(store, NewEngine(client, nil), nil, CoordinatorOptions{}, nil)

	summary, err := coord.Run(context.Background(), ModeDue)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	byTenant := map[string]TenantResult{}
	for _, r := range summary.Results {
		byTenant[r.TenantID] = r
	}
	assert.Equal(t, OutcomeRefreshed, byTenant["A"].Outcome)
	assert.Equal(t, OutcomeFailed, byTenant["B"].Outcome)
	assert.Equal(t, OutcomeRefreshed, byTenant["C"].Outcome)

	// B keeps its tokens, only status and last error change
	b, err := store.Get(context.Background(), "B", "pms")
	require.NoError(t, err)
	assert.Equal(t, credstore.StatusError, b.Status)
	assert.Equal(t, "a1", b.AccessToken)
	assert.Equal(t, "rB", b.RefreshToken)
	assert.NotEmpty(t, b.LastError)

	a, err := store.Get(context.Background(), "A", "pms")
	require.NoError(t, err)
	assert.Equal(t, "new-rA", a.AccessToken)
}

func TestCoordinator_ErroredTenantRecovers(t *testing.T) {
	store := credstore.NewMemoryStore()
	seedActive(t, store, "T", "r1", 6*time.Hour)

	recovered := false
	client := &scriptedClient{
		refreshFn: func(refreshToken string) (*grantclient.TokenSet, error) {
			if !recovered {
				return nil, &grantclient.GrantError{Kind: grantclient.KindTransient, Detail: "endpoint down"}
			}
			return &grantclient.TokenSet{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600}, nil
		},
		authorizeFn: func(officeID, secret string) (*grantclient.TokenSet, error) {
			if !recovered {
				return nil, &grantclient.GrantError{Kind: grantclient.KindTransient, Detail: "endpoint down"}
			}
			return &grantclient.TokenSet{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600}, nil
		},
	}

	coord := NewCoordinator(store, NewEngine(client, nil), nil, CoordinatorOptions{}, nil)

	summary, err := coord.Run(context.Background(), ModeForceAll)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	cred, err := store.Get(context.Background(), "T", "pms")
	require.NoError(t, err)
	require.Equal(t, credstore.StatusError, cred.Status)

	// The errored tenant is picked up by the next due run even though its
	// recorded expiry is hours away, and heals once the endpoint is back
	recovered = true
	summary, err = coord.Run(context.Background(), ModeDue)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)

	cred, err = store.Get(context.Background(), "T", "pms")
	require.NoError(t, err)
	assert.Equal(t, credstore.StatusActive, cred.Status)
	assert.Equal(t, "a2", cred.AccessToken)
	assert.Empty(t, cred.LastError)
}

func TestCoordinator_ForceAllSelectsHealthyTenants(t *testing.T) {
	store := credstore.NewMemoryStore()
	seedActive(t, store, "healthy", "rH", 6*time.Hour)

	calls := 0
	client := &scriptedClient{
		refreshFn: func(refreshToken string) (*grantclient.TokenSet, error) {
			calls++
			return &grantclient.TokenSet{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600}, nil
		},
	}

	coord := NewCoordinator(store, NewEngine(client, nil), nil, CoordinatorOptions{}, nil)

	summary, err := coord.Run(context.Background(), ModeDue)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, 0, calls)

	summary, err = coord.Run(context.Background(), ModeForceAll)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, calls)
}

func TestCoordinator_StoreUnreachableIsFatal(t *testing.T) {
	store := &failingListStore{Store: credstore.NewMemoryStore()}
	coord := NewCoordinator(store, NewEngine(&scriptedClient{}, nil), nil, CoordinatorOptions{}, nil)

	summary, err := coord.Run(context.Background(), ModeDue)
	assert.Nil(t, summary)
	assert.Error(t, err)
}

func TestCoordinator_PanicContainment(t *testing.T) {
	store := credstore.NewMemoryStore()
	seedActive(t, store, "A", "rA", 30*time.Minute)
	seedActive(t, store, "B", "rB", 30*time.Minute)

	client := &scriptedClient{
		refreshFn: func(refreshToken string) (*grantclient.TokenSet, error) {
			if refreshToken == "rB" {
				panic("boom")
			}
			return &grantclient.TokenSet{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600}, nil
		},
	}

	coord := NewCoordinator(store, NewEngine(client, nil), nil, CoordinatorOptions{}, nil)

	summary, err := coord.Run(context.Background(), ModeDue)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	b, err := store.Get(context.Background(), "B", "pms")
	require.NoError(t, err)
	assert.Equal(t, credstore.StatusError, b.Status)
	assert.Contains(t, b.LastError, "panic")
}

func TestCoordinator_PersistFailureMarksError(t *testing.T) {
	store := &failingApplyStore{Store: credstore.NewMemoryStore()}
	seedActive(t, store, "T", "r1", 30*time.Minute)

	client := &scriptedClient{
		refreshFn: func(refreshToken string) (*grantclient.TokenSet, error) {
			return &grantclient.TokenSet{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600}, nil
		},
	}

	coord := NewCoordinator(store, NewEngine(client, nil), nil, CoordinatorOptions{}, nil)

	summary, err := coord.Run(context.Background(), ModeDue)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	// The write failure ends up on the record, not just in the summary
	cred, err := store.Get(context.Background(), "T", "pms")
	require.NoError(t, err)
	assert.Equal(t, credstore.StatusError, cred.Status)
	assert.Contains(t, cred.LastError, "failed to persist tokens")
	assert.Equal(t, "r1", cred.RefreshToken)
}

func TestCoordinator_RunLock(t *testing.T) {
	store := credstore.NewMemoryStore()
	coordn := &fakeCoordination{}

	coord := NewCoordinator(store, NewEngine(&scriptedClient{}, nil), coordn, CoordinatorOptions{}, nil)

	// Held lock turns the run away
	coordn.locked = true
	_, err := coord.Run(context.Background(), ModeDue)
	assert.ErrorIs(t, err, ErrBatchInProgress)

	// Lock is released after a successful run
	coordn.locked = false
	_, err = coord.Run(context.Background(), ModeDue)
	require.NoError(t, err)
	assert.False(t, coordn.locked)
}

func TestCoordinator_LockHeartbeat(t *testing.T) {
	store := credstore.NewMemoryStore()
	seedActive(t, store, "slow", "rS", 30*time.Minute)

	client := &scriptedClient{
		refreshFn: func(refreshToken string) (*grantclient.TokenSet, error) {
			time.Sleep(60 * time.Millisecond)
			return &grantclient.TokenSet{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600}, nil
		},
	}

	coordn := &fakeCoordination{}
	coord := NewCoordinator(store, NewEngine(client, nil), coordn, CoordinatorOptions{
		BatchTimeout: 80 * time.Millisecond,
	}, nil)

	summary, err := coord.Run(context.Background(), ModeDue)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	// A batch outlasting the extension interval renews its lease
	assert.GreaterOrEqual(t, coordn.extendCount(), 1)
	assert.False(t, coordn.locked)
}

func TestCoordinator_LastSummary(t *testing.T) {
	store := credstore.NewMemoryStore()
	coord := NewCoordinator(store, NewEngine(&scriptedClient{}, nil), nil, CoordinatorOptions{}, nil)

	_, ok := coord.LastSummary(context.Background())
	assert.False(t, ok)

	_, err := coord.Run(context.Background(), ModeDue)
	require.NoError(t, err)

	summary, ok := coord.LastSummary(context.Background())
	require.True(t, ok)
	assert.Equal(t, 0, summary.Total)
}

func TestCoordinator_BatchCeiling(t *testing.T) {
	store := credstore.NewMemoryStore()
	seedActive(t, store, "slow", "rS", 30*time.Minute)

	client := &scriptedClient{
		refreshFn: func(refreshToken string) (*grantclient.TokenSet, error) {
			time.Sleep(200 * time.Millisecond)
			return nil, &grantclient.GrantError{Kind: grantclient.KindTimeout, Detail: "timed out"}
		},
		authorizeFn: func(officeID, secret string) (*grantclient.TokenSet, error) {
			return nil, &grantclient.GrantError{Kind: grantclient.KindTimeout, Detail: "timed out"}
		},
	}

	coord := NewCoordinator(store, NewEngine(client, nil), nil, CoordinatorOptions{
		BatchTimeout: 50 * time.Millisecond,
	}, nil)

	summary, err := coord.Run(context.Background(), ModeDue)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Failed)
}
