package refresh

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"credsync/internal/common/errors"
	"credsync/internal/common/logging"
	"credsync/internal/credstore"
)

// Mode selects which tenants a batch run covers.
type Mode string

const (
	// ModeDue selects tenants whose token expires within the refresh window,
	// has no known expiry, or has no refresh token.
	ModeDue Mode = "due"
	// ModeForceAll selects every refresh-eligible tenant regardless of expiry.
	ModeForceAll Mode = "force_all"
)

// ErrBatchInProgress is returned when another instance holds the run lock.
var ErrBatchInProgress = stderrors.New("a refresh batch is already running")

const (
	runLockKey     = "refresh-batch"
	lastSummaryKey = "refresh:last_run"

	// lastError strings are operator-facing; cap them so a deeply wrapped
	// grant failure does not bloat the store.
	maxLastErrorLen = 500
)

// TenantResult is the per-tenant line in a batch summary.
type TenantResult struct {
	TenantID string      `json:"tenant_id"`
	Provider string      `json:"provider"`
	Outcome  OutcomeKind `json:"outcome"`
	Error    string      `json:"error,omitempty"`
}

// Summary aggregates one batch run.
type Summary struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Results   []TenantResult `json:"results"`
}

// BatchCoordination is the subset of the Redis client the coordinator uses
// for cross-instance coordination. A nil value degrades to single-instance
// behavior: no run lock and an in-memory last summary only.
type BatchCoordination interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (bool, error)
	ExtendLock(ctx context.Context, key string, expiration time.Duration) error
	ReleaseLock(ctx context.Context, key string) error
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
}

// CoordinatorOptions tune a batch run. Zero values fall back to defaults.
type CoordinatorOptions struct {
	// Window is the expiry look-ahead for the due selection.
	Window time.Duration
	// BatchTimeout bounds a whole run; in-flight tenants past it fail.
	BatchTimeout time.Duration
	// Workers caps concurrent tenant refreshes.
	Workers int
}

func (o CoordinatorOptions) withDefaults() CoordinatorOptions {
	if o.Window <= 0 {
		o.Window = 2 * time.Hour
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = 10 * time.Minute
	}
	if o.Workers <= 0 {
		o.Workers = 10
	}
	return o
}

// Coordinator selects due tenants and fans the refresh engine out across
// them with per-tenant failure isolation.
type Coordinator struct {
	store  credstore.Store
	engine *Engine
	coord  BatchCoordination
	logger logging.Logger
	opts   CoordinatorOptions

	mu          sync.RWMutex
	lastSummary *Summary
}

// NewCoordinator creates a batch coordinator. coord may be nil.
func NewCoordinator(store credstore.Store, engine *Engine, coord BatchCoordination, opts CoordinatorOptions, logger logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Coordinator{
		store:  store,
		engine: engine,
		coord:  coord,
		logger: logger,
		opts:   opts.withDefaults(),
	}
}

// Run executes one batch. The only fatal path is the store being
// unreachable at selection time; every per-tenant failure is recorded in the
// summary and the run keeps going.
func (c *Coordinator) Run(ctx context.Context, mode Mode) (*Summary, error) {
	if c.coord != nil {
		acquired, err := c.coord.AcquireLock(ctx, runLockKey, c.opts.BatchTimeout+time.Minute)
		if err != nil {
			// Coordination is best-effort; a broken Redis must not stop refreshes.
			c.logger.Warn("Run lock unavailable, proceeding without it",
				logging.Field{Key: "error", Value: err.Error()},
			)
		} else if !acquired {
			return nil, ErrBatchInProgress
		} else {
			defer func() {
				if releaseErr := c.coord.ReleaseLock(context.Background(), runLockKey); releaseErr != nil {
					c.logger.Warn("Failed to release run lock",
						logging.Field{Key: "error", Value: releaseErr.Error()},
					)
				}
			}()

			// Keep the lock alive while the batch runs so a run that
			// drags on does not lose it to another instance mid-flight.
			heartbeatDone := make(chan struct{})
			go c.extendLockLoop(heartbeatDone)
			defer close(heartbeatDone)
		}
	}

	startedAt := time.Now()

	due, err := c.store.ListDue(ctx, startedAt, c.opts.Window, mode == ModeForceAll)
	if err != nil {
		return nil, errors.ConnectionError("failed to select due credentials", err)
	}

	c.logger.Info("Starting refresh batch",
		logging.Field{Key: "mode", Value: string(mode)},
		logging.Field{Key: "tenants", Value: len(due)},
		logging.Field{Key: "workers", Value: c.opts.Workers},
	)

	batchCtx, cancel := context.WithTimeout(ctx, c.opts.BatchTimeout)
	defer cancel()

	results := make([]TenantResult, len(due))

	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for i, cred := range due {
		i, cred := i, cred
		g.Go(func() error {
			results[i] = c.refreshTenant(batchCtx, cred)
			return nil
		})
	}
	g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].TenantID < results[j].TenantID })

	summary := &Summary{
		Total:     len(results),
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Results:   results,
	}
	for _, r := range results {
		if r.Outcome == OutcomeFailed {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}

	c.logger.Info("Refresh batch finished",
		logging.Field{Key: "total", Value: summary.Total},
		logging.Field{Key: "succeeded", Value: summary.Succeeded},
		logging.Field{Key: "failed", Value: summary.Failed},
		logging.Field{Key: "duration", Value: summary.Duration.String()},
	)

	c.storeSummary(summary)
	return summary, nil
}

// refreshTenant runs the engine for one credential and persists the result.
// Panics are contained here so one misbehaving tenant cannot take down the
// batch.
func (c *Coordinator) refreshTenant(ctx context.Context, cred *credstore.Credential) (result TenantResult) {
	result = TenantResult{TenantID: cred.TenantID, Provider: cred.Provider}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic during tenant refresh", fmt.Errorf("panic: %v", r),
				logging.Field{Key: "tenant_id", Value: cred.TenantID},
			)
			result.Outcome = OutcomeFailed
			result.Error = fmt.Sprintf("panic: %v", r)
			c.markError(cred, result.Error)
		}
	}()

	outcome := c.engine.RefreshOne(ctx, cred)
	result.Outcome = outcome.Kind

	if !outcome.Succeeded() {
		result.Error = truncate(outcome.Err.Error(), maxLastErrorLen)
		c.markError(cred, result.Error)
		return result
	}

	if err := c.store.ApplyGrant(ctx, cred.TenantID, cred.Provider, *outcome.Update); err != nil {
		c.logger.Error("Failed to persist refreshed tokens", err,
			logging.Field{Key: "tenant_id", Value: cred.TenantID},
		)
		result.Outcome = OutcomeFailed
		result.Error = truncate(fmt.Sprintf("failed to persist tokens: %v", err), maxLastErrorLen)
		c.markError(cred, result.Error)
		return result
	}

	return result
}

// extendLockLoop pushes the run lock lease forward at a quarter of the batch
// ceiling until done is closed.
func (c *Coordinator) extendLockLoop(done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.BatchTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.coord.ExtendLock(ctx, runLockKey, c.opts.BatchTimeout+time.Minute); err != nil {
				c.logger.Warn("Failed to extend run lock",
					logging.Field{Key: "error", Value: err.Error()},
				)
			}
			cancel()
		}
	}
}

// markError records the failure on the credential. Persistence uses a
// detached context so a batch that hit its ceiling can still write outcomes.
func (c *Coordinator) markError(cred *credstore.Credential, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.store.MarkError(ctx, cred.TenantID, cred.Provider, reason); err != nil {
		c.logger.Warn("Failed to record refresh failure",
			logging.Field{Key: "tenant_id", Value: cred.TenantID},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
}

func (c *Coordinator) storeSummary(summary *Summary) {
	c.mu.Lock()
	c.lastSummary = summary
	c.mu.Unlock()

	if c.coord != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := c.coord.SetJSON(ctx, lastSummaryKey, summary, 48*time.Hour); err != nil {
			c.logger.Warn("Failed to share batch summary",
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	}
}

// LastSummary returns the most recent batch summary, falling back to the
// shared one when this instance has not run a batch yet.
func (c *Coordinator) LastSummary(ctx context.Context) (*Summary, bool) {
	c.mu.RLock()
	summary := c.lastSummary
	c.mu.RUnlock()

	if summary != nil {
		return summary, true
	}

	if c.coord != nil {
		var shared Summary
		if err := c.coord.GetJSON(ctx, lastSummaryKey, &shared); err == nil {
			return &shared, true
		}
	}

	return nil, false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
