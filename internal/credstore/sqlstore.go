package credstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"credsync/internal/crypto"
)

// SQLStore implements Store on top of database/sql for both SQLite and
// PostgreSQL. Queries are written with "?" placeholders and rebound for the
// PostgreSQL wire format at execution time.
//
// RefreshToken and Secret are encrypted before every write and decrypted on
// every read when an encryptor is configured.
type SQLStore struct {
	db        *sql.DB
	driver    string // "sqlite" or "postgres"
	encryptor *crypto.ConfigEncryptor
}

// rebind rewrites "?" placeholders into "$1..$n" for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) encrypt(value string) (string, error) {
	if s.encryptor == nil {
		return value, nil
	}
	return s.encryptor.Encrypt(value)
}

func (s *SQLStore) decrypt(value string) (string, error) {
	if s.encryptor == nil {
		return value, nil
	}
	return s.encryptor.Decrypt(value)
}

const credentialColumns = `tenant_id, provider, status, access_token, refresh_token, office_id, secret, access_token_expiry, last_error, created_at, updated_at`

func (s *SQLStore) scanCredential(row interface{ Scan(...interface{}) error }) (*Credential, error) {
	var cred Credential
	var status string
	var expiry sql.NullTime

	err := row.Scan(
		&cred.TenantID, &cred.Provider, &status,
		&cred.AccessToken, &cred.RefreshToken,
		&cred.OfficeID, &cred.Secret,
		&expiry, &cred.LastError,
		&cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cred.Status = Status(status)
	if expiry.Valid {
		t := expiry.Time.UTC()
		cred.AccessTokenExpiry = &t
	}

	if cred.RefreshToken, err = s.decrypt(cred.RefreshToken); err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	if cred.Secret, err = s.decrypt(cred.Secret); err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return &cred, nil
}

// Get returns the credential for (tenantID, provider) or a not-found error.
func (s *SQLStore) Get(ctx context.Context, tenantID, provider string) (*Credential, error) {
	query := s.rebind(`SELECT ` + credentialColumns + ` FROM integration_credentials WHERE tenant_id = ? AND provider = ?`)

	cred, err := s.scanCredential(s.db.QueryRowContext(ctx, query, tenantID, provider))
	if err == sql.ErrNoRows {
		return nil, NotFound(tenantID, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return cred, nil
}

// Upsert creates or replaces a credential record.
func (s *SQLStore) Upsert(ctx context.Context, cred *Credential) error {
	refreshToken, err := s.encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	secret, err := s.encrypt(cred.Secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	var expiry interface{}
	if cred.AccessTokenExpiry != nil {
		expiry = cred.AccessTokenExpiry.UTC()
	}

	now := time.Now().UTC()
	query := s.rebind(`
		INSERT INTO integration_credentials (` + credentialColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, provider) DO UPDATE SET
			status = excluded.status,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			office_id = excluded.office_id,
			secret = excluded.secret,
			access_token_expiry = excluded.access_token_expiry,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`)

	_, err = s.db.ExecContext(ctx, query,
		cred.TenantID, cred.Provider, string(cred.Status),
		cred.AccessToken, refreshToken,
		cred.OfficeID, secret,
		expiry, cred.LastError,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// ApplyGrant atomically replaces the token set in a single UPDATE so a mix of
// old and new token fields can never be observed.
func (s *SQLStore) ApplyGrant(ctx context.Context, tenantID, provider string, update GrantUpdate) error {
	refreshToken, err := s.encrypt(update.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	query := s.rebind(`
		UPDATE integration_credentials
		SET status = ?, access_token = ?, refresh_token = ?, access_token_expiry = ?, last_error = '', updated_at = ?
		WHERE tenant_id = ? AND provider = ?`)

	result, err := s.db.ExecContext(ctx, query,
		string(StatusActive), update.AccessToken, refreshToken, update.Expiry.UTC(), time.Now().UTC(),
		tenantID, provider,
	)
	if err != nil {
		return fmt.Errorf("failed to apply grant: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return NotFound(tenantID, provider)
	}
	return nil
}

// MarkError records a failure; token columns are deliberately not part of the
// UPDATE so existing tokens survive transient failures.
func (s *SQLStore) MarkError(ctx context.Context, tenantID, provider, lastError string) error {
	query := s.rebind(`
		UPDATE integration_credentials
		SET status = ?, last_error = ?, updated_at = ?
		WHERE tenant_id = ? AND provider = ?`)

	result, err := s.db.ExecContext(ctx, query,
		string(StatusError), lastError, time.Now().UTC(),
		tenantID, provider,
	)
	if err != nil {
		return fmt.Errorf("failed to mark error: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return NotFound(tenantID, provider)
	}
	return nil
}

// ListDue selects the refresh-eligible set: ACTIVE, NEEDS_SETUP, or ERROR
// tenants that are forced, errored, have an unknown expiry, expire within the
// window, or hold no refresh token. ERROR is not terminal: an errored tenant
// is retried on every run so a recovered provider heals it without operator
// action. Running the same selection twice without a refresh in between yields
// the same set.
func (s *SQLStore) ListDue(ctx context.Context, now time.Time, window time.Duration, forceAll bool) ([]*Credential, error) {
	query := s.rebind(`
		SELECT ` + credentialColumns + `
		FROM integration_credentials
		WHERE status IN (?, ?, ?)
		  AND (? OR status = ? OR access_token_expiry IS NULL OR access_token_expiry < ? OR refresh_token = '')
		ORDER BY tenant_id`)

	rows, err := s.db.QueryContext(ctx, query,
		string(StatusActive), string(StatusNeedsSetup), string(StatusError),
		forceAll, string(StatusError), now.Add(window).UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due credentials: %w", err)
	}
	defer rows.Close()

	var due []*Credential
	for rows.Next() {
		cred, err := s.scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		due = append(due, cred)
	}
	return due, rows.Err()
}

// List returns every credential record ordered by tenant id.
func (s *SQLStore) List(ctx context.Context) ([]*Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM integration_credentials ORDER BY tenant_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var all []*Credential
	for rows.Next() {
		cred, err := s.scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		all = append(all, cred)
	}
	return all, rows.Err()
}

// Delete removes a credential record.
func (s *SQLStore) Delete(ctx context.Context, tenantID, provider string) error {
	query := s.rebind(`DELETE FROM integration_credentials WHERE tenant_id = ? AND provider = ?`)

	result, err := s.db.ExecContext(ctx, query, tenantID, provider)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return NotFound(tenantID, provider)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
