package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

const credentialColumns = `id, email, active, is_premium, daily_request_count, last_used_at, cooldown_until, leased_until, cookies, created_at`

// Claim leases the first eligible credential in one statement. SKIP LOCKED keeps
// concurrent claimers from blocking on, or receiving, the same row.
func (s *Store) Claim(ctx context.Context, now time.Time, dailyLimit int, leaseUntil time.Time) (discovery.Credential, error) {
	query := fmt.Sprintf(`
UPDATE %[1]s SET leased_until = $3
WHERE id = (
	SELECT id FROM %[1]s
	WHERE active
		AND daily_request_count < $2
		AND (cooldown_until IS NULL OR cooldown_until <= $1)
		AND (leased_until IS NULL OR leased_until <= $1)
	ORDER BY is_premium DESC, last_used_at ASC NULLS FIRST, id ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING %[2]s`, s.tables.Credentials, credentialColumns)

	cred, err := scanCredential(s.pool.QueryRow(ctx, query, now, dailyLimit, leaseUntil))
	if errors.Is(err, pgx.ErrNoRows) {
		return discovery.Credential{}, discovery.ErrCredentialExhausted
	}
	if err != nil {
		return discovery.Credential{}, fmt.Errorf("claim credential: %w", err)
	}
	return cred, nil
}

// RecordSuccess increments the daily count and clears the lease.
func (s *Store) RecordSuccess(ctx context.Context, id string, usedAt time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s
SET daily_request_count = daily_request_count + 1, last_used_at = $2, leased_until = NULL
WHERE id = $1`, s.tables.Credentials)
	return s.execCredential(ctx, "record success", query, id, usedAt)
}

// RecordFailure starts a cooldown and clears the lease.
func (s *Store) RecordFailure(ctx context.Context, id string, cooldownUntil time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET cooldown_until = $2, leased_until = NULL WHERE id = $1`, s.tables.Credentials)
	return s.execCredential(ctx, "record failure", query, id, cooldownUntil)
}

// Release clears the lease.
func (s *Store) Release(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET leased_until = NULL WHERE id = $1`, s.tables.Credentials)
	return s.execCredential(ctx, "release", query, id)
}

// Deactivate takes a credential out of rotation.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET active = FALSE WHERE id = $1`, s.tables.Credentials)
	return s.execCredential(ctx, "deactivate", query, id)
}

// ResetDailyCounts zeroes every counter.
func (s *Store) ResetDailyCounts(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET daily_request_count = 0`, s.tables.Credentials)
	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("reset daily counts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Add inserts a new credential.
func (s *Store) Add(ctx context.Context, c discovery.Credential) error {
	cookies, err := json.Marshal(c.Cookies)
	if err != nil {
		return fmt.Errorf("marshal cookies: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.tables.Credentials, credentialColumns)
	if _, err := s.pool.Exec(ctx, query,
		c.ID,
		c.Email,
		c.Active,
		c.IsPremium,
		c.DailyRequestCount,
		c.LastUsedAt,
		c.CooldownUntil,
		c.LeasedUntil,
		cookies,
		c.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// List returns all credentials ordered by id.
func (s *Store) List(ctx context.Context) ([]discovery.Credential, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, credentialColumns, s.tables.Credentials)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	out := make([]discovery.Credential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return out, nil
}

func (s *Store) execCredential(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s credential: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return discovery.ErrCredentialNotFound
	}
	return nil
}

func scanCredential(row scanner) (discovery.Credential, error) {
	var (
		c       discovery.Credential
		cookies []byte
	)
	if err := row.Scan(
		&c.ID,
		&c.Email,
		&c.Active,
		&c.IsPremium,
		&c.DailyRequestCount,
		&c.LastUsedAt,
		&c.CooldownUntil,
		&c.LeasedUntil,
		&cookies,
		&c.CreatedAt,
	); err != nil {
		return discovery.Credential{}, err
	}
	if len(cookies) > 0 {
		if err := json.Unmarshal(cookies, &c.Cookies); err != nil {
			return discovery.Credential{}, fmt.Errorf("decode cookies for %s: %w", c.ID, err)
		}
	}
	return c, nil
}
