package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps one token per profile in checkin_client.tokens.
// Used by shared kiosk machines where the token must outlive the host.
type PostgresStore struct {
	pool    *pgxpool.Pool
	profile string
}

// NewPostgresStore creates a Postgres-backed token store for profile.
func NewPostgresStore(pool *pgxpool.Pool, profile string) *PostgresStore {
	if profile == "" {
		profile = "default"
	}
	return &PostgresStore{pool: pool, profile: profile}
}

// EnsureSchema creates the schema and table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS checkin_client`); err != nil {
		return fmt.Errorf("ensure token schema: %w", err)
	}
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS checkin_client.tokens (
			profile       text PRIMARY KEY,
			access_token  text NOT NULL,
			refresh_token text,
			expires_at    timestamptz,
			remember_me   boolean NOT NULL DEFAULT false,
			saved_at      timestamptz NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure token schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (Record, error) {
	var (
		rec     Record
		refresh *string
		expires *time.Time
	)

	err := s.pool.QueryRow(ctx, `
		SELECT access_token, refresh_token, expires_at, remember_me, saved_at
		FROM checkin_client.tokens
		WHERE profile = $1
	`, s.profile).Scan(&rec.AccessToken, &refresh, &expires, &rec.RememberMe, &rec.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNoToken
	}
	if err != nil {
		return Record{}, err
	}

	if refresh != nil {
		rec.RefreshToken = *refresh
	}
	if expires != nil {
		rec.ExpiresAt = expires.UTC()
	}
	rec.SavedAt = rec.SavedAt.UTC()
	return rec, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkin_client.tokens (
			profile, access_token, refresh_token, expires_at, remember_me, saved_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (profile) DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at    = EXCLUDED.expires_at,
			remember_me   = EXCLUDED.remember_me,
			saved_at      = EXCLUDED.saved_at
	`, s.profile, rec.AccessToken, nullIfEmpty(rec.RefreshToken), nullIfZero(rec.ExpiresAt), rec.RememberMe, rec.SavedAt)
	return err
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM checkin_client.tokens WHERE profile = $1`, s.profile)
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
