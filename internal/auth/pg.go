package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snarfed/oauth-dropins/internal/security/secretbox"
	migrations "github.com/snarfed/oauth-dropins/migrations/postgres"
)

const encPrefix = "enc:"

// pgStore implements Store on Postgres. Token material is encrypted at
// rest when the secretbox master key is configured.
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to Postgres and ensures the schema.
func NewPGStore(ctx context.Context, dsn string) (Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("auth: connect postgres: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgStore{pool: pool}, nil
}

// migrate applies the embedded migrations in lexical order. Every
// statement is idempotent, so re-running on startup is safe.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := migrations.PostgresFS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("auth: read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrations.PostgresFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("auth: read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("auth: apply migration %s: %w", name, err)
		}
	}
	return nil
}

// NewPGStoreFromPool wraps an existing pool. The caller owns the schema.
func NewPGStoreFromPool(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func encodeToken(tok json.RawMessage) (string, error) {
	if !secretbox.Ready() {
		return string(tok), nil
	}
	enc, err := secretbox.Encrypt(string(tok))
	if err != nil {
		return "", fmt.Errorf("auth: encrypt token: %w", err)
	}
	return encPrefix + enc, nil
}

func decodeToken(stored string) (string, error) {
	if !strings.HasPrefix(stored, encPrefix) {
		return stored, nil
	}
	pt, err := secretbox.Decrypt(strings.TrimPrefix(stored, encPrefix))
	if err != nil {
		return "", fmt.Errorf("auth: decrypt token: %w", err)
	}
	return pt, nil
}

func (s *pgStore) Put(ctx context.Context, rec *Record) error {
	tokJSON, err := json.Marshal(rec.Token)
	if err != nil {
		return err
	}
	stored, err := encodeToken(tokJSON)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO credentials (id, provider, user_id, token, profile, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			token = EXCLUDED.token,
			profile = EXCLUDED.profile,
			display_name = EXCLUDED.display_name,
			updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.Provider, rec.UserID, stored, rec.Profile, rec.DisplayNameValue,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("auth: put credential: %w", err)
	}
	return nil
}

func (s *pgStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, provider, user_id, token, profile, display_name, created_at, updated_at
		FROM credentials WHERE id = $1`, id)
	return scanRecord(row)
}

func (s *pgStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("auth: delete credential: %w", err)
	}
	return nil
}

func (s *pgStore) ListByProvider(ctx context.Context, provider string) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, provider, user_id, token, profile, display_name, created_at, updated_at
		FROM credentials WHERE provider = $1 ORDER BY updated_at DESC`, provider)
	if err != nil {
		return nil, fmt.Errorf("auth: list credentials: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*Record, error) {
	var rec Record
	var stored string
	err := row.Scan(&rec.ID, &rec.Provider, &rec.UserID, &stored, &rec.Profile,
		&rec.DisplayNameValue, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: scan credential: %w", err)
	}

	tokJSON, err := decodeToken(stored)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tokJSON), &rec.Token); err != nil {
		return nil, fmt.Errorf("auth: corrupt stored token: %w", err)
	}
	return &rec, nil
}

func (s *pgStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *pgStore) Close() { s.pool.Close() }
