// Package apikey verifies API keys against PostgreSQL. Raw keys are
// generated with crypto/rand and only their SHA-256 digest is stored; a key
// is verified by hashing what the caller presents.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/auth"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
)

var (
	ErrInvalidKey = fmt.Errorf("%w: invalid api key", apperrors.ErrUnauthorized)
	ErrExpiredKey = fmt.Errorf("%w: api key expired", apperrors.ErrUnauthorized)
)

// Schema creates the api_keys table.
const Schema = `CREATE TABLE IF NOT EXISTS api_keys (
	id         BIGSERIAL PRIMARY KEY,
	key_hash   TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	rate_limit INTEGER NOT NULL DEFAULT 0,
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at TIMESTAMPTZ
)`

// KeyInfo holds metadata about an API key.
type KeyInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	RateLimit int        `json:"rate_limit"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		now:    time.Now,
		logger: slog.Default().With("component", "apikey-store"),
	}
}

// Verify implements auth.Verifier. The identity subject is the key's name.
func (s *Store) Verify(ctx context.Context, rawKey string) (auth.Identity, error) {
	info, err := s.Validate(ctx, rawKey)
	if err != nil {
		return auth.Identity{}, err
	}
	return auth.Identity{Subject: info.Name, Method: "apikey", RateLimit: info.RateLimit}, nil
}

// Validate looks up an active key by the hash of rawKey.
func (s *Store) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	var info KeyInfo
	var expiresAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, rate_limit, is_active, created_at, expires_at
		 FROM api_keys
		 WHERE key_hash = $1 AND is_active = true`,
		HashKey(rawKey),
	).Scan(&info.ID, &info.Name, &info.RateLimit, &info.IsActive, &info.CreatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}

	if expiresAt.Valid {
		if expiresAt.Time.Before(s.now()) {
			return nil, ErrExpiredKey
		}
		info.ExpiresAt = &expiresAt.Time
	}
	return &info, nil
}

// CreateKey stores a new key and returns the raw value. It cannot be
// retrieved again.
func (s *Store) CreateKey(ctx context.Context, name string, rateLimit int, expiresAt *time.Time) (string, error) {
	rawKey, err := generateRawKey()
	if err != nil {
		return "", err
	}

	var expiry sql.NullTime
	if expiresAt != nil {
		expiry = sql.NullTime{Time: *expiresAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, name, rate_limit, expires_at) VALUES ($1, $2, $3, $4)`,
		HashKey(rawKey), name, rateLimit, expiry,
	)
	if err != nil {
		return "", fmt.Errorf("creating api key: %w", err)
	}

	s.logger.Info("api key created", "name", name, "rate_limit", rateLimit)
	return rawKey, nil
}

func (s *Store) RevokeKey(ctx context.Context, rawKey string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = false WHERE key_hash = $1`,
		HashKey(rawKey),
	)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrInvalidKey
	}

	s.logger.Info("api key revoked")
	return nil
}

// ListKeys returns active keys, newest first.
func (s *Store) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, rate_limit, is_active, created_at, expires_at FROM api_keys WHERE is_active = true ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []KeyInfo
	for rows.Next() {
		var k KeyInfo
		var expiresAt sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &k.RateLimit, &k.IsActive, &k.CreatedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		if expiresAt.Valid {
			k.ExpiresAt = &expiresAt.Time
		}
		keys = append(keys, k)
	}

	return keys, rows.Err()
}

// HashKey returns the SHA-256 hex digest of a raw API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateRawKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

var _ auth.Verifier = (*Store)(nil)
