package shared

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/blake2b"
)

var (
	// ErrIdempotencyConflict means the key was already claimed by the same
	// request body, i.e. a client retry.
	ErrIdempotencyConflict = Wrap(ErrConcurrencyConflict, "idempotent request already processed")
	// ErrIdempotencyMismatch means the key was reused for a different body.
	ErrIdempotencyMismatch = Wrap(ErrValidation, "idempotency key reused with a different request")
)

// Fingerprint hashes a request body for key reuse detection.
func Fingerprint(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// IdempotencyStore claims request keys in idempotency_keys. Keys are unique
// per module.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// CheckAndInsert claims key for module. A second claim returns
// ErrIdempotencyConflict when the fingerprint matches and
// ErrIdempotencyMismatch otherwise.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module, fingerprint string) error {
	if s == nil || s.pool == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" || module == "" {
		return errors.New("idempotency key and module required")
	}
	// The CTE returns the stored fingerprint only when the insert lost.
	const claim = `
WITH ins AS (
    INSERT INTO idempotency_keys (key, module, fingerprint)
    VALUES ($1, $2, $3)
    ON CONFLICT (key, module) DO NOTHING
    RETURNING 1
)
SELECT fingerprint FROM idempotency_keys
WHERE key = $1 AND module = $2 AND NOT EXISTS (SELECT 1 FROM ins)`
	var stored string
	err := s.pool.QueryRow(ctx, claim, key, module, fingerprint).Scan(&stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	case err != nil:
		return err
	case stored != fingerprint:
		return ErrIdempotencyMismatch
	default:
		return ErrIdempotencyConflict
	}
}

// Cleanup deletes keys claimed more than olderThan ago and reports how
// many were removed.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete releases a claim so a failed request can be retried.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	if s == nil || s.pool == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1 AND module = $2`, key, module)
	return err
}
