package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsSentinel(t *testing.T) {
	err := Wrap(ErrInsufficientBalance, "payment %s exceeds %s", "150.00", "100.00")
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, "insufficient balance: payment 150.00 exceeds 100.00", err.Error())
	require.ErrorIs(t, ErrIdempotencyConflict, ErrConcurrencyConflict)
	require.ErrorIs(t, ErrIdempotencyMismatch, ErrValidation)
}

func TestUserSafeMessage(t *testing.T) {
	require.Empty(t, UserSafeMessage(nil))
	require.Equal(t, "not found: invoice 9", UserSafeMessage(Wrap(ErrNotFound, "invoice %d", 9)))
	require.Equal(t, "internal error", UserSafeMessage(errors.New("pq: password authentication failed")))
}

func TestConfirmationErrorCarriesBarePrompt(t *testing.T) {
	err := fmt.Errorf("transition: %w", NeedsConfirmation("Send invoice INV-2024-0001 to client Acme LLP?"))
	require.ErrorIs(t, err, ErrConfirmationRequired)
	require.NotErrorIs(t, err, ErrValidation)
	require.Equal(t, "Send invoice INV-2024-0001 to client Acme LLP?", UserSafeMessage(err))
	require.Contains(t, err.Error(), "confirmation required: Send invoice")
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte(`{"amount":"100.00"}`))
	require.Len(t, a, 64)
	require.Equal(t, a, Fingerprint([]byte(`{"amount":"100.00"}`)))
	require.NotEqual(t, a, Fingerprint([]byte(`{"amount":"100.01"}`)))
}

func TestLockKeys(t *testing.T) {
	require.Equal(t, "billing:matter:7:lock", MatterLockKey(7))
	require.Equal(t, "billing:invoice:42:lock", InvoiceLockKey(42))
}

func TestNewPagination(t *testing.T) {
	require.Equal(t, Pagination{Page: 2, PerPage: 10, Total: 21, TotalPages: 3}, NewPagination(2, 10, 21))
	require.Equal(t, Pagination{Page: 1, PerPage: 20, Total: 0, TotalPages: 0}, NewPagination(0, 0, -3))
	require.True(t, NewPagination(2, 10, 21).HasNext())
	require.False(t, NewPagination(3, 10, 21).HasNext())
}

type recordingExec struct {
	sql  string
	args []any
}

func (e *recordingExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql, e.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestNewAuditLogDerivesEntity(t *testing.T) {
	at := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	entry := NewAuditLog("invoice.payment", 42, map[string]any{"amount": "10.00"}, at)
	require.Equal(t, "invoice", entry.Entity)
	require.Equal(t, "42", entry.EntityID)
	require.Equal(t, at, entry.At)
}

func TestAuditLoggerRecordsActorFromContext(t *testing.T) {
	exec := &recordingExec{}
	ctx := ContextWithActor(context.Background(), Actor{UserID: 3, Role: "billing_clerk"})
	meta := map[string]any{"status": "SENT"}

	err := NewAuditLogger(exec).Record(ctx, NewAuditLog("invoice.status", 9, meta, time.Time{}))
	require.NoError(t, err)
	require.Contains(t, exec.sql, "INSERT INTO audit_logs")
	require.Equal(t, int64(3), exec.args[0])
	require.JSONEq(t, `{"status":"SENT","actor_role":"billing_clerk"}`, string(exec.args[4].([]byte)))
	require.Nil(t, exec.args[5])
	require.NotContains(t, meta, "actor_role")
}

func TestAuditLoggerRejectsIncompleteEntry(t *testing.T) {
	err := NewAuditLogger(&recordingExec{}).Record(context.Background(), AuditLog{Action: "invoice.create"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestActorContext(t *testing.T) {
	require.Zero(t, ActorID(context.Background()))
	ctx := ContextWithActor(context.Background(), Actor{UserID: 5, Role: "partner"})
	actor, ok := ActorFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "partner", actor.Role)
	require.Equal(t, int64(5), ActorID(ctx))
}

func TestNilStoresAreSafe(t *testing.T) {
	var store *IdempotencyStore
	require.Error(t, store.CheckAndInsert(context.Background(), "k", "m", "f"))
	removed, err := store.Cleanup(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, removed)
	require.NoError(t, store.Delete(context.Background(), "k", "m"))

	var logger *AuditLogger
	require.Error(t, logger.Record(context.Background(), AuditLog{Action: "a", Entity: "e", EntityID: "1"}))
}
