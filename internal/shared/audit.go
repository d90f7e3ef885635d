package shared

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx, so an
// entry can be written inside the transaction that caused it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLog is one row of audit_logs. Entity is the noun before the first
// dot of Action, e.g. "invoice" for "invoice.payment".
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// NewAuditLog builds an entry for a numeric entity id, deriving Entity from
// the action name.
func NewAuditLog(action string, entityID int64, meta map[string]any, at time.Time) AuditLog {
	entity, _, _ := strings.Cut(action, ".")
	return AuditLog{
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       at,
	}
}

// AuditLogger appends entries to audit_logs.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger writes through db.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record stores the entry. The actor comes from ctx when ActorID is zero
// and the actor's role is added to Meta. A zero At uses the database clock.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return Wrap(ErrValidation, "audit log requires action, entity and entity id")
	}
	if actor, ok := ActorFromContext(ctx); ok {
		if entry.ActorID == 0 {
			entry.ActorID = actor.UserID
		}
		if actor.Role != "" {
			meta := make(map[string]any, len(entry.Meta)+1)
			for k, v := range entry.Meta {
				meta[k] = v
			}
			meta["actor_role"] = actor.Role
			entry.Meta = meta
		}
	}
	var meta []byte
	if entry.Meta != nil {
		var err error
		if meta, err = json.Marshal(entry.Meta); err != nil {
			return err
		}
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	_, err := l.db.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		entry.ActorID, entry.Action, entry.Entity, entry.EntityID, meta, at)
	return err
}
