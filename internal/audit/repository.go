package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const timelineQuery = `SELECT id, occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR entity_id = $5)
  AND ($6::text IS NULL OR action = $6)
ORDER BY occurred_at DESC, id DESC
OFFSET $7 LIMIT $8`

// PostgresRepository reads audit_logs through pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx backed repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Window implements Repository.
func (r *PostgresRepository) Window(ctx context.Context, params WindowParams) ([]TimelineRow, error) {
	f := params.Filters
	limit := pgtype.Int8{}
	if params.Limit > 0 {
		limit = pgtype.Int8{Int64: int64(params.Limit), Valid: true}
	}
	var actor pgtype.Int8
	if f.ActorID > 0 {
		actor = pgtype.Int8{Int64: f.ActorID, Valid: true}
	}
	// The upper bound is inclusive of the whole To day.
	var to time.Time
	if !f.To.IsZero() {
		to = f.To.AddDate(0, 0, 1)
	}
	rows, err := r.pool.Query(ctx, timelineQuery,
		toPgTime(f.From),
		toPgTime(to),
		actor,
		optionalText(f.Entity),
		optionalText(f.EntityID),
		optionalText(f.Action),
		params.Offset,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit timeline: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var out TimelineRow
		var meta []byte
		if err := row.Scan(&out.ID, &out.At, &out.ActorID, &out.Action, &out.Entity, &out.EntityID, &meta); err != nil {
			return TimelineRow{}, err
		}
		if len(meta) > 0 && string(meta) != "null" {
			out.Meta = meta
		}
		return out, nil
	})
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
