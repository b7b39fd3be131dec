package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RecordRepoPG struct {
	pool *pgxpool.Pool
}

func NewRecordRepoPG(pool *pgxpool.Pool) *RecordRepoPG {
	return &RecordRepoPG{pool: pool}
}

// EnsureSchema creates the mirror table if it does not exist. The table is an
// index over the file chain, safe to drop and rebuild from the streams.
func (r *RecordRepoPG) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS audit_record (
			id UUID PRIMARY KEY,
			channel VARCHAR(128) NOT NULL,
			recorded TIMESTAMPTZ NOT NULL,
			level VARCHAR(32) NOT NULL,
			operation VARCHAR(128) NOT NULL,
			actor_id VARCHAR(255) NOT NULL DEFAULT '',
			actor_role VARCHAR(128) NOT NULL DEFAULT '',
			subject_type VARCHAR(128) NOT NULL DEFAULT '',
			subject_id VARCHAR(255) NOT NULL DEFAULT '',
			details JSONB,
			success BOOLEAN NOT NULL,
			error_desc TEXT NOT NULL DEFAULT '',
			hash CHAR(64) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_record_channel_recorded
			ON audit_record (channel, recorded DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_record_actor
			ON audit_record (actor_id);
		CREATE INDEX IF NOT EXISTS idx_audit_record_subject
			ON audit_record (subject_type, subject_id)`

	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure audit_record schema: %w", err)
	}
	return nil
}

func (r *RecordRepoPG) Insert(ctx context.Context, rec *MirrorRecord) error {
	var details []byte
	if rec.Details != nil {
		var err error
		details, err = json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
	}

	const query = `
		INSERT INTO audit_record (
			id, channel, recorded, level, operation,
			actor_id, actor_role, subject_type, subject_id,
			details, success, error_desc, hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		rec.ID, rec.Channel, rec.Recorded, rec.Level, rec.Operation,
		rec.ActorID, rec.ActorRole, rec.SubjectType, rec.SubjectID,
		details, rec.Success, rec.ErrorDesc, rec.Hash,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (r *RecordRepoPG) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*MirrorRecord, int, error) {
	where, args := buildFilter(params)

	countQuery := "SELECT COUNT(*) FROM audit_record" + where
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit records: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, channel, recorded, level, operation,
			actor_id, actor_role, subject_type, subject_id,
			details, success, error_desc, hash, created_at
		FROM audit_record%s
		ORDER BY recorded DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search audit records: %w", err)
	}
	defer rows.Close()

	var records []*MirrorRecord
	for rows.Next() {
		rec, err := scanMirror(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, total, nil
}

func buildFilter(params SearchParams) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if params.Channel != "" {
		add("channel = $%d", params.Channel)
	}
	if params.Operation != "" {
		add("operation = $%d", params.Operation)
	}
	if params.Level != "" {
		add("level = $%d", params.Level)
	}
	if params.ActorID != "" {
		add("actor_id = $%d", params.ActorID)
	}
	if params.SubjectType != "" {
		add("subject_type = $%d", params.SubjectType)
	}
	if params.SubjectID != "" {
		add("subject_id = $%d", params.SubjectID)
	}
	if params.Success != nil {
		add("success = $%d", *params.Success)
	}
	if params.Start != nil {
		add("recorded >= $%d", *params.Start)
	}
	if params.End != nil {
		add("recorded <= $%d", *params.End)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanMirror(row pgx.Row) (*MirrorRecord, error) {
	var rec MirrorRecord
	var details []byte
	err := row.Scan(
		&rec.ID, &rec.Channel, &rec.Recorded, &rec.Level, &rec.Operation,
		&rec.ActorID, &rec.ActorRole, &rec.SubjectType, &rec.SubjectID,
		&details, &rec.Success, &rec.ErrorDesc, &rec.Hash, &rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan audit record: %w", err)
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &rec.Details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
	}
	return &rec, nil
}
