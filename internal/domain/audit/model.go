package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/auditledger/auditledger/internal/ledger"
)

// AppendRequest is the wire payload for appending one event to a channel.
// The hash is never accepted from callers; the ledger computes it.
type AppendRequest struct {
	Level     string          `json:"level"`
	Operation string          `json:"operation"`
	Actor     *ledger.Actor   `json:"actor,omitempty"`
	Subject   *ledger.Subject `json:"subject,omitempty"`
	Details   map[string]any  `json:"details,omitempty"`
	Result    ledger.Result   `json:"result"`
}

// MirrorRecord is the relational copy of a chained record kept for search.
// The JSONL stream remains the source of truth; rows here are a read-optimized
// index and carry the stream hash for cross-referencing.
type MirrorRecord struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	Channel     string         `db:"channel" json:"channel"`
	Recorded    time.Time      `db:"recorded" json:"recorded"`
	Level       string         `db:"level" json:"level"`
	Operation   string         `db:"operation" json:"operation"`
	ActorID     string         `db:"actor_id" json:"actor_id,omitempty"`
	ActorRole   string         `db:"actor_role" json:"actor_role,omitempty"`
	SubjectType string         `db:"subject_type" json:"subject_type,omitempty"`
	SubjectID   string         `db:"subject_id" json:"subject_id,omitempty"`
	Details     map[string]any `db:"details" json:"details,omitempty"`
	Success     bool           `db:"success" json:"success"`
	ErrorDesc   string         `db:"error_desc" json:"error_desc,omitempty"`
	Hash        string         `db:"hash" json:"hash"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// SearchParams filters the mirror. Zero values mean "no filter".
type SearchParams struct {
	Channel     string     `query:"channel"`
	Operation   string     `query:"operation"`
	Level       string     `query:"level"`
	ActorID     string     `query:"actor_id"`
	SubjectType string     `query:"subject_type"`
	SubjectID   string     `query:"subject_id"`
	Success     *bool      `query:"success"`
	Start       *time.Time `query:"start"`
	End         *time.Time `query:"end"`
}

func newMirrorRecord(rec *ledger.Record) *MirrorRecord {
	m := &MirrorRecord{
		ID:        uuid.New(),
		Channel:   rec.Channel,
		Recorded:  rec.Timestamp.Time(),
		Level:     rec.Level,
		Operation: rec.Operation,
		Details:   rec.Details,
		Success:   rec.Result.Success,
		ErrorDesc: rec.Result.Error,
		Hash:      rec.Hash,
	}
	if rec.Actor != nil {
		m.ActorID = rec.Actor.ID
		m.ActorRole = rec.Actor.Role
	}
	if rec.Subject != nil {
		m.SubjectType = rec.Subject.Type
		m.SubjectID = rec.Subject.ID
	}
	return m
}
