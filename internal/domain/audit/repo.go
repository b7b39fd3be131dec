package audit

import "context"

// RecordRepository is the search mirror behind the audit service. Insert is
// called best-effort after every durable append; Search backs the query API.
type RecordRepository interface {
	Insert(ctx context.Context, rec *MirrorRecord) error
	Search(ctx context.Context, params SearchParams, limit, offset int) ([]*MirrorRecord, int, error)
}
