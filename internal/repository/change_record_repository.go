package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/evr-admin-api/internal/models"
)

const changeRecordColumns = `id, changeset_id, citizen_id, kind, from_center_id, to_center_id, changed, created_at`

// ChangeRecordRepository persists the append-only change ledger. Records
// are only ever inserted during execution runs, never updated or deleted.
type ChangeRecordRepository struct {
	ext sqlx.ExtContext
}

// NewChangeRecordRepository constructs the repository.
func NewChangeRecordRepository(db *sqlx.DB) *ChangeRecordRepository {
	return &ChangeRecordRepository{ext: db}
}


// Append inserts one ledger entry. The (changeset_id, citizen_id) unique
// key rejects a second record for the same citizen in the same changeset.
func (r *ChangeRecordRepository) Append(ctx context.Context, rec *models.ChangeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO change_records
	(id, changeset_id, citizen_id, kind, from_center_id, to_center_id, changed, created_at)
	VALUES (:id, :changeset_id, :citizen_id, :kind, :from_center_id, :to_center_id, :changed, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext, query, rec); err != nil {
		return fmt.Errorf("append change record: %w", err)
	}
	return nil
}

// ListByChangeset returns every ledger entry for a changeset in the stable
// reporting order.
func (r *ChangeRecordRepository) ListByChangeset(ctx context.Context, changesetID string) ([]models.ChangeRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM change_records WHERE changeset_id = $1
	ORDER BY kind, citizen_id`, changeRecordColumns)
	var records []models.ChangeRecord
	if err := sqlx.SelectContext(ctx, r.ext, &records, query, changesetID); err != nil {
		return nil, fmt.Errorf("list change records: %w", err)
	}
	return records, nil
}

// ListChanged returns the entries where a change was actually applied.
// The rollback engine replays exactly this set.
func (r *ChangeRecordRepository) ListChanged(ctx context.Context, changesetID string) ([]models.ChangeRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM change_records WHERE changeset_id = $1 AND changed = true
	ORDER BY kind, citizen_id`, changeRecordColumns)
	var records []models.ChangeRecord
	if err := sqlx.SelectContext(ctx, r.ext, &records, query, changesetID); err != nil {
		return nil, fmt.Errorf("list changed records: %w", err)
	}
	return records, nil
}

// Summary returns changed/unchanged counts. Any unchanged entry decides
// SUCCESSFUL versus PARTIALLY_SUCCESSFUL at the end of an execution, and
// the counts feed reporting and metrics.
func (r *ChangeRecordRepository) Summary(ctx context.Context, changesetID string) (models.ChangeRecordSummary, error) {
	const query = `SELECT
	COUNT(*) FILTER (WHERE changed) AS changed_count,
	COUNT(*) FILTER (WHERE NOT changed) AS unchanged_count
	FROM change_records WHERE changeset_id = $1`
	var summary models.ChangeRecordSummary
	if err := sqlx.GetContext(ctx, r.ext, &summary, query, changesetID); err != nil {
		return models.ChangeRecordSummary{}, fmt.Errorf("summarize change records: %w", err)
	}
	return summary, nil
}
