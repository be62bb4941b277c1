package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/evr-admin-api/internal/models"
)

const changesetColumns = `id, name, kind, selection_mode, status, other_changeset_id, target_center_id,
       message, justification, execution_start_time, finish_time, created_by, queued_by,
       rollback_changeset_id, error_text, deleted, created_at, updated_at`

// ChangesetRepository persists changesets, their selections and approvals.
type ChangesetRepository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

// NewChangesetRepository constructs the repository.
func NewChangesetRepository(db *sqlx.DB) *ChangesetRepository {
	return &ChangesetRepository{db: db, ext: db}
}


// Create inserts a new changeset with its selected centers and citizens.
func (r *ChangesetRepository) Create(ctx context.Context, cs *models.Changeset) error {
	if cs.ID == "" {
		cs.ID = uuid.NewString()
	}
	if cs.Status == "" {
		cs.Status = models.ChangesetStatusNew
	}
	now := time.Now().UTC()
	cs.CreatedAt = now
	cs.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin changeset create: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO changesets
	(id, name, kind, selection_mode, status, other_changeset_id, target_center_id,
	 message, justification, created_by, error_text, deleted, created_at, updated_at)
	VALUES (:id, :name, :kind, :selection_mode, :status, :other_changeset_id, :target_center_id,
	 :message, :justification, :created_by, :error_text, :deleted, :created_at, :updated_at)`
	if _, err = sqlx.NamedExecContext(ctx, tx, query, cs); err != nil {
		return fmt.Errorf("create changeset: %w", err)
	}
	if err = replaceSelections(ctx, tx, cs.ID, cs.SelectedCenterIDs, cs.SelectedCitizenIDs); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit changeset create: %w", err)
	}
	return nil
}

// GetByID fetches a changeset with its selections and approval count.
func (r *ChangesetRepository) GetByID(ctx context.Context, id string) (*models.Changeset, error) {
	query := fmt.Sprintf(`SELECT %s FROM changesets WHERE id = $1 AND deleted = false`, changesetColumns)
	var cs models.Changeset
	if err := sqlx.GetContext(ctx, r.ext, &cs, query, id); err != nil {
		return nil, err
	}
	if err := r.loadRelations(ctx, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

func (r *ChangesetRepository) loadRelations(ctx context.Context, cs *models.Changeset) error {
	const centersQuery = `SELECT center_id FROM changeset_centers WHERE changeset_id = $1 ORDER BY center_id`
	if err := sqlx.SelectContext(ctx, r.ext, &cs.SelectedCenterIDs, centersQuery, cs.ID); err != nil {
		return fmt.Errorf("load changeset centers: %w", err)
	}
	const citizensQuery = `SELECT citizen_id FROM changeset_citizens WHERE changeset_id = $1 ORDER BY citizen_id`
	if err := sqlx.SelectContext(ctx, r.ext, &cs.SelectedCitizenIDs, citizensQuery, cs.ID); err != nil {
		return fmt.Errorf("load changeset citizens: %w", err)
	}
	count, err := r.CountApprovers(ctx, cs.ID)
	if err != nil {
		return err
	}
	cs.ApprovalCount = count
	return nil
}

// List returns changesets matching the filter, most recent first.
func (r *ChangesetRepository) List(ctx context.Context, filter models.ChangesetFilter) ([]models.Changeset, int, error) {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf(`SELECT %s FROM changesets`, changesetColumns))
	args := make([]interface{}, 0, 4)

	conditions := []string{"deleted = false"}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")
	builder.WriteString(where)
	builder.WriteString(" ORDER BY created_at DESC")

	countQuery := "SELECT COUNT(*) FROM changesets" + where
	var total int
	if err := sqlx.GetContext(ctx, r.ext, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count changesets: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var changesets []models.Changeset
	if err := sqlx.SelectContext(ctx, r.ext, &changesets, builder.String(), args...); err != nil {
		return nil, 0, fmt.Errorf("list changesets: %w", err)
	}
	return changesets, total, nil
}

// Update rewrites editable fields and selections. The status guard ensures
// queued-or-later changesets are immutable; zero rows means the changeset
// was already frozen and sql.ErrNoRows is returned.
func (r *ChangesetRepository) Update(ctx context.Context, cs *models.Changeset) error {
	cs.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin changeset update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`UPDATE changesets SET
	name = :name, kind = :kind, selection_mode = :selection_mode,
	other_changeset_id = :other_changeset_id, target_center_id = :target_center_id,
	message = :message, justification = :justification, updated_at = :updated_at
	WHERE id = :id AND deleted = false AND status IN ('%s', '%s')`,
		models.ChangesetStatusNew, models.ChangesetStatusApproved)
	result, err := sqlx.NamedExecContext(ctx, tx, query, cs)
	if err != nil {
		return fmt.Errorf("update changeset: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check changeset update rows: %w", err)
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return err
	}
	if err = deleteSelections(ctx, tx, cs.ID); err != nil {
		return err
	}
	if err = replaceSelections(ctx, tx, cs.ID, cs.SelectedCenterIDs, cs.SelectedCitizenIDs); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit changeset update: %w", err)
	}
	return nil
}

// SoftDelete hides a changeset that has not yet been queued.
func (r *ChangesetRepository) SoftDelete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE changesets SET deleted = true, updated_at = $2
	WHERE id = $1 AND deleted = false AND status IN ('%s', '%s')`,
		models.ChangesetStatusNew, models.ChangesetStatusApproved)
	result, err := r.ext.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("soft delete changeset: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check changeset delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateStatusIf performs an atomic compare-and-set on the status column.
// It returns sql.ErrNoRows when the current status did not match any of the
// expected ones, so callers never proceed from a stale status read.
func (r *ChangesetRepository) UpdateStatusIf(ctx context.Context, id string, to models.ChangesetStatus, from ...models.ChangesetStatus) error {
	placeholders := make([]string, len(from))
	args := []interface{}{id, to, time.Now().UTC()}
	for i, status := range from {
		args = append(args, status)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	query := fmt.Sprintf(`UPDATE changesets SET status = $2, updated_at = $3
	WHERE id = $1 AND deleted = false AND status IN (%s)`, strings.Join(placeholders, ","))
	result, err := r.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update changeset status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check changeset status rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetQueued transitions APPROVED to QUEUED recording who queued it.
func (r *ChangesetRepository) SetQueued(ctx context.Context, id, userID string) error {
	query := fmt.Sprintf(`UPDATE changesets SET status = '%s', queued_by = $2, updated_at = $3
	WHERE id = $1 AND deleted = false AND status = '%s'`,
		models.ChangesetStatusQueued, models.ChangesetStatusApproved)
	return r.execStatusChange(ctx, query, id, userID, time.Now().UTC())
}

// RevertQueued undoes SetQueued after a dispatcher submission failure.
func (r *ChangesetRepository) RevertQueued(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE changesets SET status = '%s', queued_by = NULL, updated_at = $2
	WHERE id = $1 AND status = '%s'`,
		models.ChangesetStatusApproved, models.ChangesetStatusQueued)
	return r.execStatusChange(ctx, query, id, time.Now().UTC())
}

// MarkExecuting claims the changeset for execution. The conditional update
// is the only way into EXECUTING; a second worker loses the race and gets
// sql.ErrNoRows instead of silently proceeding.
func (r *ChangesetRepository) MarkExecuting(ctx context.Context, id string, start time.Time) error {
	query := fmt.Sprintf(`UPDATE changesets SET status = '%s', execution_start_time = $2, updated_at = $2
	WHERE id = $1 AND deleted = false AND status IN ('%s', '%s')`,
		models.ChangesetStatusExecuting, models.ChangesetStatusApproved, models.ChangesetStatusQueued)
	return r.execStatusChange(ctx, query, id, start)
}

// FinishExecutionParams captures the terminal outcome of one execution.
type FinishExecutionParams struct {
	ID         string
	Status     models.ChangesetStatus
	FinishTime time.Time
	ErrorText  string
}

// FinishExecution stamps the terminal status, finish time and error text.
func (r *ChangesetRepository) FinishExecution(ctx context.Context, params FinishExecutionParams) error {
	const query = `UPDATE changesets SET status = $2, finish_time = $3, error_text = $4, updated_at = $3
	WHERE id = $1`
	if _, err := r.ext.ExecContext(ctx, query, params.ID, params.Status, params.FinishTime, params.ErrorText); err != nil {
		return fmt.Errorf("finish changeset execution: %w", err)
	}
	return nil
}

// SetRolledBack marks the original changeset ROLLED_BACK and records which
// changeset did it.
func (r *ChangesetRepository) SetRolledBack(ctx context.Context, originalID, rollbackID string) error {
	query := fmt.Sprintf(`UPDATE changesets SET status = '%s', rollback_changeset_id = $2, updated_at = $3
	WHERE id = $1`, models.ChangesetStatusRolledBack)
	if _, err := r.ext.ExecContext(ctx, query, originalID, rollbackID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark changeset rolled back: %w", err)
	}
	return nil
}

// AddApprover records a user's approval. Approving twice is a no-op.
func (r *ChangesetRepository) AddApprover(ctx context.Context, changesetID, userID string) error {
	const query = `INSERT INTO changeset_approvals (changeset_id, user_id, created_at)
	VALUES ($1, $2, $3) ON CONFLICT (changeset_id, user_id) DO NOTHING`
	if _, err := r.ext.ExecContext(ctx, query, changesetID, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("add changeset approver: %w", err)
	}
	return nil
}

// RemoveApprover withdraws a user's approval.
func (r *ChangesetRepository) RemoveApprover(ctx context.Context, changesetID, userID string) error {
	const query = `DELETE FROM changeset_approvals WHERE changeset_id = $1 AND user_id = $2`
	if _, err := r.ext.ExecContext(ctx, query, changesetID, userID); err != nil {
		return fmt.Errorf("remove changeset approver: %w", err)
	}
	return nil
}

// CountApprovers returns the number of distinct current approvers.
func (r *ChangesetRepository) CountApprovers(ctx context.Context, changesetID string) (int, error) {
	const query = `SELECT COUNT(*) FROM changeset_approvals WHERE changeset_id = $1`
	var count int
	if err := sqlx.GetContext(ctx, r.ext, &count, query, changesetID); err != nil {
		return 0, fmt.Errorf("count changeset approvers: %w", err)
	}
	return count, nil
}

// IsApprovedBy reports whether the user currently approves the changeset.
func (r *ChangesetRepository) IsApprovedBy(ctx context.Context, changesetID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM changeset_approvals WHERE changeset_id = $1 AND user_id = $2)`
	var approved bool
	if err := sqlx.GetContext(ctx, r.ext, &approved, query, changesetID, userID); err != nil {
		return false, fmt.Errorf("check changeset approver: %w", err)
	}
	return approved, nil
}

// ListApprovers returns the approval entries for a changeset.
func (r *ChangesetRepository) ListApprovers(ctx context.Context, changesetID string) ([]models.ChangesetApproval, error) {
	const query = `SELECT changeset_id, user_id, created_at FROM changeset_approvals
	WHERE changeset_id = $1 ORDER BY created_at`
	var approvals []models.ChangesetApproval
	if err := sqlx.SelectContext(ctx, r.ext, &approvals, query, changesetID); err != nil {
		return nil, fmt.Errorf("list changeset approvers: %w", err)
	}
	return approvals, nil
}

func (r *ChangesetRepository) execStatusChange(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("change changeset status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check changeset status rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func deleteSelections(ctx context.Context, tx *sqlx.Tx, changesetID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM changeset_centers WHERE changeset_id = $1`, changesetID); err != nil {
		return fmt.Errorf("clear changeset centers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM changeset_citizens WHERE changeset_id = $1`, changesetID); err != nil {
		return fmt.Errorf("clear changeset citizens: %w", err)
	}
	return nil
}

func replaceSelections(ctx context.Context, tx *sqlx.Tx, changesetID string, centerIDs, citizenIDs []string) error {
	for _, centerID := range centerIDs {
		const query = `INSERT INTO changeset_centers (changeset_id, center_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
		if _, err := tx.ExecContext(ctx, query, changesetID, centerID); err != nil {
			return fmt.Errorf("insert changeset center: %w", err)
		}
	}
	for _, citizenID := range citizenIDs {
		const query = `INSERT INTO changeset_citizens (changeset_id, citizen_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
		if _, err := tx.ExecContext(ctx, query, changesetID, citizenID); err != nil {
			return fmt.Errorf("insert changeset citizen: %w", err)
		}
	}
	return nil
}
