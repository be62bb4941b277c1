package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/evr-admin-api/internal/models"
)

func newChangesetRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func changesetRows(id string, status models.ChangesetStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "name", "kind", "selection_mode", "status", "other_changeset_id", "target_center_id",
		"message", "justification", "execution_start_time", "finish_time", "created_by", "queued_by",
		"rollback_changeset_id", "error_text", "deleted", "created_at", "updated_at",
	}).AddRow(id, "block fraud list", "BLOCK", "BY_UPLOADED_IDS", string(status), nil, nil,
		"", "court order 44/2026", nil, nil, "user-1", nil, nil, "", false, now, now)
}

func TestChangesetRepositoryGetByIDLoadsRelations(t *testing.T) {
	db, mock, cleanup := newChangesetRepoMock(t)
	defer cleanup()

	repo := NewChangesetRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, kind, selection_mode, status")).
		WithArgs("cs-1").
		WillReturnRows(changesetRows("cs-1", models.ChangesetStatusNew))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT center_id FROM changeset_centers")).
		WithArgs("cs-1").
		WillReturnRows(sqlmock.NewRows([]string{"center_id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT citizen_id FROM changeset_citizens")).
		WithArgs("cs-1").
		WillReturnRows(sqlmock.NewRows([]string{"citizen_id"}).AddRow("cit-1").AddRow("cit-2"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM changeset_approvals")).
		WithArgs("cs-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	cs, err := repo.GetByID(context.Background(), "cs-1")
	require.NoError(t, err)
	require.Equal(t, "cs-1", cs.ID)
	require.Equal(t, []string{"cit-1", "cit-2"}, cs.SelectedCitizenIDs)
	require.Empty(t, cs.SelectedCenterIDs)
	require.Equal(t, 1, cs.ApprovalCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangesetRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newChangesetRepoMock(t)
	defer cleanup()

	repo := NewChangesetRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM changesets")).
		WithArgs("NEW", "APPROVED", "BLOCK").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, kind, selection_mode, status")).
		WithArgs("NEW", "APPROVED", "BLOCK").
		WillReturnRows(changesetRows("cs-1", models.ChangesetStatusNew))

	list, total, err := repo.List(context.Background(), models.ChangesetFilter{
		Status: []models.ChangesetStatus{models.ChangesetStatusNew, models.ChangesetStatusApproved},
		Kind:   models.ChangeKindBlock,
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, list, 1)
	require.Equal(t, "cs-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangesetRepositoryUpdateRefusesFrozenStatus(t *testing.T) {
	db, mock, cleanup := newChangesetRepoMock(t)
	defer cleanup()

	repo := NewChangesetRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE changesets SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), &models.Changeset{ID: "cs-1", Name: "renamed"})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangesetRepositoryMarkExecutingClaim(t *testing.T) {
	db, mock, cleanup := newChangesetRepoMock(t)
	defer cleanup()

	repo := NewChangesetRepository(db)
	start := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE changesets SET status = 'EXECUTING'")).
		WithArgs("cs-1", start).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkExecuting(context.Background(), "cs-1", start))

	// A second worker finds the row already EXECUTING and loses the claim.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE changesets SET status = 'EXECUTING'")).
		WithArgs("cs-1", start).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.MarkExecuting(context.Background(), "cs-1", start), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangesetRepositoryQueueRoundTrip(t *testing.T) {
	db, mock, cleanup := newChangesetRepoMock(t)
	defer cleanup()

	repo := NewChangesetRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE changesets SET status = 'QUEUED'")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetQueued(context.Background(), "cs-1", "admin-1"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE changesets SET status = 'APPROVED', queued_by = NULL")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.RevertQueued(context.Background(), "cs-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangesetRepositoryUpdateStatusIfMismatch(t *testing.T) {
	db, mock, cleanup := newChangesetRepoMock(t)
	defer cleanup()

	repo := NewChangesetRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE changesets SET status = $2")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatusIf(context.Background(), "cs-1",
		models.ChangesetStatusApproved, models.ChangesetStatusNew)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangesetRepositorySoftDeleteFrozen(t *testing.T) {
	db, mock, cleanup := newChangesetRepoMock(t)
	defer cleanup()

	repo := NewChangesetRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE changesets SET deleted = true")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.ErrorIs(t, repo.SoftDelete(context.Background(), "cs-1"), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangesetRepositoryApprovals(t *testing.T) {
	db, mock, cleanup := newChangesetRepoMock(t)
	defer cleanup()

	repo := NewChangesetRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO changeset_approvals")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.AddApprover(context.Background(), "cs-1", "admin-1"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM changeset_approvals")).
		WithArgs("cs-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	count, err := repo.CountApprovers(context.Background(), "cs-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("cs-1", "admin-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	approved, err := repo.IsApprovedBy(context.Background(), "cs-1", "admin-1")
	require.NoError(t, err)
	require.True(t, approved)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM changeset_approvals")).
		WithArgs("cs-1", "admin-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.RemoveApprover(context.Background(), "cs-1", "admin-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
