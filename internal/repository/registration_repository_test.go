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
)

func newRegistrationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func registrationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "citizen_id", "center_id", "change_count", "archive_version",
		"archived_at", "deleted", "created_at", "updated_at",
	})
}

func TestRegistrationRepositoryListConfirmedByCenters(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	repo := NewRegistrationRepository(db)
	now := time.Now()
	rows := registrationRows().
		AddRow("reg-1", "cit-1", "center-1", 0, 0, nil, false, now, now).
		AddRow("reg-2", "cit-2", "center-2", 1, 0, nil, false, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("INNER JOIN citizens c ON c.id = r.citizen_id")).
		WithArgs("center-1", "center-2").
		WillReturnRows(rows)

	regs, err := repo.ListConfirmedByCenters(context.Background(), []string{"center-1", "center-2"})
	require.NoError(t, err)
	require.Len(t, regs, 2)
	require.Equal(t, "cit-1", regs[0].CitizenID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryListConfirmedByCentersEmptyInput(t *testing.T) {
	db, _, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	repo := NewRegistrationRepository(db)
	regs, err := repo.ListConfirmedByCenters(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, regs)
}

func TestRegistrationRepositoryGetConfirmedMiss(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	repo := NewRegistrationRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM registrations")).
		WithArgs("cit-1", "center-9").
		WillReturnRows(registrationRows())

	_, err := repo.GetConfirmed(context.Background(), "cit-1", "center-9")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryMoveToCenterArchivesFirst(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	repo := NewRegistrationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registrations")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registrations")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MoveToCenter(context.Background(), "reg-1", "center-9"))
	require.NoError(t, mock.ExpectationsWereMet())
}
