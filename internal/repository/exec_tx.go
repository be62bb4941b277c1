package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/evr-admin-api/internal/models"
)

// ExecStore is the transactional surface a changeset execution runs
// against. Every mutation performed through it belongs to one database
// transaction: either all of them commit or none do.
type ExecStore interface {
	// Changeset terminal bookkeeping.
	FinishChangeset(ctx context.Context, params FinishExecutionParams) error
	MarkRolledBack(ctx context.Context, originalID, rollbackID string) error

	// Change ledger.
	AppendRecord(ctx context.Context, rec *models.ChangeRecord) error
	ChangedRecords(ctx context.Context, changesetID string) ([]models.ChangeRecord, error)
	RecordSummary(ctx context.Context, changesetID string) (models.ChangeRecordSummary, error)

	// Record store collaborators.
	CitizensByIDs(ctx context.Context, ids []string) ([]models.Citizen, error)
	ConfirmedRegistrationsByCenters(ctx context.Context, centerIDs []string) ([]models.Registration, error)
	ConfirmedRegistrationsByCitizens(ctx context.Context, citizenIDs []string) ([]models.Registration, error)
	ConfirmedRegistration(ctx context.Context, citizenID, centerID string) (*models.Registration, error)
	MoveRegistration(ctx context.Context, registrationID, toCenterID string) error
	BlockCitizen(ctx context.Context, citizenID string) error
	UnblockCitizen(ctx context.Context, citizenID string) error
}

// UnitOfWork opens one transaction per execution run and hands the
// callback a tx-bound ExecStore.
type UnitOfWork struct {
	db *sqlx.DB
}

// NewUnitOfWork constructs the unit of work.
func NewUnitOfWork(db *sqlx.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Run executes fn inside a transaction, committing on nil and rolling back
// on error. The error from fn is returned unchanged so callers can inspect
// it after the rollback discarded all partial work.
func (u *UnitOfWork) Run(ctx context.Context, fn func(tx ExecStore) error) error {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin execution transaction: %w", err)
	}
	store := &execTx{
		changesets:    &ChangesetRepository{ext: tx},
		records:       &ChangeRecordRepository{ext: tx},
		citizens:      &CitizenRepository{ext: tx},
		registrations: &RegistrationRepository{ext: tx},
	}
	if err := fn(store); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit execution transaction: %w", err)
	}
	return nil
}

// execTx bundles tx-bound repositories behind the ExecStore interface.
type execTx struct {
	changesets    *ChangesetRepository
	records       *ChangeRecordRepository
	citizens      *CitizenRepository
	registrations *RegistrationRepository
}

func (t *execTx) FinishChangeset(ctx context.Context, params FinishExecutionParams) error {
	return t.changesets.FinishExecution(ctx, params)
}

func (t *execTx) MarkRolledBack(ctx context.Context, originalID, rollbackID string) error {
	return t.changesets.SetRolledBack(ctx, originalID, rollbackID)
}

func (t *execTx) AppendRecord(ctx context.Context, rec *models.ChangeRecord) error {
	return t.records.Append(ctx, rec)
}

func (t *execTx) ChangedRecords(ctx context.Context, changesetID string) ([]models.ChangeRecord, error) {
	return t.records.ListChanged(ctx, changesetID)
}

func (t *execTx) RecordSummary(ctx context.Context, changesetID string) (models.ChangeRecordSummary, error) {
	return t.records.Summary(ctx, changesetID)
}

func (t *execTx) CitizensByIDs(ctx context.Context, ids []string) ([]models.Citizen, error) {
	return t.citizens.ListByIDs(ctx, ids)
}

func (t *execTx) ConfirmedRegistrationsByCenters(ctx context.Context, centerIDs []string) ([]models.Registration, error) {
	return t.registrations.ListConfirmedByCenters(ctx, centerIDs)
}

func (t *execTx) ConfirmedRegistrationsByCitizens(ctx context.Context, citizenIDs []string) ([]models.Registration, error) {
	return t.registrations.ListConfirmedByCitizens(ctx, citizenIDs)
}

func (t *execTx) ConfirmedRegistration(ctx context.Context, citizenID, centerID string) (*models.Registration, error) {
	return t.registrations.GetConfirmed(ctx, citizenID, centerID)
}

func (t *execTx) MoveRegistration(ctx context.Context, registrationID, toCenterID string) error {
	return t.registrations.MoveToCenter(ctx, registrationID, toCenterID)
}

func (t *execTx) BlockCitizen(ctx context.Context, citizenID string) error {
	return t.citizens.Block(ctx, citizenID)
}

func (t *execTx) UnblockCitizen(ctx context.Context, citizenID string) error {
	return t.citizens.Unblock(ctx, citizenID)
}
