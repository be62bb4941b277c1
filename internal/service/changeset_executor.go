package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/evr-admin-api/internal/models"
	"github.com/noah-isme/evr-admin-api/internal/repository"
	appErrors "github.com/noah-isme/evr-admin-api/pkg/errors"
	"github.com/noah-isme/evr-admin-api/pkg/jobs"
)

type executorChangesetStore interface {
	GetByID(ctx context.Context, id string) (*models.Changeset, error)
	MarkExecuting(ctx context.Context, id string, start time.Time) error
	FinishExecution(ctx context.Context, params repository.FinishExecutionParams) error
}

type unitOfWork interface {
	Run(ctx context.Context, fn func(tx repository.ExecStore) error) error
}

// ChangesetExecutor applies a queued changeset to the registration data.
// One invocation per changeset, always from the background queue, never
// from a web request.
type ChangesetExecutor struct {
	changesets executorChangesetStore
	uow        unitOfWork
	logger     *zap.Logger
	metrics    *MetricsService
}

// ChangesetExecutorOption configures the executor.
type ChangesetExecutorOption func(*ChangesetExecutor)

// WithExecutorMetrics attaches Prometheus instrumentation.
func WithExecutorMetrics(metrics *MetricsService) ChangesetExecutorOption {
	return func(e *ChangesetExecutor) {
		e.metrics = metrics
	}
}

// NewChangesetExecutor constructs the executor.
func NewChangesetExecutor(changesets executorChangesetStore, uow unitOfWork, logger *zap.Logger, opts ...ChangesetExecutorOption) *ChangesetExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &ChangesetExecutor{changesets: changesets, uow: uow, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Handler adapts Execute to the job queue. A missing changeset and an
// execution failure are both absorbed here: there is no automatic retry,
// a human re-approves and re-queues after investigating.
func (e *ChangesetExecutor) Handler() jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		if err := e.Execute(ctx, job.ID); err != nil {
			e.logger.Error("changeset execution rejected",
				zap.String("changeset_id", job.ID), zap.Error(err))
		}
		return nil
	}
}

// Execute runs a single changeset to completion. Status gates and the
// claim on EXECUTING are checked up front and surface as errors; anything
// that fails inside the transactional body is captured as a FAILED
// terminal status instead of being returned.
func (e *ChangesetExecutor) Execute(ctx context.Context, changesetID string) error {
	cs, err := e.changesets.GetByID(ctx, changesetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			e.logger.Warn("changeset vanished before execution", zap.String("changeset_id", changesetID))
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load changeset")
	}
	if !cs.Status.Executable() {
		return appErrors.Clone(appErrors.ErrInvalidStatus, "changeset is not in an executable status")
	}

	var other *models.Changeset
	if cs.Kind == models.ChangeKindRollback {
		other, err = e.loadRollbackTarget(ctx, cs)
		if err != nil {
			return err
		}
	}

	start := time.Now().UTC()
	if err := e.changesets.MarkExecuting(ctx, changesetID, start); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidStatus, "changeset was already claimed for execution")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim changeset")
	}

	var terminal models.ChangesetStatus
	var summary models.ChangeRecordSummary
	runErr := e.uow.Run(ctx, func(tx repository.ExecStore) error {
		switch cs.Kind {
		case models.ChangeKindMoveCenter:
			if err := e.applyMoveCenter(ctx, tx, cs); err != nil {
				return err
			}
		case models.ChangeKindBlock:
			if err := e.applyBlockState(ctx, tx, cs, true); err != nil {
				return err
			}
		case models.ChangeKindUnblock:
			if err := e.applyBlockState(ctx, tx, cs, false); err != nil {
				return err
			}
		case models.ChangeKindRollback:
			if err := e.applyRollback(ctx, tx, cs, other); err != nil {
				return err
			}
		default:
			return appErrors.Clone(appErrors.ErrUnsupportedChange, fmt.Sprintf("unknown change kind %s", cs.Kind))
		}

		counts, err := tx.RecordSummary(ctx, cs.ID)
		if err != nil {
			return err
		}
		terminal = models.ChangesetStatusSuccessful
		if counts.Unchanged > 0 {
			terminal = models.ChangesetStatusPartiallySuccessful
		}
		summary = counts
		return tx.FinishChangeset(ctx, repository.FinishExecutionParams{
			ID:         cs.ID,
			Status:     terminal,
			FinishTime: time.Now().UTC(),
		})
	})
	if runErr != nil {
		// The transaction already discarded all partial work; the FAILED
		// status is persisted outside of it so the outcome survives.
		e.logger.Error("changeset execution failed",
			zap.String("changeset_id", cs.ID), zap.String("kind", string(cs.Kind)), zap.Error(runErr))
		if err := e.changesets.FinishExecution(ctx, repository.FinishExecutionParams{
			ID:         cs.ID,
			Status:     models.ChangesetStatusFailed,
			FinishTime: time.Now().UTC(),
			ErrorText:  runErr.Error(),
		}); err != nil {
			e.logger.Error("failed to persist failed changeset status",
				zap.String("changeset_id", cs.ID), zap.Error(err))
		}
		e.metrics.ObserveExecution(string(cs.Kind), string(models.ChangesetStatusFailed), time.Since(start))
		return nil
	}

	e.metrics.ObserveExecution(string(cs.Kind), string(terminal), time.Since(start))
	e.metrics.ObserveRecords(summary.Changed, summary.Unchanged)
	e.logger.Info("changeset executed",
		zap.String("changeset_id", cs.ID), zap.String("kind", string(cs.Kind)),
		zap.String("status", string(terminal)))
	return nil
}

func (e *ChangesetExecutor) loadRollbackTarget(ctx context.Context, cs *models.Changeset) (*models.Changeset, error) {
	if cs.OtherChangesetID == nil || *cs.OtherChangesetID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rollback changeset has no target")
	}
	other, err := e.changesets.GetByID(ctx, *cs.OtherChangesetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "changeset to roll back no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rollback target")
	}
	if !other.Status.Rollbackable() {
		return nil, appErrors.Clone(appErrors.ErrInvalidStatus, "changeset to roll back is not in a rollback-eligible status")
	}
	return other, nil
}

func (e *ChangesetExecutor) applyMoveCenter(ctx context.Context, tx repository.ExecStore, cs *models.Changeset) error {
	if cs.TargetCenterID == nil || *cs.TargetCenterID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "center move has no target center")
	}
	target := *cs.TargetCenterID
	registrations, err := resolveRegistrations(ctx, tx, cs)
	if err != nil {
		return err
	}
	for _, reg := range registrations {
		current := reg.CenterID
		if current == target {
			if err := tx.AppendRecord(ctx, &models.ChangeRecord{
				ChangesetID:  cs.ID,
				CitizenID:    reg.CitizenID,
				Kind:         models.ChangeKindMoveCenter,
				FromCenterID: &current,
				ToCenterID:   &current,
				Changed:      false,
			}); err != nil {
				return err
			}
			continue
		}
		if err := tx.MoveRegistration(ctx, reg.ID, target); err != nil {
			return err
		}
		if err := tx.AppendRecord(ctx, &models.ChangeRecord{
			ChangesetID:  cs.ID,
			CitizenID:    reg.CitizenID,
			Kind:         models.ChangeKindMoveCenter,
			FromCenterID: &current,
			ToCenterID:   &target,
			Changed:      true,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *ChangesetExecutor) applyBlockState(ctx context.Context, tx repository.ExecStore, cs *models.Changeset, blocked bool) error {
	kind := models.ChangeKindBlock
	apply := tx.BlockCitizen
	if !blocked {
		kind = models.ChangeKindUnblock
		apply = tx.UnblockCitizen
	}
	citizens, err := resolveCitizens(ctx, tx, cs)
	if err != nil {
		return err
	}
	for _, citizen := range citizens {
		changed := citizen.Blocked != blocked
		if changed {
			if err := apply(ctx, citizen.ID); err != nil {
				return err
			}
		}
		if err := tx.AppendRecord(ctx, &models.ChangeRecord{
			ChangesetID: cs.ID,
			CitizenID:   citizen.ID,
			Kind:        kind,
			Changed:     changed,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *ChangesetExecutor) applyRollback(ctx context.Context, tx repository.ExecStore, cs, other *models.Changeset) error {
	records, err := tx.ChangedRecords(ctx, other.ID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.ChangesetID == cs.ID {
			return fmt.Errorf("refusing to undo a record written by the rollback itself (record %s)", rec.ID)
		}
		if err := undoRecord(ctx, tx, cs, rec); err != nil {
			return err
		}
	}
	return tx.MarkRolledBack(ctx, other.ID, cs.ID)
}

// undoRecord compensates one applied change, writing exactly one ledger
// entry under the rollback changeset whether or not a mutation happened.
// A record stays unchanged when the citizen's state diverged since the
// original run, so rollbacks never clobber newer edits.
func undoRecord(ctx context.Context, tx repository.ExecStore, rollback *models.Changeset, rec models.ChangeRecord) error {
	switch rec.Kind {
	case models.ChangeKindMoveCenter:
		return undoMove(ctx, tx, rollback, rec)
	case models.ChangeKindBlock:
		return undoBlockState(ctx, tx, rollback, rec, models.ChangeKindUnblock, true)
	case models.ChangeKindUnblock:
		return undoBlockState(ctx, tx, rollback, rec, models.ChangeKindBlock, false)
	default:
		return appErrors.Clone(appErrors.ErrUnsupportedChange, fmt.Sprintf("cannot undo change kind %s", rec.Kind))
	}
}

func undoMove(ctx context.Context, tx repository.ExecStore, rollback *models.Changeset, rec models.ChangeRecord) error {
	if rec.FromCenterID == nil || rec.ToCenterID == nil {
		return fmt.Errorf("move record %s lacks center references", rec.ID)
	}
	// The citizen must still sit at the center the original change moved
	// them to. If they re-registered elsewhere since, the move is theirs
	// to keep.
	reg, err := tx.ConfirmedRegistration(ctx, rec.CitizenID, *rec.ToCenterID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tx.AppendRecord(ctx, &models.ChangeRecord{
				ChangesetID:  rollback.ID,
				CitizenID:    rec.CitizenID,
				Kind:         models.ChangeKindMoveCenter,
				FromCenterID: rec.ToCenterID,
				ToCenterID:   rec.FromCenterID,
				Changed:      false,
			})
		}
		return err
	}
	if err := tx.MoveRegistration(ctx, reg.ID, *rec.FromCenterID); err != nil {
		return err
	}
	return tx.AppendRecord(ctx, &models.ChangeRecord{
		ChangesetID:  rollback.ID,
		CitizenID:    rec.CitizenID,
		Kind:         models.ChangeKindMoveCenter,
		FromCenterID: rec.ToCenterID,
		ToCenterID:   rec.FromCenterID,
		Changed:      true,
	})
}

func undoBlockState(ctx context.Context, tx repository.ExecStore, rollback *models.Changeset, rec models.ChangeRecord, kind models.ChangeKind, currentlyBlocked bool) error {
	citizens, err := tx.CitizensByIDs(ctx, []string{rec.CitizenID})
	if err != nil {
		return err
	}
	changed := len(citizens) == 1 && citizens[0].Blocked == currentlyBlocked
	if changed {
		if kind == models.ChangeKindBlock {
			err = tx.BlockCitizen(ctx, rec.CitizenID)
		} else {
			err = tx.UnblockCitizen(ctx, rec.CitizenID)
		}
		if err != nil {
			return err
		}
	}
	return tx.AppendRecord(ctx, &models.ChangeRecord{
		ChangesetID: rollback.ID,
		CitizenID:   rec.CitizenID,
		Kind:        kind,
		Changed:     changed,
	})
}
