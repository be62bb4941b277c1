package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/evr-admin-api/internal/dto"
	"github.com/noah-isme/evr-admin-api/internal/models"
	appErrors "github.com/noah-isme/evr-admin-api/pkg/errors"
)

type changesetStore interface {
	Create(ctx context.Context, cs *models.Changeset) error
	GetByID(ctx context.Context, id string) (*models.Changeset, error)
	List(ctx context.Context, filter models.ChangesetFilter) ([]models.Changeset, int, error)
	Update(ctx context.Context, cs *models.Changeset) error
	SoftDelete(ctx context.Context, id string) error
	SetQueued(ctx context.Context, id, userID string) error
	RevertQueued(ctx context.Context, id string) error
	UpdateStatusIf(ctx context.Context, id string, to models.ChangesetStatus, from ...models.ChangesetStatus) error
	AddApprover(ctx context.Context, changesetID, userID string) error
	RemoveApprover(ctx context.Context, changesetID, userID string) error
	CountApprovers(ctx context.Context, changesetID string) (int, error)
	IsApprovedBy(ctx context.Context, changesetID, userID string) (bool, error)
	ListApprovers(ctx context.Context, changesetID string) ([]models.ChangesetApproval, error)
}

type changeRecordReader interface {
	ListByChangeset(ctx context.Context, changesetID string) ([]models.ChangeRecord, error)
	Summary(ctx context.Context, changesetID string) (models.ChangeRecordSummary, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Dispatcher hands a queued changeset to the asynchronous execution
// pipeline. Submit must return an error when the job could not be
// accepted so the caller can compensate.
type Dispatcher interface {
	Submit(ctx context.Context, changesetID string) error
}

// DispatcherFunc allows using plain functions as dispatchers.
type DispatcherFunc func(ctx context.Context, changesetID string) error

// Submit implements Dispatcher.
func (f DispatcherFunc) Submit(ctx context.Context, changesetID string) error {
	return f(ctx, changesetID)
}

// ChangesetService orchestrates authoring, approval and queuing of
// changesets. Execution itself lives in ChangesetExecutor; this service
// never mutates citizen or registration state.
type ChangesetService struct {
	repo         changesetStore
	records      changeRecordReader
	audit        auditLogger
	dispatcher   Dispatcher
	minApprovals int
	logger       *zap.Logger
}

// NewChangesetService constructs the service. minApprovals is the quorum
// of distinct approvers required to advance a changeset out of NEW.
func NewChangesetService(repo changesetStore, records changeRecordReader, audit auditLogger, dispatcher Dispatcher, minApprovals int, logger *zap.Logger) *ChangesetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minApprovals <= 0 {
		minApprovals = 1
	}
	return &ChangesetService{
		repo:         repo,
		records:      records,
		audit:        audit,
		dispatcher:   dispatcher,
		minApprovals: minApprovals,
		logger:       logger,
	}
}

// Create validates and stores a new changeset in NEW status.
func (s *ChangesetService) Create(ctx context.Context, req dto.CreateChangesetRequest, actor *models.JWTClaims) (*models.Changeset, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.MayEditChangesets() {
		return nil, appErrors.ErrForbidden
	}
	cs := &models.Changeset{
		Name:               strings.TrimSpace(req.Name),
		Kind:               req.Kind,
		SelectionMode:      req.SelectionMode,
		Status:             models.ChangesetStatusNew,
		OtherChangesetID:   req.OtherChangesetID,
		TargetCenterID:     req.TargetCenterID,
		SelectedCenterIDs:  dedupe(req.SelectedCenterIDs),
		SelectedCitizenIDs: dedupe(req.SelectedCitizenIDs),
		Message:            req.Message,
		Justification:      req.Justification,
		CreatedBy:          actor.UserID,
	}
	if err := s.validateShape(ctx, cs); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, cs); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create changeset")
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionChangesetCreate,
		Resource:   "changeset",
		ResourceID: &cs.ID,
	})
	return cs, nil
}

// Get returns a changeset with its ledger counts.
func (s *ChangesetService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ChangesetResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	cs, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	summary, err := s.records.Summary(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to summarize change records")
	}
	return &dto.ChangesetResponse{
		Changeset:        *cs,
		RecordsChanged:   summary.Changed,
		RecordsUnchanged: summary.Unchanged,
	}, nil
}

// List returns changesets matching the query.
func (s *ChangesetService) List(ctx context.Context, query dto.ChangesetQuery, actor *models.JWTClaims) ([]models.Changeset, int, error) {
	if actor == nil {
		return nil, 0, appErrors.ErrUnauthorized
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	page := query.Page
	if page <= 0 {
		page = 1
	}
	filter := models.ChangesetFilter{
		Status:    query.Status,
		Kind:      query.Kind,
		CreatedBy: query.CreatedBy,
		Search:    strings.TrimSpace(query.Search),
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	}
	changesets, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list changesets")
	}
	return changesets, total, nil
}

// Update edits a changeset that has not been queued yet. The approver set
// is left intact; approvals refer to the changeset, not a revision of it.
func (s *ChangesetService) Update(ctx context.Context, id string, req dto.UpdateChangesetRequest, actor *models.JWTClaims) (*models.Changeset, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.MayEditChangesets() {
		return nil, appErrors.ErrForbidden
	}
	cs, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cs.Status.Editable() {
		return nil, appErrors.Clone(appErrors.ErrInvalidStatus, "changeset can no longer be edited")
	}
	applyUpdate(cs, req)
	if err := s.validateShape(ctx, cs); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, cs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidStatus, "changeset can no longer be edited")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update changeset")
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionChangesetUpdate,
		Resource:   "changeset",
		ResourceID: &cs.ID,
	})
	return cs, nil
}

// Delete soft-deletes a changeset that has never been queued.
func (s *ChangesetService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if !actor.Role.MayEditChangesets() {
		return appErrors.ErrForbidden
	}
	cs, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !cs.Status.Editable() {
		return appErrors.Clone(appErrors.ErrInvalidStatus, "queued or executed changesets cannot be deleted")
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidStatus, "queued or executed changesets cannot be deleted")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete changeset")
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionChangesetDelete,
		Resource:   "changeset",
		ResourceID: &cs.ID,
	})
	return nil
}

// Approve records the actor's approval. Approving twice is a no-op; when
// the distinct approver count reaches quorum the changeset advances from
// NEW to APPROVED.
func (s *ChangesetService) Approve(ctx context.Context, id string, actor *models.JWTClaims) (*models.Changeset, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.MayApproveChangesets() {
		return nil, appErrors.ErrForbidden
	}
	cs, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cs.Status.Editable() {
		return nil, appErrors.Clone(appErrors.ErrInvalidStatus, "changeset can no longer be approved")
	}
	if err := s.repo.AddApprover(ctx, id, actor.UserID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record approval")
	}
	count, err := s.repo.CountApprovers(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count approvals")
	}
	cs.ApprovalCount = count
	if count >= s.minApprovals && cs.Status == models.ChangesetStatusNew {
		if err := s.repo.UpdateStatusIf(ctx, id, models.ChangesetStatusApproved, models.ChangesetStatusNew); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to advance changeset")
			}
			// Another approver advanced it concurrently, which is fine.
		} else {
			cs.Status = models.ChangesetStatusApproved
		}
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionChangesetApprove,
		Resource:   "changeset",
		ResourceID: &cs.ID,
	})
	return cs, nil
}

// RevokeApproval withdraws the actor's approval. Dropping below quorum
// demotes APPROVED back to NEW; queued-or-later changesets reject the
// revoke outright.
func (s *ChangesetService) RevokeApproval(ctx context.Context, id string, actor *models.JWTClaims) (*models.Changeset, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.MayApproveChangesets() {
		return nil, appErrors.ErrForbidden
	}
	cs, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cs.Status.Editable() {
		return nil, appErrors.Clone(appErrors.ErrInvalidStatus, "approvals are frozen once queued")
	}
	approved, err := s.repo.IsApprovedBy(ctx, id, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check approval")
	}
	if !approved {
		return nil, appErrors.ErrNotApprovedBy
	}
	if err := s.repo.RemoveApprover(ctx, id, actor.UserID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke approval")
	}
	count, err := s.repo.CountApprovers(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count approvals")
	}
	cs.ApprovalCount = count
	if count < s.minApprovals && cs.Status == models.ChangesetStatusApproved {
		if err := s.repo.UpdateStatusIf(ctx, id, models.ChangesetStatusNew, models.ChangesetStatusApproved); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to demote changeset")
		}
		cs.Status = models.ChangesetStatusNew
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionChangesetRevoke,
		Resource:   "changeset",
		ResourceID: &cs.ID,
	})
	return cs, nil
}

// Queue transitions APPROVED to QUEUED, persists, then submits the
// changeset to the dispatcher. A dispatcher failure reverts the status so
// a dispatcher outage never leaves a changeset stuck in QUEUED with no
// job behind it; the submission error propagates to the caller.
func (s *ChangesetService) Queue(ctx context.Context, id string, actor *models.JWTClaims) (*models.Changeset, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.MayQueueChangesets() {
		return nil, appErrors.ErrForbidden
	}
	cs, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if cs.Status != models.ChangesetStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrInvalidStatus, "only approved changesets can be queued")
	}
	if err := s.repo.SetQueued(ctx, id, actor.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidStatus, "only approved changesets can be queued")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue changeset")
	}
	if err := s.dispatcher.Submit(ctx, id); err != nil {
		if revertErr := s.repo.RevertQueued(ctx, id); revertErr != nil {
			s.logger.Error("failed to revert queued changeset after dispatch failure",
				zap.String("changeset_id", id), zap.Error(revertErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit changeset for execution")
	}
	cs.Status = models.ChangesetStatusQueued
	cs.QueuedBy = &actor.UserID
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionChangesetQueue,
		Resource:   "changeset",
		ResourceID: &cs.ID,
	})
	return cs, nil
}

// Records returns the full change ledger of a changeset.
func (s *ChangesetService) Records(ctx context.Context, id string, actor *models.JWTClaims) ([]models.ChangeRecord, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	records, err := s.records.ListByChangeset(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list change records")
	}
	return records, nil
}

// Approvers returns the current approval entries of a changeset.
func (s *ChangesetService) Approvers(ctx context.Context, id string, actor *models.JWTClaims) ([]models.ChangesetApproval, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	approvals, err := s.repo.ListApprovers(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list approvers")
	}
	return approvals, nil
}

func (s *ChangesetService) load(ctx context.Context, id string) (*models.Changeset, error) {
	cs, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load changeset")
	}
	return cs, nil
}

// validateShape enforces the kind/selection combination rules at
// authoring time so execution never sees a structurally invalid changeset.
func (s *ChangesetService) validateShape(ctx context.Context, cs *models.Changeset) error {
	if cs.Name == "" {
		return appErrors.Clone(appErrors.ErrValidation, "name is required")
	}
	if !cs.Kind.Valid() {
		return appErrors.Clone(appErrors.ErrUnsupportedChange, "unknown change kind")
	}
	if !cs.SelectionMode.Valid() {
		return appErrors.Clone(appErrors.ErrUnsupportedChange, "unknown selection mode")
	}
	switch cs.SelectionMode {
	case models.SelectByCenters:
		if len(cs.SelectedCenterIDs) == 0 {
			return appErrors.Clone(appErrors.ErrValidation, "selection by centers requires at least one center")
		}
	case models.SelectByUploadedIDs:
		if len(cs.SelectedCitizenIDs) == 0 {
			return appErrors.Clone(appErrors.ErrValidation, "selection by uploaded ids requires at least one citizen")
		}
	case models.SelectByOtherChangeset:
		if cs.OtherChangesetID == nil || *cs.OtherChangesetID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "selection by other changeset requires a changeset reference")
		}
	}
	if cs.Kind == models.ChangeKindMoveCenter {
		if cs.TargetCenterID == nil || *cs.TargetCenterID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "center moves require a target center")
		}
		// Moving voters into a center they are selected from would make
		// the move a recorded no-op for that center's registrations.
		if cs.SelectionMode == models.SelectByCenters {
			for _, centerID := range cs.SelectedCenterIDs {
				if centerID == *cs.TargetCenterID {
					return appErrors.Clone(appErrors.ErrValidation, "target center cannot be one of the source centers")
				}
			}
		}
	}
	if cs.Kind == models.ChangeKindRollback {
		if cs.SelectionMode != models.SelectByOtherChangeset {
			return appErrors.Clone(appErrors.ErrValidation, "rollbacks select their voters by the changeset being rolled back")
		}
		if cs.OtherChangesetID == nil || *cs.OtherChangesetID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "rollbacks require the changeset to roll back")
		}
		if *cs.OtherChangesetID == cs.ID && cs.ID != "" {
			return appErrors.Clone(appErrors.ErrValidation, "a changeset cannot roll itself back")
		}
		other, err := s.load(ctx, *cs.OtherChangesetID)
		if err != nil {
			return err
		}
		if !other.Status.Rollbackable() {
			return appErrors.Clone(appErrors.ErrInvalidStatus, "referenced changeset is not in a rollback-eligible status")
		}
	}
	return nil
}

func (s *ChangesetService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "changeset-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func applyUpdate(cs *models.Changeset, req dto.UpdateChangesetRequest) {
	if req.Name != nil {
		cs.Name = strings.TrimSpace(*req.Name)
	}
	if req.Kind != nil {
		cs.Kind = *req.Kind
	}
	if req.SelectionMode != nil {
		cs.SelectionMode = *req.SelectionMode
	}
	if req.OtherChangesetID != nil {
		cs.OtherChangesetID = req.OtherChangesetID
	}
	if req.TargetCenterID != nil {
		cs.TargetCenterID = req.TargetCenterID
	}
	if req.SelectedCenterIDs != nil {
		cs.SelectedCenterIDs = dedupe(req.SelectedCenterIDs)
	}
	if req.SelectedCitizenIDs != nil {
		cs.SelectedCitizenIDs = dedupe(req.SelectedCitizenIDs)
	}
	if req.Message != nil {
		cs.Message = *req.Message
	}
	if req.Justification != nil {
		cs.Justification = *req.Justification
	}
}

// dedupe preserves first-seen order while dropping repeated entries.
func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
