package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/evr-admin-api/internal/dto"
	"github.com/noah-isme/evr-admin-api/internal/models"
	appErrors "github.com/noah-isme/evr-admin-api/pkg/errors"
)

type changesetRepoStub struct {
	changesets map[string]*models.Changeset
	approvals  map[string]map[string]struct{}
}

func newChangesetRepoStub() *changesetRepoStub {
	return &changesetRepoStub{
		changesets: make(map[string]*models.Changeset),
		approvals:  make(map[string]map[string]struct{}),
	}
}

func (s *changesetRepoStub) Create(ctx context.Context, cs *models.Changeset) error {
	if cs.ID == "" {
		cs.ID = fmt.Sprintf("cs-%d", len(s.changesets)+1)
	}
	if cs.Status == "" {
		cs.Status = models.ChangesetStatusNew
	}
	clone := *cs
	s.changesets[cs.ID] = &clone
	return nil
}

func (s *changesetRepoStub) GetByID(ctx context.Context, id string) (*models.Changeset, error) {
	cs, ok := s.changesets[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *cs
	clone.ApprovalCount = len(s.approvals[id])
	return &clone, nil
}

func (s *changesetRepoStub) List(ctx context.Context, filter models.ChangesetFilter) ([]models.Changeset, int, error) {
	out := make([]models.Changeset, 0, len(s.changesets))
	for _, cs := range s.changesets {
		out = append(out, *cs)
	}
	return out, len(out), nil
}

func (s *changesetRepoStub) Update(ctx context.Context, cs *models.Changeset) error {
	current, ok := s.changesets[cs.ID]
	if !ok || !current.Status.Editable() {
		return sql.ErrNoRows
	}
	clone := *cs
	clone.Status = current.Status
	s.changesets[cs.ID] = &clone
	return nil
}

func (s *changesetRepoStub) SoftDelete(ctx context.Context, id string) error {
	current, ok := s.changesets[id]
	if !ok || !current.Status.Editable() {
		return sql.ErrNoRows
	}
	current.Deleted = true
	return nil
}

func (s *changesetRepoStub) SetQueued(ctx context.Context, id, userID string) error {
	current, ok := s.changesets[id]
	if !ok || current.Status != models.ChangesetStatusApproved {
		return sql.ErrNoRows
	}
	current.Status = models.ChangesetStatusQueued
	current.QueuedBy = &userID
	return nil
}

func (s *changesetRepoStub) RevertQueued(ctx context.Context, id string) error {
	current, ok := s.changesets[id]
	if !ok || current.Status != models.ChangesetStatusQueued {
		return sql.ErrNoRows
	}
	current.Status = models.ChangesetStatusApproved
	current.QueuedBy = nil
	return nil
}

func (s *changesetRepoStub) UpdateStatusIf(ctx context.Context, id string, to models.ChangesetStatus, from ...models.ChangesetStatus) error {
	current, ok := s.changesets[id]
	if !ok {
		return sql.ErrNoRows
	}
	for _, status := range from {
		if current.Status == status {
			current.Status = to
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *changesetRepoStub) AddApprover(ctx context.Context, changesetID, userID string) error {
	if s.approvals[changesetID] == nil {
		s.approvals[changesetID] = make(map[string]struct{})
	}
	s.approvals[changesetID][userID] = struct{}{}
	return nil
}

func (s *changesetRepoStub) RemoveApprover(ctx context.Context, changesetID, userID string) error {
	delete(s.approvals[changesetID], userID)
	return nil
}

func (s *changesetRepoStub) CountApprovers(ctx context.Context, changesetID string) (int, error) {
	return len(s.approvals[changesetID]), nil
}

func (s *changesetRepoStub) IsApprovedBy(ctx context.Context, changesetID, userID string) (bool, error) {
	_, ok := s.approvals[changesetID][userID]
	return ok, nil
}

func (s *changesetRepoStub) ListApprovers(ctx context.Context, changesetID string) ([]models.ChangesetApproval, error) {
	out := make([]models.ChangesetApproval, 0, len(s.approvals[changesetID]))
	for userID := range s.approvals[changesetID] {
		out = append(out, models.ChangesetApproval{ChangesetID: changesetID, UserID: userID})
	}
	return out, nil
}

type recordReaderStub struct {
	records []models.ChangeRecord
}

func (s *recordReaderStub) ListByChangeset(ctx context.Context, changesetID string) ([]models.ChangeRecord, error) {
	return s.records, nil
}

func (s *recordReaderStub) Summary(ctx context.Context, changesetID string) (models.ChangeRecordSummary, error) {
	var summary models.ChangeRecordSummary
	for _, rec := range s.records {
		if rec.Changed {
			summary.Changed++
		} else {
			summary.Unchanged++
		}
	}
	return summary, nil
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type dispatcherStub struct {
	submitted []string
	err       error
}

func (d *dispatcherStub) Submit(ctx context.Context, changesetID string) error {
	if d.err != nil {
		return d.err
	}
	d.submitted = append(d.submitted, changesetID)
	return nil
}

func adminClaims(userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: models.RoleAdmin}
}

func newTestChangesetService(repo *changesetRepoStub, dispatcher *dispatcherStub) (*ChangesetService, *auditStub) {
	audit := &auditStub{}
	svc := NewChangesetService(repo, &recordReaderStub{}, audit, dispatcher, 2, nil)
	return svc, audit
}

func seedChangeset(repo *changesetRepoStub, status models.ChangesetStatus) *models.Changeset {
	target := "center-9"
	cs := &models.Changeset{
		ID:                "cs-1",
		Name:              "move kampala north",
		Kind:              models.ChangeKindMoveCenter,
		SelectionMode:     models.SelectByCenters,
		Status:            status,
		SelectedCenterIDs: []string{"center-1"},
		TargetCenterID:    &target,
		Justification:     "center closed",
		CreatedBy:         "operator-1",
	}
	repo.changesets[cs.ID] = cs
	return cs
}

func TestChangesetServiceApproveReachesQuorum(t *testing.T) {
	repo := newChangesetRepoStub()
	svc, _ := newTestChangesetService(repo, &dispatcherStub{})
	seedChangeset(repo, models.ChangesetStatusNew)

	cs, err := svc.Approve(context.Background(), "cs-1", adminClaims("admin-1"))
	require.NoError(t, err)
	require.Equal(t, models.ChangesetStatusNew, cs.Status)
	require.Equal(t, 1, cs.ApprovalCount)

	cs, err = svc.Approve(context.Background(), "cs-1", adminClaims("admin-2"))
	require.NoError(t, err)
	require.Equal(t, models.ChangesetStatusApproved, cs.Status)
	require.Equal(t, 2, cs.ApprovalCount)
}

func TestChangesetServiceApproveIsIdempotent(t *testing.T) {
	repo := newChangesetRepoStub()
	svc, _ := newTestChangesetService(repo, &dispatcherStub{})
	seedChangeset(repo, models.ChangesetStatusNew)

	for i := 0; i < 3; i++ {
		cs, err := svc.Approve(context.Background(), "cs-1", adminClaims("admin-1"))
		require.NoError(t, err)
		require.Equal(t, 1, cs.ApprovalCount)
		require.Equal(t, models.ChangesetStatusNew, cs.Status)
	}
}

func TestChangesetServiceRevokeBelowQuorumDemotes(t *testing.T) {
	repo := newChangesetRepoStub()
	svc, _ := newTestChangesetService(repo, &dispatcherStub{})
	seedChangeset(repo, models.ChangesetStatusNew)

	_, err := svc.Approve(context.Background(), "cs-1", adminClaims("admin-1"))
	require.NoError(t, err)
	cs, err := svc.Approve(context.Background(), "cs-1", adminClaims("admin-2"))
	require.NoError(t, err)
	require.Equal(t, models.ChangesetStatusApproved, cs.Status)

	cs, err = svc.RevokeApproval(context.Background(), "cs-1", adminClaims("admin-2"))
	require.NoError(t, err)
	require.Equal(t, models.ChangesetStatusNew, cs.Status)
	require.Equal(t, 1, cs.ApprovalCount)
}

func TestChangesetServiceRevokeByNonApprover(t *testing.T) {
	repo := newChangesetRepoStub()
	svc, _ := newTestChangesetService(repo, &dispatcherStub{})
	seedChangeset(repo, models.ChangesetStatusNew)

	_, err := svc.RevokeApproval(context.Background(), "cs-1", adminClaims("admin-1"))
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrNotApprovedBy.Code, appErr.Code)
}

func TestChangesetServiceRevokeFrozenOnceQueued(t *testing.T) {
	repo := newChangesetRepoStub()
	svc, _ := newTestChangesetService(repo, &dispatcherStub{})
	seedChangeset(repo, models.ChangesetStatusQueued)

	_, err := svc.RevokeApproval(context.Background(), "cs-1", adminClaims("admin-1"))
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrInvalidStatus.Code, appErr.Code)
}

func TestChangesetServiceQueueFromNewIsRejected(t *testing.T) {
	repo := newChangesetRepoStub()
	svc, _ := newTestChangesetService(repo, &dispatcherStub{})
	seedChangeset(repo, models.ChangesetStatusNew)

	_, err := svc.Queue(context.Background(), "cs-1", adminClaims("admin-1"))
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrInvalidStatus.Code, appErr.Code)
	require.Equal(t, models.ChangesetStatusNew, repo.changesets["cs-1"].Status)
}

func TestChangesetServiceQueueSubmitsToDispatcher(t *testing.T) {
	repo := newChangesetRepoStub()
	dispatcher := &dispatcherStub{}
	svc, _ := newTestChangesetService(repo, dispatcher)
	seedChangeset(repo, models.ChangesetStatusApproved)

	cs, err := svc.Queue(context.Background(), "cs-1", adminClaims("admin-1"))
	require.NoError(t, err)
	require.Equal(t, models.ChangesetStatusQueued, cs.Status)
	require.Equal(t, []string{"cs-1"}, dispatcher.submitted)
	require.NotNil(t, cs.QueuedBy)
	require.Equal(t, "admin-1", *cs.QueuedBy)
}

func TestChangesetServiceQueueRevertsOnDispatchFailure(t *testing.T) {
	repo := newChangesetRepoStub()
	dispatcher := &dispatcherStub{err: errors.New("broker down")}
	svc, _ := newTestChangesetService(repo, dispatcher)
	seedChangeset(repo, models.ChangesetStatusApproved)

	_, err := svc.Queue(context.Background(), "cs-1", adminClaims("admin-1"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to submit")
	require.Equal(t, models.ChangesetStatusApproved, repo.changesets["cs-1"].Status)
	require.Nil(t, repo.changesets["cs-1"].QueuedBy)
}

func TestChangesetServiceApproveRequiresApprovalRights(t *testing.T) {
	repo := newChangesetRepoStub()
	svc, _ := newTestChangesetService(repo, &dispatcherStub{})
	seedChangeset(repo, models.ChangesetStatusNew)

	operator := &models.JWTClaims{UserID: "op-1", Role: models.RoleOperator}
	_, err := svc.Approve(context.Background(), "cs-1", operator)
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	viewer := &models.JWTClaims{UserID: "v-1", Role: models.RoleViewer}
	_, err = svc.Queue(context.Background(), "cs-1", viewer)
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestChangesetServiceApproveFrozenOnceQueued(t *testing.T) {
	repo := newChangesetRepoStub()
	svc, _ := newTestChangesetService(repo, &dispatcherStub{})
	seedChangeset(repo, models.ChangesetStatusExecuting)

	_, err := svc.Approve(context.Background(), "cs-1", adminClaims("admin-1"))
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrInvalidStatus.Code, appErr.Code)
}

func TestChangesetServiceCreateValidatesShape(t *testing.T) {
	repo := newChangesetRepoStub()
	svc, _ := newTestChangesetService(repo, &dispatcherStub{})

	_, err := svc.Create(context.Background(), dto.CreateChangesetRequest{
		Name:              "move without target",
		Kind:              models.ChangeKindMoveCenter,
		SelectionMode:     models.SelectByCenters,
		SelectedCenterIDs: []string{"center-1"},
		Justification:     "broken",
	}, adminClaims("admin-1"))
	require.Error(t, err)

	_, err = svc.Create(context.Background(), dto.CreateChangesetRequest{
		Name:          "block nobody",
		Kind:          models.ChangeKindBlock,
		SelectionMode: models.SelectByUploadedIDs,
		Justification: "empty selection",
	}, adminClaims("admin-1"))
	require.Error(t, err)
}

func TestChangesetServiceCreateRejectsTargetAmongSourceCenters(t *testing.T) {
	repo := newChangesetRepoStub()
	svc, _ := newTestChangesetService(repo, &dispatcherStub{})

	target := "center-1"
	_, err := svc.Create(context.Background(), dto.CreateChangesetRequest{
		Name:              "move into itself",
		Kind:              models.ChangeKindMoveCenter,
		SelectionMode:     models.SelectByCenters,
		SelectedCenterIDs: []string{"center-1", "center-2"},
		TargetCenterID:    &target,
		Justification:     "consolidation",
	}, adminClaims("admin-1"))
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	// A target outside the source set is fine.
	outside := "center-9"
	_, err = svc.Create(context.Background(), dto.CreateChangesetRequest{
		Name:              "move elsewhere",
		Kind:              models.ChangeKindMoveCenter,
		SelectionMode:     models.SelectByCenters,
		SelectedCenterIDs: []string{"center-1", "center-2"},
		TargetCenterID:    &outside,
		Justification:     "consolidation",
	}, adminClaims("admin-1"))
	require.NoError(t, err)
}

func TestChangesetServiceUpdateRejectsTargetAmongSourceCenters(t *testing.T) {
	repo := newChangesetRepoStub()
	svc, _ := newTestChangesetService(repo, &dispatcherStub{})
	seedChangeset(repo, models.ChangesetStatusNew)

	// seedChangeset selects center-1; retargeting the move onto it must
	// fail the same way authoring it would.
	target := "center-1"
	_, err := svc.Update(context.Background(), "cs-1", dto.UpdateChangesetRequest{
		TargetCenterID: &target,
	}, adminClaims("admin-1"))
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestChangesetServiceCreateRollbackRequiresSelectionByChangeset(t *testing.T) {
	repo := newChangesetRepoStub()
	svc, _ := newTestChangesetService(repo, &dispatcherStub{})
	original := seedChangeset(repo, models.ChangesetStatusSuccessful)

	_, err := svc.Create(context.Background(), dto.CreateChangesetRequest{
		Name:              "undo by centers",
		Kind:              models.ChangeKindRollback,
		SelectionMode:     models.SelectByCenters,
		SelectedCenterIDs: []string{"center-1"},
		OtherChangesetID:  &original.ID,
		Justification:     "wrong move",
	}, adminClaims("admin-1"))
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	_, err = svc.Create(context.Background(), dto.CreateChangesetRequest{
		Name:             "undo the move",
		Kind:             models.ChangeKindRollback,
		SelectionMode:    models.SelectByOtherChangeset,
		OtherChangesetID: &original.ID,
		Justification:    "wrong move",
	}, adminClaims("admin-1"))
	require.NoError(t, err)
}

func TestChangesetServiceCreateDeduplicatesSelection(t *testing.T) {
	repo := newChangesetRepoStub()
	svc, _ := newTestChangesetService(repo, &dispatcherStub{})

	cs, err := svc.Create(context.Background(), dto.CreateChangesetRequest{
		Name:               "block duplicates",
		Kind:               models.ChangeKindBlock,
		SelectionMode:      models.SelectByUploadedIDs,
		SelectedCitizenIDs: []string{"cit-1", "cit-2", "cit-1", " cit-2 "},
		Justification:      "fraud list",
	}, adminClaims("admin-1"))
	require.NoError(t, err)
	require.Equal(t, []string{"cit-1", "cit-2"}, cs.SelectedCitizenIDs)
}

func TestChangesetServiceUpdateFrozenOnceQueued(t *testing.T) {
	repo := newChangesetRepoStub()
	svc, _ := newTestChangesetService(repo, &dispatcherStub{})
	seedChangeset(repo, models.ChangesetStatusQueued)

	name := "renamed"
	_, err := svc.Update(context.Background(), "cs-1", dto.UpdateChangesetRequest{Name: &name}, adminClaims("admin-1"))
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrInvalidStatus.Code, appErr.Code)
}
