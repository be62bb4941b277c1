package service

import (
	"context"
	"fmt"

	"github.com/noah-isme/evr-admin-api/internal/models"
	"github.com/noah-isme/evr-admin-api/internal/repository"
	appErrors "github.com/noah-isme/evr-admin-api/pkg/errors"
)

// resolveRegistrations returns the confirmed registrations a center move
// operates on, according to the changeset's selection mode.
func resolveRegistrations(ctx context.Context, tx repository.ExecStore, cs *models.Changeset) ([]models.Registration, error) {
	switch cs.SelectionMode {
	case models.SelectByCenters:
		return tx.ConfirmedRegistrationsByCenters(ctx, cs.SelectedCenterIDs)
	case models.SelectByUploadedIDs:
		return tx.ConfirmedRegistrationsByCitizens(ctx, cs.SelectedCitizenIDs)
	case models.SelectByOtherChangeset:
		citizenIDs, err := previouslyAffectedCitizens(ctx, tx, cs)
		if err != nil {
			return nil, err
		}
		return tx.ConfirmedRegistrationsByCitizens(ctx, citizenIDs)
	default:
		return nil, appErrors.Clone(appErrors.ErrUnsupportedChange, fmt.Sprintf("unknown selection mode %s", cs.SelectionMode))
	}
}

// resolveCitizens returns the citizens a block or unblock operates on.
func resolveCitizens(ctx context.Context, tx repository.ExecStore, cs *models.Changeset) ([]models.Citizen, error) {
	switch cs.SelectionMode {
	case models.SelectByCenters:
		registrations, err := tx.ConfirmedRegistrationsByCenters(ctx, cs.SelectedCenterIDs)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(registrations))
		seen := make(map[string]struct{}, len(registrations))
		for _, reg := range registrations {
			if _, ok := seen[reg.CitizenID]; ok {
				continue
			}
			seen[reg.CitizenID] = struct{}{}
			ids = append(ids, reg.CitizenID)
		}
		return tx.CitizensByIDs(ctx, ids)
	case models.SelectByUploadedIDs:
		return tx.CitizensByIDs(ctx, cs.SelectedCitizenIDs)
	case models.SelectByOtherChangeset:
		citizenIDs, err := previouslyAffectedCitizens(ctx, tx, cs)
		if err != nil {
			return nil, err
		}
		return tx.CitizensByIDs(ctx, citizenIDs)
	default:
		return nil, appErrors.Clone(appErrors.ErrUnsupportedChange, fmt.Sprintf("unknown selection mode %s", cs.SelectionMode))
	}
}

// previouslyAffectedCitizens selects whoever the referenced changeset
// actually changed, not whoever matched its criteria at the time. The
// criteria may no longer hold; the ledger of applied effects is stable.
func previouslyAffectedCitizens(ctx context.Context, tx repository.ExecStore, cs *models.Changeset) ([]string, error) {
	if cs.OtherChangesetID == nil || *cs.OtherChangesetID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "selection by other changeset requires a changeset reference")
	}
	records, err := tx.ChangedRecords(ctx, *cs.OtherChangesetID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.CitizenID]; ok {
			continue
		}
		seen[rec.CitizenID] = struct{}{}
		ids = append(ids, rec.CitizenID)
	}
	return ids, nil
}
