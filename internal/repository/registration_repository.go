package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/evr-admin-api/internal/models"
)

const registrationColumns = `id, citizen_id, center_id, change_count, archive_version, archived_at, deleted, created_at, updated_at`

// RegistrationRepository reads and mutates voter registrations with
// archive-on-write semantics.
type RegistrationRepository struct {
	ext sqlx.ExtContext
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{ext: db}
}


// ListConfirmedByCenters returns the confirmed registrations at any of the
// given centers. The inner join drops registrations whose citizen record is
// missing from the registry; such registrations keep their old center even
// after a center move reports success. Known data-quality gap, kept on
// purpose pending product sign-off.
func (r *RegistrationRepository) ListConfirmedByCenters(ctx context.Context, centerIDs []string) ([]models.Registration, error) {
	if len(centerIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT r.id, r.citizen_id, r.center_id, r.change_count, r.archive_version,
	       r.archived_at, r.deleted, r.created_at, r.updated_at
	FROM registrations r
	INNER JOIN citizens c ON c.id = r.citizen_id
	WHERE r.center_id IN (?) AND r.deleted = false AND r.archived_at IS NULL
	ORDER BY r.citizen_id`, centerIDs)
	if err != nil {
		return nil, fmt.Errorf("build registrations query: %w", err)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	var regs []models.Registration
	if err := sqlx.SelectContext(ctx, r.ext, &regs, query, args...); err != nil {
		return nil, fmt.Errorf("list registrations by centers: %w", err)
	}
	return regs, nil
}

// ListConfirmedByCitizens returns the confirmed registrations of the given
// citizens.
func (r *RegistrationRepository) ListConfirmedByCitizens(ctx context.Context, citizenIDs []string) ([]models.Registration, error) {
	if len(citizenIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(fmt.Sprintf(`SELECT %s FROM registrations
	WHERE citizen_id IN (?) AND deleted = false AND archived_at IS NULL
	ORDER BY citizen_id`, registrationColumns), citizenIDs)
	if err != nil {
		return nil, fmt.Errorf("build registrations query: %w", err)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	var regs []models.Registration
	if err := sqlx.SelectContext(ctx, r.ext, &regs, query, args...); err != nil {
		return nil, fmt.Errorf("list registrations by citizens: %w", err)
	}
	return regs, nil
}

// GetConfirmed returns the citizen's confirmed registration at the given
// center, or sql.ErrNoRows when they are not currently registered there.
func (r *RegistrationRepository) GetConfirmed(ctx context.Context, citizenID, centerID string) (*models.Registration, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrations
	WHERE citizen_id = $1 AND center_id = $2 AND deleted = false AND archived_at IS NULL`, registrationColumns)
	var reg models.Registration
	if err := sqlx.GetContext(ctx, r.ext, &reg, query, citizenID, centerID); err != nil {
		return nil, err
	}
	return &reg, nil
}

// MoveToCenter rewrites the registration's center, preserving the
// pre-change version first: the old state is copied into an archived row
// with the next archive version before the live row is updated.
func (r *RegistrationRepository) MoveToCenter(ctx context.Context, registrationID, toCenterID string) error {
	now := time.Now().UTC()
	const archiveQuery = `INSERT INTO registrations
	(id, citizen_id, center_id, change_count, archive_version, archived_at, deleted, created_at, updated_at)
	SELECT $2, citizen_id, center_id, change_count,
	       (SELECT COALESCE(MAX(archive_version), 0) + 1 FROM registrations a
	        WHERE a.citizen_id = registrations.citizen_id AND a.archived_at IS NOT NULL),
	       $3, deleted, created_at, $3
	FROM registrations WHERE id = $1`
	if _, err := r.ext.ExecContext(ctx, archiveQuery, registrationID, uuid.NewString(), now); err != nil {
		return fmt.Errorf("archive registration version: %w", err)
	}
	const moveQuery = `UPDATE registrations
	SET center_id = $2, change_count = change_count + 1, updated_at = $3
	WHERE id = $1`
	if _, err := r.ext.ExecContext(ctx, moveQuery, registrationID, toCenterID, now); err != nil {
		return fmt.Errorf("move registration: %w", err)
	}
	return nil
}
