package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/evr-admin-api/internal/models"
)

const citizenColumns = `id, national_id, full_name, birth_date, blocked, missing, created_at, updated_at`

// CitizenRepository reads and mutates civil-registry citizen records.
type CitizenRepository struct {
	ext sqlx.ExtContext
}

// NewCitizenRepository constructs the repository.
func NewCitizenRepository(db *sqlx.DB) *CitizenRepository {
	return &CitizenRepository{ext: db}
}


// GetByID fetches one citizen.
func (r *CitizenRepository) GetByID(ctx context.Context, id string) (*models.Citizen, error) {
	query := fmt.Sprintf(`SELECT %s FROM citizens WHERE id = $1`, citizenColumns)
	var citizen models.Citizen
	if err := sqlx.GetContext(ctx, r.ext, &citizen, query, id); err != nil {
		return nil, err
	}
	return &citizen, nil
}

// ListByIDs fetches citizens for the given identifiers. Missing ids are
// silently absent from the result.
func (r *CitizenRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Citizen, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		fmt.Sprintf(`SELECT %s FROM citizens WHERE id IN (?) ORDER BY id`, citizenColumns), ids)
	if err != nil {
		return nil, fmt.Errorf("build citizens query: %w", err)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	var citizens []models.Citizen
	if err := sqlx.SelectContext(ctx, r.ext, &citizens, query, args...); err != nil {
		return nil, fmt.Errorf("list citizens: %w", err)
	}
	return citizens, nil
}

// Block marks a citizen ineligible. Blocking also soft-deletes the
// citizen's confirmed registration, the same side effect the registry
// applies when a voter is struck from the roll.
func (r *CitizenRepository) Block(ctx context.Context, id string) error {
	now := time.Now().UTC()
	const blockQuery = `UPDATE citizens SET blocked = true, updated_at = $2 WHERE id = $1`
	if _, err := r.ext.ExecContext(ctx, blockQuery, id, now); err != nil {
		return fmt.Errorf("block citizen: %w", err)
	}
	const dropQuery = `UPDATE registrations SET deleted = true, updated_at = $2
	WHERE citizen_id = $1 AND deleted = false AND archived_at IS NULL`
	if _, err := r.ext.ExecContext(ctx, dropQuery, id, now); err != nil {
		return fmt.Errorf("drop registrations of blocked citizen: %w", err)
	}
	return nil
}

// Unblock restores a citizen's eligibility. Registrations removed by a
// prior block are not resurrected; the voter must register again.
func (r *CitizenRepository) Unblock(ctx context.Context, id string) error {
	const query = `UPDATE citizens SET blocked = false, updated_at = $2 WHERE id = $1`
	if _, err := r.ext.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("unblock citizen: %w", err)
	}
	return nil
}
