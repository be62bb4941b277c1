package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/evr-admin-api/internal/models"
)

const centerColumns = `id, code, name, reg_open, deleted, created_at, updated_at`

// CenterRepository reads and updates registration centers.
type CenterRepository struct {
	db *sqlx.DB
}

// NewCenterRepository constructs the repository.
func NewCenterRepository(db *sqlx.DB) *CenterRepository {
	return &CenterRepository{db: db}
}

// GetByID fetches one center.
func (r *CenterRepository) GetByID(ctx context.Context, id string) (*models.RegistrationCenter, error) {
	query := fmt.Sprintf(`SELECT %s FROM centers WHERE id = $1 AND deleted = false`, centerColumns)
	var center models.RegistrationCenter
	if err := r.db.GetContext(ctx, &center, query, id); err != nil {
		return nil, err
	}
	return &center, nil
}

// ListByIDs fetches the centers for the given identifiers.
func (r *CenterRepository) ListByIDs(ctx context.Context, ids []string) ([]models.RegistrationCenter, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		fmt.Sprintf(`SELECT %s FROM centers WHERE id IN (?) AND deleted = false ORDER BY code`, centerColumns), ids)
	if err != nil {
		return nil, fmt.Errorf("build centers query: %w", err)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	var centers []models.RegistrationCenter
	if err := r.db.SelectContext(ctx, &centers, query, args...); err != nil {
		return nil, fmt.Errorf("list centers by ids: %w", err)
	}
	return centers, nil
}

// List returns centers matching the filter ordered by code.
func (r *CenterRepository) List(ctx context.Context, filter models.CenterFilter) ([]models.RegistrationCenter, int, error) {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf(`SELECT %s FROM centers`, centerColumns))
	args := make([]interface{}, 0, 2)

	conditions := []string{"deleted = false"}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR code ILIKE $%d)", len(args), len(args)))
	}
	if filter.RegOpen != nil {
		args = append(args, *filter.RegOpen)
		conditions = append(conditions, fmt.Sprintf("reg_open = $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")
	builder.WriteString(where)
	builder.WriteString(" ORDER BY code")

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM centers"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count centers: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var centers []models.RegistrationCenter
	if err := r.db.SelectContext(ctx, &centers, builder.String(), args...); err != nil {
		return nil, 0, fmt.Errorf("list centers: %w", err)
	}
	return centers, total, nil
}

// Update rewrites the mutable center attributes.
func (r *CenterRepository) Update(ctx context.Context, center *models.RegistrationCenter) error {
	center.UpdatedAt = time.Now().UTC()
	const query = `UPDATE centers SET name = :name, reg_open = :reg_open, updated_at = :updated_at
	WHERE id = :id AND deleted = false`
	result, err := r.db.NamedExecContext(ctx, query, center)
	if err != nil {
		return fmt.Errorf("update center: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check center update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
