package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/evr-admin-api/internal/dto"
	"github.com/noah-isme/evr-admin-api/internal/models"
	appErrors "github.com/noah-isme/evr-admin-api/pkg/errors"
)

type centerStore interface {
	GetByID(ctx context.Context, id string) (*models.RegistrationCenter, error)
	List(ctx context.Context, filter models.CenterFilter) ([]models.RegistrationCenter, int, error)
	Update(ctx context.Context, center *models.RegistrationCenter) error
}

type centerCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	BumpVersion(ctx context.Context, name string) error
	Version(ctx context.Context, name string) (int64, error)
}

type centerListPage struct {
	Centers []models.RegistrationCenter `json:"centers"`
	Total   int                         `json:"total"`
}

// CenterService serves registration-center reads through a versioned
// cache and applies the rare administrative edits.
type CenterService struct {
	repo   centerStore
	cache  centerCache
	audit  auditLogger
	ttl    time.Duration
	logger *zap.Logger
}

const centerCacheVersion = "centers"

// NewCenterService constructs the service.
func NewCenterService(repo centerStore, cache centerCache, audit auditLogger, ttl time.Duration, logger *zap.Logger) *CenterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CenterService{repo: repo, cache: cache, audit: audit, ttl: ttl, logger: logger}
}

// Get returns one center.
func (s *CenterService) Get(ctx context.Context, id string) (*models.RegistrationCenter, error) {
	center, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load center")
	}
	return center, nil
}

// List returns centers matching the query, served from cache when the
// same page was requested since the last center edit.
func (s *CenterService) List(ctx context.Context, query dto.CenterQuery) ([]models.RegistrationCenter, int, error) {
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	page := query.Page
	if page <= 0 {
		page = 1
	}
	filter := models.CenterFilter{
		Search:  strings.TrimSpace(query.Search),
		RegOpen: query.RegOpen,
		Limit:   pageSize,
		Offset:  (page - 1) * pageSize,
	}

	key := s.cacheKey(ctx, filter)
	if key != "" {
		var cached centerListPage
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached.Centers, cached.Total, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("center cache read failed", zap.Error(err))
		}
	}

	centers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list centers")
	}
	if key != "" {
		if err := s.cache.Set(ctx, key, centerListPage{Centers: centers, Total: total}, s.ttl); err != nil {
			s.logger.Warn("center cache write failed", zap.Error(err))
		}
	}
	return centers, total, nil
}

// Update edits a center and invalidates all cached listings by bumping
// the version counter folded into every cache key.
func (s *CenterService) Update(ctx context.Context, id string, req dto.UpdateCenterRequest, actor *models.JWTClaims) (*models.RegistrationCenter, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.MayEditChangesets() {
		return nil, appErrors.ErrForbidden
	}
	center, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		center.Name = strings.TrimSpace(*req.Name)
	}
	if req.RegOpen != nil {
		center.RegOpen = *req.RegOpen
	}
	if center.Name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "name is required")
	}
	if err := s.repo.Update(ctx, center); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update center")
	}
	if err := s.cache.BumpVersion(ctx, centerCacheVersion); err != nil {
		s.logger.Warn("center cache invalidation failed", zap.Error(err))
	}
	if s.audit != nil {
		log := &models.AuditLog{
			UserID:     &actor.UserID,
			Action:     models.AuditActionCenterUpdate,
			Resource:   "center",
			ResourceID: &center.ID,
			IPAddress:  "system",
			UserAgent:  "center-service",
		}
		if err := s.audit.CreateAuditLog(ctx, log); err != nil {
			s.logger.Warn("failed to persist audit log", zap.Error(err))
		}
	}
	return center, nil
}

func (s *CenterService) cacheKey(ctx context.Context, filter models.CenterFilter) string {
	version, err := s.cache.Version(ctx, centerCacheVersion)
	if err != nil {
		s.logger.Warn("center cache version read failed", zap.Error(err))
		return ""
	}
	regOpen := "any"
	if filter.RegOpen != nil {
		regOpen = fmt.Sprintf("%t", *filter.RegOpen)
	}
	return fmt.Sprintf("centers:v%d:s=%s:o=%s:l=%d:f=%d", version, filter.Search, regOpen, filter.Limit, filter.Offset)
}
