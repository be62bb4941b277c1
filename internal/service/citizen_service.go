package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/evr-admin-api/internal/models"
	appErrors "github.com/noah-isme/evr-admin-api/pkg/errors"
)

type citizenStore interface {
	GetByID(ctx context.Context, id string) (*models.Citizen, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Citizen, error)
}

type registrationReader interface {
	ListConfirmedByCitizens(ctx context.Context, citizenIDs []string) ([]models.Registration, error)
}

// CitizenProfile bundles a citizen with their live registration, if any.
type CitizenProfile struct {
	Citizen      models.Citizen       `json:"citizen"`
	Registration *models.Registration `json:"registration,omitempty"`
}

// CitizenService exposes read access to the civil-registry mirror.
// Mutations to citizens happen only through changeset executions.
type CitizenService struct {
	citizens      citizenStore
	registrations registrationReader
	logger        *zap.Logger
}

// NewCitizenService constructs the service.
func NewCitizenService(citizens citizenStore, registrations registrationReader, logger *zap.Logger) *CitizenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CitizenService{citizens: citizens, registrations: registrations, logger: logger}
}

// Get returns a citizen together with their confirmed registration.
func (s *CitizenService) Get(ctx context.Context, id string) (*CitizenProfile, error) {
	citizen, err := s.citizens.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load citizen")
	}
	profile := &CitizenProfile{Citizen: *citizen}
	registrations, err := s.registrations.ListConfirmedByCitizens(ctx, []string{id})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if len(registrations) > 0 {
		reg := registrations[0]
		profile.Registration = &reg
	}
	return profile, nil
}

// Lookup returns the citizens matching the given identifiers, preserving
// only those that exist. Authoring screens use it to validate uploads.
func (s *CitizenService) Lookup(ctx context.Context, ids []string) ([]models.Citizen, error) {
	if len(ids) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one citizen id is required")
	}
	citizens, err := s.citizens.ListByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up citizens")
	}
	return citizens, nil
}
