package patientform

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avc/patientforms/internal/screen"
)

// Superusers see and delete every form; everyone else only the forms they
// created.
func scopeOf(o screen.Owner) Scope {
	return Scope{Owner: o.UserID, All: o.Superuser}
}

func canAccess(o screen.Owner, f *PatientForm) bool {
	return o.Superuser || f.CreatedBy == o.UserID
}

type Service struct {
	repo   PatientFormRepository
	logger zerolog.Logger
}

func NewService(repo PatientFormRepository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "patientform").Logger(),
	}
}

func (s *Service) CreatePatientForm(ctx context.Context, owner screen.Owner, f *PatientForm) error {
	if err := f.Validate(); err != nil {
		return err
	}
	f.CreatedBy = owner.UserID
	f.LastUpdatedBy = owner.UserID
	if err := s.repo.Create(ctx, f); err != nil {
		return err
	}
	s.logger.Info().Str("id", f.ID.String()).Str("user", owner.UserID).Msg("patient form created")
	return nil
}

// GetPatientForm hides forms outside the owner's scope behind ErrNotFound.
func (s *Service) GetPatientForm(ctx context.Context, owner screen.Owner, id uuid.UUID) (*PatientForm, error) {
	f, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(owner, f) {
		return nil, ErrNotFound
	}
	return f, nil
}

func (s *Service) UpdatePatientForm(ctx context.Context, owner screen.Owner, f *PatientForm) error {
	if err := f.Validate(); err != nil {
		return err
	}
	existing, err := s.repo.GetByID(ctx, f.ID)
	if err != nil {
		return err
	}
	if !canAccess(owner, existing) {
		return ErrForbidden
	}
	f.CreatedBy = existing.CreatedBy
	f.CreatedAt = existing.CreatedAt
	f.LastUpdatedBy = owner.UserID
	return s.repo.Update(ctx, f)
}

// DeletePatientForms removes the listed forms. Ids that do not parse, do not
// exist or belong to someone else are skipped.
func (s *Service) DeletePatientForms(ctx context.Context, owner screen.Owner, ids []string) (int, error) {
	parsed := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.logger.Debug().Str("id", raw).Msg("skipping malformed patient form id")
			continue
		}
		parsed = append(parsed, id)
	}
	n, err := s.repo.DeleteMany(ctx, scopeOf(owner), parsed)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int("requested", len(ids)).Int("deleted", n).Str("user", owner.UserID).Msg("patient forms deleted")
	return n, nil
}

func (s *Service) ListPatientForms(ctx context.Context, owner screen.Owner, limit, offset int) ([]*PatientForm, int, error) {
	return s.repo.List(ctx, scopeOf(owner), limit, offset)
}
