package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/pkg/logger"
)

// SubmissionService manages the provisioning sessions users edit before
// checking duplicates and provisioning. Saves are last-writer-wins.
type SubmissionService struct {
	sessions SessionStore
}

func NewSubmissionService(sessions SessionStore) *SubmissionService {
	return &SubmissionService{sessions: sessions}
}

func (s *SubmissionService) Create(ctx context.Context, ownerID uint, sub *models.ProjectSubmission) (*models.ProvisioningSession, error) {
	session := models.NewProvisioningSession(uuid.NewString(), ownerID)
	if sub != nil {
		if err := sub.Validate(); err != nil {
			return nil, err
		}
		session.SetSubmission(*sub)
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	logger.Info().Str("session", session.ID).Uint("owner", ownerID).Msg("[Submission] Created")
	return session, nil
}

func (s *SubmissionService) Get(ctx context.Context, ownerID uint, id string) (*models.ProvisioningSession, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != ownerID {
		return nil, fmt.Errorf("session %s: %w", id, ErrForbidden)
	}
	return session, nil
}

func (s *SubmissionService) List(ctx context.Context, ownerID uint, includeArchived bool) ([]models.ProvisioningSession, error) {
	return s.sessions.ListByOwner(ctx, ownerID, includeArchived)
}

// Update replaces the submission snapshot. Created resources are kept.
func (s *SubmissionService) Update(ctx context.Context, ownerID uint, id string, sub models.ProjectSubmission) (*models.ProvisioningSession, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	session, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	session.SetSubmission(sub)
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SubmissionService) Delete(ctx context.Context, ownerID uint, id string) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, id)
}

type ResourcesResponse struct {
	Resources models.CreatedResourceSet `json:"resources"`
	Complete  bool                      `json:"complete"`
	Failures  []models.StepFailure      `json:"failures"`
	Archived  bool                      `json:"archived"`
}

func (s *SubmissionService) Resources(ctx context.Context, ownerID uint, id string) (*ResourcesResponse, error) {
	session, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	rs := session.ResourceSet()
	return &ResourcesResponse{
		Resources: rs,
		Complete:  rs.Complete(),
		Failures:  session.LastFailures.Data(),
		Archived:  session.Archived,
	}, nil
}
