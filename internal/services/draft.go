package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/pkg/logger"
	"gorm.io/datatypes"
)

const (
	shareTokenBytes    = 32
	shareTokenAttempts = 5
)

// enqueuer is the part of TaskQueue the draft workflow needs.
type enqueuer interface {
	Enqueue(task *ProvisionTask) error
}

type DraftService struct {
	repo          DraftRepository
	sessions      SessionStore
	notifier      Notifier
	queue         enqueuer
	publicBaseURL string
	now           func() time.Time
	newToken      func() (string, error)
}

func NewDraftService(repo DraftRepository, sessions SessionStore, notifier Notifier, queue enqueuer, publicBaseURL string) *DraftService {
	return &DraftService{
		repo:          repo,
		sessions:      sessions,
		notifier:      notifier,
		queue:         queue,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		now:           time.Now,
		newToken:      newShareToken,
	}
}

// newShareToken returns 32 random bytes, base64url encoded without padding.
func newShareToken() (string, error) {
	b := make([]byte, shareTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ReviewURL is the link an approver opens to review a draft.
func (s *DraftService) ReviewURL(token string) string {
	return s.publicBaseURL + "/review/" + token
}

func (s *DraftService) mintShareToken(ctx context.Context) (string, error) {
	for i := 0; i < shareTokenAttempts; i++ {
		token, err := s.newToken()
		if err != nil {
			return "", fmt.Errorf("failed to generate share token: %w", err)
		}
		taken, err := s.repo.ShareTokenExists(ctx, token)
		if err != nil {
			return "", err
		}
		if !taken {
			return token, nil
		}
		logger.Warnf("[Draft] Share token collision, retrying (%d/%d)", i+1, shareTokenAttempts)
	}
	return "", errors.New("could not mint a unique share token")
}

// Create saves a new draft owned by owner.
func (s *DraftService) Create(ctx context.Context, owner *models.User, snapshot models.ProjectSubmission) (*models.Draft, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	token, err := s.mintShareToken(ctx)
	if err != nil {
		return nil, err
	}

	d := &models.Draft{
		ID:         uuid.NewString(),
		ShareToken: token,
		Status:     models.DraftStatusDraft,
		CreatedBy:  owner.ID,
		OwnerEmail: owner.Email,
	}
	snapshot.ID = d.ID
	d.Snapshot = datatypes.NewJSONType(snapshot)
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}

	logger.Info().Str("draft", d.ID).Uint("owner", owner.ID).Msg("[Draft] Created")
	LogReference(LevelInfo, "Draft", "create", d.ID, fmt.Sprintf("Draft %q created", snapshot.TrimmedName()), &owner.ID, nil)
	return d, nil
}

func (s *DraftService) loadOwned(ctx context.Context, requesterID uint, id string) (*models.Draft, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.CreatedBy != requesterID {
		return nil, fmt.Errorf("draft %s: %w", id, ErrForbidden)
	}
	return d, nil
}

func (s *DraftService) Get(ctx context.Context, requesterID uint, id string) (*models.Draft, error) {
	return s.loadOwned(ctx, requesterID, id)
}

func (s *DraftService) List(ctx context.Context, ownerID uint) ([]models.Draft, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// GetByToken is the review surface lookup.
func (s *DraftService) GetByToken(ctx context.Context, token string) (*models.Draft, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("draft: %w", ErrNotFound)
	}
	return s.repo.GetByShareToken(ctx, token)
}

func (s *DraftService) revise(ctx context.Context, d *models.Draft, snapshot models.ProjectSubmission) (*models.Draft, error) {
	if err := d.Revise(snapshot); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Update replaces the snapshot of an owned draft in any non-approved state.
func (s *DraftService) Update(ctx context.Context, requesterID uint, id string, snapshot models.ProjectSubmission) (*models.Draft, error) {
	d, err := s.loadOwned(ctx, requesterID, id)
	if err != nil {
		return nil, err
	}
	return s.revise(ctx, d, snapshot)
}

// UpdateByToken lets a reviewer edit the snapshot before deciding.
func (s *DraftService) UpdateByToken(ctx context.Context, token string, snapshot models.ProjectSubmission) (*models.Draft, error) {
	d, err := s.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.revise(ctx, d, snapshot)
}

func (s *DraftService) SubmitForApproval(ctx context.Context, requesterID uint, id, approverEmail string) (*models.Draft, error) {
	d, err := s.loadOwned(ctx, requesterID, id)
	if err != nil {
		return nil, err
	}
	if err := d.Submit(approverEmail, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	if err := s.notifier.DraftSubmitted(ctx, d, s.ReviewURL(d.ShareToken)); err != nil {
		logger.Warnf("[Draft] Could not notify approver for %s: %v", d.ID, err)
	}
	LogReference(LevelInfo, "Draft", "submit", d.ID, "Submitted for approval to "+d.ApproverEmail, &requesterID, nil)
	return d, nil
}

// Approve accepts a pending draft. With ApprovalCreate the submission is
// copied into a provisioning session keyed by the draft id and a job is
// queued for the owner. The draft is only marked approved once the job is
// queued, so a queue failure leaves it pending.
func (s *DraftService) Approve(ctx context.Context, token, notes string, mode ApprovalModeInput) (*models.Draft, error) {
	approval, err := mode.parse()
	if err != nil {
		return nil, err
	}
	d, err := s.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := d.Approve(notes, now); err != nil {
		return nil, err
	}

	provisioning := approval == models.ApprovalCreate
	if provisioning {
		if err := s.prepareSession(ctx, d); err != nil {
			return nil, err
		}
		task := &ProvisionTask{SessionID: d.ID, OwnerID: d.CreatedBy, DraftID: d.ID}
		if err := s.queue.Enqueue(task); err != nil {
			return nil, fmt.Errorf("failed to queue provisioning: %w", err)
		}
		d.ProvisionJobAt = &now
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	if err := s.notifier.DraftApproved(ctx, d, provisioning); err != nil {
		logger.Warnf("[Draft] Could not notify owner of approval for %s: %v", d.ID, err)
	}
	LogReference(LevelInfo, "Draft", "approve", d.ID, fmt.Sprintf("Approved by %s (mode %s)", d.ApproverEmail, approval), nil, nil)
	return d, nil
}

func (s *DraftService) prepareSession(ctx context.Context, d *models.Draft) error {
	session, err := s.sessions.Get(ctx, d.ID)
	if errors.Is(err, ErrNotFound) {
		session = models.NewProvisioningSession(d.ID, d.CreatedBy)
	} else if err != nil {
		return err
	}
	session.DraftID = d.ID
	session.SetSubmission(d.Submission())
	return s.sessions.Save(ctx, session)
}

func (s *DraftService) RequestChanges(ctx context.Context, token, notes string) (*models.Draft, error) {
	d, err := s.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := d.RequestChanges(notes, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	if err := s.notifier.ChangesRequested(ctx, d); err != nil {
		logger.Warnf("[Draft] Could not notify owner of change request for %s: %v", d.ID, err)
	}
	LogReference(LevelInfo, "Draft", "request_changes", d.ID, "Changes requested by "+d.ApproverEmail, nil, nil)
	return d, nil
}

// Delete removes an owned draft in any state.
func (s *DraftService) Delete(ctx context.Context, requesterID uint, id string) error {
	d, err := s.loadOwned(ctx, requesterID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, d.ID); err != nil {
		return err
	}
	LogReference(LevelInfo, "Draft", "delete", d.ID, "Draft deleted", &requesterID, nil)
	return nil
}

// ApprovalModeInput is the approval mode as sent by a client.
type ApprovalModeInput string

func (m ApprovalModeInput) parse() (models.ApprovalMode, error) {
	switch models.ApprovalMode(strings.ToLower(strings.TrimSpace(string(m)))) {
	case "", models.ApprovalReturn:
		return models.ApprovalReturn, nil
	case models.ApprovalCreate:
		return models.ApprovalCreate, nil
	}
	return "", &models.ValidationError{Field: "mode", Message: fmt.Sprintf("unknown approval mode %q", m)}
}

func sortDraftsByUpdated(drafts []models.Draft) {
	sort.SliceStable(drafts, func(i, j int) bool {
		return drafts[i].UpdatedAt.After(drafts[j].UpdatedAt)
	})
}
