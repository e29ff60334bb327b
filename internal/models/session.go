package models

import (
	"time"

	"gorm.io/datatypes"
)

// StepFailure records why a provisioning step did not complete.
type StepFailure struct {
	Step     string    `json:"step"`
	Platform Platform  `json:"platform"`
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// ProvisioningSession is the in-progress state of one submission, keyed by
// submission id.
type ProvisioningSession struct {
	ID           string                                 `gorm:"primaryKey;size:64" json:"id"`
	OwnerID      uint                                   `gorm:"index" json:"owner_id"`
	DraftID      string                                 `gorm:"size:64;index" json:"draft_id,omitempty"`
	Submission   datatypes.JSONType[ProjectSubmission]  `json:"submission"`
	Resources    datatypes.JSONType[CreatedResourceSet] `json:"resources"`
	LastFailures datatypes.JSONType[[]StepFailure]      `json:"last_failures"`
	Archived     bool                                   `gorm:"index" json:"archived"`
	ArchivedAt   *time.Time                             `json:"archived_at,omitempty"`
	CreatedAt    time.Time                              `json:"created_at"`
	UpdatedAt    time.Time                              `gorm:"index" json:"updated_at"`
}

func (ProvisioningSession) TableName() string { return "provisioning_sessions" }

func NewProvisioningSession(id string, ownerID uint) *ProvisioningSession {
	now := time.Now()
	return &ProvisioningSession{
		ID:         id,
		OwnerID:    ownerID,
		Submission: datatypes.NewJSONType(ProjectSubmission{ID: id}),
		Resources:  datatypes.NewJSONType(CreatedResourceSet{}),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ResourceSet returns a copy of the stored resources.
func (s *ProvisioningSession) ResourceSet() CreatedResourceSet {
	return s.Resources.Data()
}

func (s *ProvisioningSession) SetResources(rs CreatedResourceSet) {
	s.Resources = datatypes.NewJSONType(rs)
}

func (s *ProvisioningSession) SetSubmission(sub ProjectSubmission) {
	sub.ID = s.ID
	s.Submission = datatypes.NewJSONType(sub)
}

// Archive marks the session finished once a registry record exists and
// every produced link has been written back to it.
func (s *ProvisioningSession) Archive(now time.Time) bool {
	rs := s.ResourceSet()
	if s.Archived || rs.RegistryRecordID == "" || rs.CrossLinkFingerprint != rs.LinkFingerprint() {
		return false
	}
	s.Archived = true
	s.ArchivedAt = &now
	return true
}
