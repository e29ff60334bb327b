package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// DraftStatus is the review state of a draft. Only the four declared values
// exist; parsing, scanning and decoding reject anything else.
type DraftStatus string

const (
	DraftStatusDraft            DraftStatus = "Draft"
	DraftStatusPendingApproval  DraftStatus = "PendingApproval"
	DraftStatusApproved         DraftStatus = "Approved"
	DraftStatusChangesRequested DraftStatus = "ChangesRequested"
)

type draftEvent string

const (
	eventSubmit         draftEvent = "submit"
	eventApprove        draftEvent = "approve"
	eventRequestChanges draftEvent = "request_changes"
)

var draftTransitions = map[DraftStatus]map[draftEvent]DraftStatus{
	DraftStatusDraft: {
		eventSubmit: DraftStatusPendingApproval,
	},
	DraftStatusChangesRequested: {
		eventSubmit: DraftStatusPendingApproval,
	},
	DraftStatusPendingApproval: {
		eventApprove:        DraftStatusApproved,
		eventRequestChanges: DraftStatusChangesRequested,
	},
	DraftStatusApproved: {},
}

func ParseDraftStatus(s string) (DraftStatus, error) {
	st := DraftStatus(s)
	if _, ok := draftTransitions[st]; !ok {
		return "", fmt.Errorf("unknown draft status %q", s)
	}
	return st, nil
}

func (s DraftStatus) next(e draftEvent) (DraftStatus, error) {
	to, ok := draftTransitions[s][e]
	if !ok {
		return s, fmt.Errorf("%w: cannot %s a draft in status %s", ErrInvalidTransition, e, s)
	}
	return to, nil
}

// Editable reports whether the snapshot may still be replaced.
func (s DraftStatus) Editable() bool {
	return s != DraftStatusApproved
}

func (s DraftStatus) Value() (driver.Value, error) {
	if _, err := ParseDraftStatus(string(s)); err != nil {
		return nil, err
	}
	return string(s), nil
}

func (s *DraftStatus) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into DraftStatus", src)
	}
	st, err := ParseDraftStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func (s *DraftStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, err := ParseDraftStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ApprovalMode selects what approving a draft does beyond flipping status.
type ApprovalMode string

const (
	ApprovalReturn ApprovalMode = "return"
	ApprovalCreate ApprovalMode = "create"
)

// Draft is a saved submission snapshot travelling through review.
type Draft struct {
	ID             string                                `gorm:"primaryKey;size:64" json:"id"`
	RecordID       string                                `gorm:"size:64" json:"-"` // registry record id when stored remotely
	ShareToken     string                                `gorm:"uniqueIndex;size:64;not null" json:"share_token"`
	Snapshot       datatypes.JSONType[ProjectSubmission] `json:"snapshot"`
	Status         DraftStatus                           `gorm:"size:32;not null;index" json:"status"`
	ApproverEmail  string                                `gorm:"size:255" json:"approver_email"`
	ApproverNotes  string                                `gorm:"type:text" json:"approver_notes"`
	CreatedBy      uint                                  `gorm:"index" json:"created_by"`
	OwnerEmail     string                                `gorm:"size:255" json:"owner_email"`
	SubmittedAt    *time.Time                            `json:"submitted_at,omitempty"`
	DecidedAt      *time.Time                            `json:"decided_at,omitempty"`
	ProvisionJobAt *time.Time                            `json:"provision_job_at,omitempty"`
	CreatedAt      time.Time                             `json:"created_at"`
	UpdatedAt      time.Time                             `json:"updated_at"`
}

func (Draft) TableName() string { return "drafts" }

// Submission returns a copy of the stored snapshot.
func (d *Draft) Submission() ProjectSubmission {
	return d.Snapshot.Data()
}

// Revise replaces the snapshot. Status is unchanged.
func (d *Draft) Revise(snapshot ProjectSubmission) error {
	if !d.Status.Editable() {
		return ErrDraftLocked
	}
	if err := snapshot.Validate(); err != nil {
		return err
	}
	snapshot.ID = d.ID
	d.Snapshot = datatypes.NewJSONType(snapshot)
	return nil
}

// Submit routes the draft to approverEmail for review.
func (d *Draft) Submit(approverEmail string, now time.Time) error {
	approverEmail = strings.TrimSpace(approverEmail)
	if approverEmail == "" {
		return &ValidationError{Field: "approver_email", Message: "approver email is required"}
	}
	if _, err := mail.ParseAddress(approverEmail); err != nil {
		return &ValidationError{Field: "approver_email", Message: fmt.Sprintf("invalid email %q", approverEmail)}
	}
	next, err := d.Status.next(eventSubmit)
	if err != nil {
		return err
	}
	d.Status = next
	d.ApproverEmail = approverEmail
	d.SubmittedAt = &now
	return nil
}

func (d *Draft) Approve(notes string, now time.Time) error {
	next, err := d.Status.next(eventApprove)
	if err != nil {
		return err
	}
	d.Status = next
	d.ApproverNotes = strings.TrimSpace(notes)
	d.DecidedAt = &now
	return nil
}

// RequestChanges sends the draft back to its owner. Notes are mandatory.
func (d *Draft) RequestChanges(notes string, now time.Time) error {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return &ValidationError{Field: "notes", Message: "change request notes are required"}
	}
	next, err := d.Status.next(eventRequestChanges)
	if err != nil {
		return err
	}
	d.Status = next
	d.ApproverNotes = notes
	d.DecidedAt = &now
	return nil
}
