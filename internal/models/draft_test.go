package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gorm.io/datatypes"
)

func newTestDraft(status DraftStatus) *Draft {
	return &Draft{
		ID:         "d1",
		ShareToken: "tok",
		Status:     status,
		Snapshot:   datatypes.NewJSONType(ProjectSubmission{Name: "Climate Pipeline"}),
	}
}

func TestParseDraftStatus(t *testing.T) {
	for _, s := range []string{"Draft", "PendingApproval", "Approved", "ChangesRequested"} {
		if _, err := ParseDraftStatus(s); err != nil {
			t.Errorf("ParseDraftStatus(%q) error = %v", s, err)
		}
	}
	for _, s := range []string{"", "draft", "Rejected"} {
		if _, err := ParseDraftStatus(s); err == nil {
			t.Errorf("ParseDraftStatus(%q) should fail", s)
		}
	}
}

func TestDraftStatus_UnmarshalRejectsUnknown(t *testing.T) {
	var s DraftStatus
	if err := json.Unmarshal([]byte(`"Archived"`), &s); err == nil {
		t.Error("expected error for unknown status")
	}
	if err := json.Unmarshal([]byte(`"Approved"`), &s); err != nil || s != DraftStatusApproved {
		t.Errorf("Unmarshal = %q, %v", s, err)
	}
}

func TestDraftStatus_Scan(t *testing.T) {
	var s DraftStatus
	if err := s.Scan([]byte("PendingApproval")); err != nil || s != DraftStatusPendingApproval {
		t.Errorf("Scan = %q, %v", s, err)
	}
	if err := s.Scan("Bogus"); err == nil {
		t.Error("expected error scanning unknown status")
	}
	if _, err := DraftStatus("Bogus").Value(); err == nil {
		t.Error("expected error valuing unknown status")
	}
}

func TestDraft_Submit(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		from    DraftStatus
		email   string
		want    DraftStatus
		wantErr bool
	}{
		{"from draft", DraftStatusDraft, "boss@example.com", DraftStatusPendingApproval, false},
		{"reshare after changes", DraftStatusChangesRequested, "boss@example.com", DraftStatusPendingApproval, false},
		{"already pending", DraftStatusPendingApproval, "boss@example.com", DraftStatusPendingApproval, true},
		{"approved", DraftStatusApproved, "boss@example.com", DraftStatusApproved, true},
		{"missing email", DraftStatusDraft, "", DraftStatusDraft, true},
		{"bad email", DraftStatusDraft, "not-an-email", DraftStatusDraft, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDraft(tt.from)
			err := d.Submit(tt.email, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Submit() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d.Status != tt.want {
				t.Errorf("status = %s, expected %s", d.Status, tt.want)
			}
			if tt.wantErr && d.ApproverEmail != "" {
				t.Error("failed submit should not record approver")
			}
		})
	}
}

func TestDraft_RequestChanges(t *testing.T) {
	now := time.Now()

	d := newTestDraft(DraftStatusPendingApproval)
	err := d.RequestChanges("   ", now)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if d.Status != DraftStatusPendingApproval || d.ApproverNotes != "" {
		t.Error("empty notes must not mutate the draft")
	}

	if err := d.RequestChanges("Please add dates", now); err != nil {
		t.Fatalf("RequestChanges() error = %v", err)
	}
	if d.Status != DraftStatusChangesRequested {
		t.Errorf("status = %s, expected ChangesRequested", d.Status)
	}
	if d.ApproverNotes != "Please add dates" {
		t.Errorf("notes = %q", d.ApproverNotes)
	}
}

func TestDraft_ApproveOnlyFromPending(t *testing.T) {
	now := time.Now()
	for _, from := range []DraftStatus{DraftStatusDraft, DraftStatusChangesRequested, DraftStatusApproved} {
		d := newTestDraft(from)
		if err := d.Approve("", now); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Approve from %s: expected ErrInvalidTransition, got %v", from, err)
		}
		if d.Status != from {
			t.Errorf("status changed from %s to %s", from, d.Status)
		}
	}

	d := newTestDraft(DraftStatusPendingApproval)
	if err := d.Approve("looks good", now); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if d.Status != DraftStatusApproved || d.DecidedAt == nil {
		t.Error("approve did not record decision")
	}
}

func TestDraft_Revise(t *testing.T) {
	d := newTestDraft(DraftStatusChangesRequested)
	if err := d.Revise(ProjectSubmission{Name: "Renamed"}); err != nil {
		t.Fatalf("Revise() error = %v", err)
	}
	if d.Status != DraftStatusChangesRequested {
		t.Error("revise should not change status")
	}
	if got := d.Submission(); got.Name != "Renamed" || got.ID != "d1" {
		t.Errorf("snapshot = %+v", got)
	}

	d.Status = DraftStatusApproved
	if err := d.Revise(ProjectSubmission{Name: "Again"}); !errors.Is(err, ErrDraftLocked) {
		t.Errorf("expected ErrDraftLocked, got %v", err)
	}
}
