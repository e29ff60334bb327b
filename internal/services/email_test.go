package services

import (
	"context"
	"errors"
	"testing"

	"github.com/huangang/kickoff/backend/internal/config"
	"github.com/huangang/kickoff/backend/internal/models"
	"gopkg.in/gomail.v2"
	"gorm.io/datatypes"
)

func newCapturingEmail(enabled bool) (*EmailService, *[]*gomail.Message) {
	var sent []*gomail.Message
	s := NewEmailService(&config.EmailConfig{Enabled: enabled, Host: "smtp.example.com", Port: 587, Username: "bot@example.com"})
	s.send = func(m *gomail.Message) error {
		sent = append(sent, m)
		return nil
	}
	return s, &sent
}

func testDraft() *models.Draft {
	return &models.Draft{
		ID:            "d1",
		Snapshot:      datatypes.NewJSONType(models.ProjectSubmission{Name: "Climate Pipeline"}),
		Status:        models.DraftStatusPendingApproval,
		ApproverEmail: "lead@example.com",
		ApproverNotes: "Looks good",
		OwnerEmail:    "owner@example.com",
	}
}

func TestEmailService_Recipients(t *testing.T) {
	s, sent := newCapturingEmail(true)
	ctx := context.Background()
	d := testDraft()

	if err := s.DraftSubmitted(ctx, d, "https://kickoff.example.com/review/tok"); err != nil {
		t.Fatalf("DraftSubmitted() error = %v", err)
	}
	if err := s.DraftApproved(ctx, d, true); err != nil {
		t.Fatalf("DraftApproved() error = %v", err)
	}
	if err := s.ChangesRequested(ctx, d); err != nil {
		t.Fatalf("ChangesRequested() error = %v", err)
	}

	tests := []struct {
		to      string
		subject string
	}{
		{"lead@example.com", "[Kickoff] Review requested: Climate Pipeline"},
		{"owner@example.com", "[Kickoff] Approved: Climate Pipeline"},
		{"owner@example.com", "[Kickoff] Changes requested: Climate Pipeline"},
	}
	if len(*sent) != len(tests) {
		t.Fatalf("sent %d messages, expected %d", len(*sent), len(tests))
	}
	for i, tt := range tests {
		m := (*sent)[i]
		if got := m.GetHeader("To"); len(got) != 1 || got[0] != tt.to {
			t.Errorf("message %d To = %v, expected %s", i, got, tt.to)
		}
		if got := m.GetHeader("Subject"); len(got) != 1 || got[0] != tt.subject {
			t.Errorf("message %d Subject = %v, expected %s", i, got, tt.subject)
		}
		if got := m.GetHeader("From"); len(got) != 1 || got[0] != "bot@example.com" {
			t.Errorf("message %d From = %v", i, got)
		}
	}
}

func TestEmailService_Disabled(t *testing.T) {
	s, sent := newCapturingEmail(false)
	if err := s.DraftSubmitted(context.Background(), testDraft(), "https://x/review/t"); err != nil {
		t.Errorf("disabled email should not error, got %v", err)
	}
	if len(*sent) != 0 {
		t.Error("disabled email should not send")
	}
}

func TestEmailService_NoRecipient(t *testing.T) {
	s, sent := newCapturingEmail(true)
	d := testDraft()
	d.OwnerEmail = ""
	if err := s.ChangesRequested(context.Background(), d); err != nil {
		t.Errorf("missing recipient should not error, got %v", err)
	}
	if len(*sent) != 0 {
		t.Error("nothing should be sent without a recipient")
	}
}

func TestEmailService_SendError(t *testing.T) {
	s, _ := newCapturingEmail(true)
	s.send = func(*gomail.Message) error { return errors.New("connection refused") }
	if err := s.DraftApproved(context.Background(), testDraft(), false); err == nil {
		t.Error("send failure should be returned")
	}
}
