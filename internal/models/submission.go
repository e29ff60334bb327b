package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// RoleKey identifies a staffing role on a project. The set is closed and ordered.
type RoleKey string

const (
	RoleProjectCoordinator RoleKey = "project_coordinator"
	RoleProjectLead        RoleKey = "project_lead"
	RoleTechnicalLead      RoleKey = "technical_lead"
	RoleDataManager        RoleKey = "data_manager"
	RoleCommunicationsLead RoleKey = "communications_lead"
	RoleAdvisor            RoleKey = "advisor"
)

// RoleKeys lists every role in display order.
var RoleKeys = []RoleKey{
	RoleProjectCoordinator,
	RoleProjectLead,
	RoleTechnicalLead,
	RoleDataManager,
	RoleCommunicationsLead,
	RoleAdvisor,
}

var roleLabels = map[RoleKey]string{
	RoleProjectCoordinator: "Project Coordinator",
	RoleProjectLead:        "Project Lead",
	RoleTechnicalLead:      "Technical Lead",
	RoleDataManager:        "Data Manager",
	RoleCommunicationsLead: "Communications Lead",
	RoleAdvisor:            "Advisor",
}

func (k RoleKey) Valid() bool {
	_, ok := roleLabels[k]
	return ok
}

func (k RoleKey) Label() string {
	if label, ok := roleLabels[k]; ok {
		return label
	}
	return string(k)
}

// Order returns the position of k in RoleKeys, or -1 if unknown.
func (k RoleKey) Order() int {
	for i, key := range RoleKeys {
		if key == k {
			return i
		}
	}
	return -1
}

func ParseRoleKey(s string) (RoleKey, error) {
	k := RoleKey(strings.TrimSpace(strings.ToLower(s)))
	if !k.Valid() {
		return "", &ValidationError{Field: "role_key", Message: fmt.Sprintf("unknown role %q", s)}
	}
	return k, nil
}

type RoleAssignment struct {
	RoleKey    RoleKey `json:"role_key"`
	MemberID   string  `json:"member_id"` // registry Members record id
	MemberName string  `json:"member_name"`
	FTE        float64 `json:"fte"` // percent of full time
}

type Outcome struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	DueDate      string `json:"due_date"`
	AssigneeID   string `json:"assignee_id,omitempty"`
	AssigneeName string `json:"assignee_name,omitempty"`
}

// Key identifies an outcome across saves of the same submission.
func (o Outcome) Key() string {
	return strings.ToLower(strings.TrimSpace(o.Name)) + "|" + o.DueDate
}

// ExistingResources holds links the submitter already has for a platform.
type ExistingResources struct {
	RegistryURL    string `json:"registry_url,omitempty"`
	TaskProjectURL string `json:"task_project_url,omitempty"`
	FolderURL      string `json:"folder_url,omitempty"`
}

// ProjectSubmission is the snapshot consumed by duplicate checks and provisioning.
type ProjectSubmission struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Acronym     string            `json:"acronym"`
	StartDate   string            `json:"start_date"`
	EndDate     string            `json:"end_date"`
	Description string            `json:"description"`
	Objectives  string            `json:"objectives"`
	Roles       []RoleAssignment  `json:"roles"`
	Outcomes    []Outcome         `json:"outcomes"`
	Existing    ExistingResources `json:"existing_resources"`
}

// Validate checks the submission shape. It does not require a complete
// submission, since drafts are saved while still being filled in.
func (s *ProjectSubmission) Validate() error {
	seen := make(map[RoleKey]bool)
	for _, r := range s.Roles {
		if !r.RoleKey.Valid() {
			return &ValidationError{Field: "roles", Message: fmt.Sprintf("unknown role %q", r.RoleKey)}
		}
		if seen[r.RoleKey] {
			return &ValidationError{Field: "roles", Message: fmt.Sprintf("role %q assigned twice", r.RoleKey)}
		}
		seen[r.RoleKey] = true
		if r.FTE < 0 || r.FTE > 100 {
			return &ValidationError{Field: "roles", Message: fmt.Sprintf("fte for %s must be between 0 and 100", r.RoleKey)}
		}
	}

	var start, end time.Time
	var err error
	if s.StartDate != "" {
		if start, err = time.Parse(DateLayout, s.StartDate); err != nil {
			return &ValidationError{Field: "start_date", Message: "expected YYYY-MM-DD"}
		}
	}
	if s.EndDate != "" {
		if end, err = time.Parse(DateLayout, s.EndDate); err != nil {
			return &ValidationError{Field: "end_date", Message: "expected YYYY-MM-DD"}
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return &ValidationError{Field: "end_date", Message: "end date is before start date"}
	}

	for i, o := range s.Outcomes {
		if strings.TrimSpace(o.Name) == "" {
			return &ValidationError{Field: "outcomes", Message: fmt.Sprintf("outcome %d has no name", i+1)}
		}
		if o.DueDate != "" {
			if _, err := time.Parse(DateLayout, o.DueDate); err != nil {
				return &ValidationError{Field: "outcomes", Message: fmt.Sprintf("outcome %q: due date must be YYYY-MM-DD", o.Name)}
			}
		}
	}

	links := map[string]string{
		"registry_url":     s.Existing.RegistryURL,
		"task_project_url": s.Existing.TaskProjectURL,
		"folder_url":       s.Existing.FolderURL,
	}
	for field, link := range links {
		if link == "" {
			continue
		}
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{Field: field, Message: fmt.Sprintf("malformed url %q", link)}
		}
	}
	return nil
}

// ValidateForProvisioning additionally requires the fields every platform needs.
func (s *ProjectSubmission) ValidateForProvisioning() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Field: "name", Message: "project name is required"}
	}
	return s.Validate()
}

// Role returns the assignment for key, if any.
func (s *ProjectSubmission) Role(key RoleKey) (RoleAssignment, bool) {
	for _, r := range s.Roles {
		if r.RoleKey == key {
			return r, true
		}
	}
	return RoleAssignment{}, false
}

// OrderedRoles returns assigned roles sorted by RoleKeys order, skipping
// roles without a member.
func (s *ProjectSubmission) OrderedRoles() []RoleAssignment {
	var out []RoleAssignment
	for _, key := range RoleKeys {
		if r, ok := s.Role(key); ok && strings.TrimSpace(r.MemberName) != "" {
			out = append(out, r)
		}
	}
	return out
}

// TrimmedName is the project name used for lookups on every platform.
func (s *ProjectSubmission) TrimmedName() string {
	return strings.TrimSpace(s.Name)
}
