package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// ResourceField names a recreatable entry of a CreatedResourceSet.
type ResourceField string

const (
	FieldTaskProject    ResourceField = "task_project"
	FieldMilestones     ResourceField = "milestones"
	FieldFolder         ResourceField = "folder"
	FieldDocument       ResourceField = "scoping_document"
	FieldDeck           ResourceField = "kickoff_deck"
	FieldRegistryRecord ResourceField = "registry_record"
	FieldRegistryLinks  ResourceField = "registry_links"
)

func ParseResourceField(s string) (ResourceField, error) {
	f := ResourceField(strings.TrimSpace(s))
	switch f {
	case FieldTaskProject, FieldMilestones, FieldFolder, FieldDocument, FieldDeck, FieldRegistryRecord, FieldRegistryLinks:
		return f, nil
	}
	return "", &ValidationError{Field: "recreate", Message: "unknown resource " + s}
}

// CreatedResourceSet accumulates the artifacts produced by provisioning.
// Every setter is set-once: a populated field keeps its value until Reset
// names it explicitly.
type CreatedResourceSet struct {
	RegistryRecordID     string            `json:"registry_record_id,omitempty"`
	RegistryRecordURL    string            `json:"registry_record_url,omitempty"`
	TaskProjectID        string            `json:"task_project_id,omitempty"`
	TaskProjectURL       string            `json:"task_project_url,omitempty"`
	FolderID             string            `json:"folder_id,omitempty"`
	FolderURL            string            `json:"folder_url,omitempty"`
	DocumentID           string            `json:"document_id,omitempty"`
	DocumentURL          string            `json:"document_url,omitempty"`
	DeckID               string            `json:"deck_id,omitempty"`
	DeckURL              string            `json:"deck_url,omitempty"`
	MilestonesCreated    bool              `json:"milestones_created"`
	MilestoneTaskIDs     map[string]string `json:"milestone_task_ids,omitempty"`
	DocumentPopulated    bool              `json:"document_populated"`
	DeckPopulated        bool              `json:"deck_populated"`
	RegistryLinksCreated bool              `json:"registry_links_created"`
	AssignmentRecordIDs  map[string]string `json:"assignment_record_ids,omitempty"`
	MilestoneRecordIDs   map[string]string `json:"milestone_record_ids,omitempty"`
	CrossLinkFingerprint string            `json:"cross_link_fingerprint,omitempty"`
}

func setOnce(id, url *string, newID, newURL string) bool {
	if *id != "" || newID == "" {
		return false
	}
	*id = newID
	*url = newURL
	return true
}

func (r *CreatedResourceSet) SetRegistryRecord(id, url string) bool {
	return setOnce(&r.RegistryRecordID, &r.RegistryRecordURL, id, url)
}

func (r *CreatedResourceSet) SetTaskProject(id, url string) bool {
	return setOnce(&r.TaskProjectID, &r.TaskProjectURL, id, url)
}

func (r *CreatedResourceSet) SetFolder(id, url string) bool {
	return setOnce(&r.FolderID, &r.FolderURL, id, url)
}

func (r *CreatedResourceSet) SetDocument(id, url string) bool {
	return setOnce(&r.DocumentID, &r.DocumentURL, id, url)
}

func (r *CreatedResourceSet) SetDeck(id, url string) bool {
	return setOnce(&r.DeckID, &r.DeckURL, id, url)
}

func addOnce(m *map[string]string, key, id string) bool {
	if *m == nil {
		*m = make(map[string]string)
	}
	if _, ok := (*m)[key]; ok || id == "" {
		return false
	}
	(*m)[key] = id
	return true
}

// AddMilestoneTask records the task created for an outcome. An outcome
// that already has a task keeps it.
func (r *CreatedResourceSet) AddMilestoneTask(outcomeKey, taskID string) bool {
	return addOnce(&r.MilestoneTaskIDs, outcomeKey, taskID)
}

func (r *CreatedResourceSet) MilestoneTask(outcomeKey string) (string, bool) {
	id, ok := r.MilestoneTaskIDs[outcomeKey]
	return id, ok
}

// AddAssignmentRecord records the registry assignment row created for a role.
func (r *CreatedResourceSet) AddAssignmentRecord(role RoleKey, recordID string) bool {
	return addOnce(&r.AssignmentRecordIDs, string(role), recordID)
}

func (r *CreatedResourceSet) AssignmentRecord(role RoleKey) (string, bool) {
	id, ok := r.AssignmentRecordIDs[string(role)]
	return id, ok
}

// AddMilestoneRecord records the registry milestone row created for an outcome.
func (r *CreatedResourceSet) AddMilestoneRecord(outcomeKey, recordID string) bool {
	return addOnce(&r.MilestoneRecordIDs, outcomeKey, recordID)
}

func (r *CreatedResourceSet) MilestoneRecord(outcomeKey string) (string, bool) {
	id, ok := r.MilestoneRecordIDs[outcomeKey]
	return id, ok
}

// Merge copies populated fields of other into empty fields of r. It never
// clears or overwrites a populated field.
func (r *CreatedResourceSet) Merge(other CreatedResourceSet) {
	r.SetRegistryRecord(other.RegistryRecordID, other.RegistryRecordURL)
	r.SetTaskProject(other.TaskProjectID, other.TaskProjectURL)
	r.SetFolder(other.FolderID, other.FolderURL)
	r.SetDocument(other.DocumentID, other.DocumentURL)
	r.SetDeck(other.DeckID, other.DeckURL)
	for k, v := range other.MilestoneTaskIDs {
		r.AddMilestoneTask(k, v)
	}
	for k, v := range other.AssignmentRecordIDs {
		addOnce(&r.AssignmentRecordIDs, k, v)
	}
	for k, v := range other.MilestoneRecordIDs {
		r.AddMilestoneRecord(k, v)
	}
	r.MilestonesCreated = r.MilestonesCreated || other.MilestonesCreated
	r.DocumentPopulated = r.DocumentPopulated || other.DocumentPopulated
	r.DeckPopulated = r.DeckPopulated || other.DeckPopulated
	r.RegistryLinksCreated = r.RegistryLinksCreated || other.RegistryLinksCreated
	if r.CrossLinkFingerprint == "" {
		r.CrossLinkFingerprint = other.CrossLinkFingerprint
	}
}

// Reset clears the named fields so the next provisioning run recreates them.
// This is the only way a populated field becomes empty again.
func (r *CreatedResourceSet) Reset(fields ...ResourceField) {
	for _, f := range fields {
		switch f {
		case FieldTaskProject:
			r.TaskProjectID, r.TaskProjectURL = "", ""
			// milestones live inside the project
			r.MilestonesCreated = false
			r.MilestoneTaskIDs = nil
		case FieldMilestones:
			r.MilestonesCreated = false
			r.MilestoneTaskIDs = nil
		case FieldFolder:
			r.FolderID, r.FolderURL = "", ""
		case FieldDocument:
			r.DocumentID, r.DocumentURL = "", ""
			r.DocumentPopulated = false
		case FieldDeck:
			r.DeckID, r.DeckURL = "", ""
			r.DeckPopulated = false
		case FieldRegistryRecord:
			r.RegistryRecordID, r.RegistryRecordURL = "", ""
			r.CrossLinkFingerprint = ""
			// child rows point at the old record
			r.resetRegistryLinks()
		case FieldRegistryLinks:
			r.resetRegistryLinks()
		}
	}
}

func (r *CreatedResourceSet) resetRegistryLinks() {
	r.RegistryLinksCreated = false
	r.AssignmentRecordIDs = nil
	r.MilestoneRecordIDs = nil
}

// Complete reports whether all five primary artifacts exist.
func (r *CreatedResourceSet) Complete() bool {
	return r.RegistryRecordID != "" && r.TaskProjectID != "" && r.FolderID != "" &&
		r.DocumentID != "" && r.DeckID != "" && r.MilestonesCreated
}

// LinkURLs returns the non-registry URLs to back-fill onto the registry record.
func (r *CreatedResourceSet) LinkURLs() map[ResourceField]string {
	out := make(map[ResourceField]string)
	if r.TaskProjectURL != "" {
		out[FieldTaskProject] = r.TaskProjectURL
	}
	if r.FolderURL != "" {
		out[FieldFolder] = r.FolderURL
	}
	if r.DocumentURL != "" {
		out[FieldDocument] = r.DocumentURL
	}
	if r.DeckURL != "" {
		out[FieldDeck] = r.DeckURL
	}
	return out
}

// LinkFingerprint hashes LinkURLs so an unchanged URL set is not written twice.
func (r *CreatedResourceSet) LinkFingerprint() string {
	links := r.LinkURLs()
	if len(links) == 0 {
		return ""
	}
	keys := make([]string, 0, len(links))
	for k := range links {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	h := sha256.New()
	h.Write([]byte(r.RegistryRecordID))
	for _, k := range keys {
		h.Write([]byte("\n" + k + "=" + links[ResourceField(k)]))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
