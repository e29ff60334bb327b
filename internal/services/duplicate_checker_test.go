package services

import (
	"context"
	"errors"
	"testing"

	"github.com/huangang/kickoff/backend/internal/config"
	"github.com/huangang/kickoff/backend/internal/integrations/airtable"
	"github.com/huangang/kickoff/backend/internal/integrations/asana"
	"github.com/huangang/kickoff/backend/internal/integrations/gworkspace"
	"github.com/huangang/kickoff/backend/internal/models"
)

func TestContainsEitherWay(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Climate Pipeline", "climate pipeline", true},
		{"Climate Pipeline 2024", "Climate Pipeline", true},
		{"Climate", "Climate Pipeline", true},
		{"Ocean Data", "Climate Pipeline", false},
		{"", "Climate", false},
		{"  Climate  ", "climate", true},
	}
	for _, tt := range tests {
		if got := containsEitherWay(tt.a, tt.b); got != tt.want {
			t.Errorf("containsEitherWay(%q, %q) = %v, expected %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDuplicateChecker_FindsOnEveryPlatform(t *testing.T) {
	conn := newFakeConnector()
	cfg := config.DefaultConfig()
	conn.registry.put(cfg.Airtable.ProjectsTable, airtable.Record{ID: "recA", Fields: map[string]interface{}{airtable.FieldName: "Climate Pipeline Phase 2"}})
	conn.tasks.projects = []asana.Project{{GID: "42", Name: "Climate Pipeline "}}
	conn.documents.add("climate pipeline", gworkspace.MimeTypeFolder, "parent")

	checker := NewDuplicateChecker(conn, cfg)
	got := checker.Check(context.Background(), allTokens(), DuplicateQuery{Name: " Climate Pipeline ", ParentFolderID: "parent"})

	if !got.HasDuplicates {
		t.Fatal("expected duplicates")
	}
	if !got.Registry.Found || got.Registry.MatchedID != "recA" || got.Registry.MatchedURL == "" {
		t.Errorf("registry = %+v", got.Registry)
	}
	if !got.Tasks.Found || got.Tasks.MatchedID != "42" || got.Tasks.MatchedName != "Climate Pipeline" {
		t.Errorf("tasks = %+v", got.Tasks)
	}
	if !got.Documents.Found || got.Documents.UserProvided {
		t.Errorf("documents = %+v", got.Documents)
	}
	if got.For(models.PlatformAsana).MatchedID != "42" {
		t.Errorf("For(asana) = %+v", got.For(models.PlatformAsana))
	}
}

func TestDuplicateChecker_FolderRequiresExactName(t *testing.T) {
	conn := newFakeConnector()
	conn.documents.add("Climate Pipeline Archive", gworkspace.MimeTypeFolder, "parent")

	got := NewDuplicateChecker(conn, config.DefaultConfig()).Check(context.Background(), allTokens(), DuplicateQuery{Name: "Climate Pipeline", ParentFolderID: "parent"})
	if got.Documents.Found {
		t.Errorf("expected no folder match, got %+v", got.Documents)
	}
	if got.HasDuplicates {
		t.Error("expected HasDuplicates = false")
	}
}

func TestDuplicateChecker_UserProvidedLinks(t *testing.T) {
	conn := newFakeConnector()
	conn.registry.listErr = errors.New("must not be called")

	q := DuplicateQuery{
		Name: "Climate Pipeline",
		Existing: models.ExistingResources{
			RegistryURL:    "https://airtable.com/appX/tblY/recZ",
			TaskProjectURL: "https://app.asana.com/0/1207/list",
		},
	}
	got := NewDuplicateChecker(conn, config.DefaultConfig()).Check(context.Background(), allTokens(), q)

	if !got.Registry.Found || !got.Registry.UserProvided || got.Registry.MatchedID != "recZ" {
		t.Errorf("registry = %+v", got.Registry)
	}
	if !got.Tasks.Found || !got.Tasks.UserProvided || got.Tasks.MatchedID != "1207" {
		t.Errorf("tasks = %+v", got.Tasks)
	}
	if got.Documents.Found {
		t.Errorf("documents = %+v", got.Documents)
	}
}

func TestDuplicateChecker_FailuresAreNotFound(t *testing.T) {
	conn := newFakeConnector()
	conn.registry.listErr = &airtable.APIError{StatusCode: 500, Message: "boom"}
	conn.documents.findPanic = true

	// asana has no token
	tokens := StaticTokens{models.PlatformAirtable: "at", models.PlatformGoogle: "go"}
	got := NewDuplicateChecker(conn, config.DefaultConfig()).Check(context.Background(), tokens, DuplicateQuery{Name: "Climate Pipeline"})

	for _, p := range models.Platforms {
		check := got.For(p)
		if check.Found {
			t.Errorf("%s: expected not found, got %+v", p, check)
		}
		if check.Error == "" {
			t.Errorf("%s: expected error to be reported", p)
		}
	}
	if got.HasDuplicates {
		t.Error("expected HasDuplicates = false")
	}
}
