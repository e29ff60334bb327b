package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/huangang/kickoff/backend/internal/config"
	"github.com/huangang/kickoff/backend/internal/integrations/airtable"
	"github.com/huangang/kickoff/backend/internal/integrations/asana"
	"github.com/huangang/kickoff/backend/internal/integrations/gworkspace"
	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/pkg/logger"
)

const registrySearchLimit = 20

// PlatformCheck is the duplicate lookup result for one platform.
type PlatformCheck struct {
	Found        bool   `json:"found"`
	MatchedID    string `json:"matched_id,omitempty"`
	MatchedURL   string `json:"matched_url,omitempty"`
	MatchedName  string `json:"matched_name,omitempty"`
	UserProvided bool   `json:"user_provided"`
	Error        string `json:"error,omitempty"`
}

type DuplicateCheckResult struct {
	Registry      PlatformCheck `json:"airtable"`
	Tasks         PlatformCheck `json:"asana"`
	Documents     PlatformCheck `json:"google"`
	HasDuplicates bool          `json:"has_duplicates"`
}

func (r *DuplicateCheckResult) For(p models.Platform) PlatformCheck {
	switch p {
	case models.PlatformAirtable:
		return r.Registry
	case models.PlatformAsana:
		return r.Tasks
	case models.PlatformGoogle:
		return r.Documents
	}
	return PlatformCheck{}
}

// DuplicateQuery scopes a duplicate lookup.
type DuplicateQuery struct {
	Name           string
	WorkspaceGID   string
	ParentFolderID string
	Existing       models.ExistingResources
}

type DuplicateChecker struct {
	connector     Connector
	projectsTable string
}

func NewDuplicateChecker(connector Connector, cfg *config.Config) *DuplicateChecker {
	return &DuplicateChecker{connector: connector, projectsTable: cfg.Airtable.ProjectsTable}
}

// Check queries the three platforms concurrently and waits for all of them.
// A branch that fails or panics reports not found.
func (c *DuplicateChecker) Check(ctx context.Context, tokens TokenProvider, q DuplicateQuery) *DuplicateCheckResult {
	result := &DuplicateCheckResult{}
	name := strings.TrimSpace(q.Name)

	branches := []struct {
		platform models.Platform
		out      *PlatformCheck
		userURL  string
		run      func(context.Context, string) (PlatformCheck, error)
	}{
		{models.PlatformAirtable, &result.Registry, q.Existing.RegistryURL, func(ctx context.Context, token string) (PlatformCheck, error) {
			return c.checkRegistry(ctx, token, name)
		}},
		{models.PlatformAsana, &result.Tasks, q.Existing.TaskProjectURL, func(ctx context.Context, token string) (PlatformCheck, error) {
			return c.checkTasks(ctx, token, q.WorkspaceGID, name)
		}},
		{models.PlatformGoogle, &result.Documents, q.Existing.FolderURL, func(ctx context.Context, token string) (PlatformCheck, error) {
			return c.checkDocuments(ctx, token, q.ParentFolderID, name)
		}},
	}

	var wg sync.WaitGroup
	for _, b := range branches {
		if b.userURL != "" {
			*b.out = userProvidedCheck(b.platform, b.userURL)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Str("platform", string(b.platform)).Interface("panic", r).Msg("[DuplicateCheck] Check panicked")
					*b.out = PlatformCheck{Error: fmt.Sprintf("check panicked: %v", r)}
				}
			}()

			if name == "" {
				return
			}
			token, err := tokens.GetValidToken(ctx, b.platform)
			if err == nil {
				var check PlatformCheck
				check, err = b.run(ctx, token)
				if err == nil {
					*b.out = check
					return
				}
			}
			logger.Warn().Str("platform", string(b.platform)).Str("name", name).Err(err).Msg("[DuplicateCheck] Check failed, treating as not found")
			*b.out = PlatformCheck{Error: err.Error()}
		}()
	}
	wg.Wait()

	result.HasDuplicates = result.Registry.Found || result.Tasks.Found || result.Documents.Found
	return result
}

func userProvidedCheck(p models.Platform, link string) PlatformCheck {
	check := PlatformCheck{Found: true, UserProvided: true, MatchedURL: link}
	switch p {
	case models.PlatformAirtable:
		check.MatchedID, _ = airtable.RecordIDFromURL(link)
	case models.PlatformAsana:
		check.MatchedID, _ = asana.ProjectGIDFromURL(link)
	case models.PlatformGoogle:
		check.MatchedID, _ = gworkspace.FolderIDFromURL(link)
	}
	return check
}

// containsEitherWay reports whether either name contains the other, ignoring case.
func containsEitherWay(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func (c *DuplicateChecker) checkRegistry(ctx context.Context, token, name string) (PlatformCheck, error) {
	reg := c.connector.Registry(token)
	records, err := reg.ListRecords(ctx, c.projectsTable, airtable.ListOptions{
		Formula:    airtable.ContainsEitherWayFormula(airtable.FieldName, name),
		MaxRecords: registrySearchLimit,
		Fields:     []string{airtable.FieldName},
	})
	if err != nil {
		return PlatformCheck{}, remote(models.PlatformAirtable, err)
	}
	for _, rec := range records {
		recName := rec.StringField(airtable.FieldName)
		if containsEitherWay(recName, name) {
			return PlatformCheck{
				Found:       true,
				MatchedID:   rec.ID,
				MatchedURL:  reg.RecordURL(c.projectsTable, rec.ID),
				MatchedName: recName,
			}, nil
		}
	}
	return PlatformCheck{}, nil
}

func (c *DuplicateChecker) checkTasks(ctx context.Context, token, workspace, name string) (PlatformCheck, error) {
	projects, err := c.connector.Tasks(token).SearchProjects(ctx, workspace, name)
	if err != nil {
		return PlatformCheck{}, remote(models.PlatformAsana, err)
	}
	for _, p := range projects {
		if containsEitherWay(p.Name, name) {
			link := p.PermalinkURL
			if link == "" {
				link = asana.ProjectURL(p.GID)
			}
			return PlatformCheck{Found: true, MatchedID: p.GID, MatchedURL: link, MatchedName: strings.TrimSpace(p.Name)}, nil
		}
	}
	return PlatformCheck{}, nil
}

func (c *DuplicateChecker) checkDocuments(ctx context.Context, token, parentID, name string) (PlatformCheck, error) {
	documents, err := c.connector.Documents(ctx, token)
	if err != nil {
		return PlatformCheck{}, err
	}
	files, err := documents.FindFiles(ctx, gworkspace.FileQuery{Name: name, ParentID: parentID, MimeType: gworkspace.MimeTypeFolder})
	if err != nil {
		return PlatformCheck{}, remote(models.PlatformGoogle, err)
	}
	for _, f := range files {
		if strings.EqualFold(strings.TrimSpace(f.Name), name) {
			return PlatformCheck{Found: true, MatchedID: f.ID, MatchedURL: f.URL, MatchedName: f.Name}, nil
		}
	}
	return PlatformCheck{}, nil
}
