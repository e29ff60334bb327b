package services

import (
	"context"

	"github.com/huangang/kickoff/backend/internal/config"
	"github.com/huangang/kickoff/backend/internal/integrations/airtable"
	"github.com/huangang/kickoff/backend/internal/integrations/asana"
	"github.com/huangang/kickoff/backend/internal/integrations/gworkspace"
	"github.com/samber/lo"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/slides/v1"
)

// RegistryAPI is the project registry (Airtable base).
type RegistryAPI interface {
	ListRecords(ctx context.Context, table string, opts airtable.ListOptions) ([]airtable.Record, error)
	GetRecord(ctx context.Context, table, id string) (*airtable.Record, error)
	CreateRecord(ctx context.Context, table string, fields map[string]interface{}) (*airtable.Record, error)
	UpdateRecord(ctx context.Context, table, id string, fields map[string]interface{}) (*airtable.Record, error)
	DeleteRecord(ctx context.Context, table, id string) error
	RecordURL(table, id string) string
}

// TaskAPI is the task-tracking workspace (Asana).
type TaskAPI interface {
	ListWorkspaceUsers(ctx context.Context, workspaceGID string) ([]asana.User, error)
	GetProjectTemplate(ctx context.Context, templateGID string) (*asana.ProjectTemplate, error)
	InstantiateProjectTemplate(ctx context.Context, templateGID string, in asana.InstantiateRequest) (*asana.Project, error)
	CreateTask(ctx context.Context, in asana.CreateTaskRequest) (*asana.Task, error)
	SearchProjects(ctx context.Context, workspaceGID, query string) ([]asana.Project, error)
}

// DocumentEditor reads and edits a Docs document.
type DocumentEditor interface {
	GetDocument(ctx context.Context, documentID string) (*docs.Document, error)
	BatchUpdateDocument(ctx context.Context, documentID string, requests []*docs.Request) (*docs.BatchUpdateDocumentResponse, error)
}

type PresentationEditor interface {
	BatchUpdatePresentation(ctx context.Context, presentationID string, requests []*slides.Request) (*slides.BatchUpdatePresentationResponse, error)
}

// DocumentAPI is the document platform (Drive, Docs, Slides).
type DocumentAPI interface {
	DocumentEditor
	PresentationEditor
	FindFiles(ctx context.Context, q gworkspace.FileQuery) ([]gworkspace.File, error)
	CreateFolder(ctx context.Context, name, parentID string) (*gworkspace.File, error)
	CopyFile(ctx context.Context, fileID, name, parentID string) (*gworkspace.File, error)
}

// Connector builds platform clients for a bearer token.
type Connector interface {
	Registry(token string) RegistryAPI
	Tasks(token string) TaskAPI
	Documents(ctx context.Context, token string) (DocumentAPI, error)
}

// PlatformConnector builds the real clients from configuration.
type PlatformConnector struct {
	cfg *config.Config
}

func NewPlatformConnector(cfg *config.Config) *PlatformConnector {
	return &PlatformConnector{cfg: cfg}
}

func (p *PlatformConnector) Registry(token string) RegistryAPI {
	return airtable.NewClient(p.cfg.Airtable.BaseURL, p.cfg.Airtable.BaseID, token)
}

func (p *PlatformConnector) Tasks(token string) TaskAPI {
	return asana.NewClient(p.cfg.Asana.BaseURL, token)
}

func (p *PlatformConnector) Documents(ctx context.Context, token string) (DocumentAPI, error) {
	return gworkspace.NewClient(ctx, token, p.cfg.Google.Endpoint, p.cfg.Google.SharedDriveID)
}

// asanaDirectory adapts a TaskAPI workspace listing to DirectoryLister.
type asanaDirectory struct {
	tasks     TaskAPI
	workspace string
}

func (d asanaDirectory) ListUsers(ctx context.Context) ([]Candidate, error) {
	users, err := d.tasks.ListWorkspaceUsers(ctx, d.workspace)
	if err != nil {
		return nil, err
	}
	return lo.Map(users, func(u asana.User, _ int) Candidate {
		return Candidate{ID: u.GID, Name: u.Name}
	}), nil
}
