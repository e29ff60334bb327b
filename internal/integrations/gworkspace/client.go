package gworkspace

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/slides/v1"
)

const MimeTypeFolder = "application/vnd.google-apps.folder"

// File is the subset of Drive file metadata the orchestrator reads.
type File struct {
	ID       string
	Name     string
	MimeType string
	URL      string
}

// FileQuery filters a Drive listing. Name matches with "contains".
type FileQuery struct {
	Name     string
	ParentID string
	MimeType string
}

// APIError wraps a non-2xx Google API response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("google: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &APIError{StatusCode: gerr.Code, Message: gerr.Message}
	}
	return fmt.Errorf("google %s: %w", op, err)
}

// Client bundles the Drive, Docs and Slides services for one user token.
type Client struct {
	drive         *drive.Service
	docs          *docs.Service
	slides        *slides.Service
	sharedDriveID string
}

// NewClient builds the three services. A non-empty endpoint replaces every
// service's base URL, which points the client at a local test server.
func NewClient(ctx context.Context, token, endpoint, sharedDriveID string, opts ...option.ClientOption) (*Client, error) {
	base := append([]option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})),
	}, opts...)

	endpointOpt := func(suffix string) []option.ClientOption {
		if endpoint == "" {
			return base
		}
		return append(append([]option.ClientOption{}, base...),
			option.WithEndpoint(strings.TrimSuffix(endpoint, "/")+"/"+suffix))
	}

	d, err := drive.NewService(ctx, endpointOpt("drive/v3/")...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	dc, err := docs.NewService(ctx, endpointOpt("")...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docs service: %w", err)
	}
	sl, err := slides.NewService(ctx, endpointOpt("")...)
	if err != nil {
		return nil, fmt.Errorf("failed to create slides service: %w", err)
	}
	return &Client{drive: d, docs: dc, slides: sl, sharedDriveID: sharedDriveID}, nil
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// FindFiles lists non-trashed files matching q, searching the shared drive
// when one is configured.
func (c *Client) FindFiles(ctx context.Context, q FileQuery) ([]File, error) {
	clauses := []string{"trashed = false"}
	if q.Name != "" {
		clauses = append(clauses, fmt.Sprintf("name contains '%s'", escapeQuery(q.Name)))
	}
	if q.ParentID != "" {
		clauses = append(clauses, fmt.Sprintf("'%s' in parents", escapeQuery(q.ParentID)))
	}
	if q.MimeType != "" {
		clauses = append(clauses, fmt.Sprintf("mimeType = '%s'", escapeQuery(q.MimeType)))
	}

	call := c.drive.Files.List().
		Q(strings.Join(clauses, " and ")).
		Fields("nextPageToken", "files(id,name,mimeType,webViewLink)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		PageSize(100)
	if c.sharedDriveID != "" {
		call = call.Corpora("drive").DriveId(c.sharedDriveID)
	}

	var files []File
	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			files = append(files, toFile(f))
		}
		return nil
	})
	if err != nil {
		return nil, wrap("files.list", err)
	}
	return files, nil
}

func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (*File, error) {
	meta := &drive.File{Name: name, MimeType: MimeTypeFolder}
	if parentID != "" {
		meta.Parents = []string{parentID}
	}
	f, err := c.drive.Files.Create(meta).
		SupportsAllDrives(true).
		Fields("id", "name", "mimeType", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrap("files.create", err)
	}
	out := toFile(f)
	return &out, nil
}

// CopyFile copies a template into parentID under a new name.
func (c *Client) CopyFile(ctx context.Context, fileID, name, parentID string) (*File, error) {
	meta := &drive.File{Name: name}
	if parentID != "" {
		meta.Parents = []string{parentID}
	}
	f, err := c.drive.Files.Copy(fileID, meta).
		SupportsAllDrives(true).
		Fields("id", "name", "mimeType", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrap("files.copy", err)
	}
	out := toFile(f)
	return &out, nil
}

func (c *Client) GetDocument(ctx context.Context, documentID string) (*docs.Document, error) {
	doc, err := c.docs.Documents.Get(documentID).Context(ctx).Do()
	if err != nil {
		return nil, wrap("documents.get", err)
	}
	return doc, nil
}

func (c *Client) BatchUpdateDocument(ctx context.Context, documentID string, requests []*docs.Request) (*docs.BatchUpdateDocumentResponse, error) {
	resp, err := c.docs.Documents.BatchUpdate(documentID, &docs.BatchUpdateDocumentRequest{Requests: requests}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrap("documents.batchUpdate", err)
	}
	return resp, nil
}

func (c *Client) BatchUpdatePresentation(ctx context.Context, presentationID string, requests []*slides.Request) (*slides.BatchUpdatePresentationResponse, error) {
	resp, err := c.slides.Presentations.BatchUpdate(presentationID, &slides.BatchUpdatePresentationRequest{Requests: requests}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrap("presentations.batchUpdate", err)
	}
	return resp, nil
}

func toFile(f *drive.File) File {
	out := File{ID: f.Id, Name: f.Name, MimeType: f.MimeType, URL: f.WebViewLink}
	if out.URL == "" {
		switch f.MimeType {
		case MimeTypeFolder:
			out.URL = FolderURL(f.Id)
		case "application/vnd.google-apps.document":
			out.URL = DocumentURL(f.Id)
		case "application/vnd.google-apps.presentation":
			out.URL = PresentationURL(f.Id)
		}
	}
	return out
}

func FolderURL(id string) string { return "https://drive.google.com/drive/folders/" + id }

func DocumentURL(id string) string { return "https://docs.google.com/document/d/" + id + "/edit" }

func PresentationURL(id string) string {
	return "https://docs.google.com/presentation/d/" + id + "/edit"
}

// FolderIDFromURL extracts the id of a drive.google.com/drive/folders/{id} link.
func FolderIDFromURL(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil || u.Host != "drive.google.com" {
		return "", false
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, s := range segs {
		if s == "folders" && i+1 < len(segs) && segs[i+1] != "" {
			return segs[i+1], true
		}
	}
	if id := u.Query().Get("id"); id != "" {
		return id, true
	}
	return "", false
}
