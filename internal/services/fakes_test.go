package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/huangang/kickoff/backend/internal/integrations/airtable"
	"github.com/huangang/kickoff/backend/internal/integrations/asana"
	"github.com/huangang/kickoff/backend/internal/integrations/gworkspace"
)

type fakeRegistry struct {
	mu      sync.Mutex
	seq     int
	records map[string]map[string]airtable.Record // table -> id -> record
	creates map[string]int
	updates map[string]int
	listErr error
	failOn  map[string]error // table -> create error

	// failNth fails only the nth create attempt on a table
	failNth  map[string]int
	attempts map[string]int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		records:  make(map[string]map[string]airtable.Record),
		creates:  make(map[string]int),
		updates:  make(map[string]int),
		failOn:   make(map[string]error),
		failNth:  make(map[string]int),
		attempts: make(map[string]int),
	}
}

func (f *fakeRegistry) ListRecords(_ context.Context, table string, _ airtable.ListOptions) ([]airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []airtable.Record
	for _, r := range f.records[table] {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRegistry) GetRecord(_ context.Context, table, id string) (*airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[table][id]
	if !ok {
		return nil, &airtable.APIError{StatusCode: 404, Type: "NOT_FOUND"}
	}
	return &r, nil
}

func (f *fakeRegistry) CreateRecord(_ context.Context, table string, fields map[string]interface{}) (*airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[table]; err != nil {
		return nil, err
	}
	f.attempts[table]++
	if n := f.failNth[table]; n > 0 && f.attempts[table] == n {
		return nil, &airtable.APIError{StatusCode: 503, Type: "SERVICE_UNAVAILABLE"}
	}
	f.seq++
	rec := airtable.Record{ID: fmt.Sprintf("rec%03d", f.seq), Fields: copyFields(fields)}
	if f.records[table] == nil {
		f.records[table] = make(map[string]airtable.Record)
	}
	f.records[table][rec.ID] = rec
	f.creates[table]++
	return &rec, nil
}

func (f *fakeRegistry) UpdateRecord(_ context.Context, table, id string, fields map[string]interface{}) (*airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[table][id]
	if !ok {
		return nil, &airtable.APIError{StatusCode: 404, Type: "NOT_FOUND"}
	}
	if rec.Fields == nil {
		rec.Fields = map[string]interface{}{}
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	f.records[table][id] = rec
	f.updates[table]++
	return &rec, nil
}

func (f *fakeRegistry) DeleteRecord(_ context.Context, table, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records[table], id)
	return nil
}

func (f *fakeRegistry) RecordURL(table, id string) string {
	return airtable.RecordURL("appTest", table, id)
}

func (f *fakeRegistry) put(table string, rec airtable.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[table] == nil {
		f.records[table] = make(map[string]airtable.Record)
	}
	f.records[table][rec.ID] = rec
}

func (f *fakeRegistry) count(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records[table])
}

func copyFields(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type fakeTasks struct {
	mu           sync.Mutex
	seq          int
	users        []asana.User
	template     *asana.ProjectTemplate
	projects     []asana.Project
	instantiated []asana.InstantiateRequest
	tasks        []asana.CreateTaskRequest
	listCalls    int
	searchErr    error
	instErr      error
	taskCalls    int
	failTaskCall int
}

func (f *fakeTasks) ListWorkspaceUsers(context.Context, string) ([]asana.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.users, nil
}

func (f *fakeTasks) GetProjectTemplate(context.Context, string) (*asana.ProjectTemplate, error) {
	if f.template == nil {
		return &asana.ProjectTemplate{}, nil
	}
	return f.template, nil
}

func (f *fakeTasks) InstantiateProjectTemplate(_ context.Context, _ string, in asana.InstantiateRequest) (*asana.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.instErr != nil {
		return nil, f.instErr
	}
	f.seq++
	f.instantiated = append(f.instantiated, in)
	p := asana.Project{GID: fmt.Sprintf("%d", 1000+f.seq), Name: in.Name}
	p.PermalinkURL = asana.ProjectURL(p.GID)
	f.projects = append(f.projects, p)
	return &p, nil
}

func (f *fakeTasks) CreateTask(_ context.Context, in asana.CreateTaskRequest) (*asana.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskCalls++
	if f.failTaskCall > 0 && f.taskCalls == f.failTaskCall {
		return nil, &asana.APIError{StatusCode: 500, Messages: []string{"task service unavailable"}}
	}
	f.seq++
	f.tasks = append(f.tasks, in)
	return &asana.Task{GID: fmt.Sprintf("t%d", f.seq), Name: in.Name}, nil
}

func (f *fakeTasks) SearchProjects(_ context.Context, _ string, query string) ([]asana.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []asana.Project
	for _, p := range f.projects {
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(query)) || strings.Contains(strings.ToLower(query), strings.ToLower(p.Name)) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeDocuments struct {
	fakeDocEditor
	mu        sync.Mutex
	seq       int
	files     []gworkspace.File
	parents   map[string]string
	copies    int
	folderErr error
	findPanic bool
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{parents: make(map[string]string)}
}

func (f *fakeDocuments) FindFiles(_ context.Context, q gworkspace.FileQuery) ([]gworkspace.File, error) {
	if f.findPanic {
		panic("drive exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gworkspace.File
	for _, file := range f.files {
		if q.MimeType != "" && file.MimeType != q.MimeType {
			continue
		}
		if q.ParentID != "" && f.parents[file.ID] != q.ParentID {
			continue
		}
		if q.Name != "" && !strings.Contains(strings.ToLower(file.Name), strings.ToLower(q.Name)) {
			continue
		}
		out = append(out, file)
	}
	return out, nil
}

func (f *fakeDocuments) add(name, mime, parent string) gworkspace.File {
	f.seq++
	file := gworkspace.File{ID: fmt.Sprintf("f%d", f.seq), Name: name, MimeType: mime}
	if mime == gworkspace.MimeTypeFolder {
		file.URL = gworkspace.FolderURL(file.ID)
	} else {
		file.URL = gworkspace.DocumentURL(file.ID)
	}
	f.files = append(f.files, file)
	f.parents[file.ID] = parent
	return file
}

func (f *fakeDocuments) CreateFolder(_ context.Context, name, parentID string) (*gworkspace.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.folderErr != nil {
		return nil, f.folderErr
	}
	file := f.add(name, gworkspace.MimeTypeFolder, parentID)
	return &file, nil
}

func (f *fakeDocuments) CopyFile(_ context.Context, _ string, name, parentID string) (*gworkspace.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies++
	file := f.add(name, "application/vnd.google-apps.document", parentID)
	return &file, nil
}

func (f *fakeDocuments) folders() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, file := range f.files {
		if file.MimeType == gworkspace.MimeTypeFolder {
			n++
		}
	}
	return n
}

type fakeConnector struct {
	registry  *fakeRegistry
	tasks     *fakeTasks
	documents *fakeDocuments
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{registry: newFakeRegistry(), tasks: &fakeTasks{}, documents: newFakeDocuments()}
}

func (c *fakeConnector) Registry(string) RegistryAPI { return c.registry }

func (c *fakeConnector) Tasks(string) TaskAPI { return c.tasks }

func (c *fakeConnector) Documents(context.Context, string) (DocumentAPI, error) {
	return c.documents, nil
}

func allTokens() StaticTokens {
	return StaticTokens{"airtable": "at", "asana": "as", "google": "go"}
}
