package asana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/imroc/req/v3"
)

const pageLimit = 100

type User struct {
	GID   string `json:"gid"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type Project struct {
	GID          string `json:"gid"`
	Name         string `json:"name"`
	PermalinkURL string `json:"permalink_url,omitempty"`
}

type Task struct {
	GID          string `json:"gid"`
	Name         string `json:"name"`
	PermalinkURL string `json:"permalink_url,omitempty"`
}

// TemplateDate is a date variable a project template asks for on instantiation.
type TemplateDate struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

// TemplateRole is a role placeholder a project template asks for on instantiation.
type TemplateRole struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

type ProjectTemplate struct {
	GID            string         `json:"gid"`
	Name           string         `json:"name"`
	RequestedDates []TemplateDate `json:"requested_dates"`
	RequestedRoles []TemplateRole `json:"requested_roles"`
}

type DateVariable struct {
	GID   string `json:"gid"`
	Value string `json:"value"`
}

type RoleBinding struct {
	GID   string `json:"gid"`
	Value string `json:"value"` // user gid
}

type InstantiateRequest struct {
	Name           string         `json:"name"`
	Team           string         `json:"team,omitempty"`
	Public         bool           `json:"public"`
	RequestedDates []DateVariable `json:"requested_dates,omitempty"`
	RequestedRoles []RoleBinding  `json:"requested_roles,omitempty"`
}

type CreateTaskRequest struct {
	Name     string   `json:"name"`
	Notes    string   `json:"notes,omitempty"`
	Assignee string   `json:"assignee,omitempty"`
	DueOn    string   `json:"due_on,omitempty"`
	Projects []string `json:"projects"`
}

type envelope[T any] struct {
	Data     T         `json:"data"`
	NextPage *nextPage `json:"next_page,omitempty"`
}

type nextPage struct {
	Offset string `json:"offset"`
}

type job struct {
	GID        string  `json:"gid"`
	Status     string  `json:"status"`
	NewProject Project `json:"new_project"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("asana: status %d", e.StatusCode)
	}
	return fmt.Sprintf("asana: status %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

type Client struct {
	http *req.Client
}

func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "https://app.asana.com/api/1.0"
	}
	return &Client{http: req.C().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetCommonBearerAuthToken(token).
		SetCommonHeader("Accept", "application/json").
		SetTimeout(30 * time.Second)}
}

func (c *Client) check(resp *req.Response, err error) error {
	if err != nil {
		return fmt.Errorf("asana request failed: %w", err)
	}
	if resp.IsSuccessState() {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(resp.Bytes(), &body) == nil {
		for _, e := range body.Errors {
			apiErr.Messages = append(apiErr.Messages, e.Message)
		}
	}
	return apiErr
}

// ListWorkspaceUsers returns every user of the workspace.
func (c *Client) ListWorkspaceUsers(ctx context.Context, workspaceGID string) ([]User, error) {
	var users []User
	offset := ""
	for {
		r := c.http.R().
			SetContext(ctx).
			SetPathParam("workspace", workspaceGID).
			SetQueryParam("opt_fields", "name,email").
			SetQueryParam("limit", fmt.Sprint(pageLimit))
		if offset != "" {
			r.SetQueryParam("offset", offset)
		}
		var page envelope[[]User]
		resp, err := r.SetSuccessResult(&page).Get("/workspaces/{workspace}/users")
		if err := c.check(resp, err); err != nil {
			return nil, err
		}
		users = append(users, page.Data...)
		if page.NextPage == nil || page.NextPage.Offset == "" {
			return users, nil
		}
		offset = page.NextPage.Offset
	}
}

func (c *Client) GetProjectTemplate(ctx context.Context, templateGID string) (*ProjectTemplate, error) {
	var out envelope[ProjectTemplate]
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("template", templateGID).
		SetQueryParam("opt_fields", "name,requested_dates,requested_dates.name,requested_roles,requested_roles.name").
		SetSuccessResult(&out).
		Get("/project_templates/{template}")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// InstantiateProjectTemplate starts a project from a template and returns the
// new project reported by the instantiation job.
func (c *Client) InstantiateProjectTemplate(ctx context.Context, templateGID string, in InstantiateRequest) (*Project, error) {
	var out envelope[job]
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("template", templateGID).
		SetQueryParam("opt_fields", "status,new_project,new_project.name,new_project.permalink_url").
		SetBody(map[string]interface{}{"data": in}).
		SetSuccessResult(&out).
		Post("/project_templates/{template}/instantiateProject")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	if out.Data.NewProject.GID == "" {
		return nil, fmt.Errorf("asana: instantiation job %s returned no project", out.Data.GID)
	}
	p := out.Data.NewProject
	if p.PermalinkURL == "" {
		p.PermalinkURL = ProjectURL(p.GID)
	}
	return &p, nil
}

func (c *Client) CreateTask(ctx context.Context, in CreateTaskRequest) (*Task, error) {
	var out envelope[Task]
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("opt_fields", "name,permalink_url").
		SetBody(map[string]interface{}{"data": in}).
		SetSuccessResult(&out).
		Post("/tasks")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// SearchProjects runs the workspace typeahead restricted to projects.
func (c *Client) SearchProjects(ctx context.Context, workspaceGID, query string) ([]Project, error) {
	var out envelope[[]Project]
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("workspace", workspaceGID).
		SetQueryParam("resource_type", "project").
		SetQueryParam("query", query).
		SetQueryParam("opt_fields", "name,permalink_url").
		SetSuccessResult(&out).
		Get("/workspaces/{workspace}/typeahead")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func ProjectURL(gid string) string {
	return "https://app.asana.com/0/" + gid + "/list"
}

// ProjectGIDFromURL accepts both /0/{gid}/list and /1/{workspace}/project/{gid} links.
func ProjectGIDFromURL(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil || !strings.HasSuffix(u.Host, "asana.com") {
		return "", false
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, s := range segs {
		if s == "project" && i+1 < len(segs) {
			return segs[i+1], true
		}
	}
	if len(segs) >= 2 && segs[0] == "0" && isNumeric(segs[1]) {
		return segs[1], true
	}
	return "", false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
