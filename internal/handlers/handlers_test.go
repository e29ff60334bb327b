package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/huangang/kickoff/backend/internal/config"
	"github.com/huangang/kickoff/backend/internal/middleware"
	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/internal/services"
	"github.com/huangang/kickoff/backend/internal/utils"
	"github.com/huangang/kickoff/backend/pkg/response"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("test-secret-for-handler-testing")
}

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	tasks  chan *services.ProvisionTask
	queue  *services.SyncQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, u := range []models.User{
		{ID: 7, Username: "ana", Email: "ana@example.com", Role: "user", AuthType: "local", IsActive: true},
		{ID: 8, Username: "bo", Email: "bo@example.com", Role: "user", AuthType: "local", IsActive: true},
		{ID: 1, Username: "admin", Role: middleware.RoleAdmin, AuthType: "local", IsActive: true},
	} {
		if err := db.Create(&u).Error; err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.Server.PublicBaseURL = "https://kickoff.example.org/"
	sessions := services.NewGormSessionStore(db)
	settings := services.NewSystemConfigService(db)
	credentials := services.NewCredentialService(db, &cfg.OAuth)
	authService := services.NewAuthService(db, &cfg.JWT, &cfg.LDAP)

	tasks := make(chan *services.ProvisionTask, 4)
	queue := services.NewSyncQueue()
	queue.SetProcessor(func(_ context.Context, task *services.ProvisionTask) error {
		tasks <- task
		return nil
	})
	t.Cleanup(func() { queue.Close() })

	drafts := services.NewDraftService(services.NewGormDraftRepository(db), sessions, services.NewEmailService(&cfg.Email), queue, cfg.Server.PublicBaseURL)
	provisioner := services.NewProvisionService(sessions, services.NewPlatformConnector(cfg), settings, cfg, credentials.ForUser)

	auth := NewAuthHandler(authService)
	subs := NewSubmissionHandler(services.NewSubmissionService(sessions), provisioner, credentials.ForUser)
	draftH := NewDraftHandler(drafts, authService)
	review := NewReviewHandler(drafts)
	creds := NewCredentialHandler(credentials)
	sysCfg := NewSystemConfigHandler(settings, cfg)

	r := gin.New()
	r.GET("/health", NewHealthHandler(db, queue).CheckHealth)
	api := r.Group("/api")
	api.GET("/auth/config", auth.GetAuthConfig)
	api.GET("/review/:token", review.Get)
	api.PUT("/review/:token", review.Update)
	api.POST("/review/:token/approve", review.Approve)
	api.POST("/review/:token/request-changes", review.RequestChanges)

	p := api.Group("", middleware.AuthRequired())
	p.GET("/auth/me", auth.GetCurrentUser)
	p.POST("/submissions", subs.Create)
	p.GET("/submissions", subs.List)
	p.GET("/submissions/:id", subs.Get)
	p.PUT("/submissions/:id", subs.Update)
	p.DELETE("/submissions/:id", subs.Delete)
	p.POST("/submissions/:id/provision", subs.Provision)
	p.GET("/submissions/:id/resources", subs.Resources)
	p.POST("/drafts", draftH.Create)
	p.GET("/drafts", draftH.List)
	p.GET("/drafts/:id", draftH.Get)
	p.PUT("/drafts/:id", draftH.Update)
	p.DELETE("/drafts/:id", draftH.Delete)
	p.POST("/drafts/:id/submit", draftH.Submit)
	p.GET("/credentials", creds.List)
	p.PUT("/credentials/:platform", creds.Save)
	p.DELETE("/credentials/:platform", creds.Delete)

	a := api.Group("", middleware.AuthRequired(), middleware.AdminRequired())
	a.GET("/system-config/templates", sysCfg.GetTemplates)
	a.PUT("/system-config/templates", sysCfg.UpdateTemplates)
	a.GET("/system-config/:key", sysCfg.Get)
	a.PUT("/system-config/:key", sysCfg.Update)

	return &testEnv{router: r, db: db, tasks: tasks, queue: queue}
}

func bearer(t *testing.T, userID uint, username, role string) string {
	t.Helper()
	token, err := utils.GenerateToken(userID, username, role, 1)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return "Bearer " + token
}

func (e *testEnv) do(t *testing.T, method, path, auth string, body interface{}) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, _ := http.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp response.Response
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: unparsable body %s", method, path, w.Body.String())
		}
	}
	return w, resp
}

// decodeData re-decodes the data field of a unified response.
func decodeData(t *testing.T, resp response.Response, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode data %s: %v", raw, err)
	}
}

func sampleSubmission() models.ProjectSubmission {
	return models.ProjectSubmission{
		Name:      "Climate Pipeline",
		Acronym:   "CP",
		StartDate: "2025-01-06",
		EndDate:   "2025-06-30",
		Outcomes:  []models.Outcome{{Name: "Kickoff", DueDate: "2025-01-10"}},
	}
}

func TestAppError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &models.ValidationError{Field: "name", Message: "required"}, http.StatusBadRequest},
		{"forbidden", fmt.Errorf("draft x: %w", services.ErrForbidden), http.StatusForbidden},
		{"not found", fmt.Errorf("session: %w", services.ErrNotFound), http.StatusNotFound},
		{"not connected", services.ErrNotConnected, http.StatusConflict},
		{"invalid transition", models.ErrInvalidTransition, http.StatusConflict},
		{"remote", &services.RemoteError{Platform: models.PlatformAsana, StatusCode: 403}, http.StatusBadGateway},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := appError(tt.err).HTTPStatus; got != tt.want {
				t.Errorf("appError(%v) status = %d, expected %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestSubmissionHandler_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	ana := bearer(t, 7, "ana", "user")
	bo := bearer(t, 8, "bo", "user")

	w, resp := env.do(t, "POST", "/api/submissions", ana, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var session models.ProvisioningSession
	decodeData(t, resp, &session)
	if session.ID == "" || session.OwnerID != 7 {
		t.Fatalf("unexpected session %+v", session)
	}
	path := "/api/submissions/" + session.ID

	if w, _ := env.do(t, "PUT", path, ana, sampleSubmission()); w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body.String())
	}

	bad := sampleSubmission()
	bad.EndDate = "2024-12-31"
	if w, resp := env.do(t, "PUT", path, ana, bad); w.Code != http.StatusBadRequest || resp.Code != 400 {
		t.Errorf("invalid update status = %d, code %d", w.Code, resp.Code)
	}

	if w, _ := env.do(t, "GET", path, bo, nil); w.Code != http.StatusForbidden {
		t.Errorf("foreign get status = %d, expected 403", w.Code)
	}

	w, resp = env.do(t, "GET", path+"/resources", ana, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resources status = %d", w.Code)
	}
	var res services.ResourcesResponse
	decodeData(t, resp, &res)
	if res.Complete || res.Archived {
		t.Errorf("fresh session reported %+v", res)
	}

	w, resp = env.do(t, "GET", "/api/submissions", ana, nil)
	var list []models.ProvisioningSession
	decodeData(t, resp, &list)
	if w.Code != http.StatusOK || len(list) != 1 {
		t.Errorf("list status = %d, %d sessions", w.Code, len(list))
	}

	if w, _ := env.do(t, "DELETE", path, ana, nil); w.Code != http.StatusOK {
		t.Errorf("delete status = %d", w.Code)
	}
	if w, _ := env.do(t, "GET", path, ana, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, expected 404", w.Code)
	}
}

func TestSubmissionHandler_ProvisionRejectsUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.do(t, "POST", "/api/submissions/missing/provision", bearer(t, 7, "ana", "user"), map[string]interface{}{
		"resolutions": map[string]string{"asana": "skip"},
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, expected 404", w.Code)
	}
}

func TestSubmissionHandler_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	if w, _ := env.do(t, "GET", "/api/submissions", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, expected 401", w.Code)
	}
}

func createDraft(t *testing.T, env *testEnv, auth string) DraftResponse {
	t.Helper()
	w, resp := env.do(t, "POST", "/api/drafts", auth, sampleSubmission())
	if w.Code != http.StatusCreated {
		t.Fatalf("create draft status = %d, body %s", w.Code, w.Body.String())
	}
	var d struct {
		models.Draft
		ReviewURL string `json:"review_url"`
	}
	decodeData(t, resp, &d)
	return DraftResponse{Draft: &d.Draft, ReviewURL: d.ReviewURL}
}

func TestDraftHandler_SubmitAndApproveWithProvisioning(t *testing.T) {
	env := newTestEnv(t)
	ana := bearer(t, 7, "ana", "user")

	d := createDraft(t, env, ana)
	if d.Status != models.DraftStatusDraft {
		t.Fatalf("status = %q", d.Status)
	}
	if want := "https://kickoff.example.org/review/" + d.ShareToken; d.ReviewURL != want {
		t.Errorf("review url = %q, expected %q", d.ReviewURL, want)
	}

	// approving before submission is an invalid transition
	if w, _ := env.do(t, "POST", "/api/review/"+d.ShareToken+"/approve", "", nil); w.Code != http.StatusConflict {
		t.Errorf("early approve status = %d, expected 409", w.Code)
	}

	if w, _ := env.do(t, "POST", "/api/drafts/"+d.ID+"/submit", ana, SubmitDraftRequest{ApproverEmail: "not-an-email"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad approver status = %d, expected 400", w.Code)
	}
	if w, _ := env.do(t, "POST", "/api/drafts/"+d.ID+"/submit", ana, SubmitDraftRequest{ApproverEmail: "lead@example.org"}); w.Code != http.StatusOK {
		t.Fatalf("submit status = %d, body %s", w.Code, w.Body.String())
	}

	w, resp := env.do(t, "GET", "/api/review/"+d.ShareToken, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("review get status = %d", w.Code)
	}
	var view reviewView
	decodeData(t, resp, &view)
	if view.Status != models.DraftStatusPendingApproval || view.Snapshot.Name != "Climate Pipeline" {
		t.Errorf("review view = %+v", view)
	}

	w, resp = env.do(t, "POST", "/api/review/"+d.ShareToken+"/approve", "", ApproveRequest{Notes: "go", Create: true})
	if w.Code != http.StatusAccepted {
		t.Fatalf("approve status = %d, body %s", w.Code, w.Body.String())
	}
	decodeData(t, resp, &view)
	if view.Status != models.DraftStatusApproved || !view.ProvisioningQueued {
		t.Errorf("approved view = %+v", view)
	}

	task := <-env.tasks
	if task.SessionID != d.ID || task.OwnerID != 7 || task.DraftID != d.ID {
		t.Errorf("queued task = %+v", task)
	}

	// approved drafts are locked
	if w, _ := env.do(t, "PUT", "/api/review/"+d.ShareToken, "", sampleSubmission()); w.Code != http.StatusConflict {
		t.Errorf("edit approved status = %d, expected 409", w.Code)
	}
}

func TestReviewHandler_RequestChanges(t *testing.T) {
	env := newTestEnv(t)
	ana := bearer(t, 7, "ana", "user")
	d := createDraft(t, env, ana)
	env.do(t, "POST", "/api/drafts/"+d.ID+"/submit", ana, SubmitDraftRequest{ApproverEmail: "lead@example.org"})

	path := "/api/review/" + d.ShareToken + "/request-changes"
	if w, _ := env.do(t, "POST", path, "", RequestChangesRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty notes status = %d, expected 400", w.Code)
	}
	w, resp := env.do(t, "POST", path, "", RequestChangesRequest{Notes: "split the outcome"})
	if w.Code != http.StatusOK {
		t.Fatalf("request changes status = %d, body %s", w.Code, w.Body.String())
	}
	var view reviewView
	decodeData(t, resp, &view)
	if view.Status != models.DraftStatusChangesRequested || view.ApproverNotes != "split the outcome" || !view.Editable {
		t.Errorf("view = %+v", view)
	}

	if w, _ := env.do(t, "GET", "/api/review/unknown-token", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown token status = %d, expected 404", w.Code)
	}
}

func TestDraftHandler_Ownership(t *testing.T) {
	env := newTestEnv(t)
	ana := bearer(t, 7, "ana", "user")
	bo := bearer(t, 8, "bo", "user")
	d := createDraft(t, env, ana)

	if w, _ := env.do(t, "GET", "/api/drafts/"+d.ID, bo, nil); w.Code != http.StatusForbidden {
		t.Errorf("foreign get status = %d, expected 403", w.Code)
	}
	if w, _ := env.do(t, "DELETE", "/api/drafts/"+d.ID, bo, nil); w.Code != http.StatusForbidden {
		t.Errorf("foreign delete status = %d, expected 403", w.Code)
	}

	w, resp := env.do(t, "GET", "/api/drafts", bo, nil)
	var list []DraftResponse
	decodeData(t, resp, &list)
	if w.Code != http.StatusOK || len(list) != 0 {
		t.Errorf("foreign list status = %d, %d drafts", w.Code, len(list))
	}

	if w, _ := env.do(t, "DELETE", "/api/drafts/"+d.ID, ana, nil); w.Code != http.StatusOK {
		t.Errorf("owner delete status = %d", w.Code)
	}
}

func TestCredentialHandler(t *testing.T) {
	env := newTestEnv(t)
	ana := bearer(t, 7, "ana", "user")

	if w, _ := env.do(t, "PUT", "/api/credentials/dropbox", ana, services.SaveCredentialRequest{AccessToken: "x"}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown platform status = %d, expected 400", w.Code)
	}

	w, resp := env.do(t, "PUT", "/api/credentials/asana", ana, services.SaveCredentialRequest{AccessToken: "1/1234567890abcdef", AccountName: "ana"})
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body %s", w.Code, w.Body.String())
	}
	var saved services.CredentialResponse
	decodeData(t, resp, &saved)
	if saved.AccessToken != "1/12****cdef" || !saved.Connected {
		t.Errorf("saved = %+v", saved)
	}

	_, resp = env.do(t, "GET", "/api/credentials", ana, nil)
	var list []services.CredentialResponse
	decodeData(t, resp, &list)
	connected := 0
	for _, c := range list {
		if c.Connected {
			connected++
		}
	}
	if len(list) != len(models.Platforms) || connected != 1 {
		t.Errorf("list = %+v", list)
	}

	if w, _ := env.do(t, "DELETE", "/api/credentials/asana", ana, nil); w.Code != http.StatusOK {
		t.Errorf("delete status = %d", w.Code)
	}
}

func TestSystemConfigHandler(t *testing.T) {
	env := newTestEnv(t)
	admin := bearer(t, 1, "admin", middleware.RoleAdmin)

	if w, _ := env.do(t, "GET", "/api/system-config/templates", bearer(t, 7, "ana", "user"), nil); w.Code != http.StatusForbidden {
		t.Errorf("non-admin status = %d, expected 403", w.Code)
	}

	deck := "deck-123"
	if w, _ := env.do(t, "PUT", "/api/system-config/templates", admin, services.UpdateTemplateSettingsRequest{DeckTemplateID: &deck}); w.Code != http.StatusOK {
		t.Fatalf("update templates status = %d", w.Code)
	}
	_, resp := env.do(t, "GET", "/api/system-config/templates", admin, nil)
	var settings services.TemplateSettings
	decodeData(t, resp, &settings)
	if settings.DeckTemplateID != deck {
		t.Errorf("templates = %+v", settings)
	}

	if w, _ := env.do(t, "PUT", "/api/system-config/"+models.ConfigLogRetentionDays, admin, UpdateConfigRequest{Value: "soon"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad retention status = %d, expected 400", w.Code)
	}
	if w, _ := env.do(t, "PUT", "/api/system-config/jwt_secret", admin, UpdateConfigRequest{Value: "x"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown key status = %d, expected 404", w.Code)
	}
	if w, _ := env.do(t, "PUT", "/api/system-config/"+models.ConfigLogRetentionDays, admin, UpdateConfigRequest{Value: "14"}); w.Code != http.StatusOK {
		t.Errorf("retention status = %d", w.Code)
	}
	w, resp := env.do(t, "GET", "/api/system-config/"+models.ConfigLogRetentionDays, admin, nil)
	var kv map[string]string
	decodeData(t, resp, &kv)
	if w.Code != http.StatusOK || kv["value"] != "14" {
		t.Errorf("get status = %d, value %v", w.Code, kv)
	}
}

func TestAuthHandler_MeAndConfig(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, "GET", "/api/auth/me", bearer(t, 7, "ana", "user"), nil)
	var user models.User
	decodeData(t, resp, &user)
	if w.Code != http.StatusOK || user.Username != "ana" {
		t.Errorf("me status = %d, user %+v", w.Code, user)
	}

	w, resp = env.do(t, "GET", "/api/auth/config", "", nil)
	var cfg map[string]bool
	decodeData(t, resp, &cfg)
	if w.Code != http.StatusOK || cfg["ldap_enabled"] {
		t.Errorf("config status = %d, %v", w.Code, cfg)
	}
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)
	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusOK || body.Status != "healthy" || body.Components["queue_mode"] != "sync" {
		t.Errorf("health = %d %+v", w.Code, body)
	}
}
