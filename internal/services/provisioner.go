package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/kickoff/backend/internal/config"
	"github.com/huangang/kickoff/backend/internal/integrations/airtable"
	"github.com/huangang/kickoff/backend/internal/integrations/asana"
	"github.com/huangang/kickoff/backend/internal/integrations/gworkspace"
	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/pkg/logger"
	"github.com/samber/lo"
	"gorm.io/datatypes"
)

// Resolution is what provisioning does on one platform.
type Resolution string

const (
	ResolutionCreate      Resolution = "create"
	ResolutionUseExisting Resolution = "use_existing"
	ResolutionSkip        Resolution = "skip"
	// ResolutionUpdate rewrites the duplicate registry record in place. On the
	// other platforms it behaves like use_existing.
	ResolutionUpdate Resolution = "update"
)

func ParseResolution(s string) (Resolution, error) {
	r := Resolution(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case ResolutionCreate, ResolutionUseExisting, ResolutionSkip, ResolutionUpdate:
		return r, nil
	case "":
		return ResolutionCreate, nil
	}
	return "", &models.ValidationError{Field: "resolutions", Message: fmt.Sprintf("unknown resolution %q", s)}
}

const (
	StepTaskProject     = "task_project"
	StepMilestones      = "milestones"
	StepFolder          = "folder"
	StepScopingDocument = "scoping_document"
	StepKickoffDeck     = "kickoff_deck"
	StepRegistryRecord  = "registry_record"
	StepRegistryLinks   = "registry_links"
	StepCrossLink       = "cross_link"
)

// errStepSkipped marks a step that has nothing to do under the chosen resolution.
var errStepSkipped = errors.New("step skipped")

type ProvisionRequest struct {
	SessionID   string                         `json:"-"`
	Resolutions map[models.Platform]Resolution `json:"resolutions"`
	// Duplicates supplies use_existing and update targets. When nil and a
	// target is needed, a fresh duplicate check runs.
	Duplicates *DuplicateCheckResult `json:"duplicates,omitempty"`
	Recreate   []models.ResourceField `json:"recreate,omitempty"`
}

func (r *ProvisionRequest) resolution(p models.Platform) Resolution {
	if res, ok := r.Resolutions[p]; ok && res != "" {
		return res
	}
	return ResolutionCreate
}

type ProvisionResult struct {
	SessionID string                    `json:"session_id"`
	Resources models.CreatedResourceSet `json:"resources"`
	Completed []string                  `json:"completed"`
	Skipped   []string                  `json:"skipped"`
	Errors    []*StepError              `json:"errors"`
	Archived  bool                      `json:"archived"`
}

// settingsReader is the runtime-tunable configuration, normally SystemConfigService.
type settingsReader interface {
	GetWithDefault(key, defaultValue string) string
}

type ProvisionService struct {
	sessions    SessionStore
	connector   Connector
	settings    settingsReader
	cfg         *config.Config
	duplicates  *DuplicateChecker
	credentials func(ownerID uint) TokenProvider
	now         func() time.Time
}

func NewProvisionService(sessions SessionStore, connector Connector, settings settingsReader, cfg *config.Config, credentials func(ownerID uint) TokenProvider) *ProvisionService {
	return &ProvisionService{
		sessions:    sessions,
		connector:   connector,
		settings:    settings,
		cfg:         cfg,
		duplicates:  NewDuplicateChecker(connector, cfg),
		credentials: credentials,
		now:         time.Now,
	}
}

func (s *ProvisionService) loadOwned(ctx context.Context, ownerID uint, sessionID string) (*models.ProvisioningSession, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != ownerID {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrForbidden)
	}
	return session, nil
}

func (s *ProvisionService) duplicateQuery(sub *models.ProjectSubmission) DuplicateQuery {
	return DuplicateQuery{
		Name:           sub.TrimmedName(),
		WorkspaceGID:   s.cfg.Asana.WorkspaceGID,
		ParentFolderID: s.cfg.Google.ParentFolderID,
		Existing:       sub.Existing,
	}
}

// CheckDuplicates runs the duplicate check for a stored submission.
func (s *ProvisionService) CheckDuplicates(ctx context.Context, tokens TokenProvider, ownerID uint, sessionID string) (*DuplicateCheckResult, error) {
	session, err := s.loadOwned(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}
	sub := session.Submission.Data()
	if sub.TrimmedName() == "" {
		return nil, &models.ValidationError{Field: "name", Message: "project name is required"}
	}
	return s.duplicates.Check(ctx, tokens, s.duplicateQuery(&sub)), nil
}

type provisionTarget struct {
	id  string
	url string
}

// targets seeds use_existing and update targets. A user-provided link wins
// over a duplicate match.
func (s *ProvisionService) targets(ctx context.Context, tokens TokenProvider, sub *models.ProjectSubmission, req *ProvisionRequest) (map[models.Platform]provisionTarget, error) {
	out := make(map[models.Platform]provisionTarget)
	dups := req.Duplicates
	for _, p := range models.Platforms {
		res := req.resolution(p)
		if res != ResolutionUseExisting && res != ResolutionUpdate {
			continue
		}
		if check := userProvidedFor(sub, p); check.Found {
			if check.MatchedID == "" {
				return nil, &models.ValidationError{Field: string(p), Message: fmt.Sprintf("cannot read an id from %q", check.MatchedURL)}
			}
			out[p] = provisionTarget{id: check.MatchedID, url: check.MatchedURL}
			continue
		}
		if dups == nil {
			dups = s.duplicates.Check(ctx, tokens, s.duplicateQuery(sub))
		}
		check := dups.For(p)
		if !check.Found || check.MatchedID == "" {
			return nil, &models.ValidationError{Field: string(p), Message: fmt.Sprintf("%s on %s needs an existing resource", res, p)}
		}
		out[p] = provisionTarget{id: check.MatchedID, url: check.MatchedURL}
	}
	return out, nil
}

func userProvidedFor(sub *models.ProjectSubmission, p models.Platform) PlatformCheck {
	var link string
	switch p {
	case models.PlatformAirtable:
		link = sub.Existing.RegistryURL
	case models.PlatformAsana:
		link = sub.Existing.TaskProjectURL
	case models.PlatformGoogle:
		link = sub.Existing.FolderURL
	}
	if link == "" {
		return PlatformCheck{}
	}
	return userProvidedCheck(p, link)
}

// Provision advances the session's resource set by running every step that
// is not yet satisfied. Step failures are collected in the result; only
// setup failures are returned as an error.
func (s *ProvisionService) Provision(ctx context.Context, tokens TokenProvider, ownerID uint, req *ProvisionRequest) (*ProvisionResult, error) {
	session, err := s.loadOwned(ctx, ownerID, req.SessionID)
	if err != nil {
		return nil, err
	}
	sub := session.Submission.Data()
	if err := sub.ValidateForProvisioning(); err != nil {
		return nil, err
	}
	for p, res := range req.Resolutions {
		norm, err := ParseResolution(string(res))
		if err != nil {
			return nil, err
		}
		req.Resolutions[p] = norm
	}
	targets, err := s.targets(ctx, tokens, &sub, req)
	if err != nil {
		return nil, err
	}

	rs := session.ResourceSet()
	if len(req.Recreate) > 0 {
		rs.Reset(req.Recreate...)
		logger.Info().Str("session", session.ID).Interface("fields", req.Recreate).Msg("[Provision] Recreate requested")
	}
	if t, ok := targets[models.PlatformAsana]; ok {
		rs.SetTaskProject(t.id, lo.Ternary(t.url != "", t.url, asana.ProjectURL(t.id)))
	}
	if t, ok := targets[models.PlatformGoogle]; ok {
		rs.SetFolder(t.id, lo.Ternary(t.url != "", t.url, gworkspace.FolderURL(t.id)))
	}
	if t, ok := targets[models.PlatformAirtable]; ok && req.resolution(models.PlatformAirtable) == ResolutionUseExisting {
		rs.SetRegistryRecord(t.id, lo.Ternary(t.url != "", t.url, airtable.RecordURL(s.cfg.Airtable.BaseID, s.cfg.Airtable.ProjectsTable, t.id)))
	}

	run := &provisionRun{
		svc:     s,
		ctx:     ctx,
		session: session,
		sub:     &sub,
		rs:      &rs,
		req:     req,
		targets: targets,
		connErr: make(map[models.Platform]error),
		result:  &ProvisionResult{SessionID: session.ID},
	}
	run.connect(tokens)
	if err := run.persist(); err != nil {
		return nil, err
	}

	for _, st := range provisionSteps {
		run.execute(st)
	}
	return run.finish(ownerID)
}

// ProcessProvisionTask runs a queued "approve & create" job. Platforms with
// a duplicate are linked instead of created.
func (s *ProvisionService) ProcessProvisionTask(ctx context.Context, task *ProvisionTask) error {
	tokens := s.credentials(task.OwnerID)
	session, err := s.loadOwned(ctx, task.OwnerID, task.SessionID)
	if err != nil {
		return err
	}
	sub := session.Submission.Data()
	dups := s.duplicates.Check(ctx, tokens, s.duplicateQuery(&sub))

	req := &ProvisionRequest{
		SessionID:   task.SessionID,
		Duplicates:  dups,
		Resolutions: make(map[models.Platform]Resolution, len(models.Platforms)),
	}
	for _, p := range models.Platforms {
		req.Resolutions[p] = autoResolution(dups.For(p), sub.TrimmedName())
	}

	result, err := s.Provision(ctx, tokens, task.OwnerID, req)
	if err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("provisioning %s finished with %d failed steps", task.SessionID, len(result.Errors))
	}
	return nil
}

// autoResolution picks a resolution without asking anyone. Only a link the
// submitter supplied or a project with exactly the same name is reused;
// looser matches get a new artifact.
func autoResolution(check PlatformCheck, name string) Resolution {
	if !check.Found || check.MatchedID == "" {
		return ResolutionCreate
	}
	if check.UserProvided || strings.EqualFold(strings.TrimSpace(check.MatchedName), name) {
		return ResolutionUseExisting
	}
	logger.Infof("[Provision] Not linking %q to loose match %q", name, check.MatchedName)
	return ResolutionCreate
}

type provisionStep struct {
	name     string
	platform models.Platform
	run      func(*provisionRun) error
}

var provisionSteps = []provisionStep{
	{StepTaskProject, models.PlatformAsana, (*provisionRun).taskProject},
	{StepMilestones, models.PlatformAsana, (*provisionRun).milestones},
	{StepFolder, models.PlatformGoogle, (*provisionRun).folder},
	{StepScopingDocument, models.PlatformGoogle, (*provisionRun).scopingDocument},
	{StepKickoffDeck, models.PlatformGoogle, (*provisionRun).kickoffDeck},
	{StepRegistryRecord, models.PlatformAirtable, (*provisionRun).registryRecord},
	{StepRegistryLinks, models.PlatformAirtable, (*provisionRun).registryLinks},
	{StepCrossLink, models.PlatformAirtable, (*provisionRun).crossLink},
}

type provisionRun struct {
	svc     *ProvisionService
	ctx     context.Context
	session *models.ProvisioningSession
	sub     *models.ProjectSubmission
	rs      *models.CreatedResourceSet
	req     *ProvisionRequest
	targets map[models.Platform]provisionTarget

	registry  RegistryAPI
	tasks     TaskAPI
	documents DocumentAPI
	connErr   map[models.Platform]error

	identity  *IdentityResolver
	assignees map[string]string

	result *ProvisionResult
}

func (r *provisionRun) connect(tokens TokenProvider) {
	for _, p := range models.Platforms {
		if r.req.resolution(p) == ResolutionSkip {
			continue
		}
		token, err := tokens.GetValidToken(r.ctx, p)
		if err != nil {
			r.connErr[p] = err
			continue
		}
		switch p {
		case models.PlatformAirtable:
			r.registry = r.svc.connector.Registry(token)
		case models.PlatformAsana:
			r.tasks = r.svc.connector.Tasks(token)
			r.identity = NewIdentityResolver(asanaDirectory{tasks: r.tasks, workspace: r.svc.cfg.Asana.WorkspaceGID})
		case models.PlatformGoogle:
			documents, err := r.svc.connector.Documents(r.ctx, token)
			if err != nil {
				r.connErr[p] = err
				continue
			}
			r.documents = documents
		}
	}
}

func (r *provisionRun) persist() error {
	r.session.SetResources(*r.rs)
	if err := r.svc.sessions.Save(r.ctx, r.session); err != nil {
		return fmt.Errorf("persist resources: %w", err)
	}
	return nil
}

func (r *provisionRun) execute(st provisionStep) {
	if r.req.resolution(st.platform) == ResolutionSkip {
		r.result.Skipped = append(r.result.Skipped, st.name)
		return
	}
	if err := r.connErr[st.platform]; err != nil {
		r.fail(newStepError(st.name, st.platform, err))
		return
	}

	err := r.safely(st)
	switch {
	case err == nil:
		r.result.Completed = append(r.result.Completed, st.name)
	case errors.Is(err, errStepSkipped):
		r.result.Skipped = append(r.result.Skipped, st.name)
	default:
		var se *StepError
		if !errors.As(err, &se) {
			se = newStepError(st.name, st.platform, err)
		}
		r.fail(se)
	}
}

func (r *provisionRun) safely(st provisionStep) (err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error().Str("step", st.name).Interface("panic", p).Msg("[Provision] Step panicked")
			err = fmt.Errorf("step panicked: %v", p)
		}
	}()
	return st.run(r)
}

func (r *provisionRun) fail(se *StepError) {
	logger.Warn().Str("session", r.session.ID).Str("step", se.Step).Str("kind", string(se.Kind)).Msg("[Provision] " + se.Message)
	r.result.Errors = append(r.result.Errors, se)
}

func (r *provisionRun) finish(ownerID uint) (*ProvisionResult, error) {
	now := r.svc.now()
	failures := lo.Map(r.result.Errors, func(se *StepError, _ int) models.StepFailure {
		return models.StepFailure{Step: se.Step, Platform: se.Platform, Kind: string(se.Kind), Message: se.Message, At: now}
	})
	r.session.LastFailures = datatypes.NewJSONType(failures)
	// a run with failures stays listed so the owner can resume it
	if len(failures) == 0 {
		r.session.Archive(now)
	}
	r.result.Archived = r.session.Archived
	if err := r.persist(); err != nil {
		return nil, err
	}
	r.result.Resources = *r.rs

	extra := map[string]interface{}{
		"completed": r.result.Completed,
		"skipped":   r.result.Skipped,
		"failures":  failures,
	}
	msg := fmt.Sprintf("Provisioned %q: %d steps completed, %d failed", r.sub.TrimmedName(), len(r.result.Completed), len(failures))
	if len(failures) > 0 {
		LogReference(LevelWarning, "Provision", "provision", r.session.ID, msg, &ownerID, extra)
	} else {
		LogReference(LevelInfo, "Provision", "provision", r.session.ID, msg, &ownerID, extra)
	}
	logger.Infof("[Provision] %s (session %s, archived=%v)", msg, r.session.ID, r.result.Archived)
	return r.result, nil
}

func (r *provisionRun) coordinator() (models.RoleAssignment, bool) {
	return r.sub.Role(models.RoleProjectCoordinator)
}

// assignee resolves a member name to a task-platform user id. Unresolved
// names and directory failures leave the work unassigned.
func (r *provisionRun) assignee(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || r.identity == nil {
		return ""
	}
	if r.assignees == nil {
		r.assignees = make(map[string]string)
	}
	if gid, ok := r.assignees[name]; ok {
		return gid
	}
	m, ok, err := r.identity.Resolve(r.ctx, name)
	if err != nil {
		logger.Warnf("[Provision] Could not list workspace users to resolve %q: %v", name, err)
		return ""
	}
	gid := ""
	if ok {
		gid = m.Candidate.ID
		logger.Debug().Str("name", name).Str("matched", m.Candidate.Name).Float64("score", m.Score).Msg("[Provision] Resolved member")
	} else {
		logger.Infof("[Provision] No workspace user matches %q", name)
	}
	r.assignees[name] = gid
	return gid
}

func (r *provisionRun) templateDate(name string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "start"):
		return r.sub.StartDate
	case strings.Contains(n, "end"), strings.Contains(n, "due"):
		return r.sub.EndDate
	}
	return ""
}

func (r *provisionRun) taskProject() error {
	if r.rs.TaskProjectID != "" {
		return nil
	}
	cfg := r.svc.cfg
	templateGID := r.svc.settings.GetWithDefault(models.ConfigAsanaTemplateGID, cfg.Asana.TemplateGID)
	if templateGID == "" {
		return &models.ValidationError{Field: models.ConfigAsanaTemplateGID, Message: "no project template configured"}
	}
	tmpl, err := r.tasks.GetProjectTemplate(r.ctx, templateGID)
	if err != nil {
		return remote(models.PlatformAsana, err)
	}

	in := asana.InstantiateRequest{Name: r.sub.TrimmedName(), Team: cfg.Asana.TeamGID}
	for _, d := range tmpl.RequestedDates {
		if value := r.templateDate(d.Name); value != "" {
			in.RequestedDates = append(in.RequestedDates, asana.DateVariable{GID: d.GID, Value: value})
		}
	}
	for _, role := range tmpl.RequestedRoles {
		ra, ok := lo.Find(r.sub.Roles, func(ra models.RoleAssignment) bool {
			return strings.EqualFold(strings.TrimSpace(role.Name), ra.RoleKey.Label())
		})
		if !ok {
			continue
		}
		if gid := r.assignee(ra.MemberName); gid != "" {
			in.RequestedRoles = append(in.RequestedRoles, asana.RoleBinding{GID: role.GID, Value: gid})
		}
	}

	project, err := r.tasks.InstantiateProjectTemplate(r.ctx, templateGID, in)
	if err != nil {
		return remote(models.PlatformAsana, err)
	}
	r.rs.SetTaskProject(project.GID, lo.Ternary(project.PermalinkURL != "", project.PermalinkURL, asana.ProjectURL(project.GID)))
	return r.persist()
}

func (r *provisionRun) milestones() error {
	if r.rs.MilestonesCreated {
		return nil
	}
	if r.rs.TaskProjectID == "" {
		return preconditionError(StepMilestones, models.PlatformAsana, "milestones need the task project, which has not been created")
	}

	coordinatorName := ""
	if c, ok := r.coordinator(); ok {
		coordinatorName = c.MemberName
	}
	for _, o := range r.sub.Outcomes {
		key := o.Key()
		if _, done := r.rs.MilestoneTask(key); done {
			continue
		}
		task, err := r.tasks.CreateTask(r.ctx, asana.CreateTaskRequest{
			Name:     o.Name,
			Notes:    o.Description,
			Assignee: r.assignee(lo.Ternary(o.AssigneeName != "", o.AssigneeName, coordinatorName)),
			DueOn:    o.DueDate,
			Projects: []string{r.rs.TaskProjectID},
		})
		if err != nil {
			return remote(models.PlatformAsana, err)
		}
		r.rs.AddMilestoneTask(key, task.GID)
		if err := r.persist(); err != nil {
			return err
		}
	}
	r.rs.MilestonesCreated = true
	return r.persist()
}

func (r *provisionRun) folder() error {
	if r.rs.FolderID != "" {
		return nil
	}
	cfg := r.svc.cfg.Google
	name := fmt.Sprintf(cfg.FolderNameFormat, r.sub.TrimmedName())
	files, err := r.documents.FindFiles(r.ctx, gworkspace.FileQuery{Name: name, ParentID: cfg.ParentFolderID, MimeType: gworkspace.MimeTypeFolder})
	if err != nil {
		return remote(models.PlatformGoogle, err)
	}
	if f, ok := lo.Find(files, func(f gworkspace.File) bool { return strings.EqualFold(strings.TrimSpace(f.Name), name) }); ok {
		logger.Infof("[Provision] Reusing folder %s for %q", f.ID, name)
		r.rs.SetFolder(f.ID, lo.Ternary(f.URL != "", f.URL, gworkspace.FolderURL(f.ID)))
		return r.persist()
	}

	f, err := r.documents.CreateFolder(r.ctx, name, cfg.ParentFolderID)
	if err != nil {
		return remote(models.PlatformGoogle, err)
	}
	r.rs.SetFolder(f.ID, lo.Ternary(f.URL != "", f.URL, gworkspace.FolderURL(f.ID)))
	return r.persist()
}

// copyTemplate returns the named copy in the project folder, copying the
// template only when no copy exists yet.
func (r *provisionRun) copyTemplate(configKey, templateID, name string) (*gworkspace.File, error) {
	if templateID == "" {
		return nil, &models.ValidationError{Field: configKey, Message: "no template configured"}
	}
	files, err := r.documents.FindFiles(r.ctx, gworkspace.FileQuery{Name: name, ParentID: r.rs.FolderID})
	if err != nil {
		return nil, remote(models.PlatformGoogle, err)
	}
	if f, ok := lo.Find(files, func(f gworkspace.File) bool {
		return f.MimeType != gworkspace.MimeTypeFolder && strings.EqualFold(strings.TrimSpace(f.Name), name)
	}); ok {
		logger.Infof("[Provision] Reusing existing copy %s for %q", f.ID, name)
		return &f, nil
	}
	f, err := r.documents.CopyFile(r.ctx, templateID, name, r.rs.FolderID)
	if err != nil {
		return nil, remote(models.PlatformGoogle, err)
	}
	return f, nil
}

func (r *provisionRun) scopingDocument() error {
	if r.rs.FolderID == "" {
		return preconditionError(StepScopingDocument, models.PlatformGoogle, "the scoping document needs the project folder, which has not been created")
	}
	cfg := r.svc.cfg.Google
	if r.rs.DocumentID == "" {
		templateID := r.svc.settings.GetWithDefault(models.ConfigDocTemplateID, cfg.DocTemplateID)
		f, err := r.copyTemplate(models.ConfigDocTemplateID, templateID, fmt.Sprintf(cfg.DocNameFormat, r.sub.TrimmedName()))
		if err != nil {
			return err
		}
		r.rs.SetDocument(f.ID, gworkspace.DocumentURL(f.ID))
		if err := r.persist(); err != nil {
			return err
		}
	}
	if r.rs.DocumentPopulated {
		return nil
	}

	result, err := PopulateDocument(r.ctx, r.documents, r.rs.DocumentID, PlaceholderValues(r.sub, r.rs), DocumentTables(r.sub))
	if err != nil {
		return remote(models.PlatformGoogle, err)
	}
	logger.Debug().Str("document", r.rs.DocumentID).Int("replaced", len(result.Replaced)).Strs("skipped", result.Skipped).Msg("[Provision] Populated scoping document")
	r.rs.DocumentPopulated = true
	return r.persist()
}

func (r *provisionRun) kickoffDeck() error {
	if r.rs.FolderID == "" {
		return preconditionError(StepKickoffDeck, models.PlatformGoogle, "the kickoff deck needs the project folder, which has not been created")
	}
	cfg := r.svc.cfg.Google
	if r.rs.DeckID == "" {
		templateID := r.svc.settings.GetWithDefault(models.ConfigDeckTemplateID, cfg.DeckTemplateID)
		f, err := r.copyTemplate(models.ConfigDeckTemplateID, templateID, fmt.Sprintf(cfg.DeckNameFormat, r.sub.TrimmedName()))
		if err != nil {
			return err
		}
		r.rs.SetDeck(f.ID, gworkspace.PresentationURL(f.ID))
		if err := r.persist(); err != nil {
			return err
		}
	}
	if r.rs.DeckPopulated {
		return nil
	}

	if _, err := ReplaceDeckPlaceholders(r.ctx, r.documents, r.rs.DeckID, PlaceholderValues(r.sub, r.rs)); err != nil {
		return remote(models.PlatformGoogle, err)
	}
	r.rs.DeckPopulated = true
	return r.persist()
}

var linkFieldNames = map[models.ResourceField]string{
	models.FieldTaskProject: airtable.FieldAsanaProject,
	models.FieldFolder:      airtable.FieldDriveFolder,
	models.FieldDocument:    airtable.FieldScopingDocument,
	models.FieldDeck:        airtable.FieldKickoffDeck,
}

func (r *provisionRun) linkFields() map[string]interface{} {
	fields := make(map[string]interface{})
	for field, link := range r.rs.LinkURLs() {
		fields[linkFieldNames[field]] = link
	}
	return fields
}

func (r *provisionRun) projectFields() map[string]interface{} {
	fields := map[string]interface{}{
		airtable.FieldName:   r.sub.TrimmedName(),
		airtable.FieldStatus: airtable.ProjectStatusPlanning,
	}
	optional := map[string]string{
		airtable.FieldAcronym:     r.sub.Acronym,
		airtable.FieldStartDate:   r.sub.StartDate,
		airtable.FieldEndDate:     r.sub.EndDate,
		airtable.FieldDescription: r.sub.Description,
		airtable.FieldObjectives:  r.sub.Objectives,
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = v
		}
	}
	if c, ok := r.coordinator(); ok && c.MemberID != "" {
		fields[airtable.FieldCoordinator] = []string{c.MemberID}
	}
	for k, v := range r.linkFields() {
		fields[k] = v
	}
	return fields
}

func (r *provisionRun) registryRecord() error {
	if r.rs.RegistryRecordID != "" {
		return nil
	}
	table := r.svc.cfg.Airtable.ProjectsTable

	var rec *airtable.Record
	var err error
	if t, ok := r.targets[models.PlatformAirtable]; ok && r.req.resolution(models.PlatformAirtable) == ResolutionUpdate {
		rec, err = r.registry.UpdateRecord(r.ctx, table, t.id, r.projectFields())
	} else {
		rec, err = r.registry.CreateRecord(r.ctx, table, r.projectFields())
	}
	if err != nil {
		return remote(models.PlatformAirtable, err)
	}
	r.rs.SetRegistryRecord(rec.ID, r.registry.RecordURL(table, rec.ID))
	// the record was written with every link known so far
	r.rs.CrossLinkFingerprint = r.rs.LinkFingerprint()
	return r.persist()
}

// registryLinks creates the assignment and milestone child records. Each
// child is recorded as soon as it exists, so a rerun after a partial
// failure only creates the missing ones.
func (r *provisionRun) registryLinks() error {
	if r.rs.RegistryLinksCreated {
		return nil
	}
	if r.req.resolution(models.PlatformAirtable) == ResolutionUseExisting {
		return errStepSkipped
	}
	if r.rs.RegistryRecordID == "" {
		return preconditionError(StepRegistryLinks, models.PlatformAirtable, "registry links need the project record, which has not been created")
	}
	cfg := r.svc.cfg.Airtable
	project := []string{r.rs.RegistryRecordID}

	for _, role := range r.sub.OrderedRoles() {
		if _, done := r.rs.AssignmentRecord(role.RoleKey); done {
			continue
		}
		fields := map[string]interface{}{
			airtable.FieldProject: project,
			airtable.FieldRole:    role.RoleKey.Label(),
			airtable.FieldFTE:     role.FTE,
		}
		if role.MemberID != "" {
			fields[airtable.FieldMember] = []string{role.MemberID}
		}
		rec, err := r.registry.CreateRecord(r.ctx, cfg.AssignmentsTable, fields)
		if err != nil {
			return remote(models.PlatformAirtable, err)
		}
		r.rs.AddAssignmentRecord(role.RoleKey, rec.ID)
		if err := r.persist(); err != nil {
			return err
		}
	}

	coordinatorID := ""
	if c, ok := r.coordinator(); ok {
		coordinatorID = c.MemberID
	}
	for _, o := range r.sub.Outcomes {
		key := o.Key()
		if _, done := r.rs.MilestoneRecord(key); done {
			continue
		}
		fields := map[string]interface{}{
			airtable.FieldName:    o.Name,
			airtable.FieldProject: project,
		}
		if o.DueDate != "" {
			fields[airtable.FieldDueDate] = o.DueDate
		}
		if o.Description != "" {
			fields[airtable.FieldDescription] = o.Description
		}
		if assignee := lo.Ternary(o.AssigneeID != "", o.AssigneeID, coordinatorID); assignee != "" {
			fields[airtable.FieldAssignee] = []string{assignee}
		}
		if taskID, ok := r.rs.MilestoneTask(key); ok && r.rs.TaskProjectID != "" {
			fields[airtable.FieldTaskLink] = taskURL(r.rs.TaskProjectID, taskID)
		}
		rec, err := r.registry.CreateRecord(r.ctx, cfg.MilestonesTable, fields)
		if err != nil {
			return remote(models.PlatformAirtable, err)
		}
		r.rs.AddMilestoneRecord(key, rec.ID)
		if err := r.persist(); err != nil {
			return err
		}
	}

	r.rs.RegistryLinksCreated = true
	return r.persist()
}

func taskURL(projectGID, taskGID string) string {
	return "https://app.asana.com/0/" + projectGID + "/" + taskGID
}

func (r *provisionRun) crossLink() error {
	if r.rs.RegistryRecordID == "" {
		return preconditionError(StepCrossLink, models.PlatformAirtable, "cross-linking needs the project record, which has not been created")
	}
	fp := r.rs.LinkFingerprint()
	if fp == "" || fp == r.rs.CrossLinkFingerprint {
		return nil
	}
	if _, err := r.registry.UpdateRecord(r.ctx, r.svc.cfg.Airtable.ProjectsTable, r.rs.RegistryRecordID, r.linkFields()); err != nil {
		return remote(models.PlatformAirtable, err)
	}
	logger.Infof("[Provision] Back-filled %d links onto %s", len(r.rs.LinkURLs()), r.rs.RegistryRecordID)
	r.rs.CrossLinkFingerprint = fp
	return r.persist()
}

