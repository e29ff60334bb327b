package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/kickoff/backend/internal/middleware"
	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/internal/services"
	"github.com/huangang/kickoff/backend/pkg/response"
)

type SubmissionHandler struct {
	submissions *services.SubmissionService
	provisioner *services.ProvisionService
	tokens      func(userID uint) services.TokenProvider
}

func NewSubmissionHandler(submissions *services.SubmissionService, provisioner *services.ProvisionService, tokens func(userID uint) services.TokenProvider) *SubmissionHandler {
	return &SubmissionHandler{
		submissions: submissions,
		provisioner: provisioner,
		tokens:      tokens,
	}
}

// Create starts a new provisioning session. The body is optional.
// POST /api/submissions
func (h *SubmissionHandler) Create(c *gin.Context) {
	var sub *models.ProjectSubmission
	if c.Request.ContentLength > 0 {
		sub = &models.ProjectSubmission{}
		if err := c.ShouldBindJSON(sub); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	session, err := h.submissions.Create(c.Request.Context(), middleware.GetUserID(c), sub)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Created(c, session)
}

// List returns the caller's sessions
// GET /api/submissions?archived=true
func (h *SubmissionHandler) List(c *gin.Context) {
	includeArchived, _ := strconv.ParseBool(c.Query("archived"))
	sessions, err := h.submissions.List(c.Request.Context(), middleware.GetUserID(c), includeArchived)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, sessions)
}

// Get returns one session
// GET /api/submissions/:id
func (h *SubmissionHandler) Get(c *gin.Context) {
	session, err := h.submissions.Get(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, session)
}

// Update replaces the submission
// PUT /api/submissions/:id
func (h *SubmissionHandler) Update(c *gin.Context) {
	var sub models.ProjectSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	session, err := h.submissions.Update(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), sub)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, session)
}

// Delete removes a session
// DELETE /api/submissions/:id
func (h *SubmissionHandler) Delete(c *gin.Context) {
	if err := h.submissions.Delete(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "submission deleted"})
}

// CheckDuplicates looks for existing resources on every platform
// POST /api/submissions/:id/duplicates
func (h *SubmissionHandler) CheckDuplicates(c *gin.Context) {
	userID := middleware.GetUserID(c)
	result, err := h.provisioner.CheckDuplicates(c.Request.Context(), h.tokens(userID), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, result)
}

// Provision runs the outstanding provisioning steps
// POST /api/submissions/:id/provision
func (h *SubmissionHandler) Provision(c *gin.Context) {
	var req services.ProvisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	req.SessionID = c.Param("id")

	userID := middleware.GetUserID(c)
	result, err := h.provisioner.Provision(c.Request.Context(), h.tokens(userID), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, result)
}

// Resources returns what has been created so far
// GET /api/submissions/:id/resources
func (h *SubmissionHandler) Resources(c *gin.Context) {
	resp, err := h.submissions.Resources(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, resp)
}
