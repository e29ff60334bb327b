package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/kickoff/backend/internal/middleware"
	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/internal/services"
	"github.com/huangang/kickoff/backend/pkg/response"
)

type DraftHandler struct {
	drafts *services.DraftService
	users  *services.AuthService
}

func NewDraftHandler(drafts *services.DraftService, users *services.AuthService) *DraftHandler {
	return &DraftHandler{drafts: drafts, users: users}
}

// DraftResponse adds the review link to a draft.
type DraftResponse struct {
	*models.Draft
	ReviewURL string `json:"review_url"`
}

func (h *DraftHandler) withLink(d *models.Draft) DraftResponse {
	return DraftResponse{Draft: d, ReviewURL: h.drafts.ReviewURL(d.ShareToken)}
}

// Create saves a submission snapshot as a new draft
// POST /api/drafts
func (h *DraftHandler) Create(c *gin.Context) {
	var snapshot models.ProjectSubmission
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	owner, err := h.users.GetUserByID(middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	d, err := h.drafts.Create(c.Request.Context(), owner, snapshot)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Created(c, h.withLink(d))
}

// List returns the caller's drafts, most recently updated first
// GET /api/drafts
func (h *DraftHandler) List(c *gin.Context) {
	drafts, err := h.drafts.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]DraftResponse, 0, len(drafts))
	for i := range drafts {
		items = append(items, h.withLink(&drafts[i]))
	}
	response.Success(c, items)
}

// Get returns one owned draft
// GET /api/drafts/:id
func (h *DraftHandler) Get(c *gin.Context) {
	d, err := h.drafts.Get(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, h.withLink(d))
}

// Update replaces the snapshot
// PUT /api/drafts/:id
func (h *DraftHandler) Update(c *gin.Context) {
	var snapshot models.ProjectSubmission
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	d, err := h.drafts.Update(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), snapshot)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, h.withLink(d))
}

// Delete removes an owned draft
// DELETE /api/drafts/:id
func (h *DraftHandler) Delete(c *gin.Context) {
	if err := h.drafts.Delete(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "draft deleted"})
}

type SubmitDraftRequest struct {
	ApproverEmail string `json:"approver_email"`
}

// Submit sends the draft to an approver
// POST /api/drafts/:id/submit
func (h *DraftHandler) Submit(c *gin.Context) {
	var req SubmitDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	d, err := h.drafts.SubmitForApproval(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.ApproverEmail)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, h.withLink(d))
}
