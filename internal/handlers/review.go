package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/internal/services"
	"github.com/huangang/kickoff/backend/pkg/response"
)

// ReviewHandler serves the share-token routes used by approvers, who need
// no account.
type ReviewHandler struct {
	drafts *services.DraftService
}

func NewReviewHandler(drafts *services.DraftService) *ReviewHandler {
	return &ReviewHandler{drafts: drafts}
}

// reviewView hides owner-only fields from the approver.
type reviewView struct {
	ID                 string                   `json:"id"`
	Status             models.DraftStatus       `json:"status"`
	Snapshot           models.ProjectSubmission `json:"snapshot"`
	OwnerEmail         string                   `json:"owner_email"`
	ApproverEmail      string                   `json:"approver_email"`
	ApproverNotes      string                   `json:"approver_notes"`
	Editable           bool                     `json:"editable"`
	ProvisioningQueued bool                     `json:"provisioning_queued"`
}

func newReviewView(d *models.Draft) reviewView {
	return reviewView{
		ID:                 d.ID,
		Status:             d.Status,
		Snapshot:           d.Submission(),
		OwnerEmail:         d.OwnerEmail,
		ApproverEmail:      d.ApproverEmail,
		ApproverNotes:      d.ApproverNotes,
		Editable:           d.Status.Editable(),
		ProvisioningQueued: d.ProvisionJobAt != nil,
	}
}

// Get returns the draft behind a share token
// GET /api/review/:token
func (h *ReviewHandler) Get(c *gin.Context) {
	d, err := h.drafts.GetByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, newReviewView(d))
}

// Update lets the approver correct the snapshot before deciding
// PUT /api/review/:token
func (h *ReviewHandler) Update(c *gin.Context) {
	var snapshot models.ProjectSubmission
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	d, err := h.drafts.UpdateByToken(c.Request.Context(), c.Param("token"), snapshot)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, newReviewView(d))
}

type ApproveRequest struct {
	Notes string `json:"notes"`
	// Create queues provisioning for the owner in the same step.
	Create bool `json:"create"`
}

// Approve accepts the draft
// POST /api/review/:token/approve
func (h *ReviewHandler) Approve(c *gin.Context) {
	var req ApproveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	mode := services.ApprovalModeInput(models.ApprovalReturn)
	if req.Create {
		mode = services.ApprovalModeInput(models.ApprovalCreate)
	}
	d, err := h.drafts.Approve(c.Request.Context(), c.Param("token"), req.Notes, mode)
	if err != nil {
		respondError(c, err)
		return
	}

	if req.Create {
		response.Accepted(c, newReviewView(d))
		return
	}
	response.Success(c, newReviewView(d))
}

type RequestChangesRequest struct {
	Notes string `json:"notes"`
}

// RequestChanges sends the draft back to its owner
// POST /api/review/:token/request-changes
func (h *ReviewHandler) RequestChanges(c *gin.Context) {
	var req RequestChangesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	d, err := h.drafts.RequestChanges(c.Request.Context(), c.Param("token"), req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, newReviewView(d))
}
