package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/kickoff/backend/internal/middleware"
	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/internal/services"
	"github.com/huangang/kickoff/backend/pkg/response"
)

type CredentialHandler struct {
	credentials *services.CredentialService
}

func NewCredentialHandler(credentials *services.CredentialService) *CredentialHandler {
	return &CredentialHandler{credentials: credentials}
}

// List reports the caller's connection state on every platform
// GET /api/credentials
func (h *CredentialHandler) List(c *gin.Context) {
	creds, err := h.credentials.List(middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, creds)
}

// Save stores the caller's token for a platform
// PUT /api/credentials/:platform
func (h *CredentialHandler) Save(c *gin.Context) {
	platform, err := models.ParsePlatform(c.Param("platform"))
	if err != nil {
		respondError(c, err)
		return
	}

	var req services.SaveCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	cred, err := h.credentials.Save(userID, platform, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, services.CredentialResponse{
		Platform:    cred.Platform,
		Connected:   true,
		AccountName: cred.AccountName,
		AccessToken: cred.MaskAccessToken(),
		Expiry:      cred.Expiry,
		UpdatedAt:   &cred.UpdatedAt,
	})
}

// Delete disconnects a platform
// DELETE /api/credentials/:platform
func (h *CredentialHandler) Delete(c *gin.Context) {
	platform, err := models.ParsePlatform(c.Param("platform"))
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.credentials.Delete(middleware.GetUserID(c), platform); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "credential deleted"})
}
