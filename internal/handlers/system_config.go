package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/kickoff/backend/internal/config"
	"github.com/huangang/kickoff/backend/internal/services"
	"github.com/huangang/kickoff/backend/pkg/response"
	"gorm.io/gorm"
)

type SystemConfigHandler struct {
	configService *services.SystemConfigService
	cfg           *config.Config
}

func NewSystemConfigHandler(configService *services.SystemConfigService, cfg *config.Config) *SystemConfigHandler {
	return &SystemConfigHandler{configService: configService, cfg: cfg}
}

// GetTemplates returns the template ids provisioning copies from
// GET /api/system-config/templates
func (h *SystemConfigHandler) GetTemplates(c *gin.Context) {
	response.Success(c, h.configService.GetTemplateSettings(h.cfg))
}

// UpdateTemplates stores any template ids present in the body
// PUT /api/system-config/templates
func (h *SystemConfigHandler) UpdateTemplates(c *gin.Context) {
	var req services.UpdateTemplateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.configService.UpdateTemplateSettings(&req); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, h.configService.GetTemplateSettings(h.cfg))
}

// Get returns one setting
// GET /api/system-config/:key
func (h *SystemConfigHandler) Get(c *gin.Context) {
	key := c.Param("key")
	value, err := h.configService.Get(key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		response.NotFound(c, "setting not found")
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"key": key, "value": value})
}

type UpdateConfigRequest struct {
	Value string `json:"value"`
}

// Update changes an admin-editable setting
// PUT /api/system-config/:key
func (h *SystemConfigHandler) Update(c *gin.Context) {
	var req UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	key := c.Param("key")
	if err := h.configService.Update(key, req.Value); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"key": key, "value": req.Value})
}
