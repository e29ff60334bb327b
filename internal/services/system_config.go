package services

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/huangang/kickoff/backend/internal/config"
	"github.com/huangang/kickoff/backend/internal/models"
	"gorm.io/gorm"
)

type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where("`key` = ?", key).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

// GetWithDefault treats a missing or empty value as unset.
func (s *SystemConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil || value == "" {
		return defaultValue
	}
	return value
}

func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where("`key` = ?", key).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) GetByGroup(group string) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Where("`group` = ?", group).Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// editableKeys lists the settings an admin may change at runtime, with
// their value type.
var editableKeys = map[string]string{
	models.ConfigDocTemplateID:        "string",
	models.ConfigDeckTemplateID:       "string",
	models.ConfigAsanaTemplateGID:     "string",
	models.ConfigLogRetentionDays:     "int",
	models.ConfigSessionRetentionDays: "int",
}

// Update validates and stores an admin-editable setting.
func (s *SystemConfigService) Update(key, value string) error {
	typ, ok := editableKeys[key]
	if !ok {
		return fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if typ == "int" {
		if n, err := strconv.Atoi(value); err != nil || n < 0 {
			return &models.ValidationError{Field: key, Message: "expected a non-negative integer"}
		}
	}
	return s.Set(key, value)
}

// TemplateSettings are the template ids provisioning copies from.
type TemplateSettings struct {
	DocTemplateID    string `json:"doc_template_id"`
	DeckTemplateID   string `json:"deck_template_id"`
	AsanaTemplateGID string `json:"asana_template_gid"`
}

// GetTemplateSettings returns stored template ids, falling back to the
// file configuration.
func (s *SystemConfigService) GetTemplateSettings(cfg *config.Config) *TemplateSettings {
	return &TemplateSettings{
		DocTemplateID:    s.GetWithDefault(models.ConfigDocTemplateID, cfg.Google.DocTemplateID),
		DeckTemplateID:   s.GetWithDefault(models.ConfigDeckTemplateID, cfg.Google.DeckTemplateID),
		AsanaTemplateGID: s.GetWithDefault(models.ConfigAsanaTemplateGID, cfg.Asana.TemplateGID),
	}
}

type UpdateTemplateSettingsRequest struct {
	DocTemplateID    *string `json:"doc_template_id"`
	DeckTemplateID   *string `json:"deck_template_id"`
	AsanaTemplateGID *string `json:"asana_template_gid"`
}

func (s *SystemConfigService) UpdateTemplateSettings(req *UpdateTemplateSettingsRequest) error {
	updates := []struct {
		key   string
		value *string
	}{
		{models.ConfigDocTemplateID, req.DocTemplateID},
		{models.ConfigDeckTemplateID, req.DeckTemplateID},
		{models.ConfigAsanaTemplateGID, req.AsanaTemplateGID},
	}
	for _, u := range updates {
		if u.value == nil {
			continue
		}
		if err := s.Set(u.key, *u.value); err != nil {
			return err
		}
	}
	return nil
}
