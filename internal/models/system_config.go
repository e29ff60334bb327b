package models

import "time"

// SystemConfig holds runtime-tunable settings such as template ids.
type SystemConfig struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:key;uniqueIndex;size:100;not null" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:20;default:string" json:"type"`      // string, int, bool
	Group     string    `gorm:"column:group;size:50;index" json:"group"` // templates, system, email
	Label     string    `gorm:"size:200" json:"label"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SystemConfig) TableName() string { return "system_configs" }

// Keys read by the provisioner and schedulers.
const (
	ConfigDocTemplateID        = "google_doc_template_id"
	ConfigDeckTemplateID       = "google_deck_template_id"
	ConfigAsanaTemplateGID     = "asana_template_gid"
	ConfigLogRetentionDays     = "log_retention_days"
	ConfigSessionRetentionDays = "session_retention_days"
)
