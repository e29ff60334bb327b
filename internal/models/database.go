package models

import (
	"fmt"

	"github.com/huangang/kickoff/backend/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB(cfg *config.DatabaseConfig) error {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	DB = db
	return nil
}

func AutoMigrate() error {
	return Migrate(DB)
}

// Migrate creates or updates every table on db.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&SystemConfig{},
		&SystemLog{},
		&PlatformCredential{},
		&ProvisioningSession{},
		&Draft{},
	)
}

func GetDB() *gorm.DB {
	return DB
}

// SeedDefaultData creates default system configs if not exists
func SeedDefaultData(cfg *config.Config) error {
	defaultConfigs := []SystemConfig{
		{Key: ConfigDocTemplateID, Value: cfg.Google.DocTemplateID, Type: "string", Group: "templates", Label: "Scoping Document Template ID"},
		{Key: ConfigDeckTemplateID, Value: cfg.Google.DeckTemplateID, Type: "string", Group: "templates", Label: "Kickoff Deck Template ID"},
		{Key: ConfigAsanaTemplateGID, Value: cfg.Asana.TemplateGID, Type: "string", Group: "templates", Label: "Asana Project Template GID"},
		{Key: ConfigLogRetentionDays, Value: "30", Type: "int", Group: "system", Label: "System Log Retention Days"},
		{Key: ConfigSessionRetentionDays, Value: fmt.Sprintf("%d", cfg.Session.RetentionDays), Type: "int", Group: "system", Label: "Archived Session Retention Days"},
	}

	for _, c := range defaultConfigs {
		var count int64
		DB.Model(&SystemConfig{}).Where("`key` = ?", c.Key).Count(&count)
		if count == 0 {
			if err := DB.Create(&c).Error; err != nil {
				return err
			}
		}
	}

	return nil
}
