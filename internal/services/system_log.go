package services

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"

	defaultRetentionDays = 30
)

var globalDB *gorm.DB

func InitSystemLogger(db *gorm.DB) {
	globalDB = db
}

func LogInfo(module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	writeLog(&models.SystemLog{Level: LevelInfo, Module: module, Action: action, Message: message, UserID: userID, IP: ip, UserAgent: userAgent}, extra)
}

func LogWarning(module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	writeLog(&models.SystemLog{Level: LevelWarning, Module: module, Action: action, Message: message, UserID: userID, IP: ip, UserAgent: userAgent}, extra)
}

func LogError(module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	writeLog(&models.SystemLog{Level: LevelError, Module: module, Action: action, Message: message, UserID: userID, IP: ip, UserAgent: userAgent}, extra)
}

// LogReference records an event about one submission or draft.
func LogReference(level, module, action, reference, message string, userID *uint, extra interface{}) {
	writeLog(&models.SystemLog{Level: level, Module: module, Action: action, Reference: reference, Message: message, UserID: userID}, extra)
}

func writeLog(entry *models.SystemLog, extra interface{}) {
	if globalDB == nil {
		return
	}

	if extra != nil {
		if b, err := json.Marshal(extra); err == nil {
			entry.Extra = string(b)
		}
	}
	entry.CreatedAt = time.Now()
	if err := globalDB.Create(entry).Error; err != nil {
		logger.Warnf("[SystemLog] Failed to write %s/%s: %v", entry.Module, entry.Action, err)
	}
}

type SystemLogService struct {
	db *gorm.DB
}

func NewSystemLogService(db *gorm.DB) *SystemLogService {
	return &SystemLogService{db: db}
}

type SystemLogListRequest struct {
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size" binding:"max=100"`
	Level     string `form:"level"`
	Module    string `form:"module"`
	Action    string `form:"action"`
	Reference string `form:"reference"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	Search    string `form:"search"`
}

type SystemLogListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.SystemLog `json:"items"`
}

func (s *SystemLogService) List(req *SystemLogListRequest) (*SystemLogListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	var logs []models.SystemLog
	var total int64

	query := s.db.Model(&models.SystemLog{})

	if req.Level != "" {
		query = query.Where("level = ?", req.Level)
	}
	if req.Module != "" {
		query = query.Where("module = ?", req.Module)
	}
	if req.Action != "" {
		query = query.Where("action LIKE ?", "%"+req.Action+"%")
	}
	if req.Reference != "" {
		query = query.Where("reference = ?", req.Reference)
	}
	if req.StartDate != "" {
		query = query.Where("created_at >= ?", req.StartDate)
	}
	if req.EndDate != "" {
		query = query.Where("created_at <= ?", req.EndDate+" 23:59:59")
	}
	if req.Search != "" {
		query = query.Where("message LIKE ?", "%"+req.Search+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("created_at DESC").Find(&logs).Error; err != nil {
		return nil, err
	}

	return &SystemLogListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    logs,
	}, nil
}

func (s *SystemLogService) GetModules() ([]string, error) {
	var modules []string
	if err := s.db.Model(&models.SystemLog{}).Distinct("module").Pluck("module", &modules).Error; err != nil {
		return nil, err
	}
	return modules, nil
}

// CleanupOldLogs deletes logs older than the specified number of days
// Returns the number of deleted records
func (s *SystemLogService) CleanupOldLogs(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoffTime := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.Where("created_at < ?", cutoffTime).Delete(&models.SystemLog{})
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}

// retentionDays reads a retention setting from system config
func retentionDays(db *gorm.DB, key string, fallback int) int {
	var cfg models.SystemConfig
	if err := db.Where("`key` = ?", key).First(&cfg).Error; err != nil {
		return fallback
	}

	days, err := strconv.Atoi(cfg.Value)
	if err != nil {
		return fallback
	}
	return days
}

func (s *SystemLogService) GetRetentionDays() int {
	return retentionDays(s.db, models.ConfigLogRetentionDays, defaultRetentionDays)
}

// CleanupScheduler runs the daily log and archived-session cleanup.
type CleanupScheduler struct {
	cron     *cron.Cron
	logs     *SystemLogService
	sessions SessionStore
	db       *gorm.DB
	// sessionRetention is used when system config has no override
	sessionRetention int
}

func NewCleanupScheduler(db *gorm.DB, sessions SessionStore, sessionRetentionDays int) *CleanupScheduler {
	return &CleanupScheduler{
		cron:             cron.New(),
		logs:             NewSystemLogService(db),
		sessions:         sessions,
		db:               db,
		sessionRetention: sessionRetentionDays,
	}
}

// Start runs one cleanup immediately, then every day at 03:00.
func (c *CleanupScheduler) Start() error {
	if _, err := c.cron.AddFunc("0 3 * * *", c.RunOnce); err != nil {
		return err
	}
	go c.RunOnce()
	c.cron.Start()
	logger.Info().Msg("[Cleanup] Scheduler started")
	return nil
}

func (c *CleanupScheduler) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *CleanupScheduler) RunOnce() {
	c.cleanupLogs()
	c.cleanupSessions()
}

func (c *CleanupScheduler) cleanupLogs() {
	days := c.logs.GetRetentionDays()
	if days <= 0 {
		logger.Info().Msg("[SystemLog] Log cleanup disabled (retention_days <= 0)")
		return
	}

	deleted, err := c.logs.CleanupOldLogs(days)
	if err != nil {
		logger.Errorf("[SystemLog] Failed to cleanup old logs: %v", err)
		return
	}
	if deleted > 0 {
		logger.Infof("[SystemLog] Cleaned up %d logs older than %d days", deleted, days)
	}
}

func (c *CleanupScheduler) cleanupSessions() {
	if c.sessions == nil {
		return
	}
	days := retentionDays(c.db, models.ConfigSessionRetentionDays, c.sessionRetention)
	if days <= 0 {
		return
	}

	purged, err := c.sessions.PurgeArchived(context.Background(), time.Now().AddDate(0, 0, -days))
	if err != nil {
		logger.Errorf("[Session] Failed to purge archived sessions: %v", err)
		return
	}
	if purged > 0 {
		logger.Infof("[Session] Purged %d archived sessions older than %d days", purged, days)
	}
}
