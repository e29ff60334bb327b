package main

import (
	"github.com/huangang/kickoff/backend/internal/config"
	"github.com/huangang/kickoff/backend/internal/handlers"
	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/internal/services"
	"github.com/huangang/kickoff/backend/internal/utils"
	"github.com/huangang/kickoff/backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	taskQueue   services.TaskQueue
	worker      *services.Worker
	cleanup     *services.CleanupScheduler
	redisClient *redis.Client

	authHandler         *handlers.AuthHandler
	submissionHandler   *handlers.SubmissionHandler
	draftHandler        *handlers.DraftHandler
	reviewHandler       *handlers.ReviewHandler
	credentialHandler   *handlers.CredentialHandler
	systemConfigHandler *handlers.SystemConfigHandler
	systemLogHandler    *handlers.SystemLogHandler
	healthHandler       *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, stores, queue, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	if err := models.SeedDefaultData(cfg); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}
	db := models.GetDB()

	services.InitSystemLogger(db)

	app := &appServices{}
	sessions := app.sessionStore(cfg)

	connector := services.NewPlatformConnector(cfg)
	settings := services.NewSystemConfigService(db)
	credentials := services.NewCredentialService(db, &cfg.OAuth)
	provisioner := services.NewProvisionService(sessions, connector, settings, cfg, credentials.ForUser)

	// Queued "approve & create" jobs run through the provisioner in either mode.
	app.taskQueue = services.InitTaskQueue(cfg)
	if syncQueue, ok := app.taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(provisioner.ProcessProvisionTask)
	}
	if cfg.Redis.Enabled && app.taskQueue.IsAsync() {
		app.worker = services.InitWorker(&cfg.Redis)
		if app.worker != nil {
			app.worker.SetProcessor(provisioner.ProcessProvisionTask)
			if err := app.worker.Start(); err != nil {
				logger.Errorf("Failed to start provisioning worker: %v", err)
			}
		}
	}

	app.cleanup = services.NewCleanupScheduler(db, sessions, cfg.Session.RetentionDays)
	if err := app.cleanup.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start cleanup scheduler")
	}

	authService := services.NewAuthService(db, &cfg.JWT, &cfg.LDAP)
	if err := authService.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	drafts := services.NewDraftService(
		draftRepository(cfg, connector),
		sessions,
		services.NewEmailService(&cfg.Email),
		app.taskQueue,
		cfg.Server.PublicBaseURL,
	)

	app.authHandler = handlers.NewAuthHandler(authService)
	app.submissionHandler = handlers.NewSubmissionHandler(services.NewSubmissionService(sessions), provisioner, credentials.ForUser)
	app.draftHandler = handlers.NewDraftHandler(drafts, authService)
	app.reviewHandler = handlers.NewReviewHandler(drafts)
	app.credentialHandler = handlers.NewCredentialHandler(credentials)
	app.systemConfigHandler = handlers.NewSystemConfigHandler(settings, cfg)
	app.systemLogHandler = handlers.NewSystemLogHandler(services.NewSystemLogService(db))
	app.healthHandler = handlers.NewHealthHandler(db, app.taskQueue)
	return app
}

// sessionStore picks the provisioning session backend.
func (s *appServices) sessionStore(cfg *config.Config) services.SessionStore {
	if cfg.Session.Backend == "redis" {
		if !cfg.Redis.Enabled {
			logger.Warn().Msg("[Session] Redis backend requested but redis is disabled, using database")
			return services.NewGormSessionStore(models.GetDB())
		}
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logger.Infof("[Session] Using redis session store at %s", cfg.Redis.Addr)
		return services.NewRedisSessionStore(s.redisClient, cfg.Session.TTLHours)
	}
	return services.NewGormSessionStore(models.GetDB())
}

// draftRepository keeps drafts in the registry base when a service token is
// configured, otherwise in the local database.
func draftRepository(cfg *config.Config, connector services.Connector) services.DraftRepository {
	if cfg.Drafts.Backend == "registry" {
		if cfg.Airtable.APIKey != "" && cfg.Airtable.BaseID != "" {
			logger.Infof("[Draft] Using registry table %q", cfg.Airtable.DraftsTable)
			return services.NewRegistryDraftRepository(connector.Registry(cfg.Airtable.APIKey), cfg.Airtable.DraftsTable)
		}
		logger.Warn().Msg("[Draft] Registry backend needs airtable.api_key and base_id, using database")
	}
	return services.NewGormDraftRepository(models.GetDB())
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.cleanup.Stop()
	logger.Info().Msg("Cleanup scheduler stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
	if s.redisClient != nil {
		s.redisClient.Close()
	}
}
