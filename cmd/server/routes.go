package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/kickoff/backend/internal/middleware"
	"github.com/huangang/kickoff/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices, reviewLimiter *middleware.RateLimiter) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	r.GET("/health", svc.healthHandler.CheckHealth)

	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/login", svc.authHandler.Login)
			auth.GET("/config", svc.authHandler.GetAuthConfig)
		}

		// Share-token review routes (public, rate limited)
		review := api.Group("/review", reviewLimiter.Middleware(), middleware.AuditLog())
		{
			review.GET("/:token", svc.reviewHandler.Get)
			review.PUT("/:token", svc.reviewHandler.Update)
			review.POST("/:token/approve", svc.reviewHandler.Approve)
			review.POST("/:token/request-changes", svc.reviewHandler.RequestChanges)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired(), middleware.AuditLog())
		{
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout", svc.authHandler.Logout)
			protected.POST("/auth/change-password", svc.authHandler.ChangePassword)

			// Submissions
			protected.POST("/submissions", svc.submissionHandler.Create)
			protected.GET("/submissions", svc.submissionHandler.List)
			protected.GET("/submissions/:id", svc.submissionHandler.Get)
			protected.PUT("/submissions/:id", svc.submissionHandler.Update)
			protected.DELETE("/submissions/:id", svc.submissionHandler.Delete)
			protected.POST("/submissions/:id/duplicates", svc.submissionHandler.CheckDuplicates)
			protected.POST("/submissions/:id/provision", svc.submissionHandler.Provision)
			protected.GET("/submissions/:id/resources", svc.submissionHandler.Resources)

			// Drafts
			protected.POST("/drafts", svc.draftHandler.Create)
			protected.GET("/drafts", svc.draftHandler.List)
			protected.GET("/drafts/:id", svc.draftHandler.Get)
			protected.PUT("/drafts/:id", svc.draftHandler.Update)
			protected.DELETE("/drafts/:id", svc.draftHandler.Delete)
			protected.POST("/drafts/:id/submit", svc.draftHandler.Submit)

			// Platform credentials
			protected.GET("/credentials", svc.credentialHandler.List)
			protected.PUT("/credentials/:platform", svc.credentialHandler.Save)
			protected.DELETE("/credentials/:platform", svc.credentialHandler.Delete)
		}

		// Admin only routes
		admin := api.Group("")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditLog())
		{
			admin.GET("/system-config/templates", svc.systemConfigHandler.GetTemplates)
			admin.PUT("/system-config/templates", svc.systemConfigHandler.UpdateTemplates)
			admin.GET("/system-config/:key", svc.systemConfigHandler.Get)
			admin.PUT("/system-config/:key", svc.systemConfigHandler.Update)

			admin.GET("/system-logs", svc.systemLogHandler.List)
			admin.GET("/system-logs/modules", svc.systemLogHandler.GetModules)
			admin.POST("/system-logs/cleanup", svc.systemLogHandler.Cleanup)
		}
	}
}
