// Package api wires together all HTTP routes for the module engine.
//
// Route grouping philosophy:
//   - Authoring routes (/api/v1/modules, /api/v1/versions) are used by module
//     developers and the platform admin UI.
//   - Installation routes (/api/v1/installations) are called by the platform
//     control plane on behalf of tenant sites.
//
// Authentication is handled upstream by the platform API gateway, which
// terminates tenant sessions and forwards only authorized traffic here. The
// engine itself therefore carries no auth middleware — it is never exposed
// directly to the public internet.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/sitehub/module-engine/internal/api/installations"
	"github.com/sitehub/module-engine/internal/api/modules"
	"github.com/sitehub/module-engine/internal/config"
	"github.com/sitehub/module-engine/internal/db/repositories"
	"github.com/sitehub/module-engine/internal/jobs"
	"github.com/sitehub/module-engine/internal/middleware"
	"github.com/sitehub/module-engine/internal/platform"
	"github.com/sitehub/module-engine/internal/services"
	"github.com/sitehub/module-engine/internal/storage"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	retentionJob *jobs.BackupRetentionJob
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.retentionJob != nil {
		bg.retentionJob.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize storage backend
	storageBackend, err := storage.NewStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage backend: %v", err)
	}
	log.Printf("Initialized storage backend: %s", cfg.Storage.DefaultBackend)

	// Initialize repositories
	moduleRepo := repositories.NewModuleRepository(db)
	migrationRepo := repositories.NewMigrationRepository(db)
	installationRepo := repositories.NewInstallationRepository(db)

	// Wrap *sql.DB with sqlx for the flat, read-heavy backup rows
	sqlxDB := sqlx.NewDb(db, "postgres")
	backupRepo := repositories.NewBackupRepository(sqlxDB)

	// Tenant data plumbing: payload execution against tenant schemas and
	// instance data export/import for backups.
	executor := platform.NewSQLExecutor(db, storageBackend)
	exporter := platform.NewTenantDataExporter(sqlxDB)

	// Domain services
	resolver := services.NewResolver(moduleRepo)
	lifecycle, err := services.NewLifecycle(moduleRepo, resolver, cfg.Engine.PlatformVersion)
	if err != nil {
		log.Fatalf("Failed to initialize lifecycle service: %v", err)
	}
	calculator := services.NewUpgradeCalculator(moduleRepo, migrationRepo)
	backupService := services.NewBackupService(backupRepo, storageBackend, exporter)
	engine := services.NewMigrationEngine(moduleRepo, migrationRepo, installationRepo, backupService, executor, calculator)
	rollbackService := services.NewRollbackService(moduleRepo, migrationRepo, installationRepo, backupService, executor, executor)

	// Start the backup retention sweep
	retentionJob := jobs.NewBackupRetentionJob(backupRepo, storageBackend, cfg.Engine.BackupRetentionDays)
	retentionJob.Start(context.Background(), cfg.Engine.RetentionCheckIntervalHours)

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint (includes storage backend probe)
	router.GET("/ready", readinessHandler(db, storageBackend))

	// API version
	router.GET("/version", versionHandler())

	// Rate limiters: a general one for reads and authoring, a stricter one for
	// the endpoints that execute tenant SQL.
	apiLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	executionLimiter := middleware.NewRateLimiter(middleware.ExecutionRateLimitConfig())

	moduleHandlers := modules.NewHandlers(moduleRepo, migrationRepo, lifecycle, resolver, calculator, storageBackend)
	installationHandlers := installations.NewHandlers(installationRepo, migrationRepo, moduleRepo, engine, rollbackService, backupService, cfg.Engine.BackupBeforeUpgrade)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimitMiddleware(apiLimiter))
	{
		// Module authoring
		v1.POST("/modules", moduleHandlers.CreateModule)
		v1.GET("/modules/:id", moduleHandlers.GetModule)

		// Version lifecycle. "latest" is a static sibling of the :version
		// param; gin prefers the static match, so no version may be named it.
		v1.POST("/modules/:id/versions", moduleHandlers.CreateVersion)
		v1.GET("/modules/:id/versions", moduleHandlers.ListVersions)
		v1.GET("/modules/:id/versions/latest", moduleHandlers.LatestVersion)
		v1.GET("/modules/:id/versions/:version", moduleHandlers.GetVersion)
		v1.POST("/versions/:id/publish", moduleHandlers.PublishVersion)
		v1.POST("/versions/:id/deprecate", moduleHandlers.DeprecateVersion)
		v1.POST("/versions/:id/yank", moduleHandlers.YankVersion)
		v1.GET("/versions/:id/dependencies", moduleHandlers.ResolveDependencies)

		// Migration registration and path computation
		v1.POST("/modules/:id/migrations", moduleHandlers.CreateMigration)
		v1.GET("/modules/:id/upgrade-path", moduleHandlers.GetUpgradePath)

		// Installations: reads
		v1.GET("/installations/:id/version", installationHandlers.GetActiveVersion)
		v1.GET("/installations/:id/history", installationHandlers.GetHistory)
		v1.GET("/installations/:id/runs", installationHandlers.GetRuns)
		v1.GET("/installations/:id/rollback-plan", installationHandlers.GetRollbackPlan)
		v1.GET("/installations/:id/rollback-points", installationHandlers.GetRollbackPoints)
		v1.GET("/installations/:id/backups", installationHandlers.ListBackups)
		v1.POST("/installations/:id/backups", installationHandlers.CreateBackup)

		// Installations: operations that execute tenant SQL
		execution := v1.Group("")
		execution.Use(middleware.RateLimitMiddleware(executionLimiter))
		{
			execution.POST("/installations/:id", installationHandlers.Install)
			execution.POST("/installations/:id/upgrade", installationHandlers.Upgrade)
			execution.POST("/installations/:id/rollback", installationHandlers.Rollback)
			execution.POST("/installations/:id/rollback/previous", installationHandlers.RollbackPrevious)
			execution.POST("/installations/:id/backups/:backupID/restore", installationHandlers.RestoreBackup)
		}
	}

	bg := &BackgroundServices{
		retentionJob: retentionJob,
		rateLimiters: []*middleware.RateLimiter{apiLimiter, executionLimiter},
	}

	return router, bg
}

func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks database and storage connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: dependency not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the storage backend so
// that a Kubernetes readiness gate fails when payload reads would error.
func readinessHandler(db *sql.DB, storageBackend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Check storage backend — probe with a known-absent sentinel path.
		// Exists() exercises authentication and network connectivity without
		// creating any state.
		if _, err := storageBackend.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		// Log the request
		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	slog.LogAttrs(
		c.Request.Context(),
		slog.LevelInfo,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the global
	// handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
