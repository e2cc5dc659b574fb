package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/casebook-api/api/swagger"
	"github.com/noah-isme/casebook-api/internal/handler"
	"github.com/noah-isme/casebook-api/internal/middleware"
	"github.com/noah-isme/casebook-api/internal/models"
	"github.com/noah-isme/casebook-api/internal/repository"
	"github.com/noah-isme/casebook-api/internal/service"
	"github.com/noah-isme/casebook-api/pkg/cache"
	"github.com/noah-isme/casebook-api/pkg/config"
	"github.com/noah-isme/casebook-api/pkg/database"
	"github.com/noah-isme/casebook-api/pkg/jobs"
	"github.com/noah-isme/casebook-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/casebook-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/casebook-api/pkg/middleware/requestid"
	"github.com/noah-isme/casebook-api/pkg/storage"
)

// @title Casebook API
// @version 1.0.0
// @description Surgical case booking workflow, attachments and role permissions
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	metrics := service.NewMetricsService()

	// Redis only backs the shared permission snapshot; the service runs
	// without it.
	var cacheRepo service.CacheRepository
	var redisPing handler.Pinger
	if cfg.Permissions.SnapshotEnabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, permission snapshot disabled", zap.Error(err))
		} else {
			repo := repository.NewCacheRepository(client, logr)
			defer repo.Close() //nolint:errcheck
			cacheRepo = repo
			redisPing = repo
		}
	}
	cacheService := service.NewCacheService(cacheRepo, metrics, cfg.Permissions.SnapshotTTL, logr, cacheRepo != nil)

	caseRepo := repository.NewCaseRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)
	amendmentRepo := repository.NewAmendmentRepository(db)
	permissionRepo := repository.NewPermissionRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	snapshot := service.NewCachedPermissionSource(permissionRepo, cacheService, cfg.Permissions.SnapshotTTL,
		service.WithSnapshotMaxAge(cfg.Permissions.CacheTTL))
	authority := service.NewPermissionAuthority(snapshot, metrics, logr, service.PermissionAuthorityConfig{
		TTL:           cfg.Permissions.CacheTTL,
		ElevatedRoles: roleIDs(cfg.Permissions.ElevatedRoles),
	})
	if cfg.Permissions.RefreshOnStartup {
		if err := authority.Refresh(ctx, true); err != nil {
			logr.Warn("initial permission load failed", zap.Error(err))
		}
	}

	lockedStatuses, err := caseStatuses(cfg.Amendments.LockedStatuses)
	if err != nil {
		return fmt.Errorf("amendment locked statuses: %w", err)
	}

	validate := validator.New()
	trail := service.NewAuditTrailAppender(auditRepo, logr)
	engine := service.NewStatusTransitionEngine(authority, trail, metrics)
	tracker := service.NewAmendmentTracker(authority, trail, lockedStatuses)

	fileStorage, err := storage.NewLocalStorage(cfg.Attachments.StorageDir)
	if err != nil {
		return fmt.Errorf("attachment storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL)
	cleanup := jobs.NewQueue(service.AttachmentCleanupJob, service.NewAttachmentCleanupHandler(fileStorage), jobs.QueueConfig{
		Workers: cfg.Attachments.CleanupWorkers,
		Logger:  logr,
	})
	cleanup.Start(context.Background())
	defer cleanup.Stop()

	tokens := service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})
	caseService := service.NewCaseWorkflowService(caseRepo, engine, authority, trail, validate, logr, service.WithAttachmentLister(attachmentRepo))
	amendmentService := service.NewAmendmentService(caseRepo, amendmentRepo, tracker, authority, trail, metrics, validate, logr)
	attachmentService := service.NewAttachmentService(caseRepo, attachmentRepo, fileStorage, signer, authority, trail, metrics, logr, service.AttachmentServiceConfig{
		Rules: service.AttachmentRules{
			MaxFiles:     cfg.Attachments.MaxFiles,
			MaxFileSize:  cfg.Attachments.MaxFileSizeBytes,
			AllowedMIMEs: cfg.Attachments.AllowedMIMEs,
		},
		APIPrefix: cfg.APIPrefix,
	}, service.WithFileCleanupQueue(cleanup))
	permissionService := service.NewPermissionService(permissionRepo, snapshot, authority, trail, validate, logr)
	exportService := service.NewHistoryExportService(caseService, authority, nil, nil, logr, cfg.Exports.Enabled)

	caseHandler := handler.NewCaseHandler(caseService)
	amendmentHandler := handler.NewAmendmentHandler(amendmentService)
	attachmentHandler := handler.NewAttachmentHandler(attachmentService)
	permissionHandler := handler.NewPermissionHandler(permissionService)
	exportHandler := handler.NewExportHandler(exportService)
	metricsHandler := handler.NewMetricsHandler(metrics.Handler(), map[string]handler.Pinger{
		"database": pingFunc(db.PingContext),
		"redis":    redisPing,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, currentUserID))
	r.Use(corsmiddleware.New(corsmiddleware.Options{AllowedOrigins: cfg.CORS.AllowedOrigins, MaxAge: cfg.CORS.MaxAge}))
	r.Use(middleware.Metrics(metrics, "/metrics", "/health", "/ready"))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Audit())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(tokens))
	api.Use(middleware.RefreshPermissions(authority, logr))

	cases := api.Group("/cases")
	cases.GET("", caseHandler.List)
	cases.POST("", caseHandler.Create)
	cases.GET("/:id", caseHandler.Get)
	cases.GET("/:id/history", caseHandler.History)
	cases.GET("/:id/history/export", exportHandler.History)
	cases.GET("/:id/transitions", caseHandler.AvailableTransitions)
	cases.POST("/:id/transitions", caseHandler.Transition)
	cases.GET("/:id/amendments", amendmentHandler.List)
	cases.POST("/:id/amendments", amendmentHandler.Amend)
	cases.GET("/:id/attachments", attachmentHandler.List)
	cases.POST("/:id/attachments", attachmentHandler.Upload)
	cases.DELETE("/:id/attachments", attachmentHandler.ClearAll)
	cases.GET("/:id/attachments/:attachmentId", attachmentHandler.DownloadURL)
	cases.PUT("/:id/attachments/:attachmentId", attachmentHandler.Replace)
	cases.DELETE("/:id/attachments/:attachmentId", attachmentHandler.Remove)
	cases.GET("/:id/attachments/:attachmentId/download", attachmentHandler.Download)
	cases.GET("/:id/attachments/:attachmentId/lineage", attachmentHandler.Lineage)
	cases.GET("/:id/attachment-changes", attachmentHandler.Changes)

	permissions := api.Group("/permissions")
	permissions.GET("/me", permissionHandler.Mine)
	permissions.GET("", middleware.RequireAction(authority, models.ActionEditPermissions), permissionHandler.Matrix)
	permissions.PUT("", middleware.RequireAction(authority, models.ActionEditPermissions), permissionHandler.Update)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func currentUserID(c *gin.Context) string {
	if claims := middleware.ClaimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}

func roleIDs(raw []string) []models.RoleID {
	out := make([]models.RoleID, 0, len(raw))
	for _, role := range raw {
		out = append(out, models.RoleID(role))
	}
	return out
}

func caseStatuses(raw []string) ([]models.CaseStatus, error) {
	out := make([]models.CaseStatus, 0, len(raw))
	for _, value := range raw {
		status, err := models.ParseCaseStatus(value)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}
