package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/lesson-plan-api/api/swagger"
	"github.com/noah-isme/lesson-plan-api/internal/handler"
	"github.com/noah-isme/lesson-plan-api/internal/middleware"
	"github.com/noah-isme/lesson-plan-api/internal/models"
	"github.com/noah-isme/lesson-plan-api/internal/repository"
	"github.com/noah-isme/lesson-plan-api/internal/service"
	"github.com/noah-isme/lesson-plan-api/pkg/cache"
	"github.com/noah-isme/lesson-plan-api/pkg/config"
	"github.com/noah-isme/lesson-plan-api/pkg/database"
	"github.com/noah-isme/lesson-plan-api/pkg/jobs"
	"github.com/noah-isme/lesson-plan-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lesson-plan-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lesson-plan-api/pkg/middleware/requestid"
	"github.com/noah-isme/lesson-plan-api/pkg/storage"

	"go.uber.org/zap"
)

// @title Lesson Plan Review API
// @version 1.0.0
// @description Multi-role review workflow for lesson plans: authoring, analyst and coordinator review, document previews and dashboards
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, dashboard caching disabled", zap.Error(err))
		redisClient = nil
	}

	fileStorage, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		logr.Fatal("failed to init document storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	planRepo := repository.NewPlanRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	periodRepo := repository.NewPeriodRepository(db)

	// Services.
	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr, true)
	}

	authSvc := service.NewAuthService(userRepo, validator.New(), logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "lesson-plan-api",
	})

	converter := service.NewHTTPConverter(cfg.Preview.ConverterURL, cfg.Preview.ConverterTimeout)
	previewSvc := service.NewPreviewService(documentRepo, fileStorage, converter, metricsSvc, nil, logr, service.PreviewServiceConfig{
		PollInterval:    cfg.Preview.PollInterval,
		MaxPollDuration: cfg.Preview.MaxPollDuration,
		RequeueAfter:    cfg.Preview.RequeueAfter,
	})

	previewQueue := jobs.NewQueue("preview-conversion", previewSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Preview.WorkerConcurrency,
		MaxRetries: cfg.Preview.WorkerRetries,
		Logger:     logr,
	})
	previewSvc.SetQueue(previewQueue)
	previewQueue.Start(ctx)
	defer previewQueue.Stop()

	periodSvc := service.NewPeriodService(periodRepo, planRepo, logr)
	planSvc := service.NewPlanService(planRepo, documentRepo, commentRepo, historyRepo, periodSvc, userRepo, logr)
	workflowSvc := service.NewWorkflowService(planRepo, documentRepo, commentRepo, historyRepo, userRepo, logr)
	documentSvc := service.NewDocumentService(documentRepo, planRepo, fileStorage, signer, previewQueue, userRepo, logr, service.DocumentServiceConfig{
		MaxFileSize:  cfg.Documents.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Documents.AllowedMIMEs,
		VideoHosts:   cfg.Documents.VideoHosts,
		APIPrefix:    cfg.APIPrefix,
	})
	commentSvc := service.NewCommentService(commentRepo, documentRepo, userRepo, logr)
	userSvc := service.NewUserService(userRepo, userRepo, validator.New(), logr)
	dashboardSvc := service.NewDashboardService(planRepo, cacheSvc, cfg.Dashboard.CacheTTL, logr)
	exportSvc := service.NewExportService(dashboardSvc, logr)

	if requeued, err := previewSvc.RecoverPending(ctx); err != nil {
		logr.Warn("failed to recover pending previews", zap.Error(err))
	} else if requeued > 0 {
		logr.Info("recovered pending previews", zap.Int("count", requeued))
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	planHandler := handler.NewPlanHandler(planSvc, workflowSvc)
	documentHandler := handler.NewDocumentHandler(documentSvc, previewSvc)
	commentHandler := handler.NewCommentHandler(commentSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc, exportSvc)
	periodHandler := handler.NewPeriodHandler(periodSvc)
	userHandler := handler.NewUserHandler(userSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	teacherOnly := middleware.RequireRoles(models.RoleTeacher)
	analystOnly := middleware.RequireRoles(models.RoleAnalyst)
	coordinatorOnly := middleware.RequireRoles(models.RoleCoordinator)
	adminOnly := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	anyRole := middleware.RequireRoles(models.RoleTeacher, models.RoleAnalyst, models.RoleCoordinator, models.RoleAdmin, models.RoleSuperAdmin)
	reviewersOnly := middleware.RequireRoles(models.RoleAnalyst, models.RoleCoordinator, models.RoleAdmin, models.RoleSuperAdmin)

	plans := api.Group("/plans", middleware.JWT(authSvc))
	{
		plans.POST("/open", teacherOnly, planHandler.Open)
		plans.GET("", anyRole, planHandler.List)
		plans.GET("/:id", anyRole, planHandler.Get)
		plans.GET("/:id/history", anyRole, planHandler.History)

		plans.POST("/:id/submit", teacherOnly, planHandler.Submit)
		plans.POST("/:id/start-analysis", analystOnly, planHandler.StartAnalysis)
		plans.POST("/:id/approve-analyst", analystOnly, planHandler.ApproveAnalyst)
		plans.POST("/:id/return-analyst", analystOnly, planHandler.ReturnAnalyst)
		plans.POST("/:id/approve-coordinator", coordinatorOnly, planHandler.ApproveCoordinator)
		plans.POST("/:id/return-coordinator", coordinatorOnly, planHandler.ReturnCoordinator)

		plans.POST("/:id/documents", teacherOnly, documentHandler.Upload)
		plans.POST("/:id/documents/link", teacherOnly, documentHandler.AddVideoLink)
		plans.GET("/:id/documents", anyRole, documentHandler.ListByPlan)
		plans.GET("/:id/documents/pending", anyRole, documentHandler.PendingPreviews)
	}

	documents := api.Group("/documents")
	{
		// Signed token download routes carry their own auth in the token.
		documents.GET("/:id/download", middleware.Audit(userRepo, models.AuditActionDocumentView, "document"), documentHandler.Download)
		documents.GET("/:id/preview", middleware.Audit(userRepo, models.AuditActionDocumentView, "document"), documentHandler.Preview)

		documents.POST("/:id/comments", middleware.JWT(authSvc), anyRole, commentHandler.Create)
		documents.GET("/:id/comments", middleware.JWT(authSvc), anyRole, commentHandler.List)
	}

	comments := api.Group("/comments", middleware.JWT(authSvc))
	{
		comments.PUT("/:id", anyRole, commentHandler.Update)
		comments.DELETE("/:id", anyRole, commentHandler.Delete)
		comments.POST("/:id/resolve", reviewersOnly, commentHandler.Resolve)
	}

	users := api.Group("/users", middleware.JWT(authSvc), adminOnly)
	{
		users.GET("", userHandler.List)
		users.POST("", userHandler.Create)
		users.GET("/:id", userHandler.Get)
		users.PUT("/:id", userHandler.Update)
		users.DELETE("/:id", userHandler.Deactivate)
	}

	periods := api.Group("/periods", middleware.JWT(authSvc))
	{
		periods.GET("", anyRole, periodHandler.List)
		periods.GET("/:id", anyRole, periodHandler.Get)
	}

	if cfg.Dashboard.Enabled {
		dashboard := api.Group("/dashboard", middleware.JWT(authSvc))
		dashboard.GET("/plans", anyRole, dashboardHandler.Overview)
		if cfg.Reports.Enabled {
			dashboard.GET("/plans/export", reviewersOnly, middleware.Audit(userRepo, models.AuditActionReportExport, "dashboard"), dashboardHandler.Export)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
