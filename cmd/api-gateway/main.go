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

	_ "github.com/noah-isme/evr-admin-api/api/swagger"
	"github.com/noah-isme/evr-admin-api/internal/handler"
	"github.com/noah-isme/evr-admin-api/internal/middleware"
	"github.com/noah-isme/evr-admin-api/internal/models"
	"github.com/noah-isme/evr-admin-api/internal/repository"
	"github.com/noah-isme/evr-admin-api/internal/service"
	"github.com/noah-isme/evr-admin-api/pkg/cache"
	"github.com/noah-isme/evr-admin-api/pkg/config"
	"github.com/noah-isme/evr-admin-api/pkg/database"
	"github.com/noah-isme/evr-admin-api/pkg/jobs"
	"github.com/noah-isme/evr-admin-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/evr-admin-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/evr-admin-api/pkg/middleware/requestid"
)

// @title EVR Admin API
// @version 0.1.0
// @description Voter-registration administration and changeset workflow
// @BasePath /
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, center cache disabled", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()
	metrics := service.NewMetricsService()

	// Repositories.
	changesetRepo := repository.NewChangesetRepository(db)
	recordRepo := repository.NewChangeRecordRepository(db)
	citizenRepo := repository.NewCitizenRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	centerRepo := repository.NewCenterRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	uow := repository.NewUnitOfWork(db)

	// Execution pipeline: the executor consumes jobs carrying changeset ids.
	executor := service.NewChangesetExecutor(changesetRepo, uow, logr, service.WithExecutorMetrics(metrics))
	queue := jobs.NewQueue("changeset-executions", executor.Handler(), jobs.QueueConfig{
		Workers:    cfg.Changesets.WorkerConcurrency,
		BufferSize: cfg.Changesets.QueueBuffer,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()

	dispatcher := service.DispatcherFunc(func(ctx context.Context, changesetID string) error {
		return queue.Enqueue(jobs.Job{ID: changesetID, Type: "changeset-execute"})
	})

	// Services.
	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:        cfg.JWT.Secret,
		AccessExpiry:  cfg.JWT.Expiration,
		RefreshExpiry: cfg.JWT.RefreshExpiration,
	})
	changesetService := service.NewChangesetService(changesetRepo, recordRepo, userRepo, dispatcher, cfg.Changesets.MinApprovals, logr)
	exportService := service.NewExportService(changesetRepo, recordRepo, logr)
	centerService := service.NewCenterService(centerRepo, cacheRepo, userRepo, cfg.Centers.CacheTTL, logr)
	citizenService := service.NewCitizenService(citizenRepo, registrationRepo, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authService)
	changesetHandler := handler.NewChangesetHandler(changesetService, exportService)
	centerHandler := handler.NewCenterHandler(centerService)
	citizenHandler := handler.NewCitizenHandler(citizenService)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
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
		auth.GET("/me", middleware.JWT(authService), authHandler.Me)
	}

	authed := api.Group("")
	authed.Use(middleware.JWT(authService))

	editors := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleOperator)
	approvers := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)

	changesets := authed.Group("/changesets")
	{
		changesets.GET("", changesetHandler.List)
		changesets.POST("", editors, changesetHandler.Create)
		changesets.GET("/:id", changesetHandler.Get)
		changesets.PUT("/:id", editors, changesetHandler.Update)
		changesets.DELETE("/:id", editors, changesetHandler.Delete)
		changesets.POST("/:id/approve", approvers, changesetHandler.Approve)
		changesets.DELETE("/:id/approve", approvers, changesetHandler.RevokeApproval)
		changesets.POST("/:id/queue", approvers,
			middleware.Audit(userRepo, models.AuditActionChangesetQueue, "changeset"),
			changesetHandler.Queue)
		changesets.GET("/:id/records", changesetHandler.Records)
		changesets.GET("/:id/records/export", changesetHandler.ExportRecords)
		changesets.GET("/:id/approvers", changesetHandler.Approvers)
	}

	centers := authed.Group("/centers")
	{
		centers.GET("", centerHandler.List)
		centers.GET("/:id", centerHandler.Get)
		centers.PUT("/:id", approvers, centerHandler.Update)
	}

	citizens := authed.Group("/citizens")
	{
		citizens.GET("/:id", citizenHandler.Get)
		citizens.POST("/lookup", editors, citizenHandler.Lookup)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
