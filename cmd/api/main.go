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

	_ "github.com/rollcall-app/rollcall-api/api/swagger"
	"github.com/rollcall-app/rollcall-api/internal/handler"
	"github.com/rollcall-app/rollcall-api/internal/middleware"
	"github.com/rollcall-app/rollcall-api/internal/models"
	"github.com/rollcall-app/rollcall-api/internal/repository"
	"github.com/rollcall-app/rollcall-api/internal/service"
	"github.com/rollcall-app/rollcall-api/pkg/cache"
	"github.com/rollcall-app/rollcall-api/pkg/config"
	"github.com/rollcall-app/rollcall-api/pkg/database"
	"github.com/rollcall-app/rollcall-api/pkg/jobs"
	"github.com/rollcall-app/rollcall-api/pkg/logger"
	corsmiddleware "github.com/rollcall-app/rollcall-api/pkg/middleware/cors"
	reqidmiddleware "github.com/rollcall-app/rollcall-api/pkg/middleware/requestid"
	"github.com/rollcall-app/rollcall-api/pkg/storage"
)

// @title Rollcall API
// @version 1.0.0
// @description QR-based class attendance ledger
// @BasePath /api/v1
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
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close()

	validate := validator.New()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	noClassRepo := repository.NewNoClassRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	exportJobRepo := repository.NewExportJobRepository(db)
	tokenRepo := repository.NewTokenRepository(redisClient, logr)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	ledgerSvc := service.NewLedgerService(userRepo, tokenRepo, attendanceRepo, noClassRepo, auditRepo, cacheRepo, metricsSvc, validate, logr, service.LedgerConfig{
		TokenTTL: cfg.Ledger.TokenTTL,
	})
	userSvc := service.NewUserService(userRepo, courseRepo, auditRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, auditRepo, validate, logr)
	reportSvc := service.NewReportService(attendanceRepo, userRepo, cacheRepo, metricsSvc, validate, logr, service.ReportConfig{
		SummaryCacheTTL: cfg.Reports.SummaryCacheTTL,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var exportSvc *service.ExportService
	var exportQueue *jobs.Queue
	if cfg.Exports.Enabled {
		fileStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Fatal("failed to init export storage", zap.Error(err))
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(exportJobRepo, attendanceRepo, courseRepo, fileStore, signer, validate, logr, service.ExportConfig{
			ResultTTL: cfg.Exports.SignedURLTTL,
		})
		exportQueue = jobs.NewQueue("attendance-exports", exportSvc.Process, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		exportQueue.Start(rootCtx)
		defer exportQueue.Stop()
		exportSvc.SetQueue(exportQueue)

		go func() {
			ticker := time.NewTicker(cfg.Exports.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-rootCtx.Done():
					return
				case <-ticker.C:
					exportSvc.Cleanup()
				}
			}
		}()
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	ledgerHandler := handler.NewLedgerHandler(ledgerSvc)
	userHandler := handler.NewUserHandler(userSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	reportHandler := handler.NewReportHandler(reportSvc, exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

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

	api := r.Group("/api/v1")

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	auth.PUT("/password", middleware.JWT(authSvc), authHandler.ChangePassword)

	courses := api.Group("/courses", middleware.JWT(authSvc))
	courses.GET("", courseHandler.List)
	courses.POST("", middleware.RequireRoles(models.RoleAdmin), courseHandler.Create)
	courses.GET("/:code", courseHandler.Get)
	courses.DELETE("/:code", middleware.RequireRoles(models.RoleAdmin), courseHandler.Delete)

	courses.POST("/:code/token", middleware.RequireRoles(models.RoleTeacher), ledgerHandler.IssueToken)
	courses.GET("/:code/token", middleware.RequireRoles(models.RoleTeacher), ledgerHandler.CurrentToken)
	courses.DELETE("/:code/token", middleware.RequireRoles(models.RoleTeacher), ledgerHandler.CancelToken)
	courses.POST("/:code/no-class", middleware.RequireRoles(models.RoleTeacher), ledgerHandler.SetNoClass)
	courses.GET("/:code/no-class", middleware.RequireRoles(models.RoleTeacher), ledgerHandler.ListNoClass)
	courses.DELETE("/:code/no-class", middleware.RequireRoles(models.RoleTeacher), ledgerHandler.RemoveNoClass)

	attendance := api.Group("/attendance", middleware.JWT(authSvc))
	attendance.POST("/scan", middleware.RequireRoles(models.RoleStudent), ledgerHandler.Scan)
	attendance.GET("/records", reportHandler.Records)
	attendance.GET("/summary", reportHandler.Summary)

	if exportSvc != nil {
		exports := api.Group("/exports")
		exports.POST("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), reportHandler.CreateExport)
		exports.GET("/:id", middleware.JWT(authSvc), reportHandler.GetExport)
		// Download auth is carried by the signed token itself.
		exports.GET("/download", reportHandler.DownloadExport)
	}

	users := api.Group("/users", middleware.JWT(authSvc), middleware.Audit(auditRepo, "ADMIN_REQUEST", "users"))
	users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
	users.POST("", middleware.RequireRoles(models.RoleAdmin), userHandler.Create)
	users.GET("/:username", middleware.RBAC("ADMIN", "SELF"), userHandler.Get)
	users.PUT("/:username/courses", middleware.RequireRoles(models.RoleAdmin), userHandler.AssignCourses)
	users.DELETE("/:username", middleware.RequireRoles(models.RoleAdmin), userHandler.Delete)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("server shutdown incomplete", zap.Error(err))
	}
}
