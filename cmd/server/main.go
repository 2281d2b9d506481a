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
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"ctdms/internal/audit"
	"ctdms/internal/auth/jwtverify"
	"ctdms/internal/config"
	"ctdms/internal/domain"
	"ctdms/internal/handler"
	"ctdms/internal/logger"
	"ctdms/internal/port"
	"ctdms/internal/repository/memory"
	"ctdms/internal/repository/postgres"
	"ctdms/internal/router"
	"ctdms/internal/service"
	s3storage "ctdms/internal/storage/s3"
	"ctdms/internal/workflow"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	auditMetrics := audit.NewMetrics(reg)

	// Initialize repositories
	var (
		docRepo port.DocumentRepository
		ledger  port.AuditLedger
		pinger  handler.Pinger
	)
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		zl.Warn("using in-memory storage; documents and audit entries are lost on restart")
		docRepo = memory.NewDocumentStore()
		ledger = memory.NewLedger()
	default:
		if cfg.Migrate.Auto {
			if err := postgres.MigrateUp(cfg.DB.DSN()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			zl.Info("database migrations applied")
		}

		var db *sqlx.DB
		db, err = postgres.NewDB(&cfg.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		docRepo = postgres.NewDocumentRepo(db)
		ledger = postgres.NewAuditLedgerRepo(db, zl.Named("ledger"), postgres.LedgerOptions{
			SelfHeal:      cfg.Audit.SelfHeal,
			OnSchemaEvent: auditMetrics.ObserveSchemaEvent,
		})
		pinger = db
	}

	// Initialize storage
	objects, err := s3storage.NewS3Client(ctx, &cfg.S3)
	switch {
	case errors.Is(err, domain.ErrStorageNotConfigured):
		zl.Info("object storage not configured; presigned URLs and upload verification disabled")
		objects = nil
	case err != nil:
		return fmt.Errorf("failed to initialize S3 client: %w", err)
	}

	// Workflow policy
	policy := workflow.DefaultPolicy()
	if cfg.Workflow.Permissions != "" {
		overrides, err := workflow.ParsePermissions(cfg.Workflow.Permissions)
		if err != nil {
			return fmt.Errorf("invalid workflow.permissions: %w", err)
		}
		policy = policy.WithPermissions(overrides)
	}

	recorder := audit.NewRecorder(ledger, zl, auditMetrics, audit.RecorderConfig{
		WriteTimeout: cfg.Audit.WriteTimeout,
		Async:        cfg.Audit.Async,
		QueueSize:    cfg.Audit.QueueSize,
		Workers:      cfg.Audit.Workers,
		MaxOverflow:  cfg.Audit.MaxOverflow,
	})
	defer recorder.Close()

	// Initialize services
	docSvc := service.NewDocumentService(
		docRepo,
		objects,
		workflow.NewEngine(policy),
		recorder,
		service.NewWorkflowMetrics(reg),
		zl,
		service.DocumentServiceConfig{
			MaxFileSize:   cfg.Upload.MaxFileSize,
			VerifyUploads: cfg.Upload.VerifyObject,
			PresignExpiry: cfg.S3.PresignExpiry,
		},
	)
	auditSvc := service.NewAuditService(ledger, zl)

	// Setup router
	r := router.Setup(router.Deps{
		Log:            zl,
		Verifier:       jwtverify.New(cfg.JWT),
		Gatherer:       reg,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		DocumentH:      handler.NewDocumentHandler(docSvc),
		AuditH:         handler.NewAuditHandler(auditSvc),
		HealthH:        handler.NewHealthHandler(pinger),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		zl.Info("server starting",
			zap.String("addr", cfg.Server.Port),
			zap.String("storage", cfg.Storage.Driver),
			zap.Bool("audit_async", cfg.Audit.Async),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	zl.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	zl.Info("server stopped; draining audit queue")
	return nil
}
