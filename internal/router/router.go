package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ctdms/internal/domain"
	"ctdms/internal/handler"
	"ctdms/internal/middleware"
	"ctdms/internal/port"
)

// Deps holds everything the router wires into the engine.
type Deps struct {
	Log            *zap.Logger
	Verifier       port.TokenVerifier
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string

	DocumentH *handler.DocumentHandler
	AuditH    *handler.AuditHandler
	HealthH   *handler.HealthHandler
}

// auditReaders may read and export the audit trail.
var auditReaders = []domain.UserRole{domain.RoleAdmin, domain.RoleStudyManager, domain.RoleAuditor}

// Setup configures the Gin engine with all routes and middleware.
func Setup(d Deps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(d.Log))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestMetadata())
	r.Use(middleware.Logger(d.Log))
	r.Use(middleware.CORS(d.AllowedOrigins))

	// Health checks
	r.GET("/healthz", d.HealthH.Liveness)
	r.GET("/readyz", d.HealthH.Readiness)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")

	// Protected routes - require valid JWT
	protected := v1.Group("")
	protected.Use(middleware.AuthMiddleware(d.Verifier))

	// Document lifecycle
	docs := protected.Group("/documents")
	docs.POST("", d.DocumentH.Create)
	docs.GET("", d.DocumentH.List)
	docs.GET("/:id", d.DocumentH.GetByID)
	docs.GET("/:id/actions", d.DocumentH.AvailableActions)
	docs.POST("/:id/actions", d.DocumentH.Invoke)
	docs.GET("/:id/versions", d.DocumentH.ListVersions)
	docs.GET("/:id/versions/:versionId/download", d.DocumentH.DownloadURL)
	docs.POST("/:id/versions/upload-url", d.DocumentH.UploadURL)
	docs.GET("/:id/audit", middleware.RequireRole(auditReaders...), d.AuditH.ListForDocument)

	// Audit trail (read-only)
	auditTrail := protected.Group("/audit")
	auditTrail.Use(middleware.RequireRole(auditReaders...))
	auditTrail.GET("", d.AuditH.List)
	auditTrail.GET("/export", d.AuditH.Export)
	auditTrail.GET("/:id", d.AuditH.GetByID)

	return r
}
