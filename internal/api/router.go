package api

import (
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/medface/internal/api/handlers"
	"github.com/your-org/medface/internal/api/ws"
	"github.com/your-org/medface/internal/patients"
)

type RouterConfig struct {
	Service *patients.Service
	Hub     *ws.Hub
	// Checks are the named dependency probes run by /readyz.
	Checks map[string]handlers.Check
	// CORSOrigins restricts cross-origin callers; empty allows any origin.
	CORSOrigins []string
	// MaxUploadMB bounds the in-memory part of multipart uploads.
	MaxUploadMB int64
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(corsMiddleware(cfg.CORSOrigins))
	if cfg.MaxUploadMB > 0 {
		r.MaxMultipartMemory = cfg.MaxUploadMB << 20
		r.Use(BodyLimitMiddleware(cfg.MaxUploadMB << 20))
	}

	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/", systemH.Root)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	patientH := handlers.NewPatientHandler(cfg.Service)
	v1.POST("/patients", patientH.Create)
	v1.GET("/patients", patientH.List)
	v1.GET("/patients/:id", patientH.Get)
	v1.POST("/recognize", patientH.Recognize)

	recordH := handlers.NewRecordHandler(cfg.Service)
	v1.POST("/patients/:id/records", recordH.Upload)
	v1.GET("/patients/:id/records", recordH.List)
	v1.GET("/patients/:id/records/:filename", recordH.Download)
	v1.GET("/audit", recordH.Audit)

	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return cors.Default()
	}
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = origins
	return cors.New(cfg)
}
