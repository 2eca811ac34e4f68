// Package httpapi is the introspection HTTP surface: two read-only routes
// for operators, built the way the teacher wires its Gin router. It never
// starts or steers a run -- only the CLI does that -- so it carries none of
// the multi-host distribution the kernel itself excludes as a non-goal.
package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"kce.dev/kce/internal/httpapi/handler"
	"kce.dev/kce/internal/kg"
	"kce.dev/kce/internal/provenance"
)

// Config controls router-level concerns.
type Config struct {
	ServiceName  string // non-empty enables otelgin tracing middleware
	IsProduction bool
}

// NewRouter builds the full introspection router: GET /health,
// GET /runs/:runId, POST /query.
func NewRouter(store *kg.Store, recorder *provenance.Recorder, cfg Config) *gin.Engine {
	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Order matters: OTel creates the span before Recovery catches a panic
	// inside it, before anything else runs.
	if cfg.ServiceName != "" {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	runHandler := handler.NewRunHandler(recorder)
	router.GET("/runs/:runId", runHandler.Get)

	queryHandler := handler.NewQueryHandler(store)
	router.POST("/query", queryHandler.Post)

	return router
}
