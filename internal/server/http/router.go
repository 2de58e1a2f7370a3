package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"oape/internal/observability"
	"oape/internal/server/app"
)

// RouterConfig carries the router's collaborators.
type RouterConfig struct {
	Orchestrator *app.Orchestrator
	Metrics      *observability.Metrics
	CORSOrigins  []string
}

// NewRouter builds the gin engine with all endpoints registered.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) == 0 || (len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	api := NewAPIHandler(cfg.Orchestrator, cfg.Metrics)
	sse := NewSSEHandler(cfg.Orchestrator, cfg.Metrics)
	ws := NewWSHandler(cfg.Orchestrator, cfg.Metrics)

	router.GET("/", api.HandleHomepage)
	router.POST("/submit", api.HandleSubmit)
	router.GET("/status/:job_id", api.HandleStatus)
	router.POST("/cancel/:job_id", api.HandleCancel)
	router.GET("/stream/:job_id", sse.HandleStream)
	router.GET("/ws/:job_id", ws.HandleStream)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/commands", api.HandleCommands)
		v1.POST("/run", api.HandleRun)
		v1.GET("/jobs", api.HandleListJobs)
	}

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}
