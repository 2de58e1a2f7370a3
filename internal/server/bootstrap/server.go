package bootstrap

import (
	"fmt"
	"net/http"
	"time"

	serverHTTP "oape/internal/server/http"
)

// NewHTTPServer builds the HTTP server around the container's orchestrator.
func NewHTTPServer(container *Container) *http.Server {
	cfg := container.Config
	router := serverHTTP.NewRouter(serverHTTP.RouterConfig{
		Orchestrator: container.Orchestrator,
		Metrics:      container.Metrics,
		CORSOrigins:  cfg.Server.CORSOrigins,
	})

	return &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// SSE and WebSocket connections stay open for the life of a job.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
}
