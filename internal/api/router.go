package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/parlor/internal/app"
	"github.com/charlesng35/parlor/internal/handlers"
	"github.com/charlesng35/parlor/internal/middleware"
)

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(cfg *app.Config, db *gorm.DB, gateway *handlers.GatewayHandler) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway handler must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.SecurityHeaders())

	r.GET("/ws", gateway.Serve)
	r.GET("/api/health", handlers.Health(db))

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
