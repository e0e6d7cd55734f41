package web

import (
	"net/http"

	"github.com/xsamir/ProductCompare/internal/middleware"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with the page, probes and an optional
// metrics endpoint.
func NewRouter(page *PageHandler, health *HealthHandler, metrics middleware.MetricsRecorder, metricsHandler http.Handler, mw ...gin.HandlerFunc) (*gin.Engine, error) {
	tmpl, err := ParseTemplates()
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID())
	router.Use(mw...)
	if metrics != nil {
		router.Use(middleware.MetricsMiddleware(metrics))
	}
	router.SetHTMLTemplate(tmpl)

	router.GET("/", page.HandleIndex)
	router.GET("/healthz", health.Live)
	router.GET("/readyz", health.Ready)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}
	return router, nil
}
