package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/support-triage/internal/common"
	"github.com/suPer8Hu/support-triage/internal/httpapi/handlers"
	"github.com/suPer8Hu/support-triage/internal/httpapi/middleware"
	"github.com/suPer8Hu/support-triage/internal/metrics"
	"go.uber.org/zap"
)

func NewRouter(h *handlers.Handler, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.POST("/support-requests", h.CreateSupportRequest)
	api.GET("/support-requests", h.ListSupportRequests)
	api.GET("/support-requests/:id", h.GetSupportRequest)
	api.GET("/stats", h.Stats)
	api.POST("/classify", h.Classify)
	api.GET("/ollama/health", h.ModelHealth)
	return r
}
