// Package router wires the policy-watcher HTTP routes.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kart-io/policy-watcher/internal/watchd/handler"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
	"github.com/kart-io/policy-watcher/pkg/utils/response"
)

// Register registers the health, metrics and policy routes on engine.
// gatherer may be nil, in which case /metrics is not served.
func Register(engine *gin.Engine, policy *handler.PolicyHandler, gatherer prometheus.Gatherer) {
	logger.Info("Registering policy-watcher routes...")

	engine.GET("/healthz", func(c *gin.Context) {
		response.Write(c, nil, gin.H{"status": "ok"})
	})

	if gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := engine.Group("/v1")
	{
		v1.GET("/enforce", policy.Enforce)

		policies := v1.Group("/policies")
		{
			policies.GET("", policy.List)
			policies.POST("", policy.Add)
			policies.DELETE("", policy.Remove)
			policies.POST("/filter-delete", policy.RemoveFiltered)
			policies.POST("/save", policy.Save)
			policies.POST("/reload", policy.Reload)
			policies.POST("/clear", policy.Clear)
		}

		v1.POST("/cache/clear", policy.ClearCache)
	}

	engine.NoRoute(func(c *gin.Context) {
		response.Write(c, errors.ErrNotFound.WithMessagef("route %s %s not found", c.Request.Method, c.Request.URL.Path), nil)
	})
}
