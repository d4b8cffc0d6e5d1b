package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tierconf/internal/server/api/response"
	"tierconf/internal/server/service"
	"tierconf/internal/validator"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// API represents the API
type API struct {
	service   *service.Service
	validator *validator.Validator
	logger    *zap.Logger
}

// NewAPI creates new API
func NewAPI(svc *service.Service, logger *zap.Logger) *API {
	return &API{
		service:   svc,
		validator: validator.New(),
		logger:    logger,
	}
}

// RegisterRoutes registers API routes
func (api *API) RegisterRoutes(r *gin.RouterGroup) {
	// Configuration resolution endpoints
	configs := r.Group("/configs")
	{
		configs.GET("", api.getConfigs)
		configs.GET("/watch", api.watchConfigs)
		configs.GET("/:key", api.getConfig)
		configs.PUT("/:key", api.setConfig)
		configs.DELETE("/:key", api.deleteConfig)
		configs.POST("/reload", api.reloadConfigs)
	}

	// Key registry endpoints
	keys := r.Group("/keys")
	{
		keys.GET("", api.listKeys)
		keys.POST("", api.createKey)
		keys.GET("/:key", api.getKey)
		keys.PATCH("/:key", api.updateKey)
		keys.DELETE("/:key", api.deleteKey)
	}

	// Category endpoints
	categories := r.Group("/categories")
	{
		categories.GET("", api.listCategories)
		categories.POST("", api.createCategory)
	}

	// Override endpoints
	overrides := r.Group("/overrides")
	{
		overrides.GET("", api.listOverrides)
		overrides.PUT("/:key", api.setOverride)
		overrides.DELETE("/:key", api.removeOverride)
	}

	// Audit endpoints
	audit := r.Group("/audit")
	{
		audit.GET("", api.queryAudit)
		audit.GET("/history/:key", api.configHistory)
	}

	// Health check
	r.GET("/health", api.healthCheck)
}

// healthCheck handles health check requests
func (api *API) healthCheck(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := api.service.HealthCheck(ctx)
	if !status.Healthy {
		resp.Error(http.StatusServiceUnavailable, errors.New("service unhealthy"))
		return
	}

	resp.Success(status)
}
