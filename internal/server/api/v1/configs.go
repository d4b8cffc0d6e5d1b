package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tierconf/internal/server/api/middleware"
	"tierconf/internal/server/api/response"
	"tierconf/internal/server/resolver"
	"tierconf/internal/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// scopeOverrides applies explicit environment/platform parameters on
// top of the scope resolved by the middleware. A present-but-empty
// parameter selects the global tier.
func scopeOverrides(c *gin.Context, environment, platform *string) (types.Scope, error) {
	scope := middleware.RequestScope(c)

	if environment != nil {
		scope.Environment = *environment
	}
	if platform != nil {
		p, err := types.ParsePlatform(*platform)
		if err != nil {
			return scope, err
		}
		scope.Platform = p
	}
	return scope, nil
}

// queryScope derives the scope from query parameters
func queryScope(c *gin.Context) (types.Scope, error) {
	var environment, platform *string
	if v, ok := c.GetQuery("environment"); ok {
		environment = &v
	}
	if v, ok := c.GetQuery("platform"); ok {
		platform = &v
	}
	return scopeOverrides(c, environment, platform)
}

// getConfigs handles resolving all keys of a category
func (api *API) getConfigs(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	category := c.Query("category")
	if category == "" {
		resp.BadRequest(errors.New("category is required"))
		return
	}

	scope, err := queryScope(c)
	if err != nil {
		resp.BadRequest(fmt.Errorf("invalid platform: %w", err))
		return
	}

	values := api.service.GetConfigsByCategory(ctx, category, scope)

	resp.Success(gin.H{
		"category": category,
		"scope":    scope.String(),
		"values":   values,
	})
}

// getConfig handles resolving a single key
func (api *API) getConfig(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	key := c.Param("key")
	if err := api.validator.Var(key, "configkey"); err != nil {
		resp.BadRequest(fmt.Errorf("invalid key name: %s", key))
		return
	}

	scope, err := queryScope(c)
	if err != nil {
		resp.BadRequest(fmt.Errorf("invalid platform: %w", err))
		return
	}

	var opts resolver.GetOptions
	if def, ok := c.GetQuery("default"); ok {
		opts.Default = def
	}

	value, found := api.service.GetConfig(ctx, key, scope, opts)
	if !found {
		resp.NotFound(fmt.Errorf("no value for key %s", key))
		return
	}

	resp.Success(gin.H{
		"key":   key,
		"scope": scope.String(),
		"value": value,
	})
}

// setConfig handles persisting a value or storing a temporary override
func (api *API) setConfig(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	key := c.Param("key")
	if err := api.validator.Var(key, "configkey"); err != nil {
		resp.BadRequest(fmt.Errorf("invalid key name: %s", key))
		return
	}

	var req struct {
		Value       any     `json:"value"`
		Environment *string `json:"environment"`
		Platform    *string `json:"platform"`
		Temporary   bool    `json:"temporary"`
		TTL         string  `json:"ttl"`
		Actor       string  `json:"actor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.BadRequest(errors.New("invalid request body"))
		return
	}
	if req.Value == nil {
		resp.BadRequest(errors.New("value is required"))
		return
	}

	scope, err := scopeOverrides(c, req.Environment, req.Platform)
	if err != nil {
		resp.BadRequest(fmt.Errorf("invalid platform: %w", err))
		return
	}

	opts := resolver.SetOptions{
		Temporary: req.Temporary,
		Actor:     req.Actor,
		Source:    "api",
		Origin:    c.ClientIP(),
	}
	if opts.Actor == "" {
		opts.Actor = "api"
	}
	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil {
			resp.BadRequest(fmt.Errorf("invalid ttl: %v", err))
			return
		}
		opts.TTL = ttl
	}

	if err := api.service.SetConfig(ctx, key, req.Value, scope, opts); err != nil {
		api.logger.Error("Failed to set config",
			zap.Error(err),
			zap.String("key", key),
			zap.String("scope", scope.String()))
		resp.InternalError(errors.New("failed to set config"))
		return
	}

	resp.Success(gin.H{
		"key":       key,
		"scope":     scope.String(),
		"temporary": req.Temporary,
	})
}

// deleteConfig handles deactivating the value for a key in one scope
func (api *API) deleteConfig(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	key := c.Param("key")
	if err := api.validator.Var(key, "configkey"); err != nil {
		resp.BadRequest(fmt.Errorf("invalid key name: %s", key))
		return
	}

	scope, err := queryScope(c)
	if err != nil {
		resp.BadRequest(fmt.Errorf("invalid platform: %w", err))
		return
	}

	opts := resolver.SetOptions{
		Actor:  c.Query("actor"),
		Source: "api",
		Origin: c.ClientIP(),
	}
	if opts.Actor == "" {
		opts.Actor = "api"
	}

	if err := api.service.DeleteConfig(ctx, key, scope, opts); err != nil {
		if errors.Is(err, types.ErrKeyNotFound) || errors.Is(err, types.ErrValueNotFound) {
			resp.NotFound(fmt.Errorf("no value for key %s", key))
			return
		}

		api.logger.Error("Failed to delete config",
			zap.Error(err),
			zap.String("key", key),
			zap.String("scope", scope.String()))
		resp.InternalError(errors.New("failed to delete config"))
		return
	}

	resp.Success(gin.H{
		"key":   key,
		"scope": scope.String(),
	})
}

// reloadConfigs drops cached resolutions
func (api *API) reloadConfigs(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	api.service.ReloadConfigs(ctx)

	resp.Success(gin.H{"status": "reloaded"})
}

// watchConfigs streams change events over SSE
func (api *API) watchConfigs(c *gin.Context) {
	resp := response.New(c, api.logger)

	events, cancel, ok := api.service.WatchChanges()
	if !ok {
		resp.Error(http.StatusServiceUnavailable, errors.New("change monitoring is disabled"))
		return
	}
	defer cancel()

	out := make(chan response.SSEvent)
	go func() {
		defer close(out)
		for event := range events {
			data, err := json.Marshal(event)
			if err != nil {
				api.logger.Error("Failed to encode change event", zap.Error(err))
				continue
			}
			out <- response.SSEvent{Event: "config.changed", Data: string(data)}
		}
	}()

	resp.StreamSSE(out)
}
