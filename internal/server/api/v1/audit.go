package v1

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tierconf/internal/server/api/response"
	"tierconf/internal/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// queryAudit handles querying the audit log
func (api *API) queryAudit(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	var filter types.AuditFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		resp.BadRequest(errors.New("invalid query parameters"))
		return
	}

	if filter.Platform != "" {
		if _, err := types.ParsePlatform(string(filter.Platform)); err != nil {
			resp.BadRequest(fmt.Errorf("invalid platform: %s", filter.Platform))
			return
		}
	}

	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		resp.BadRequest(errors.New("to must be after from"))
		return
	}

	page, err := api.service.QueryAudit(ctx, filter)
	if err != nil {
		api.logger.Error("Failed to query audit log",
			zap.Error(err),
			zap.String("key", filter.Key))
		resp.InternalError(errors.New("failed to query audit log"))
		return
	}

	resp.Success(page)
}

// configHistory handles retrieving the audit trail of one key
func (api *API) configHistory(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	key := c.Param("key")
	if err := api.validator.Var(key, "configkey"); err != nil {
		resp.BadRequest(fmt.Errorf("invalid key name: %s", key))
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			resp.BadRequest(errors.New("invalid limit"))
			return
		}
		limit = parsed
	}

	scope := types.Scope{Environment: c.Query("environment")}
	if raw := c.Query("platform"); raw != "" {
		platform, err := types.ParsePlatform(raw)
		if err != nil {
			resp.BadRequest(fmt.Errorf("invalid platform: %s", raw))
			return
		}
		scope.Platform = platform
	}

	entries, err := api.service.ConfigHistory(ctx, key, limit, scope)
	if err != nil {
		if errors.Is(err, types.ErrKeyNotFound) {
			resp.NotFound(fmt.Errorf("key %s not found", key))
			return
		}

		api.logger.Error("Failed to get config history",
			zap.Error(err),
			zap.String("key", key))
		resp.InternalError(errors.New("failed to get config history"))
		return
	}

	resp.Success(gin.H{
		"key":     key,
		"entries": entries,
	})
}
