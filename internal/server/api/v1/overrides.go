package v1

import (
	"errors"
	"fmt"
	"time"

	"tierconf/internal/server/api/response"

	"github.com/gin-gonic/gin"
)

// listOverrides handles listing active overrides
func (api *API) listOverrides(c *gin.Context) {
	resp := response.New(c, api.logger)
	resp.Success(api.service.Overrides())
}

// setOverride handles storing an ephemeral override
func (api *API) setOverride(c *gin.Context) {
	resp := response.New(c, api.logger)

	key := c.Param("key")
	if err := api.validator.Var(key, "configkey"); err != nil {
		resp.BadRequest(fmt.Errorf("invalid key name: %s", key))
		return
	}

	var req struct {
		Value  any    `json:"value"`
		Source string `json:"source"`
		TTL    string `json:"ttl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.BadRequest(errors.New("invalid request body"))
		return
	}
	if req.Value == nil {
		resp.BadRequest(errors.New("value is required"))
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil {
			resp.BadRequest(fmt.Errorf("invalid ttl: %v", err))
			return
		}
		ttl = parsed
	}

	source := req.Source
	if source == "" {
		source = "api"
	}

	api.service.SetOverride(key, req.Value, source, ttl)

	resp.Success(gin.H{
		"key": key,
		"ttl": req.TTL,
	})
}

// removeOverride handles removing an override
func (api *API) removeOverride(c *gin.Context) {
	resp := response.New(c, api.logger)

	key := c.Param("key")
	if !api.service.RemoveOverride(key) {
		resp.NotFound(fmt.Errorf("no override for key %s", key))
		return
	}

	resp.Success(gin.H{"key": key})
}
