package v1

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tierconf/internal/server/api/response"
	"tierconf/internal/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// createKeyRequest is the key registration payload
type createKeyRequest struct {
	Key          string `json:"key" binding:"required" validate:"configkey"`
	Description  string `json:"description"`
	CategoryID   string `json:"category_id"`
	IsSecret     bool   `json:"is_secret"`
	DefaultValue string `json:"default_value"`
	ValueType    string `json:"value_type"`
}

// listKeys handles listing configuration keys
func (api *API) listKeys(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	keys, err := api.service.ListKeys(ctx, c.Query("category_id"))
	if err != nil {
		api.logger.Error("Failed to list keys", zap.Error(err))
		resp.InternalError(errors.New("failed to list keys"))
		return
	}

	resp.Success(keys)
}

// createKey handles registering a configuration key
func (api *API) createKey(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.BadRequest(errors.New("invalid key definition"))
		return
	}
	if err := api.validator.Var(req.Key, "configkey"); err != nil {
		resp.BadRequest(fmt.Errorf("invalid key name: %s", req.Key))
		return
	}

	valueType := types.ValueType(req.ValueType)
	if req.ValueType == "" {
		valueType = types.ValueTypeString
	}
	switch valueType {
	case types.ValueTypeString, types.ValueTypeNumber, types.ValueTypeBool, types.ValueTypeJSON:
	default:
		resp.BadRequest(fmt.Errorf("invalid value type: %s", req.ValueType))
		return
	}

	key := &types.ConfigKey{
		Key:          req.Key,
		Description:  req.Description,
		CategoryID:   req.CategoryID,
		IsSecret:     req.IsSecret,
		DefaultValue: req.DefaultValue,
		ValueType:    valueType,
	}

	if err := api.service.CreateKey(ctx, key); err != nil {
		if errors.Is(err, types.ErrKeyExists) {
			resp.Conflict(fmt.Errorf("key %s already exists", req.Key))
			return
		}

		api.logger.Error("Failed to create key",
			zap.Error(err),
			zap.String("key", req.Key))
		resp.InternalError(errors.New("failed to create key"))
		return
	}

	resp.Created(key)
}

// getKey handles loading a key definition
func (api *API) getKey(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	name := c.Param("key")

	key, err := api.service.GetKey(ctx, name)
	if err != nil {
		if errors.Is(err, types.ErrKeyNotFound) {
			resp.NotFound(fmt.Errorf("key %s not found", name))
			return
		}

		api.logger.Error("Failed to get key",
			zap.Error(err),
			zap.String("key", name))
		resp.InternalError(errors.New("failed to get key"))
		return
	}

	resp.Success(key)
}

// updateKey handles updating a key's description, category and default
func (api *API) updateKey(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	name := c.Param("key")

	key, err := api.service.GetKey(ctx, name)
	if err != nil {
		if errors.Is(err, types.ErrKeyNotFound) {
			resp.NotFound(fmt.Errorf("key %s not found", name))
			return
		}
		resp.InternalError(errors.New("failed to get key"))
		return
	}

	var req struct {
		Description  *string `json:"description"`
		CategoryID   *string `json:"category_id"`
		DefaultValue *string `json:"default_value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.BadRequest(errors.New("invalid request body"))
		return
	}

	if req.Description != nil {
		key.Description = *req.Description
	}
	if req.CategoryID != nil {
		key.CategoryID = *req.CategoryID
	}
	if req.DefaultValue != nil {
		key.DefaultValue = *req.DefaultValue
	}

	if err := api.service.UpdateKey(ctx, key); err != nil {
		api.logger.Error("Failed to update key",
			zap.Error(err),
			zap.String("key", name))
		resp.InternalError(errors.New("failed to update key"))
		return
	}

	resp.Success(key)
}

// deleteKey handles removing an unused key
func (api *API) deleteKey(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	name := c.Param("key")

	if err := api.service.DeleteKey(ctx, name); err != nil {
		if errors.Is(err, types.ErrKeyNotFound) {
			resp.NotFound(fmt.Errorf("key %s not found", name))
			return
		}
		if errors.Is(err, types.ErrKeyInUse) {
			resp.Conflict(fmt.Errorf("key %s has values or audit records", name))
			return
		}

		api.logger.Error("Failed to delete key",
			zap.Error(err),
			zap.String("key", name))
		resp.InternalError(errors.New("failed to delete key"))
		return
	}

	resp.Success(gin.H{"key": name})
}

// listCategories handles listing categories
func (api *API) listCategories(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	categories, err := api.service.ListCategories(ctx)
	if err != nil {
		api.logger.Error("Failed to list categories", zap.Error(err))
		resp.InternalError(errors.New("failed to list categories"))
		return
	}

	resp.Success(categories)
}

// createCategory handles registering a category
func (api *API) createCategory(c *gin.Context) {
	resp := response.New(c, api.logger)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.BadRequest(errors.New("invalid category definition"))
		return
	}

	cat := &types.ConfigCategory{
		Name:        req.Name,
		Description: req.Description,
	}

	if err := api.service.CreateCategory(ctx, cat); err != nil {
		if errors.Is(err, types.ErrCategoryExists) {
			resp.Conflict(fmt.Errorf("category %s already exists", req.Name))
			return
		}

		api.logger.Error("Failed to create category",
			zap.Error(err),
			zap.String("category", req.Name))
		resp.InternalError(errors.New("failed to create category"))
		return
	}

	resp.Created(cat)
}
