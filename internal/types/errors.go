package types

import "errors"

var (
	ErrKeyNotFound      = errors.New("config key not found")
	ErrValueNotFound    = errors.New("config value not found")
	ErrCategoryNotFound = errors.New("config category not found")
	ErrKeyExists        = errors.New("config key already exists")
	ErrCategoryExists   = errors.New("config category already exists")
	ErrKeyInUse         = errors.New("config key has values referencing it")
	ErrInvalidPlatform  = errors.New("invalid platform")
	ErrInvalidDriver    = errors.New("invalid database driver")
)
