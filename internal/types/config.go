package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// ConfigCategory groups related configuration keys.
type ConfigCategory struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ConfigKey represents a configuration key definition.
type ConfigKey struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	Description  string    `json:"description,omitempty"`
	CategoryID   string    `json:"category_id"`
	IsSecret     bool      `json:"is_secret"`
	DefaultValue string    `json:"default_value,omitempty"`
	ValueType    ValueType `json:"value_type"`
}

// ConfigValue represents one versioned value assignment for a key.
// For a given (key, environment, platform) scope at most one value
// is active at any time.
type ConfigValue struct {
	ID          string    `json:"id"`
	ConfigKeyID string    `json:"config_key_id"`
	Value       string    `json:"value"`
	Scope       Scope     `json:"scope"`
	IsActive    bool      `json:"is_active"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Override is an ephemeral, process-local value assignment. Overrides are
// scope-agnostic and always win over persisted values.
type Override struct {
	Key       string     `json:"key"`
	Value     any        `json:"value"`
	Source    string     `json:"source"`
	SetAt     time.Time  `json:"set_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the override has passed its expiry.
func (o *Override) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && now.After(*o.ExpiresAt)
}

// ValueType tags how a raw value string is decoded.
type ValueType string

const (
	ValueTypeString ValueType = "string"
	ValueTypeNumber ValueType = "number"
	ValueTypeBool   ValueType = "boolean"
	ValueTypeJSON   ValueType = "json"
)

// TypedValue is a configuration value decoded exactly once, at load or
// write time, according to the key's declared value type. Val holds the
// decoded form: string, float64, bool, or an unmarshalled JSON value.
// A value that fails to decode keeps Kind string and its raw form.
type TypedValue struct {
	Kind ValueType `json:"kind"`
	Raw  string    `json:"raw"`
	Val  any       `json:"value"`
}

// DecodeValue decodes a raw value string per the declared value type.
// Decode failures are not errors: the value degrades to a raw string.
func DecodeValue(raw string, vt ValueType) TypedValue {
	switch vt {
	case ValueTypeNumber:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return TypedValue{Kind: ValueTypeNumber, Raw: raw, Val: n}
		}
	case ValueTypeBool:
		if b, err := strconv.ParseBool(raw); err == nil {
			return TypedValue{Kind: ValueTypeBool, Raw: raw, Val: b}
		}
	case ValueTypeJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return TypedValue{Kind: ValueTypeJSON, Raw: raw, Val: v}
		}
	}
	return TypedValue{Kind: ValueTypeString, Raw: raw, Val: raw}
}

// EncodeValue converts a value to its wire form: strings pass through,
// everything else is JSON-encoded.
func EncodeValue(v any) (string, ValueType, error) {
	switch t := v.(type) {
	case string:
		return t, ValueTypeString, nil
	case bool:
		return strconv.FormatBool(t), ValueTypeBool, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), ValueTypeNumber, nil
	case int:
		return strconv.Itoa(t), ValueTypeNumber, nil
	case int64:
		return strconv.FormatInt(t, 10), ValueTypeNumber, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", "", err
		}
		return string(data), ValueTypeJSON, nil
	}
}
