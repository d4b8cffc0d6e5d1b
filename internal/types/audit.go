package types

import (
	"time"
)

// DetailLevel controls how much of a change an audit entry retains.
type DetailLevel string

const (
	DetailBasic    DetailLevel = "basic"
	DetailStandard DetailLevel = "standard"
	DetailVerbose  DetailLevel = "verbose"
)

// Audit redaction placeholders used at the basic detail level.
const (
	RedactedOldValue = "[previous-value]"
	RedactedNewValue = "[new-value]"
)

// AuditEntry is an immutable record of one configuration mutation.
// A nil NewValue denotes a deletion.
type AuditEntry struct {
	ID            string         `json:"id"`
	ConfigValueID string         `json:"config_value_id"`
	OldValue      *string        `json:"old_value,omitempty"`
	NewValue      *string        `json:"new_value,omitempty"`
	ChangedBy     string         `json:"changed_by"`
	Scope         Scope          `json:"scope"`
	CreatedAt     time.Time      `json:"created_at"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// AuditFilter narrows an audit query. Zero fields are ignored.
// From/To bound CreatedAt inclusively.
type AuditFilter struct {
	Key         string    `json:"key,omitempty" form:"key"`
	ChangedBy   string    `json:"changed_by,omitempty" form:"changed_by"`
	Environment string    `json:"environment,omitempty" form:"environment"`
	Platform    Platform  `json:"platform,omitempty" form:"platform"`
	From        time.Time `json:"from,omitempty" form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To          time.Time `json:"to,omitempty" form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Page        int       `json:"page,omitempty" form:"page"`
	PageSize    int       `json:"page_size,omitempty" form:"page_size"`
}

// AuditPage is one page of audit entries, newest first.
type AuditPage struct {
	Items      []*AuditEntry `json:"items"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// ChangeEvent is published to in-process subscribers whenever a
// configuration value changes. Values are redacted before publication.
type ChangeEvent struct {
	Key       string    `json:"key"`
	OldValue  any       `json:"old_value,omitempty"`
	NewValue  any       `json:"new_value,omitempty"`
	ChangedBy string    `json:"changed_by"`
	Scope     Scope     `json:"scope"`
	Critical  bool      `json:"critical"`
	Timestamp time.Time `json:"timestamp"`
}
