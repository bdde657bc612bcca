package model

import "time"

// UsageStatus is the terminal classification of one routed call.
type UsageStatus string

const (
	UsageSuccess      UsageStatus = "success"
	UsageError        UsageStatus = "error"
	UsageRateLimited  UsageStatus = "rate_limited"
	UsageUnauthorized UsageStatus = "unauthorized"
	UsagePending      UsageStatus = "pending"
)

// UsageLogEntry is one immutable audit record per routed call. Every call
// the router accepts or rejects produces exactly one entry.
type UsageLogEntry struct {
	ID                string      `json:"id"`
	RequestID         string      `json:"request_id"`
	UserID            string      `json:"user_id"`
	APIKeyID          *string     `json:"api_key_id,omitempty"`
	ServiceKey        string      `json:"service_key"`
	Action            string      `json:"action"`
	Status            UsageStatus `json:"status"`
	ErrorCode         *string     `json:"error_code,omitempty"`
	TotalMs           int64       `json:"total_ms"`
	PoolAcquisitionMs int64       `json:"pool_acquisition_ms"`
	ExternalCallMs    int64       `json:"external_call_ms"`
	ClientIP          *string     `json:"client_ip,omitempty"`
	UserAgent         *string     `json:"user_agent,omitempty"`
	ResponsePreview   *string     `json:"response_preview,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}
