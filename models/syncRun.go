package models

import "time"

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
)

const (
	SyncTriggeredManual     = "manual"
	SyncTriggeredSchedule   = "schedule"
	SyncTriggeredReschedule = "reschedule"
)

// SyncRun records one TenantSyncWorker invocation for operator inspection.
type SyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	TenantGroupId int64      `gorm:"index;not null" json:"tenant_group_id"`
	CorrelationId string     `gorm:"size:64;index" json:"correlation_id"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	StatsJSON     []byte     `gorm:"type:json" json:"stats"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	LastError     string     `gorm:"type:text" json:"last_error"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncRecordError is a per-record failure captured during a run. Conflicts are
// recorded here and skipped instead of aborting the batch they belong to.
type SyncRecordError struct {
	ID            uint      `gorm:"primary_key" json:"id"`
	SyncRunId     uint      `gorm:"index;not null" json:"sync_run_id"`
	TenantGroupId int64     `gorm:"index;not null" json:"tenant_group_id"`
	ResourceType  string    `gorm:"size:50" json:"resource_type"`
	ExternalId    int64     `json:"external_id"`
	ErrorCode     string    `gorm:"size:64" json:"error_code"`
	Message       string    `gorm:"type:text" json:"message"`
	Retryable     bool      `gorm:"default:false" json:"retryable"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
