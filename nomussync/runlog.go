package nomussync

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/letmesee/nomus_sync_backend/config"
	"bitbucket.org/letmesee/nomus_sync_backend/models"
)

// RunOutcome is what a finished attempt reports back to the run log.
type RunOutcome struct {
	Status        string
	Stats         map[string]int
	RecordsSynced int
	ErrorCount    int
	LastError     string
	DurationMs    int64
}

// RunLog records sync-run history. RecordError is best-effort: a failed
// error insert is logged but never fails the run.
type RunLog interface {
	StartRun(ctx context.Context, payload SyncTaskPayload) (uint, error)
	FinishRun(ctx context.Context, runId uint, outcome RunOutcome) error
	RecordError(ctx context.Context, recordError models.SyncRecordError)
}

// gormRunLog resolves the database handle per call so it can be wired before
// the connection is up.
type gormRunLog struct {
	db func() *gorm.DB
}

func NewGormRunLog(db func() *gorm.DB) RunLog {
	return &gormRunLog{db: db}
}

func (l *gormRunLog) StartRun(ctx context.Context, payload SyncTaskPayload) (uint, error) {
	now := time.Now()
	run := models.SyncRun{
		TenantGroupId: payload.TenantGroupId,
		CorrelationId: payload.CorrelationId,
		Status:        models.SyncRunStatusRunning,
		TriggeredBy:   payload.TriggeredBy,
		StartedAt:     &now,
	}
	if err := l.db().WithContext(ctx).Create(&run).Error; err != nil {
		return 0, err
	}
	return run.ID, nil
}

func (l *gormRunLog) FinishRun(ctx context.Context, runId uint, outcome RunOutcome) error {
	now := time.Now()
	statsJSON, _ := json.Marshal(outcome.Stats)
	return l.db().WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", runId).
		Updates(map[string]interface{}{
			"status":         outcome.Status,
			"finished_at":    now,
			"duration_ms":    outcome.DurationMs,
			"records_synced": outcome.RecordsSynced,
			"error_count":    outcome.ErrorCount,
			"last_error":     outcome.LastError,
			"stats_json":     statsJSON,
		}).Error
}

func (l *gormRunLog) RecordError(ctx context.Context, recordError models.SyncRecordError) {
	if err := l.db().WithContext(ctx).Create(&recordError).Error; err != nil {
		config.GetLogger().Error("sync error insert failed: " + err.Error())
	}
}

// NewGormStoreFactory wires the four canonical upserters over one database
// handle, resolved when a run starts. onSkip receives duplicate-key drops
// tagged with their resource.
func NewGormStoreFactory(dbFn func() *gorm.DB, batchSize int) StoreFactory {
	return func(onSkip func(resource string, externalId int64, err error)) StoreSet {
		db := dbFn()
		skipFor := func(resource string) skipFunc {
			return func(externalId int64, err error) {
				onSkip(resource, externalId, err)
			}
		}
		return StoreSet{
			Receivables: newGormUpserter[models.Receivable](db, "receivables", batchSize, skipFor("receivables")),
			Payments:    newGormUpserter[models.Payment](db, "payments", batchSize, skipFor("payments")),
			BankSlips:   newGormUpserter[models.BankSlip](db, "bankslips", batchSize, skipFor("bankslips")),
			Customers:   newGormUpserter[models.Customer](db, "customers", batchSize, skipFor("customers")),
		}
	}
}
