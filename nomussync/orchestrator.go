package nomussync

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bitbucket.org/letmesee/nomus_sync_backend/config"
	"bitbucket.org/letmesee/nomus_sync_backend/models"
)

// TaskPublisher enqueues one tenant sync task.
type TaskPublisher interface {
	Publish(ctx context.Context, payload SyncTaskPayload) error
}

const discoveryLockKey = "nomus-sync:discovery"

// TenantDiscoveryOrchestrator lists the registered tenants and enqueues one
// sync task per tenant. Enqueue is fire-and-forget: a publish failure for one
// tenant is logged and the rest still go out. Discovery rounds never overlap,
// neither in-process nor across replicas.
type TenantDiscoveryOrchestrator struct {
	billing   BillingAPI
	publisher TaskPublisher
	locker    Locker
	opts      config.SyncOptions
	logger    *logrus.Logger
	running   atomic.Bool
}

func NewTenantDiscoveryOrchestrator(billing BillingAPI, publisher TaskPublisher, locker Locker, opts config.SyncOptions) *TenantDiscoveryOrchestrator {
	return &TenantDiscoveryOrchestrator{
		billing:   billing,
		publisher: publisher,
		locker:    locker,
		opts:      opts,
		logger:    config.GetLogger(),
	}
}

// RunOnce performs one discovery round. Tenants with an empty token have not
// finished onboarding and are skipped. Returns how many tasks were enqueued.
func (o *TenantDiscoveryOrchestrator) RunOnce(ctx context.Context, triggeredBy string) (int, error) {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Warn("discovery already running, round skipped")
		return 0, nil
	}
	defer o.running.Store(false)

	lock, err := o.locker.Obtain(ctx, discoveryLockKey, o.opts.SyncInterval)
	if errors.Is(err, redislock.ErrNotObtained) {
		o.logger.Info("discovery held by another replica, round skipped")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}()

	tenants, err := o.billing.ListTenants(ctx)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, tenant := range tenants {
		if strings.TrimSpace(tenant.HashToken) == "" {
			o.logger.WithFields(logrus.Fields{
				"tenant_group_id": tenant.GroupId,
			}).Info("tenant without token, skipped")
			continue
		}
		payload := SyncTaskPayload{
			TenantGroupId:    tenant.GroupId,
			CompanyId:        tenant.CompanyId,
			CreditorDocument: tenant.CreditorDocument,
			HashToken:        tenant.HashToken,
			BaseUrl:          tenant.BaseUrl,
			FullSync:         o.opts.FullSync,
			TriggeredBy:      triggeredBy,
			CorrelationId:    uuid.NewString(),
		}
		if err := o.publisher.Publish(ctx, payload); err != nil {
			o.logger.WithFields(logrus.Fields{
				"tenant_group_id": tenant.GroupId,
			}).Error("tenant enqueue failed: " + err.Error())
			continue
		}
		enqueued++
	}
	o.logger.WithFields(logrus.Fields{
		"tenants":  len(tenants),
		"enqueued": enqueued,
	}).Info("discovery round complete")
	return enqueued, nil
}

// Start runs discovery rounds on the configured interval until ctx is done.
// The first round fires immediately.
func (o *TenantDiscoveryOrchestrator) Start(ctx context.Context) {
	ticker := time.NewTicker(o.opts.SyncInterval)
	defer ticker.Stop()

	if _, err := o.RunOnce(ctx, models.SyncTriggeredSchedule); err != nil {
		o.logger.Error("discovery round failed: " + err.Error())
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.RunOnce(ctx, models.SyncTriggeredSchedule); err != nil {
				o.logger.Error("discovery round failed: " + err.Error())
			}
		}
	}
}
