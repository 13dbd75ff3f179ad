package nomussync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"bitbucket.org/letmesee/nomus_sync_backend/config"
	"bitbucket.org/letmesee/nomus_sync_backend/models"
	"bitbucket.org/letmesee/nomus_sync_backend/utils"
)

// retryDelays is the schedule for failed tenant runs. After the last delay
// the run is marked failed for good.
var retryDelays = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}

// RetryDelay returns how long to wait before retry number attempt (1-based),
// or false when the attempt budget is spent.
func RetryDelay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > len(retryDelays) {
		return 0, false
	}
	return retryDelays[attempt-1], true
}

// Locker is per-tenant mutual exclusion. Obtain fails with
// redislock.ErrNotObtained when another worker holds the tenant.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

type Lock interface {
	Release(ctx context.Context) error
}

// redisLocker resolves the lock client per call so wiring can happen before
// Redis is connected.
type redisLocker struct {
	client func() *redislock.Client
}

func NewRedisLocker(client func() *redislock.Client) Locker {
	return &redisLocker{client: client}
}

func (l *redisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	client := l.client()
	if client == nil {
		return nil, errors.New("redis lock client not ready")
	}
	return client.Obtain(ctx, key, ttl, nil)
}

func tenantLockKey(tenantGroupId int64) string {
	return fmt.Sprintf("nomus-sync:tenant:%d", tenantGroupId)
}

// erpFetcher is the per-tenant ERP read surface. The real implementation
// pages through the Nomus REST endpoints.
type erpFetcher interface {
	FetchCustomers(ctx context.Context) ([]customerDTO, error)
	FetchReceivables(ctx context.Context) ([]contaReceberDTO, error)
	FetchBankSlips(ctx context.Context) ([]boletoDTO, error)
	FetchPayments(ctx context.Context) ([]recebimentoDTO, error)
}

type nomusFetcher struct {
	client    *nomusClient
	endpoints tenantEndpoints
}

func newNomusFetcher(tenant Tenant, fullSync bool, opts config.SyncOptions) erpFetcher {
	return &nomusFetcher{
		client:    newNomusClient(tenant, opts),
		endpoints: endpointsFor(fullSync, time.Now()),
	}
}

func (f *nomusFetcher) FetchCustomers(ctx context.Context) ([]customerDTO, error) {
	return fetchAll[customerDTO](ctx, f.client, f.endpoints.customers)
}

func (f *nomusFetcher) FetchReceivables(ctx context.Context) ([]contaReceberDTO, error) {
	return fetchAll[contaReceberDTO](ctx, f.client, f.endpoints.receivables)
}

func (f *nomusFetcher) FetchBankSlips(ctx context.Context) ([]boletoDTO, error) {
	return fetchAll[boletoDTO](ctx, f.client, f.endpoints.slips)
}

func (f *nomusFetcher) FetchPayments(ctx context.Context) ([]recebimentoDTO, error) {
	return fetchAll[recebimentoDTO](ctx, f.client, f.endpoints.payments)
}

// StoreSet bundles one upserter per canonical resource. Built per run so
// conflict callbacks land on the right sync-run row.
type StoreSet struct {
	Receivables RecordUpserter[models.Receivable]
	Payments    RecordUpserter[models.Payment]
	BankSlips   RecordUpserter[models.BankSlip]
	Customers   RecordUpserter[models.Customer]
}

// StoreFactory builds a StoreSet whose conflict skips are reported through
// onSkip.
type StoreFactory func(onSkip func(resource string, externalId int64, err error)) StoreSet

// TenantSyncWorker drives one tenant through fetch, normalize, store and
// forward. Instances are safe for concurrent Handle calls on different
// tenants; the same tenant is serialized by the locker.
type TenantSyncWorker struct {
	billing    BillingAPI
	locker     Locker
	runLog     RunLog
	newStores  StoreFactory
	newFetcher func(tenant Tenant, fullSync bool) erpFetcher
	publisher  TaskPublisher
	opts       config.SyncOptions
	logger     *logrus.Logger

	// schedule defers a callback; swapped in tests to run inline.
	schedule func(d time.Duration, f func())
}

func NewTenantSyncWorker(billing BillingAPI, locker Locker, runLog RunLog, stores StoreFactory, publisher TaskPublisher, opts config.SyncOptions) *TenantSyncWorker {
	w := &TenantSyncWorker{
		billing:   billing,
		locker:    locker,
		runLog:    runLog,
		newStores: stores,
		publisher: publisher,
		opts:      opts,
		logger:    config.GetLogger(),
		schedule: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
	w.newFetcher = func(tenant Tenant, fullSync bool) erpFetcher {
		return newNomusFetcher(tenant, fullSync, opts)
	}
	return w
}

// Handle processes one sync task. A nil return acknowledges the task; lock
// contention is treated as handled so the same tenant is never processed
// twice at once.
func (w *TenantSyncWorker) Handle(ctx context.Context, payload SyncTaskPayload) error {
	if payload.TenantGroupId == 0 {
		return errors.New("invalid payload: missing tenant group id")
	}

	ctx = utils.SetTenantGroupIdInContext(ctx, payload.TenantGroupId)
	if payload.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, payload.CorrelationId)
	}
	log := w.logger.WithFields(logrus.Fields{
		"tenant_group_id": payload.TenantGroupId,
		"correlation_id":  payload.CorrelationId,
		"triggered_by":    payload.TriggeredBy,
	})

	lock, err := w.locker.Obtain(ctx, tenantLockKey(payload.TenantGroupId), w.opts.JobHardTimeout)
	if errors.Is(err, redislock.ErrNotObtained) {
		log.Warn("tenant already syncing, task dropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("tenant lock: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			log.Warn("tenant lock release: " + err.Error())
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, w.opts.JobHardTimeout)
	defer cancel()

	runErr := w.runOnce(ctx, payload, log)
	if runErr == nil {
		w.scheduleNext(payload, log)
		return nil
	}

	log.Error("tenant sync failed: " + runErr.Error())
	w.scheduleRetry(payload, log)
	return nil
}

// runOnce is one complete sync attempt for one tenant.
func (w *TenantSyncWorker) runOnce(ctx context.Context, payload SyncTaskPayload, log *logrus.Entry) error {
	tenant := payload.Tenant()
	runId, err := w.runLog.StartRun(ctx, payload)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	ctx = utils.SetSyncRunIdInContext(ctx, runId)
	startedAt := time.Now()

	outcome := RunOutcome{Stats: map[string]int{}}
	finish := func(runErr error) error {
		outcome.DurationMs = time.Since(startedAt).Milliseconds()
		if runErr != nil {
			outcome.Status = models.SyncRunStatusFailed
			outcome.LastError = runErr.Error()
		} else {
			outcome.Status = models.SyncRunStatusSuccess
		}
		if err := w.runLog.FinishRun(ctx, runId, outcome); err != nil {
			log.Error("finish run: " + err.Error())
		}
		return runErr
	}

	recordError := func(resource string, externalId int64, code string, err error, retryable bool) {
		outcome.ErrorCount++
		w.runLog.RecordError(ctx, models.SyncRecordError{
			SyncRunId:     runId,
			TenantGroupId: payload.TenantGroupId,
			ResourceType:  resource,
			ExternalId:    externalId,
			ErrorCode:     code,
			Message:       err.Error(),
			Retryable:     retryable,
		})
	}

	fetcher := w.newFetcher(tenant, payload.FullSync)

	// All four resources are fetched before anything is written. One failed
	// fetch aborts the whole tenant run so a partial snapshot never reaches
	// the billing side.
	var (
		customers   []customerDTO
		receivables []contaReceberDTO
		slips       []boletoDTO
		payments    []recebimentoDTO
	)
	fetchCtx, fetchCancel := context.WithTimeout(ctx, w.opts.TenantSyncTimeout)
	g, gctx := errgroup.WithContext(fetchCtx)
	g.Go(func() error {
		var err error
		customers, err = fetcher.FetchCustomers(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		receivables, err = fetcher.FetchReceivables(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		slips, err = fetcher.FetchBankSlips(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		payments, err = fetcher.FetchPayments(gctx)
		return err
	})
	err = g.Wait()
	fetchCancel()
	if err != nil {
		recordError("fetch", 0, "fetch_failed", err, true)
		return finish(fmt.Errorf("fetch: %w", err))
	}
	log.WithFields(logrus.Fields{
		"customers":   len(customers),
		"receivables": len(receivables),
		"bankslips":   len(slips),
		"payments":    len(payments),
	}).Info("nomus fetch complete")

	canonCustomers := make([]models.Customer, 0, len(customers))
	for _, c := range customers {
		canonCustomers = append(canonCustomers, NormalizeCustomer(tenant.GroupId, c))
	}
	canonReceivables := make([]models.Receivable, 0, len(receivables))
	for _, r := range receivables {
		canonReceivables = append(canonReceivables, NormalizeReceivable(tenant.GroupId, r))
	}
	canonSlips := make([]models.BankSlip, 0, len(slips))
	for _, s := range slips {
		canonSlips = append(canonSlips, NormalizeBankSlip(tenant.GroupId, s))
	}
	canonPayments := make([]models.Payment, 0, len(payments))
	for _, p := range payments {
		canonPayments = append(canonPayments, NormalizePayment(tenant.GroupId, p))
	}

	invoices := make([]RequestInvoice, 0, len(canonReceivables))
	for _, r := range canonReceivables {
		invoices = append(invoices, BuildInvoice(tenant, r, canonPayments, canonSlips))
	}
	outCustomers := make([]RequestCustomer, 0, len(canonCustomers))
	for _, c := range canonCustomers {
		outCustomers = append(outCustomers, BuildCustomer(tenant, c))
	}

	// Downstream goes first, invoices then customers. The two pushes are
	// independent; both are attempted even if the first fails.
	var sendErrs []error
	if err := w.billing.SendInvoices(ctx, invoices); err != nil {
		recordError("invoices", 0, "forward_failed", err, true)
		sendErrs = append(sendErrs, fmt.Errorf("invoices: %w", err))
	}
	if err := w.billing.SendCustomers(ctx, outCustomers); err != nil {
		recordError("customers", 0, "forward_failed", err, true)
		sendErrs = append(sendErrs, fmt.Errorf("customers: %w", err))
	}
	if len(sendErrs) > 0 {
		return finish(fmt.Errorf("forward: %w", errors.Join(sendErrs...)))
	}

	stores := w.newStores(func(resource string, externalId int64, err error) {
		recordError(resource, externalId, "duplicate_key", err, false)
	})

	// Local writes are independent per resource; one resource failing does
	// not block the others, but any failure fails the run.
	var storeErrs []error
	storeOne := func(resource string, upsert func() (UpsertStats, error)) {
		stats, err := upsert()
		outcome.Stats[resource] = stats.Total()
		outcome.RecordsSynced += stats.Total()
		if err != nil {
			recordError(resource, 0, "store_failed", err, true)
			storeErrs = append(storeErrs, fmt.Errorf("%s: %w", resource, err))
		}
	}
	storeOne("customers", func() (UpsertStats, error) { return stores.Customers.UpsertBatch(ctx, canonCustomers) })
	storeOne("receivables", func() (UpsertStats, error) { return stores.Receivables.UpsertBatch(ctx, canonReceivables) })
	storeOne("bankslips", func() (UpsertStats, error) { return stores.BankSlips.UpsertBatch(ctx, canonSlips) })
	storeOne("payments", func() (UpsertStats, error) { return stores.Payments.UpsertBatch(ctx, canonPayments) })
	if len(storeErrs) > 0 {
		return finish(fmt.Errorf("store: %w", errors.Join(storeErrs...)))
	}

	log.WithFields(logrus.Fields{
		"records_synced": outcome.RecordsSynced,
		"invoices":       len(invoices),
	}).Info("tenant sync complete")
	return finish(nil)
}

// scheduleNext queues the tenant's next regular run.
func (w *TenantSyncWorker) scheduleNext(payload SyncTaskPayload, log *logrus.Entry) {
	next := payload
	next.Attempt = 0
	next.TriggeredBy = models.SyncTriggeredReschedule
	w.schedule(w.opts.SyncInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := w.publisher.Publish(ctx, next); err != nil {
			log.Error("reschedule publish: " + err.Error())
		}
	})
}

// scheduleRetry re-queues a failed run until the attempt budget is spent.
func (w *TenantSyncWorker) scheduleRetry(payload SyncTaskPayload, log *logrus.Entry) {
	delay, ok := RetryDelay(payload.Attempt + 1)
	if !ok {
		log.Error("tenant sync retries exhausted")
		w.scheduleNext(payload, log)
		return
	}
	retry := payload
	retry.Attempt = payload.Attempt + 1
	log.WithFields(logrus.Fields{
		"attempt": retry.Attempt,
		"delay":   delay.String(),
	}).Warn("tenant sync retry scheduled")
	w.schedule(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := w.publisher.Publish(ctx, retry); err != nil {
			log.Error("retry publish: " + err.Error())
		}
	})
}
