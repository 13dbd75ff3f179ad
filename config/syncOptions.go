package config

import (
	"time"
)

// SyncOptions is the recognized configuration surface of the synchronizer.
// Every knob has a stated default so the service runs with only connection
// settings (DB_*, REDIS_ADDRESS, LETMESEE_*) provided.
type SyncOptions struct {
	// MaxConcurrentTenants caps how many tenant sync jobs run in parallel.
	MaxConcurrentTenants int
	// InvoiceBatchSize bounds one downstream invoice/customer POST payload.
	InvoiceBatchSize int
	// StoreBatchSize bounds one local upsert batch.
	StoreBatchSize int
	// TenantSyncTimeout is the logical processing budget for one tenant run.
	TenantSyncTimeout time.Duration
	// JobHardTimeout is the hard ceiling at the job layer (also the tenant
	// lock TTL, so a crashed worker releases the tenant eventually).
	JobHardTimeout time.Duration
	// HTTPTimeout applies to every outbound HTTP request.
	HTTPTimeout time.Duration
	// RetryCount bounds transient-fault retries per page request.
	RetryCount int
	// SyncInterval is the discovery cadence and the self-reschedule delay.
	SyncInterval time.Duration

	LetmeseeBaseURL string
	LetmeseeToken   string

	TopicName        string
	SubscriptionName string

	// FullSync disables the since-yesterday date predicate on ERP fetches.
	FullSync bool
}

func LoadSyncOptions() SyncOptions {
	return SyncOptions{
		MaxConcurrentTenants: intFromEnv("MAX_CONCURRENT_TENANTS", 10),
		InvoiceBatchSize:     intFromEnv("INVOICE_BATCH_SIZE", 100),
		StoreBatchSize:       intFromEnv("STORE_BATCH_SIZE", 500),
		TenantSyncTimeout:    secondsFromEnv("TENANT_SYNC_TIMEOUT_SECONDS", 60*time.Second),
		JobHardTimeout:       secondsFromEnv("JOB_HARD_TIMEOUT_SECONDS", 300*time.Second),
		HTTPTimeout:          secondsFromEnv("HTTP_TIMEOUT_SECONDS", 30*time.Second),
		RetryCount:           intFromEnv("RETRY_COUNT", 3),
		SyncInterval:         time.Duration(intFromEnv("SYNC_INTERVAL_MINUTES", 5)) * time.Minute,
		LetmeseeBaseURL:      stringFromEnv("LETMESEE_BASE_URL", "https://production.letmesee.com.br"),
		LetmeseeToken:        stringFromEnv("LETMESEE_AUTH_TOKEN", ""),
		TopicName:            stringFromEnv("NOMUS_SYNC_TOPIC", "nomus-sync"),
		SubscriptionName:     stringFromEnv("NOMUS_SYNC_SUBSCRIPTION", "nomus-sync-worker"),
		FullSync:             boolFromEnv("NOMUS_FULL_SYNC", false),
	}
}
