package nomussync

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/letmesee/nomus_sync_backend/config"
	"bitbucket.org/letmesee/nomus_sync_backend/models"
)

func orchestratorOpts() config.SyncOptions {
	return config.SyncOptions{
		SyncInterval: 5 * time.Minute,
	}
}

func TestDiscoveryEnqueuesPerTenant(t *testing.T) {
	billing := &fakeBilling{tenants: []Tenant{
		{GroupId: 1, HashToken: "a", BaseUrl: "https://erp-1"},
		{GroupId: 2, HashToken: "b", BaseUrl: "https://erp-2"},
		{GroupId: 3, HashToken: "c", BaseUrl: "https://erp-3"},
	}}
	publisher := &fakePublisher{}
	o := NewTenantDiscoveryOrchestrator(billing, publisher, newFakeLocker(), orchestratorOpts())

	enqueued, err := o.RunOnce(context.Background(), models.SyncTriggeredSchedule)
	if err != nil {
		t.Fatal(err)
	}
	if enqueued != 3 || len(publisher.published) != 3 {
		t.Fatalf("enqueued = %d, published = %d", enqueued, len(publisher.published))
	}
	seen := map[int64]bool{}
	for _, p := range publisher.published {
		seen[p.TenantGroupId] = true
		if p.CorrelationId == "" {
			t.Error("task should carry a correlation id")
		}
		if p.HashToken == "" {
			t.Error("task should carry the tenant token")
		}
	}
	if len(seen) != 3 {
		t.Errorf("tenants seen = %v", seen)
	}
}

func TestDiscoverySkipsTenantsWithoutToken(t *testing.T) {
	billing := &fakeBilling{tenants: []Tenant{
		{GroupId: 1, HashToken: "a"},
		{GroupId: 2, HashToken: "   "},
		{GroupId: 3},
	}}
	publisher := &fakePublisher{}
	o := NewTenantDiscoveryOrchestrator(billing, publisher, newFakeLocker(), orchestratorOpts())

	enqueued, err := o.RunOnce(context.Background(), models.SyncTriggeredSchedule)
	if err != nil {
		t.Fatal(err)
	}
	if enqueued != 1 {
		t.Errorf("enqueued = %d, want only the tenant with a token", enqueued)
	}
}

func TestDiscoveryContinuesAfterPublishFailure(t *testing.T) {
	billing := &fakeBilling{tenants: []Tenant{
		{GroupId: 1, HashToken: "a"},
		{GroupId: 2, HashToken: "b"},
	}}
	publisher := &failOncePublisher{}
	o := NewTenantDiscoveryOrchestrator(billing, publisher, newFakeLocker(), orchestratorOpts())

	enqueued, err := o.RunOnce(context.Background(), models.SyncTriggeredSchedule)
	if err != nil {
		t.Fatal(err)
	}
	if enqueued != 1 {
		t.Errorf("enqueued = %d, the second tenant should still go out", enqueued)
	}
}

type failOncePublisher struct {
	calls     int
	published []SyncTaskPayload
}

func (p *failOncePublisher) Publish(ctx context.Context, payload SyncTaskPayload) error {
	p.calls++
	if p.calls == 1 {
		return errors.New("broker hiccup")
	}
	p.published = append(p.published, payload)
	return nil
}

func TestDiscoveryRegistryFailure(t *testing.T) {
	billing := &fakeBilling{tenantsErr: errors.New("registry down")}
	publisher := &fakePublisher{}
	o := NewTenantDiscoveryOrchestrator(billing, publisher, newFakeLocker(), orchestratorOpts())

	if _, err := o.RunOnce(context.Background(), models.SyncTriggeredSchedule); err == nil {
		t.Fatal("registry failure should surface")
	}
	if len(publisher.published) != 0 {
		t.Error("nothing should be enqueued when the registry is unreachable")
	}
}

func TestDiscoveryHeldByAnotherReplica(t *testing.T) {
	billing := &fakeBilling{tenants: []Tenant{{GroupId: 1, HashToken: "a"}}}
	publisher := &fakePublisher{}
	locker := newFakeLocker()
	locker.held[discoveryLockKey] = true
	o := NewTenantDiscoveryOrchestrator(billing, publisher, locker, orchestratorOpts())

	enqueued, err := o.RunOnce(context.Background(), models.SyncTriggeredSchedule)
	if err != nil {
		t.Fatal(err)
	}
	if enqueued != 0 || len(publisher.published) != 0 {
		t.Error("a held discovery lock should skip the round")
	}
}
