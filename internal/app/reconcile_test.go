package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"atlas/api/internal/cache"
	"atlas/api/internal/config"
	"atlas/api/internal/contentstore"
	"atlas/api/internal/events"
	"atlas/api/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestReconcileRepointsOrphanedCommit(t *testing.T) {
	meta := newFakeMetadata()
	content := contentstore.NewMemory()
	publisher := &recordingPublisher{}
	svc := New(config.Config{}, meta, content, publisher)
	scope := UserScope(testUserID)
	ctx := context.Background()

	if _, err := svc.Save(ctx, scope, "A", "", "Avery"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	meta.upsertFn = func(context.Context, string, string, string, string) (store.ScopeConfiguration, error) {
		return store.ScopeConfiguration{}, errors.New("connection reset")
	}
	if _, err := svc.Save(ctx, scope, "B", "", "Avery"); err == nil {
		t.Fatalf("expected metadata failure")
	}
	meta.upsertFn = nil

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.Checked != 1 || report.Repaired != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	record, err := svc.Get(ctx, scope)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if record.Content != "B" {
		t.Fatalf("expected reconciled content B, got %q", record.Content)
	}
	reasons := publisher.reasons()
	if len(reasons) != 2 || reasons[1] != events.ReasonReconcile {
		t.Fatalf("unexpected event reasons %v", reasons)
	}

	again, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if again.Repaired != 0 {
		t.Fatalf("expected nothing to repair, got %+v", again)
	}
}

func TestReconcileCountsMissingContent(t *testing.T) {
	meta := newFakeMetadata()
	svc := newTestService(meta, contentstore.NewMemory())
	scope := TeamScope(testTeamID)
	if _, err := meta.UpsertScopeConfiguration(context.Background(), store.LevelTeam, testTeamID, scope.ContentPath(), "deadbeef"); err != nil {
		t.Fatalf("UpsertScopeConfiguration() error = %v", err)
	}

	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.Checked != 1 || report.Failed != 1 || report.Repaired != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestReconcileIgnoresCachedHistory(t *testing.T) {
	meta := newFakeMetadata()
	backend := contentstore.NewMemory()
	s := miniredis.RunT(t)
	cached := cache.NewRedisStoreWithClient(backend, redis.NewClient(&redis.Options{Addr: s.Addr()}), time.Hour)
	t.Cleanup(func() { _ = cached.Close() })
	svc := newTestService(meta, cached)
	scope := UserScope(testUserID)
	ctx := context.Background()

	if _, err := svc.Save(ctx, scope, "A", "", "Avery"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := contentstore.Latest(ctx, cached, scope.ContentPath()); err != nil {
		t.Fatalf("Latest() error = %v", err)
	}

	// Another instance saves B without going through this cache.
	commitB, err := backend.WriteContent(ctx, scope.ContentPath(), "B", "Avery", "B")
	if err != nil {
		t.Fatalf("WriteContent() error = %v", err)
	}
	if _, err := meta.UpsertScopeConfiguration(ctx, store.LevelUser, testUserID, scope.ContentPath(), commitB); err != nil {
		t.Fatalf("UpsertScopeConfiguration() error = %v", err)
	}

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.Checked != 1 || report.Repaired != 0 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	record, err := svc.Get(ctx, scope)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if record.Content != "B" || record.CommitID != commitB {
		t.Fatalf("reconcile moved metadata back to a cached commit: %+v", record)
	}
}
