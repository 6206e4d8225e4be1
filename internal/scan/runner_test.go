package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"duetrack.org/internal/alert"
	"duetrack.org/internal/entity"
	"duetrack.org/internal/rules"
)

var scanToday = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) (*Runner, *entity.InMemory, *alert.InMemory, *alert.Manager) {
	t.Helper()
	repo := entity.NewInMemory()
	store := alert.NewInMemory()
	mgr, err := alert.NewManager(store, alert.WithClock(func() time.Time { return scanToday }))
	if err != nil {
		t.Fatal(err)
	}
	engine, err := rules.NewEngine(rules.DefaultRuleSets())
	if err != nil {
		t.Fatal(err)
	}
	runner, err := NewRunner(repo, engine, mgr, WithClock(func() time.Time { return scanToday }))
	if err != nil {
		t.Fatal(err)
	}
	return runner, repo, store, mgr
}

func putEntity(repo *entity.InMemory, id, firm string, typ entity.Type, daysOut int) {
	deadline := scanToday.AddDate(0, 0, daysOut)
	repo.Put(entity.Snapshot{
		ID: id, FirmID: firm, Type: typ,
		Status: entity.StatusActive, DeadlineDate: &deadline,
	})
}

func TestRunOnceCreatesAlerts(t *testing.T) {
	runner, repo, store, _ := newFixture(t)
	putEntity(repo, "L1", "F1", entity.TypeLicense, 5)
	putEntity(repo, "T1", "F2", entity.TypeTaxObligation, 90) // outside every window

	summary := runner.RunOnce(context.Background())

	if s := summary["license"]; s.Evaluated != 1 || s.Created != 1 {
		t.Fatalf("license summary %+v", s)
	}
	if s := summary["tax_obligation"]; s.Evaluated != 1 || s.Created != 0 {
		t.Fatalf("tax summary %+v", s)
	}

	live, err := store.FindLive(context.Background(), alert.Key{
		EntityType: entity.TypeLicense, EntityID: "L1", RuleCode: "license_expiry",
	})
	if err != nil {
		t.Fatal(err)
	}
	if live.Severity != alert.SeverityHigh {
		t.Fatalf("severity=%s, want high for 5 days out", live.Severity)
	}
}

func TestRunOnceIsIdempotent(t *testing.T) {
	runner, repo, store, _ := newFixture(t)
	putEntity(repo, "L1", "F1", entity.TypeLicense, 5)

	runner.RunOnce(context.Background())
	second := runner.RunOnce(context.Background())

	if s := second["license"]; s.Created != 0 || s.Updated != 0 {
		t.Fatalf("second pass mutated the ledger: %+v", s)
	}
	rows, _ := store.List(context.Background(), alert.Filter{AllFirms: true})
	if len(rows) != 1 {
		t.Fatalf("expected exactly 1 row after double scan, got %d", len(rows))
	}
}

func TestRunOnceResolvesClearedConditions(t *testing.T) {
	runner, repo, store, _ := newFixture(t)
	putEntity(repo, "L1", "F1", entity.TypeLicense, 5)
	runner.RunOnce(context.Background())

	// Renewal pushes the deadline far out; the condition no longer holds.
	putEntity(repo, "L1", "F1", entity.TypeLicense, 365)
	summary := runner.RunOnce(context.Background())

	if s := summary["license"]; s.Resolved != 1 {
		t.Fatalf("summary %+v, want 1 resolved", s)
	}
	rows, _ := store.List(context.Background(), alert.Filter{
		Statuses: []alert.Status{alert.StatusResolved}, AllFirms: true,
	})
	if len(rows) != 1 || rows[0].ResolvedAt == nil {
		t.Fatalf("resolved history wrong: %#v", rows)
	}
}

type failingRepo struct {
	inner    *entity.InMemory
	failType entity.Type
}

func (r *failingRepo) ListForEvaluation(ctx context.Context, t entity.Type) ([]entity.Snapshot, error) {
	if t == r.failType {
		return nil, errors.New("backend unavailable")
	}
	return r.inner.ListForEvaluation(ctx, t)
}

func TestRunOnceIsolatesTypeFailures(t *testing.T) {
	_, repo, store, mgr := newFixture(t)
	putEntity(repo, "L1", "F1", entity.TypeLicense, 5)
	putEntity(repo, "K1", "F1", entity.TypeTask, 1)

	engine, err := rules.NewEngine(rules.DefaultRuleSets())
	if err != nil {
		t.Fatal(err)
	}
	runner, err := NewRunner(
		&failingRepo{inner: repo, failType: entity.TypeLicense},
		engine, mgr,
		WithClock(func() time.Time { return scanToday }),
	)
	if err != nil {
		t.Fatal(err)
	}

	summary := runner.RunOnce(context.Background())

	if s := summary["license"]; s.Failed != 1 {
		t.Fatalf("license summary %+v, want failure counted", s)
	}
	if s := summary["task"]; s.Created != 1 {
		t.Fatalf("task summary %+v, failure leaked across types", s)
	}
	if _, err := store.FindLive(context.Background(), alert.Key{
		EntityType: entity.TypeTask, EntityID: "K1", RuleCode: "task_due",
	}); err != nil {
		t.Fatal("healthy type did not produce its alert:", err)
	}
}

// Full lifecycle: create on approach, acknowledge, resolve on renewal.
func TestScanAcknowledgeRenewLifecycle(t *testing.T) {
	runner, repo, store, mgr := newFixture(t)
	ctx := context.Background()
	putEntity(repo, "L1", "F1", entity.TypeLicense, 5)

	runner.RunOnce(ctx)
	key := alert.Key{EntityType: entity.TypeLicense, EntityID: "L1", RuleCode: "license_expiry"}
	live, err := store.FindLive(ctx, key)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.Acknowledge(ctx, live.ID); err != nil {
		t.Fatal(err)
	}

	// Next day's scan must not disturb the acknowledged row.
	runner.RunOnce(ctx)
	pinned, _ := store.FindLive(ctx, key)
	if pinned.Status != alert.StatusAcknowledged {
		t.Fatalf("status=%s after rescan", pinned.Status)
	}

	// Renewal clears the condition; even an acknowledged row resolves.
	putEntity(repo, "L1", "F1", entity.TypeLicense, 365)
	summary := runner.RunOnce(ctx)
	if s := summary["license"]; s.Resolved != 1 {
		t.Fatalf("summary %+v", s)
	}
	final, _ := store.Find(ctx, live.ID)
	if final.Status != alert.StatusResolved || final.ResolvedAt == nil {
		t.Fatalf("final row %#v", final)
	}
}

func TestWithTypesRestrictsScan(t *testing.T) {
	_, repo, store, mgr := newFixture(t)
	putEntity(repo, "L1", "F1", entity.TypeLicense, 5)
	putEntity(repo, "K1", "F1", entity.TypeTask, 1)

	engine, err := rules.NewEngine(rules.DefaultRuleSets())
	if err != nil {
		t.Fatal(err)
	}
	runner, err := NewRunner(repo, engine, mgr,
		WithTypes(entity.TypeTask),
		WithClock(func() time.Time { return scanToday }))
	if err != nil {
		t.Fatal(err)
	}

	summary := runner.RunOnce(context.Background())
	if len(summary) != 1 {
		t.Fatalf("summary covers %d types, want 1", len(summary))
	}
	if _, err := store.FindLive(context.Background(), alert.Key{
		EntityType: entity.TypeLicense, EntityID: "L1", RuleCode: "license_expiry",
	}); !errors.Is(err, alert.ErrNotFound) {
		t.Fatal("license was scanned despite type restriction")
	}
}
