package rules

import (
	"testing"
	"time"

	"duetrack.org/internal/alert"
	"duetrack.org/internal/entity"
)

func mustEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultRuleSets())
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func snapAt(typ entity.Type, deadline time.Time) entity.Snapshot {
	return entity.Snapshot{
		ID:           "E1",
		FirmID:       "F1",
		Type:         typ,
		Status:       entity.StatusActive,
		DeadlineDate: &deadline,
	}
}

func TestEvaluateThresholdBoundaries(t *testing.T) {
	e := mustEngine(t)
	today := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	cases := []struct {
		days    int
		want    alert.Severity
		matches bool
	}{
		{0, alert.SeverityHigh, true},
		{7, alert.SeverityHigh, true},
		{8, alert.SeverityMedium, true},
		{30, alert.SeverityMedium, true},
		{31, alert.SeverityLow, true},
		{60, alert.SeverityLow, true},
		{61, "", false},
	}
	for _, tc := range cases {
		snap := snapAt(entity.TypeLicense, today.AddDate(0, 0, tc.days))
		m, ok := e.Evaluate(snap, today)
		if ok != tc.matches {
			t.Fatalf("days=%d: matched=%v, want %v", tc.days, ok, tc.matches)
		}
		if ok && m.Severity != tc.want {
			t.Fatalf("days=%d: severity=%s, want %s", tc.days, m.Severity, tc.want)
		}
	}
}

func TestEvaluateOverdue(t *testing.T) {
	e := mustEngine(t)
	today := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	snap := snapAt(entity.TypeTaxObligation, today.AddDate(0, 0, -3))

	m, ok := e.Evaluate(snap, today)
	if !ok {
		t.Fatal("expected a match for a past-due deadline")
	}
	if m.Severity != alert.SeverityOverdue {
		t.Fatalf("severity=%s, want overdue", m.Severity)
	}
	if m.Message != "tax_obligation due_date overdue by 3 days" {
		t.Fatalf("unexpected message %q", m.Message)
	}
}

func TestEvaluateDateGranularity(t *testing.T) {
	e := mustEngine(t)
	// 23:59 today vs 00:01 tomorrow is still one calendar day apart.
	today := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	deadline := time.Date(2026, 3, 2, 0, 1, 0, 0, time.UTC)

	m, ok := e.Evaluate(snapAt(entity.TypeTask, deadline), today)
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Message != "task due_date due in 1 days" {
		t.Fatalf("unexpected message %q", m.Message)
	}

	// Deadline later the same day counts as zero days out, not overdue.
	sameDay := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	m, ok = e.Evaluate(snapAt(entity.TypeTask, sameDay), today)
	if !ok || m.Severity != alert.SeverityHigh {
		t.Fatalf("same-day deadline: ok=%v severity=%s", ok, m.Severity)
	}
}

func TestEvaluateSkipsNonEvaluable(t *testing.T) {
	e := mustEngine(t)
	today := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	deadline := today.AddDate(0, 0, 1)

	closed := snapAt(entity.TypeLicense, deadline)
	closed.Status = entity.StatusClosed
	if _, ok := e.Evaluate(closed, today); ok {
		t.Fatal("closed entity must not match")
	}

	noDeadline := entity.Snapshot{ID: "E2", FirmID: "F1", Type: entity.TypeLicense, Status: entity.StatusActive}
	if _, ok := e.Evaluate(noDeadline, today); ok {
		t.Fatal("entity without deadline must not match")
	}
}

func TestEvaluateIsPure(t *testing.T) {
	e := mustEngine(t)
	today := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	snap := snapAt(entity.TypeLoan, today.AddDate(0, 0, 20))

	first, ok1 := e.Evaluate(snap, today)
	second, ok2 := e.Evaluate(snap, today)
	if ok1 != ok2 || first != second {
		t.Fatalf("evaluation not deterministic: %#v vs %#v", first, second)
	}
}

func TestNewEngineRejectsBadRuleSets(t *testing.T) {
	base := RuleSet{EntityType: entity.TypeLicense, RuleCode: "license_expiry", Field: "expiry_date"}

	noThresholds := base
	if _, err := NewEngine([]RuleSet{noThresholds}); err == nil {
		t.Fatal("expected error for empty thresholds")
	}

	notAscending := base
	notAscending.Thresholds = []Threshold{
		{WithinDays: 30, Severity: alert.SeverityHigh},
		{WithinDays: 7, Severity: alert.SeverityMedium},
	}
	if _, err := NewEngine([]RuleSet{notAscending}); err == nil {
		t.Fatal("expected error for non-ascending windows")
	}

	severityUp := base
	severityUp.Thresholds = []Threshold{
		{WithinDays: 7, Severity: alert.SeverityLow},
		{WithinDays: 30, Severity: alert.SeverityHigh},
	}
	if _, err := NewEngine([]RuleSet{severityUp}); err == nil {
		t.Fatal("expected error for severity increasing with window")
	}

	reservedOverdue := base
	reservedOverdue.Thresholds = []Threshold{{WithinDays: 7, Severity: alert.SeverityOverdue}}
	if _, err := NewEngine([]RuleSet{reservedOverdue}); err == nil {
		t.Fatal("expected error for overdue in a threshold")
	}

	dup := base
	dup.Thresholds = []Threshold{{WithinDays: 7, Severity: alert.SeverityHigh}}
	if _, err := NewEngine([]RuleSet{dup, dup}); err == nil {
		t.Fatal("expected error for duplicate entity type")
	}
}

func TestDefaultRuleSetsCoverAllTypes(t *testing.T) {
	e := mustEngine(t)
	for _, typ := range entity.AllTypes() {
		if e.RuleCode(typ) == "" {
			t.Fatalf("no rule set for %s", typ)
		}
	}
}
