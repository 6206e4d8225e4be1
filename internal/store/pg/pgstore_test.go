package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"duetrack.org/internal/alert"
	"duetrack.org/internal/auth"
	"duetrack.org/internal/entity"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

var alertCols = []string{
	"id", "entity_type", "entity_id", "firm_id", "rule_code",
	"severity", "message", "status", "created_at", "updated_at", "resolved_at",
}

func TestFindLive(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("(?s)select .*from alerts").
		WithArgs("license", "L1", "license_expiry").
		WillReturnRows(sqlmock.NewRows(alertCols).
			AddRow("a1", "license", "L1", "F1", "license_expiry",
				"high", "due in 5 days", "active", now, now, nil))

	a, err := s.FindLive(context.Background(), alert.Key{
		EntityType: entity.TypeLicense, EntityID: "L1", RuleCode: "license_expiry",
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != "a1" || a.Severity != alert.SeverityHigh || a.ResolvedAt != nil {
		t.Fatalf("row %#v", a)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindLiveNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("(?s)select .*from alerts").
		WithArgs("license", "L1", "license_expiry").
		WillReturnRows(sqlmock.NewRows(alertCols))

	_, err := s.FindLive(context.Background(), alert.Key{
		EntityType: entity.TypeLicense, EntityID: "L1", RuleCode: "license_expiry",
	})
	if !errors.Is(err, alert.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestInsertMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into alerts").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "alerts_live_dedup"})

	err := s.Insert(context.Background(), &alert.Alert{
		ID: "a1", EntityType: entity.TypeLicense, EntityID: "L1",
		FirmID: "F1", RuleCode: "license_expiry",
		Severity: alert.SeverityHigh, Message: "due in 5 days", Status: alert.StatusActive,
	})
	if !errors.Is(err, alert.ErrDedupConflict) {
		t.Fatalf("err=%v, want ErrDedupConflict", err)
	}
}

func TestUpdateGuardsExpectedStatus(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`(?s)update alerts.*where id=\$1 and status=\$7`).
		WithArgs("a1", "high", "due in 5 days", "acknowledged", now, sqlmock.AnyArg(), "active").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Update(context.Background(), &alert.Alert{
		ID: "a1", Severity: alert.SeverityHigh, Message: "due in 5 days",
		Status: alert.StatusAcknowledged, UpdatedAt: now,
	}, alert.StatusActive)
	if !errors.Is(err, alert.ErrInvalidTransition) {
		t.Fatalf("err=%v, want ErrInvalidTransition", err)
	}
}

func TestListShortCircuitsEmptyFirmSet(t *testing.T) {
	s, mock := newMockStore(t)

	// No query expectation: an exhausted firm filter must not hit the DB.
	rows, err := s.List(context.Background(), alert.Filter{AllFirms: false})
	if err != nil {
		t.Fatal(err)
	}
	if rows != nil {
		t.Fatalf("rows=%v, want nil", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected query: %v", err)
	}
}

func TestListBuildsFilters(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`select .* from alerts where status in \(\$1,\$2\) and firm_id in \(\$3\) order by created_at asc, id asc limit \$4`).
		WithArgs("active", "acknowledged", "F1", 100).
		WillReturnRows(sqlmock.NewRows(alertCols).
			AddRow("a1", "license", "L1", "F1", "license_expiry",
				"high", "due in 5 days", "active", now, now, nil))

	rows, err := s.List(context.Background(), alert.Filter{
		Statuses: []alert.Status{alert.StatusActive, alert.StatusAcknowledged},
		Firms:    []string{"F1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].FirmID != "F1" {
		t.Fatalf("rows %#v", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListForEvaluation(t *testing.T) {
	s, mock := newMockStore(t)
	deadline := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("(?s)select id, firm_id, entity_type, name, status, deadline_date.*from tracked_entities").
		WithArgs("license").
		WillReturnRows(sqlmock.NewRows([]string{"id", "firm_id", "entity_type", "name", "status", "deadline_date"}).
			AddRow("L1", "F1", "license", "Customs license", "active", deadline))

	snaps, err := s.ListForEvaluation(context.Background(), entity.TypeLicense)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots", len(snaps))
	}
	if !snaps[0].Evaluable() {
		t.Fatal("snapshot should be evaluable")
	}
	if d, ok := snaps[0].Deadline(); !ok || !d.Equal(deadline) {
		t.Fatalf("deadline %v ok=%v", d, ok)
	}
}

func TestFindUser(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("(?s)select id, email, password_hash, role, firm_access, status.*from users where id").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "role", "firm_access", "status", "created_at", "updated_at"}).
			AddRow("u1", "m@example.com", "hash", "manager", "F1,F2", "active", now, now))

	u, err := s.Find(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Role != auth.RoleManager {
		t.Fatalf("role %s", u.Role)
	}
	if u.FirmAccess.All || len(u.FirmAccess.Firms) != 2 {
		t.Fatalf("firm access %#v", u.FirmAccess)
	}
}

func TestFindUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("(?s)select id, email, password_hash, role, firm_access, status.*from users where email").
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "role", "firm_access", "status", "created_at", "updated_at"}))

	if _, err := s.FindByEmail(context.Background(), "nobody@example.com"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}
