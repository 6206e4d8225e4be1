package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"duetrack.org/internal/alert"
	"duetrack.org/internal/entity"
)

var _ alert.Store = Alerts{}

// Alerts is the alert.Store view of the store. The alert ledger and the user
// store both declare Find with different result types, so the alert-side Find
// lives on this wrapper while the rest of the ledger methods stay on Store.
type Alerts struct{ *Store }

// Alerts exposes the store as an alert.Store.
func (s *Store) Alerts() Alerts { return Alerts{s} }

const pgUniqueViolation = "23505"

const alertColumns = `id, entity_type, entity_id, firm_id, rule_code, severity, message, status, created_at, updated_at, resolved_at`

// FindLive returns the single active/acknowledged row for the dedup key. The
// partial unique index alerts_live_dedup guarantees at most one exists.
func (s *Store) FindLive(ctx context.Context, key alert.Key) (*alert.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+alertColumns+`
		from alerts
		where entity_type=$1 and entity_id=$2 and rule_code=$3
		  and status in ('active','acknowledged')
	`, string(key.EntityType), key.EntityID, key.RuleCode)
	return scanAlert(row)
}

// Insert creates a new ledger row. A unique violation on the live dedup
// index is reported as alert.ErrDedupConflict so the caller retries as an
// update instead of duplicating the row.
func (s *Store) Insert(ctx context.Context, a *alert.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		insert into alerts(id, entity_type, entity_id, firm_id, rule_code, severity, message, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, a.ID, string(a.EntityType), a.EntityID, a.FirmID, a.RuleCode,
		string(a.Severity), a.Message, string(a.Status), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return alert.ErrDedupConflict
		}
		return err
	}
	return nil
}

// Update is a compare-and-swap on the row's status. Zero rows means the row
// is gone or a concurrent writer transitioned it first; either way the write
// must not land, so the caller gets ErrInvalidTransition.
func (s *Store) Update(ctx context.Context, a *alert.Alert, expected alert.Status) error {
	var resolvedAt sql.NullTime
	if a.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: *a.ResolvedAt, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		update alerts
		set severity=$2, message=$3, status=$4, updated_at=$5, resolved_at=$6
		where id=$1 and status=$7
	`, a.ID, string(a.Severity), a.Message, string(a.Status), a.UpdatedAt, resolvedAt,
		string(expected))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return alert.ErrInvalidTransition
	}
	return nil
}

func (s Alerts) Find(ctx context.Context, id string) (*alert.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+alertColumns+` from alerts where id=$1
	`, id)
	return scanAlert(row)
}

// List filters the ledger. An empty firm set without AllFirms matches
// nothing: an exhausted scope intersection must not widen into everything.
func (s *Store) List(ctx context.Context, f alert.Filter) ([]alert.Alert, error) {
	if !f.AllFirms && len(f.Firms) == 0 {
		return nil, nil
	}

	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		ph := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			args = append(args, string(st))
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "status in ("+strings.Join(ph, ",")+")")
	}
	if !f.AllFirms {
		ph := make([]string, 0, len(f.Firms))
		for _, firm := range f.Firms {
			args = append(args, firm)
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "firm_id in ("+strings.Join(ph, ",")+")")
	}

	query := "select " + alertColumns + " from alerts"
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by created_at asc, id asc"
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []alert.Alert
	for rows.Next() {
		a, err := scanAlertRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *a)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row *sql.Row) (*alert.Alert, error) {
	a, err := scanAlertFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, alert.ErrNotFound
	}
	return a, err
}

func scanAlertRows(rows *sql.Rows) (*alert.Alert, error) {
	return scanAlertFrom(rows)
}

func scanAlertFrom(sc rowScanner) (*alert.Alert, error) {
	var (
		a          alert.Alert
		et         string
		severity   string
		status     string
		resolvedAt sql.NullTime
	)
	err := sc.Scan(&a.ID, &et, &a.EntityID, &a.FirmID, &a.RuleCode,
		&severity, &a.Message, &status, &a.CreatedAt, &a.UpdatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	a.EntityType = entity.Type(et)
	a.Severity = alert.Severity(severity)
	a.Status = alert.Status(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		a.ResolvedAt = &t
	}
	return &a, nil
}
