package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"duetrack.org/internal/auth"
	"duetrack.org/internal/entity"
)

// Store backs the entity repository, user lookups and the alert ledger with
// PostgreSQL.
type Store struct {
	db *sql.DB
}

var (
	_ entity.Repository = (*Store)(nil)
	_ auth.UserStore    = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection pool (used by tests).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// ListForEvaluation yields active entities of one type carrying a deadline.
// Closed and cancelled entities never reach the rule engine.
func (s *Store) ListForEvaluation(ctx context.Context, entityType entity.Type) ([]entity.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, firm_id, entity_type, name, status, deadline_date
		from tracked_entities
		where entity_type=$1 and status='active' and deadline_date is not null
		order by id asc
	`, string(entityType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []entity.Snapshot
	for rows.Next() {
		var (
			snap     entity.Snapshot
			et       string
			st       string
			deadline time.Time
		)
		if err := rows.Scan(&snap.ID, &snap.FirmID, &et, &snap.Name, &st, &deadline); err != nil {
			return nil, err
		}
		snap.Type = entity.Type(et)
		snap.Status = entity.Status(st)
		d := deadline.UTC()
		snap.DeadlineDate = &d
		res = append(res, snap)
	}
	return res, rows.Err()
}

func (s *Store) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, email, password_hash, role, firm_access, status, created_at, updated_at
		from users where id=$1
	`, id))
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, email, password_hash, role, firm_access, status, created_at, updated_at
		from users where email=$1
	`, email))
}

func (s *Store) scanUser(row *sql.Row) (*auth.User, error) {
	var (
		u          auth.User
		role       string
		firmAccess string
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &firmAccess, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	u.FirmAccess = auth.ParseFirmAccess(firmAccess)
	return &u, nil
}
