package alert

import (
	"context"
	"errors"
	"time"

	"duetrack.org/internal/ids"
	"duetrack.org/internal/obs"
)

// Outcome reports what a reconcile pass did to the ledger row.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCreated
	OutcomeUpdated
	OutcomeResolved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeResolved:
		return "resolved"
	default:
		return "none"
	}
}

// Manager owns the alert ledger. No other component writes Alert rows.
type Manager struct {
	store Store
	now   func() time.Time
}

// ManagerOption configures Manager behavior.
type ManagerOption func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager.
func NewManager(store Store, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("alert store is required")
	}
	m := &Manager{store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Reconcile merges one rule engine verdict into the ledger for the given
// dedup key. match == nil means the condition is clear today.
//
// State machine:
//
//	no row   + match  -> insert active
//	active   + match  -> update severity/message if changed, else no-op
//	acked    + match  -> no-op (acknowledgement pins state)
//	live row + clear  -> resolved (terminal), resolved_at set
//	no row   + clear  -> no-op
func (m *Manager) Reconcile(ctx context.Context, firmID string, key Key, match *Match) (Outcome, error) {
	live, err := m.store.FindLive(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return OutcomeNone, err
	}

	if match == nil {
		if live == nil {
			return OutcomeNone, nil
		}
		// Two attempts: an active row may be acknowledged by a concurrent
		// request between our read and write, and acknowledged rows still
		// resolve when the condition clears.
		for attempt := 0; attempt < 2; attempt++ {
			expected := live.Status
			now := m.now().UTC()
			live.Status = StatusResolved
			live.ResolvedAt = &now
			live.UpdatedAt = now
			err := m.store.Update(ctx, live, expected)
			if err == nil {
				obs.AlertTransition("resolved")
				return OutcomeResolved, nil
			}
			if !errors.Is(err, ErrInvalidTransition) {
				return OutcomeNone, err
			}
			live, err = m.store.FindLive(ctx, key)
			if errors.Is(err, ErrNotFound) {
				// Another writer already resolved it.
				return OutcomeNone, nil
			}
			if err != nil {
				return OutcomeNone, err
			}
		}
		return OutcomeNone, nil
	}

	if live == nil {
		now := m.now().UTC()
		row := &Alert{
			ID:         ids.New(),
			EntityType: key.EntityType,
			EntityID:   key.EntityID,
			FirmID:     firmID,
			RuleCode:   key.RuleCode,
			Severity:   match.Severity,
			Message:    match.Message,
			Status:     StatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		err := m.store.Insert(ctx, row)
		if err == nil {
			obs.AlertTransition("created")
			return OutcomeCreated, nil
		}
		if !errors.Is(err, ErrDedupConflict) {
			return OutcomeNone, err
		}
		// Lost a race on the dedup key: a concurrent writer inserted the live
		// row first. Re-read and fall through to the update path.
		live, err = m.store.FindLive(ctx, key)
		if err != nil {
			return OutcomeNone, err
		}
	}

	// Acknowledgement pins the row until the condition clears; a recurring
	// match never flips it back to active.
	if live.Status == StatusAcknowledged {
		return OutcomeNone, nil
	}

	if live.Severity == match.Severity && live.Message == match.Message {
		return OutcomeNone, nil
	}
	live.Severity = match.Severity
	live.Message = match.Message
	live.UpdatedAt = m.now().UTC()
	if err := m.store.Update(ctx, live, StatusActive); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// A concurrent writer acknowledged or resolved the row first; its
			// transition wins over a severity/message refresh.
			return OutcomeNone, nil
		}
		return OutcomeNone, err
	}
	obs.AlertTransition("updated")
	return OutcomeUpdated, nil
}

// Acknowledge moves an active alert to acknowledged. Any other starting
// state fails with ErrInvalidTransition; resolution remains automatic. The
// acting user is recorded by the audit layer, not on the row.
func (m *Manager) Acknowledge(ctx context.Context, alertID string) (*Alert, error) {
	row, err := m.store.Find(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if row.Status != StatusActive {
		return nil, ErrInvalidTransition
	}
	row.Status = StatusAcknowledged
	row.UpdatedAt = m.now().UTC()
	// Guard against a scan resolving the row between the read above and this
	// write. The resolved state is terminal and must not be clobbered.
	if err := m.store.Update(ctx, row, StatusActive); err != nil {
		return nil, err
	}
	obs.AlertTransition("acknowledged")
	return row, nil
}

// Get returns one ledger row by id.
func (m *Manager) Get(ctx context.Context, alertID string) (*Alert, error) {
	return m.store.Find(ctx, alertID)
}

// List returns ledger rows matching the filter.
func (m *Manager) List(ctx context.Context, f Filter) ([]Alert, error) {
	return m.store.List(ctx, f)
}
