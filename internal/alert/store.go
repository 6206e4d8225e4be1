package alert

import "context"

// Store persists the alert ledger. Insert must reject a second live row for
// the same dedup key with ErrDedupConflict (e.g. via a partial unique index)
// so that racing writers degrade to an update instead of a duplicate.
type Store interface {
	// FindLive returns the active or acknowledged row for the key, if any.
	FindLive(ctx context.Context, key Key) (*Alert, error)
	Insert(ctx context.Context, a *Alert) error
	// Update writes the row only while its stored status still equals
	// expected. A row transitioned by a concurrent writer fails with
	// ErrInvalidTransition instead of being overwritten, so resolved rows
	// stay terminal.
	Update(ctx context.Context, a *Alert, expected Status) error
	Find(ctx context.Context, id string) (*Alert, error)
	List(ctx context.Context, f Filter) ([]Alert, error)
}
