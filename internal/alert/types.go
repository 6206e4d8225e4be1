package alert

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"duetrack.org/internal/entity"
)

// Severity orders alert urgency. Overdue always outranks any finite window.
type Severity string

const (
	SeverityLow     Severity = "low"
	SeverityMedium  Severity = "medium"
	SeverityHigh    Severity = "high"
	SeverityOverdue Severity = "overdue"
)

// ParseSeverity normalizes and validates a severity string.
func ParseSeverity(raw string) (Severity, error) {
	switch Severity(strings.TrimSpace(strings.ToLower(raw))) {
	case SeverityLow:
		return SeverityLow, nil
	case SeverityMedium:
		return SeverityMedium, nil
	case SeverityHigh:
		return SeverityHigh, nil
	case SeverityOverdue:
		return SeverityOverdue, nil
	default:
		return "", fmt.Errorf("unknown severity %q", raw)
	}
}

// Rank returns the ordering weight of the severity (overdue highest).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityOverdue:
		return 4
	default:
		return 0
	}
}

// Status is the alert lifecycle state. Resolved is terminal.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Live reports whether the status counts against the dedup invariant.
func (s Status) Live() bool {
	return s == StatusActive || s == StatusAcknowledged
}

// ParseStatus normalizes and validates a status string.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.TrimSpace(strings.ToLower(raw))) {
	case StatusActive:
		return StatusActive, nil
	case StatusAcknowledged:
		return StatusAcknowledged, nil
	case StatusResolved:
		return StatusResolved, nil
	default:
		return "", fmt.Errorf("unknown alert status %q", raw)
	}
}

// Key is the dedup key: at most one live alert may exist per key.
type Key struct {
	EntityType entity.Type
	EntityID   string
	RuleCode   string
}

func (k Key) String() string {
	return string(k.EntityType) + "/" + k.EntityID + "/" + k.RuleCode
}

// Match is the rule engine verdict for one entity against "today".
type Match struct {
	RuleCode string
	Severity Severity
	Message  string
}

// Alert is one ledger row. Rows are owned exclusively by the Manager;
// resolved rows are immutable history.
type Alert struct {
	ID         string      `json:"id"`
	EntityType entity.Type `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	FirmID     string      `json:"firm_id"`
	RuleCode   string      `json:"rule_code"`
	Severity   Severity    `json:"severity"`
	Message    string      `json:"message"`
	Status     Status      `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}

// Key returns the dedup key of the row.
func (a Alert) Key() Key {
	return Key{EntityType: a.EntityType, EntityID: a.EntityID, RuleCode: a.RuleCode}
}

var (
	ErrNotFound          = errors.New("alert: not found")
	ErrInvalidTransition = errors.New("alert: invalid transition")
	// ErrDedupConflict signals a race on the dedup key. It is absorbed by the
	// Manager via retry-as-update and never escapes to callers.
	ErrDedupConflict = errors.New("alert: dedup conflict")
)

// Filter selects ledger rows for listing. AllFirms=false with an empty Firms
// slice matches nothing; that is the shape an exhausted scope intersection
// produces and it must not widen into "everything".
type Filter struct {
	Statuses []Status
	AllFirms bool
	Firms    []string
	Limit    int
}
