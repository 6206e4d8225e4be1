package entity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type tags the tracked-entity variant. Every variant maps its own deadline
// field (expiry_date, submission_date, due_date, ...) onto the common
// DeadlineDate capability.
type Type string

const (
	TypeLicense       Type = "license"
	TypeEnlistment    Type = "enlistment"
	TypeTaxObligation Type = "tax_obligation"
	TypeBankGuarantee Type = "bank_guarantee"
	TypeLoan          Type = "loan"
	TypeTender        Type = "tender"
	TypeTask          Type = "task"
)

// AllTypes returns every tracked variant in scan order.
func AllTypes() []Type {
	return []Type{
		TypeLicense, TypeEnlistment, TypeTaxObligation,
		TypeBankGuarantee, TypeLoan, TypeTender, TypeTask,
	}
}

// ParseType normalizes and validates an entity type string.
func ParseType(raw string) (Type, error) {
	t := Type(strings.TrimSpace(strings.ToLower(raw)))
	for _, known := range AllTypes() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown entity type %q", ErrValidation, raw)
}

// Status is the lifecycle state of a tracked entity.
type Status string

const (
	StatusActive    Status = "active"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

// Snapshot is a read-only view of a tracked entity at evaluation time. The
// core never mutates entities; CRUD lives outside this module.
type Snapshot struct {
	ID           string     `json:"id"`
	FirmID       string     `json:"firm_id"`
	Type         Type       `json:"entity_type"`
	Name         string     `json:"name,omitempty"`
	Status       Status     `json:"status"`
	DeadlineDate *time.Time `json:"deadline_date,omitempty"`
}

// Deadline returns the deadline date and whether one is set.
func (s Snapshot) Deadline() (time.Time, bool) {
	if s.DeadlineDate == nil {
		return time.Time{}, false
	}
	return *s.DeadlineDate, true
}

// Evaluable reports whether the snapshot participates in deadline evaluation.
func (s Snapshot) Evaluable() bool {
	return s.Status == StatusActive && s.DeadlineDate != nil
}

var ErrValidation = errors.New("entity: invalid input")

// Repository provides read access to tracked entities. Implementations must
// yield only active entities with a non-null deadline from ListForEvaluation.
type Repository interface {
	ListForEvaluation(ctx context.Context, entityType Type) ([]Snapshot, error)
}
