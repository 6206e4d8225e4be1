package rules

import (
	"errors"
	"fmt"
	"time"

	"duetrack.org/internal/alert"
	"duetrack.org/internal/entity"
)

var (
	ErrNoThresholds  = errors.New("rules: rule set has no thresholds")
	ErrNotAscending  = errors.New("rules: thresholds must be strictly ascending by window")
	ErrSeverityOrder = errors.New("rules: severity must not increase with window size")
	ErrDuplicateType = errors.New("rules: duplicate rule set for entity type")
)

// Threshold maps a day window onto a severity: a deadline within WithinDays
// days (inclusive) matches.
type Threshold struct {
	WithinDays int            `yaml:"within_days"`
	Severity   alert.Severity `yaml:"severity"`
}

// RuleSet is the ordered threshold list for one entity variant. Thresholds
// are ascending by window; the first matching window wins. Field names the
// variant's own deadline attribute and is informational (it feeds messages).
type RuleSet struct {
	EntityType entity.Type `yaml:"entity_type"`
	RuleCode   string      `yaml:"rule_code"`
	Field      string      `yaml:"field"`
	Thresholds []Threshold `yaml:"thresholds"`
}

func (rs RuleSet) validate() error {
	if _, err := entity.ParseType(string(rs.EntityType)); err != nil {
		return err
	}
	if rs.RuleCode == "" {
		return fmt.Errorf("rules: rule set for %s has no rule_code", rs.EntityType)
	}
	if len(rs.Thresholds) == 0 {
		return fmt.Errorf("%w: %s", ErrNoThresholds, rs.RuleCode)
	}
	prevWindow := -1
	prevRank := alert.SeverityOverdue.Rank()
	for _, th := range rs.Thresholds {
		if th.WithinDays < 0 {
			return fmt.Errorf("rules: %s: negative window %d", rs.RuleCode, th.WithinDays)
		}
		if th.WithinDays <= prevWindow {
			return fmt.Errorf("%w: %s", ErrNotAscending, rs.RuleCode)
		}
		sev, err := alert.ParseSeverity(string(th.Severity))
		if err != nil {
			return fmt.Errorf("rules: %s: %v", rs.RuleCode, err)
		}
		if sev == alert.SeverityOverdue {
			return fmt.Errorf("rules: %s: overdue is reserved for past-due deadlines", rs.RuleCode)
		}
		if sev.Rank() > prevRank {
			return fmt.Errorf("%w: %s", ErrSeverityOrder, rs.RuleCode)
		}
		prevWindow = th.WithinDays
		prevRank = sev.Rank()
	}
	return nil
}

// Engine evaluates snapshots against per-variant rule sets. Evaluate is pure:
// same inputs always produce the same verdict and nothing is written.
type Engine struct {
	sets map[entity.Type]RuleSet
}

// NewEngine validates and indexes the given rule sets.
func NewEngine(sets []RuleSet) (*Engine, error) {
	indexed := make(map[entity.Type]RuleSet, len(sets))
	for _, rs := range sets {
		if err := rs.validate(); err != nil {
			return nil, err
		}
		if _, ok := indexed[rs.EntityType]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateType, rs.EntityType)
		}
		indexed[rs.EntityType] = rs
	}
	return &Engine{sets: indexed}, nil
}

// RuleCode returns the rule code configured for the entity type, or "" when
// the type has no rule set. Reconciliation uses it to address the dedup key
// even on days the rule produces no match.
func (e *Engine) RuleCode(t entity.Type) string {
	return e.sets[t].RuleCode
}

// Evaluate maps one snapshot plus "today" to an optional match. Closed or
// cancelled entities and entities without a deadline never match. Past-due
// deadlines always yield overdue regardless of the threshold list.
func (e *Engine) Evaluate(snap entity.Snapshot, today time.Time) (alert.Match, bool) {
	if !snap.Evaluable() {
		return alert.Match{}, false
	}
	rs, ok := e.sets[snap.Type]
	if !ok {
		return alert.Match{}, false
	}
	deadline, _ := snap.Deadline()
	delta := daysBetween(today, deadline)

	if delta < 0 {
		return alert.Match{
			RuleCode: rs.RuleCode,
			Severity: alert.SeverityOverdue,
			Message:  fmt.Sprintf("%s %s overdue by %d days", snap.Type, rs.Field, -delta),
		}, true
	}
	for _, th := range rs.Thresholds {
		if delta <= th.WithinDays {
			return alert.Match{
				RuleCode: rs.RuleCode,
				Severity: th.Severity,
				Message:  fmt.Sprintf("%s %s due in %d days", snap.Type, rs.Field, delta),
			}, true
		}
	}
	return alert.Match{}, false
}

// daysBetween computes deadline-today at date granularity: both sides are
// truncated to their UTC calendar date to avoid time-of-day skew.
func daysBetween(today, deadline time.Time) int {
	t := toDate(today)
	d := toDate(deadline)
	return int(d.Sub(t).Hours() / 24)
}

func toDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DefaultRuleSets returns the compiled-in thresholds used when no rules file
// is configured.
func DefaultRuleSets() []RuleSet {
	return []RuleSet{
		{
			EntityType: entity.TypeLicense, RuleCode: "license_expiry", Field: "expiry_date",
			Thresholds: []Threshold{
				{WithinDays: 7, Severity: alert.SeverityHigh},
				{WithinDays: 30, Severity: alert.SeverityMedium},
				{WithinDays: 60, Severity: alert.SeverityLow},
			},
		},
		{
			EntityType: entity.TypeEnlistment, RuleCode: "enlistment_expiry", Field: "expiry_date",
			Thresholds: []Threshold{
				{WithinDays: 7, Severity: alert.SeverityHigh},
				{WithinDays: 30, Severity: alert.SeverityMedium},
			},
		},
		{
			EntityType: entity.TypeTaxObligation, RuleCode: "tax_due", Field: "due_date",
			Thresholds: []Threshold{
				{WithinDays: 3, Severity: alert.SeverityHigh},
				{WithinDays: 7, Severity: alert.SeverityMedium},
				{WithinDays: 15, Severity: alert.SeverityLow},
			},
		},
		{
			EntityType: entity.TypeBankGuarantee, RuleCode: "guarantee_maturity", Field: "maturity_date",
			Thresholds: []Threshold{
				{WithinDays: 15, Severity: alert.SeverityHigh},
				{WithinDays: 45, Severity: alert.SeverityMedium},
				{WithinDays: 90, Severity: alert.SeverityLow},
			},
		},
		{
			EntityType: entity.TypeLoan, RuleCode: "loan_maturity", Field: "maturity_date",
			Thresholds: []Threshold{
				{WithinDays: 7, Severity: alert.SeverityHigh},
				{WithinDays: 30, Severity: alert.SeverityMedium},
				{WithinDays: 90, Severity: alert.SeverityLow},
			},
		},
		{
			EntityType: entity.TypeTender, RuleCode: "tender_submission", Field: "submission_date",
			Thresholds: []Threshold{
				{WithinDays: 2, Severity: alert.SeverityHigh},
				{WithinDays: 7, Severity: alert.SeverityMedium},
				{WithinDays: 14, Severity: alert.SeverityLow},
			},
		},
		{
			EntityType: entity.TypeTask, RuleCode: "task_due", Field: "due_date",
			Thresholds: []Threshold{
				{WithinDays: 1, Severity: alert.SeverityHigh},
				{WithinDays: 3, Severity: alert.SeverityMedium},
				{WithinDays: 7, Severity: alert.SeverityLow},
			},
		},
	}
}
