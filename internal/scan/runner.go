package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"duetrack.org/internal/alert"
	"duetrack.org/internal/entity"
	"duetrack.org/internal/obs"
	"duetrack.org/internal/rules"
)

// TypeSummary counts what one entity type's pass did.
type TypeSummary struct {
	Evaluated int `json:"evaluated"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Resolved  int `json:"resolved"`
	Failed    int `json:"failed"`
}

// Summary maps entity type to its pass counts.
type Summary map[string]TypeSummary

// Runner drives periodic and manual deadline scans. Timer and manual
// triggers share RunOnce; runs are serialized by a mutex and reconcile is
// idempotent, so overlapping invocations cannot corrupt the ledger.
type Runner struct {
	repo   entity.Repository
	engine *rules.Engine
	alerts *alert.Manager
	types  []entity.Type
	now    func() time.Time

	mu sync.Mutex
}

// Option configures Runner behavior.
type Option func(*Runner)

// WithTypes restricts the scanned entity types (defaults to all variants).
func WithTypes(types ...entity.Type) Option {
	return func(r *Runner) {
		if len(types) > 0 {
			r.types = types
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Runner) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRunner constructs a Runner over the given collaborators.
func NewRunner(repo entity.Repository, engine *rules.Engine, alerts *alert.Manager, opts ...Option) (*Runner, error) {
	if repo == nil || engine == nil || alerts == nil {
		return nil, errors.New("scan: repository, engine and alert manager are required")
	}
	r := &Runner{
		repo:   repo,
		engine: engine,
		alerts: alerts,
		types:  entity.AllTypes(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunOnce performs one full re-scan of every configured entity type. A
// failure in one type is caught, logged and counted; the remaining types are
// still attempted. RunOnce never returns an error and never panics.
func (r *Runner) RunOnce(ctx context.Context) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := r.now().UTC()
	summary := make(Summary, len(r.types))
	for _, t := range r.types {
		ts := r.scanType(ctx, t, today)
		summary[string(t)] = ts
		obs.ScanEvaluated(string(t), ts.Evaluated)
		obs.ScanFailed(string(t), ts.Failed)
	}
	obs.ScanRunCompleted()
	return summary
}

func (r *Runner) scanType(ctx context.Context, t entity.Type, today time.Time) (ts TypeSummary) {
	// One entity type's failure must never take down the scan.
	defer func() {
		if rec := recover(); rec != nil {
			ts.Failed++
			obs.Log("error", "scan_panic", map[string]any{
				"entity_type": string(t),
				"panic":       fmt.Sprint(rec),
			})
		}
	}()

	snaps, err := r.repo.ListForEvaluation(ctx, t)
	if err != nil {
		ts.Failed++
		obs.Log("error", "scan_list_failed", map[string]any{
			"entity_type": string(t),
			"error":       err.Error(),
		})
		return ts
	}

	for _, snap := range snaps {
		ts.Evaluated++
		var match *alert.Match
		if m, ok := r.engine.Evaluate(snap, today); ok {
			match = &m
		}
		key := alert.Key{EntityType: snap.Type, EntityID: snap.ID, RuleCode: r.ruleCodeFor(snap, match)}
		outcome, err := r.alerts.Reconcile(ctx, snap.FirmID, key, match)
		if err != nil {
			ts.Failed++
			obs.Log("error", "scan_reconcile_failed", map[string]any{
				"entity_type": string(t),
				"entity_id":   snap.ID,
				"error":       err.Error(),
			})
			continue
		}
		switch outcome {
		case alert.OutcomeCreated:
			ts.Created++
		case alert.OutcomeUpdated:
			ts.Updated++
		case alert.OutcomeResolved:
			ts.Resolved++
		}
	}
	return ts
}

// ruleCodeFor resolves the dedup rule code even when today's evaluation
// produced no match, so that cleared conditions still resolve their rows.
func (r *Runner) ruleCodeFor(snap entity.Snapshot, match *alert.Match) string {
	if match != nil {
		return match.RuleCode
	}
	return r.engine.RuleCode(snap.Type)
}

// Start runs the scan loop until the context is cancelled. The first pass
// fires after one interval; manual POST /scan triggers cover "now".
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary := r.RunOnce(ctx)
			obs.Log("info", "scan_complete", map[string]any{"summary": summary})
		}
	}
}
