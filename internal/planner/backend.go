// Package planner turns a natural-language query into a structured Plan by
// calling an ordered chain of reasoning backends and tolerantly extracting
// actions from their free-text output. Backend unreliability stops here: the
// rest of the orchestrator only ever sees a Plan or a typed failure.
package planner

import (
	"context"
	"errors"
)

// ErrPlannerUnavailable means every configured backend was exhausted for this
// query. It aborts the query's planning step; no partial plan is invented.
var ErrPlannerUnavailable = errors.New("all reasoning backends unavailable")

// ErrNoActionablePlan means a backend answered but nothing actionable could
// be extracted. Callers treat it as an empty plan, not a fatal error.
var ErrNoActionablePlan = errors.New("no actionable plan")

// Backend is one reasoning backend. Generate must honor ctx cancellation;
// the bridge applies the per-backend timeout before calling.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// ProposedAction is one (tool, target, parameters) tuple recovered from
// backend output. It carries no lifecycle state; the orchestrator owns that.
type ProposedAction struct {
	Tool   string
	Target string
	Params map[string]string
}

type Plan struct {
	Query     string
	Actions   []ProposedAction
	Rationale string
	Backend   string
}
