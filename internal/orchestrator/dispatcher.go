package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AMCarbonaro/KaliAI/internal/session"
)

// Plugin adapts one external tool to the dispatcher. Matches picks actions by
// tool name; RiskClassify may override the gate's keyword classification;
// Execute runs the tool under the dispatcher's per-action budget and returns
// normalized findings.
type Plugin interface {
	Name() string
	Matches(action Action) bool
	RiskClassify(action Action) (Risk, bool)
	Execute(ctx context.Context, action Action, rc RuntimeConfig) ([]session.Finding, error)
}

// RuntimeConfig is the per-dispatch context handed to a plugin.
type RuntimeConfig struct {
	SessionID     string
	ActionTimeout time.Duration
}

// Registry holds the plugins in registration order; the first plugin whose
// Matches accepts an action owns it.
type Registry struct {
	plugins []Plugin
}

func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{}
	for _, p := range plugins {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Plugin) {
	if p != nil {
		r.plugins = append(r.plugins, p)
	}
}

func (r *Registry) Match(action Action) (Plugin, bool) {
	for _, p := range r.plugins {
		if p.Matches(action) {
			return p, true
		}
	}
	return nil, false
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plugins))
	for _, p := range r.plugins {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}

// Result is the terminal outcome of one dispatched action. Findings are
// present only when the action completed; a timed-out action's partial
// output is discarded.
type Result struct {
	Action   Action
	Findings []session.Finding
	Err      error
}

// maxExecuteAttempts bounds the retry of a failed tool execution. The retry
// spends the same per-action budget as the first attempt; a timeout or a
// canceled plan is never retried.
const maxExecuteAttempts = 2

const defaultExecuteBackoff = 250 * time.Millisecond

// Dispatcher runs admitted actions on a bounded worker pool. Actions sharing
// a (tool, target) pair serialize on a keyed mutex so they never overlap in
// execution time; disjoint pairs run concurrently up to the pool size.
type Dispatcher struct {
	registry      *Registry
	actionTimeout time.Duration
	retryBackoff  time.Duration
	slots         chan struct{}
	log           *slog.Logger

	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

func NewDispatcher(registry *Registry, workers int, actionTimeout time.Duration, log *slog.Logger) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0")
	}
	if actionTimeout <= 0 {
		return nil, fmt.Errorf("action timeout must be > 0")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		registry:      registry,
		actionTimeout: actionTimeout,
		retryBackoff:  defaultExecuteBackoff,
		slots:         make(chan struct{}, workers),
		log:           log,
		keys:          map[string]*sync.Mutex{},
	}, nil
}

// SetRetryBackoff overrides the delay before a failed execution is retried.
func (d *Dispatcher) SetRetryBackoff(backoff time.Duration) {
	if backoff >= 0 {
		d.retryBackoff = backoff
	}
}

// Dispatch runs one admitted or confirmed action to a terminal state and
// returns it. Safe for concurrent use; the caller fans actions out and this
// end enforces the pool bound and the per-pair serialization.
func (d *Dispatcher) Dispatch(ctx context.Context, action Action, rc RuntimeConfig) Result {
	plugin, ok := d.registry.Match(action)
	if !ok {
		return d.fail(action, fmt.Errorf("%s: %w", action.Tool, ErrNoPlugin))
	}

	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		return d.fail(action, fmt.Errorf("canceled before dispatch: %w", ctx.Err()))
	}
	defer func() { <-d.slots }()

	pairLock := d.pairLock(action.Tool, action.Target)
	pairLock.Lock()
	defer pairLock.Unlock()

	if ctx.Err() != nil {
		return d.fail(action, fmt.Errorf("canceled before dispatch: %w", ctx.Err()))
	}
	if err := action.Transition(StateDispatched); err != nil {
		return Result{Action: action, Err: err}
	}

	rc.ActionTimeout = d.actionTimeout
	actionCtx, cancel := context.WithTimeout(ctx, d.actionTimeout)
	defer cancel()

	start := time.Now()
	var findings []session.Finding
	var err error
	for attempt := 1; ; attempt++ {
		findings, err = plugin.Execute(actionCtx, action, rc)
		if err == nil || actionCtx.Err() != nil || attempt >= maxExecuteAttempts {
			break
		}
		d.log.Warn("action execution failed, retrying",
			"action", action.ID, "tool", action.Tool, "target", action.Target,
			"attempt", attempt, "error", err)
		select {
		case <-time.After(d.retryBackoff):
		case <-actionCtx.Done():
		}
	}
	elapsed := time.Since(start)

	switch {
	case err != nil && errors.Is(actionCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		action.State = StateTimedOut
		d.log.Warn("action timed out",
			"action", action.ID, "tool", action.Tool, "target", action.Target,
			"budget", d.actionTimeout)
		return Result{Action: action, Err: fmt.Errorf("%s on %s after %s: %w",
			action.Tool, action.Target, d.actionTimeout, ErrActionTimeout)}
	case err != nil:
		action.State = StateFailed
		return Result{Action: action, Err: fmt.Errorf("%s on %s: %v: %w",
			action.Tool, action.Target, err, ErrActionExecution)}
	}

	action.State = StateCompleted
	d.log.Info("action completed",
		"action", action.ID, "tool", action.Tool, "target", action.Target,
		"findings", len(findings), "elapsed", elapsed.Round(time.Millisecond))
	return Result{Action: action, Findings: d.stamp(action, rc.SessionID, findings)}
}

func (d *Dispatcher) fail(action Action, err error) Result {
	action.State = StateFailed
	return Result{Action: action, Err: err}
}

// stamp fills the provenance fields plugins are not trusted to set.
func (d *Dispatcher) stamp(action Action, sessionID string, findings []session.Finding) []session.Finding {
	now := time.Now().UTC()
	out := make([]session.Finding, 0, len(findings))
	for _, f := range findings {
		f.SessionID = sessionID
		f.ActionID = action.ID
		if f.Target == "" {
			f.Target = action.Target
		}
		f.Severity = session.NormalizeSeverity(f.Severity)
		if f.TS.IsZero() {
			f.TS = now
		}
		out = append(out, f)
	}
	return out
}

func (d *Dispatcher) pairLock(tool, target string) *sync.Mutex {
	key := tool + "\x00" + target
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.keys[key]
	if !ok {
		lock = &sync.Mutex{}
		d.keys[key] = lock
	}
	return lock
}
