package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AMCarbonaro/KaliAI/internal/persona"
	"github.com/AMCarbonaro/KaliAI/internal/planner"
	"github.com/AMCarbonaro/KaliAI/internal/scopeguard"
	"github.com/AMCarbonaro/KaliAI/internal/session"
)

const defaultHistoryLimit = 10

// EngineConfig bundles the engine's collaborators. Scope, Bridge, Gate,
// Dispatcher, Registry, and Store are required.
type EngineConfig struct {
	Scope        *scopeguard.Policy
	Bridge       *planner.Bridge
	Gate         *Gate
	Dispatcher   *Dispatcher
	Registry     *Registry
	Store        *session.Store
	Persona      persona.Persona
	Log          *slog.Logger
	EventBuffer  int
	HistoryLimit int
}

// Engine drives one query end to end: record it, screen its target, plan,
// gate every proposed action, dispatch the admitted ones, and persist the
// findings. Progress surfaces on a bounded event channel; confirmations and
// stops come back in through Confirm and Stop.
type Engine struct {
	scope        *scopeguard.Policy
	bridge       *planner.Bridge
	gate         *Gate
	dispatcher   *Dispatcher
	registry     *Registry
	store        *session.Store
	persona      persona.Persona
	log          *slog.Logger
	historyLimit int

	events chan Event

	waitersMu sync.Mutex
	waiters   map[string]chan ConfirmationRequest

	stopMu sync.Mutex
	cancel context.CancelFunc
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Scope == nil || cfg.Bridge == nil || cfg.Gate == nil ||
		cfg.Dispatcher == nil || cfg.Registry == nil || cfg.Store == nil {
		return nil, fmt.Errorf("engine requires scope, bridge, gate, dispatcher, registry, and store")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &Engine{
		scope:        cfg.Scope,
		bridge:       cfg.Bridge,
		gate:         cfg.Gate,
		dispatcher:   cfg.Dispatcher,
		registry:     cfg.Registry,
		store:        cfg.Store,
		persona:      cfg.Persona,
		log:          cfg.Log,
		historyLimit: cfg.HistoryLimit,
		events:       make(chan Event, cfg.EventBuffer),
		waiters:      map[string]chan ConfirmationRequest{},
	}, nil
}

// Events is the engine's outbound stream. The caller must drain it while a
// query is in flight.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Confirm resolves a pending confirmation request and unblocks the action
// waiting on it.
func (e *Engine) Confirm(requestID string, approve bool) error {
	req, err := e.gate.Confirm(requestID, approve)
	if err != nil {
		if errors.Is(err, ErrConfirmationExpired) {
			e.notify(req)
		}
		return err
	}
	e.notify(req)
	return nil
}

// Pending lists the confirmation requests still waiting on an answer.
func (e *Engine) Pending() []ConfirmationRequest {
	return e.gate.Pending()
}

// Stop cancels the in-flight query's plan. Completed actions keep their
// findings; queued and running ones fail as canceled.
func (e *Engine) Stop() {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Close shuts the event stream down. Call only after the last HandleQuery
// has returned.
func (e *Engine) Close() {
	close(e.events)
}

// HandleQuery runs one natural-language request to completion. Per-action
// failures never abort the rest of the plan; only a scope violation on the
// query itself or total planner unavailability abort early.
func (e *Engine) HandleQuery(ctx context.Context, sessionID, query string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.stopMu.Lock()
	e.cancel = cancel
	e.stopMu.Unlock()

	e.appendRecord(sessionID, session.RecordTypeQuery, session.QueryPayload{Text: query})
	e.emit(ctx, Event{Type: EventPersonaLoaded, SessionID: sessionID, Message: e.persona.Name})

	queryTarget := scopeguard.ExtractTarget(query)
	if queryTarget != "" {
		decision := e.scope.Check(queryTarget)
		if !decision.Allowed() {
			e.emit(ctx, Event{Type: EventQueryRejected, SessionID: sessionID,
				Target: queryTarget, Err: decision.Reason})
			return fmt.Errorf("%s: %w", decision.Reason, ErrScopeViolation)
		}
		if decision.Verdict == scopeguard.VerdictAllowedWarn {
			e.log.Warn("query target outside scope rules, allowed by non-strict mode",
				"target", queryTarget)
		}
	}

	plan, err := e.bridge.Plan(ctx, query, e.plannerContext(sessionID, queryTarget))
	switch {
	case errors.Is(err, planner.ErrNoActionablePlan):
		e.emit(ctx, Event{Type: EventPlanFailed, SessionID: sessionID,
			Message: "no actionable plan", Err: err.Error()})
		return nil
	case err != nil:
		e.emit(ctx, Event{Type: EventPlanFailed, SessionID: sessionID, Err: err.Error()})
		return err
	}
	e.emit(ctx, Event{Type: EventPlanReady, SessionID: sessionID, Message: plan.Rationale})

	outcome := &PlanOutcome{
		Query:         query,
		Total:         len(plan.Actions),
		SeverityCount: map[string]int{},
	}
	var outcomeMu sync.Mutex
	var wg sync.WaitGroup

	for _, proposed := range plan.Actions {
		action := Action{
			ID:        NewActionID(),
			SessionID: sessionID,
			Tool:      proposed.Tool,
			Target:    proposed.Target,
			Params:    proposed.Params,
			State:     StateProposed,
			CreatedAt: time.Now().UTC(),
		}

		decision := e.scope.Check(action.Target)
		if !decision.Allowed() {
			action.Risk = RiskBlocked
			action.State = StateRejected
			e.recordAction(action, decision.Reason)
			e.emit(ctx, Event{Type: EventActionRejected, SessionID: sessionID,
				ActionID: action.ID, Tool: action.Tool, Target: action.Target,
				Err: fmt.Sprintf("%s: %s", ErrScopeViolation, decision.Reason)})
			outcomeMu.Lock()
			outcome.Rejected++
			outcomeMu.Unlock()
			continue
		}

		var classifier RiskClassifier
		if plugin, ok := e.registry.Match(action); ok {
			classifier = plugin
		}
		req, err := e.gate.Admit(&action, classifier)
		if err != nil {
			e.log.Error("gate admit failed", "action", action.ID, "error", err)
			continue
		}
		e.recordAction(action, "")

		switch action.State {
		case StateRejected:
			e.emit(ctx, Event{Type: EventActionRejected, SessionID: sessionID,
				ActionID: action.ID, Tool: action.Tool, Target: action.Target,
				Err: e.gate.BlockReason(action, classifier)})
			outcomeMu.Lock()
			outcome.Rejected++
			outcomeMu.Unlock()
		case StatePendingConfirmation:
			e.addWaiter(req.ID)
			e.emit(ctx, Event{Type: EventConfirmationRequired, SessionID: sessionID,
				ActionID: action.ID, Tool: action.Tool, Target: action.Target,
				Message: req.Reason, Confirmation: req})
			wg.Add(1)
			go func(action Action, req ConfirmationRequest) {
				defer wg.Done()
				e.awaitConfirmation(ctx, action, req, outcome, &outcomeMu)
			}(action, *req)
		default:
			wg.Add(1)
			go func(action Action) {
				defer wg.Done()
				e.runAction(ctx, action, outcome, &outcomeMu)
			}(action)
		}
	}

	wg.Wait()
	e.emit(ctx, Event{Type: EventPlanComplete, SessionID: sessionID, Plan: outcome})
	return nil
}

// awaitConfirmation parks a pending action until its request resolves or its
// deadline passes. Denial and expiry both end the action without dispatch.
func (e *Engine) awaitConfirmation(ctx context.Context, action Action, req ConfirmationRequest, outcome *PlanOutcome, outcomeMu *sync.Mutex) {
	defer e.removeWaiter(req.ID)
	ch := e.waiter(req.ID)

	var resolved ConfirmationRequest
	timer := time.NewTimer(time.Until(req.ExpiresAt))
	defer timer.Stop()
	select {
	case resolved = <-ch:
	case <-timer.C:
		e.gate.ExpireDue(time.Now().UTC())
		// A Confirm racing the deadline may have resolved it first.
		select {
		case resolved = <-ch:
		default:
			resolved = req
			resolved.Status = ConfirmationExpired
		}
	case <-ctx.Done():
		action.State = StateFailed
		e.recordAction(action, ctx.Err().Error())
		outcomeMu.Lock()
		outcome.Failed++
		outcomeMu.Unlock()
		return
	}

	e.emit(ctx, Event{Type: EventConfirmationResolved, SessionID: action.SessionID,
		ActionID: action.ID, Tool: action.Tool, Target: action.Target,
		Message: string(resolved.Status), Confirmation: &resolved})

	switch resolved.Status {
	case ConfirmationApproved:
		if err := action.Transition(StateConfirmed); err != nil {
			e.log.Error("confirm transition failed", "action", action.ID, "error", err)
			return
		}
		e.recordAction(action, "")
		e.runAction(ctx, action, outcome, outcomeMu)
	case ConfirmationDenied:
		action.State = StateDenied
		e.recordAction(action, ErrConfirmationDenied.Error())
		outcomeMu.Lock()
		outcome.Rejected++
		outcomeMu.Unlock()
	default:
		action.State = StateExpired
		e.recordAction(action, ErrConfirmationExpired.Error())
		outcomeMu.Lock()
		outcome.Rejected++
		outcomeMu.Unlock()
	}
}

func (e *Engine) runAction(ctx context.Context, action Action, outcome *PlanOutcome, outcomeMu *sync.Mutex) {
	e.emit(ctx, Event{Type: EventActionStarted, SessionID: action.SessionID,
		ActionID: action.ID, Tool: action.Tool, Target: action.Target})

	result := e.dispatcher.Dispatch(ctx, action, RuntimeConfig{SessionID: action.SessionID})
	if result.Err != nil {
		e.recordAction(result.Action, result.Err.Error())
		e.emit(ctx, Event{Type: EventActionFailed, SessionID: action.SessionID,
			ActionID: action.ID, Tool: action.Tool, Target: action.Target,
			Err: result.Err.Error()})
		outcomeMu.Lock()
		outcome.Failed++
		outcomeMu.Unlock()
		return
	}

	e.recordAction(result.Action, "")
	for _, finding := range result.Findings {
		e.appendRecord(action.SessionID, session.RecordTypeFinding, finding)
		e.emit(ctx, Event{Type: EventFindingAdded, SessionID: action.SessionID,
			ActionID: action.ID, Tool: action.Tool, Target: finding.Target,
			Severity: finding.Severity, Message: finding.Category})
	}
	e.emit(ctx, Event{Type: EventActionCompleted, SessionID: action.SessionID,
		ActionID: action.ID, Tool: action.Tool, Target: action.Target})

	outcomeMu.Lock()
	outcome.Completed++
	outcome.Findings += len(result.Findings)
	for _, finding := range result.Findings {
		outcome.SeverityCount[finding.Severity]++
	}
	outcomeMu.Unlock()
}

// plannerContext assembles the bounded context the backend prompt carries:
// recent log lines, and prior findings about the target when the persona
// asks for recall.
func (e *Engine) plannerContext(sessionID, target string) planner.Context {
	pctx := planner.Context{
		SessionID: sessionID,
		Persona:   e.persona.Name,
	}
	for _, tool := range e.registry.Names() {
		if e.persona.ToolAllowed(tool) {
			pctx.AllowedTools = append(pctx.AllowedTools, tool)
		}
	}

	if loaded, err := e.store.Load(sessionID); err == nil {
		records := loaded.Records
		if len(records) > e.historyLimit {
			records = records[len(records)-e.historyLimit:]
		}
		for _, record := range records {
			pctx.RecentHistory = append(pctx.RecentHistory, renderRecord(record))
		}
	}

	if e.persona.RecallFindings && target != "" {
		if findings, err := e.store.Query(session.QueryFilter{Target: target}); err == nil {
			pctx.RecalledResults = findings
		}
	}
	return pctx
}

func renderRecord(record session.Record) string {
	switch record.Type {
	case session.RecordTypeQuery:
		var payload session.QueryPayload
		if err := json.Unmarshal(record.Payload, &payload); err == nil {
			return "query: " + payload.Text
		}
	case session.RecordTypeAction:
		var payload session.ActionPayload
		if err := json.Unmarshal(record.Payload, &payload); err == nil {
			return fmt.Sprintf("action: %s %s (%s)", payload.Tool, payload.Target, payload.State)
		}
	case session.RecordTypeFinding:
		var payload session.Finding
		if err := json.Unmarshal(record.Payload, &payload); err == nil {
			return fmt.Sprintf("finding: [%s] %s on %s", payload.Severity, payload.Category, payload.Target)
		}
	}
	return record.Type
}

func (e *Engine) recordAction(action Action, errMsg string) {
	e.appendRecord(action.SessionID, session.RecordTypeAction, session.ActionPayload{
		ActionID: action.ID,
		Tool:     action.Tool,
		Target:   action.Target,
		Params:   action.Params,
		Risk:     string(action.Risk),
		State:    string(action.State),
		Error:    errMsg,
	})
}

func (e *Engine) appendRecord(sessionID, recordType string, payload any) {
	record, err := session.NewRecord(recordType, time.Now().UTC(), payload)
	if err != nil {
		e.log.Error("encode session record", "type", recordType, "error", err)
		return
	}
	if err := e.store.Append(sessionID, record); err != nil {
		e.log.Error("append session record", "type", recordType, "error", err)
	}
}

// emit blocks on the bounded stream so event order is preserved; a canceled
// plan stops emitting instead of wedging.
func (e *Engine) emit(ctx context.Context, event Event) {
	event.TS = time.Now().UTC()
	if event.Message != "" {
		event.Message = strings.TrimSpace(event.Message)
	}
	select {
	case e.events <- event:
	case <-ctx.Done():
	}
}

func (e *Engine) addWaiter(requestID string) {
	e.waitersMu.Lock()
	defer e.waitersMu.Unlock()
	e.waiters[requestID] = make(chan ConfirmationRequest, 1)
}

func (e *Engine) waiter(requestID string) chan ConfirmationRequest {
	e.waitersMu.Lock()
	defer e.waitersMu.Unlock()
	return e.waiters[requestID]
}

func (e *Engine) removeWaiter(requestID string) {
	e.waitersMu.Lock()
	defer e.waitersMu.Unlock()
	delete(e.waiters, requestID)
}

func (e *Engine) notify(req ConfirmationRequest) {
	e.waitersMu.Lock()
	ch, ok := e.waiters[req.ID]
	e.waitersMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- req:
	default:
	}
}
