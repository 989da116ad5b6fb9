package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AMCarbonaro/KaliAI/internal/persona"
)

// RiskClassifier lets a plugin override the keyword classification for the
// actions it owns. The bool reports whether the plugin has an opinion.
type RiskClassifier interface {
	RiskClassify(action Action) (Risk, bool)
}

// Gate decides whether a proposed action runs immediately, needs operator
// confirmation, or is refused outright. One pending ConfirmationRequest
// blocks exactly one action; unrelated actions are unaffected.
type Gate struct {
	mu              sync.Mutex
	dangerous       []string
	persona         persona.Persona
	timeout         time.Duration
	now             func() time.Time
	pendingByAction map[string]*ConfirmationRequest
	pendingByID     map[string]*ConfirmationRequest
}

func NewGate(dangerousKeywords []string, p persona.Persona, confirmationTimeout time.Duration) (*Gate, error) {
	if confirmationTimeout <= 0 {
		return nil, fmt.Errorf("confirmation timeout must be > 0")
	}
	// A persona with its own dangerous-action list replaces the configured one.
	keywords := dangerousKeywords
	if len(p.DangerousActions) > 0 {
		keywords = p.DangerousActions
	}
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	return &Gate{
		dangerous:       lowered,
		persona:         p,
		timeout:         confirmationTimeout,
		now:             func() time.Time { return time.Now().UTC() },
		pendingByAction: map[string]*ConfirmationRequest{},
		pendingByID:     map[string]*ConfirmationRequest{},
	}, nil
}

func (g *Gate) SetClock(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// Classify orders its checks so a persona tool block always wins, then the
// plugin's own classification, then the dangerous-keyword match over the
// tool name and parameter values.
func (g *Gate) Classify(action Action, classifier RiskClassifier) Risk {
	if !g.persona.ToolAllowed(action.Tool) {
		return RiskBlocked
	}
	if classifier != nil {
		if risk, ok := classifier.RiskClassify(action); ok {
			return risk
		}
	}
	if g.persona.RequireConfirmation != nil {
		if *g.persona.RequireConfirmation {
			return RiskRequiresConfirmation
		}
		return RiskSafe
	}
	if g.matchesDangerous(action) {
		return RiskRequiresConfirmation
	}
	return RiskSafe
}

// Admit classifies the action and moves it out of proposed. The returned
// request is non-nil exactly when the action now waits on confirmation;
// action.State afterwards is admitted, pending_confirmation, or rejected.
func (g *Gate) Admit(action *Action, classifier RiskClassifier) (*ConfirmationRequest, error) {
	action.Risk = g.Classify(*action, classifier)
	switch action.Risk {
	case RiskBlocked:
		return nil, action.Transition(StateRejected)
	case RiskSafe:
		return nil, action.Transition(StateAdmitted)
	}
	if err := action.Transition(StatePendingConfirmation); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.pendingByAction[action.ID]; ok && existing.Status == ConfirmationPending {
		out := *existing
		return &out, nil
	}
	now := g.now()
	req := &ConfirmationRequest{
		ID:          "cfr-" + uuid.NewString()[:8],
		ActionID:    action.ID,
		Tool:        action.Tool,
		Target:      action.Target,
		Reason:      g.dangerousReason(*action),
		Status:      ConfirmationPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(g.timeout),
	}
	g.pendingByAction[action.ID] = req
	g.pendingByID[req.ID] = req
	out := *req
	return &out, nil
}

// Confirm resolves a pending request. A request already past its deadline
// expires instead of resolving, whatever the operator answered. Resolved
// requests leave both indexes; only the returned copy survives.
func (g *Gate) Confirm(requestID string, approve bool) (ConfirmationRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.pendingByID[requestID]
	if !ok {
		return ConfirmationRequest{}, fmt.Errorf("confirmation request not found: %s", requestID)
	}
	delete(g.pendingByAction, req.ActionID)
	delete(g.pendingByID, requestID)
	if !g.now().Before(req.ExpiresAt) {
		req.Status = ConfirmationExpired
		return *req, ErrConfirmationExpired
	}
	if approve {
		req.Status = ConfirmationApproved
	} else {
		req.Status = ConfirmationDenied
	}
	return *req, nil
}

// ExpireDue flips every pending request past its deadline to expired and
// returns the requests it expired.
func (g *Gate) ExpireDue(now time.Time) []ConfirmationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ConfirmationRequest, 0)
	for actionID, req := range g.pendingByAction {
		if req.Status != ConfirmationPending || now.Before(req.ExpiresAt) {
			continue
		}
		req.Status = ConfirmationExpired
		delete(g.pendingByAction, actionID)
		delete(g.pendingByID, req.ID)
		out = append(out, *req)
	}
	return out
}

func (g *Gate) Pending() []ConfirmationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ConfirmationRequest, 0, len(g.pendingByAction))
	for _, req := range g.pendingByAction {
		if req.Status == ConfirmationPending {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// BlockReason reports why Classify refused an action, following the same
// check order: persona tool block first, then a plugin's own verdict.
func (g *Gate) BlockReason(action Action, classifier RiskClassifier) string {
	if !g.persona.ToolAllowed(action.Tool) {
		return "tool not permitted by persona"
	}
	if classifier != nil {
		if risk, ok := classifier.RiskClassify(action); ok && risk == RiskBlocked {
			return fmt.Sprintf("blocked by %s risk classification", action.Tool)
		}
	}
	return "blocked"
}

func (g *Gate) matchesDangerous(action Action) bool {
	haystack := strings.ToLower(action.Tool)
	for _, v := range action.Params {
		haystack += " " + strings.ToLower(v)
	}
	for _, kw := range g.dangerous {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

func (g *Gate) dangerousReason(action Action) string {
	haystack := strings.ToLower(action.Tool)
	for _, v := range action.Params {
		haystack += " " + strings.ToLower(v)
	}
	for _, kw := range g.dangerous {
		if strings.Contains(haystack, kw) {
			return fmt.Sprintf("matches dangerous keyword %q", kw)
		}
	}
	return "flagged for confirmation"
}
