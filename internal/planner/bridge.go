package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/AMCarbonaro/KaliAI/internal/session"
)

// maxBackendAttempts bounds the whole fallback chain per query: however many
// backends are configured, no query spends more than three generation calls.
const maxBackendAttempts = 3

const defaultRetryBackoff = 500 * time.Millisecond

type backendEntry struct {
	backend  Backend
	timeout  time.Duration
	priority int
}

// Bridge fans a query out over the configured backends in priority order.
// Each attempt is bounded by its backend's timeout; transport failures and
// timeouts fall through to the next backend, wrapping back to the first so a
// transiently failing backend gets another try within the attempt budget.
// Attempts after the first wait out a growing backoff.
type Bridge struct {
	entries []backendEntry
	backoff time.Duration
	log     *slog.Logger
}

func NewBridge(log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{backoff: defaultRetryBackoff, log: log}
}

// SetBackoff overrides the delay inserted between backend attempts.
func (b *Bridge) SetBackoff(d time.Duration) {
	if d >= 0 {
		b.backoff = d
	}
}

func (b *Bridge) Register(backend Backend, timeout time.Duration, priority int) {
	if backend == nil || timeout <= 0 {
		return
	}
	b.entries = append(b.entries, backendEntry{backend: backend, timeout: timeout, priority: priority})
	sort.SliceStable(b.entries, func(i, j int) bool {
		return b.entries[i].priority < b.entries[j].priority
	})
}

// Context is the bounded session context supplied to the backend prompt.
type Context struct {
	SessionID       string
	RecentHistory   []string
	RecalledResults []session.Finding
	AllowedTools    []string
	Persona         string
}

// Plan asks the backend chain for a plan. ErrPlannerUnavailable means every
// backend failed; ErrNoActionablePlan means a backend answered but nothing
// actionable was recoverable. Both leave the session usable.
func (b *Bridge) Plan(ctx context.Context, query string, sessionCtx Context) (Plan, error) {
	if len(b.entries) == 0 {
		return Plan{}, ErrPlannerUnavailable
	}
	prompt := buildPrompt(query, sessionCtx)

	for attempt := 0; attempt < maxBackendAttempts; attempt++ {
		entry := b.entries[attempt%len(b.entries)]
		if attempt > 0 {
			if err := waitBackoff(ctx, b.backoff*time.Duration(attempt)); err != nil {
				return Plan{}, fmt.Errorf("planning canceled: %w", err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, entry.timeout)
		content, err := entry.backend.Generate(attemptCtx, prompt)
		cancel()
		if err != nil {
			b.log.Warn("reasoning backend failed",
				"backend", entry.backend.Name(),
				"attempt", attempt+1,
				"error", err)
			if ctx.Err() != nil {
				return Plan{}, fmt.Errorf("planning canceled: %w", ctx.Err())
			}
			continue
		}

		actions, rationale := ExtractPlan(query, content)
		plan := Plan{
			Query:     query,
			Actions:   actions,
			Rationale: rationale,
			Backend:   entry.backend.Name(),
		}
		if len(actions) == 0 {
			b.log.Info("backend response had no actionable structure",
				"backend", entry.backend.Name())
			return plan, ErrNoActionablePlan
		}
		return plan, nil
	}
	return Plan{}, ErrPlannerUnavailable
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildPrompt(query string, sessionCtx Context) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session: %s\n", sessionCtx.SessionID)
	if sessionCtx.Persona != "" {
		fmt.Fprintf(&sb, "Persona: %s\n", sessionCtx.Persona)
	}
	if len(sessionCtx.AllowedTools) > 0 {
		fmt.Fprintf(&sb, "Available tools: %s\n", strings.Join(sessionCtx.AllowedTools, ", "))
	}
	if len(sessionCtx.RecentHistory) > 0 {
		sb.WriteString("\nRecent history:\n")
		for _, line := range sessionCtx.RecentHistory {
			sb.WriteString("- " + line + "\n")
		}
	}
	if len(sessionCtx.RecalledResults) > 0 {
		sb.WriteString("\nPrior findings:\n")
		for _, finding := range sessionCtx.RecalledResults {
			fmt.Fprintf(&sb, "- [%s] %s on %s (session %s)\n",
				finding.Severity, finding.Category, finding.Target, finding.SessionID)
		}
	}
	sb.WriteString("\nRequest: " + query + "\n")
	return sb.String()
}
