// Package report aggregates session findings into deduplicated summaries.
// The session log stays append-only; deduplication happens only here, in the
// aggregate view.
package report

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/AMCarbonaro/KaliAI/internal/session"
)

// Entry is one deduplicated finding. Two findings merge when they share
// target, category, and evidence fingerprint; Occurrences counts the merged
// originals and Sources keeps their provenance.
type Entry struct {
	Target      string
	Category    string
	Severity    string
	Evidence    map[string]string
	Fingerprint string
	Occurrences int
	FirstSeen   string
	Sources     []Source
}

// Source points back at the session and action a merged finding came from.
type Source struct {
	SessionID string
	ActionID  string
}

type Summary struct {
	Sessions   []string
	Total      int
	Unique     int
	BySeverity map[string]int
	ByTarget   map[string]int
	Entries    []Entry
}

// Summarize aggregates the named sessions, or every session when none are
// named. Severity counts are over unique entries, not raw occurrences.
func Summarize(store *session.Store, sessionIDs ...string) (Summary, error) {
	if store == nil {
		return Summary{}, fmt.Errorf("store is required")
	}
	if len(sessionIDs) == 0 {
		all, err := store.List()
		if err != nil {
			return Summary{}, fmt.Errorf("list sessions: %w", err)
		}
		sessionIDs = all
	}

	summary := Summary{
		Sessions:   sessionIDs,
		BySeverity: map[string]int{},
		ByTarget:   map[string]int{},
	}
	entries := map[string]*Entry{}
	order := []string{}

	for _, sessionID := range sessionIDs {
		loaded, err := store.Load(sessionID)
		if err != nil {
			return Summary{}, fmt.Errorf("load session %s: %w", sessionID, err)
		}
		for _, finding := range loaded.Findings() {
			summary.Total++
			fingerprint := Fingerprint(finding.Evidence)
			key := finding.Target + "\x00" + finding.Category + "\x00" + fingerprint

			entry, ok := entries[key]
			if !ok {
				entry = &Entry{
					Target:      finding.Target,
					Category:    finding.Category,
					Severity:    session.NormalizeSeverity(finding.Severity),
					Evidence:    finding.Evidence,
					Fingerprint: fingerprint,
					FirstSeen:   finding.TS.Format("2006-01-02 15:04:05"),
				}
				entries[key] = entry
				order = append(order, key)
			}
			entry.Occurrences++
			entry.Sources = append(entry.Sources, Source{
				SessionID: finding.SessionID,
				ActionID:  finding.ActionID,
			})
			// A duplicate reported at a higher severity raises the entry.
			if session.SeverityRank(finding.Severity) > session.SeverityRank(entry.Severity) {
				entry.Severity = session.NormalizeSeverity(finding.Severity)
			}
		}
	}

	for _, key := range order {
		entry := entries[key]
		summary.Entries = append(summary.Entries, *entry)
		summary.Unique++
		summary.BySeverity[entry.Severity]++
		summary.ByTarget[entry.Target]++
	}
	sort.SliceStable(summary.Entries, func(i, j int) bool {
		ri := session.SeverityRank(summary.Entries[i].Severity)
		rj := session.SeverityRank(summary.Entries[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return summary.Entries[i].Target < summary.Entries[j].Target
	})
	return summary, nil
}

// Fingerprint hashes the evidence map into a stable identity: k=v pairs
// sorted by key, joined by newlines, SHA-256.
func Fingerprint(evidence map[string]string) string {
	pairs := make([]string, 0, len(evidence))
	for k, v := range evidence {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	sum := sha256.Sum256([]byte(strings.Join(pairs, "\n")))
	return hex.EncodeToString(sum[:])
}

// Render writes the summary as plain text, grouped by severity.
func Render(summary Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Findings: %d total, %d unique across %d session(s)\n",
		summary.Total, summary.Unique, len(summary.Sessions))
	for _, severity := range []string{
		session.SeverityCritical, session.SeverityHigh, session.SeverityMedium,
		session.SeverityLow, session.SeverityInfo,
	} {
		if summary.BySeverity[severity] > 0 {
			fmt.Fprintf(&sb, "  %-8s %d\n", severity, summary.BySeverity[severity])
		}
	}
	for _, entry := range summary.Entries {
		fmt.Fprintf(&sb, "\n[%s] %s on %s", entry.Severity, entry.Category, entry.Target)
		if entry.Occurrences > 1 {
			fmt.Fprintf(&sb, " (seen %d times)", entry.Occurrences)
		}
		sb.WriteString("\n")
		keys := make([]string, 0, len(entry.Evidence))
		for k := range entry.Evidence {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "    %s: %s\n", k, entry.Evidence[k])
		}
	}
	return sb.String()
}
