package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMCarbonaro/KaliAI/internal/session"
)

func appendFinding(t *testing.T, store *session.Store, sessionID string, finding session.Finding) {
	t.Helper()
	finding.SessionID = sessionID
	if finding.TS.IsZero() {
		finding.TS = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	}
	record, err := session.NewRecord(session.RecordTypeFinding, finding.TS, finding)
	require.NoError(t, err)
	require.NoError(t, store.Append(sessionID, record))
}

func newStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSummarizeDeduplicatesIdenticalFindings(t *testing.T) {
	store := newStore(t)
	finding := session.Finding{
		ActionID: "act-1",
		Target:   "192.168.1.10",
		Category: "open_port",
		Severity: session.SeverityInfo,
		Evidence: map[string]string{"port": "22", "service": "ssh"},
	}
	appendFinding(t, store, "sess-1", finding)
	finding.ActionID = "act-2"
	appendFinding(t, store, "sess-1", finding)

	summary, err := Summarize(store, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Unique)
	require.Len(t, summary.Entries, 1)

	entry := summary.Entries[0]
	assert.Equal(t, 2, entry.Occurrences)
	require.Len(t, entry.Sources, 2)
	assert.Equal(t, "act-1", entry.Sources[0].ActionID)
	assert.Equal(t, "act-2", entry.Sources[1].ActionID)
}

func TestSummarizeDistinguishesEvidence(t *testing.T) {
	store := newStore(t)
	appendFinding(t, store, "sess-1", session.Finding{
		Target: "192.168.1.10", Category: "open_port",
		Severity: session.SeverityInfo, Evidence: map[string]string{"port": "22"},
	})
	appendFinding(t, store, "sess-1", session.Finding{
		Target: "192.168.1.10", Category: "open_port",
		Severity: session.SeverityInfo, Evidence: map[string]string{"port": "80"},
	})

	summary, err := Summarize(store, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Unique, "different evidence means different findings")
}

func TestSummarizeAcrossSessions(t *testing.T) {
	store := newStore(t)
	shared := session.Finding{
		Target: "example.com", Category: "web_vulnerability",
		Severity: session.SeverityMedium,
		Evidence: map[string]string{"detail": "directory indexing"},
	}
	appendFinding(t, store, "sess-a", shared)
	appendFinding(t, store, "sess-b", shared)
	appendFinding(t, store, "sess-b", session.Finding{
		Target: "192.168.1.10", Category: "open_port",
		Severity: session.SeverityInfo, Evidence: map[string]string{"port": "445"},
	})

	summary, err := Summarize(store)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Unique)

	for _, entry := range summary.Entries {
		if entry.Category == "web_vulnerability" {
			require.Len(t, entry.Sources, 2)
			sessions := []string{entry.Sources[0].SessionID, entry.Sources[1].SessionID}
			assert.ElementsMatch(t, []string{"sess-a", "sess-b"}, sessions,
				"merged entries keep every originating session")
		}
	}
}

func TestSummarizeSeverityCountsAndOrdering(t *testing.T) {
	store := newStore(t)
	appendFinding(t, store, "sess-1", session.Finding{
		Target: "192.168.1.10", Category: "open_port",
		Severity: session.SeverityInfo, Evidence: map[string]string{"port": "22"},
	})
	appendFinding(t, store, "sess-1", session.Finding{
		Target: "192.168.1.10", Category: "exploit_candidate",
		Severity: session.SeverityHigh, Evidence: map[string]string{"module": "exploit/x"},
	})

	summary, err := Summarize(store, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.BySeverity[session.SeverityHigh])
	assert.Equal(t, 1, summary.BySeverity[session.SeverityInfo])
	assert.Equal(t, 2, summary.ByTarget["192.168.1.10"])
	assert.Equal(t, session.SeverityHigh, summary.Entries[0].Severity, "entries sort most severe first")
}

func TestSummarizeDuplicateAtHigherSeverityRaisesEntry(t *testing.T) {
	store := newStore(t)
	base := session.Finding{
		Target: "example.com", Category: "web_vulnerability",
		Evidence: map[string]string{"detail": "login form"},
	}
	base.Severity = session.SeverityLow
	appendFinding(t, store, "sess-1", base)
	base.Severity = session.SeverityHigh
	appendFinding(t, store, "sess-1", base)

	summary, err := Summarize(store, "sess-1")
	require.NoError(t, err)
	require.Len(t, summary.Entries, 1)
	assert.Equal(t, session.SeverityHigh, summary.Entries[0].Severity)
}

func TestSummarizeMissingSessionIsEmptyNotError(t *testing.T) {
	store := newStore(t)
	summary, err := Summarize(store, "no-such-session")
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
}

func TestFingerprintStableUnderKeyOrder(t *testing.T) {
	a := Fingerprint(map[string]string{"port": "22", "service": "ssh"})
	b := Fingerprint(map[string]string{"service": "ssh", "port": "22"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Fingerprint(map[string]string{"port": "23", "service": "ssh"}))
	assert.Len(t, a, 64)
}

func TestRenderPlainText(t *testing.T) {
	store := newStore(t)
	finding := session.Finding{
		ActionID: "act-1", Target: "192.168.1.10", Category: "open_port",
		Severity: session.SeverityInfo, Evidence: map[string]string{"port": "22"},
	}
	appendFinding(t, store, "sess-1", finding)
	appendFinding(t, store, "sess-1", finding)

	summary, err := Summarize(store, "sess-1")
	require.NoError(t, err)

	text := Render(summary)
	assert.Contains(t, text, "2 total, 1 unique")
	assert.Contains(t, text, "[info] open_port on 192.168.1.10 (seen 2 times)")
	assert.Contains(t, text, "port: 22")
}
