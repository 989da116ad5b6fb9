package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	RecordTypeQuery   = "query"
	RecordTypeAction  = "action"
	RecordTypeFinding = "finding"
)

// Record is one entry in a session's append-only log. Payload carries the
// typed body (QueryPayload, ActionPayload, or Finding) as raw JSON so the log
// replays without knowing every payload shape up front.
type Record struct {
	Type    string          `json:"type"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

type QueryPayload struct {
	Text string `json:"text"`
}

type ActionPayload struct {
	ActionID string            `json:"action_id"`
	Tool     string            `json:"tool"`
	Target   string            `json:"target"`
	Params   map[string]string `json:"params,omitempty"`
	Risk     string            `json:"risk"`
	State    string            `json:"state"`
	Error    string            `json:"error,omitempty"`
}

// Finding is the immutable observation produced by a completed action.
// Once appended it is never mutated or deleted; aggregate views deduplicate
// without touching the log.
type Finding struct {
	SessionID string            `json:"session_id"`
	ActionID  string            `json:"action_id"`
	Target    string            `json:"target"`
	Category  string            `json:"category"`
	Severity  string            `json:"severity"`
	Evidence  map[string]string `json:"evidence,omitempty"`
	TS        time.Time         `json:"ts"`
}

const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

var severityRank = map[string]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityInfo:     0,
}

// NormalizeSeverity maps arbitrary plugin-reported severities onto the fixed
// five-level scale, defaulting to info.
func NormalizeSeverity(raw string) string {
	if _, ok := severityRank[raw]; ok {
		return raw
	}
	return SeverityInfo
}

func SeverityRank(severity string) int {
	return severityRank[NormalizeSeverity(severity)]
}

func NewID() string {
	ts := time.Now().UTC().Format("20060102-150405")
	return fmt.Sprintf("%s-%s", ts, uuid.NewString()[:8])
}

func NewRecord(recordType string, ts time.Time, payload any) (Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal %s payload: %w", recordType, err)
	}
	return Record{Type: recordType, TS: ts, Payload: data}, nil
}
