package orchestrator

import "time"

type EventType string

const (
	EventPersonaLoaded        EventType = "persona_loaded"
	EventQueryRejected        EventType = "query_rejected"
	EventPlanReady            EventType = "plan_ready"
	EventPlanFailed           EventType = "plan_failed"
	EventActionStarted        EventType = "action_started"
	EventActionCompleted      EventType = "action_completed"
	EventActionFailed         EventType = "action_failed"
	EventActionRejected       EventType = "action_rejected"
	EventFindingAdded         EventType = "finding_added"
	EventConfirmationRequired EventType = "confirmation_required"
	EventConfirmationResolved EventType = "confirmation_resolved"
	EventPlanComplete         EventType = "plan_complete"
)

// Event is one entry on the engine's bounded stream. Only the fields that
// apply to the event type are set.
type Event struct {
	Type         EventType
	TS           time.Time
	SessionID    string
	ActionID     string
	Tool         string
	Target       string
	Severity     string
	Message      string
	Err          string
	Confirmation *ConfirmationRequest
	Plan         *PlanOutcome
}

// PlanOutcome accompanies plan_complete.
type PlanOutcome struct {
	Query         string
	Total         int
	Completed     int
	Failed        int
	Rejected      int
	Findings      int
	SeverityCount map[string]int
}
