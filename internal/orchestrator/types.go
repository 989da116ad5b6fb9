package orchestrator

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Risk is the gate's classification of a proposed action.
type Risk string

const (
	RiskSafe                 Risk = "safe"
	RiskRequiresConfirmation Risk = "requires_confirmation"
	RiskBlocked              Risk = "blocked"
)

// Action is one supervised tool invocation. State moves only through the
// transitions in state_machine.go; everything else is set once at proposal
// time and never mutated.
type Action struct {
	ID        string
	SessionID string
	Tool      string
	Target    string
	Params    map[string]string
	Risk      Risk
	State     ActionState
	CreatedAt time.Time
}

func NewActionID() string {
	return "act-" + uuid.NewString()[:8]
}

type ConfirmationStatus string

const (
	ConfirmationPending  ConfirmationStatus = "pending"
	ConfirmationApproved ConfirmationStatus = "approved"
	ConfirmationDenied   ConfirmationStatus = "denied"
	ConfirmationExpired  ConfirmationStatus = "expired"
)

// ConfirmationRequest blocks exactly one dangerous action until an operator
// approves it, denies it, or lets it expire. Expiry counts as denial for
// dispatch purposes.
type ConfirmationRequest struct {
	ID          string
	ActionID    string
	Tool        string
	Target      string
	Reason      string
	Status      ConfirmationStatus
	RequestedAt time.Time
	ExpiresAt   time.Time
}

var (
	ErrScopeViolation      = errors.New("target is outside the authorized scope")
	ErrNoPlugin            = errors.New("no plugin accepts the action")
	ErrActionTimeout       = errors.New("action exceeded its execution budget")
	ErrActionExecution     = errors.New("action execution failed")
	ErrConfirmationDenied  = errors.New("confirmation denied")
	ErrConfirmationExpired = errors.New("confirmation expired")
)
