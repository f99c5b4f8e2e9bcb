package bulk

import (
	"errors"
	"time"

	"outbound-dialer/internal/calls"
)

var (
	ErrNotFound          = errors.New("bulk: campaign not found")
	ErrInvalidTransition = errors.New("bulk: invalid status transition")
	// ErrCandidateSkipped marks a candidate that could not be dialed at placement time.
	ErrCandidateSkipped = errors.New("bulk: candidate skipped")
)

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Outcome kinds recorded in CallResult.Outcome besides the call statuses themselves.
const (
	OutcomeSkipped = "skipped"
)

// CallResult is one entry of the append-only campaign log.
type CallResult struct {
	Index          int             `json:"index"`
	Target         calls.TargetRef `json:"target"`
	Name           string          `json:"name,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	ProviderCallID string          `json:"provider_call_id,omitempty"`
	// Outcome is the terminal call status, or "skipped" when no call was placed.
	Outcome    string    `json:"outcome"`
	Successful bool      `json:"successful"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// BulkCallSession is one sequential dialing campaign.
//
// Invariants:
//   - LeadsData is a snapshot taken at start and never changes.
//   - CurrentIndex only grows. For a placed call it moves when the call's terminal event is
//     recorded; for a candidate that could not be dialed it moves when the skip is recorded.
//   - ActiveSessionID is non-empty while a placement is reserved or its call is in flight.
//     It holds the id the placed session is stored under.
type BulkCallSession struct {
	ID      string `json:"id" db:"id"`
	AgentID string `json:"agent_id,omitempty" db:"agent_id"`

	LeadsData    []calls.Target `json:"leads_data" db:"leads_data"`
	CurrentIndex int            `json:"current_index" db:"current_index"`
	Status       Status         `json:"status" db:"status"`

	CompletedCalls  int `json:"completed_calls" db:"completed_calls"`
	SuccessfulCalls int `json:"successful_calls" db:"successful_calls"`
	FailedCalls     int `json:"failed_calls" db:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls" db:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls" db:"busy_calls"`

	CallResults     []CallResult `json:"call_results" db:"call_results"`
	ActiveSessionID string       `json:"active_session_id,omitempty" db:"active_session_id"`
	Error           string       `json:"error,omitempty" db:"error"`

	CreatedBy   string     `json:"created_by,omitempty" db:"created_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

func (b BulkCallSession) TotalCalls() int { return len(b.LeadsData) }

func (b BulkCallSession) hasResultFor(sessionID string) bool {
	for _, r := range b.CallResults {
		if r.SessionID != "" && r.SessionID == sessionID {
			return true
		}
	}
	return false
}

// record appends r and bumps the counters. Every recorded result counts as processed.
func (b *BulkCallSession) record(r CallResult) {
	b.CallResults = append(b.CallResults, r)
	b.CompletedCalls++
	switch {
	case r.Successful:
		b.SuccessfulCalls++
	case r.Outcome == string(calls.StatusNoAnswer):
		b.NoAnswerCalls++
	case r.Outcome == string(calls.StatusBusy):
		b.BusyCalls++
	default:
		b.FailedCalls++
	}
}
