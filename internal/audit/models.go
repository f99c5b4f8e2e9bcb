package audit

import "time"

// Event is an immutable, append-only record of an operator action.
//
// Invariants:
// - Events are never updated or deleted.
// - Actor and IP capture are best-effort; callers must not fail a request on audit errors.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the client IP as resolved by gin (trusted proxies applied).
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	BulkSessionID string `json:"bulk_session_id,omitempty" db:"bulk_session_id"`
	CallSessionID string `json:"call_session_id,omitempty" db:"call_session_id"`

	Message  string `json:"message,omitempty" db:"message"`
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallTriggered   EventType = "call_triggered"
	EventTypeCallReconciled  EventType = "call_reconciled"
	EventTypeCampaignStarted EventType = "campaign_started"
	EventTypeCampaignPaused  EventType = "campaign_paused"
	EventTypeCampaignResumed EventType = "campaign_resumed"
)

// Actor identifies who performed an action.
type Actor struct {
	UserID string
	Role   string
	IP     string
}
