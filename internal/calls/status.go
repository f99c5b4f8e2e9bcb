package calls

import "strings"

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no_answer"
	StatusBusy       Status = "busy"
	StatusCancelled  Status = "cancelled"
	// StatusUnknown is terminal: the provider ended the call with a status we do not recognize.
	// It is kept apart from failed so it can be surfaced for manual review.
	StatusUnknown Status = "unknown"
)

// TerminalStatuses lists every status from which no transition is possible.
var TerminalStatuses = []Status{
	StatusCompleted,
	StatusFailed,
	StatusNoAnswer,
	StatusBusy,
	StatusCancelled,
	StatusUnknown,
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy, StatusCancelled, StatusUnknown:
		return true
	default:
		return false
	}
}

// rank orders non-terminal states so out-of-order events never move a call backwards.
func (s Status) rank() int {
	switch s {
	case StatusInitiated:
		return 0
	case StatusRinging:
		return 1
	case StatusInProgress:
		return 2
	default:
		return 3
	}
}

// MapProviderStatus maps a provider-reported end state to the local terminal enum.
// Dial-level disconnection reasons take precedence over the generic call status.
func MapProviderStatus(callStatus, disconnectionReason string) Status {
	switch normalizeToken(disconnectionReason) {
	case "dial_no_answer", "no_answer":
		return StatusNoAnswer
	case "dial_busy", "busy":
		return StatusBusy
	case "dial_failed":
		return StatusFailed
	}

	switch normalizeToken(callStatus) {
	case "completed", "ended":
		return StatusCompleted
	case "failed", "error", "not_connected":
		return StatusFailed
	case "no_answer":
		return StatusNoAnswer
	case "busy":
		return StatusBusy
	case "cancelled", "canceled":
		return StatusCancelled
	default:
		return StatusUnknown
	}
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}
