package reporting

import "outbound-dialer/internal/bulk"

// CampaignReport aggregates the call sessions a campaign placed.
// Counters come from the sessions themselves, so a campaign that is still
// running reports in-flight calls separately.
type CampaignReport struct {
	BulkSessionID string      `json:"bulk_session_id"`
	Status        bulk.Status `json:"status"`

	Candidates int `json:"candidates"`
	// Skipped candidates never produced a call session.
	Skipped int `json:"skipped"`
	Placed  int `json:"placed"`

	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CancelledCalls  int `json:"cancelled_calls"`
	UnknownCalls    int `json:"unknown_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls    int `json:"recorded_calls"`
	TranscribedCalls int `json:"transcribed_calls"`

	// SummaryModes counts stored summaries by the pipeline path that produced them.
	SummaryModes map[string]int `json:"summary_modes"`

	// ConnectionRate is completed calls over placed calls.
	ConnectionRate float64 `json:"connection_rate"`
}
