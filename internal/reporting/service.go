package reporting

import (
	"context"
	"errors"

	"outbound-dialer/internal/bulk"
	"outbound-dialer/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// CampaignReader loads a campaign snapshot.
type CampaignReader interface {
	Get(ctx context.Context, id string) (bulk.BulkCallSession, error)
}

// SessionReader is the read side of the call session store.
//
// IMPORTANT:
// - Reports only read. They never mutate sessions or campaigns.
type SessionReader interface {
	ListByBulkSession(ctx context.Context, bulkSessionID string) ([]calls.CallSession, error)
	GetSummary(ctx context.Context, sessionID string) (calls.CallSummary, bool, error)
}

type Service struct {
	campaigns CampaignReader
	sessions  SessionReader
}

func NewService(campaigns CampaignReader, sessions SessionReader) *Service {
	return &Service{campaigns: campaigns, sessions: sessions}
}

func (s *Service) CampaignReport(ctx context.Context, bulkSessionID string) (CampaignReport, error) {
	if bulkSessionID == "" {
		return CampaignReport{}, ErrInvalidRequest
	}
	if s.campaigns == nil || s.sessions == nil {
		return CampaignReport{}, errors.New("reporting: repositories not configured")
	}

	b, err := s.campaigns.Get(ctx, bulkSessionID)
	if err != nil {
		return CampaignReport{}, err
	}
	rows, err := s.sessions.ListByBulkSession(ctx, bulkSessionID)
	if err != nil {
		return CampaignReport{}, err
	}

	out := CampaignReport{
		BulkSessionID: b.ID,
		Status:        b.Status,
		Candidates:    b.TotalCalls(),
		Placed:        len(rows),
		SummaryModes:  map[string]int{},
	}
	for _, r := range b.CallResults {
		if r.Outcome == bulk.OutcomeSkipped {
			out.Skipped++
		}
	}

	var measured int
	for _, c := range rows {
		if c.DurationMS != nil {
			out.TotalDurationSeconds += int(*c.DurationMS / 1000)
			measured++
		}
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		if c.HasTranscript() {
			out.TranscribedCalls++
		}

		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusNoAnswer:
			out.NoAnswerCalls++
		case calls.StatusBusy:
			out.BusyCalls++
		case calls.StatusCancelled:
			out.CancelledCalls++
		case calls.StatusUnknown:
			out.UnknownCalls++
		default:
			out.InProgressCalls++
		}

		if !c.Status.IsTerminal() {
			continue
		}
		sum, ok, err := s.sessions.GetSummary(ctx, c.ID)
		if err != nil {
			return CampaignReport{}, err
		}
		if ok {
			out.SummaryModes[sum.Mode]++
		}
	}

	if measured > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / measured
	}
	if out.Placed > 0 {
		out.ConnectionRate = float64(out.CompletedCalls) / float64(out.Placed)
	}
	return out, nil
}
