package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"outbound-dialer/internal/bulk"
	"outbound-dialer/internal/calls"
)

func seedSession(t *testing.T, repo *calls.MemoryRepo, id, bulkID string, status calls.Status, durationMS int64) {
	t.Helper()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	s := calls.CallSession{
		ID:             id,
		ProviderCallID: "call-" + id,
		Target:         calls.TargetRef{Kind: calls.TargetLead, ID: id},
		BulkSessionID:  bulkID,
		Status:         calls.StatusInitiated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if status == calls.StatusInitiated {
		return
	}
	_, err := repo.Update(ctx, s.ProviderCallID, func(s *calls.CallSession) (bool, error) {
		s.Status = status
		s.DurationMS = &durationMS
		s.Transcript = "Agent: hello"
		return true, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestCampaignReport_Aggregates(t *testing.T) {
	ctx := context.Background()
	sessions := calls.NewMemoryRepo()
	campaigns := bulk.NewMemoryRepo()

	b := bulk.BulkCallSession{
		ID:        "b1",
		Status:    bulk.StatusInProgress,
		LeadsData: make([]calls.Target, 5),
		CallResults: []bulk.CallResult{
			{Index: 0, Outcome: bulk.OutcomeSkipped},
		},
	}
	if err := campaigns.Create(ctx, b); err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	seedSession(t, sessions, "s1", "b1", calls.StatusCompleted, 60_000)
	seedSession(t, sessions, "s2", "b1", calls.StatusNoAnswer, 0)
	seedSession(t, sessions, "s3", "b1", calls.StatusInitiated, 0)
	seedSession(t, sessions, "other", "b2", calls.StatusCompleted, 90_000)

	if err := sessions.UpsertSummary(ctx, calls.CallSummary{SessionID: "s1", Summary: "ok", Mode: "ai", ConfidenceScore: 0.9}); err != nil {
		t.Fatalf("upsert summary: %v", err)
	}

	out, err := NewService(campaigns, sessions).CampaignReport(ctx, "b1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.Candidates != 5 || out.Skipped != 1 || out.Placed != 3 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.CompletedCalls != 1 || out.NoAnswerCalls != 1 || out.InProgressCalls != 1 {
		t.Fatalf("unexpected status counts: %+v", out)
	}
	if out.TotalDurationSeconds != 60 || out.AverageDurationSeconds != 30 {
		t.Fatalf("unexpected durations: %+v", out)
	}
	if out.SummaryModes["ai"] != 1 || len(out.SummaryModes) != 1 {
		t.Fatalf("unexpected summary modes: %v", out.SummaryModes)
	}
	if out.ConnectionRate < 0.33 || out.ConnectionRate > 0.34 {
		t.Fatalf("unexpected connection rate %f", out.ConnectionRate)
	}
}

func TestCampaignReport_Errors(t *testing.T) {
	svc := NewService(bulk.NewMemoryRepo(), calls.NewMemoryRepo())
	if _, err := svc.CampaignReport(context.Background(), ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if _, err := svc.CampaignReport(context.Background(), "missing"); !errors.Is(err, bulk.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
