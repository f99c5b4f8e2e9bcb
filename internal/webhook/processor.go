package webhook

import (
	"context"
	"errors"
	"fmt"

	"outbound-dialer/internal/bulk"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/observability"
	"outbound-dialer/internal/summary"
	"outbound-dialer/internal/targets"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/pkg/logger"
)

var (
	// ErrUnknownCall means no session matches the event's call id. The event is dropped.
	ErrUnknownCall  = errors.New("webhook: unknown call id")
	ErrInvalidEvent = errors.New("webhook: invalid event")
)

// CampaignNotifier receives terminal sessions that belong to a campaign.
type CampaignNotifier interface {
	OnCallTerminal(ctx context.Context, s calls.CallSession) (bulk.BulkCallSession, error)
}

// Summarizer produces the summary for a terminal session. It must not fail.
type Summarizer interface {
	Summarize(ctx context.Context, in summary.Input) calls.CallSummary
}

// Processor is the single entry point for provider lifecycle events.
//
// Every step is safe to repeat: the merge is idempotent, summaries are upserted once per
// session, and the campaign deduplicates terminal notifications by session id.
type Processor struct {
	sessions   calls.Repository
	directory  targets.Directory
	summarizer Summarizer
	campaigns  CampaignNotifier
	provider   telephony.Provider
	metrics    *observability.Metrics
}

func NewProcessor(
	sessions calls.Repository,
	directory targets.Directory,
	summarizer Summarizer,
	campaigns CampaignNotifier,
	provider telephony.Provider,
	metrics *observability.Metrics,
) *Processor {
	return &Processor{
		sessions:   sessions,
		directory:  directory,
		summarizer: summarizer,
		campaigns:  campaigns,
		provider:   provider,
		metrics:    metrics,
	}
}

// Result describes what one event did.
type Result struct {
	SessionID      string       `json:"session_id"`
	Status         calls.Status `json:"status"`
	Changed        bool         `json:"changed"`
	BecameTerminal bool         `json:"became_terminal"`
	// SummaryMode is set when a summary was written by this event.
	SummaryMode string `json:"summary_mode,omitempty"`
	// BulkSessionID is set when the campaign was notified.
	BulkSessionID string `json:"bulk_session_id,omitempty"`
}

func (p *Processor) Process(ctx context.Context, ev telephony.WebhookEvent) (Result, error) {
	if ev.Call.CallID == "" || !calls.IsKnownEvent(ev.Event) {
		p.metrics.WebhookEvent(metricEvent(ev.Event), "invalid")
		return Result{}, fmt.Errorf("%w: event %q call_id %q", ErrInvalidEvent, ev.Event, ev.Call.CallID)
	}
	ctx = logger.WithCall(ctx, ev.Call.CallID)
	log := logger.From(ctx)

	var tr calls.Transition
	s, err := p.sessions.Update(ctx, ev.Call.CallID, func(s *calls.CallSession) (bool, error) {
		tr = calls.Apply(s, ev)
		return tr.Changed, nil
	})
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			p.metrics.WebhookEvent(ev.Event, "unknown_call")
			log.Warn("webhook for unknown call dropped", "event", ev.Event)
			return Result{}, fmt.Errorf("%w: %s", ErrUnknownCall, ev.Call.CallID)
		}
		p.metrics.WebhookEvent(ev.Event, "error")
		return Result{}, fmt.Errorf("persist session: %w", err)
	}

	res := Result{
		SessionID:      s.ID,
		Status:         s.Status,
		Changed:        tr.Changed,
		BecameTerminal: tr.BecameTerminal(),
	}
	log = log.With("session_id", s.ID)
	if tr.Changed {
		log.Info("call session updated", "event", ev.Event, "from", tr.From, "status", s.Status)
	}

	if ev.Event != telephony.EventCallEnded || !s.Status.IsTerminal() {
		p.metrics.WebhookEvent(ev.Event, outcome(tr))
		return res, nil
	}

	mode, err := p.ensureSummary(ctx, s)
	if err != nil {
		p.metrics.WebhookEvent(ev.Event, "error")
		return res, err
	}
	res.SummaryMode = mode

	if s.BulkSessionID != "" && p.campaigns != nil {
		if _, err := p.campaigns.OnCallTerminal(ctx, s); err != nil {
			p.metrics.WebhookEvent(ev.Event, "error")
			return res, fmt.Errorf("advance campaign: %w", err)
		}
		res.BulkSessionID = s.BulkSessionID
	}

	p.metrics.WebhookEvent(ev.Event, outcome(tr))
	return res, nil
}

// ensureSummary writes the session's summary unless one already exists.
// It returns the mode written, or "" when an earlier delivery already wrote it.
func (p *Processor) ensureSummary(ctx context.Context, s calls.CallSession) (string, error) {
	if _, ok, err := p.sessions.GetSummary(ctx, s.ID); err != nil {
		return "", fmt.Errorf("load summary: %w", err)
	} else if ok {
		return "", nil
	}

	in := summary.Input{
		SessionID:           s.ID,
		Target:              s.Target,
		Status:              s.Status,
		DisconnectionReason: s.DisconnectionReason,
		Transcript:          s.Transcript,
	}
	in.TargetName = p.targetName(ctx, s.Target)

	sum := p.summarizer.Summarize(ctx, in)
	sum.SessionID = s.ID
	if err := p.sessions.UpsertSummary(ctx, sum); err != nil {
		return "", fmt.Errorf("persist summary: %w", err)
	}
	p.metrics.SummaryStored(sum.Mode)
	logger.From(ctx).Info("call summary stored", "mode", sum.Mode, "confidence", sum.ConfidenceScore)
	return sum.Mode, nil
}

// targetName resolves the display name for the summary prompt. A lookup failure only
// loses context, so it is logged and ignored.
func (p *Processor) targetName(ctx context.Context, ref calls.TargetRef) string {
	switch ref.Kind {
	case calls.TargetPatient, calls.TargetLead:
	default:
		logger.From(ctx).Warn("session has unknown target kind", "target_kind", ref.Kind)
		return ""
	}
	if p.directory == nil {
		return ""
	}
	t, err := p.directory.Get(ctx, ref)
	if err != nil {
		logger.From(ctx).Warn("target lookup failed", "target_kind", ref.Kind, "target_id", ref.ID, "err", err)
		return ""
	}
	return t.Name
}

// Reconcile pulls the provider's current view of a call and feeds it through Process
// as the event that view implies. It covers missed webhooks without any waiting.
func (p *Processor) Reconcile(ctx context.Context, sessionID string) (Result, error) {
	s, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	if p.provider == nil {
		return Result{}, fmt.Errorf("%w: no provider configured", telephony.ErrProvider)
	}
	details, err := p.provider.GetCall(ctx, s.ProviderCallID)
	if err != nil {
		return Result{}, err
	}
	details.CallID = s.ProviderCallID

	event := impliedEvent(details)
	if event == "" {
		return Result{SessionID: s.ID, Status: s.Status}, nil
	}
	return p.Process(ctx, telephony.WebhookEvent{Event: event, Call: details})
}

// impliedEvent maps a polled call object to the lifecycle event it corresponds to.
func impliedEvent(c telephony.CallPayload) string {
	status := ""
	if c.CallStatus != nil {
		status = *c.CallStatus
	}
	switch {
	case c.EndTimestamp != nil:
		return telephony.EventCallEnded
	case status == "registered" || status == "":
		return ""
	case status == "ongoing" || status == "in_progress":
		return telephony.EventCallStarted
	default:
		return telephony.EventCallEnded
	}
}

func outcome(tr calls.Transition) string {
	if tr.Changed {
		return "applied"
	}
	return "noop"
}

func metricEvent(name string) string {
	if calls.IsKnownEvent(name) {
		return name
	}
	return "other"
}
