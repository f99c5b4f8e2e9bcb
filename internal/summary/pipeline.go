package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/observability"
	"outbound-dialer/pkg/logger"
)

// Mode values record which path produced a summary.
const (
	ModeAI          = "ai"
	ModeParseFailed = "parse_failed"
	ModeAIFailed    = "ai_failed"
	ModeFallback    = "fallback"
)

const (
	confidenceParseFailed = 0.1
	confidenceAIFailed    = 0.0
	confidenceFallback    = 0.5
)

// Input is what the pipeline needs to summarize one terminal call.
type Input struct {
	SessionID           string
	Target              calls.TargetRef
	TargetName          string
	Status              calls.Status
	DisconnectionReason string
	Transcript          string
}

// Pipeline produces exactly one summary per call. It never fails: AI errors are
// downgraded to a low-confidence summary that asks for manual review.
type Pipeline struct {
	gen     Generator
	timeout time.Duration
	metrics *observability.Metrics
}

// NewPipeline builds a pipeline. gen may be nil, in which case transcripts get the
// technical-failure summary.
func NewPipeline(gen Generator, timeout time.Duration, metrics *observability.Metrics) *Pipeline {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pipeline{gen: gen, timeout: timeout, metrics: metrics}
}

func (p *Pipeline) Summarize(ctx context.Context, in Input) calls.CallSummary {
	if strings.TrimSpace(in.Transcript) == "" {
		return Fallback(in)
	}

	if p.gen == nil {
		return aiFailed(in, "no summarization backend configured")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	text, err := p.gen.Generate(ctx, buildPrompt(in))
	p.metrics.ObserveSummarizer(p.gen.Name(), start)
	if err != nil {
		logger.From(ctx).Warn("summarizer request failed",
			"session_id", in.SessionID,
			"backend", p.gen.Name(),
			"err", err,
		)
		return aiFailed(in, err.Error())
	}

	sum, err := parseResponse(text)
	if err != nil {
		logger.From(ctx).Warn("summarizer response not parseable",
			"session_id", in.SessionID,
			"backend", p.gen.Name(),
			"err", err,
		)
		return calls.CallSummary{
			SessionID:       in.SessionID,
			Summary:         "Summary parsing failed - manual review recommended.",
			KeyPoints:       []string{},
			ConcerningFlags: []string{"Automated summary could not be parsed"},
			HealthMetrics:   map[string]any{"raw_response": truncate(text, 2000)},
			ConfidenceScore: confidenceParseFailed,
			Mode:            ModeParseFailed,
		}
	}
	sum.SessionID = in.SessionID
	sum.Mode = ModeAI
	return sum
}

// Fallback builds the deterministic summary for a call that produced no transcript.
func Fallback(in Input) calls.CallSummary {
	reason := in.DisconnectionReason
	if reason == "" {
		reason = "not reported"
	}
	text := fmt.Sprintf("Call ended with status %s (disconnection reason: %s). No conversation was recorded.", in.Status, reason)

	return calls.CallSummary{
		SessionID:       in.SessionID,
		Summary:         text,
		KeyPoints:       []string{fmt.Sprintf("Call status: %s", in.Status)},
		ConcerningFlags: []string{fallbackFlag(in.Status)},
		HealthMetrics:   map[string]any{},
		ConfidenceScore: confidenceFallback,
		Mode:            ModeFallback,
	}
}

func fallbackFlag(s calls.Status) string {
	switch s {
	case calls.StatusNoAnswer:
		return "No response to call attempt"
	case calls.StatusBusy:
		return "Line busy - call not connected"
	case calls.StatusFailed:
		return "Call failed to connect"
	case calls.StatusCancelled:
		return "Call cancelled before connecting"
	case calls.StatusCompleted:
		return "Call completed without transcript"
	default:
		return "Call ended with unrecognized status - manual review recommended"
	}
}

func aiFailed(in Input, detail string) calls.CallSummary {
	return calls.CallSummary{
		SessionID:       in.SessionID,
		Summary:         "Automated summary unavailable due to a technical failure - manual review recommended.",
		KeyPoints:       []string{},
		ConcerningFlags: []string{"Summary generation failed"},
		HealthMetrics:   map[string]any{"error": truncate(detail, 500)},
		ConfidenceScore: confidenceAIFailed,
		Mode:            ModeAIFailed,
	}
}

type modelResponse struct {
	Summary         string         `json:"summary"`
	KeyPoints       []string       `json:"key_points"`
	HealthMetrics   map[string]any `json:"health_metrics"`
	ConcerningFlags []string       `json:"concerning_flags"`
	ConfidenceScore *float64       `json:"confidence_score"`
}

// parseResponse accepts a JSON object, optionally wrapped in a markdown code fence.
func parseResponse(text string) (calls.CallSummary, error) {
	text = stripFence(text)

	var r modelResponse
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return calls.CallSummary{}, err
	}
	if strings.TrimSpace(r.Summary) == "" {
		return calls.CallSummary{}, fmt.Errorf("missing summary field")
	}

	sum := calls.CallSummary{
		Summary:         strings.TrimSpace(r.Summary),
		KeyPoints:       r.KeyPoints,
		ConcerningFlags: r.ConcerningFlags,
		HealthMetrics:   r.HealthMetrics,
	}
	if sum.KeyPoints == nil {
		sum.KeyPoints = []string{}
	}
	if sum.ConcerningFlags == nil {
		sum.ConcerningFlags = []string{}
	}
	if sum.HealthMetrics == nil {
		sum.HealthMetrics = map[string]any{}
	}
	if r.ConfidenceScore != nil {
		sum.ConfidenceScore = clamp01(*r.ConfidenceScore)
	}
	return sum, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
