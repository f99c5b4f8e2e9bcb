package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the dialer's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so services can be built without metrics in tests.
//
// Usage:
//
//	m := observability.NewMetrics(prometheus.DefaultRegisterer)
//	m.CallPlaced("bulk", "ok")
//	defer m.ObserveSummarizer("gemini", time.Now())
type Metrics struct {
	// WebhookEvents counts inbound provider events.
	// Labels: event (call_started|call_ended|call_analyzed|other), outcome (applied|noop|invalid|unknown_call|error)
	WebhookEvents *prometheus.CounterVec

	// CallsPlaced counts outbound call attempts.
	// Labels: origin (single|bulk), outcome (ok|invalid|provider_error|error)
	CallsPlaced *prometheus.CounterVec

	// Summaries counts stored summaries by the pipeline path that produced them.
	// Labels: mode (ai|parse_failed|ai_failed|fallback)
	Summaries *prometheus.CounterVec

	// SummarizerDuration measures generative backend latency in seconds.
	// Labels: backend
	SummarizerDuration *prometheus.HistogramVec

	// BulkCursorAdvances counts cursor moves across all campaigns.
	// Labels: reason (terminal|skipped)
	BulkCursorAdvances *prometheus.CounterVec

	// HTTPRequestDuration measures API latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// Call it once per registry; registering twice panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WebhookEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialer_webhook_events_total",
				Help: "Provider webhook events by event name and processing outcome",
			},
			[]string{"event", "outcome"},
		),
		CallsPlaced: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialer_calls_placed_total",
				Help: "Outbound call placements by origin and outcome",
			},
			[]string{"origin", "outcome"},
		),
		Summaries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialer_summaries_total",
				Help: "Call summaries stored by pipeline mode",
			},
			[]string{"mode"},
		),
		SummarizerDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dialer_summarizer_duration_seconds",
				Help:    "Duration of generative summarizer requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"backend"},
		),
		BulkCursorAdvances: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialer_bulk_cursor_advances_total",
				Help: "Bulk campaign cursor advances by reason",
			},
			[]string{"reason"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dialer_http_request_duration_seconds",
				Help:    "Duration of HTTP API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

func (m *Metrics) WebhookEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) CallPlaced(origin, outcome string) {
	if m == nil {
		return
	}
	m.CallsPlaced.WithLabelValues(origin, outcome).Inc()
}

func (m *Metrics) SummaryStored(mode string) {
	if m == nil {
		return
	}
	m.Summaries.WithLabelValues(mode).Inc()
}

// ObserveSummarizer records the time elapsed since start.
func (m *Metrics) ObserveSummarizer(backend string, start time.Time) {
	if m == nil {
		return
	}
	m.SummarizerDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}

func (m *Metrics) CursorAdvanced(reason string) {
	if m == nil {
		return
	}
	m.BulkCursorAdvances.WithLabelValues(reason).Inc()
}

// GinMiddleware records request latency keyed by the matched route template.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the collectors registered in g for scraping.
func Handler(g prometheus.Gatherer) gin.HandlerFunc {
	h := promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
