package httpapi

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/auth"
	"outbound-dialer/internal/bulk"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/config"
	"outbound-dialer/internal/reporting"
	"outbound-dialer/internal/summary"
	"outbound-dialer/internal/targets"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/internal/webhook"

	"github.com/gin-gonic/gin"
)

type testEnv struct {
	router   *gin.Engine
	sessions *calls.MemoryRepo
	dir      *targets.MemoryDirectory
	provider *telephony.FakeProvider
	audit    *audit.MemoryRepo
	auth     *auth.Manager
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions := calls.NewMemoryRepo()
	dir := targets.NewMemoryDirectory(sessions)
	provider := telephony.NewFakeProvider()
	dialer := calls.NewDialer(provider, sessions, nil, calls.DialerConfig{FromNumber: "+15550000000", DefaultAgentID: "agent-default"})
	bulkRepo := bulk.NewMemoryRepo()
	orch := bulk.NewOrchestrator(bulkRepo, sessions, dir, dialer, bulk.Options{})
	proc := webhook.NewProcessor(sessions, dir, summary.NewPipeline(nil, time.Second, nil), orch, provider, nil)
	auditRepo := audit.NewMemoryRepo()

	m, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	h := Handlers{
		Auth:            m,
		AllowTokenIssue: true,
		Directory:       dir,
		Sessions:        sessions,
		Dialer:          dialer,
		Campaigns:       orch,
		Reports:         reporting.NewService(bulkRepo, sessions),
		Events:          proc,
		Audit:           audit.NewService(auditRepo),
		WebhookSecret:   secret,
	}

	r := gin.New()
	r.GET("/healthz", h.Health)
	r.POST("/webhooks/provider", h.ProviderWebhook)
	r.POST("/v1/auth/token", h.IssueToken)
	v1 := r.Group("/v1", auth.RequireAccessToken(m))
	v1.POST("/calls", h.TriggerCall)
	v1.GET("/calls/:session_id", h.GetCall)
	v1.POST("/calls/:session_id/refresh", h.RefreshCall)
	v1.POST("/bulk-calls", h.TriggerBulkCalls)
	v1.GET("/bulk-calls/:id", h.GetBulk)
	v1.GET("/bulk-calls/:id/report", h.GetBulkReport)
	v1.POST("/bulk-calls/:id/pause", h.PauseBulk)
	v1.POST("/bulk-calls/:id/resume", h.ResumeBulk)

	return &testEnv{router: r, sessions: sessions, dir: dir, provider: provider, audit: auditRepo, auth: m}
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	pair, err := e.auth.IssuePair(time.Now(), "u1", "operator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return pair.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestTriggerCall_NormalizesPhone(t *testing.T) {
	e := newTestEnv(t, "")
	e.dir.Put(calls.Target{Ref: calls.TargetRef{Kind: calls.TargetPatient, ID: "p1"}, Name: "Ada", Phone: "5551234567"})

	w := e.do(t, http.MethodPost, "/v1/calls", gin.H{"target_id": "p1"}, e.token(t))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[triggerCallResponse](t, w)
	if resp.ToNumber != "+15551234567" {
		t.Fatalf("expected normalized number, got %q", resp.ToNumber)
	}
	if resp.CallID == "" || resp.SessionID == "" {
		t.Fatalf("expected call and session ids: %+v", resp)
	}
	reqs := e.provider.Requests()
	if len(reqs) != 1 || reqs[0].To != "+15551234567" || reqs[0].AgentID != "agent-default" {
		t.Fatalf("unexpected provider requests: %+v", reqs)
	}
	if got := e.audit.Events(); len(got) != 1 || got[0].Type != audit.EventTypeCallTriggered {
		t.Fatalf("expected one call_triggered audit event, got %+v", got)
	}
}

func TestTriggerCall_Errors(t *testing.T) {
	e := newTestEnv(t, "")
	e.dir.Put(calls.Target{Ref: calls.TargetRef{Kind: calls.TargetPatient, ID: "bad"}, Phone: "12"})
	e.dir.Put(calls.Target{Ref: calls.TargetRef{Kind: calls.TargetLead, ID: "l1"}, Phone: "+15557654321"})
	e.provider.FailTo["+15557654321"] = true
	tok := e.token(t)

	cases := []struct {
		name     string
		body     any
		status   int
		category string
	}{
		{"missing target", gin.H{}, http.StatusBadRequest, CategoryValidation},
		{"unknown kind", gin.H{"target_id": "p1", "target_kind": "vendor"}, http.StatusBadRequest, CategoryValidation},
		{"unknown target", gin.H{"target_id": "nope"}, http.StatusNotFound, CategoryNotFound},
		{"invalid phone", gin.H{"target_id": "bad"}, http.StatusBadRequest, CategoryValidation},
		{"provider rejects", gin.H{"target_id": "l1", "target_kind": "lead"}, http.StatusBadGateway, CategoryProvider},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/v1/calls", tc.body, tok)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			if got := decode[errorResponse](t, w); got.Category != tc.category {
				t.Fatalf("expected category %q, got %q", tc.category, got.Category)
			}
		})
	}
	if n := len(e.provider.Requests()); n != 1 {
		t.Fatalf("expected only the lead to reach the provider, got %d requests", n)
	}
}

func TestTriggerCall_RequiresToken(t *testing.T) {
	e := newTestEnv(t, "")
	w := e.do(t, http.MethodPost, "/v1/calls", gin.H{"target_id": "p1"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestWebhook_EndToEnd(t *testing.T) {
	e := newTestEnv(t, "")
	e.dir.Put(calls.Target{Ref: calls.TargetRef{Kind: calls.TargetPatient, ID: "p1"}, Name: "Ada", Phone: "+15551234567"})
	tok := e.token(t)

	placed := decode[triggerCallResponse](t, e.do(t, http.MethodPost, "/v1/calls", gin.H{"target_id": "p1"}, tok))

	w := e.do(t, http.MethodPost, "/webhooks/provider", gin.H{
		"event": "call_ended",
		"call": gin.H{
			"call_id":              placed.CallID,
			"call_status":          "ended",
			"start_timestamp":      1_000,
			"end_timestamp":        61_000,
			"disconnection_reason": "user_hangup",
			"transcript":           "Agent: hello",
		},
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/v1/calls/"+placed.SessionID, nil, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	got := decode[callStatusResponse](t, w)
	if got.Session.Status != calls.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Session.Status)
	}
	if got.Session.DurationMS == nil || *got.Session.DurationMS != 60_000 {
		t.Fatalf("expected 60s duration, got %v", got.Session.DurationMS)
	}
	// No backend is configured, so the transcript cannot be summarized.
	if got.Summary == nil || got.Summary.Mode != summary.ModeAIFailed {
		t.Fatalf("expected ai_failed summary, got %+v", got.Summary)
	}
}

func TestWebhook_UnknownCallIs404(t *testing.T) {
	e := newTestEnv(t, "")
	w := e.do(t, http.MethodPost, "/webhooks/provider", gin.H{
		"event": "call_started",
		"call":  gin.H{"call_id": "does-not-exist"},
	}, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if e.sessions.SummaryCount() != 0 {
		t.Fatalf("expected no summaries")
	}
}

func TestWebhook_MalformedAndIgnored(t *testing.T) {
	e := newTestEnv(t, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", w.Code)
	}

	w = e.do(t, http.MethodPost, "/webhooks/provider", gin.H{"event": "call_transferred", "call": gin.H{"call_id": "x"}}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for ignored event, got %d", w.Code)
	}
}

func TestWebhook_Signature(t *testing.T) {
	e := newTestEnv(t, "whsec")
	body := []byte(`{"event":"call_started","call":{"call_id":"does-not-exist"}}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(body))
	req.Header.Set(telephony.SignatureHeader, "deadbeef")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(body))
	req.Header.Set(telephony.SignatureHeader, "sha256="+hex.EncodeToString(telephony.Sign("whsec", body)))
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected signed event to reach processing (404 unknown call), got %d", w.Code)
	}
}

func TestRefreshCall_ReconcilesFromProvider(t *testing.T) {
	e := newTestEnv(t, "")
	e.dir.Put(calls.Target{Ref: calls.TargetRef{Kind: calls.TargetPatient, ID: "p1"}, Phone: "+15551234567"})
	tok := e.token(t)
	placed := decode[triggerCallResponse](t, e.do(t, http.MethodPost, "/v1/calls", gin.H{"target_id": "p1"}, tok))

	status := "not_connected"
	reason := "dial_no_answer"
	end := int64(5_000)
	e.provider.SetCall(telephony.CallPayload{CallID: placed.CallID, CallStatus: &status, DisconnectionReason: &reason, EndTimestamp: &end})

	w := e.do(t, http.MethodPost, "/v1/calls/"+placed.SessionID+"/refresh", nil, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := decode[callStatusResponse](t, w)
	if got.Session.Status != calls.StatusNoAnswer {
		t.Fatalf("expected no_answer, got %s", got.Session.Status)
	}
	if got.Summary == nil || got.Summary.Mode != summary.ModeFallback {
		t.Fatalf("expected fallback summary after terminal reconcile, got %+v", got.Summary)
	}

	w = e.do(t, http.MethodPost, "/v1/calls/missing/refresh", nil, tok)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestBulkCalls_StartPauseResume(t *testing.T) {
	e := newTestEnv(t, "")
	e.dir.Put(calls.Target{Ref: calls.TargetRef{Kind: calls.TargetLead, ID: "a"}, Phone: "+15550000001"})
	e.dir.Put(calls.Target{Ref: calls.TargetRef{Kind: calls.TargetLead, ID: "b"}, Phone: "+15550000002"})
	tok := e.token(t)

	w := e.do(t, http.MethodPost, "/v1/bulk-calls", nil, tok)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	started := decode[triggerBulkResponse](t, w)
	if started.LeadsToCall != 2 || !started.FirstCallInitiated {
		t.Fatalf("unexpected start response: %+v", started)
	}
	if n := len(e.provider.Requests()); n != 1 {
		t.Fatalf("expected exactly one call in flight, got %d", n)
	}

	w = e.do(t, http.MethodPost, "/v1/bulk-calls/"+started.BulkSessionID+"/pause", nil, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", w.Code)
	}
	if got := decode[bulk.BulkCallSession](t, w); got.Status != bulk.StatusPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}

	w = e.do(t, http.MethodPost, "/v1/bulk-calls/"+started.BulkSessionID+"/resume", nil, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", w.Code)
	}

	w = e.do(t, http.MethodGet, "/v1/bulk-calls/"+started.BulkSessionID+"/report", nil, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("report: expected 200, got %d", w.Code)
	}
	if rep := decode[reporting.CampaignReport](t, w); rep.Candidates != 2 || rep.Placed != 1 || rep.InProgressCalls != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}

	w = e.do(t, http.MethodGet, "/v1/bulk-calls/missing", nil, tok)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	var kinds []audit.EventType
	for _, ev := range e.audit.Events() {
		kinds = append(kinds, ev.Type)
	}
	want := []audit.EventType{audit.EventTypeCampaignStarted, audit.EventTypeCampaignPaused, audit.EventTypeCampaignResumed}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
}

func TestIssueToken(t *testing.T) {
	e := newTestEnv(t, "")
	w := e.do(t, http.MethodPost, "/v1/auth/token", gin.H{"user_id": "u1", "role": "admin"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	pair := decode[auth.TokenPair](t, w)
	if pair.AccessToken == "" {
		t.Fatalf("expected access token")
	}

	w = e.do(t, http.MethodPost, "/v1/auth/token", gin.H{"user_id": "u1", "role": "root"}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, "")
	w := e.do(t, http.MethodGet, "/healthz", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
