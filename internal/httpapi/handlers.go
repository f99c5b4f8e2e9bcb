package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/auth"
	"outbound-dialer/internal/bulk"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/rbac"
	"outbound-dialer/internal/reporting"
	"outbound-dialer/internal/targets"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/internal/webhook"
	"outbound-dialer/pkg/logger"
	"outbound-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
)

type CallPlacer interface {
	Place(ctx context.Context, req calls.PlaceRequest) (calls.CallSession, error)
}

type CampaignService interface {
	StartUncalledLeads(ctx context.Context, agentID, createdBy string) (bulk.BulkCallSession, error)
	Get(ctx context.Context, id string) (bulk.BulkCallSession, error)
	Pause(ctx context.Context, id string) (bulk.BulkCallSession, error)
	Resume(ctx context.Context, id string) (bulk.BulkCallSession, error)
}

type CampaignReporter interface {
	CampaignReport(ctx context.Context, bulkSessionID string) (reporting.CampaignReport, error)
}

type EventProcessor interface {
	Process(ctx context.Context, ev telephony.WebhookEvent) (webhook.Result, error)
	Reconcile(ctx context.Context, sessionID string) (webhook.Result, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth *auth.Manager
	// AllowTokenIssue enables POST /v1/auth/token. Never set in production.
	AllowTokenIssue bool

	DB        *sql.DB
	Directory targets.Directory
	Sessions  calls.Repository
	Dialer    CallPlacer
	Campaigns CampaignService
	Reports   CampaignReporter
	Events    EventProcessor
	Audit     *audit.Service

	WebhookSecret string
}

// --- Health ---

func (h Handlers) Health(c *gin.Context) {
	if h.DB != nil {
		if err := utils.HealthCheck(c.Request.Context(), h.DB, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Auth ---

type tokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// IssueToken issues a token pair for local tooling.
//
// NOTE: This endpoint does not validate credentials. It is registered only outside production
// and still refuses when AllowTokenIssue is false.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil || !h.AllowTokenIssue {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "not found", Category: CategoryNotFound})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortValidation(c, "invalid json")
		return
	}
	if req.UserID == "" || !rbac.IsKnownRole(req.Role) {
		abortValidation(c, "user_id and a role of admin, operator or viewer are required")
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Calls ---

type triggerCallRequest struct {
	TargetID string `json:"target_id"`
	// TargetKind defaults to patient.
	TargetKind string `json:"target_kind,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
}

type triggerCallResponse struct {
	CallID    string       `json:"call_id"`
	SessionID string       `json:"session_id"`
	ToNumber  string       `json:"to_number"`
	Status    calls.Status `json:"status"`
}

// TriggerCall places a single call to one patient or lead.
func (h Handlers) TriggerCall(c *gin.Context) {
	var req triggerCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortValidation(c, "invalid json")
		return
	}
	ref := calls.TargetRef{Kind: calls.TargetKind(strings.ToLower(strings.TrimSpace(req.TargetKind))), ID: strings.TrimSpace(req.TargetID)}
	if ref.Kind == "" {
		ref.Kind = calls.TargetPatient
	}
	if err := ref.Validate(); err != nil {
		abortValidation(c, "target_id is required and target_kind must be patient or lead")
		return
	}

	ctx := c.Request.Context()
	target, err := h.Directory.Get(ctx, ref)
	if err != nil {
		abortWithError(c, err)
		return
	}
	s, err := h.Dialer.Place(ctx, calls.PlaceRequest{Target: target, AgentID: req.AgentID})
	if err != nil {
		abortWithError(c, err)
		return
	}

	h.logAudit(c, func(a audit.Actor) error {
		return h.Audit.LogCallTriggered(ctx, a, s.ID, ref.ID)
	})
	c.JSON(http.StatusCreated, triggerCallResponse{
		CallID:    s.ProviderCallID,
		SessionID: s.ID,
		ToNumber:  s.ToNumber,
		Status:    s.Status,
	})
}

type callStatusResponse struct {
	Session calls.CallSession  `json:"session"`
	Summary *calls.CallSummary `json:"summary,omitempty"`
}

func (h Handlers) GetCall(c *gin.Context) {
	h.writeCallStatus(c, c.Param("session_id"))
}

// RefreshCall reconciles a session from the provider's call details.
func (h Handlers) RefreshCall(c *gin.Context) {
	id := c.Param("session_id")
	if _, err := h.Events.Reconcile(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	h.logAudit(c, func(a audit.Actor) error {
		return h.Audit.LogCallReconciled(c.Request.Context(), a, id)
	})
	h.writeCallStatus(c, id)
}

func (h Handlers) writeCallStatus(c *gin.Context, id string) {
	ctx := c.Request.Context()
	s, err := h.Sessions.Get(ctx, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	resp := callStatusResponse{Session: s}
	sum, ok, err := h.Sessions.GetSummary(ctx, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if ok {
		resp.Summary = &sum
	}
	c.JSON(http.StatusOK, resp)
}

// --- Bulk ---

type triggerBulkRequest struct {
	AgentID string `json:"agent_id,omitempty"`
}

type triggerBulkResponse struct {
	BulkSessionID      string      `json:"bulk_session_id"`
	LeadsToCall        int         `json:"leads_to_call"`
	FirstCallInitiated bool        `json:"first_call_initiated"`
	Status             bulk.Status `json:"status"`
}

// TriggerBulkCalls starts a campaign over every lead that has not been called yet.
func (h Handlers) TriggerBulkCalls(c *gin.Context) {
	var req triggerBulkRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortValidation(c, "invalid json")
			return
		}
	}
	actor := actorFrom(c)
	b, err := h.Campaigns.StartUncalledLeads(c.Request.Context(), req.AgentID, actor.UserID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.logAudit(c, func(a audit.Actor) error {
		return h.Audit.LogCampaign(c.Request.Context(), audit.EventTypeCampaignStarted, a, b.ID, "campaign started")
	})
	c.JSON(http.StatusCreated, triggerBulkResponse{
		BulkSessionID:      b.ID,
		LeadsToCall:        b.TotalCalls(),
		FirstCallInitiated: b.ActiveSessionID != "",
		Status:             b.Status,
	})
}

func (h Handlers) GetBulk(c *gin.Context) {
	b, err := h.Campaigns.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// GetBulkReport aggregates the sessions a campaign placed.
func (h Handlers) GetBulkReport(c *gin.Context) {
	r, err := h.Reports.CampaignReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h Handlers) PauseBulk(c *gin.Context) {
	b, err := h.Campaigns.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.logAudit(c, func(a audit.Actor) error {
		return h.Audit.LogCampaign(c.Request.Context(), audit.EventTypeCampaignPaused, a, b.ID, "campaign paused")
	})
	c.JSON(http.StatusOK, b)
}

func (h Handlers) ResumeBulk(c *gin.Context) {
	b, err := h.Campaigns.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.logAudit(c, func(a audit.Actor) error {
		return h.Audit.LogCampaign(c.Request.Context(), audit.EventTypeCampaignResumed, a, b.ID, "campaign resumed")
	})
	c.JSON(http.StatusOK, b)
}

// --- helpers ---

func actorFrom(c *gin.Context) audit.Actor {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	return audit.Actor{UserID: uid, Role: role, IP: c.ClientIP()}
}

// logAudit records an audit event best-effort.
func (h Handlers) logAudit(c *gin.Context, fn func(audit.Actor) error) {
	if h.Audit == nil {
		return
	}
	if err := fn(actorFrom(c)); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
}
