package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outbound-dialer/internal/observability"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/pkg/logger"

	"github.com/google/uuid"
)

// Dialer places outbound calls and records the resulting sessions.
// It is the only writer that creates CallSession rows.
type Dialer struct {
	provider       telephony.Provider
	repo           Repository
	metrics        *observability.Metrics
	fromNumber     string
	defaultAgentID string

	clock func() time.Time
	newID func() string
}

type DialerConfig struct {
	FromNumber     string
	DefaultAgentID string
}

func NewDialer(provider telephony.Provider, repo Repository, metrics *observability.Metrics, cfg DialerConfig) *Dialer {
	return &Dialer{
		provider:       provider,
		repo:           repo,
		metrics:        metrics,
		fromNumber:     cfg.FromNumber,
		defaultAgentID: cfg.DefaultAgentID,
		clock:          time.Now,
		newID:          uuid.NewString,
	}
}

type PlaceRequest struct {
	Target  Target
	AgentID string
	// BulkSessionID ties the call to a campaign; empty for single calls.
	BulkSessionID string
	// SessionID is the id to give the new session. Campaigns reserve it before dialing.
	// A fresh id is generated when empty.
	SessionID string
}

// Place validates the target, creates the provider call and persists an initiated session.
//
// Validation failures wrap ErrInvalidArgument or telephony.ErrInvalidPhone and happen before
// any provider request. Provider failures wrap telephony.ErrProvider.
func (d *Dialer) Place(ctx context.Context, req PlaceRequest) (CallSession, error) {
	origin := "single"
	if req.BulkSessionID != "" {
		origin = "bulk"
	}

	if err := req.Target.Ref.Validate(); err != nil {
		d.metrics.CallPlaced(origin, "invalid")
		return CallSession{}, fmt.Errorf("%w: target kind and id are required", ErrInvalidArgument)
	}
	to, err := telephony.NormalizePhone(req.Target.Phone)
	if err != nil {
		d.metrics.CallPlaced(origin, "invalid")
		return CallSession{}, err
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = d.defaultAgentID
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = d.newID()
	}
	meta := map[string]string{
		"session_id":  sessionID,
		"target_kind": string(req.Target.Ref.Kind),
		"target_id":   req.Target.Ref.ID,
	}
	if req.BulkSessionID != "" {
		meta["bulk_session_id"] = req.BulkSessionID
	}

	res, err := d.provider.CreateCall(ctx, telephony.CreateCallRequest{
		From:    d.fromNumber,
		To:      to,
		AgentID: agentID,
		DynamicVariables: map[string]string{
			"name":        req.Target.Name,
			"target_kind": string(req.Target.Ref.Kind),
		},
		Metadata: meta,
	})
	if err != nil {
		d.metrics.CallPlaced(origin, "provider_error")
		return CallSession{}, err
	}

	now := d.clock().UTC()
	s := CallSession{
		ID:             sessionID,
		ProviderCallID: res.ProviderCallID,
		Target:         req.Target.Ref,
		BulkSessionID:  req.BulkSessionID,
		FromNumber:     d.fromNumber,
		ToNumber:       to,
		AgentID:        agentID,
		Status:         StatusInitiated,
		ProviderStatus: res.Status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := d.repo.Create(ctx, s); err != nil {
		d.metrics.CallPlaced(origin, "error")
		// The provider call exists but cannot be correlated; surface it loudly.
		logger.From(ctx).Error("call placed but session not persisted",
			"call_id", res.ProviderCallID,
			"session_id", sessionID,
			"err", err,
		)
		return CallSession{}, fmt.Errorf("persist session: %w", err)
	}

	d.metrics.CallPlaced(origin, "ok")
	logger.From(ctx).Info("call placed",
		"call_id", s.ProviderCallID,
		"session_id", s.ID,
		"target_kind", s.Target.Kind,
		"target_id", s.Target.ID,
	)
	return s, nil
}

// IsCandidateError reports whether err is local to one target (bad input or provider rejection)
// rather than a failure of the system itself.
func IsCandidateError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrAlreadyCalled) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, telephony.ErrInvalidPhone) ||
		errors.Is(err, telephony.ErrProvider)
}
