package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

var ErrInvalidEvent = errors.New("audit: invalid event")

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogCallTriggered records a single call placed on request.
func (s *Service) LogCallTriggered(ctx context.Context, a Actor, callSessionID, targetID string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeCallTriggered,
		ActorUserID:   a.UserID,
		ActorRole:     a.Role,
		IPAddress:     a.IP,
		CallSessionID: callSessionID,
		Message:       "call triggered for target " + targetID,
	})
}

// LogCallReconciled records a manual refresh of a call from provider details.
func (s *Service) LogCallReconciled(ctx context.Context, a Actor, callSessionID string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeCallReconciled,
		ActorUserID:   a.UserID,
		ActorRole:     a.Role,
		IPAddress:     a.IP,
		CallSessionID: callSessionID,
		Message:       "call reconciled",
	})
}

// LogCampaign records a campaign control action (start, pause, resume).
func (s *Service) LogCampaign(ctx context.Context, typ EventType, a Actor, bulkSessionID, message string) error {
	switch typ {
	case EventTypeCampaignStarted, EventTypeCampaignPaused, EventTypeCampaignResumed:
	default:
		return ErrInvalidEvent
	}
	return s.Append(ctx, Event{
		Type:          typ,
		ActorUserID:   a.UserID,
		ActorRole:     a.Role,
		IPAddress:     a.IP,
		BulkSessionID: bulkSessionID,
		Message:       message,
	})
}

// PostgresRepo appends events to audit_events. The table should have an INSERT-only policy.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, actor_user_id, actor_role, ip_address, bulk_session_id, call_session_id, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		string(e.Type),
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.BulkSessionID,
		e.CallSessionID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
