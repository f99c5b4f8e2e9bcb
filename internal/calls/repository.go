package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"outbound-dialer/pkg/utils"
)

// Repository persists call sessions and their summaries.
type Repository interface {
	Create(ctx context.Context, s CallSession) error
	Get(ctx context.Context, id string) (CallSession, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (CallSession, error)
	// Update locks the session, runs fn on a copy and persists it when fn reports a change.
	// Concurrent deliveries for the same call are serialized.
	Update(ctx context.Context, providerCallID string, fn func(*CallSession) (bool, error)) (CallSession, error)
	ExistsForTarget(ctx context.Context, ref TargetRef) (bool, error)
	ListByBulkSession(ctx context.Context, bulkSessionID string) ([]CallSession, error)

	GetSummary(ctx context.Context, sessionID string) (CallSummary, bool, error)
	// UpsertSummary writes the one summary for a terminal session. It returns
	// ErrNotTerminal when the session is missing or not yet terminal.
	UpsertSummary(ctx context.Context, sum CallSummary) error
}

// NOTE: PostgresRepo assumes the call_sessions and call_summaries tables from
// migrations/001_init.sql, including UNIQUE (provider_call_id) and a primary key
// on call_summaries.session_id.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const sessionColumns = `
id, provider_call_id, target_kind, target_id, bulk_session_id, from_number, to_number, agent_id,
status, provider_status, start_timestamp, end_timestamp, duration_ms, transcript, transcript_object,
recording_url, disconnection_reason, analysis, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (CallSession, error) {
	var (
		s                       CallSession
		start, end, duration    sql.NullInt64
		transcriptObj, analysis []byte
	)
	if err := row.Scan(
		&s.ID,
		&s.ProviderCallID,
		&s.Target.Kind,
		&s.Target.ID,
		&s.BulkSessionID,
		&s.FromNumber,
		&s.ToNumber,
		&s.AgentID,
		&s.Status,
		&s.ProviderStatus,
		&start,
		&end,
		&duration,
		&s.Transcript,
		&transcriptObj,
		&s.RecordingURL,
		&s.DisconnectionReason,
		&analysis,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, ErrNotFound
		}
		return CallSession{}, err
	}
	s.StartTimestamp = fromNullInt(start)
	s.EndTimestamp = fromNullInt(end)
	s.DurationMS = fromNullInt(duration)
	if len(transcriptObj) > 0 {
		s.TranscriptObject = json.RawMessage(append([]byte(nil), transcriptObj...))
	}
	if len(analysis) > 0 {
		s.Analysis = json.RawMessage(append([]byte(nil), analysis...))
	}
	return s, nil
}

func (r *PostgresRepo) Create(ctx context.Context, s CallSession) error {
	const q = `
INSERT INTO call_sessions (
  id, provider_call_id, target_kind, target_id, bulk_session_id, from_number, to_number, agent_id,
  status, provider_status, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
	_, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.ProviderCallID,
		string(s.Target.Kind),
		s.Target.ID,
		s.BulkSessionID,
		s.FromNumber,
		s.ToNumber,
		s.AgentID,
		string(s.Status),
		s.ProviderStatus,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return fmt.Errorf("%w: duplicate provider call id %q", ErrInvalidArgument, s.ProviderCallID)
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (CallSession, error) {
	q := `SELECT` + sessionColumns + `
FROM call_sessions
WHERE id = $1
`
	return scanSession(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (CallSession, error) {
	q := `SELECT` + sessionColumns + `
FROM call_sessions
WHERE provider_call_id = $1
`
	return scanSession(r.db.QueryRowContext(ctx, q, providerCallID))
}

func (r *PostgresRepo) Update(ctx context.Context, providerCallID string, fn func(*CallSession) (bool, error)) (CallSession, error) {
	var out CallSession
	err := utils.WithRowLock(ctx, r.db, utils.DefaultLockTimeout, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the session row so overlapping webhook deliveries merge one at a time.
		q := `SELECT` + sessionColumns + `
FROM call_sessions
WHERE provider_call_id = $1
FOR UPDATE
`
		s, err := scanSession(tx.QueryRowContext(ctx, q, providerCallID))
		if err != nil {
			return err
		}
		changed, err := fn(&s)
		if err != nil {
			return err
		}
		if !changed {
			out = s
			return nil
		}
		s.UpdatedAt = r.clock().UTC()

		const u = `
UPDATE call_sessions SET
  status = $2,
  provider_status = $3,
  start_timestamp = $4,
  end_timestamp = $5,
  duration_ms = $6,
  transcript = $7,
  transcript_object = $8,
  recording_url = $9,
  disconnection_reason = $10,
  analysis = $11,
  updated_at = $12
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, u,
			s.ID,
			string(s.Status),
			s.ProviderStatus,
			toNullInt(s.StartTimestamp),
			toNullInt(s.EndTimestamp),
			toNullInt(s.DurationMS),
			s.Transcript,
			nullJSON(s.TranscriptObject),
			s.RecordingURL,
			s.DisconnectionReason,
			nullJSON(s.Analysis),
			s.UpdatedAt,
		); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return CallSession{}, err
	}
	return out, nil
}

func (r *PostgresRepo) ExistsForTarget(ctx context.Context, ref TargetRef) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM call_sessions WHERE target_kind = $1 AND target_id = $2
)
`
	var ok bool
	if err := r.db.QueryRowContext(ctx, q, string(ref.Kind), ref.ID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *PostgresRepo) ListByBulkSession(ctx context.Context, bulkSessionID string) ([]CallSession, error) {
	q := `SELECT` + sessionColumns + `
FROM call_sessions
WHERE bulk_session_id = $1
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, bulkSessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) GetSummary(ctx context.Context, sessionID string) (CallSummary, bool, error) {
	const q = `
SELECT session_id, summary, key_points, concerning_flags, health_metrics, confidence_score, mode, created_at, updated_at
FROM call_summaries
WHERE session_id = $1
`
	var (
		sum                       CallSummary
		keyPoints, flags, metrics []byte
	)
	err := r.db.QueryRowContext(ctx, q, sessionID).Scan(
		&sum.SessionID,
		&sum.Summary,
		&keyPoints,
		&flags,
		&metrics,
		&sum.ConfidenceScore,
		&sum.Mode,
		&sum.CreatedAt,
		&sum.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSummary{}, false, nil
		}
		return CallSummary{}, false, err
	}
	if err := decodeJSON(keyPoints, &sum.KeyPoints); err != nil {
		return CallSummary{}, false, fmt.Errorf("decode key_points: %w", err)
	}
	if err := decodeJSON(flags, &sum.ConcerningFlags); err != nil {
		return CallSummary{}, false, fmt.Errorf("decode concerning_flags: %w", err)
	}
	if err := decodeJSON(metrics, &sum.HealthMetrics); err != nil {
		return CallSummary{}, false, fmt.Errorf("decode health_metrics: %w", err)
	}
	return sum, true, nil
}

func (r *PostgresRepo) UpsertSummary(ctx context.Context, sum CallSummary) error {
	keyPoints, err := json.Marshal(nonNilStrings(sum.KeyPoints))
	if err != nil {
		return err
	}
	flags, err := json.Marshal(nonNilStrings(sum.ConcerningFlags))
	if err != nil {
		return err
	}
	metrics := sum.HealthMetrics
	if metrics == nil {
		metrics = map[string]any{}
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return err
	}
	now := r.clock().UTC()

	// The EXISTS guard keeps summaries off sessions that are still in flight.
	q := `
INSERT INTO call_summaries (
  session_id, summary, key_points, concerning_flags, health_metrics, confidence_score, mode, created_at, updated_at
)
SELECT $1,$2,$3,$4,$5,$6,$7,$8,$8
WHERE EXISTS (
  SELECT 1 FROM call_sessions WHERE id = $1 AND status IN (` + terminalStatusList + `)
)
ON CONFLICT (session_id)
DO UPDATE SET summary = EXCLUDED.summary,
              key_points = EXCLUDED.key_points,
              concerning_flags = EXCLUDED.concerning_flags,
              health_metrics = EXCLUDED.health_metrics,
              confidence_score = EXCLUDED.confidence_score,
              mode = EXCLUDED.mode,
              updated_at = EXCLUDED.updated_at
`
	res, err := r.db.ExecContext(ctx, q,
		sum.SessionID,
		sum.Summary,
		keyPoints,
		flags,
		metricsJSON,
		sum.ConfidenceScore,
		sum.Mode,
		now,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotTerminal
	}
	return nil
}

// terminalStatusList renders TerminalStatuses as a quoted SQL list.
var terminalStatusList = func() string {
	parts := make([]string, 0, len(TerminalStatuses))
	for _, s := range TerminalStatuses {
		parts = append(parts, "'"+string(s)+"'")
	}
	return strings.Join(parts, ",")
}()

func fromNullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func toNullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullJSON(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return []byte(v)
}

func decodeJSON(b []byte, dst any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
