package bulk

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"outbound-dialer/internal/calls"
	"outbound-dialer/pkg/utils"
)

// Repository persists campaigns. Update is the only way to mutate one and
// must serialize writers per campaign.
type Repository interface {
	Create(ctx context.Context, b BulkCallSession) error
	Get(ctx context.Context, id string) (BulkCallSession, error)
	// Update locks the campaign, runs fn on a copy and writes it back when fn returns nil.
	// If fn returns an error nothing is written and the error is returned.
	Update(ctx context.Context, id string, fn func(*BulkCallSession) error) (BulkCallSession, error)
}

// NOTE: PostgresRepo assumes the bulk_call_sessions table from migrations/001_init.sql.
// leads_data and call_results are JSONB columns.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const bulkColumns = `
id, agent_id, leads_data, current_index, status, completed_calls, successful_calls, failed_calls,
no_answer_calls, busy_calls, call_results, active_session_id, error, created_by, created_at, updated_at, completed_at`

func scanBulk(row interface{ Scan(...any) error }) (BulkCallSession, error) {
	var (
		b              BulkCallSession
		leads, results []byte
		completedAt    sql.NullTime
	)
	if err := row.Scan(
		&b.ID,
		&b.AgentID,
		&leads,
		&b.CurrentIndex,
		&b.Status,
		&b.CompletedCalls,
		&b.SuccessfulCalls,
		&b.FailedCalls,
		&b.NoAnswerCalls,
		&b.BusyCalls,
		&results,
		&b.ActiveSessionID,
		&b.Error,
		&b.CreatedBy,
		&b.CreatedAt,
		&b.UpdatedAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BulkCallSession{}, ErrNotFound
		}
		return BulkCallSession{}, err
	}
	if len(leads) > 0 {
		if err := json.Unmarshal(leads, &b.LeadsData); err != nil {
			return BulkCallSession{}, fmt.Errorf("decode leads_data: %w", err)
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &b.CallResults); err != nil {
			return BulkCallSession{}, fmt.Errorf("decode call_results: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	return b, nil
}

func (r *PostgresRepo) Create(ctx context.Context, b BulkCallSession) error {
	leads, results, err := encodeLists(b)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO bulk_call_sessions (
  id, agent_id, leads_data, current_index, status, completed_calls, successful_calls, failed_calls,
  no_answer_calls, busy_calls, call_results, active_session_id, error, created_by, created_at, updated_at, completed_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
)
`
	_, err = r.db.ExecContext(ctx, q,
		b.ID,
		b.AgentID,
		leads,
		b.CurrentIndex,
		string(b.Status),
		b.CompletedCalls,
		b.SuccessfulCalls,
		b.FailedCalls,
		b.NoAnswerCalls,
		b.BusyCalls,
		results,
		b.ActiveSessionID,
		b.Error,
		b.CreatedBy,
		b.CreatedAt,
		b.UpdatedAt,
		nullTime(b.CompletedAt),
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (BulkCallSession, error) {
	q := `SELECT` + bulkColumns + `
FROM bulk_call_sessions
WHERE id = $1
`
	return scanBulk(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) Update(ctx context.Context, id string, fn func(*BulkCallSession) error) (BulkCallSession, error) {
	var out BulkCallSession
	err := utils.WithRowLock(ctx, r.db, utils.DefaultLockTimeout, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the campaign row; cursor moves and placements are serialized on it.
		q := `SELECT` + bulkColumns + `
FROM bulk_call_sessions
WHERE id = $1
FOR UPDATE
`
		b, err := scanBulk(tx.QueryRowContext(ctx, q, id))
		if err != nil {
			return err
		}
		if err := fn(&b); err != nil {
			return err
		}
		b.UpdatedAt = r.clock().UTC()

		// leads_data is immutable and not rewritten.
		_, results, err := encodeLists(b)
		if err != nil {
			return err
		}
		const u = `
UPDATE bulk_call_sessions SET
  current_index = $2,
  status = $3,
  completed_calls = $4,
  successful_calls = $5,
  failed_calls = $6,
  no_answer_calls = $7,
  busy_calls = $8,
  call_results = $9,
  active_session_id = $10,
  error = $11,
  updated_at = $12,
  completed_at = $13
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, u,
			b.ID,
			b.CurrentIndex,
			string(b.Status),
			b.CompletedCalls,
			b.SuccessfulCalls,
			b.FailedCalls,
			b.NoAnswerCalls,
			b.BusyCalls,
			results,
			b.ActiveSessionID,
			b.Error,
			b.UpdatedAt,
			nullTime(b.CompletedAt),
		); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return BulkCallSession{}, err
	}
	return out, nil
}

func encodeLists(b BulkCallSession) ([]byte, []byte, error) {
	leadsData := b.LeadsData
	if leadsData == nil {
		leadsData = []calls.Target{}
	}
	leads, err := json.Marshal(leadsData)
	if err != nil {
		return nil, nil, fmt.Errorf("encode leads_data: %w", err)
	}
	callResults := b.CallResults
	if callResults == nil {
		callResults = []CallResult{}
	}
	results, err := json.Marshal(callResults)
	if err != nil {
		return nil, nil, fmt.Errorf("encode call_results: %w", err)
	}
	return leads, results, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
