package calls

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository useful for tests and local runs without Postgres.
type MemoryRepo struct {
	mu         sync.Mutex
	byID       map[string]CallSession
	byProvider map[string]string
	summaries  map[string]CallSummary
	clock      func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:       map[string]CallSession{},
		byProvider: map[string]string{},
		summaries:  map[string]CallSummary{},
		clock:      time.Now,
	}
}

func (r *MemoryRepo) Create(ctx context.Context, s CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == "" || s.ProviderCallID == "" {
		return ErrInvalidArgument
	}
	if _, ok := r.byProvider[s.ProviderCallID]; ok {
		return ErrInvalidArgument
	}
	r.byID[s.ID] = cloneSession(s)
	r.byProvider[s.ProviderCallID] = s.ID
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *MemoryRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byProvider[providerCallID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return cloneSession(r.byID[id]), nil
}

func (r *MemoryRepo) Update(ctx context.Context, providerCallID string, fn func(*CallSession) (bool, error)) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byProvider[providerCallID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	s := cloneSession(r.byID[id])
	changed, err := fn(&s)
	if err != nil {
		return CallSession{}, err
	}
	if changed {
		s.UpdatedAt = r.clock().UTC()
		r.byID[id] = cloneSession(s)
	}
	return s, nil
}

func (r *MemoryRepo) ExistsForTarget(ctx context.Context, ref TargetRef) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.Target == ref {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) ListByBulkSession(ctx context.Context, bulkSessionID string) ([]CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallSession
	for _, s := range r.byID {
		if s.BulkSessionID == bulkSessionID {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) GetSummary(ctx context.Context, sessionID string) (CallSummary, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum, ok := r.summaries[sessionID]
	return sum, ok, nil
}

func (r *MemoryRepo) UpsertSummary(ctx context.Context, sum CallSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sum.SessionID]
	if !ok || !s.Status.IsTerminal() {
		return ErrNotTerminal
	}
	now := r.clock().UTC()
	if prev, ok := r.summaries[sum.SessionID]; ok {
		sum.CreatedAt = prev.CreatedAt
	} else {
		sum.CreatedAt = now
	}
	sum.UpdatedAt = now
	r.summaries[sum.SessionID] = sum
	return nil
}

// SummaryCount returns how many summaries are stored.
func (r *MemoryRepo) SummaryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.summaries)
}

func cloneSession(s CallSession) CallSession {
	s.StartTimestamp = cloneInt(s.StartTimestamp)
	s.EndTimestamp = cloneInt(s.EndTimestamp)
	s.DurationMS = cloneInt(s.DurationMS)
	if s.TranscriptObject != nil {
		s.TranscriptObject = append(json.RawMessage(nil), s.TranscriptObject...)
	}
	if s.Analysis != nil {
		s.Analysis = append(json.RawMessage(nil), s.Analysis...)
	}
	return s
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
