package bulk

import (
	"context"
	"sync"
	"time"

	"outbound-dialer/internal/calls"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
// Update holds the repository mutex while fn runs, mirroring the row lock.
type MemoryRepo struct {
	mu    sync.Mutex
	items map[string]BulkCallSession
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: map[string]BulkCallSession{}, clock: time.Now}
}

func (r *MemoryRepo) Create(ctx context.Context, b BulkCallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ID == "" {
		return ErrInvalidTransition
	}
	r.items[b.ID] = clone(b)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (BulkCallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.items[id]
	if !ok {
		return BulkCallSession{}, ErrNotFound
	}
	return clone(b), nil
}

func (r *MemoryRepo) Update(ctx context.Context, id string, fn func(*BulkCallSession) error) (BulkCallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[id]
	if !ok {
		return BulkCallSession{}, ErrNotFound
	}
	b := clone(cur)
	if err := fn(&b); err != nil {
		return BulkCallSession{}, err
	}
	b.UpdatedAt = r.clock().UTC()
	r.items[id] = clone(b)
	return b, nil
}

func clone(b BulkCallSession) BulkCallSession {
	b.LeadsData = append([]calls.Target(nil), b.LeadsData...)
	b.CallResults = append([]CallResult(nil), b.CallResults...)
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		b.CompletedAt = &t
	}
	return b
}
