package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps events in process. Used by tests and when no database is configured.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of every event in append order.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ForCampaign returns the events recorded against one campaign.
func (r *MemoryRepo) ForCampaign(bulkSessionID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.BulkSessionID == bulkSessionID {
			out = append(out, e)
		}
	}
	return out
}
