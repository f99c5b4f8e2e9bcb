package targets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"outbound-dialer/internal/calls"
)

// Directory resolves contact records owned by the patient and lead systems.
// The dialer only reads from it.
type Directory interface {
	Get(ctx context.Context, ref calls.TargetRef) (calls.Target, error)
	// ListUncalledLeads returns leads that have a phone number and no call session yet, oldest first.
	ListUncalledLeads(ctx context.Context) ([]calls.Target, error)
}

// NOTE: PostgresDirectory reads the patients and leads tables, which are owned elsewhere.
// Both expose (id, name, phone, created_at).
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Get(ctx context.Context, ref calls.TargetRef) (calls.Target, error) {
	if err := ref.Validate(); err != nil {
		return calls.Target{}, err
	}
	var q string
	switch ref.Kind {
	case calls.TargetPatient:
		q = `SELECT id, name, phone FROM patients WHERE id = $1`
	case calls.TargetLead:
		q = `SELECT id, name, phone FROM leads WHERE id = $1`
	}

	t := calls.Target{Ref: ref}
	var name, phone sql.NullString
	if err := d.db.QueryRowContext(ctx, q, ref.ID).Scan(&t.Ref.ID, &name, &phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Target{}, fmt.Errorf("%w: %s %s", calls.ErrNotFound, ref.Kind, ref.ID)
		}
		return calls.Target{}, err
	}
	t.Name = name.String
	t.Phone = phone.String
	return t, nil
}

func (d *PostgresDirectory) ListUncalledLeads(ctx context.Context) ([]calls.Target, error) {
	const q = `
SELECT l.id, l.name, l.phone
FROM leads l
WHERE COALESCE(l.phone, '') <> ''
  AND NOT EXISTS (
    SELECT 1 FROM call_sessions cs
    WHERE cs.target_kind = 'lead' AND cs.target_id = l.id
  )
ORDER BY l.created_at ASC, l.id ASC
`
	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calls.Target
	for rows.Next() {
		t := calls.Target{Ref: calls.TargetRef{Kind: calls.TargetLead}}
		var name sql.NullString
		if err := rows.Scan(&t.Ref.ID, &name, &t.Phone); err != nil {
			return nil, err
		}
		t.Name = name.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// MemoryDirectory is an in-memory Directory for tests and local runs.
// Call status is read from the session repository passed to NewMemoryDirectory.
type MemoryDirectory struct {
	mu       sync.Mutex
	targets  map[calls.TargetRef]calls.Target
	order    map[calls.TargetRef]int
	seq      int
	sessions calls.Repository
}

func NewMemoryDirectory(sessions calls.Repository) *MemoryDirectory {
	return &MemoryDirectory{
		targets:  map[calls.TargetRef]calls.Target{},
		order:    map[calls.TargetRef]int{},
		sessions: sessions,
	}
}

// Put adds or replaces a target. Insertion order is the listing order.
func (d *MemoryDirectory) Put(t calls.Target) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.order[t.Ref]; !ok {
		d.seq++
		d.order[t.Ref] = d.seq
	}
	d.targets[t.Ref] = t
}

// Delete removes a target, simulating a record deleted after a campaign snapshot.
func (d *MemoryDirectory) Delete(ref calls.TargetRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.targets, ref)
}

func (d *MemoryDirectory) Get(ctx context.Context, ref calls.TargetRef) (calls.Target, error) {
	if err := ref.Validate(); err != nil {
		return calls.Target{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.targets[ref]
	if !ok {
		return calls.Target{}, fmt.Errorf("%w: %s %s", calls.ErrNotFound, ref.Kind, ref.ID)
	}
	return t, nil
}

func (d *MemoryDirectory) ListUncalledLeads(ctx context.Context) ([]calls.Target, error) {
	d.mu.Lock()
	var leads []calls.Target
	for ref, t := range d.targets {
		if ref.Kind == calls.TargetLead && t.Phone != "" {
			leads = append(leads, t)
		}
	}
	sort.Slice(leads, func(i, j int) bool { return d.order[leads[i].Ref] < d.order[leads[j].Ref] })
	d.mu.Unlock()

	out := leads[:0]
	for _, t := range leads {
		called, err := d.sessions.ExistsForTarget(ctx, t.Ref)
		if err != nil {
			return nil, err
		}
		if !called {
			out = append(out, t)
		}
	}
	return out, nil
}
