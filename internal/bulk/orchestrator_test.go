package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/targets"
	"outbound-dialer/internal/telephony"
)

type harness struct {
	orch     *Orchestrator
	repo     *MemoryRepo
	sessions *calls.MemoryRepo
	dir      *targets.MemoryDirectory
	provider *telephony.FakeProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sessions := calls.NewMemoryRepo()
	dir := targets.NewMemoryDirectory(sessions)
	provider := telephony.NewFakeProvider()
	dialer := calls.NewDialer(provider, sessions, nil, calls.DialerConfig{FromNumber: "+15550000000"})
	repo := NewMemoryRepo()
	return &harness{
		orch:     NewOrchestrator(repo, sessions, dir, dialer, Options{}),
		repo:     repo,
		sessions: sessions,
		dir:      dir,
		provider: provider,
	}
}

func lead(id, phone string) calls.Target {
	return calls.Target{Ref: calls.TargetRef{Kind: calls.TargetLead, ID: id}, Name: "Lead " + id, Phone: phone}
}

func (h *harness) addLeads(leads ...calls.Target) []calls.Target {
	for _, l := range leads {
		h.dir.Put(l)
	}
	return leads
}

// endActive moves the active call to a terminal status without notifying the orchestrator.
func (h *harness) endActive(t *testing.T, bulkID string, status calls.Status, transcript string) calls.CallSession {
	t.Helper()
	ctx := context.Background()
	b, err := h.repo.Get(ctx, bulkID)
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if b.ActiveSessionID == "" {
		t.Fatalf("expected an active call")
	}
	s, err := h.sessions.Get(ctx, b.ActiveSessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	s, err = h.sessions.Update(ctx, s.ProviderCallID, func(s *calls.CallSession) (bool, error) {
		s.Status = status
		s.Transcript = transcript
		return true, nil
	})
	if err != nil {
		t.Fatalf("update session: %v", err)
	}
	return s
}

// finish ends the active call and notifies the orchestrator.
func (h *harness) finish(t *testing.T, bulkID string, status calls.Status, transcript string) BulkCallSession {
	t.Helper()
	out, err := h.orch.OnCallTerminal(context.Background(), h.endActive(t, bulkID, status, transcript))
	if err != nil {
		t.Fatalf("on call terminal: %v", err)
	}
	return out
}

// flaky swaps in a directory whose lookups can be made to fail transiently.
func (h *harness) flaky() *flakyDirectory {
	d := &flakyDirectory{Directory: h.dir, fails: map[string]int{}}
	h.orch.directory = d
	return d
}

var errConnReset = errors.New("db: connection reset")

type flakyDirectory struct {
	targets.Directory
	mu    sync.Mutex
	fails map[string]int
}

func (d *flakyDirectory) failNext(id string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fails[id] = n
}

func (d *flakyDirectory) Get(ctx context.Context, ref calls.TargetRef) (calls.Target, error) {
	d.mu.Lock()
	if d.fails[ref.ID] > 0 {
		d.fails[ref.ID]--
		d.mu.Unlock()
		return calls.Target{}, errConnReset
	}
	d.mu.Unlock()
	return d.Directory.Get(ctx, ref)
}

// failingUpdates fails the n-th Update without applying it, like a lost commit.
type failingUpdates struct {
	*MemoryRepo
	failAt int
	n      int
}

func (r *failingUpdates) Update(ctx context.Context, id string, fn func(*BulkCallSession) error) (BulkCallSession, error) {
	r.n++
	if r.n == r.failAt {
		return BulkCallSession{}, errors.New("db: commit failed")
	}
	return r.MemoryRepo.Update(ctx, id, fn)
}

type observingPlacer struct {
	inner  Placer
	during func(calls.PlaceRequest)
}

func (p *observingPlacer) Place(ctx context.Context, req calls.PlaceRequest) (calls.CallSession, error) {
	p.during(req)
	return p.inner.Place(ctx, req)
}

func (h *harness) assertAtMostOneInFlight(t *testing.T, bulkID string) {
	t.Helper()
	list, _ := h.sessions.ListByBulkSession(context.Background(), bulkID)
	open := 0
	for _, s := range list {
		if !s.Status.IsTerminal() {
			open++
		}
	}
	if open > 1 {
		t.Fatalf("expected at most one call in flight, got %d", open)
	}
}

func TestOrchestrator_SequentialCampaign(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	leads := h.addLeads(lead("A", "5550000001"), lead("B", "5550000002"), lead("C", "5550000003"))

	b, err := h.orch.StartCampaign(ctx, StartRequest{Candidates: leads, AgentID: "agent"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if b.Status != StatusInProgress || b.CurrentIndex != 0 || b.ActiveSessionID == "" {
		t.Fatalf("expected first call in flight, got %+v", b)
	}
	h.assertAtMostOneInFlight(t, b.ID)

	b = h.finish(t, b.ID, calls.StatusCompleted, "Agent: hi")
	if b.CurrentIndex != 1 || b.SuccessfulCalls != 1 || b.Status != StatusInProgress {
		t.Fatalf("after A: %+v", b)
	}
	if reqs := h.provider.Requests(); len(reqs) != 2 || reqs[1].To != "+15550000002" {
		t.Fatalf("expected call placed to B, got %+v", reqs)
	}
	h.assertAtMostOneInFlight(t, b.ID)

	b = h.finish(t, b.ID, calls.StatusNoAnswer, "")
	if b.CurrentIndex != 2 || b.NoAnswerCalls != 1 {
		t.Fatalf("after B: %+v", b)
	}
	h.assertAtMostOneInFlight(t, b.ID)

	b = h.finish(t, b.ID, calls.StatusBusy, "")
	if b.CurrentIndex != 3 || b.Status != StatusCompleted || b.BusyCalls != 1 {
		t.Fatalf("after C: %+v", b)
	}
	if b.CompletedCalls != 3 || len(b.CallResults) != 3 || b.ActiveSessionID != "" || b.CompletedAt == nil {
		t.Fatalf("unexpected final campaign %+v", b)
	}
	if n := len(h.provider.Requests()); n != 3 {
		t.Fatalf("expected no call after the last candidate, got %d requests", n)
	}
}

func TestOrchestrator_NCandidatesComplete(t *testing.T) {
	h := newHarness(t)
	const n = 7
	var leads []calls.Target
	for i := 0; i < n; i++ {
		leads = append(leads, lead(fmt.Sprintf("L%d", i), fmt.Sprintf("55500000%02d", i)))
	}
	h.addLeads(leads...)

	b, err := h.orch.StartCampaign(context.Background(), StartRequest{Candidates: leads})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < n; i++ {
		h.assertAtMostOneInFlight(t, b.ID)
		b = h.finish(t, b.ID, calls.StatusCompleted, "")
	}
	if b.CurrentIndex != n || b.Status != StatusCompleted {
		t.Fatalf("expected completed at index %d, got %+v", n, b)
	}
	if b.FailedCalls != n {
		t.Fatalf("completed calls without transcript count as failed, got %+v", b)
	}
}

func TestOrchestrator_DuplicateTerminalAdvancesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	leads := h.addLeads(lead("A", "5550000001"), lead("B", "5550000002"))

	b, _ := h.orch.StartCampaign(ctx, StartRequest{Candidates: leads})
	first, _ := h.sessions.Get(ctx, b.ActiveSessionID)
	first, _ = h.sessions.Update(ctx, first.ProviderCallID, func(s *calls.CallSession) (bool, error) {
		s.Status = calls.StatusCompleted
		s.Transcript = "hello"
		return true, nil
	})

	for i := 0; i < 3; i++ {
		if _, err := h.orch.OnCallTerminal(ctx, first); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	b, _ = h.repo.Get(ctx, b.ID)
	if b.CurrentIndex != 1 || b.SuccessfulCalls != 1 || b.CompletedCalls != 1 {
		t.Fatalf("expected single advance, got %+v", b)
	}
	if n := len(h.provider.Requests()); n != 2 {
		t.Fatalf("expected exactly one follow-up call, got %d requests", n)
	}
}

func TestOrchestrator_SkipsInvalidCandidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	valid := lead("ok", "5550000009")
	missing := lead("gone", "5550000001")
	badPhone := lead("bad", "123")
	rejected := lead("rej", "5550000002")
	called := lead("called", "5550000003")
	h.addLeads(valid, badPhone, rejected, called)
	h.provider.FailTo["+15550000002"] = true
	_ = h.sessions.Create(ctx, calls.CallSession{ID: "old", ProviderCallID: "old-call", Target: called.Ref, Status: calls.StatusCompleted})

	b, err := h.orch.StartCampaign(ctx, StartRequest{Candidates: []calls.Target{missing, badPhone, rejected, called, valid}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if b.CurrentIndex != 4 || b.Status != StatusInProgress || b.FailedCalls != 4 {
		t.Fatalf("expected four skips then a placed call, got %+v", b)
	}
	for _, r := range b.CallResults {
		if r.Outcome != OutcomeSkipped || r.Error == "" {
			t.Fatalf("expected skipped results with errors, got %+v", r)
		}
	}

	b = h.finish(t, b.ID, calls.StatusCompleted, "transcript")
	if b.Status != StatusCompleted || b.CurrentIndex != 5 {
		t.Fatalf("expected completed campaign, got %+v", b)
	}
}

func TestOrchestrator_AllCandidatesFail(t *testing.T) {
	h := newHarness(t)
	b, err := h.orch.StartCampaign(context.Background(), StartRequest{Candidates: []calls.Target{lead("x", "5550000001")}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if b.Status != StatusFailed || b.Error == "" || b.CurrentIndex != 1 {
		t.Fatalf("expected failed campaign, got %+v", b)
	}
}

func TestOrchestrator_EmptyCampaignCompletes(t *testing.T) {
	h := newHarness(t)
	b, err := h.orch.StartCampaign(context.Background(), StartRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if b.Status != StatusCompleted || b.TotalCalls() != 0 {
		t.Fatalf("expected completed empty campaign, got %+v", b)
	}
}

func TestOrchestrator_PauseResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	leads := h.addLeads(lead("A", "5550000001"), lead("B", "5550000002"))

	b, _ := h.orch.StartCampaign(ctx, StartRequest{Candidates: leads})
	if _, err := h.orch.Pause(ctx, b.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// The in-flight call still resolves and is counted, but nothing new is dialed.
	b = h.finish(t, b.ID, calls.StatusCompleted, "hi")
	if b.Status != StatusPaused || b.CurrentIndex != 1 || b.SuccessfulCalls != 1 {
		t.Fatalf("expected paused campaign at index 1, got %+v", b)
	}
	if n := len(h.provider.Requests()); n != 1 {
		t.Fatalf("expected no placement while paused, got %d", n)
	}

	b, err := h.orch.Resume(ctx, b.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if b.Status != StatusInProgress || b.ActiveSessionID == "" || b.CurrentIndex != 1 {
		t.Fatalf("expected call at cursor after resume, got %+v", b)
	}

	// Resuming again must not dial a second call.
	if _, err := h.orch.Resume(ctx, b.ID); err != nil {
		t.Fatalf("resume running: %v", err)
	}
	if n := len(h.provider.Requests()); n != 2 {
		t.Fatalf("expected exactly two placements, got %d", n)
	}

	b = h.finish(t, b.ID, calls.StatusCompleted, "hi")
	if _, err := h.orch.Pause(ctx, b.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition pausing completed campaign, got %v", err)
	}
	if _, err := h.orch.Resume(ctx, b.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition resuming completed campaign, got %v", err)
	}
}

func TestOrchestrator_DelayedNextCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	leads := h.addLeads(lead("A", "5550000001"), lead("B", "5550000002"))

	var scheduled func()
	var delay time.Duration
	h.orch.nextCallDelay = 2 * time.Second
	h.orch.after = func(d time.Duration, f func()) { delay, scheduled = d, f }

	b, _ := h.orch.StartCampaign(ctx, StartRequest{Candidates: leads})
	b = h.finish(t, b.ID, calls.StatusCompleted, "hi")
	if b.ActiveSessionID != "" || scheduled == nil || delay != 2*time.Second {
		t.Fatalf("expected placement to be scheduled, got %+v", b)
	}

	scheduled()
	b, _ = h.repo.Get(ctx, b.ID)
	if b.ActiveSessionID == "" {
		t.Fatalf("expected call placed after delay")
	}
}

type denyGuard struct{}

func (denyGuard) Acquire(context.Context, string, int) (bool, error) { return false, nil }
func (denyGuard) Release(context.Context, string, int) error         { return nil }

func TestOrchestrator_GuardHeldElsewhere(t *testing.T) {
	h := newHarness(t)
	h.orch.guard = denyGuard{}
	leads := h.addLeads(lead("A", "5550000001"))

	b, err := h.orch.StartCampaign(context.Background(), StartRequest{Candidates: leads})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if b.Status != StatusInitiated || b.ActiveSessionID != "" || len(h.provider.Requests()) != 0 {
		t.Fatalf("expected no placement while slot is held, got %+v", b)
	}
}

func TestOrchestrator_NotFound(t *testing.T) {
	h := newHarness(t)
	if _, err := h.orch.Pause(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOrchestrator_RedeliveryRetriesFailedPlacement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	leads := h.addLeads(lead("A", "5550000001"), lead("B", "5550000002"))
	dir := h.flaky()

	b, err := h.orch.StartCampaign(ctx, StartRequest{Candidates: leads})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	first := h.endActive(t, b.ID, calls.StatusCompleted, "hi")

	dir.failNext("B", 1)
	if _, err := h.orch.OnCallTerminal(ctx, first); !errors.Is(err, errConnReset) {
		t.Fatalf("expected placement error to surface, got %v", err)
	}
	b, _ = h.repo.Get(ctx, b.ID)
	if b.Status != StatusInProgress || b.CurrentIndex != 1 || b.ActiveSessionID != "" || b.Error == "" {
		t.Fatalf("expected cursor moved with nothing in flight, got %+v", b)
	}

	// The provider redelivers the same terminal event.
	if _, err := h.orch.OnCallTerminal(ctx, first); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	b, _ = h.repo.Get(ctx, b.ID)
	if b.ActiveSessionID == "" || b.CurrentIndex != 1 || len(b.CallResults) != 1 || b.Error != "" {
		t.Fatalf("expected B placed once without a second result, got %+v", b)
	}
	if reqs := h.provider.Requests(); len(reqs) != 2 || reqs[1].To != "+15550000002" {
		t.Fatalf("expected one call to B, got %+v", reqs)
	}
}

func TestOrchestrator_DelayedPlacementRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	leads := h.addLeads(lead("A", "5550000001"), lead("B", "5550000002"))
	dir := h.flaky()

	var queue []func()
	h.orch.nextCallDelay = time.Second
	h.orch.after = func(d time.Duration, f func()) { queue = append(queue, f) }
	runNext := func() {
		t.Helper()
		if len(queue) == 0 {
			t.Fatalf("expected a scheduled placement")
		}
		f := queue[0]
		queue = queue[1:]
		f()
	}

	b, _ := h.orch.StartCampaign(ctx, StartRequest{Candidates: leads})
	first := h.endActive(t, b.ID, calls.StatusCompleted, "hi")
	dir.failNext("B", maxDelayedAttempts)
	if _, err := h.orch.OnCallTerminal(ctx, first); err != nil {
		t.Fatalf("terminal: %v", err)
	}

	for i := 0; i < maxDelayedAttempts; i++ {
		runNext()
	}
	if len(queue) != 0 {
		t.Fatalf("expected retries to stop after %d attempts", maxDelayedAttempts)
	}
	b, _ = h.repo.Get(ctx, b.ID)
	if b.ActiveSessionID != "" || b.CurrentIndex != 1 {
		t.Fatalf("expected no call placed yet, got %+v", b)
	}

	// A redelivery schedules the placement again, which now succeeds.
	if _, err := h.orch.OnCallTerminal(ctx, first); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	runNext()
	b, _ = h.repo.Get(ctx, b.ID)
	if b.ActiveSessionID == "" || len(h.provider.Requests()) != 2 {
		t.Fatalf("expected B placed after retry, got %+v", b)
	}
}

func TestOrchestrator_DelayedPlacementRecoversOnRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	leads := h.addLeads(lead("A", "5550000001"), lead("B", "5550000002"))
	dir := h.flaky()

	var queue []func()
	h.orch.nextCallDelay = time.Second
	h.orch.after = func(d time.Duration, f func()) { queue = append(queue, f) }

	b, _ := h.orch.StartCampaign(ctx, StartRequest{Candidates: leads})
	dir.failNext("B", 1)
	h.finish(t, b.ID, calls.StatusCompleted, "hi")

	queue[0]()
	if len(queue) != 2 {
		t.Fatalf("expected the failed placement to be rescheduled, got %d entries", len(queue))
	}
	queue[1]()
	b, _ = h.repo.Get(ctx, b.ID)
	if b.ActiveSessionID == "" || b.Status != StatusInProgress {
		t.Fatalf("expected B placed on the second attempt, got %+v", b)
	}
}

func TestOrchestrator_StartFailureIsResumable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	leads := h.addLeads(lead("A", "5550000001"), lead("B", "5550000002"))
	h.flaky().failNext("A", 1)

	_, err := h.orch.StartCampaign(ctx, StartRequest{Candidates: leads})
	var startErr *StartError
	if !errors.As(err, &startErr) || !errors.Is(err, errConnReset) || startErr.BulkSessionID == "" {
		t.Fatalf("expected StartError naming the campaign, got %v", err)
	}

	b, err := h.repo.Get(ctx, startErr.BulkSessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.Status != StatusInitiated || b.ActiveSessionID != "" || b.CurrentIndex != 0 || b.Error == "" {
		t.Fatalf("expected initiated campaign with the failure recorded, got %+v", b)
	}
	if n := len(h.provider.Requests()); n != 0 {
		t.Fatalf("expected no provider call, got %d", n)
	}

	b, err = h.orch.Resume(ctx, b.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if b.Status != StatusInProgress || b.ActiveSessionID == "" || b.Error != "" {
		t.Fatalf("expected A placed after resume, got %+v", b)
	}
}

func TestOrchestrator_ReservesBeforeDialing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	leads := h.addLeads(lead("A", "5550000001"))

	dialer := calls.NewDialer(h.provider, h.sessions, nil, calls.DialerConfig{FromNumber: "+15550000000"})
	seen := 0
	h.orch.placer = &observingPlacer{inner: dialer, during: func(req calls.PlaceRequest) {
		seen++
		// Reading the campaign here would block if the row were still locked.
		cur, err := h.repo.Get(ctx, req.BulkSessionID)
		if err != nil || req.SessionID == "" || cur.ActiveSessionID != req.SessionID {
			t.Errorf("expected reservation %q persisted before dialing, got %+v err=%v", req.SessionID, cur, err)
		}
	}}

	b, err := h.orch.StartCampaign(ctx, StartRequest{Candidates: leads})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if seen != 1 {
		t.Fatalf("expected one dial, got %d", seen)
	}
	s, err := h.sessions.Get(ctx, b.ActiveSessionID)
	if err != nil || s.BulkSessionID != b.ID {
		t.Fatalf("expected session stored under the reserved id, got %+v err=%v", s, err)
	}
}

func TestOrchestrator_LostWriteAfterDialKeepsCallCorrelated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	leads := h.addLeads(lead("A", "5550000001"), lead("B", "5550000002"))
	// Update 1 reserves, update 2 records the placement and is lost.
	h.orch.repo = &failingUpdates{MemoryRepo: h.repo, failAt: 2}

	_, err := h.orch.StartCampaign(ctx, StartRequest{Candidates: leads})
	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected StartError, got %v", err)
	}
	b, _ := h.repo.Get(ctx, startErr.BulkSessionID)
	s, err := h.sessions.Get(ctx, b.ActiveSessionID)
	if err != nil || s.BulkSessionID != b.ID || s.Target.ID != "A" {
		t.Fatalf("expected the placed call to hold the reservation, got %+v err=%v", b, err)
	}

	// Resuming must not dial past the call that is still live.
	if _, err := h.orch.Resume(ctx, b.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if n := len(h.provider.Requests()); n != 1 {
		t.Fatalf("expected no second dial while A is live, got %d", n)
	}
	h.assertAtMostOneInFlight(t, b.ID)

	b = h.finish(t, b.ID, calls.StatusCompleted, "hi")
	if b.CurrentIndex != 1 || b.Status != StatusInProgress || b.SuccessfulCalls != 1 || b.ActiveSessionID == "" {
		t.Fatalf("expected A counted and B placed, got %+v", b)
	}
	if reqs := h.provider.Requests(); len(reqs) != 2 || reqs[1].To != "+15550000002" {
		t.Fatalf("expected call to B, got %+v", reqs)
	}
	h.assertAtMostOneInFlight(t, b.ID)
}

func TestOrchestrator_StaleReservationIsCleared(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	leads := h.addLeads(lead("A", "5550000001"))
	// The dial fails and the write that would release the reservation is lost.
	h.flaky().failNext("A", 1)
	h.orch.repo = &failingUpdates{MemoryRepo: h.repo, failAt: 2}

	_, err := h.orch.StartCampaign(ctx, StartRequest{Candidates: leads})
	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected StartError, got %v", err)
	}
	id := startErr.BulkSessionID

	b, _ := h.orch.Resume(ctx, id)
	if b.ActiveSessionID == "" || len(h.provider.Requests()) != 0 {
		t.Fatalf("expected a fresh reservation to be respected, got %+v", b)
	}

	h.orch.clock = func() time.Time { return time.Now().Add(time.Hour) }
	b, err = h.orch.Resume(ctx, id)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if n := len(h.provider.Requests()); n != 1 || b.Status != StatusInProgress || b.CurrentIndex != 0 {
		t.Fatalf("expected A dialed after the stale reservation was cleared, got %+v (%d calls)", b, n)
	}
	if _, err := h.sessions.Get(ctx, b.ActiveSessionID); err != nil {
		t.Fatalf("expected active session stored: %v", err)
	}
}

func TestOrchestrator_ConcurrentTerminalDeliveries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	leads := h.addLeads(lead("A", "5550000001"), lead("B", "5550000002"), lead("C", "5550000003"))

	b, _ := h.orch.StartCampaign(ctx, StartRequest{Candidates: leads})
	first := h.endActive(t, b.ID, calls.StatusCompleted, "hi")

	const deliveries = 8
	var wg sync.WaitGroup
	errs := make(chan error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.orch.OnCallTerminal(ctx, first); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("delivery: %v", err)
	}

	b, _ = h.repo.Get(ctx, b.ID)
	if b.CurrentIndex != 1 || len(b.CallResults) != 1 || b.SuccessfulCalls != 1 || b.ActiveSessionID == "" {
		t.Fatalf("expected a single advance, got %+v", b)
	}
	if n := len(h.provider.Requests()); n != 2 {
		t.Fatalf("expected exactly one follow-up call, got %d", n)
	}
	h.assertAtMostOneInFlight(t, b.ID)
}
