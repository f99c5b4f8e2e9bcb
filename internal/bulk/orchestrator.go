package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/observability"
	"outbound-dialer/internal/targets"
	"outbound-dialer/pkg/logger"

	"github.com/google/uuid"
)

// Placer places one call. *calls.Dialer implements it.
type Placer interface {
	Place(ctx context.Context, req calls.PlaceRequest) (calls.CallSession, error)
}

// Orchestrator dials a campaign's candidates strictly one at a time.
//
// Progress is driven only by terminal call events (OnCallTerminal) and explicit
// start/resume requests; nothing waits or polls for a call to finish.
//
// A placement reserves the cursor slot first: ActiveSessionID is set to the id the new
// session will get, under the campaign row lock. The provider is dialed after the lock is
// released, and the outcome is written back under the lock. A call that reaches the provider
// is therefore always correlated with the campaign, even if the final write fails.
type Orchestrator struct {
	repo      Repository
	sessions  calls.Repository
	directory targets.Directory
	placer    Placer
	guard     InFlightGuard
	metrics   *observability.Metrics

	// nextCallDelay lets provider-side bookkeeping settle before the next dial.
	nextCallDelay time.Duration
	after         func(d time.Duration, f func())
	// reservationTTL is how old an unfulfilled reservation must be before it is cleared.
	reservationTTL time.Duration

	clock func() time.Time
	newID func() string
}

type Options struct {
	Guard         InFlightGuard
	Metrics       *observability.Metrics
	NextCallDelay time.Duration
	// ReservationTTL must exceed the provider request timeout. Defaults to two minutes.
	ReservationTTL time.Duration
}

const (
	defaultReservationTTL = 2 * time.Minute
	maxDelayedAttempts    = 3
)

func NewOrchestrator(repo Repository, sessions calls.Repository, directory targets.Directory, placer Placer, opts Options) *Orchestrator {
	guard := opts.Guard
	if guard == nil {
		guard = NopGuard{}
	}
	ttl := opts.ReservationTTL
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}
	return &Orchestrator{
		repo:           repo,
		sessions:       sessions,
		directory:      directory,
		placer:         placer,
		guard:          guard,
		metrics:        opts.Metrics,
		nextCallDelay:  opts.NextCallDelay,
		after:          func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		reservationTTL: ttl,
		clock:          time.Now,
		newID:          uuid.NewString,
	}
}

// StartError reports a campaign that was created but whose first placement failed.
// The campaign stays initiated and can be resumed.
type StartError struct {
	BulkSessionID string
	Err           error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("campaign %s: first placement failed: %v", e.BulkSessionID, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

var (
	// errNoChange aborts an Update without writing.
	errNoChange = errors.New("bulk: no change")
	errSlotHeld = errors.New("bulk: in-flight slot held elsewhere")
)

func (o *Orchestrator) update(ctx context.Context, id string, fn func(*BulkCallSession) error) (BulkCallSession, error) {
	b, err := o.repo.Update(ctx, id, fn)
	if errors.Is(err, errNoChange) {
		return o.repo.Get(ctx, id)
	}
	return b, err
}

type StartRequest struct {
	Candidates []calls.Target
	AgentID    string
	CreatedBy  string
}

// StartCampaign snapshots the candidates and places the first call.
// A campaign with no candidates completes immediately. When the first placement fails
// for a reason other than the candidate itself, a *StartError carries the campaign id.
func (o *Orchestrator) StartCampaign(ctx context.Context, req StartRequest) (BulkCallSession, error) {
	now := o.clock().UTC()
	b := BulkCallSession{
		ID:           o.newID(),
		AgentID:      req.AgentID,
		LeadsData:    append([]calls.Target(nil), req.Candidates...),
		CurrentIndex: 0,
		Status:       StatusInitiated,
		CallResults:  []CallResult{},
		CreatedBy:    req.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if b.LeadsData == nil {
		b.LeadsData = []calls.Target{}
	}
	if err := o.repo.Create(ctx, b); err != nil {
		return BulkCallSession{}, fmt.Errorf("create campaign: %w", err)
	}

	ctx = logger.WithBulk(ctx, b.ID)
	logger.From(ctx).Info("campaign started", "candidates", len(b.LeadsData), "created_by", req.CreatedBy)
	out, err := o.PlaceNextCall(ctx, b.ID)
	if err != nil {
		return BulkCallSession{}, &StartError{BulkSessionID: b.ID, Err: err}
	}
	return out, nil
}

// StartUncalledLeads starts a campaign over every lead that has never been called.
func (o *Orchestrator) StartUncalledLeads(ctx context.Context, agentID, createdBy string) (BulkCallSession, error) {
	leads, err := o.directory.ListUncalledLeads(ctx)
	if err != nil {
		return BulkCallSession{}, fmt.Errorf("list uncalled leads: %w", err)
	}
	return o.StartCampaign(ctx, StartRequest{Candidates: leads, AgentID: agentID, CreatedBy: createdBy})
}

// PlaceNextCall dials the candidate at the cursor unless the campaign is paused,
// finished, or already has a call reserved or in flight. Candidates that cannot be
// dialed are recorded as skipped and the next index is tried at once, at most once
// per candidate. Calling it again after a failure is safe.
func (o *Orchestrator) PlaceNextCall(ctx context.Context, id string) (BulkCallSession, error) {
	ctx = logger.WithBulk(ctx, id)
	log := logger.From(ctx)

	for {
		var (
			idx      int
			reserved string
		)
		b, err := o.update(ctx, id, func(b *BulkCallSession) error {
			reserved = ""
			if b.Status == StatusPaused || b.Status.IsTerminal() {
				return errNoChange
			}
			if b.ActiveSessionID != "" {
				if !o.staleReservation(ctx, b) {
					return errNoChange
				}
				log.Warn("clearing stale reservation", "index", b.CurrentIndex, "session_id", b.ActiveSessionID)
				b.ActiveSessionID = ""
			}
			if b.CurrentIndex >= len(b.LeadsData) {
				o.finish(b)
				log.Info("campaign finished", "status", b.Status, "successful", b.SuccessfulCalls, "failed", b.FailedCalls)
				return nil
			}
			idx = b.CurrentIndex
			reserved = o.newID()
			b.ActiveSessionID = reserved
			return nil
		})
		if err != nil || reserved == "" {
			return b, err
		}

		s, placeErr := o.dial(ctx, b, idx, reserved)

		b, err = o.update(ctx, id, func(b *BulkCallSession) error {
			if b.ActiveSessionID != reserved {
				// The call already ended and moved the cursor, or the reservation was cleared.
				return errNoChange
			}
			switch {
			case placeErr == nil:
				if b.Status == StatusInitiated {
					b.Status = StatusInProgress
				}
				b.Error = ""
			case errors.Is(placeErr, ErrCandidateSkipped):
				cand := b.LeadsData[idx]
				b.ActiveSessionID = ""
				b.record(CallResult{
					Index:      idx,
					Target:     cand.Ref,
					Name:       cand.Name,
					Outcome:    OutcomeSkipped,
					Error:      placeErr.Error(),
					RecordedAt: o.clock().UTC(),
				})
				b.CurrentIndex++
				o.metrics.CursorAdvanced("skipped")
			case errors.Is(placeErr, errSlotHeld):
				b.ActiveSessionID = ""
			default:
				b.ActiveSessionID = ""
				b.Error = "placement failed: " + placeErr.Error()
			}
			return nil
		})
		switch {
		case err != nil:
			// A placed call keeps its reservation, so its terminal event still advances the cursor.
			log.Error("record placement outcome failed", "index", idx, "session_id", reserved, "placed", placeErr == nil, "err", err)
			return BulkCallSession{}, err
		case placeErr == nil:
			log.Info("campaign call placed", "index", idx, "session_id", s.ID, "call_id", s.ProviderCallID)
			return b, nil
		case errors.Is(placeErr, ErrCandidateSkipped):
			log.Warn("campaign candidate skipped", "index", idx, "target_id", b.LeadsData[idx].Ref.ID, "err", placeErr)
			continue
		case errors.Is(placeErr, errSlotHeld):
			log.Warn("in-flight slot held elsewhere; not placing", "index", idx)
			return b, nil
		default:
			return b, placeErr
		}
	}
}

// staleReservation reports whether b's reservation has outlived any placement that could
// still be running and no session was ever created for it.
func (o *Orchestrator) staleReservation(ctx context.Context, b *BulkCallSession) bool {
	if o.clock().Sub(b.UpdatedAt) < o.reservationTTL {
		return false
	}
	_, err := o.sessions.Get(ctx, b.ActiveSessionID)
	return errors.Is(err, calls.ErrNotFound)
}

// dial takes the in-flight slot and places the candidate at idx under sessionID.
func (o *Orchestrator) dial(ctx context.Context, b BulkCallSession, idx int, sessionID string) (calls.CallSession, error) {
	ok, err := o.guard.Acquire(ctx, b.ID, idx)
	if err != nil {
		return calls.CallSession{}, fmt.Errorf("acquire in-flight slot: %w", err)
	}
	if !ok {
		return calls.CallSession{}, errSlotHeld
	}
	s, err := o.placeCandidate(ctx, b, idx, sessionID)
	if err != nil {
		_ = o.guard.Release(ctx, b.ID, idx)
	}
	return s, err
}

// placeCandidate resolves and dials the candidate at idx. Candidate-local failures
// are wrapped in ErrCandidateSkipped.
func (o *Orchestrator) placeCandidate(ctx context.Context, b BulkCallSession, idx int, sessionID string) (calls.CallSession, error) {
	cand := b.LeadsData[idx]

	target, err := o.directory.Get(ctx, cand.Ref)
	if err != nil {
		if calls.IsCandidateError(err) {
			return calls.CallSession{}, fmt.Errorf("%w: %v", ErrCandidateSkipped, err)
		}
		return calls.CallSession{}, err
	}
	called, err := o.sessions.ExistsForTarget(ctx, cand.Ref)
	if err != nil {
		return calls.CallSession{}, err
	}
	if called {
		return calls.CallSession{}, fmt.Errorf("%w: %v", ErrCandidateSkipped, calls.ErrAlreadyCalled)
	}

	s, err := o.placer.Place(ctx, calls.PlaceRequest{
		Target:        target,
		AgentID:       b.AgentID,
		BulkSessionID: b.ID,
		SessionID:     sessionID,
	})
	if err != nil {
		if calls.IsCandidateError(err) {
			return calls.CallSession{}, fmt.Errorf("%w: %v", ErrCandidateSkipped, err)
		}
		return calls.CallSession{}, err
	}
	return s, nil
}

// finish closes a campaign whose cursor reached the end of the list.
func (o *Orchestrator) finish(b *BulkCallSession) {
	now := o.clock().UTC()
	b.CompletedAt = &now
	b.ActiveSessionID = ""
	if b.Status == StatusInitiated && len(b.LeadsData) > 0 {
		b.Status = StatusFailed
		b.Error = "no candidate could be dialed"
		return
	}
	b.Status = StatusCompleted
}

// needsPlacement reports a running campaign with candidates left and nothing in flight.
func (b BulkCallSession) needsPlacement() bool {
	return b.Status == StatusInProgress && b.ActiveSessionID == "" && b.CurrentIndex < len(b.LeadsData)
}

// OnCallTerminal records the outcome of a campaign call and advances the cursor.
// Repeated deliveries for the same session record nothing new, but still retry a
// placement that failed after the cursor moved.
func (o *Orchestrator) OnCallTerminal(ctx context.Context, s calls.CallSession) (BulkCallSession, error) {
	if s.BulkSessionID == "" {
		return BulkCallSession{}, fmt.Errorf("%w: session %s has no campaign", ErrInvalidTransition, s.ID)
	}
	if !s.Status.IsTerminal() {
		return BulkCallSession{}, fmt.Errorf("%w: session %s is %s", ErrInvalidTransition, s.ID, s.Status)
	}
	ctx = logger.WithBulk(ctx, s.BulkSessionID)
	log := logger.From(ctx)

	advanced := -1
	b, err := o.update(ctx, s.BulkSessionID, func(b *BulkCallSession) error {
		if b.hasResultFor(s.ID) {
			log.Info("duplicate terminal event ignored", "session_id", s.ID)
			return errNoChange
		}

		res := CallResult{
			Index:          -1,
			Target:         s.Target,
			SessionID:      s.ID,
			ProviderCallID: s.ProviderCallID,
			Outcome:        string(s.Status),
			Successful:     s.Status == calls.StatusCompleted && s.HasTranscript(),
			RecordedAt:     o.clock().UTC(),
		}

		if b.ActiveSessionID != s.ID {
			// Not the call at the cursor; keep the outcome but leave the cursor alone.
			log.Warn("terminal event for a call that is not active", "session_id", s.ID, "active_session_id", b.ActiveSessionID)
			b.record(res)
			return nil
		}

		res.Index = b.CurrentIndex
		if res.Index < len(b.LeadsData) {
			res.Name = b.LeadsData[res.Index].Name
		}
		b.record(res)
		advanced = b.CurrentIndex
		b.CurrentIndex++
		b.ActiveSessionID = ""
		// The placement's own write may not have landed before the call ended.
		if b.Status == StatusInitiated {
			b.Status = StatusInProgress
		}
		o.metrics.CursorAdvanced("terminal")

		if b.CurrentIndex >= len(b.LeadsData) {
			o.finish(b)
		}
		return nil
	})
	if err != nil {
		return BulkCallSession{}, err
	}
	if advanced < 0 {
		if b.needsPlacement() {
			log.Info("retrying placement after earlier failure", "current_index", b.CurrentIndex)
			return o.continueCampaign(ctx, b)
		}
		return b, nil
	}

	if err := o.guard.Release(ctx, b.ID, advanced); err != nil {
		log.Warn("release in-flight slot failed", "index", advanced, "err", err)
	}
	log.Info("campaign cursor advanced", "current_index", b.CurrentIndex, "status", b.Status, "outcome", s.Status)

	if b.Status != StatusInProgress {
		return b, nil
	}
	return o.continueCampaign(ctx, b)
}

// continueCampaign places the next call now, or after nextCallDelay when one is configured.
func (o *Orchestrator) continueCampaign(ctx context.Context, b BulkCallSession) (BulkCallSession, error) {
	if o.nextCallDelay > 0 {
		o.placeLater(context.WithoutCancel(ctx), b.ID, 1)
		return b, nil
	}
	return o.PlaceNextCall(ctx, b.ID)
}

// placeLater schedules PlaceNextCall and reschedules it on failure, up to maxDelayedAttempts.
func (o *Orchestrator) placeLater(ctx context.Context, id string, attempt int) {
	o.after(o.nextCallDelay, func() {
		_, err := o.PlaceNextCall(ctx, id)
		if err == nil {
			return
		}
		log := logger.From(ctx)
		if attempt >= maxDelayedAttempts {
			log.Error("delayed placement failed; waiting for resume", "attempts", attempt, "err", err)
			return
		}
		log.Warn("delayed placement failed; retrying", "attempt", attempt, "err", err)
		o.placeLater(ctx, id, attempt+1)
	})
}

// Pause stops further placements. An in-flight call still completes and is recorded.
func (o *Orchestrator) Pause(ctx context.Context, id string) (BulkCallSession, error) {
	b, err := o.update(ctx, id, func(b *BulkCallSession) error {
		if b.Status == StatusPaused {
			return errNoChange
		}
		if b.Status != StatusInProgress {
			return fmt.Errorf("%w: cannot pause a %s campaign", ErrInvalidTransition, b.Status)
		}
		b.Status = StatusPaused
		return nil
	})
	if err == nil {
		logger.From(logger.WithBulk(ctx, id)).Info("campaign paused", "current_index", b.CurrentIndex)
	}
	return b, err
}

// Resume re-enters in_progress and dials the candidate at the cursor unless a call is still
// in flight. Resuming a running campaign, or one whose first placement failed, only retries
// placement.
func (o *Orchestrator) Resume(ctx context.Context, id string) (BulkCallSession, error) {
	_, err := o.update(ctx, id, func(b *BulkCallSession) error {
		switch b.Status {
		case StatusPaused:
			b.Status = StatusInProgress
			return nil
		case StatusInProgress, StatusInitiated:
			return errNoChange
		default:
			return fmt.Errorf("%w: cannot resume a %s campaign", ErrInvalidTransition, b.Status)
		}
	})
	if err != nil {
		return BulkCallSession{}, err
	}
	logger.From(logger.WithBulk(ctx, id)).Info("campaign resumed")
	return o.PlaceNextCall(ctx, id)
}

func (o *Orchestrator) Get(ctx context.Context, id string) (BulkCallSession, error) {
	return o.repo.Get(ctx, id)
}
