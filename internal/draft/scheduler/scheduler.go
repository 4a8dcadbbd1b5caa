// Package scheduler watches pick deadlines and fires timeout handling
// when they pass. It sleeps until the earliest deadline, wakes early when
// a sooner one appears, and fans due drafts out to a small worker pool.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/blockdraft/blockdraft/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const idlePollDuration = 5 * time.Second

// Clock is the time source. clockwork.NewRealClock in production, a fake
// in tests.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// DraftApp is what the scheduler needs from the draft application.
type DraftApp interface {
	NextDeadline(ctx context.Context) (*time.Time, error)
	ClaimDueDrafts(ctx context.Context) ([]uuid.UUID, error)
	ExpireTurn(ctx context.Context, draftID uuid.UUID) (*models.DraftSnapshot, error)
}

// Notifier receives the refreshed board after a timeout is recorded.
type Notifier interface {
	NotifyDraft(snap *models.DraftSnapshot)
}

// Scheduler drives turn deadlines for every active draft.
type Scheduler struct {
	app        DraftApp
	notifier   Notifier
	clock      Clock
	wakeCh     chan struct{}
	instanceID string

	numWorkers int
	workCh     chan uuid.UUID

	// Track in-flight work to prevent duplicate processing
	inFlight   map[uuid.UUID]bool
	inFlightMu sync.Mutex
}

// New creates a scheduler. notifier may be nil.
func New(app DraftApp, notifier Notifier, clock Clock) *Scheduler {
	numWorkers := 4
	return &Scheduler{
		app:        app,
		notifier:   notifier,
		clock:      clock,
		wakeCh:     make(chan struct{}, 1),
		instanceID: uuid.New().String()[:8],

		numWorkers: numWorkers,
		workCh:     make(chan uuid.UUID, numWorkers*2),
		inFlight:   make(map[uuid.UUID]bool),
	}
}

// SetNotifier installs the timeout notifier. Call before Run. The
// gateway and scheduler reference each other, so whichever is built
// second is bound here.
func (s *Scheduler) SetNotifier(n Notifier) {
	s.notifier = n
}

// Wake nudges the scheduler to re-read deadlines, for when a new draft or
// pick sets a deadline sooner than the one it is sleeping on.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled, sleeping until the next deadline and
// firing timeouts.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Str("instance", s.instanceID).Int("workers", s.numWorkers).Msg("scheduler started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	for i := 0; i < s.numWorkers; i++ {
		wg.Add(1)
		go s.worker(workerCtx, &wg, i)
	}
	defer func() {
		cancelWorkers()
		close(s.workCh)
		wg.Wait()
		log.Info().Str("instance", s.instanceID).Msg("all workers shut down")
	}()

	for {
		select {
		case <-s.wakeCh:
		default:
		}

		deadline, err := s.app.NextDeadline(ctx)
		if err != nil {
			log.Error().Err(err).Str("instance", s.instanceID).Msg("error fetching next deadline")
			if !s.sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		if deadline == nil {
			if !s.sleep(ctx, idlePollDuration) {
				return nil
			}
			continue
		}

		if wait := deadline.Sub(s.clock.Now()); wait > 0 {
			woken, alive := s.sleepOrWake(ctx, wait)
			if !alive {
				return nil
			}
			if woken {
				continue
			}
		}

		due, err := s.app.ClaimDueDrafts(ctx)
		if err != nil {
			log.Error().Err(err).Str("instance", s.instanceID).Msg("error claiming due drafts")
			if !s.sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		for _, draftID := range due {
			s.inFlightMu.Lock()
			if s.inFlight[draftID] {
				s.inFlightMu.Unlock()
				continue
			}
			s.inFlight[draftID] = true
			s.inFlightMu.Unlock()

			select {
			case <-ctx.Done():
				s.inFlightMu.Lock()
				delete(s.inFlight, draftID)
				s.inFlightMu.Unlock()
				return nil
			case s.workCh <- draftID:
			}
		}
	}
}

// sleep waits for d. Returns false if ctx ended.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := s.clock.NewTimer(d)
	defer stopAndDrainTimer(timer)
	select {
	case <-timer.Chan():
		return true
	case <-s.wakeCh:
		return true
	case <-ctx.Done():
		return false
	}
}

// sleepOrWake waits for d, returning (woken, alive).
func (s *Scheduler) sleepOrWake(ctx context.Context, d time.Duration) (bool, bool) {
	timer := s.clock.NewTimer(d)
	defer stopAndDrainTimer(timer)
	select {
	case <-timer.Chan():
		return false, true
	case <-s.wakeCh:
		return true, true
	case <-ctx.Done():
		return false, false
	}
}

func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case draftID, ok := <-s.workCh:
			if !ok {
				return
			}

			snap, err := s.app.ExpireTurn(ctx, draftID)
			if err != nil {
				log.Error().
					Err(err).
					Str("draft_id", draftID.String()).
					Int("worker_id", workerID).
					Msg("timeout handling failed")
			} else if s.notifier != nil && snap != nil {
				s.notifier.NotifyDraft(snap)
			}

			s.inFlightMu.Lock()
			delete(s.inFlight, draftID)
			s.inFlightMu.Unlock()
		}
	}
}
