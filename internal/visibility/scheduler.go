// Package visibility implements the Visibility Scheduler of spec §4.G:
// it turns a stream of VisibilityEvents into index mutations with
// per-note FIFO, fair-share across notes, aging, bounded concurrency,
// and retry with backoff.
package visibility

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kieranveyl/knowledgevault/internal/config"
	"github.com/kieranveyl/knowledgevault/internal/logging"
	"github.com/kieranveyl/knowledgevault/internal/observability"
)

// permanentBuildErr is implemented by build-stage errors that retrying
// cannot fix (e.g. chunk.ContentTooLarge: a note over MaxNoteTokens
// won't shrink on its own). Checked via interface so the scheduler
// stays decoupled from any specific domain package.
type permanentBuildErr interface{ Permanent() bool }

// Op is the kind of visibility mutation an event requests.
type Op string

const (
	OpPublish   Op = "publish"
	OpRepublish Op = "republish"
	OpRollback  Op = "rollback"
)

// Event is one unit of work submitted to the scheduler. EventID is
// assigned on Submit and carried through every log line for the item,
// distinct from VersionID since a version can be resubmitted (e.g.
// after a failed build) under a new event.
type Event struct {
	EventID     string
	NoteID      string
	VersionID   string
	Op          Op
	Collections []string
}

// Stage is the externally observable lifecycle of a queued item.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageBuilding   Stage = "building"
	StageBuilt      Stage = "built"
	StageCommitting Stage = "committing"
	StageCommitted  Stage = "committed"
	StageFailed     Stage = "failed"
)

// QueueFull is returned by Submit when the workspace queue is at
// capacity.
type QueueFull struct{}

func (QueueFull) Error() string { return "visibility: queue full" }

// BuildStageFailed wraps an error from the build callback.
type BuildStageFailed struct{ Cause error }

func (e *BuildStageFailed) Error() string { return "visibility: build stage failed: " + e.Cause.Error() }
func (e *BuildStageFailed) Unwrap() error { return e.Cause }

// HealthCheckFailed wraps an error from the index health gate.
type HealthCheckFailed struct{ Cause error }

func (e *HealthCheckFailed) Error() string {
	return "visibility: health check failed: " + e.Cause.Error()
}
func (e *HealthCheckFailed) Unwrap() error { return e.Cause }

// CommitStageFailed wraps an error from the commit callback.
type CommitStageFailed struct{ Cause error }

func (e *CommitStageFailed) Error() string {
	return "visibility: commit stage failed: " + e.Cause.Error()
}
func (e *CommitStageFailed) Unwrap() error { return e.Cause }

// VisibilityTimeout reports that an item did not reach a terminal
// stage before the caller's deadline.
type VisibilityTimeout struct{ VersionID string }

func (e *VisibilityTimeout) Error() string { return "visibility: timed out waiting for " + e.VersionID }

// ConcurrentUpdateConflict reports a second event for a note arriving
// while one is already in flight for the same note, when the caller
// required exclusivity.
type ConcurrentUpdateConflict struct{ NoteID string }

func (e *ConcurrentUpdateConflict) Error() string {
	return "visibility: concurrent update conflict for note " + e.NoteID
}

// item is one queued/in-flight unit of scheduling state.
type item struct {
	event       Event
	priority    int
	submittedAt time.Time
}

// Status is a point-in-time snapshot of one version's visibility
// progress, returned by Status and safe to copy.
type Status struct {
	EventID   string
	VersionID string
	Stage     Stage
	Err       error
}

// BuildFunc performs the build stage for an event (chunking the
// version into passages) and returns something CommitFunc can act on,
// or an error.
type BuildFunc func(ctx context.Context, e Event) (any, error)

// CommitFunc performs the health-gated atomic swap for a built result.
type CommitFunc func(ctx context.Context, e Event, built any) error

// Scheduler is the Visibility Scheduler. Construct with New and start
// its dispatch loop with Run.
type Scheduler struct {
	cfg config.SchedulerConfig
	log logging.Logger
	met observability.Metrics

	build  BuildFunc
	commit CommitFunc

	mu          sync.Mutex
	perNoteQ    map[string]*noteQueue // note_id -> its own FIFO queue
	inFlight    map[string]int        // note_id -> count of in-flight items
	totalQueued int

	statuses map[string]*Status // version_id -> status

	sem *semaphore.Weighted

	stopCh chan struct{}
	doneCh chan struct{}
	wake   chan struct{}
}

// noteQueue is the per-note FIFO honoring property 1 (per-note order
// preserved end to end).
type noteQueue struct {
	items []*item
}

func (q *noteQueue) push(it *item) { q.items = append(q.items, it) }
func (q *noteQueue) peek() *item {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}
func (q *noteQueue) pop() {
	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
}

// New constructs a Scheduler. build performs chunking; commit builds
// the index and performs the health-gated atomic swap.
func New(cfg config.SchedulerConfig, log logging.Logger, met observability.Metrics, build BuildFunc, commit CommitFunc) *Scheduler {
	if log == nil {
		log = logging.Noop{}
	}
	if met == nil {
		met = observability.Noop{}
	}
	return &Scheduler{
		cfg:      cfg,
		log:      log,
		met:      met,
		build:    build,
		commit:   commit,
		perNoteQ: make(map[string]*noteQueue),
		inFlight: make(map[string]int),
		statuses: make(map[string]*Status),
		sem:      semaphore.NewWeighted(int64(cfg.MaxInFlightPerWorkspace)),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Submit enqueues an event, scoped to its note's FIFO queue.
// maxQueueDepth, if >0, bounds total pending items workspace-wide.
func (s *Scheduler) Submit(e Event, maxQueueDepth int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxQueueDepth > 0 && s.totalQueued >= maxQueueDepth {
		return QueueFull{}
	}

	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	it := &item{event: e, priority: 0, submittedAt: time.Now()}
	q, ok := s.perNoteQ[e.NoteID]
	if !ok {
		q = &noteQueue{}
		s.perNoteQ[e.NoteID] = q
	}
	q.push(it)
	s.totalQueued++
	s.statuses[e.VersionID] = &Status{EventID: e.EventID, VersionID: e.VersionID, Stage: StageQueued}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Status returns the current status for a version id.
func (s *Scheduler) Status(versionID string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[versionID]
	if !ok {
		return Status{}, false
	}
	return *st, true
}

// AwaitStatus polls Status until it reaches a terminal stage or ctx is
// done, returning VisibilityTimeout on the latter.
func (s *Scheduler) AwaitStatus(ctx context.Context, versionID string, pollInterval time.Duration) (Status, error) {
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if st, ok := s.Status(versionID); ok && (st.Stage == StageCommitted || st.Stage == StageFailed) {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return Status{}, &VisibilityTimeout{VersionID: versionID}
		case <-ticker.C:
		}
	}
}

// Run starts the dispatch loop; it returns when Stop is called and all
// in-flight work has drained.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)

	agingTicker := time.NewTicker(s.cfg.AgingInterval)
	defer agingTicker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-s.stopCh:
			wg.Wait()
			return
		case <-ctx.Done():
			wg.Wait()
			return
		case <-agingTicker.C:
			s.applyAging()
			s.dispatchEligible(ctx, &wg)
		case <-s.wake:
			s.dispatchEligible(ctx, &wg)
		}
	}
}

// Stop signals the dispatch loop to drain and exit. Committed work is
// not rolled back; in-flight non-committed work is marked failed.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// applyAging boosts the priority of items that have waited longer than
// 2x the aging interval, per rule 4.
func (s *Scheduler) applyAging() {
	s.mu.Lock()
	defer s.mu.Unlock()
	threshold := 2 * s.cfg.AgingInterval
	now := time.Now()
	for _, q := range s.perNoteQ {
		for _, it := range q.items {
			if now.Sub(it.submittedAt) > threshold && it.priority == 0 {
				it.priority += s.cfg.AgingBoost
			}
		}
	}
}

// dispatchEligible selects eligible notes (rule 5) and launches
// goroutines processing their head-of-queue item, up to the semaphore
// capacity.
func (s *Scheduler) dispatchEligible(ctx context.Context, wg *sync.WaitGroup) {
	for {
		s.mu.Lock()
		noteID, it := s.selectNext()
		if it == nil {
			s.mu.Unlock()
			return
		}
		if !s.sem.TryAcquire(1) {
			s.mu.Unlock()
			return
		}
		s.perNoteQ[noteID].pop()
		s.totalQueued--
		s.inFlight[noteID]++
		s.mu.Unlock()

		wg.Add(1)
		go func(noteID string, it *item) {
			defer wg.Done()
			defer s.sem.Release(1)
			s.process(ctx, noteID, it)

			s.mu.Lock()
			s.inFlight[noteID]--
			s.mu.Unlock()

			select {
			case s.wake <- struct{}{}:
			default:
			}
		}(noteID, it)
	}
}

// selectNext implements rule 5: among notes with pending work under
// their per-note cap, pick the one whose head item has highest
// priority, ties by oldest submitted_at, then note id ascending.
// Caller must hold s.mu.
func (s *Scheduler) selectNext() (string, *item) {
	ids := make([]string, 0, len(s.perNoteQ))
	for id := range s.perNoteQ {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var bestNote string
	var best *item
	for _, id := range ids {
		if s.inFlight[id] >= s.cfg.MaxInFlightPerNote {
			continue
		}
		q := s.perNoteQ[id]
		head := q.peek()
		if head == nil {
			continue
		}
		if best == nil ||
			head.priority > best.priority ||
			(head.priority == best.priority && head.submittedAt.Before(best.submittedAt)) {
			best = head
			bestNote = id
		}
	}
	return bestNote, best
}

// process runs one item through build -> commit with retry, updating
// its externally observable status at each transition.
func (s *Scheduler) process(ctx context.Context, noteID string, it *item) {
	e := it.event
	s.setStage(e.VersionID, StageBuilding, nil)

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.ProcessingTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-opCtx.Done():
		}
	}()

	var built any
	err := s.retry(opCtx, func() error {
		var buildErr error
		built, buildErr = s.build(opCtx, e)
		if buildErr != nil {
			wrapped := &BuildStageFailed{Cause: buildErr}
			var perm permanentBuildErr
			if errors.As(buildErr, &perm) && perm.Permanent() {
				return backoff.Permanent(error(wrapped))
			}
			return wrapped
		}
		return nil
	})
	if err != nil {
		s.setStage(e.VersionID, StageFailed, err)
		s.met.IncCounter("visibility_build_failed_total", map[string]string{"op": string(e.Op)})
		return
	}
	select {
	case <-s.stopCh:
		s.setStage(e.VersionID, StageFailed, context.Canceled)
		return
	default:
	}
	s.setStage(e.VersionID, StageBuilt, nil)
	s.setStage(e.VersionID, StageCommitting, nil)

	err = s.retry(opCtx, func() error {
		if commitErr := s.commit(opCtx, e, built); commitErr != nil {
			return &CommitStageFailed{Cause: commitErr}
		}
		return nil
	})
	if err != nil {
		s.setStage(e.VersionID, StageFailed, err)
		s.met.IncCounter("visibility_commit_failed_total", map[string]string{"op": string(e.Op)})
		return
	}
	s.setStage(e.VersionID, StageCommitted, nil)
	s.met.IncCounter("visibility_committed_total", map[string]string{"op": string(e.Op)})
}

// retry applies exponential backoff with jitter, up to MaxRetries.
func (s *Scheduler) retry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryDelay
	b.RandomizationFactor = 0.2
	b.Multiplier = 2
	bo := backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(s.cfg.MaxRetries))

	var lastErr error
	op := func() error {
		err := fn()
		lastErr = err
		return err
	}
	if err := backoff.Retry(op, bo); err != nil {
		return lastErr
	}
	return nil
}

func (s *Scheduler) setStage(versionID string, stage Stage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[versionID]
	if !ok {
		st = &Status{VersionID: versionID}
		s.statuses[versionID] = st
	}
	st.Stage = stage
	st.Err = err
	s.log.Debug("visibility stage transition", map[string]any{"event_id": st.EventID, "version_id": versionID, "stage": string(stage)})
}
