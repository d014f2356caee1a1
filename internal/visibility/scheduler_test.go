package visibility

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieranveyl/knowledgevault/internal/config"
	"github.com/kieranveyl/knowledgevault/internal/logging"
	"github.com/kieranveyl/knowledgevault/internal/observability"
)

func testCfg() config.SchedulerConfig {
	return config.SchedulerConfig{
		MaxInFlightPerNote:      1,
		MaxInFlightPerWorkspace: 4,
		AgingInterval:           50 * time.Millisecond,
		AgingBoost:              10,
		MaxRetries:              2,
		RetryDelay:              5 * time.Millisecond,
		ProcessingTimeout:       2 * time.Second,
	}
}

func awaitCommitted(t *testing.T, s *Scheduler, versionID string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := s.AwaitStatus(ctx, versionID, 5*time.Millisecond)
	require.NoError(t, err)
	return st
}

func TestSchedulerCommitsSingleEvent(t *testing.T) {
	build := func(ctx context.Context, e Event) (any, error) { return "built:" + e.VersionID, nil }
	var committed []string
	var mu sync.Mutex
	commit := func(ctx context.Context, e Event, built any) error {
		mu.Lock()
		committed = append(committed, built.(string))
		mu.Unlock()
		return nil
	}

	s := New(testCfg(), logging.Noop{}, observability.Noop{}, build, commit)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	require.NoError(t, s.Submit(Event{NoteID: "n1", VersionID: "v1", Op: OpPublish}, 0))
	st := awaitCommitted(t, s, "v1")
	assert.Equal(t, StageCommitted, st.Stage)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"built:v1"}, committed)
}

func TestSchedulerPreservesPerNoteFIFOOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	build := func(ctx context.Context, e Event) (any, error) { return nil, nil }
	commit := func(ctx context.Context, e Event, built any) error {
		mu.Lock()
		order = append(order, e.VersionID)
		mu.Unlock()
		return nil
	}

	cfg := testCfg()
	cfg.MaxInFlightPerNote = 1
	s := New(cfg, logging.Noop{}, observability.Noop{}, build, commit)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	for _, v := range []string{"v1", "v2", "v3"} {
		require.NoError(t, s.Submit(Event{NoteID: "n1", VersionID: v, Op: OpPublish}, 0))
	}
	awaitCommitted(t, s, "v3")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"v1", "v2", "v3"}, order)
}

func TestSchedulerRetriesBuildFailureThenSucceeds(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	build := func(ctx context.Context, e Event) (any, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 2 {
			return nil, errors.New("transient failure")
		}
		return "ok", nil
	}
	commit := func(ctx context.Context, e Event, built any) error { return nil }

	s := New(testCfg(), logging.Noop{}, observability.Noop{}, build, commit)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	require.NoError(t, s.Submit(Event{NoteID: "n1", VersionID: "v1", Op: OpPublish}, 0))
	st := awaitCommitted(t, s, "v1")
	assert.Equal(t, StageCommitted, st.Stage)
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestSchedulerMarksFailedAfterExhaustingRetries(t *testing.T) {
	build := func(ctx context.Context, e Event) (any, error) { return nil, errors.New("permanent failure") }
	commit := func(ctx context.Context, e Event, built any) error { return nil }

	s := New(testCfg(), logging.Noop{}, observability.Noop{}, build, commit)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	require.NoError(t, s.Submit(Event{NoteID: "n1", VersionID: "v1", Op: OpPublish}, 0))
	st := awaitCommitted(t, s, "v1")
	assert.Equal(t, StageFailed, st.Stage)
	var buildFailed *BuildStageFailed
	assert.ErrorAs(t, st.Err, &buildFailed)
}

type permanentTestErr struct{}

func (permanentTestErr) Error() string   { return "permanent test failure" }
func (permanentTestErr) Permanent() bool { return true }

func TestSchedulerDoesNotRetryPermanentBuildError(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	build := func(ctx context.Context, e Event) (any, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, permanentTestErr{}
	}
	commit := func(ctx context.Context, e Event, built any) error { return nil }

	s := New(testCfg(), logging.Noop{}, observability.Noop{}, build, commit)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	require.NoError(t, s.Submit(Event{NoteID: "n1", VersionID: "v1", Op: OpPublish}, 0))
	st := awaitCommitted(t, s, "v1")
	assert.Equal(t, StageFailed, st.Stage)
	var buildFailed *BuildStageFailed
	assert.ErrorAs(t, st.Err, &buildFailed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts, "expected a permanent build error to skip retries")
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	build := func(ctx context.Context, e Event) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	}
	commit := func(ctx context.Context, e Event, built any) error { return nil }
	s := New(testCfg(), logging.Noop{}, observability.Noop{}, build, commit)

	require.NoError(t, s.Submit(Event{NoteID: "n1", VersionID: "v1", Op: OpPublish}, 1))
	err := s.Submit(Event{NoteID: "n1", VersionID: "v2", Op: OpPublish}, 1)
	_, ok := err.(QueueFull)
	assert.True(t, ok, "expected QueueFull, got %v", err)
}

func TestSchedulerEnforcesPerNoteInFlightCap(t *testing.T) {
	var maxConcurrent, current int
	var mu sync.Mutex
	build := func(ctx context.Context, e Event) (any, error) {
		mu.Lock()
		current++
		if current > maxConcurrent {
			maxConcurrent = current
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		current--
		mu.Unlock()
		return nil, nil
	}
	commit := func(ctx context.Context, e Event, built any) error { return nil }

	cfg := testCfg()
	cfg.MaxInFlightPerNote = 1
	cfg.MaxInFlightPerWorkspace = 8
	s := New(cfg, logging.Noop{}, observability.Noop{}, build, commit)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	for _, v := range []string{"v1", "v2", "v3"} {
		require.NoError(t, s.Submit(Event{NoteID: "n1", VersionID: v, Op: OpPublish}, 0))
	}
	awaitCommitted(t, s, "v3")

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxConcurrent, 1, "expected at most 1 concurrent build for the same note")
}
