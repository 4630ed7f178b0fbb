package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scribehq/scribe-backend/internal/blog"
	"github.com/scribehq/scribe-backend/pkg/kv/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConnectivity struct {
	mu      sync.Mutex
	online  bool
	changes chan bool
}

func newFakeConnectivity(online bool) *fakeConnectivity {
	return &fakeConnectivity{online: online, changes: make(chan bool, 4)}
}

func (f *fakeConnectivity) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeConnectivity) Changes() <-chan bool { return f.changes }

func (f *fakeConnectivity) set(online bool) {
	f.mu.Lock()
	f.online = online
	f.mu.Unlock()
	f.changes <- online
}

type saveRecorder struct {
	mu    sync.Mutex
	calls []blog.Post
	errs  []error // consumed per call; nil once exhausted
}

func (r *saveRecorder) save(_ context.Context, post *blog.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, *post)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return err
	}
	return nil
}

func (r *saveRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *saveRecorder) last() blog.Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func testPost(id, title string) *blog.Post {
	now := time.Now().UTC()
	return &blog.Post{
		ID:        id,
		Title:     title,
		Status:    blog.StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func startController(t *testing.T, cfg Config, rec *saveRecorder, conn Connectivity) (*Controller, *blog.DraftBackup) {
	t.Helper()

	backup := blog.NewDraftBackup(memory.NewStore(), zap.NewNop().Sugar(), nil)
	ctrl := NewController(cfg, rec.save, backup, conn, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Start(ctx)
	t.Cleanup(func() {
		cancel()
		ctrl.Stop()
	})

	return ctrl, backup
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestController_CoalescesRapidSchedules(t *testing.T) {
	rec := &saveRecorder{}
	cfg := Config{Debounce: 50 * time.Millisecond, BaseDelay: 10 * time.Millisecond, MaxAttempts: 3}
	ctrl, _ := startController(t, cfg, rec, nil)

	ctrl.Schedule(testPost("p1", "first"))
	ctrl.Schedule(testPost("p1", "second"))
	ctrl.Schedule(testPost("p1", "third"))

	waitFor(t, 2*time.Second, func() bool { return rec.count() >= 1 })
	waitFor(t, time.Second, func() bool { return ctrl.Status().State == StateIdle })

	assert.Equal(t, 1, rec.count(), "superseded payloads must not be committed")
	assert.Equal(t, "third", rec.last().Title)

	status := ctrl.Status()
	require.NotNil(t, status.LastSavedAt)
	assert.NoError(t, status.Err)
}

func TestController_RetriesWithBackoffThenSucceeds(t *testing.T) {
	boom := errors.New("store unavailable")
	rec := &saveRecorder{errs: []error{boom, boom}}
	cfg := Config{Debounce: 20 * time.Millisecond, BaseDelay: 30 * time.Millisecond, MaxAttempts: 3}
	ctrl, _ := startController(t, cfg, rec, nil)

	start := time.Now()
	ctrl.Schedule(testPost("p1", "retry me"))

	waitFor(t, 3*time.Second, func() bool { return rec.count() == 3 })
	waitFor(t, time.Second, func() bool { return ctrl.Status().State == StateIdle })

	// First retry after base, second after 2*base.
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, cfg.Debounce+3*cfg.BaseDelay)

	assert.Equal(t, 3, rec.count())
	assert.NoError(t, ctrl.Status().Err)
}

func TestController_FailsAfterExhaustingRetries(t *testing.T) {
	boom := errors.New("store unavailable")
	rec := &saveRecorder{errs: []error{boom, boom, boom}}
	cfg := Config{Debounce: 10 * time.Millisecond, BaseDelay: 10 * time.Millisecond, MaxAttempts: 3}
	ctrl, _ := startController(t, cfg, rec, nil)

	ctrl.Schedule(testPost("p1", "doomed"))

	waitFor(t, 3*time.Second, func() bool { return ctrl.Status().State == StateFailed })
	assert.Equal(t, 3, rec.count())
	assert.ErrorIs(t, ctrl.Status().Err, boom)

	// No automatic attempts after the terminal failure.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, rec.count())

	ctrl.ClearError()
	status := ctrl.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.NoError(t, status.Err)
}

func TestController_OfflineDefersAndFlushesOnReconnect(t *testing.T) {
	rec := &saveRecorder{}
	conn := newFakeConnectivity(false)
	cfg := Config{Debounce: 20 * time.Millisecond, BaseDelay: 10 * time.Millisecond, MaxAttempts: 3}
	ctrl, backup := startController(t, cfg, rec, conn)

	ctrl.Schedule(testPost("p1", "offline edit"))

	// The debounce expires, the payload lands in the backup, and no commit
	// runs while offline.
	waitFor(t, 2*time.Second, func() bool {
		_, ok := backup.Read(context.Background(), "p1")
		return ok
	})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, StatePending, ctrl.Status().State)

	conn.set(true)

	waitFor(t, 2*time.Second, func() bool { return rec.count() == 1 })
	waitFor(t, time.Second, func() bool { return ctrl.Status().State == StateIdle })
	assert.Equal(t, "offline edit", rec.last().Title)
}

func TestController_QueuedPayloadFlushesAfterInFlightCommit(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var calls []string

	save := func(_ context.Context, post *blog.Post) error {
		mu.Lock()
		calls = append(calls, post.Title)
		first := len(calls) == 1
		mu.Unlock()
		if first {
			<-release
		}
		return nil
	}

	backup := blog.NewDraftBackup(memory.NewStore(), zap.NewNop().Sugar(), nil)
	cfg := Config{Debounce: 10 * time.Millisecond, BaseDelay: 10 * time.Millisecond, MaxAttempts: 3}
	ctrl := NewController(cfg, save, backup, nil, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Start(ctx)
	t.Cleanup(func() {
		cancel()
		ctrl.Stop()
	})

	ctrl.Schedule(testPost("p1", "first"))
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	})

	// Scheduled while the first commit is blocked; must commit right after
	// it completes without waiting out another debounce window.
	ctrl.Schedule(testPost("p1", "second"))
	close(release)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	})
	mu.Lock()
	assert.Equal(t, []string{"first", "second"}, calls)
	mu.Unlock()
}

func TestController_QueuedPayloadDefersWhenOfflineDuringCommit(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var calls []string

	save := func(_ context.Context, post *blog.Post) error {
		mu.Lock()
		calls = append(calls, post.Title)
		first := len(calls) == 1
		mu.Unlock()
		if first {
			<-release
		}
		return nil
	}

	conn := newFakeConnectivity(true)
	backup := blog.NewDraftBackup(memory.NewStore(), zap.NewNop().Sugar(), nil)
	cfg := Config{Debounce: 10 * time.Millisecond, BaseDelay: 10 * time.Millisecond, MaxAttempts: 3}
	ctrl := NewController(cfg, save, backup, conn, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Start(ctx)
	t.Cleanup(func() {
		cancel()
		ctrl.Stop()
	})

	ctrl.Schedule(testPost("p1", "first"))
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	})

	// Drop the connection while the first commit is blocked, then queue a
	// newer payload behind it.
	conn.set(false)
	ctrl.Schedule(testPost("p1", "second"))
	time.Sleep(50 * time.Millisecond)
	close(release)

	// The queued payload must be held back, not burned on a doomed
	// attempt, and must stay recoverable from the backup.
	waitFor(t, 2*time.Second, func() bool {
		snap, ok := backup.Read(context.Background(), "p1")
		return ok && snap.Post.Title == "second"
	})
	mu.Lock()
	assert.Equal(t, []string{"first"}, calls)
	mu.Unlock()

	// Reconnecting flushes it immediately.
	conn.set(true)
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	})
	mu.Lock()
	assert.Equal(t, "second", calls[1])
	mu.Unlock()
}

func TestController_BackupPrecedesCommit(t *testing.T) {
	backup := blog.NewDraftBackup(memory.NewStore(), zap.NewNop().Sugar(), nil)

	sawBackup := make(chan bool, 1)
	save := func(ctx context.Context, post *blog.Post) error {
		_, ok := backup.Read(ctx, post.ID)
		sawBackup <- ok
		return nil
	}

	cfg := Config{Debounce: 10 * time.Millisecond, BaseDelay: 10 * time.Millisecond, MaxAttempts: 3}
	ctrl := NewController(cfg, save, backup, nil, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Start(ctx)
	t.Cleanup(func() {
		cancel()
		ctrl.Stop()
	})

	ctrl.Schedule(testPost("p1", "backed up"))

	select {
	case ok := <-sawBackup:
		assert.True(t, ok, "backup snapshot must exist before the commit runs")
	case <-time.After(2 * time.Second):
		t.Fatal("save was never invoked")
	}
}

func TestController_StopFlushesPendingToBackup(t *testing.T) {
	rec := &saveRecorder{}
	backup := blog.NewDraftBackup(memory.NewStore(), zap.NewNop().Sugar(), nil)
	cfg := Config{Debounce: 10 * time.Second, BaseDelay: time.Second, MaxAttempts: 3}
	ctrl := NewController(cfg, rec.save, backup, nil, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Start(ctx)

	ctrl.Schedule(testPost("p1", "unsaved edit"))
	// The debounce window is far in the future; stopping now must still
	// preserve the payload.
	cancel()
	ctrl.Stop()

	snap, ok := backup.Read(context.Background(), "p1")
	require.True(t, ok)
	assert.Equal(t, "unsaved edit", snap.Post.Title)
	assert.Equal(t, 0, rec.count())
}

func TestController_StatusHookObservesTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []State
	hook := func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	}

	rec := &saveRecorder{}
	backup := blog.NewDraftBackup(memory.NewStore(), zap.NewNop().Sugar(), nil)
	cfg := Config{Debounce: 10 * time.Millisecond, BaseDelay: 10 * time.Millisecond, MaxAttempts: 3}
	ctrl := NewController(cfg, rec.save, backup, nil, zap.NewNop().Sugar(), WithStatusHook(hook))

	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Start(ctx)
	t.Cleanup(func() {
		cancel()
		ctrl.Stop()
	})

	ctrl.Schedule(testPost("p1", "observed"))
	waitFor(t, 2*time.Second, func() bool { return ctrl.Status().State == StateIdle })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StatePending, StateSaving, StateIdle}, states)
}
