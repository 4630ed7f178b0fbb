// Package autosave debounces edit events into serialized save attempts with
// retry, offline deferral, and best-effort draft backups.
package autosave

import (
	"context"
	"time"

	"github.com/scribehq/scribe-backend/internal/blog"
	"github.com/scribehq/scribe-backend/internal/metrics"
	"go.uber.org/zap"
)

// SaveFunc commits a post to the primary store. The controller never invokes
// two SaveFuncs concurrently.
type SaveFunc func(ctx context.Context, post *blog.Post) error

// State names the controller's position in the save lifecycle.
type State string

const (
	// StateIdle means no payload is waiting and no commit is running.
	StateIdle State = "idle"
	// StatePending means a payload is waiting out the debounce window
	// (or deferred while offline).
	StatePending State = "pending"
	// StateSaving means a commit attempt is in flight.
	StateSaving State = "saving"
	// StatePendingRetry means the last commit failed and a backoff timer
	// is running.
	StatePendingRetry State = "pending-retry"
	// StateFailed means retries are exhausted; no further automatic
	// attempts happen until the next edit.
	StateFailed State = "failed"
)

// Status is the controller's observable state.
type Status struct {
	State       State
	Saving      bool
	LastSavedAt *time.Time
	Err         error
}

// Config tunes debounce and retry behavior.
type Config struct {
	// Debounce is the quiet period after the last edit before a commit
	// attempt starts.
	Debounce time.Duration
	// BaseDelay is the first retry delay; each further retry doubles it.
	BaseDelay time.Duration
	// MaxAttempts is the total number of commit attempts per payload,
	// including the first.
	MaxAttempts int
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{
		Debounce:    2 * time.Second,
		BaseDelay:   time.Second,
		MaxAttempts: 3,
	}
}

// Option customizes a Controller.
type Option func(*Controller)

// WithMetrics records save attempt metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithStatusHook registers a callback invoked on every status transition.
// The hook runs on the controller goroutine and must not block.
func WithStatusHook(fn func(Status)) Option {
	return func(c *Controller) { c.statusHook = fn }
}

type saveResult struct {
	payload *blog.Post
	err     error
}

// Controller coalesces scheduled payloads and serializes commit attempts.
// All state lives on the run loop goroutine; the public methods communicate
// with it over channels, so no locks are needed.
type Controller struct {
	cfg        Config
	save       SaveFunc
	backup     *blog.DraftBackup
	conn       Connectivity
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	statusHook func(Status)

	schedule  chan *blog.Post
	clearErr  chan struct{}
	statusReq chan chan Status
	cancelCtx context.CancelFunc
	done      chan struct{}
}

// NewController creates a controller. conn may be nil, in which case the
// controller assumes it is always online.
func NewController(cfg Config, save SaveFunc, backup *blog.DraftBackup, conn Connectivity, logger *zap.SugaredLogger, opts ...Option) *Controller {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if conn == nil {
		conn = AlwaysOnline{}
	}

	c := &Controller{
		cfg:       cfg,
		save:      save,
		backup:    backup,
		conn:      conn,
		logger:    logger,
		schedule:  make(chan *blog.Post),
		clearErr:  make(chan struct{}),
		statusReq: make(chan chan Status),
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Schedule records post as the latest pending payload and resets the
// debounce window. Payloads superseded within the window are never
// persisted. Safe to call from any goroutine.
func (c *Controller) Schedule(post *blog.Post) {
	select {
	case c.schedule <- post:
	case <-c.done:
	}
}

// Status returns a snapshot of the controller's observable state.
func (c *Controller) Status() Status {
	reply := make(chan Status, 1)
	select {
	case c.statusReq <- reply:
		return <-reply
	case <-c.done:
		return Status{State: StateIdle}
	}
}

// ClearError discards a surfaced save error. A failed controller returns to
// idle; the failed payload is not retried.
func (c *Controller) ClearError() {
	select {
	case c.clearErr <- struct{}{}:
	case <-c.done:
	}
}

// Stop cancels the run loop. The loop flushes any retained payload to the
// draft backup before exiting.
func (c *Controller) Stop() {
	if c.cancelCtx != nil {
		c.cancelCtx()
	}
	<-c.done
}

// Start runs the controller loop until ctx is cancelled. It blocks; run it
// on its own goroutine.
func (c *Controller) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelCtx = cancel
	defer close(c.done)

	var (
		pending     *blog.Post // latest payload awaiting commit
		inFlight    *blog.Post // payload of the running commit
		queued      *blog.Post // payload scheduled while a commit ran
		attempt     int        // commit attempts for the current payload
		deferred    bool       // pending payload held back by offline status
		offline     = !c.conn.Online()
		lastSavedAt *time.Time
		lastErr     error
		state       = StateIdle
	)

	results := make(chan saveResult, 1)

	var debounce, retry *time.Timer
	var debounceC, retryC <-chan time.Time

	stopTimer := func(t *time.Timer, ch *<-chan time.Time) {
		if t != nil {
			t.Stop()
		}
		*ch = nil
	}
	// Evaluated on exit, not at defer time, so timers armed later are
	// still stopped.
	defer func() {
		stopTimer(debounce, &debounceC)
		stopTimer(retry, &retryC)
	}()

	emit := func() {
		if c.statusHook != nil {
			c.statusHook(Status{
				State:       state,
				Saving:      state == StateSaving,
				LastSavedAt: lastSavedAt,
				Err:         lastErr,
			})
		}
	}
	setState := func(s State) {
		state = s
		emit()
	}

	// startCommit launches one serialized commit attempt. The draft backup
	// is written synchronously first so the payload is recoverable even if
	// the commit fails or the process dies mid-save.
	startCommit := func(payload *blog.Post) {
		pending = nil
		deferred = false
		inFlight = payload
		attempt++
		setState(StateSaving)

		c.backup.Write(ctx, payload)

		go func(a int, p *blog.Post) {
			start := time.Now()
			err := c.save(ctx, p)
			if c.metrics != nil {
				c.metrics.RecordSaveAttempt(ctx, a, time.Since(start), err)
			}
			results <- saveResult{payload: p, err: err}
		}(attempt, payload)
	}

	armDebounce := func() {
		stopTimer(debounce, &debounceC)
		debounce = time.NewTimer(c.cfg.Debounce)
		debounceC = debounce.C
	}
	armRetry := func(delay time.Duration) {
		stopTimer(retry, &retryC)
		retry = time.NewTimer(delay)
		retryC = retry.C
	}

	for {
		select {
		case <-ctx.Done():
			// Flush the freshest retained payload synchronously; the
			// main store round trip could be interrupted, the backup
			// write cannot.
			flushCtx := context.Background()
			switch {
			case queued != nil:
				c.backup.Write(flushCtx, queued)
			case pending != nil:
				c.backup.Write(flushCtx, pending)
			case inFlight != nil:
				c.backup.Write(flushCtx, inFlight)
			}
			return ctx.Err()

		case post := <-c.schedule:
			lastErr = nil
			if inFlight != nil {
				// The running commit flushes this when it completes.
				queued = post
				continue
			}
			pending = post
			attempt = 0
			deferred = false
			stopTimer(retry, &retryC)
			armDebounce()
			setState(StatePending)

		case <-debounceC:
			debounceC = nil
			if pending == nil {
				continue
			}
			if offline {
				// Defer the commit; keep the payload recoverable.
				deferred = true
				c.backup.Write(ctx, pending)
				continue
			}
			startCommit(pending)

		case <-retryC:
			retryC = nil
			if pending == nil {
				continue
			}
			if offline {
				deferred = true
				c.backup.Write(ctx, pending)
				continue
			}
			startCommit(pending)

		case res := <-results:
			saved := inFlight
			inFlight = nil

			if res.err == nil {
				now := time.Now().UTC()
				lastSavedAt = &now
				lastErr = nil
				attempt = 0
				if queued != nil {
					next := queued
					queued = nil
					if offline {
						// Hold the flush like any other pending
						// payload while offline.
						pending = next
						deferred = true
						c.backup.Write(ctx, next)
						setState(StatePending)
						continue
					}
					startCommit(next)
					continue
				}
				setState(StateIdle)
				continue
			}

			if c.logger != nil {
				c.logger.Warnw("Save attempt failed",
					"post_id", saved.ID,
					"attempt", attempt,
					"error", res.err,
				)
			}

			if queued != nil {
				// A newer edit supersedes the failed payload.
				pending = queued
				queued = nil
				attempt = 0
				armDebounce()
				setState(StatePending)
				continue
			}

			if attempt < c.cfg.MaxAttempts {
				pending = saved
				delay := c.cfg.BaseDelay * (1 << (attempt - 1))
				armRetry(delay)
				setState(StatePendingRetry)
				continue
			}

			// Retries exhausted; surface the error and retain the
			// payload for the terminate-time backup flush only.
			pending = saved
			lastErr = res.err
			setState(StateFailed)

		case online, ok := <-c.conn.Changes():
			if !ok {
				continue
			}
			wasOffline := offline
			offline = !online
			if wasOffline && online && deferred && pending != nil && inFlight == nil {
				startCommit(pending)
			}

		case reply := <-c.statusReq:
			reply <- Status{
				State:       state,
				Saving:      inFlight != nil,
				LastSavedAt: lastSavedAt,
				Err:         lastErr,
			}

		case <-c.clearErr:
			lastErr = nil
			if state == StateFailed {
				pending = nil
				setState(StateIdle)
			} else {
				emit()
			}
		}
	}
}
