package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/scribehq/scribe-backend/pkg/kv"
	"go.uber.org/zap"
)

// Connectivity reports whether the primary store is reachable. Changes
// delivers transitions; implementations may return a nil channel if the
// status never changes.
type Connectivity interface {
	Online() bool
	Changes() <-chan bool
}

// AlwaysOnline is the Connectivity used when no prober is configured.
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool         { return true }
func (AlwaysOnline) Changes() <-chan bool { return nil }

// PingProber derives connectivity from periodic store pings. A single failed
// ping marks the prober offline; the next successful ping restores it.
type PingProber struct {
	store    kv.Store
	interval time.Duration
	logger   *zap.SugaredLogger

	mu      sync.RWMutex
	online  bool
	changes chan bool
}

// NewPingProber creates a prober and performs one synchronous probe to seed
// the initial status. Run must be started for the status to stay current.
func NewPingProber(store kv.Store, interval time.Duration, logger *zap.SugaredLogger) *PingProber {
	p := &PingProber{
		store:    store,
		interval: interval,
		logger:   logger,
		changes:  make(chan bool, 4),
	}

	probeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.online = store.Ping(probeCtx) == nil

	return p
}

// Online reports the last probed status.
func (p *PingProber) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

// Changes returns the transition channel. Transitions are dropped rather
// than blocking the probe loop if the consumer falls behind.
func (p *PingProber) Changes() <-chan bool {
	return p.changes
}

// Run probes the store until ctx is cancelled. It blocks; run it on its own
// goroutine.
func (p *PingProber) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *PingProber) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	online := p.store.Ping(probeCtx) == nil

	p.mu.Lock()
	changed := online != p.online
	p.online = online
	p.mu.Unlock()

	if !changed {
		return
	}

	if p.logger != nil {
		if online {
			p.logger.Infow("Store connectivity restored")
		} else {
			p.logger.Warnw("Store connectivity lost")
		}
	}

	select {
	case p.changes <- online:
	default:
	}
}
