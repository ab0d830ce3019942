// Package coordinator owns the recovery engine's top level: it turns
// transport failure events into bounded, deduplicated recovery
// sessions and keeps the per-device history the selector learns from.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/relink/internal/core/domain"
	"github.com/vietddude/relink/internal/events"
	"github.com/vietddude/relink/internal/infra/transport"
	"github.com/vietddude/relink/internal/recovery/breaker"
	"github.com/vietddude/relink/internal/recovery/metrics"
	"github.com/vietddude/relink/internal/recovery/session"
	"github.com/vietddude/relink/internal/recovery/strategy"
)

// Config holds coordinator tunables.
type Config struct {
	// MaxConcurrentSessions bounds sessions across all devices.
	MaxConcurrentSessions int

	// FailureWindow is the trailing window for previousFailureCount.
	FailureWindow time.Duration

	// Retention bounds how long history entries live.
	Retention time.Duration

	FailureHistoryCap int
	MetricsHistoryCap int

	// OnComplete, when set, receives every terminal session record.
	// External collaborators hang durable archiving off this hook; the
	// coordinator itself keeps nothing beyond the capped history.
	OnComplete func(rec *domain.SessionRecord)
}

func (c *Config) defaults() {
	if c.MaxConcurrentSessions <= 0 {
		c.MaxConcurrentSessions = 5
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 5 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
}

type activeSession struct {
	sess   *session.Session
	cancel context.CancelFunc
}

// Coordinator subscribes to transport events and runs recovery
// sessions, at most one per device.
type Coordinator struct {
	cfg       Config
	transport transport.Transport
	source    transport.EventSource
	selector  *strategy.Selector
	registry  *strategy.Registry
	breaker   *breaker.Breaker
	history   *History
	bus       *events.Bus
	log       *slog.Logger

	mu      sync.Mutex
	active  map[string]*activeSession
	started bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a coordinator. The history doubles as the selector's
// HistoryProvider; construct the selector with it.
func New(
	cfg Config,
	tr transport.Transport,
	source transport.EventSource,
	sel *strategy.Selector,
	reg *strategy.Registry,
	brk *breaker.Breaker,
	history *History,
	bus *events.Bus,
	log *slog.Logger,
) *Coordinator {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	if history == nil {
		history = NewHistory(cfg.FailureHistoryCap, cfg.MetricsHistoryCap)
	}
	return &Coordinator{
		cfg:       cfg,
		transport: tr,
		source:    source,
		selector:  sel,
		registry:  reg,
		breaker:   brk,
		history:   history,
		bus:       bus,
		log:       log,
		active:    make(map[string]*activeSession),
	}
}

// History returns the coordinator's history store.
func (c *Coordinator) History() *History { return c.history }

// Start begins consuming transport events and runs the retention
// pruner until Stop or ctx cancellation.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already started")
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(2)
	go c.eventLoop(runCtx)
	go c.pruneLoop(runCtx)
	return nil
}

// Stop cancels every active session and waits for them to record
// their terminal state.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.started = false
	// Session contexts derive from the HandleFailure caller's context,
	// not the run context, so each one is cancelled explicitly.
	actives := make([]*activeSession, 0, len(c.active))
	for _, as := range c.active {
		actives = append(actives, as)
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, as := range actives {
		as.cancel()
	}
	c.wg.Wait()
}

func (c *Coordinator) eventLoop(ctx context.Context) {
	defer c.wg.Done()
	evs := c.source.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evs:
			if !ok {
				return
			}
			c.dispatch(ctx, ev)
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, ev transport.Event) {
	switch ev.Kind {
	case transport.ConnectionFailed:
		fctx := ev.Context
		if fctx == nil {
			fctx = &domain.FailureContext{
				DeviceID:  ev.DeviceID,
				Timestamp: time.Now(),
				ErrorType: string(ev.Kind),
			}
		}
		if err := c.HandleFailure(ctx, fctx); err != nil {
			c.log.Warn("Failure event not handled", "device", ev.DeviceID, "error", err)
		}

	case transport.ConnectionLost:
		fctx := &domain.FailureContext{
			DeviceID:        ev.DeviceID,
			Timestamp:       time.Now(),
			ErrorType:       string(transport.ConnectionLost),
			ConnectionState: domain.StateDisconnected,
		}
		if err := c.HandleFailure(ctx, fctx); err != nil {
			c.log.Warn("Lost event not handled", "device", ev.DeviceID, "error", err)
		}

	case transport.ConnectionRestored:
		c.HandleRestored(ev.DeviceID)
	}
}

// HandleFailure turns one failure context into a recovery session. A
// device with an active session ignores the duplicate; hitting the
// session cap fails with ErrCapacityExceeded.
func (c *Coordinator) HandleFailure(ctx context.Context, fctx *domain.FailureContext) error {
	if fctx.Timestamp.IsZero() {
		fctx.Timestamp = time.Now()
	}
	fctx.PreviousFailureCount = c.history.FailureCountSince(
		fctx.DeviceID, fctx.Timestamp.Add(-c.cfg.FailureWindow))

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return fmt.Errorf("coordinator not started")
	}
	if _, dup := c.active[fctx.DeviceID]; dup {
		c.mu.Unlock()
		metrics.EventsDropped.WithLabelValues("duplicate").Inc()
		c.log.Debug("Ignoring duplicate failure event", "device", fctx.DeviceID)
		return nil
	}
	if len(c.active) >= c.cfg.MaxConcurrentSessions {
		c.mu.Unlock()
		metrics.EventsDropped.WithLabelValues("capacity").Inc()
		return fmt.Errorf("%w: %d sessions active", domain.ErrCapacityExceeded, c.cfg.MaxConcurrentSessions)
	}
	c.mu.Unlock()

	chosen, err := c.selector.Select(fctx)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("no_strategy").Inc()
		return err
	}

	sess := session.New(fctx.DeviceID, fctx, c.transport, c.registry, c.breaker, c.log)
	sctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	// Re-check admission under lock; the selector ran unlocked, and
	// concurrent events (or a Stop) may have changed the world.
	if !c.started {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("coordinator not started")
	}
	if _, dup := c.active[fctx.DeviceID]; dup {
		c.mu.Unlock()
		cancel()
		metrics.EventsDropped.WithLabelValues("duplicate").Inc()
		return nil
	}
	if len(c.active) >= c.cfg.MaxConcurrentSessions {
		c.mu.Unlock()
		cancel()
		metrics.EventsDropped.WithLabelValues("capacity").Inc()
		return fmt.Errorf("%w: %d sessions active", domain.ErrCapacityExceeded, c.cfg.MaxConcurrentSessions)
	}
	c.active[fctx.DeviceID] = &activeSession{sess: sess, cancel: cancel}
	// A failure counts toward the device's history only when it starts
	// a session; duplicates and rejected events leave metrics, not
	// history, so they cannot inflate previousFailureCount.
	c.history.AddFailure(fctx.DeviceID, fctx.Timestamp)
	c.mu.Unlock()

	metrics.ActiveSessions.Inc()
	metrics.SessionsStarted.WithLabelValues(chosen.ID).Inc()
	if c.bus != nil {
		c.bus.Publish(events.SessionStarted, events.SessionStartedPayload{
			SessionID:  sess.ID(),
			DeviceID:   fctx.DeviceID,
			StrategyID: chosen.ID,
		})
	}
	c.log.Info("Recovery session started",
		"session", sess.ID(), "device", fctx.DeviceID,
		"strategy", chosen.ID, "prev_failures", fctx.PreviousFailureCount)

	c.wg.Add(1)
	go c.run(sctx, sess, chosen)
	return nil
}

func (c *Coordinator) run(ctx context.Context, sess *session.Session, chosen *domain.RecoveryStrategy) {
	defer c.wg.Done()

	rec := sess.Run(ctx, chosen)

	c.mu.Lock()
	if as, ok := c.active[sess.DeviceID()]; ok && as.sess == sess {
		as.cancel()
		delete(c.active, sess.DeviceID())
	}
	c.mu.Unlock()

	metrics.ActiveSessions.Dec()
	c.history.AddRecord(rec)
	if c.cfg.OnComplete != nil {
		c.cfg.OnComplete(rec)
	}

	if c.bus != nil {
		c.bus.Publish(events.SessionCompleted, events.SessionCompletedPayload{
			SessionID: rec.ID,
			DeviceID:  rec.DeviceID,
			Success:   rec.Success,
			Duration:  rec.Duration(),
			State:     string(rec.State),
		})
	}
	c.log.Info("Recovery session completed",
		"session", rec.ID, "device", rec.DeviceID, "state", rec.State,
		"attempts", rec.Attempts, "duration", rec.Duration().Round(time.Millisecond))
}

// HandleRestored resolves the device's active session, if any, to
// Succeeded without waiting for its current attempt.
func (c *Coordinator) HandleRestored(deviceID string) {
	c.mu.Lock()
	as, ok := c.active[deviceID]
	c.mu.Unlock()
	if ok {
		as.sess.NotifyRestored()
	}
}

// CancelSession cancels one session by id. The session halts at its
// next suspension point and records Cancelled.
func (c *Coordinator) CancelSession(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, as := range c.active {
		if as.sess.ID() == sessionID {
			as.cancel()
			return nil
		}
	}
	return fmt.Errorf("session %s not active", sessionID)
}

// ActiveCount returns the number of active sessions.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// ActiveDevices lists devices with an active session.
func (c *Coordinator) ActiveDevices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.active))
	for dev := range c.active {
		out = append(out, dev)
	}
	return out
}

// pruneLoop applies the retention window to the history, checking at
// a tenth of the window bounded to [1m, 1h].
func (c *Coordinator) pruneLoop(ctx context.Context) {
	defer c.wg.Done()

	interval := min(c.cfg.Retention/10, time.Hour)
	interval = max(interval, time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.history.Prune(time.Now().Add(-c.cfg.Retention))
		}
	}
}

// IsCapacityError reports whether err is the concurrent-session cap.
func IsCapacityError(err error) bool {
	return errors.Is(err, domain.ErrCapacityExceeded)
}
