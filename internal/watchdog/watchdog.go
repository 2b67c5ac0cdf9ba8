// Package watchdog implements the liveness state machine and escalation
// actions from spec.md §4.F.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/wardenhq/warden/internal/logging"
	"go.uber.org/zap"
)

// State is one of the watchdog's liveness states.
type State string

const (
	Active       State = "Active"
	Idle         State = "Idle"
	Unresponsive State = "Unresponsive"
	HighResource State = "HighResource"
)

// LockupAction is performed when a child enters Unresponsive.
type LockupAction string

const (
	ActionWarn               LockupAction = "warn"
	ActionRestart            LockupAction = "restart"
	ActionRestartWithBackoff LockupAction = "restart_with_backoff"
	ActionKill               LockupAction = "kill"
	ActionNotifyAndWait      LockupAction = "notify_and_wait"
)

// Config controls the watchdog's thresholds and configured action.
type Config struct {
	Enabled             bool
	HeartbeatTimeout    time.Duration
	LockupAction        LockupAction
	MaxMemoryMB         int64
}

// DefaultConfig matches spec.md §5's stated default heartbeat timeout.
func DefaultConfig() Config {
	return Config{Enabled: true, HeartbeatTimeout: 60 * time.Second, LockupAction: ActionRestart}
}

// Callbacks are invoked on state transitions / escalation.
type Callbacks struct {
	OnRestart      func(reason string)
	OnRestartDelay func() time.Duration // called only for restart_with_backoff; when set, its result replaces the built-in backoff
	OnKill         func()
	OnLog          func(event string)
}

// Watchdog tracks one child's liveness.
type Watchdog struct {
	mu sync.Mutex

	cfg Config
	log *logging.Logger
	cb  Callbacks

	lastActivity     time.Time
	state            State
	consecutiveTimeouts int
	disabledUntil    time.Time
	rss              int64

	backoff      time.Duration
	lastRestart  time.Time
	stableWindow time.Duration
}

// New creates a Watchdog with the given configuration.
func New(cfg Config, log *logging.Logger, cb Callbacks) *Watchdog {
	return &Watchdog{
		cfg:          cfg,
		log:          log.WithFields(zap.String("component", "watchdog")),
		cb:           cb,
		lastActivity: time.Now(),
		state:        Active,
		stableWindow: 5 * time.Minute,
	}
}

// Ping resets last-activity to now, regardless of state (spec.md §8's
// monotonicity law: last_activity_at = max(last_activity_at, now)).
func (w *Watchdog) Ping() {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	if now.After(w.lastActivity) {
		w.lastActivity = now
	}
	w.consecutiveTimeouts = 0
	if w.state != Active {
		w.state = Active
	}
}

// SetCallbacks replaces the escalation callbacks. Used when the watchdog's
// owner (e.g. the supervisor) isn't fully constructed at New time.
func (w *Watchdog) SetCallbacks(cb Callbacks) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cb = cb
}

// RecordRSS updates the observed resident set size, for HighResource detection.
func (w *Watchdog) RecordRSS(bytes int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rss = bytes
}

// Disable suspends evaluation for duration.
func (w *Watchdog) Disable(duration time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disabledUntil = time.Now().Add(duration)
}

// Configure updates thresholds/action at runtime (watchdog_configure tool).
func (w *Watchdog) Configure(enabled *bool, heartbeatTimeout *time.Duration, action *LockupAction, maxMemoryMB *int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if enabled != nil {
		w.cfg.Enabled = *enabled
	}
	if heartbeatTimeout != nil {
		w.cfg.HeartbeatTimeout = *heartbeatTimeout
	}
	if action != nil {
		w.cfg.LockupAction = *action
	}
	if maxMemoryMB != nil {
		w.cfg.MaxMemoryMB = *maxMemoryMB
	}
}

// Snapshot is a point-in-time view for watchdog_status / shared state.
type Snapshot struct {
	Enabled      bool
	State        State
	LastActivity time.Time
	Config       Config
}

// Snap returns the current watchdog state.
func (w *Watchdog) Snap() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{Enabled: w.cfg.Enabled, State: w.state, LastActivity: w.lastActivity, Config: w.cfg}
}

// Tick evaluates one heartbeat period. Call this on a ticker in the
// supervisor's main loop at (at most) cfg.HeartbeatTimeout granularity.
func (w *Watchdog) Tick(ctx context.Context) {
	w.mu.Lock()

	if !w.cfg.Enabled || time.Now().Before(w.disabledUntil) {
		w.mu.Unlock()
		return
	}

	if w.cfg.MaxMemoryMB > 0 && w.rss > w.cfg.MaxMemoryMB*1024*1024 {
		w.state = HighResource
		w.mu.Unlock()
		w.log.Warn("watchdog: high resource usage", zap.Int64("rss_mb", w.rss/1024/1024))
		return
	}

	elapsed := time.Since(w.lastActivity)
	if elapsed < w.cfg.HeartbeatTimeout {
		w.consecutiveTimeouts = 0
		w.mu.Unlock()
		_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		return
	}

	// Count whole HeartbeatTimeout-length periods of silence rather than
	// raw Tick calls, so the escalation threshold tracks wall-clock time
	// (three consecutive heartbeat-timeout periods) independent of how
	// often the caller's ticker actually fires.
	periods := int(elapsed / w.cfg.HeartbeatTimeout)
	if periods == w.consecutiveTimeouts {
		w.mu.Unlock()
		return
	}
	w.consecutiveTimeouts = periods

	switch {
	case periods < 3:
		w.state = Idle
		w.mu.Unlock()
		return
	default: // three consecutive timeout periods: Unresponsive, fire the configured action
		w.state = Unresponsive
		action := w.cfg.LockupAction
		w.mu.Unlock()
		w.escalate(action)
	}
}

func (w *Watchdog) escalate(action LockupAction) {
	w.mu.Lock()
	cb := w.cb
	w.mu.Unlock()

	w.log.Warn("watchdog: child unresponsive", zap.String("action", string(action)))
	if cb.OnLog != nil {
		cb.OnLog("watchdog_unresponsive")
	}

	switch action {
	case ActionWarn, ActionNotifyAndWait:
		// log only; no further action.
	case ActionRestart:
		if cb.OnRestart != nil {
			cb.OnRestart("watchdog_unresponsive")
		}
		w.resetAfterAction()
	case ActionRestartWithBackoff:
		w.mu.Lock()
		if time.Since(w.lastRestart) > w.stableWindow {
			w.backoff = 0
		}
		if w.backoff == 0 {
			w.backoff = time.Second
		} else {
			w.backoff *= 2
			if w.backoff > 60*time.Second {
				w.backoff = 60 * time.Second
			}
		}
		delay := w.backoff
		w.lastRestart = time.Now()
		w.mu.Unlock()
		if cb.OnRestartDelay != nil {
			delay = cb.OnRestartDelay()
		}

		time.AfterFunc(delay, func() {
			if cb.OnRestart != nil {
				cb.OnRestart("watchdog_unresponsive_backoff")
			}
		})
		w.resetAfterAction()
	case ActionKill:
		if cb.OnKill != nil {
			cb.OnKill()
		}
	}
}

func (w *Watchdog) resetAfterAction() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.consecutiveTimeouts = 0
	w.lastActivity = time.Now()
	w.state = Active
}

// NotifyReady sends sd_notify READY=1 when running under systemd
// (NOTIFY_SOCKET set); a no-op otherwise.
func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}
