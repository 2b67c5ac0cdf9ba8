// Package sharedstate publishes an atomic, point-in-time JSON snapshot of
// the supervisor's view of the world (component H), per spec.md §3 and
// §4.G's "publish after every state change, at most once per second"
// cadence. Readers (the --dashboard mode, the admin surface) only ever see
// a complete, consistent file because writes go through a temp file plus
// rename, never in-place.
package sharedstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wardenhq/warden/internal/pool"
	"github.com/wardenhq/warden/internal/session"
	"github.com/wardenhq/warden/internal/watchdog"
	"github.com/wardenhq/warden/pkg/netevent"
)

// State is the full document written to the shared-state file.
type State struct {
	PublishedAt    time.Time          `json:"published_at"`
	Session        session.Snapshot   `json:"session"`
	Watchdog       watchdog.Snapshot  `json:"watchdog"`
	PoolStats      pool.Stats         `json:"pool_stats"`
	Agents         []pool.Snapshot    `json:"agents"`
	Locks          []pool.FileLock    `json:"locks"`
	RecentNetEvents []netevent.Event  `json:"recent_net_events,omitempty"`
}

// Publisher writes State to a file atomically, rate-limited to at most
// once per minInterval.
type Publisher struct {
	path        string
	minInterval time.Duration

	mu      sync.Mutex
	lastPub time.Time
}

// NewPublisher creates a Publisher targeting path, a rate limit of at most
// once per second per spec.md §4.G.
func NewPublisher(path string) *Publisher {
	return &Publisher{path: path, minInterval: time.Second}
}

// Publish writes st to disk, skipping the write if the last publish was
// less than minInterval ago — in that case it is dropped, not queued,
// since only the newest snapshot is ever meaningful.
func (p *Publisher) Publish(st State) error {
	p.mu.Lock()
	if time.Since(p.lastPub) < p.minInterval {
		p.mu.Unlock()
		return nil
	}
	p.lastPub = time.Now()
	p.mu.Unlock()

	return p.writeNow(st)
}

// PublishNow writes st immediately, bypassing the rate limit. The
// supervisor uses it for restart transitions, so they are visible without
// waiting out the rate-limit window.
func (p *Publisher) PublishNow(st State) error {
	p.mu.Lock()
	p.lastPub = time.Now()
	p.mu.Unlock()
	return p.writeNow(st)
}

func (p *Publisher) writeNow(st State) error {
	st.PublishedAt = time.Now()
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".sharedstate-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p.path)
}

// Read loads the shared-state document at path, for --dashboard mode and
// the admin /snapshot endpoint.
func Read(path string) (State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{}, err
	}
	return st, nil
}
