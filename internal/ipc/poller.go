// Package ipc implements the wrapper side of the signal-file rendezvous
// (spec.md §4.B): a 100ms poll loop that is the correctness backstop, woken
// early by an fsnotify watch on the IPC directory so requests are usually
// dispatched within a few milliseconds rather than the full poll period.
package ipc

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/pkg/signalfile"
	"go.uber.org/zap"
)

// PollInterval is the correctness-backstop poll period mandated by
// spec.md §5.
const PollInterval = 100 * time.Millisecond

// Poller watches one wrapper's signal-file path and dispatches requests.
type Poller struct {
	path    string
	log     *logging.Logger
	handler func(signalfile.Request)
}

// New creates a Poller for the given signal-file path.
func New(path string, log *logging.Logger, handler func(signalfile.Request)) *Poller {
	return &Poller{path: path, log: log.WithFields(zap.String("component", "ipc-poller")), handler: handler}
}

// Run blocks, polling and dispatching until ctx is cancelled. fsnotify
// failures (e.g. an unsupported filesystem) degrade gracefully to
// poll-only operation rather than failing the wrapper.
func (p *Poller) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	var events chan fsnotify.Event
	if err != nil {
		p.log.Warn("fsnotify unavailable, falling back to poll-only", zap.Error(err))
	} else {
		defer watcher.Close()
		dir := filepath.Dir(p.path)
		if err := watcher.Add(dir); err != nil {
			p.log.Warn("fsnotify watch failed, falling back to poll-only", zap.Error(err))
		} else {
			events = watcher.Events
		}
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name == p.path {
				p.check()
			}
		}
	}
}

func (p *Poller) check() {
	req, err := signalfile.ReadAndConsume(p.path)
	if err != nil {
		p.log.Warn("signal file parse error, discarding", zap.Error(err))
		return
	}
	if req == nil {
		return
	}
	p.handler(*req)
}
