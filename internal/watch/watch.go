// Package watch follows a session directory and reports artifact writes
// as they settle. The watcher covers the session root and every stage
// subdirectory, debouncing rapid rewrites of the same file.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"patentsmith/internal/artifact"
	"patentsmith/internal/logging"
)

// Op classifies one settled artifact change.
type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpRemoved Op = "removed"
)

// Change is one settled artifact event. Rel is the artifact path
// relative to the session directory.
type Change struct {
	Rel  string
	Op   Op
	Size int64
	At   time.Time
}

// Watcher follows one session directory.
type Watcher struct {
	mu          sync.Mutex
	fs          *fsnotify.Watcher
	sessionDir  string
	debounce    map[string]pending
	debounceDur time.Duration
	changes     chan Change
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	logger      *zap.Logger
}

type pending struct {
	op Op
	at time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the settle window. Tests shorten it.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounceDur = d }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New builds a watcher for one session directory.
func New(sessionDir string, opts ...Option) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:          fs,
		sessionDir:  sessionDir,
		debounce:    make(map[string]pending),
		debounceDur: 300 * time.Millisecond,
		changes:     make(chan Change, 64),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("watch")
	return w, nil
}

// Changes returns the settled-event stream. Closed when the watcher
// stops.
func (w *Watcher) Changes() <-chan Change { return w.changes }

// Start registers the session tree and begins the event loop.
// Non-blocking; Stop or ctx cancellation ends it.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.fs.Add(w.sessionDir); err != nil {
		return err
	}
	for _, dir := range artifact.Layout() {
		full := filepath.Join(w.sessionDir, filepath.FromSlash(dir))
		if _, err := os.Stat(full); err != nil {
			continue
		}
		if err := w.fs.Add(full); err != nil {
			w.logger.Warn("subdirectory not watched", zap.String("dir", dir), zap.Error(err))
		}
	}
	w.logger.Debug("watching session", zap.String("dir", w.sessionDir))

	go w.run(ctx)
	return nil
}

// Stop ends the event loop and closes the change stream.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.fs.Close(); err != nil {
		w.logger.Warn("watcher close failed", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.changes)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		case <-ticker.C:
			w.flushSettled()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// A stage directory appearing mid-run joins the watch set.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fs.Add(event.Name); err != nil {
				w.logger.Warn("new directory not watched", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}

	var op Op
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreated
	case event.Op&fsnotify.Write != 0:
		op = OpUpdated
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		op = OpRemoved
	default:
		return // chmod etc.
	}

	w.mu.Lock()
	if prev, ok := w.debounce[event.Name]; ok && prev.op == OpCreated && op == OpUpdated {
		// Keep the create; the write burst belongs to the same save.
		op = OpCreated
	}
	w.debounce[event.Name] = pending{op: op, at: time.Now()}
	w.mu.Unlock()
}

// flushSettled emits events whose paths have been quiet for the
// debounce window.
func (w *Watcher) flushSettled() {
	now := time.Now()

	w.mu.Lock()
	var settled []Change
	for path, p := range w.debounce {
		if now.Sub(p.at) < w.debounceDur {
			continue
		}
		delete(w.debounce, path)

		rel, err := filepath.Rel(w.sessionDir, path)
		if err != nil {
			continue
		}
		change := Change{Rel: filepath.ToSlash(rel), Op: p.op, At: p.at}
		if info, err := os.Stat(path); err == nil {
			if info.IsDir() {
				continue
			}
			change.Size = info.Size()
		} else if p.op != OpRemoved {
			continue // vanished before settling
		}
		settled = append(settled, change)
	}
	w.mu.Unlock()

	for _, change := range settled {
		select {
		case w.changes <- change:
		default:
			w.logger.Debug("change dropped, consumer behind", zap.String("rel", change.Rel))
		}
	}
}

// Describe renders one change as the line the watch command prints.
func Describe(c Change) string {
	var sb strings.Builder
	sb.WriteString(c.At.Format("15:04:05"))
	sb.WriteString("  ")
	sb.WriteString(string(c.Op))
	sb.WriteString("  ")
	sb.WriteString(c.Rel)
	return sb.String()
}
