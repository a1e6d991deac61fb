// Package watch implements the filesystem watcher: it observes a project
// root for changes and drives the orchestrator's single-file ingest (or
// the graph layer's cascade delete)
// for every relevant path, emitting notifications a caller (the CLI's
// watch-mode command, or the query service) can surface.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/kgraph/kgraph/internal/ingest"
	"github.com/kgraph/kgraph/internal/scan"
)

// EventType collapses fsnotify's op set into three kinds.
type EventType string

const (
	EventAdd    EventType = "add"
	EventChange EventType = "change"
	EventUnlink EventType = "unlink"
)

// FileChangeEvent is the raw debounced change the watcher observed,
// before it is translated into the ingest call and notifications below.
type FileChangeEvent struct {
	Type      EventType
	Path      string
	Timestamp int64
}

// NotificationType enumerates the outward-facing watcher events.
type NotificationType string

const (
	NotifyFileChanged  NotificationType = "file-changed"
	NotifyFileRemoved  NotificationType = "file-removed"
	NotifyGraphUpdated NotificationType = "graph-updated"
	NotifyParseError   NotificationType = "parse-error"
)

// Notification is one outward-facing event, delivered over the channel
// Notifications returns.
type Notification struct {
	Type NotificationType
	Path string
	Err  error
}

// Ingestor is the narrow slice of the orchestrator the watcher depends on.
type Ingestor interface {
	IngestFile(ctx context.Context, path string) (ingest.ParseResult, error)
	RemoveFile(ctx context.Context, path string) error
}

// Options tunes one Watcher. Zero values fall back to the defaults
// (500ms debounce, 300ms write-stability).
type Options struct {
	Debounce    time.Duration
	Stability   time.Duration
	Extensions  []string
	IgnoreGlobs []string
}

const (
	DefaultDebounce  = 500 * time.Millisecond
	DefaultStability = 300 * time.Millisecond
)

// Watcher observes one root. Construct one via Start; it is always the process's
// sole active watcher (see the package-level Start/Stop singleton hook).
type Watcher struct {
	rootPath   string
	ingestor   Ingestor
	fsWatcher  *fsnotify.Watcher
	logger     *logrus.Logger
	debounce   time.Duration
	stability  time.Duration
	extensions map[string]bool
	ignoreDirs map[string]bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	notifications chan Notification
}

func newWatcher(rootPath string, ingestor Ingestor, opts Options) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	stability := opts.Stability
	if stability <= 0 {
		stability = DefaultStability
	}
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = scan.DefaultExtensions
	}
	extSet := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		extSet[e] = true
	}
	dirSet := make(map[string]bool, len(scan.DefaultIgnoreDirs))
	for _, d := range scan.DefaultIgnoreDirs {
		dirSet[d] = true
	}

	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		absRoot = rootPath
	}

	return &Watcher{
		rootPath:      absRoot,
		ingestor:      ingestor,
		fsWatcher:     fsWatcher,
		logger:        logrus.New(),
		debounce:      debounce,
		stability:     stability,
		extensions:    extSet,
		ignoreDirs:    dirSet,
		timers:        make(map[string]*time.Timer),
		notifications: make(chan Notification, 256),
	}, nil
}

// Notifications returns the channel every file-changed/file-removed/
// graph-updated/parse-error event is delivered on. Closed once the
// watcher stops.
func (w *Watcher) Notifications() <-chan Notification {
	return w.notifications
}

// start is idempotent-with-warning: calling it again on an already
// running Watcher logs a warning and leaves the existing run untouched.
func (w *Watcher) start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.logger.Warn("watch: start() called on an already-running watcher; ignoring")
		return nil
	}
	w.running = true
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	if err := w.addDirsRecursive(w.rootPath); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	go w.run(runCtx)
	return nil
}

// stop cancels all pending debounce timers and closes the underlying OS
// watch handles.
func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	if w.cancel != nil {
		w.cancel()
	}

	w.timersMu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.timersMu.Unlock()

	_ = w.fsWatcher.Close()
}

func (w *Watcher) addDirsRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignoreDirs[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			w.logger.WithError(err).WithField("path", path).Warn("watch: failed to watch directory")
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.notifications)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("watch: fsnotify error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	evType := classify(event.Op)
	if evType == "" {
		return
	}

	if evType == EventAdd {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			base := filepath.Base(event.Name)
			if !w.ignoreDirs[base] {
				if err := w.fsWatcher.Add(event.Name); err != nil {
					w.logger.WithError(err).WithField("path", event.Name).Warn("watch: failed to watch new directory")
				}
			}
			return
		}
	}

	if !w.relevant(event.Name) {
		return
	}

	w.scheduleDebounced(ctx, event.Name, evType)
}

// classify maps an fsnotify op bitmask to this package's coarser
// three-way classification. A Chmod-only event (permissions, mtime touch
// with no content change) is intentionally ignored.
func classify(op fsnotify.Op) EventType {
	switch {
	case op&fsnotify.Create != 0:
		return EventAdd
	case op&fsnotify.Write != 0:
		return EventChange
	case op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return EventUnlink
	default:
		return ""
	}
}

func (w *Watcher) relevant(path string) bool {
	if !w.extensions[filepath.Ext(path)] {
		return false
	}
	sep := string(filepath.Separator)
	for _, part := range strings.Split(filepath.Dir(path), sep) {
		if w.ignoreDirs[part] {
			return false
		}
	}
	return true
}

// scheduleDebounced collapses rapid successive events on the same path
// into a single pending timer, reset on every new event. The combined
// debounce+stability delay doubles as both the collapse window and the
// wait-after-final-write guard, so no second timer per path is needed.
func (w *Watcher) scheduleDebounced(ctx context.Context, path string, evType EventType) {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}

	delay := w.debounce + w.stability
	w.timers[path] = time.AfterFunc(delay, func() {
		w.timersMu.Lock()
		delete(w.timers, path)
		w.timersMu.Unlock()
		w.process(ctx, path, evType)
	})
}

func (w *Watcher) process(ctx context.Context, path string, evType EventType) {
	switch evType {
	case EventAdd, EventChange:
		if _, err := os.Stat(path); err != nil {
			// Gone again before the debounce fired; the matching unlink
			// event (already queued or still arriving) will clean it up.
			return
		}
		if _, err := w.ingestor.IngestFile(ctx, path); err != nil {
			w.emit(Notification{Type: NotifyParseError, Path: path, Err: err})
			return
		}
		w.emit(Notification{Type: NotifyFileChanged, Path: path})
		w.emit(Notification{Type: NotifyGraphUpdated, Path: path})
	case EventUnlink:
		if err := w.ingestor.RemoveFile(ctx, path); err != nil {
			w.emit(Notification{Type: NotifyParseError, Path: path, Err: err})
			return
		}
		w.emit(Notification{Type: NotifyFileRemoved, Path: path})
		w.emit(Notification{Type: NotifyGraphUpdated, Path: path})
	}
}

func (w *Watcher) emit(n Notification) {
	select {
	case w.notifications <- n:
	default:
		w.logger.WithField("path", n.Path).Warn("watch: notification channel full, dropping event")
	}
}

var (
	singletonMu sync.Mutex
	singleton   *Watcher
)

// Start is the package-level singleton hook: at most one active watcher
// per process. A prior running watcher (if any) is stopped first.
func Start(ctx context.Context, rootPath string, ingestor Ingestor, opts Options) (*Watcher, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if singleton != nil {
		singleton.stop()
		singleton = nil
	}

	w, err := newWatcher(rootPath, ingestor, opts)
	if err != nil {
		return nil, err
	}
	if err := w.start(ctx); err != nil {
		return nil, err
	}
	singleton = w
	return w, nil
}

// Stop stops the process's active watcher, if any.
func Stop() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		singleton.stop()
		singleton = nil
	}
}
