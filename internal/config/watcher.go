package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the default delay for debouncing file system events.
const DebounceDelay = 100 * time.Millisecond

// ChangeEvent represents a notification that the configuration changed on
// disk.
type ChangeEvent struct {
	// Config is the freshly reloaded configuration.
	Config *Config
	// Timestamp is when the change was detected.
	Timestamp time.Time
}

// Subscriber receives notifications when the configuration changes.
// Implementations must be safe for concurrent use.
type Subscriber interface {
	// OnConfigChanged is called with the reloaded configuration after the
	// file on disk changes and parses successfully.
	OnConfigChanged(event ChangeEvent)
}

// Watcher monitors the configuration file for changes and notifies
// subscribers with the reloaded configuration. Editors commonly replace
// files via rename, so the containing directory is watched rather than the
// file itself.
//
// Thread-safety: all public methods are safe for concurrent use.
type Watcher struct {
	mu sync.RWMutex

	watcher     *fsnotify.Watcher
	path        string
	subscribers map[Subscriber]struct{}

	debounceDelay time.Duration
	debounceTimer *time.Timer
	debounceMu    sync.Mutex
	pending       bool

	logger *slog.Logger

	// done signals the event loop to stop.
	done chan struct{}
	// stopped is closed when the event loop has exited.
	stopped chan struct{}
}

// NewWatcher creates a watcher for the configuration file at path.
// Call Start() to begin watching and Close() when done.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		watcher:       fsw,
		path:          absPath,
		subscribers:   make(map[Subscriber]struct{}),
		debounceDelay: DebounceDelay,
		logger:        logger,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}, nil
}

// SetDebounceDelay sets the debounce delay for batching rapid changes.
// Must be called before Start().
func (w *Watcher) SetDebounceDelay(d time.Duration) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	w.debounceDelay = d
}

// Start begins the event processing loop.
func (w *Watcher) Start() {
	go w.eventLoop()
}

// Close stops the watcher and releases resources. After Close returns, no
// more events are delivered to subscribers.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped
	return err
}

// Subscribe registers a subscriber for configuration changes.
func (w *Watcher) Subscribe(sub Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers[sub] = struct{}{}
}

// Unsubscribe removes a subscriber.
func (w *Watcher) Unsubscribe(sub Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subscribers, sub)
}

// SubscriberCount returns the number of active subscribers.
func (w *Watcher) SubscriberCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.subscribers)
}

// eventLoop processes fsnotify events and debounces notifications.
func (w *Watcher) eventLoop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("Config watcher error", "error", err)
			}
		}
	}
}

// handleEvent processes a single fsnotify event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Only the config file itself matters; the watch covers the whole
	// directory.
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	if w.logger != nil {
		w.logger.Debug("Config file changed",
			"path", event.Name,
			"op", event.Op.String())
	}

	w.debounceMu.Lock()
	w.pending = true
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.firePendingChange)
	w.debounceMu.Unlock()
}

// firePendingChange reloads the configuration and notifies subscribers.
func (w *Watcher) firePendingChange() {
	w.debounceMu.Lock()
	pending := w.pending
	w.pending = false
	w.debounceTimer = nil
	w.debounceMu.Unlock()

	if !pending {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		// A broken config on disk keeps the previous one in effect.
		if w.logger != nil {
			w.logger.Warn("Reloaded config is invalid, keeping current settings",
				"path", w.path, "error", err)
		}
		return
	}

	event := ChangeEvent{Config: cfg, Timestamp: time.Now()}

	w.mu.RLock()
	subs := make([]Subscriber, 0, len(w.subscribers))
	for sub := range w.subscribers {
		subs = append(subs, sub)
	}
	w.mu.RUnlock()

	if w.logger != nil {
		w.logger.Debug("Notifying subscribers of config change",
			"subscriber_count", len(subs))
	}

	// Notify subscribers (outside of lock)
	for _, sub := range subs {
		sub.OnConfigChanged(event)
	}
}
