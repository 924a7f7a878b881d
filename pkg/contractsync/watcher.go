package contractsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches rapid saves into one pass.
const DefaultDebounce = 500 * time.Millisecond

// Watcher triggers a sync pass when JSON files in the directory change.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	syncer   *Syncer
	debounce time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	runs     int
}

// NewWatcher watches the syncer's directory. A zero debounce uses
// DefaultDebounce.
func NewWatcher(s *Syncer, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		watcher:  fw,
		syncer:   s,
		debounce: debounce,
		logger:   s.logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	if err := w.watcher.Add(w.syncer.dir); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", w.syncer.dir, err)
	}
	w.running = true
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "watching contracts directory", "dir", w.syncer.dir)
	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("failed to close watcher", "error", err)
	}
}

// Runs returns how many passes the watcher has triggered.
func (w *Watcher) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			w.logger.DebugContext(ctx, "contract file changed", "file", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.ErrorContext(ctx, "watcher error", "error", err)
		case <-timer.C:
			w.trigger(ctx)
		}
	}
}

func (w *Watcher) trigger(ctx context.Context) {
	w.mu.Lock()
	w.runs++
	w.mu.Unlock()

	if _, err := w.syncer.Run(ctx); err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			w.logger.InfoContext(ctx, "sync skipped: already in progress")
			return
		}
		w.logger.ErrorContext(ctx, "watch-triggered sync failed", "error", err)
	}
}

func relevant(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, ".json") {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0
}
