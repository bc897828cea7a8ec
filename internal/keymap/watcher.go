package keymap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"naclbuild/internal/logging"
)

// ErrWatchNeedsOutput is returned when watch mode has nowhere to write.
var ErrWatchNeedsOutput = errors.New("watch mode requires an output file")

// Watcher regenerates an output table whenever its mapping file changes.
// It watches the containing directory so editors that save by rename are
// still observed.
type Watcher struct {
	mu          sync.Mutex
	gen         *Generator
	input       string
	output      string
	watcher     *fsnotify.Watcher
	debounceDur time.Duration
	pending     bool
	lastEvent   time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	// OnRegenerate, if set, is called after every regeneration attempt.
	OnRegenerate func(Stats, error)
}

// NewWatcher creates a watcher for input writing to output.
func NewWatcher(gen *Generator, input, output string) (*Watcher, error) {
	if output == "" {
		return nil, ErrWatchNeedsOutput
	}
	absInput, err := filepath.Abs(input)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		gen:         gen,
		input:       absInput,
		output:      output,
		watcher:     fw,
		debounceDur: 100 * time.Millisecond, // Debounce rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start generates once and then begins watching. It returns the error of
// the initial generation; the event loop keeps running regardless.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.input)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		_ = w.watcher.Close()
		close(w.doneCh)
		return fmt.Errorf("failed to watch %s: %w", w.input, err)
	}
	logging.Keymap("Watching %s -> %s", w.input, w.output)

	err := w.regenerate()
	go w.run(ctx)
	return err
}

// Stop stops the watcher and waits for the event loop to exit.
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
}

// Done is closed when the event loop exits.
func (w *Watcher) Done() <-chan struct{} {
	return w.doneCh
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.watcher.Close()

	ticker := time.NewTicker(w.debounceDur / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.KeymapDebug("Watcher: context cancelled")
			return

		case <-w.stopCh:
			logging.KeymapDebug("Watcher: stop signal received")
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
			logging.KeymapWarn("Watcher error: %v", err)

		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.input {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	logging.KeymapDebug("Watcher: %s %s", event.Op, event.Name)
	w.pending = true
	w.lastEvent = time.Now()
}

func (w *Watcher) flush() {
	if !w.pending || time.Since(w.lastEvent) < w.debounceDur {
		return
	}
	w.pending = false
	_ = w.regenerate()
}

func (w *Watcher) regenerate() error {
	stats, err := w.gen.WriteFile(w.input, w.output)
	if err != nil {
		logging.KeymapWarn("Regeneration failed: %v", err)
	} else {
		logging.Keymap("Regenerated %s (%d entries)", w.output, stats.Emitted)
	}
	if w.OnRegenerate != nil {
		w.OnRegenerate(stats, err)
	}
	return err
}
