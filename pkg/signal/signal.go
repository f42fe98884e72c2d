package signal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/aminenidae/stint/pkg/log"
)

// FileName is the wake-up file inside the data directory. Observers
// rewrite it after committing work; the coordinator watches it.
const FileName = "wakeup"

// Notifier raises wake-up signals by atomically rewriting the signal
// file. The content is a fresh nonce so every raise changes the file
// even when raises land in the same clock tick.
type Notifier struct {
	path string
}

// NewNotifier creates a notifier for the given data directory.
func NewNotifier(dataDir string) *Notifier {
	return &Notifier{path: filepath.Join(dataDir, FileName)}
}

// Raise signals the coordinator that new work is in the store. The
// write goes to a temp file first and is renamed into place, so the
// watcher never observes a half-written file. Raise carries no
// payload: the signal says something changed, the store says what.
func (n *Notifier) Raise() error {
	tmp := n.path + ".tmp"
	nonce := uuid.New().String() + "\n"

	if err := os.WriteFile(tmp, []byte(nonce), 0600); err != nil {
		return fmt.Errorf("failed to write signal file: %w", err)
	}

	if err := os.Rename(tmp, n.path); err != nil {
		return fmt.Errorf("failed to publish signal file: %w", err)
	}

	return nil
}

// Watcher delivers coalesced wake-up ticks to the coordinator. The
// underlying watch is on the data directory, not the signal file:
// rename replaces the file's inode, and a file-level watch would go
// stale after the first raise.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	ticks   chan struct{}
	stopCh  chan struct{}
}

// NewWatcher starts watching the data directory for wake-up signals.
func NewWatcher(dataDir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := fw.Add(dataDir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dataDir, err)
	}

	w := &Watcher{
		watcher: fw,
		path:    filepath.Join(dataDir, FileName),
		ticks:   make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}

	go w.watchLoop()

	return w, nil
}

// C returns the tick channel. Consecutive raises between reads
// coalesce into a single tick: the coordinator drains the store on
// every tick, so one pending tick is enough.
func (w *Watcher) C() <-chan struct{} {
	return w.ticks
}

// Close stops the watcher. The tick channel is not closed; callers
// select on it together with their own shutdown signal.
func (w *Watcher) Close() error {
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	logger := log.WithComponent("signal")

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Name != w.path {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				select {
				case w.ticks <- struct{}{}:
				default:
					// A tick is already pending; coalesce.
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			logger.Warn().Err(err).Msg("Watcher error")
		case <-w.stopCh:
			return
		}
	}
}
