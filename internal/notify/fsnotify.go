package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// FSNotifier watches a local blob root (one subdirectory per
// container) and reports file writes as blob events. Intended for
// development setups where the blob store is a directory.
type FSNotifier struct {
	root    string
	watcher *fsnotify.Watcher
	events  chan BlobEvent
	done    chan struct{}
}

// NewFSNotifier watches root and its container subdirectories.
func NewFSNotifier(root string) (*FSNotifier, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching blob root: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("reading blob root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := watcher.Add(filepath.Join(root, entry.Name())); err != nil {
			log.Warn().Err(err).Str("container", entry.Name()).Msg("Failed to watch container directory")
		}
	}

	n := &FSNotifier{
		root:    root,
		watcher: watcher,
		events:  make(chan BlobEvent, 64),
		done:    make(chan struct{}),
	}
	go n.run()
	return n, nil
}

// Events returns the event channel.
func (n *FSNotifier) Events() <-chan BlobEvent {
	return n.events
}

// Close stops the watcher and closes the event channel.
func (n *FSNotifier) Close() error {
	err := n.watcher.Close()
	<-n.done
	return err
}

func (n *FSNotifier) run() {
	defer close(n.done)
	defer close(n.events)

	for {
		select {
		case evt, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			n.handle(evt)
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Blob watcher error")
		}
	}
}

func (n *FSNotifier) handle(evt fsnotify.Event) {
	if !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Write) {
		return
	}

	rel, err := filepath.Rel(n.root, evt.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	// A new first-level directory is a new container: watch it.
	if info, statErr := os.Stat(evt.Name); statErr == nil && info.IsDir() {
		if !strings.Contains(rel, "/") {
			if err := n.watcher.Add(evt.Name); err != nil {
				log.Warn().Err(err).Str("container", rel).Msg("Failed to watch new container directory")
			}
		}
		return
	}

	container, name, ok := strings.Cut(rel, "/")
	if !ok {
		// Files directly under the root are not blobs.
		return
	}

	select {
	case n.events <- BlobEvent{Container: container, Name: name}:
	default:
		// Dropped events are covered by the generic listener.
	}
}
