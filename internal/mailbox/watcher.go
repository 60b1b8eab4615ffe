package mailbox

import (
	"github.com/fsnotify/fsnotify"
)

// dirWatcher wraps fsnotify for one inbox directory, coalescing raw
// events into wake-ups. Callers always poll as well, so a lost event only
// costs one poll interval.
type dirWatcher struct {
	inner  *fsnotify.Watcher
	events chan struct{}
	done   chan struct{}
}

func newDirWatcher(dir string) (*dirWatcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := inner.Add(dir); err != nil {
		inner.Close()
		return nil, err
	}

	w := &dirWatcher{
		inner:  inner,
		events: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *dirWatcher) loop() {
	for {
		select {
		case ev, ok := <-w.inner.Events:
			if !ok {
				return
			}
			// Messages appear via rename; creates cover the poll fallback
			// path and heartbeat files.
			if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case w.events <- struct{}{}:
			default:
			}
		case _, ok := <-w.inner.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Events returns the wake-up channel.
func (w *dirWatcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher.
func (w *dirWatcher) Close() error {
	close(w.done)
	return w.inner.Close()
}
