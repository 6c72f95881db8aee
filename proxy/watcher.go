package proxy

import (
	"go.uber.org/zap"
)

// Change is a filesystem change reported by a remote watcher.
type Change struct {
	// Event is the kind of change, e.g. "rename" or "change".
	Event    string
	Filename string
}

// Watcher is the local handle for a remote filesystem watcher.
// The remote side never ends a watcher on its own; it lives until Close.
type Watcher struct {
	id     WatcherID
	reg    *watcherRegistry
	change listeners[Change]
}

func (w *Watcher) ID() WatcherID { return w.id }

func (w *Watcher) OnChange(fn func(Change)) { w.change.add(fn) }

// Close forwards a close request and drops the local entry without waiting for the remote side.
// Closing an already closed watcher does nothing.
func (w *Watcher) Close() {
	w.reg.close(w)
}

type watcherRegistry struct {
	log      *zap.SugaredLogger
	t        Transport
	watchers map[WatcherID]*Watcher
}

func newWatcherRegistry(log *zap.SugaredLogger, t Transport) *watcherRegistry {
	return &watcherRegistry{
		log:      log,
		t:        t,
		watchers: map[WatcherID]*Watcher{},
	}
}

func (r *watcherRegistry) create(tok WatcherToken) *Watcher {
	if _, ok := r.watchers[tok.ID]; ok {
		r.log.Debugw("watcher ID revived by remote side, replacing entry", "ID", tok.ID)
	}
	w := &Watcher{id: tok.ID, reg: r}
	r.watchers[tok.ID] = w
	return w
}

func (r *watcherRegistry) close(w *Watcher) {
	if r.watchers[w.id] != w {
		return
	}
	r.t.CloseWatcher(w.id)
	delete(r.watchers, w.id)
	r.log.Debugw("closed watcher", "ID", w.id)
}

func (r *watcherRegistry) onChange(id WatcherID, change Change) {
	w, ok := r.watchers[id]
	if !ok {
		r.log.Debugw("change for unknown watcher, ignoring", "ID", id)
		return
	}
	w.change.emit(change)
}
