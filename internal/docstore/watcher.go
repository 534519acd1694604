package docstore

import (
	"strings"
	"sync"
)

// watcher delivers snapshots to one listener on its own goroutine. Snapshots
// are full result sets, so a newer pending snapshot replaces an undelivered
// older one; delivery order always follows write order.
type watcher struct {
	id         int64
	target     Target
	onSnapshot SnapshotFunc
	onError    ErrorFunc

	mu         sync.Mutex
	pending    []Document
	hasPending bool
	failure    error

	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newWatcher(id int64, target Target, onSnapshot SnapshotFunc, onError ErrorFunc) *watcher {
	w := &watcher{
		id:         id,
		target:     target,
		onSnapshot: onSnapshot,
		onError:    onError,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *watcher) push(docs []Document) {
	w.mu.Lock()
	w.pending = docs
	w.hasPending = true
	w.mu.Unlock()
	w.wake()
}

func (w *watcher) fail(err error) {
	w.mu.Lock()
	w.failure = err
	w.mu.Unlock()
	w.wake()
}

func (w *watcher) wake() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) close() {
	w.closeOnce.Do(func() {
		close(w.done)
	})
}

func (w *watcher) closed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case <-w.signal:
		}

		w.mu.Lock()
		docs, hasDocs := w.pending, w.hasPending
		failure := w.failure
		w.pending, w.hasPending, w.failure = nil, false, nil
		w.mu.Unlock()

		if hasDocs && !w.closed() && w.onSnapshot != nil {
			w.onSnapshot(docs)
		}
		if failure != nil {
			if !w.closed() && w.onError != nil {
				w.onError(failure)
			}
			w.close()
			return
		}
	}
}

func (t Target) affectedBy(path string) bool {
	if t.Query == nil {
		return t.Path == path
	}
	collection, _, err := SplitPath(path)
	return err == nil && collection == strings.Trim(t.Query.Collection, "/")
}

func cloneDocuments(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, doc := range docs {
		doc.Data = cloneData(doc.Data)
		out[i] = doc
	}
	return out
}
