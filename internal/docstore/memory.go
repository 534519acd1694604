package docstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store with the same merge, query and push
// semantics as PostgresStore. It backs tests and DOCSTORE_BACKEND=memory.
type MemoryStore struct {
	mu          sync.Mutex
	docs        map[string]Document
	watchers    map[int64]*watcher
	nextWatcher int64
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]Document),
		watchers: make(map[int64]*watcher),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Get(ctx context.Context, path string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	path = strings.Trim(path, "/")
	if _, _, err := SplitPath(path); err != nil {
		return Document{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[path]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return cloneDocuments([]Document{doc})[0], nil
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return cloneDocuments(s.queryLocked(q)), nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, data map[string]any, opts SetOptions) error {
	return s.Batch(ctx, []Write{{Kind: WriteSet, Path: path, Data: data, Merge: opts.Merge}})
}

func (s *MemoryStore) Update(ctx context.Context, path string, data map[string]any) error {
	return s.Batch(ctx, []Write{{Kind: WriteUpdate, Path: path, Data: data}})
}

func (s *MemoryStore) Create(ctx context.Context, collection string, data map[string]any) (Document, error) {
	if err := validateCollection(collection); err != nil {
		return Document{}, err
	}
	path := Join(strings.Trim(collection, "/"), uuid.NewString())
	if err := s.Set(ctx, path, data, SetOptions{}); err != nil {
		return Document{}, err
	}
	return s.Get(ctx, path)
}

// Batch applies every write or none of them.
func (s *MemoryStore) Batch(ctx context.Context, writes []Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	staged := make(map[string]Document, len(writes))
	order := make([]string, 0, len(writes))
	for _, write := range writes {
		doc, err := s.stageLocked(staged, write, now)
		if err != nil {
			return err
		}
		if _, seen := staged[doc.Path]; !seen {
			order = append(order, doc.Path)
		}
		staged[doc.Path] = doc
	}

	for _, path := range order {
		s.docs[path] = staged[path]
	}
	s.notifyLocked(order)
	return nil
}

func (s *MemoryStore) Subscribe(
	ctx context.Context,
	target Target,
	onSnapshot SnapshotFunc,
	onError ErrorFunc,
) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target.Path = strings.Trim(target.Path, "/")
	if err := target.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextWatcher++
	w := newWatcher(s.nextWatcher, target, onSnapshot, onError)
	s.watchers[w.id] = w
	w.push(s.snapshotLocked(target))
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, w.id)
		s.mu.Unlock()
		w.close()
	}, nil
}

// Disconnect fails every open subscription with err, the way a dropped
// backend connection would. Listeners must subscribe again.
func (s *MemoryStore) Disconnect(err error) {
	s.mu.Lock()
	watchers := s.watchers
	s.watchers = make(map[int64]*watcher)
	s.mu.Unlock()

	for _, w := range watchers {
		w.fail(err)
	}
}

func (s *MemoryStore) stageLocked(staged map[string]Document, write Write, now time.Time) (Document, error) {
	path := strings.Trim(write.Path, "/")
	_, id, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}
	data, err := normalizeData(write.Data)
	if err != nil {
		return Document{}, err
	}

	existing, exists := staged[path]
	if !exists {
		existing, exists = s.docs[path]
	}

	switch write.Kind {
	case WriteUpdate:
		if !exists {
			return Document{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		existing.Data = updateData(existing.Data, data)
	case WriteSet, "":
		if exists && write.Merge {
			existing.Data = mergeData(existing.Data, data)
		} else {
			existing.Data = data
		}
	default:
		return Document{}, fmt.Errorf("unsupported write kind %q", write.Kind)
	}

	if !exists {
		existing.ID = id
		existing.Path = path
		existing.CreateTime = now
	}
	existing.UpdateTime = now
	return existing, nil
}

func (s *MemoryStore) queryLocked(q Query) []Document {
	docs := make([]Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	return q.Apply(docs)
}

func (s *MemoryStore) snapshotLocked(target Target) []Document {
	if target.Query != nil {
		return cloneDocuments(s.queryLocked(*target.Query))
	}
	doc, ok := s.docs[target.Path]
	if !ok {
		return []Document{}
	}
	return cloneDocuments([]Document{doc})
}

func (s *MemoryStore) notifyLocked(paths []string) {
	for _, w := range s.watchers {
		for _, path := range paths {
			if w.target.affectedBy(path) {
				w.push(s.snapshotLocked(w.target))
				break
			}
		}
	}
}
