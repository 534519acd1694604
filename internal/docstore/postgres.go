package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyChannel is fed by the documents_notify trigger with the changed path.
const notifyChannel = "documents_changed"

// PostgresStore keeps documents as jsonb rows and pushes changes to
// subscribers through LISTEN/NOTIFY.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger Logger

	mu           sync.Mutex
	watchers     map[int64]*watcher
	nextWatcher  int64
	listening    bool
	cancelListen context.CancelFunc
}

func NewPostgresStore(pool *pgxpool.Pool, logger Logger) *PostgresStore {
	if logger == nil {
		logger = log.Default()
	}
	return &PostgresStore{
		pool:     pool,
		logger:   logger,
		watchers: make(map[int64]*watcher),
	}
}

func (s *PostgresStore) Get(ctx context.Context, path string) (Document, error) {
	path = strings.Trim(path, "/")
	if _, _, err := SplitPath(path); err != nil {
		return Document{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT path, id, data, created_at, updated_at
		FROM documents
		WHERE path = $1
	`, path)
	if err != nil {
		return Document{}, err
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return Document{}, err
	}
	if len(docs) == 0 {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return docs[0], nil
}

func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	sql, args, err := buildSelect(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return scanDocuments(rows)
}

func (s *PostgresStore) Set(ctx context.Context, path string, data map[string]any, opts SetOptions) error {
	return s.Batch(ctx, []Write{{Kind: WriteSet, Path: path, Data: data, Merge: opts.Merge}})
}

func (s *PostgresStore) Update(ctx context.Context, path string, data map[string]any) error {
	return s.Batch(ctx, []Write{{Kind: WriteUpdate, Path: path, Data: data}})
}

func (s *PostgresStore) Create(ctx context.Context, collection string, data map[string]any) (Document, error) {
	if err := validateCollection(collection); err != nil {
		return Document{}, err
	}
	path := Join(strings.Trim(collection, "/"), uuid.NewString())
	if err := s.Set(ctx, path, data, SetOptions{}); err != nil {
		return Document{}, err
	}
	return s.Get(ctx, path)
}

func (s *PostgresStore) Batch(ctx context.Context, writes []Write) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, write := range writes {
		if err := applyWrite(ctx, tx, write); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Subscribe(
	ctx context.Context,
	target Target,
	onSnapshot SnapshotFunc,
	onError ErrorFunc,
) (func(), error) {
	target.Path = strings.Trim(target.Path, "/")
	if err := target.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextWatcher++
	w := newWatcher(s.nextWatcher, target, onSnapshot, onError)
	s.watchers[w.id] = w
	s.mu.Unlock()
	s.ensureListener()

	unsubscribe := func() {
		s.mu.Lock()
		delete(s.watchers, w.id)
		s.mu.Unlock()
		w.close()
	}

	docs, err := s.snapshot(ctx, target)
	if err != nil {
		unsubscribe()
		return nil, err
	}
	w.push(docs)
	return unsubscribe, nil
}

// Close stops the change listener and detaches every subscriber.
func (s *PostgresStore) Close() {
	s.mu.Lock()
	cancel := s.cancelListen
	watchers := s.watchers
	s.watchers = make(map[int64]*watcher)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, w := range watchers {
		w.close()
	}
}

func (s *PostgresStore) ensureListener() {
	s.mu.Lock()
	if s.listening {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.listening = true
	s.cancelListen = cancel
	s.mu.Unlock()

	go s.listen(ctx)
}

func (s *PostgresStore) listen(ctx context.Context) {
	err := s.listenLoop(ctx)

	s.mu.Lock()
	s.listening = false
	watchers := s.watchers
	s.watchers = make(map[int64]*watcher)
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	s.logger.Printf("docstore listener stopped: %v", err)
	failure := &StoreError{Code: CodeUnavailable, Message: err.Error()}
	for _, w := range watchers {
		w.fail(failure)
	}
}

func (s *PostgresStore) listenLoop(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", notifyChannel, err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.dispatch(ctx, notification.Payload)
	}
}

func (s *PostgresStore) dispatch(ctx context.Context, path string) {
	s.mu.Lock()
	affected := make([]*watcher, 0)
	for _, w := range s.watchers {
		if w.target.affectedBy(path) {
			affected = append(affected, w)
		}
	}
	s.mu.Unlock()

	for _, w := range affected {
		docs, err := s.snapshot(ctx, w.target)
		if err != nil {
			s.logger.Printf("docstore refresh %s for watcher %d: %v", path, w.id, err)
			continue
		}
		w.push(docs)
	}
}

func (s *PostgresStore) snapshot(ctx context.Context, target Target) ([]Document, error) {
	if target.Query != nil {
		return s.Query(ctx, *target.Query)
	}
	doc, err := s.Get(ctx, target.Path)
	if errors.Is(err, ErrNotFound) {
		return []Document{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []Document{doc}, nil
}

func applyWrite(ctx context.Context, tx pgx.Tx, write Write) error {
	if write.Kind == "" {
		write.Kind = WriteSet
	}
	path := strings.Trim(write.Path, "/")
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	data, err := normalizeData(write.Data)
	if err != nil {
		return err
	}

	if write.Kind == WriteSet && !write.Merge {
		encoded, err := json.Marshal(data)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO documents (path, collection, id, data)
			VALUES ($1, $2, $3, $4::jsonb)
			ON CONFLICT (path)
			DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
		`, path, collection, id, string(encoded))
		return err
	}

	if write.Kind == WriteSet {
		if _, err := tx.Exec(ctx, `
			INSERT INTO documents (path, collection, id, data)
			VALUES ($1, $2, $3, '{}'::jsonb)
			ON CONFLICT (path) DO NOTHING
		`, path, collection, id); err != nil {
			return err
		}
	} else if write.Kind != WriteUpdate {
		return fmt.Errorf("unsupported write kind %q", write.Kind)
	}

	var raw []byte
	err = tx.QueryRow(ctx, `SELECT data FROM documents WHERE path = $1 FOR UPDATE`, path).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}
	existing := map[string]any{}
	if err := json.Unmarshal(raw, &existing); err != nil {
		return fmt.Errorf("decode stored document %s: %w", path, err)
	}

	var merged map[string]any
	if write.Kind == WriteUpdate {
		merged = updateData(existing, data)
	} else {
		merged = mergeData(existing, data)
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE documents
		SET data = $2::jsonb, updated_at = NOW()
		WHERE path = $1
	`, path, string(encoded))
	return err
}

func buildSelect(q Query) (string, []any, error) {
	args := []any{strings.Trim(q.Collection, "/")}
	clauses := []string{"collection = $1"}

	for _, filter := range q.Where {
		args = append(args, strings.Split(filter.Field, "."))
		fieldArg := len(args)
		value := normalizeValue(filter.Value)

		switch filter.Op {
		case OpEqual:
			encoded, err := json.Marshal(value)
			if err != nil {
				return "", nil, err
			}
			args = append(args, string(encoded))
			clauses = append(clauses, fmt.Sprintf("data #> $%d::text[] = $%d::jsonb", fieldArg, len(args)))
		case OpArrayContains:
			encoded, err := json.Marshal([]any{value})
			if err != nil {
				return "", nil, err
			}
			args = append(args, string(encoded))
			clauses = append(clauses, fmt.Sprintf(
				"jsonb_typeof(data #> $%d::text[]) = 'array' AND data #> $%d::text[] @> $%d::jsonb",
				fieldArg, fieldArg, len(args),
			))
		case OpIn:
			encoded, err := json.Marshal(value)
			if err != nil {
				return "", nil, err
			}
			args = append(args, string(encoded))
			clauses = append(clauses, fmt.Sprintf(
				"data #> $%d::text[] IN (SELECT jsonb_array_elements($%d::jsonb))",
				fieldArg, len(args),
			))
		}
	}

	var sql strings.Builder
	sql.WriteString("SELECT path, id, data, created_at, updated_at FROM documents WHERE ")
	sql.WriteString(strings.Join(clauses, " AND "))

	orderings := make([]string, 0, len(q.OrderBy)+1)
	for _, order := range q.OrderBy {
		args = append(args, strings.Split(order.Field, "."))
		if order.Desc {
			orderings = append(orderings, fmt.Sprintf("data #> $%d::text[] DESC NULLS LAST", len(args)))
		} else {
			orderings = append(orderings, fmt.Sprintf("data #> $%d::text[] ASC NULLS FIRST", len(args)))
		}
	}
	orderings = append(orderings, "path ASC")
	sql.WriteString(" ORDER BY ")
	sql.WriteString(strings.Join(orderings, ", "))

	if q.Limit > 0 {
		sql.WriteString(fmt.Sprintf(" LIMIT %d", q.Limit))
	}
	return sql.String(), args, nil
}

func scanDocuments(rows pgx.Rows) ([]Document, error) {
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var doc Document
		var raw []byte
		if err := rows.Scan(&doc.Path, &doc.ID, &raw, &doc.CreateTime, &doc.UpdateTime); err != nil {
			return nil, err
		}
		doc.Data = map[string]any{}
		if err := json.Unmarshal(raw, &doc.Data); err != nil {
			return nil, fmt.Errorf("decode stored document %s: %w", doc.Path, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
