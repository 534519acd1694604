// Package docstore is the client for the schema-flexible document store:
// point reads, filtered and ordered queries, merge writes, atomic batches and
// real-time subscriptions. Paths alternate collection and document segments,
// e.g. "threads/a__b/messages/m1".
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidPath  = errors.New("invalid document path")
	ErrInvalidQuery = errors.New("invalid query")
)

const (
	CodePermissionDenied = "permission-denied"
	CodeUnauthenticated  = "unauthenticated"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal"
)

// StoreError is a failure reported by the store backend, typically mid-stream
// on a subscription.
type StoreError struct {
	Code    string
	Message string
}

func (e *StoreError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StoreError) ErrorCode() string {
	return e.Code
}

type Document struct {
	ID         string         `json:"id"`
	Path       string         `json:"path"`
	Data       map[string]any `json:"data"`
	CreateTime time.Time      `json:"createTime"`
	UpdateTime time.Time      `json:"updateTime"`
}

type SetOptions struct {
	Merge bool
}

type WriteKind string

const (
	WriteSet    WriteKind = "set"
	WriteUpdate WriteKind = "update"
)

type Write struct {
	Kind  WriteKind
	Path  string
	Data  map[string]any
	Merge bool
}

// Target selects what a subscription watches: a single document (Path) or
// the result set of Query.
type Target struct {
	Path  string `json:"path,omitempty"`
	Query *Query `json:"query,omitempty"`
}

func DocumentTarget(path string) Target {
	return Target{Path: path}
}

func QueryTarget(q Query) Target {
	return Target{Query: &q}
}

func (t Target) Validate() error {
	switch {
	case t.Query != nil && t.Path != "":
		return fmt.Errorf("%w: target has both path and query", ErrInvalidQuery)
	case t.Query != nil:
		return t.Query.Validate()
	default:
		_, _, err := SplitPath(t.Path)
		return err
	}
}

type SnapshotFunc func(docs []Document)

type ErrorFunc func(err error)

type Reader interface {
	Get(ctx context.Context, path string) (Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
}

type Writer interface {
	Set(ctx context.Context, path string, data map[string]any, opts SetOptions) error
	Update(ctx context.Context, path string, data map[string]any) error
	Create(ctx context.Context, collection string, data map[string]any) (Document, error)
	Batch(ctx context.Context, writes []Write) error
}

// Subscriber registers a push listener. The first snapshot is delivered as
// soon as the listener is attached; later ones follow every change to a
// matching document. The returned func detaches the listener.
type Subscriber interface {
	Subscribe(ctx context.Context, target Target, onSnapshot SnapshotFunc, onError ErrorFunc) (func(), error)
}

type Store interface {
	Reader
	Writer
	Subscriber
}

type Logger interface {
	Printf(format string, args ...any)
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// SplitPath splits a document path into its collection path and id.
func SplitPath(path string) (collection string, id string, err error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 || len(segments)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, segment := range segments {
		if strings.TrimSpace(segment) == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return strings.Join(segments[:len(segments)-1], "/"), segments[len(segments)-1], nil
}

func validateCollection(collection string) error {
	segments := strings.Split(strings.Trim(collection, "/"), "/")
	if len(segments)%2 != 1 {
		return fmt.Errorf("%w: %q is not a collection", ErrInvalidPath, collection)
	}
	for _, segment := range segments {
		if strings.TrimSpace(segment) == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, collection)
		}
	}
	return nil
}
