// Package threads creates and finds two-party conversation threads. A
// thread's id is derived from its participants, so concurrent creators
// always target the same document.
package threads

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/docstore"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/models"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/subscription"
)

// Separator joins the two participant ids of a thread id.
const Separator = "__"

var ErrValidation = fmt.Errorf("thread: %w", models.ErrValidation)

// ResolveThreadID lowercases both ids, sorts them and joins them with
// Separator. It is commutative: ResolveThreadID(a, b) == ResolveThreadID(b, a).
func ResolveThreadID(a, b string) string {
	ids := []string{NormalizeID(a), NormalizeID(b)}
	sort.Strings(ids)
	return ids[0] + Separator + ids[1]
}

// NormalizeID is the form participant ids are stored and matched in.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func validateParticipantID(id string) error {
	id = strings.TrimSpace(id)
	switch {
	case id == "":
		return fmt.Errorf("%w: missing participant id", ErrValidation)
	case strings.Contains(id, "/"), strings.Contains(id, Separator):
		return fmt.Errorf("%w: participant id %q contains a reserved sequence", ErrValidation, id)
	}
	return nil
}

type Resolver struct {
	store docstore.Store
	now   func() time.Time
}

func NewResolver(store docstore.Store) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// EnsureThread returns the customer/coach thread, creating it on first use.
// Profile fields given in this call are filled in; omitted fields are left
// untouched. Every write is a merge, so racing callers converge on one
// document.
func (r *Resolver) EnsureThread(ctx context.Context, customer, coach models.Participant) (models.Thread, error) {
	customer.ID = NormalizeID(customer.ID)
	coach.ID = NormalizeID(coach.ID)
	if err := validateParticipantID(customer.ID); err != nil {
		return models.Thread{}, err
	}
	if err := validateParticipantID(coach.ID); err != nil {
		return models.Thread{}, err
	}
	if customer.ID == coach.ID {
		return models.Thread{}, fmt.Errorf("%w: a thread needs two distinct participants", ErrValidation)
	}
	threadID := ResolveThreadID(customer.ID, coach.ID)

	path := models.ThreadPath(threadID)
	_, err := r.store.Get(ctx, path)
	exists := err == nil
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return models.Thread{}, fmt.Errorf("read thread %s: %w", threadID, err)
	}

	now := models.FormatTimestamp(r.now())
	data := map[string]any{
		"participants": []string{customer.ID, coach.ID},
		"participantProfiles": map[string]any{
			customer.ID: customer.Profile.Fields(),
			coach.ID:    coach.Profile.Fields(),
		},
		"updatedAt": now,
	}
	if !exists {
		data["createdAt"] = now
	}
	if err := r.store.Set(ctx, path, data, docstore.SetOptions{Merge: true}); err != nil {
		return models.Thread{}, fmt.Errorf("write thread %s: %w", threadID, err)
	}

	return r.Get(ctx, threadID)
}

func (r *Resolver) Get(ctx context.Context, threadID string) (models.Thread, error) {
	doc, err := r.store.Get(ctx, models.ThreadPath(threadID))
	if err != nil {
		return models.Thread{}, err
	}
	return models.ParseThread(doc)
}

// ListForParticipant returns uid's threads, most recently updated first.
func (r *Resolver) ListForParticipant(ctx context.Context, uid string) ([]models.Thread, error) {
	docs, err := r.store.Query(ctx, participantQuery(uid))
	if err != nil {
		return nil, err
	}
	return decodeThreads(docs), nil
}

// WatchForParticipant is a subscription factory pushing uid's thread list.
func WatchForParticipant(store docstore.Subscriber, uid string, onThreads func([]models.Thread)) subscription.Factory {
	return func(ctx context.Context, helpers subscription.Helpers) (subscription.Unsubscribe, error) {
		unsubscribe, err := store.Subscribe(ctx, docstore.QueryTarget(participantQuery(uid)), func(docs []docstore.Document) {
			helpers.Healthy()
			onThreads(decodeThreads(docs))
		}, helpers.OnError)
		if err != nil {
			return nil, err
		}
		return subscription.Unsubscribe(unsubscribe), nil
	}
}

func participantQuery(uid string) docstore.Query {
	return docstore.Query{
		Collection: models.ThreadsCollection,
		Where:      []docstore.Where{{Field: "participants", Op: docstore.OpArrayContains, Value: NormalizeID(uid)}},
		OrderBy:    []docstore.OrderBy{{Field: "updatedAt", Desc: true}},
	}
}

// decodeThreads skips documents that fail to decode.
func decodeThreads(docs []docstore.Document) []models.Thread {
	threads := make([]models.Thread, 0, len(docs))
	for _, doc := range docs {
		thread, err := models.ParseThread(doc)
		if err != nil {
			log.Printf("threads: skipping %s: %v", doc.Path, err)
			continue
		}
		threads = append(threads, thread)
	}
	return threads
}
