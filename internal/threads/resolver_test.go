package threads

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/docstore"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/models"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/subscription"
)

func TestResolveThreadIDIsCommutative(t *testing.T) {
	pairs := [][2]string{
		{"cust1", "coach1"},
		{"CustA", "coachB"},
		{" z ", "a"},
	}
	for _, pair := range pairs {
		ab := ResolveThreadID(pair[0], pair[1])
		ba := ResolveThreadID(pair[1], pair[0])
		if ab != ba {
			t.Fatalf("expected %q == %q", ab, ba)
		}
		if again := ResolveThreadID(pair[0], pair[1]); again != ab {
			t.Fatalf("expected stable id, got %q then %q", ab, again)
		}
	}
	if got := ResolveThreadID("custA", "coachB"); got != "coachb__custa" {
		t.Fatalf("unexpected thread id %q", got)
	}
}

func TestEnsureThreadCreatesOnce(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	resolver := NewResolver(store)

	customer := models.Participant{ID: "cust1", Profile: models.ParticipantProfile{Name: "Cas", Email: "cas@example.com", Role: "customer"}}
	coach := models.Participant{ID: "coach1", Profile: models.ParticipantProfile{Name: "Kim", Role: "coach"}}

	thread, err := resolver.EnsureThread(ctx, customer, coach)
	if err != nil {
		t.Fatalf("EnsureThread: %v", err)
	}
	if thread.ID != "coach1__cust1" || len(thread.Participants) != 2 {
		t.Fatalf("unexpected thread: %+v", thread)
	}
	if thread.ParticipantProfiles["cust1"].Email != "cas@example.com" || thread.CreatedAt.IsZero() {
		t.Fatalf("expected seeded profiles and createdAt, got %+v", thread)
	}
	if thread.LastMessageSnippet != "" || !thread.LastMessageAt.IsZero() {
		t.Fatalf("expected no summary on a new thread, got %+v", thread)
	}
}

func TestEnsureThreadFillsProfilesWithoutErasing(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	resolver := NewResolver(store)

	customer := models.Participant{ID: "cust1", Profile: models.ParticipantProfile{Name: "Cas", Email: "cas@example.com"}}
	coach := models.Participant{ID: "coach1", Profile: models.ParticipantProfile{Name: "Kim"}}
	first, err := resolver.EnsureThread(ctx, customer, coach)
	if err != nil {
		t.Fatalf("EnsureThread: %v", err)
	}

	resolver.now = func() time.Time { return time.Now().Add(time.Hour) }
	second, err := resolver.EnsureThread(ctx,
		models.Participant{ID: "cust1", Profile: models.ParticipantProfile{Role: "customer"}},
		models.Participant{ID: "coach1", Profile: models.ParticipantProfile{Email: "kim@example.com"}},
	)
	if err != nil {
		t.Fatalf("EnsureThread again: %v", err)
	}

	cust := second.ParticipantProfiles["cust1"]
	if cust.Name != "Cas" || cust.Email != "cas@example.com" || cust.Role != "customer" {
		t.Fatalf("customer profile lost fields: %+v", cust)
	}
	if got := second.ParticipantProfiles["coach1"]; got.Name != "Kim" || got.Email != "kim@example.com" {
		t.Fatalf("coach profile lost fields: %+v", got)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) || !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("expected createdAt kept and updatedAt bumped: %+v then %+v", first, second)
	}
}

func TestEnsureThreadStoresLowercaseIDs(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	resolver := NewResolver(store)

	if _, err := resolver.EnsureThread(ctx, models.Participant{ID: "Cust1"}, models.Participant{ID: " coach1 "}); err != nil {
		t.Fatalf("EnsureThread: %v", err)
	}
	thread, err := resolver.EnsureThread(ctx,
		models.Participant{ID: "cust1", Profile: models.ParticipantProfile{Name: "C"}},
		models.Participant{ID: "COACH1"},
	)
	if err != nil {
		t.Fatalf("EnsureThread again: %v", err)
	}

	if thread.ID != "coach1__cust1" {
		t.Fatalf("unexpected thread id %q", thread.ID)
	}
	for _, participant := range thread.Participants {
		if participant != "cust1" && participant != "coach1" {
			t.Fatalf("expected lowercase participants, got %v", thread.Participants)
		}
	}
	if len(thread.ParticipantProfiles) != 2 || thread.ParticipantProfiles["cust1"].Name != "C" {
		t.Fatalf("expected one profile per participant, got %+v", thread.ParticipantProfiles)
	}
	if !thread.HasParticipant("Cust1") || thread.Counterpart("CUST1") != "coach1" || thread.Profile("Cust1").Name != "C" {
		t.Fatalf("expected case-insensitive lookups on %+v", thread)
	}

	list, err := resolver.ListForParticipant(ctx, "Cust1")
	if err != nil {
		t.Fatalf("ListForParticipant: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected the thread for a mixed-case uid, got %d", len(list))
	}
}

func TestConcurrentEnsureThreadConverges(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	resolver := NewResolver(store)

	var wg sync.WaitGroup
	ids := make([]string, 2)
	errs := make([]error, 2)
	calls := [][2]string{{"cust1", "coach1"}, {"coach1", "cust1"}}
	for i, call := range calls {
		wg.Add(1)
		go func(i int, a, b string) {
			defer wg.Done()
			thread, err := resolver.EnsureThread(ctx, models.Participant{ID: a}, models.Participant{ID: b})
			ids[i], errs[i] = thread.ID, err
		}(i, call[0], call[1])
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("EnsureThread: %v", err)
		}
	}
	if ids[0] != ids[1] {
		t.Fatalf("expected identical thread ids, got %q and %q", ids[0], ids[1])
	}
	docs, err := store.Query(ctx, docstore.Query{Collection: models.ThreadsCollection})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected exactly one thread document, got %d", len(docs))
	}
}

func TestEnsureThreadValidatesParticipants(t *testing.T) {
	resolver := NewResolver(docstore.NewMemoryStore())
	cases := [][2]string{{"", "coach1"}, {"cust1", " "}, {"a/b", "coach1"}, {"cust1", "CUST1"}}
	for _, tc := range cases {
		_, err := resolver.EnsureThread(context.Background(), models.Participant{ID: tc[0]}, models.Participant{ID: tc[1]})
		if !errors.Is(err, models.ErrValidation) {
			t.Fatalf("%v: expected validation error, got %v", tc, err)
		}
	}
}

func TestListForParticipantNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	resolver := NewResolver(store)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, coach := range []string{"coach1", "coach2"} {
		at := base.Add(time.Duration(i) * time.Minute)
		resolver.now = func() time.Time { return at }
		if _, err := resolver.EnsureThread(ctx, models.Participant{ID: "cust1"}, models.Participant{ID: coach}); err != nil {
			t.Fatalf("EnsureThread: %v", err)
		}
	}

	threads, err := resolver.ListForParticipant(ctx, "cust1")
	if err != nil {
		t.Fatalf("ListForParticipant: %v", err)
	}
	if len(threads) != 2 || threads[0].ID != "coach2__cust1" {
		t.Fatalf("unexpected order: %+v", threads)
	}
}

func TestWatchForParticipantDeliversThreads(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	resolver := NewResolver(store)

	var mu sync.Mutex
	var latest []models.Thread
	manager := subscription.NewManager(nil, subscription.Options{Logger: log.New(io.Discard, "", 0)})
	sub := manager.Manage(ctx, WatchForParticipant(store, "coach1", func(threads []models.Thread) {
		mu.Lock()
		defer mu.Unlock()
		latest = threads
	}), subscription.Options{Name: "threads"})
	defer sub.Stop()

	if _, err := resolver.EnsureThread(ctx, models.Participant{ID: "cust1"}, models.Participant{ID: "coach1"}); err != nil {
		t.Fatalf("EnsureThread: %v", err)
	}
	_ = store.Set(ctx, "threads/broken", map[string]any{"participants": []string{"coach1"}}, docstore.SetOptions{})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(latest)
		mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected one decoded thread in the watched list")
}
