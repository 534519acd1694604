package feedws

import (
	"context"
	"testing"
	"time"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/docstore"
)

func TestHubCallsReturnAfterRunStops(t *testing.T) {
	hub := NewHub(docstore.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	if got := hub.Connections("cust1"); got != 0 {
		t.Fatalf("expected no connections, got %d", got)
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	early := NewClient(hub, nil, "cust1", time.Time{})
	late := NewClient(hub, nil, "cust2", time.Time{})
	finished := make(chan int, 1)
	go func() {
		hub.Register(late)
		hub.Unregister(early)
		hub.Unregister(late)
		hub.Disconnect("cust1", ReasonSignedOut)
		finished <- hub.Connections("cust1")
	}()

	select {
	case got := <-finished:
		if got != 0 {
			t.Fatalf("expected 0 connections after stop, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("hub calls blocked after Run returned")
	}

	for _, client := range []*Client{early, late} {
		if _, open := <-client.send; open {
			t.Fatalf("expected send closed for %s", client.userID)
		}
		if client.ctx.Err() == nil {
			t.Fatalf("expected client context cancelled for %s", client.userID)
		}
	}
}
