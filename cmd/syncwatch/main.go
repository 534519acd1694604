// Command syncwatch signs in to the gateway and prints live updates of the
// caller's threads, and optionally one thread's messages and one assignment,
// until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/apiclient"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/assignments"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/config"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/docstore"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/identity"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/messaging"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/models"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/subscription"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/threads"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/workflow"
)

// refreshLead is how long before expiry the token is replaced.
const refreshLead = time.Minute

func main() {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	baseURL := flag.String("url", cfg.SyncURL, "gateway base URL")
	email := flag.String("email", cfg.SyncEmail, "account email")
	password := flag.String("password", cfg.SyncPassword, "account password")
	threadID := flag.String("thread", "", "also watch messages of this thread")
	customerID := flag.String("assignment", "", "also watch this customer's assignment (customers default to their own)")
	flag.Parse()

	if *email == "" || *password == "" {
		log.Fatal("email and password are required (flags or SYNC_EMAIL/SYNC_PASSWORD)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stderr, "syncwatch ", log.LstdFlags)

	provider := identity.NewTokenProvider(identity.NewHTTPTokenSource(apiclient.New(*baseURL, nil), *email, *password))
	cred, err := provider.SignIn(ctx)
	if err != nil {
		log.Fatalf("Failed to sign in: %v", err)
	}
	logger.Printf("signed in as %s (%s)", cred.UserID, cred.Role)

	feed, err := docstore.NewFeedClient(*baseURL, provider.Token, logger)
	if err != nil {
		log.Fatalf("Failed to build feed client: %v", err)
	}

	manager := subscription.NewManager(provider, subscription.Options{
		RetryInterval: cfg.SubscriptionRetry,
		Debounce:      cfg.CredentialDebounce,
		MaxRetries:    cfg.SubscriptionMaxRetries,
		Logger:        logger,
	})

	subs := []*subscription.Subscription{
		manager.Manage(ctx, threads.WatchForParticipant(feed, cred.UserID, func(list []models.Thread) {
			logger.Printf("threads: %d", len(list))
			for _, thread := range list {
				logger.Printf("  %s  %q  updated %s", thread.ID, thread.LastMessageSnippet, thread.UpdatedAt.Format(time.RFC3339))
			}
		}), subscription.Options{Name: "threads"}),
	}

	if *threadID != "" {
		subs = append(subs, manager.Manage(ctx, messaging.WatchMessages(feed, *threadID, func(messages []models.Message) {
			if len(messages) == 0 {
				logger.Printf("messages %s: empty", *threadID)
				return
			}
			last := messages[len(messages)-1]
			logger.Printf("messages %s: %d, last from %s: %q", *threadID, len(messages), last.SenderName, last.MessageText)
		}), subscription.Options{Name: "messages"}))
	}

	watchCustomer := *customerID
	if watchCustomer == "" && cred.Role == workflow.RoleCustomer {
		watchCustomer = cred.UserID
	}
	if watchCustomer != "" {
		policy := workflow.Policy{ReviewerRoles: cfg.ReviewerRoles}
		subs = append(subs, manager.Manage(ctx, assignments.Watch(feed, watchCustomer, func(a models.Assignment) {
			display := assignments.DisplayStatus(policy, string(a.CurrentStatus()))
			logger.Printf("assignment %s: %s, owners %v, next %q", a.CustomerID, display.Status, display.Owners, display.Next)
		}), subscription.Options{Name: "assignment"}))
	}

	go refreshBeforeExpiry(ctx, provider, logger)

	<-ctx.Done()
	for _, sub := range subs {
		sub.Stop()
	}
	logger.Printf("stopped")
}

// refreshBeforeExpiry replaces the token shortly before it expires. Each
// refresh fires the provider's change listeners, which restart the
// subscriptions on the new token.
func refreshBeforeExpiry(ctx context.Context, provider *identity.TokenProvider, logger *log.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cred, err := provider.Current(ctx)
			if err != nil {
				logger.Printf("credential check: %v", err)
				continue
			}
			if cred.ExpiresAt.IsZero() || time.Until(cred.ExpiresAt) > refreshLead {
				continue
			}
			if _, err := provider.Refresh(ctx); err != nil {
				logger.Printf("token refresh: %v", err)
			}
		}
	}
}
