// Package messaging appends messages to a thread and maintains the thread's
// denormalized last-message summary.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/docstore"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/models"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/subscription"
	"github.com/google/uuid"
)

// SnippetLimit bounds lastMessageSnippet, in characters.
const SnippetLimit = 140

var (
	ErrValidation         = fmt.Errorf("message: %w", models.ErrValidation)
	ErrStorageUnavailable = errors.New("file storage unavailable")
	// ErrSummaryNotUpdated accompanies a message that was stored while the
	// thread summary write failed.
	ErrSummaryNotUpdated = errors.New("thread summary not updated")
)

type Uploader interface {
	UploadFile(ctx context.Context, file io.Reader, filename string, folder string) (string, error)
}

// remover is implemented by uploaders that can discard an attachment whose
// message was never stored.
type remover interface {
	DeleteFile(ctx context.Context, fileURL string) error
}

type Attachment struct {
	Name string
	Body io.Reader
}

type Draft struct {
	Title string
	Text  string
	File  *Attachment
}

type Channel struct {
	store    docstore.Store
	uploader Uploader
	now      func() time.Time
}

// NewChannel wires a channel; uploader may be nil when file storage is not
// configured.
func NewChannel(store docstore.Store, uploader Uploader) *Channel {
	return &Channel{store: store, uploader: uploader, now: time.Now}
}

// SendMessage stores the message, then updates the thread summary in a
// separate write. When only the summary write fails the stored message is
// returned together with an error wrapping ErrSummaryNotUpdated.
func (c *Channel) SendMessage(
	ctx context.Context,
	thread models.Thread,
	sender models.Participant,
	receiver models.Participant,
	draft Draft,
) (models.Message, error) {
	title := strings.TrimSpace(draft.Title)
	text := strings.TrimSpace(draft.Text)
	if title == "" && text == "" {
		return models.Message{}, fmt.Errorf("%w: title or text is required", ErrValidation)
	}
	if thread.ID == "" || sender.ID == "" {
		return models.Message{}, fmt.Errorf("%w: missing thread or sender", ErrValidation)
	}
	if !thread.HasParticipant(sender.ID) {
		return models.Message{}, fmt.Errorf("%w: sender %s is not part of thread %s", ErrValidation, sender.ID, thread.ID)
	}
	if receiver.ID == "" {
		receiver.ID = thread.Counterpart(sender.ID)
	}
	if receiver.ID == "" || !thread.HasParticipant(receiver.ID) {
		return models.Message{}, fmt.Errorf("%w: receiver is not part of thread %s", ErrValidation, thread.ID)
	}
	if draft.File != nil && c.uploader == nil {
		return models.Message{}, ErrStorageUnavailable
	}

	msg := models.Message{
		ID:           uuid.NewString(),
		ThreadID:     thread.ID,
		SenderID:     sender.ID,
		ReceiverID:   receiver.ID,
		SenderRole:   sender.Profile.Role,
		SenderName:   sender.Profile.Name,
		MessageTitle: title,
		MessageText:  text,
	}

	if draft.File != nil {
		fileName := path.Base(strings.TrimSpace(draft.File.Name))
		if fileName == "." || fileName == "/" {
			fileName = "attachment"
		}
		folder := path.Join(models.MessagesPath(thread.ID), msg.ID)
		fileURL, err := c.uploader.UploadFile(ctx, draft.File.Body, fileName, folder)
		if err != nil {
			return models.Message{}, fmt.Errorf("upload attachment: %w", err)
		}
		msg.FileURL = fileURL
		msg.FileName = fileName
	}

	msg.Timestamp = c.now().UTC()
	if err := c.store.Set(ctx, models.MessagePath(thread.ID, msg.ID), models.EncodeMessage(msg), docstore.SetOptions{}); err != nil {
		c.discardAttachment(msg.FileURL)
		return models.Message{}, fmt.Errorf("write message: %w", err)
	}

	summary := map[string]any{
		"lastMessageSnippet":  Snippet(title, text),
		"lastMessageAt":       models.FormatTimestamp(msg.Timestamp),
		"lastMessageSenderId": sender.ID,
		"updatedAt":           models.FormatTimestamp(msg.Timestamp),
	}
	if err := c.store.Set(ctx, models.ThreadPath(thread.ID), summary, docstore.SetOptions{Merge: true}); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrSummaryNotUpdated, err)
	}
	return msg, nil
}

func (c *Channel) discardAttachment(fileURL string) {
	r, ok := c.uploader.(remover)
	if fileURL == "" || !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.DeleteFile(ctx, fileURL); err != nil {
		log.Printf("messaging: discard orphaned attachment %s: %v", fileURL, err)
	}
}

// ListMessages reads the thread's messages oldest first. It never depends on
// the thread summary.
func (c *Channel) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, fmt.Errorf("%w: missing thread id", ErrValidation)
	}
	docs, err := c.store.Query(ctx, messagesQuery(threadID))
	if err != nil {
		return nil, err
	}
	return decodeMessages(docs), nil
}

// WatchMessages is a subscription factory pushing the thread's messages,
// oldest first.
func WatchMessages(store docstore.Subscriber, threadID string, onMessages func([]models.Message)) subscription.Factory {
	return func(ctx context.Context, helpers subscription.Helpers) (subscription.Unsubscribe, error) {
		unsubscribe, err := store.Subscribe(ctx, docstore.QueryTarget(messagesQuery(threadID)), func(docs []docstore.Document) {
			helpers.Healthy()
			onMessages(decodeMessages(docs))
		}, helpers.OnError)
		if err != nil {
			return nil, err
		}
		return subscription.Unsubscribe(unsubscribe), nil
	}
}

// Snippet joins title and text and cuts the result to SnippetLimit
// characters.
func Snippet(title, text string) string {
	parts := make([]string, 0, 2)
	for _, part := range []string{title, text} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	snippet := strings.Join(parts, " - ")
	if utf8.RuneCountInString(snippet) <= SnippetLimit {
		return snippet
	}
	return string([]rune(snippet)[:SnippetLimit])
}

func messagesQuery(threadID string) docstore.Query {
	return docstore.Query{
		Collection: models.MessagesPath(threadID),
		OrderBy:    []docstore.OrderBy{{Field: "timestamp"}},
	}
}

func decodeMessages(docs []docstore.Document) []models.Message {
	messages := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		msg, err := models.ParseMessage(doc)
		if err != nil {
			log.Printf("messaging: skipping %s: %v", doc.Path, err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}
