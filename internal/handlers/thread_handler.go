package handlers

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/docstore"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/messaging"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/models"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/services"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/workflow"
	"github.com/gofiber/fiber/v2"
)

type threadDirectory interface {
	EnsureThread(ctx context.Context, customer, coach models.Participant) (models.Thread, error)
	Get(ctx context.Context, threadID string) (models.Thread, error)
	ListForParticipant(ctx context.Context, uid string) ([]models.Thread, error)
}

type messageChannel interface {
	SendMessage(
		ctx context.Context,
		thread models.Thread,
		sender models.Participant,
		receiver models.Participant,
		draft messaging.Draft,
	) (models.Message, error)
	ListMessages(ctx context.Context, threadID string) ([]models.Message, error)
}

type ThreadHandler struct {
	threads  threadDirectory
	messages messageChannel
	storage  services.StorageService
}

type participantRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (p participantRequest) participant() models.Participant {
	return models.Participant{
		ID: strings.TrimSpace(p.ID),
		Profile: models.ParticipantProfile{
			Name:  strings.TrimSpace(p.Name),
			Email: strings.TrimSpace(p.Email),
			Role:  strings.TrimSpace(p.Role),
		},
	}
}

type ensureThreadRequest struct {
	Customer participantRequest `json:"customer"`
	Coach    participantRequest `json:"coach"`
}

type sendMessageRequest struct {
	Title string `json:"title" form:"title"`
	Text  string `json:"text" form:"text"`
}

// NewThreadHandler wires the handler; storage may be nil when attachments
// are not configured.
func NewThreadHandler(threads threadDirectory, messages messageChannel, storage services.StorageService) *ThreadHandler {
	return &ThreadHandler{threads: threads, messages: messages, storage: storage}
}

func (h *ThreadHandler) EnsureThread(c *fiber.Ctx) error {
	actor, ok := actorFromLocals(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req ensureThreadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	customer := req.Customer.participant()
	coach := req.Coach.participant()
	if actor.Role != workflow.RoleAdmin && actor.ID != customer.ID && actor.ID != coach.ID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	thread, err := h.threads.EnsureThread(c.Context(), customer, coach)
	if err != nil {
		return mapThreadError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"thread": thread})
}

func (h *ThreadHandler) ListThreads(c *fiber.Ctx) error {
	actor, ok := actorFromLocals(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	threads, err := h.threads.ListForParticipant(c.Context(), actor.ID)
	if err != nil {
		return mapThreadError(c, err)
	}
	return c.JSON(fiber.Map{"threads": threads})
}

func (h *ThreadHandler) GetMessages(c *fiber.Ctx) error {
	_, thread, ok := h.loadThread(c)
	if !ok {
		return nil
	}

	page, limit := parsePagination(c)
	messages, err := h.messages.ListMessages(c.Context(), thread.ID)
	if err != nil {
		return mapThreadError(c, err)
	}

	return c.JSON(fiber.Map{
		"messages":   paginate(messages, page, limit),
		"pagination": buildPaginationMeta(page, limit, len(messages)),
	})
}

// SendMessage accepts JSON, or a multipart form when a file is attached.
func (h *ThreadHandler) SendMessage(c *fiber.Ctx) error {
	actor, thread, ok := h.loadThread(c)
	if !ok {
		return nil
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	draft := messaging.Draft{Title: req.Title, Text: req.Text}
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		if header, err := c.FormFile("file"); err == nil {
			file, err := header.Open()
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unable to read attachment"})
			}
			defer file.Close()
			draft.File = &messaging.Attachment{Name: header.Filename, Body: file}
		}
	}

	profile := thread.Profile(actor.ID)
	if profile.Role == "" {
		profile.Role = actor.Role
	}
	sender := models.Participant{ID: actor.ID, Profile: profile}
	receiverID := thread.Counterpart(actor.ID)
	receiver := models.Participant{ID: receiverID, Profile: thread.Profile(receiverID)}

	message, err := h.messages.SendMessage(c.Context(), thread, sender, receiver, draft)
	if errors.Is(err, messaging.ErrSummaryNotUpdated) {
		log.Printf("thread %s summary not updated after message %s: %v", thread.ID, message.ID, err)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"message": message,
			"warning": "Message sent; conversation preview not updated",
		})
	}
	if err != nil {
		return mapThreadError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": message})
}

// GetAttachmentURL returns a short-lived signed link to a message attachment.
func (h *ThreadHandler) GetAttachmentURL(c *fiber.Ctx) error {
	if h.storage == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "File storage is not configured"})
	}
	_, thread, ok := h.loadThread(c)
	if !ok {
		return nil
	}

	messages, err := h.messages.ListMessages(c.Context(), thread.ID)
	if err != nil {
		return mapThreadError(c, err)
	}
	messageID := c.Params("messageId")
	for _, message := range messages {
		if message.ID != messageID {
			continue
		}
		if message.FileURL == "" {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Message has no attachment"})
		}
		signed, err := h.storage.GetSignedURL(c.Context(), message.FileURL)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Failed to sign attachment url"})
		}
		return c.JSON(fiber.Map{"url": signed, "file_name": message.FileName})
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Message not found"})
}

// loadThread resolves the caller and the :id thread the caller takes part
// in. When ok is false the error response is already set.
func (h *ThreadHandler) loadThread(c *fiber.Ctx) (actor workflow.Actor, thread models.Thread, ok bool) {
	actor, ok = actorFromLocals(c)
	if !ok {
		_ = c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		return actor, thread, false
	}

	thread, err := h.threads.Get(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		_ = mapThreadError(c, err)
		return actor, thread, false
	}
	if !thread.HasParticipant(actor.ID) && actor.Role != workflow.RoleAdmin {
		_ = c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
		return actor, thread, false
	}
	return actor, thread, true
}

func mapThreadError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, docstore.ErrInvalidPath):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, messaging.ErrStorageUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "File storage is not configured"})
	case errors.Is(err, docstore.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Thread not found"})
	case errors.Is(err, models.ErrInvalidDocument):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "Thread is malformed"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process thread request"})
	}
}
