package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/docstore"
)

type Message struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"threadId"`
	SenderID     string    `json:"senderId"`
	ReceiverID   string    `json:"receiverId"`
	SenderRole   string    `json:"senderRole"`
	SenderName   string    `json:"senderName"`
	MessageTitle string    `json:"messageTitle"`
	MessageText  string    `json:"messageText"`
	FileURL      string    `json:"fileUrl,omitempty"`
	FileName     string    `json:"fileName,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func MessagePath(threadID, messageID string) string {
	return docstore.Join(MessagesPath(threadID), messageID)
}

func ParseMessage(doc docstore.Document) (Message, error) {
	data := doc.Data
	if data == nil || doc.ID == "" {
		return Message{}, fmt.Errorf("%w: message %s", ErrInvalidDocument, doc.Path)
	}

	threadID := stringField(data, "threadId")
	if threadID == "" {
		threadID = threadIDFromPath(doc.Path)
	}
	senderID := stringField(data, "senderId")
	if threadID == "" || senderID == "" {
		return Message{}, fmt.Errorf("%w: message %s missing thread or sender", ErrInvalidDocument, doc.ID)
	}
	timestamp, err := ParseTimestamp(data["timestamp"])
	if err != nil {
		return Message{}, err
	}

	return Message{
		ID:           doc.ID,
		ThreadID:     threadID,
		SenderID:     senderID,
		ReceiverID:   stringField(data, "receiverId"),
		SenderRole:   stringField(data, "senderRole"),
		SenderName:   stringField(data, "senderName"),
		MessageTitle: stringField(data, "messageTitle"),
		MessageText:  stringField(data, "messageText"),
		FileURL:      stringField(data, "fileUrl"),
		FileName:     stringField(data, "fileName"),
		Timestamp:    timestamp,
	}, nil
}

func EncodeMessage(m Message) map[string]any {
	data := map[string]any{
		"threadId":     m.ThreadID,
		"senderId":     m.SenderID,
		"receiverId":   m.ReceiverID,
		"senderRole":   m.SenderRole,
		"senderName":   m.SenderName,
		"messageTitle": m.MessageTitle,
		"messageText":  m.MessageText,
		"timestamp":    FormatTimestamp(m.Timestamp),
	}
	if m.FileURL != "" {
		data["fileUrl"] = m.FileURL
		data["fileName"] = m.FileName
	}
	return data
}

// threadIDFromPath reads the thread id out of threads/{id}/messages/{mid}.
func threadIDFromPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 4 && segments[0] == ThreadsCollection && segments[2] == MessagesCollection {
		return segments[1]
	}
	return ""
}
