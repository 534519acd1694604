package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/docstore"
)

const (
	ThreadsCollection  = "threads"
	MessagesCollection = "messages"
)

type ParticipantProfile struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Fields lists only the non-empty profile fields.
func (p ParticipantProfile) Fields() map[string]any {
	fields := make(map[string]any, 3)
	if p.Name != "" {
		fields["name"] = p.Name
	}
	if p.Email != "" {
		fields["email"] = p.Email
	}
	if p.Role != "" {
		fields["role"] = p.Role
	}
	return fields
}

// Participant identifies one side of a conversation.
type Participant struct {
	ID      string
	Profile ParticipantProfile
}

type Thread struct {
	ID                  string                        `json:"id"`
	Participants        []string                      `json:"participants"`
	ParticipantProfiles map[string]ParticipantProfile `json:"participantProfiles"`
	LastMessageSnippet  string                        `json:"lastMessageSnippet,omitempty"`
	LastMessageAt       time.Time                     `json:"lastMessageAt"`
	LastMessageSenderID string                        `json:"lastMessageSenderId,omitempty"`
	CreatedAt           time.Time                     `json:"createdAt"`
	UpdatedAt           time.Time                     `json:"updatedAt"`
}

func ThreadPath(threadID string) string {
	return docstore.Join(ThreadsCollection, threadID)
}

func MessagesPath(threadID string) string {
	return docstore.Join(ThreadsCollection, threadID, MessagesCollection)
}

// HasParticipant reports whether uid takes part in the thread. Ids compare
// case-insensitively, as they are stored lowercased.
func (t Thread) HasParticipant(uid string) bool {
	uid = strings.TrimSpace(uid)
	for _, participant := range t.Participants {
		if strings.EqualFold(participant, uid) {
			return true
		}
	}
	return false
}

// Profile returns uid's stored profile, matching ids case-insensitively.
func (t Thread) Profile(uid string) ParticipantProfile {
	return t.ParticipantProfiles[strings.ToLower(strings.TrimSpace(uid))]
}

// Counterpart returns the other participant, or "" if uid is not one.
func (t Thread) Counterpart(uid string) string {
	if !t.HasParticipant(uid) {
		return ""
	}
	for _, participant := range t.Participants {
		if !strings.EqualFold(participant, strings.TrimSpace(uid)) {
			return participant
		}
	}
	return ""
}

func ParseThread(doc docstore.Document) (Thread, error) {
	data := doc.Data
	if data == nil || doc.ID == "" {
		return Thread{}, fmt.Errorf("%w: thread %s", ErrInvalidDocument, doc.Path)
	}
	participants, ok := stringList(data["participants"])
	if !ok || len(participants) != 2 {
		return Thread{}, fmt.Errorf("%w: thread %s needs two participants", ErrInvalidDocument, doc.ID)
	}

	profiles := make(map[string]ParticipantProfile, 2)
	if raw, ok := data["participantProfiles"].(map[string]any); ok {
		for uid, value := range raw {
			fields, ok := value.(map[string]any)
			if !ok {
				continue
			}
			profiles[uid] = ParticipantProfile{
				Name:  stringField(fields, "name"),
				Email: stringField(fields, "email"),
				Role:  stringField(fields, "role"),
			}
		}
	}

	return Thread{
		ID:                  doc.ID,
		Participants:        participants,
		ParticipantProfiles: profiles,
		LastMessageSnippet:  stringField(data, "lastMessageSnippet"),
		LastMessageAt:       timeField(data, "lastMessageAt"),
		LastMessageSenderID: stringField(data, "lastMessageSenderId"),
		CreatedAt:           timeField(data, "createdAt"),
		UpdatedAt:           timeField(data, "updatedAt"),
	}, nil
}
