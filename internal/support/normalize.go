package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/operiq/support-sync/internal/api"
)

var (
	// ErrMalformedEvent marks a push payload matching neither known shape.
	ErrMalformedEvent = errors.New("malformed push event")
	// ErrUnroutedEvent marks a push payload that names no conversation.
	ErrUnroutedEvent = errors.New("push event names no conversation")
)

// PushEvent is a push payload reduced to the conversation it targets and
// the message it carries.
type PushEvent struct {
	ConversationID string
	Message        Message
}

// NormalizePushEvent decodes either push shape:
//
//	{"conversationId": "...", "message": {...}}   envelope (thin or full message)
//	{"message": {...full message...}}             room broadcast
//	{...message...}                               bare message
//
// The conversation id comes from the envelope, then from the message, then
// from channelConversationID (the id in a conversation:{id} channel name).
// Missing message ids are synthesized and missing timestamps become now;
// both are flagged so the store can reconcile them later.
func NormalizePushEvent(channelConversationID string, payload json.RawMessage, now time.Time) (PushEvent, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return PushEvent{}, fmt.Errorf("%w: not an object", ErrMalformedEvent)
	}

	var envelope struct {
		ConversationID api.FlexString  `json:"conversationId"`
		Message        json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return PushEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	inner := payload
	if trimmed := bytes.TrimSpace(envelope.Message); len(trimmed) > 0 && trimmed[0] == '{' {
		inner = trimmed
	}
	var wire api.Message
	if err := json.Unmarshal(inner, &wire); err != nil {
		return PushEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(wire.Message) == "" {
		return PushEvent{}, fmt.Errorf("%w: message has no body", ErrMalformedEvent)
	}

	conversationID := string(envelope.ConversationID)
	if conversationID == "" {
		conversationID = string(wire.ConversationID)
	}
	if conversationID == "" {
		conversationID = channelConversationID
	}
	if conversationID == "" {
		return PushEvent{}, ErrUnroutedEvent
	}

	return PushEvent{
		ConversationID: conversationID,
		Message:        MessageFromAPI(wire, conversationID, now),
	}, nil
}

// MessageFromAPI converts a wire message. now backs up missing ids and
// timestamps.
func MessageFromAPI(m api.Message, conversationID string, now time.Time) Message {
	id := m.Key()
	synthesized := id == ""
	if synthesized {
		id = newLocalID(now)
	}
	if c := string(m.ConversationID); c != "" {
		conversationID = c
	}
	sentAt := m.Timestamp.Time
	localClock := sentAt.IsZero()
	if localClock {
		sentAt = now
	}

	var sender Participant
	if m.Sender != nil {
		sender = participantFromPerson(*m.Sender)
	} else {
		sender = Participant{ID: string(m.SenderID), DisplayName: m.SenderName, Role: RoleClient}
		if m.IsAdmin != nil && *m.IsAdmin {
			sender.Role = RoleAdmin
		}
	}
	var recipient Participant
	if m.Recipient != nil {
		recipient = participantFromPerson(*m.Recipient)
	}

	out := Message{
		ID:             id,
		ConversationID: conversationID,
		Subject:        m.Subject,
		Body:           m.Message,
		Sender:         sender,
		Recipient:      recipient,
		SentAt:         sentAt,
		Status:         Status(m.Status),
		Priority:       Priority(m.Priority),
		Category:       m.Category,
		Source:         m.Source,
		Read:           m.Read,
		Synthesized:    synthesized,
		LocalClock:     localClock,
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, Attachment{Name: a.Name, URL: a.URL, Type: a.Type, Size: a.Size})
	}
	return out
}

func participantFromPerson(p api.Person) Participant {
	out := Participant{
		ID:          string(p.ID),
		DisplayName: p.Name,
		Role:        RoleClient,
		CompanyName: p.CompanyName,
		AvatarURL:   p.Avatar,
	}
	switch {
	case p.IsAdmin:
		out.Role = RoleAdmin
	case p.UserType == "driver":
		out.Role = RoleDriver
	}
	out.AccountKind = accountKind(p.UserType)
	return out
}

func accountKind(userType string) AccountKind {
	switch AccountKind(strings.ToLower(userType)) {
	case AccountCompany:
		return AccountCompany
	case AccountIndividual:
		return AccountIndividual
	default:
		return ""
	}
}

// ConversationFromAPI converts a wire conversation summary. adminParticipant
// is the local admin identity; the backend only stores the counterpart.
func ConversationFromAPI(c api.Conversation, adminParticipant Participant) Conversation {
	counterpart := Participant{
		ID:          string(c.UserID),
		DisplayName: c.UserName,
		Role:        RoleClient,
		AccountKind: accountKind(c.UserType),
		CompanyName: c.CompanyName,
		AvatarURL:   c.UserAvatar,
	}
	if c.Source == SourceAppDriver {
		counterpart.Role = RoleDriver
	}

	out := Conversation{
		ID:           c.Key(),
		Title:        c.Title,
		Participants: [2]Participant{counterpart, adminParticipant},
		UnreadCount:  max(c.UnreadCount, 0),
		Status:       Status(strings.ToLower(c.Status)),
		Priority:     Priority(strings.ToLower(c.Priority)),
		Category:     c.Category,
		Source:       c.Source,
		CreatedAt:    c.CreatedAt.Time,
		UpdatedAt:    c.UpdatedAt.Time,
	}
	if out.Title == "" {
		out.Title = "Conversation with " + counterpart.DisplayName
	}
	if out.Status == "" {
		out.Status = StatusOpen
	}
	if out.Priority == "" {
		out.Priority = PriorityMedium
	}
	if out.Category == "" {
		out.Category = CategoryGeneral
	}
	if out.Source == "" {
		out.Source = SourceWeb
	}
	if lm := c.LastMessage; lm != nil {
		sender := Participant{ID: string(lm.SenderID), DisplayName: lm.SenderName, Role: RoleClient}
		if lm.IsAdmin {
			sender = adminParticipant
		}
		out.LastMessage = &LastMessage{Body: lm.Message, SentAt: lm.Timestamp.Time, Sender: sender}
	}
	return out
}
