// Package support keeps support-conversation timelines consistent while
// messages arrive redundantly over a push channel and a polling fallback.
//
// Every producer (push events, poll ticks, history loads, local sends)
// funnels candidates into Store.Ingest, the single place where
// deduplication and ordering rules live.
package support

import (
	"fmt"
	"strings"
	"time"
)

// Role is a participant's role in a conversation.
type Role string

const (
	RoleClient       Role = "client"
	RoleDriver       Role = "driver"
	RoleAdmin        Role = "admin"
	RoleSystem       Role = "system"
	RoleCollaborator Role = "collaborator"
)

// AccountKind distinguishes individual and company accounts.
type AccountKind string

const (
	AccountIndividual AccountKind = "individual"
	AccountCompany    AccountKind = "company"
)

// Participant is an immutable snapshot of a sender, recipient or
// conversation member.
type Participant struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"displayName"`
	Role        Role        `json:"role"`
	AccountKind AccountKind `json:"accountKind,omitempty"`
	CompanyName string      `json:"companyName,omitempty"`
	AvatarURL   string      `json:"avatarUrl,omitempty"`
}

// Attachment is a file reference carried by a message.
type Attachment struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// Statuses lists the valid statuses in workflow order.
var Statuses = []Status{StatusOpen, StatusInProgress, StatusResolved, StatusClosed}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	norm := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range Statuses {
		if st == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid status %q (valid: open, in_progress, resolved, closed)", s)
}

// Priority is the urgency of a conversation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Categories and sources used by the portal. Unknown values from the
// backend pass through untouched.
const (
	CategoryGeneral   = "general"
	CategoryTechnical = "technical"
	CategoryBooking   = "booking"
	CategoryPayment   = "payment"
	CategoryComplaint = "complaint"
	CategoryFeedback  = "feedback"
	CategoryDriver    = "driver"
	CategoryOther     = "other"

	SourceWeb       = "web"
	SourceAppClient = "app_client"
	SourceAppDriver = "app_driver"
	SourceEmail     = "email"
	SourceInternal  = "internal"
)

// Delivery tracks an optimistic message until the server confirms it.
type Delivery string

const (
	DeliveryPending Delivery = "pending"
	DeliveryFailed  Delivery = "failed"
)

// Message is one entry of a conversation timeline.
//
// A provisional message (Provisional=true) was created locally before the
// server assigned it an id; it is replaced wholesale once confirmed. A
// synthesized message (Synthesized=true) arrived without an id and is
// replaced by the server copy when polling or history delivers it.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	Subject        string       `json:"subject,omitempty"`
	Body           string       `json:"body"`
	Sender         Participant  `json:"sender"`
	Recipient      Participant  `json:"recipient"`
	SentAt         time.Time    `json:"sentAt"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Status         Status       `json:"status,omitempty"`
	Priority       Priority     `json:"priority,omitempty"`
	Category       string       `json:"category,omitempty"`
	Source         string       `json:"source,omitempty"`
	Read           bool         `json:"read"`
	Provisional    bool         `json:"provisional,omitempty"`
	Delivery       Delivery     `json:"delivery,omitempty"`
	Synthesized    bool         `json:"synthesized,omitempty"`
	// LocalClock is set when SentAt came from this machine, not the server.
	LocalClock bool `json:"localClock,omitempty"`
}

// LastMessage summarizes the newest message of a conversation.
type LastMessage struct {
	Body   string      `json:"body"`
	SentAt time.Time   `json:"sentAt"`
	Sender Participant `json:"sender"`
}

// Conversation is a conversation summary. Participants holds exactly the
// counterpart (index 0) and the admin (index 1).
type Conversation struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Participants [2]Participant `json:"participants"`
	LastMessage  *LastMessage   `json:"lastMessage,omitempty"`
	UnreadCount  int            `json:"unreadCount"`
	Status       Status         `json:"status"`
	Priority     Priority       `json:"priority"`
	Category     string         `json:"category"`
	Source       string         `json:"source"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Counterpart returns the non-admin participant.
func (c *Conversation) Counterpart() Participant { return c.Participants[0] }

// Admin returns the admin participant.
func (c *Conversation) Admin() Participant { return c.Participants[1] }

// statusAfterReply is the status a conversation takes when an admin
// answers it. Only open conversations move; resolved and closed ones stay.
func statusAfterReply(s Status) Status {
	if s == StatusOpen {
		return StatusInProgress
	}
	return s
}

func lastMessageOf(m Message) *LastMessage {
	return &LastMessage{Body: m.Body, SentAt: m.SentAt, Sender: m.Sender}
}

// withDefaults fills the snapshot fields a push or poll payload may omit
// from the conversation the message belongs to.
func (c *Conversation) withDefaults(m Message) Message {
	if m.ConversationID == "" {
		m.ConversationID = c.ID
	}
	if m.Status == "" {
		m.Status = c.Status
	}
	if m.Priority == "" {
		m.Priority = c.Priority
	}
	if m.Category == "" {
		m.Category = c.Category
	}
	if m.Source == "" {
		m.Source = c.Source
	}
	if m.Sender.ID == "" {
		// thin push payloads may omit the sender id; attribute by role so
		// fuzzy matching still lines up with the polled copy
		fallback := c.Counterpart()
		if m.Sender.Role == RoleAdmin {
			fallback = c.Admin()
		}
		m.Sender.ID = fallback.ID
		if m.Sender.DisplayName == "" {
			m.Sender.DisplayName = fallback.DisplayName
		}
	}
	if m.Recipient.ID == "" {
		if m.Sender.Role == RoleAdmin {
			m.Recipient = c.Counterpart()
		} else {
			m.Recipient = c.Admin()
		}
	}
	return m
}
