package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FlexString accepts JSON strings or numbers and stores them as a string.
// Ids arrive as Mongo hex strings, UUIDs or plain integers depending on
// which backend path produced them.
type FlexString string

func (fs *FlexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*fs = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*fs = FlexString(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		if f == float64(int64(f)) {
			*fs = FlexString(strconv.FormatInt(int64(f), 10))
		} else {
			*fs = FlexString(strconv.FormatFloat(f, 'f', -1, 64))
		}
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into FlexString", data)
}

func (fs FlexString) String() string {
	return string(fs)
}

// Timestamp decodes the backend's timestamp variants. The backend writes
// naive ISO-8601 strings (no zone), which are read as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime parses any timestamp form the backend emits.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return unixTime(n), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// unixTime treats values above 1e12 as milliseconds.
func unixTime(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec := int64(n)
	return time.Unix(sec, int64((n-float64(sec))*1e9)).UTC()
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		ts.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t, err := ParseTime(s)
		if err != nil {
			return err
		}
		ts.Time = t
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		ts.Time = unixTime(n)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into Timestamp", data)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.UTC().Format(time.RFC3339Nano))
}

// Person is a message sender or recipient as stored by the backend.
type Person struct {
	ID          FlexString `json:"id,omitempty"`
	Name        string     `json:"name,omitempty"`
	Email       string     `json:"email,omitempty"`
	IsAdmin     bool       `json:"isAdmin,omitempty"`
	UserType    string     `json:"userType,omitempty"`
	CompanyName string     `json:"companyName,omitempty"`
	Avatar      string     `json:"avatar,omitempty"`
}

// Attachment is a file reference carried by a message.
type Attachment struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Message is a support message in either of its wire forms: the stored
// form with nested sender/recipient, or the thin push form that flattens
// the sender into senderId/senderName/isAdmin.
type Message struct {
	ID             FlexString   `json:"id,omitempty"`
	MongoID        FlexString   `json:"_id,omitempty"`
	ConversationID FlexString   `json:"conversationId,omitempty"`
	Subject        string       `json:"subject,omitempty"`
	Message        string       `json:"message"`
	Sender         *Person      `json:"sender,omitempty"`
	Recipient      *Person      `json:"recipient,omitempty"`
	SenderID       FlexString   `json:"senderId,omitempty"`
	SenderName     string       `json:"senderName,omitempty"`
	IsAdmin        *bool        `json:"isAdmin,omitempty"`
	Timestamp      Timestamp    `json:"timestamp"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Read           bool         `json:"read,omitempty"`
	Status         string       `json:"status,omitempty"`
	Priority       string       `json:"priority,omitempty"`
	Category       string       `json:"category,omitempty"`
	Source         string       `json:"source,omitempty"`
}

// Key returns id, falling back to _id.
func (m *Message) Key() string {
	if m.ID != "" {
		return string(m.ID)
	}
	return string(m.MongoID)
}

// LastMessage is the summary of a conversation's newest message.
type LastMessage struct {
	Message    string     `json:"message"`
	Timestamp  Timestamp  `json:"timestamp"`
	IsAdmin    bool       `json:"isAdmin"`
	SenderID   FlexString `json:"senderId,omitempty"`
	SenderName string     `json:"senderName,omitempty"`
}

// Conversation is a conversation summary as listed by the backend.
type Conversation struct {
	ID          FlexString   `json:"id,omitempty"`
	MongoID     FlexString   `json:"_id,omitempty"`
	Title       string       `json:"title"`
	UserID      FlexString   `json:"userId,omitempty"`
	UserName    string       `json:"userName,omitempty"`
	UserEmail   string       `json:"userEmail,omitempty"`
	UserType    string       `json:"userType,omitempty"`
	CompanyName string       `json:"companyName,omitempty"`
	UserAvatar  string       `json:"userAvatar,omitempty"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
	UnreadCount int          `json:"unreadCount"`
	Status      string       `json:"status,omitempty"`
	Priority    string       `json:"priority,omitempty"`
	Category    string       `json:"category,omitempty"`
	Source      string       `json:"source,omitempty"`
	CreatedAt   Timestamp    `json:"createdAt"`
	UpdatedAt   Timestamp    `json:"updatedAt"`
}

// Key returns id, falling back to _id.
func (c *Conversation) Key() string {
	if c.ID != "" {
		return string(c.ID)
	}
	return string(c.MongoID)
}

// SenderInfo identifies the author of an outgoing message.
type SenderInfo struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"isAdmin"`
}

// SendMessageRequest is the body of POST /support/messages.
type SendMessageRequest struct {
	Message        string     `json:"message"`
	Sender         SenderInfo `json:"sender"`
	ConversationID string     `json:"conversationId"`
	Subject        string     `json:"subject,omitempty"`
	Category       string     `json:"category,omitempty"`
	Source         string     `json:"source,omitempty"`
}

// SendMessageResponse carries the server-assigned id and timestamp.
type SendMessageResponse struct {
	ID        FlexString `json:"id"`
	Timestamp Timestamp  `json:"timestamp"`
	Status    string     `json:"status"`
}

// CreateConversationRequest opens a conversation on behalf of a user.
type CreateConversationRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	UserType    string `json:"userType,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	Source      string `json:"source,omitempty"`
}

// CreateConversationResponse carries the new conversation id.
type CreateConversationResponse struct {
	ConversationID FlexString `json:"conversationId"`
	Message        string     `json:"message,omitempty"`
}

// Verification reports whether a conversation exists and still accepts messages.
type Verification struct {
	Exists  bool   `json:"exists"`
	Valid   bool   `json:"valid"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}
