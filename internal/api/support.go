package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ListConversations returns all conversation summaries, newest activity first.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var result []Conversation
	if err := c.do(ctx, http.MethodGet, c.supportPath("/conversations", nil), nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetConversation returns one conversation summary.
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var result Conversation
	if err := c.do(ctx, http.MethodGet, c.supportPath("/conversations/"+url.PathEscape(id), nil), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateConversation opens a conversation for the given user.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (*CreateConversationResponse, error) {
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		return nil, fmt.Errorf("name and email are required")
	}
	var result CreateConversationResponse
	if err := c.do(ctx, http.MethodPost, c.supportPath("/conversations", nil), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListMessages returns the full message history of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	return c.listMessages(ctx, conversationID, nil)
}

// ListMessagesSince returns messages strictly newer than since.
func (c *Client) ListMessagesSince(ctx context.Context, conversationID string, since time.Time) ([]Message, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339Nano))
	return c.listMessages(ctx, conversationID, q)
}

func (c *Client) listMessages(ctx context.Context, conversationID string, q url.Values) ([]Message, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	var result []Message
	if err := c.do(ctx, http.MethodGet, c.supportPath(path, q), nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SendMessage posts a message and returns its server-assigned id and timestamp.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResponse, error) {
	if strings.TrimSpace(req.Message) == "" || req.ConversationID == "" {
		return nil, fmt.Errorf("message and conversation id are required")
	}
	var result SendMessageResponse
	if err := c.do(ctx, http.MethodPost, c.supportPath("/messages", nil), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MarkRead marks every message of a conversation as read.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, http.MethodPut, c.supportPath(path, nil), nil, nil)
}

// UpdateStatus changes a conversation's status.
func (c *Client) UpdateStatus(ctx context.Context, conversationID, status string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/status"
	body := map[string]string{"status": status}
	return c.do(ctx, http.MethodPut, c.supportPath(path, nil), body, nil)
}

// VerifyConversation reports whether a conversation exists and is still
// open for messages. A 404 is an answer here, not an error.
func (c *Client) VerifyConversation(ctx context.Context, conversationID string) (*Verification, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/verify"
	var result Verification
	err := c.do(ctx, http.MethodGet, c.supportPath(path, nil), nil, &result)
	if IsNotFoundError(err) {
		return &Verification{Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}
