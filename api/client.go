package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pelocaramelo/messaging/auth"
	"github.com/pelocaramelo/messaging/model"
)

const requestTimeout = 10 * time.Second

// Client talks to the message persistence API. All calls carry the bearer
// credential of the configured identity.
type Client struct {
	baseURL    string
	identity   auth.Identity
	httpClient *http.Client
}

func New(baseURL string, identity auth.Identity) *Client {
	return &Client{
		baseURL:  baseURL,
		identity: identity,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// Messages fetches the full message page of a conversation. Used by the
// initial load and by every poll tick.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var out struct {
		Messages []model.Message `json:"messages"`
	}
	path := fmt.Sprintf("/conversation/%s/messages", conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, &FetchError{ConversationID: conversationID, Err: err}
	}
	return out.Messages, nil
}

// Send durably appends a message and returns the server-confirmed copy.
func (c *Client) Send(ctx context.Context, conversationID, body string) (*model.Message, error) {
	req := struct {
		Body string `json:"body"`
	}{Body: body}
	var out struct {
		Message *model.Message `json:"message"`
	}
	path := fmt.Sprintf("/conversation/%s/messages", conversationID)
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, &SendError{ConversationID: conversationID, Err: err}
	}
	if out.Message == nil {
		return nil, &SendError{ConversationID: conversationID, Err: fmt.Errorf("response carries no message")}
	}
	return out.Message, nil
}

// Unread lists the conversations with messages not yet read by the caller.
func (c *Client) Unread(ctx context.Context) ([]string, error) {
	var out struct {
		ConversationIDs []string `json:"conversation_ids"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations/unread", nil, &out); err != nil {
		return nil, &FetchError{Err: err}
	}
	return out.ConversationIDs, nil
}

// MarkRead marks every unread-to-me message of the conversation as read.
// Safe to repeat; the server treats an already-read conversation as a no-op.
func (c *Client) MarkRead(ctx context.Context, conversationID string) (int, error) {
	var out struct {
		OK      bool `json:"ok"`
		Updated int  `json:"updated"`
	}
	path := fmt.Sprintf("/conversation/%s/read", conversationID)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body *bytes.Buffer
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %v", err)
		}
		body = bytes.NewBuffer(data)
	} else {
		body = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.identity.Token())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Error payloads are `{"error": "..."}`. Decode failures fall back to
		// the bare status code.
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		if failure.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, failure.Error)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %v", err)
	}
	return nil
}
