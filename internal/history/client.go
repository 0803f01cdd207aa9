// Package history fetches persisted conversations from the backend and
// turns the most recent one into a transcript seed for a fresh session.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/parleyhq/parley/internal/protocol"
)

// Client provides HTTP methods for the conversation persistence API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiPrefix  string // API prefix (e.g., "/api")
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithAPIPrefix sets the API prefix (e.g., "/api").
// Default is "/api".
func WithAPIPrefix(prefix string) Option {
	return func(client *Client) {
		client.apiPrefix = prefix
	}
}

// New creates a new persistence API client.
// baseURL should be the backend address (e.g., "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		apiPrefix: "/api",
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiURL builds a full API URL with the prefix.
func (c *Client) apiURL(path string) string {
	return c.baseURL + c.apiPrefix + path
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StoredMessage is one message of a persisted conversation.
type StoredMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationSummary describes a persisted conversation as returned by the
// list endpoint, most recent first. Messages may be inlined by the server;
// when absent, the detail endpoint must be fetched.
type ConversationSummary struct {
	ID        int64           `json:"id"`
	Title     string          `json:"title,omitempty"`
	LLMModel  int64           `json:"llm_model,omitempty"`
	UpdatedAt string          `json:"updated_at,omitempty"`
	Messages  []StoredMessage `json:"messages,omitempty"`
}

// ConversationDetail is the full record of one persisted conversation.
type ConversationDetail struct {
	ID       int64           `json:"id"`
	LLMModel int64           `json:"llm_model,omitempty"`
	Messages []StoredMessage `json:"messages"`
}

// ListConversations returns the persisted conversations for a chat context,
// most recent first.
func (c *Client) ListConversations(ctx context.Context, chatCtx protocol.Context) ([]ConversationSummary, error) {
	q := url.Values{}
	q.Set("context", strconv.FormatInt(chatCtx.ID, 10))
	q.Set("type", string(chatCtx.Kind))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL("/conversations?"+q.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list conversations: status %d: %s", resp.StatusCode, string(body))
	}

	var conversations []ConversationSummary
	if err := json.NewDecoder(resp.Body).Decode(&conversations); err != nil {
		return nil, fmt.Errorf("list conversations: decode: %w", err)
	}
	return conversations, nil
}

// GetConversation returns the full detail of one persisted conversation.
func (c *Client) GetConversation(ctx context.Context, id int64) (*ConversationDetail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL("/conversations/"+strconv.FormatInt(id, 10)), nil)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("conversation not found: %d", id)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get conversation: status %d: %s", resp.StatusCode, string(body))
	}

	var detail ConversationDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("get conversation: decode: %w", err)
	}
	return &detail, nil
}
