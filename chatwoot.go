// Package chatwoot is a Go client for embedding Chatwoot-style customer
// support chat: a REST client for the public inbox API, a realtime WebSocket
// channel, and a repository that keeps a local cache in sync with both.
//
// Example:
//
//	client := chatwoot.NewClient("https://app.example.com", "inbox-key",
//		chatwoot.WithContactIdentifier("c4f2..."),
//		chatwoot.WithConversationID(412))
//
//	store := chatwoot.NewMemoryStorage()
//	repo := chatwoot.NewRepository(client, store, &chatwoot.Callbacks{
//		OnMessageReceived: func(m chatwoot.Message) { fmt.Println(m.Content) },
//	})
//
//	repo.Initialize(ctx, &chatwoot.User{Name: "Jane"})
//	repo.SendMessage(ctx, chatwoot.NewMessageRequest{Content: "hello"})
package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second

	// apiRoot is the public (widget-facing) API prefix; every path below it
	// is scoped to one inbox identifier.
	apiRoot = "/public/api/v1/inboxes"
)

// ============================================================================
// Client
// ============================================================================

// Client talks to the chat backend on behalf of one widget contact. It
// implements Service. The contact identifier and conversation id come either
// from options (persisted by a previous bootstrap) or from the Create*
// bootstrap calls; set them before sharing the client across goroutines.
type Client struct {
	baseURL           string
	inboxIdentifier   string
	contactIdentifier string
	conversationID    int64
	httpClient        *http.Client
	log               *slog.Logger

	mu   sync.Mutex
	conn *Connection
}

type ClientOption func(*Client)

// WithContactIdentifier sets the contact's source id used in REST paths.
func WithContactIdentifier(id string) ClientOption {
	return func(c *Client) { c.contactIdentifier = id }
}

// WithConversationID sets the active conversation for message endpoints.
func WithConversationID(id int64) ClientOption {
	return func(c *Client) { c.conversationID = id }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client for one inbox of the backend at baseURL.
func NewClient(baseURL, inboxIdentifier string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		inboxIdentifier: inboxIdentifier,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetContactIdentifier updates the contact scope after a bootstrap
// CreateContact call. Not safe to call concurrently with requests.
func (c *Client) SetContactIdentifier(id string) {
	c.contactIdentifier = id
}

// SetConversationID updates the conversation scope after a bootstrap
// CreateConversation call. Not safe to call concurrently with requests.
func (c *Client) SetConversationID(id int64) {
	c.conversationID = id
}

// ============================================================================
// Internal request helpers
// ============================================================================

// doRequest performs one REST call and classifies failures into the
// ClientError taxonomy: network for transport problems, backend_rejected for
// HTTP >= 400.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, NewClientError(ErrorKindNetwork, fmt.Errorf("marshal request: %w", err))
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, NewClientError(ErrorKindNetwork, fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewClientError(ErrorKindNetwork, fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewClientError(ErrorKindNetwork, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 400 {
		return nil, NewClientError(ErrorKindBackend,
			fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bodySnippet(data)))
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, NewClientError(ErrorKindMalformed, fmt.Errorf("unmarshal response: %w", err))
	}
	return &result, nil
}

// bodySnippet keeps error messages readable when the backend returns a page
// of HTML instead of JSON.
func bodySnippet(data []byte) string {
	const max = 256
	s := strings.TrimSpace(string(data))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func (c *Client) inboxPath() string {
	return apiRoot + "/" + url.PathEscape(c.inboxIdentifier)
}

func (c *Client) contactPath() (string, error) {
	if c.contactIdentifier == "" {
		return "", fmt.Errorf("contact identifier not set")
	}
	return c.inboxPath() + "/contacts/" + url.PathEscape(c.contactIdentifier), nil
}

func (c *Client) conversationPath() (string, error) {
	base, err := c.contactPath()
	if err != nil {
		return "", err
	}
	if c.conversationID == 0 {
		return "", fmt.Errorf("conversation id not set")
	}
	return fmt.Sprintf("%s/conversations/%d", base, c.conversationID), nil
}

// ============================================================================
// Contact API
// ============================================================================

// CreateContact registers a new contact on the inbox and returns its
// server-assigned identity, including the pubsub token and the source id the
// remaining endpoints are scoped by. This is the bootstrap call a widget
// makes exactly once per installation.
func (c *Client) CreateContact(ctx context.Context, user *User) (*Contact, error) {
	data, err := c.doRequest(ctx, http.MethodPost, c.inboxPath()+"/contacts", user)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Contact](data)
}

// GetContact fetches the current contact, refreshing the pubsub token.
func (c *Client) GetContact(ctx context.Context) (*Contact, error) {
	path, err := c.contactPath()
	if err != nil {
		return nil, err
	}
	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Contact](data)
}

// ============================================================================
// Conversation API
// ============================================================================

// CreateConversation opens a conversation for the contact. Like
// CreateContact, this is part of the one-time widget bootstrap.
func (c *Client) CreateConversation(ctx context.Context) (*Conversation, error) {
	path, err := c.contactPath()
	if err != nil {
		return nil, err
	}
	data, err := c.doRequest(ctx, http.MethodPost, path+"/conversations", nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// GetConversations lists every conversation the contact has on this inbox.
func (c *Client) GetConversations(ctx context.Context) ([]Conversation, error) {
	path, err := c.contactPath()
	if err != nil {
		return nil, err
	}
	data, err := c.doRequest(ctx, http.MethodGet, path+"/conversations", nil)
	if err != nil {
		return nil, err
	}
	out, err := decodeJSON[[]Conversation](data)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// ============================================================================
// Message API
// ============================================================================

// GetAllMessages fetches the full message history of the active conversation.
func (c *Client) GetAllMessages(ctx context.Context) ([]Message, error) {
	path, err := c.conversationPath()
	if err != nil {
		return nil, err
	}
	data, err := c.doRequest(ctx, http.MethodGet, path+"/messages", nil)
	if err != nil {
		return nil, err
	}
	out, err := decodeJSON[[]Message](data)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// CreateMessage posts a new message to the active conversation and returns
// the server-created record, echo id included.
func (c *Client) CreateMessage(ctx context.Context, req *NewMessageRequest) (*Message, error) {
	path, err := c.conversationPath()
	if err != nil {
		return nil, err
	}
	data, err := c.doRequest(ctx, http.MethodPost, path+"/messages", req)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// ============================================================================
// Realtime lifecycle
// ============================================================================

// StartConnection opens the realtime channel for token, reusing the existing
// connection when it is still alive and keyed by the same token.
func (c *Client) StartConnection(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.token == token && !c.conn.isClosed() {
		return nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	conn, err := dialConnection(ctx, websocketURL(c.baseURL), token, c.log)
	if err != nil {
		return NewClientError(ErrorKindNetwork, err)
	}
	c.conn = conn
	return nil
}

// Connection returns the live realtime connection, nil until StartConnection
// has succeeded.
func (c *Client) Connection() Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn
}

// SendAction relays a user-state signal (typing, presence) over the realtime
// channel. The channel must have been started.
func (c *Client) SendAction(ctx context.Context, token string, action ActionType) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || conn.isClosed() {
		return NewClientError(ErrorKindNetwork, fmt.Errorf("send %s: realtime connection not started", action))
	}
	if err := conn.sendAction(ctx, token, action); err != nil {
		return NewClientError(ErrorKindNetwork, err)
	}
	return nil
}

// Close shuts the realtime connection down. REST calls remain usable.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// websocketURL derives the cable endpoint from the REST base URL.
func websocketURL(baseURL string) string {
	u := baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimRight(u, "/") + "/cable"
}
