// Package remote talks to the server that owns the authoritative copy of
// decks and cards.
package remote

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
	"time"

	"github.com/conorfennell/cardify/internal/domain"
)

const defaultTimeout = 15 * time.Second

// Gateway is the remote side of synchronization. Payloads and entities are
// the JSON encodings of domain.Deck and domain.Card.
type Gateway interface {
	CreateEntity(ctx context.Context, table domain.Table, payload json.RawMessage) error
	UpdateEntity(ctx context.Context, table domain.Table, id string, payload json.RawMessage) error
	DeleteEntity(ctx context.Context, table domain.Table, id string) error
	ListEntities(ctx context.Context, table domain.Table, ownerScope string) ([]json.RawMessage, error)
}

// CredentialProvider supplies the bearer token. An empty token means none.
type CredentialProvider interface {
	Credential(ctx context.Context) (string, error)
}

// CredentialFunc adapts a function to CredentialProvider.
type CredentialFunc func(ctx context.Context) (string, error)

func (f CredentialFunc) Credential(ctx context.Context) (string, error) { return f(ctx) }

// Client is the HTTP implementation of Gateway.
type Client struct {
	http    *http.Client
	baseURL string
	creds   CredentialProvider
	logger  *slog.Logger
}

var _ Gateway = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds every request. A timed-out request is a transient failure.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the API rooted at baseURL, e.g. "https://host/api".
func NewClient(baseURL string, creds CredentialProvider, opts ...ClientOption) *Client {
	c := &Client{
		http:    &http.Client{Timeout: defaultTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateEntity POSTs payload to the table's collection.
func (c *Client) CreateEntity(ctx context.Context, table domain.Table, payload json.RawMessage) error {
	_, err := c.do(ctx, http.MethodPost, "/"+string(table), payload)
	return err
}

// UpdateEntity PUTs payload to the entity's resource.
func (c *Client) UpdateEntity(ctx context.Context, table domain.Table, id string, payload json.RawMessage) error {
	_, err := c.do(ctx, http.MethodPut, entityPath(table, id), payload)
	return err
}

// DeleteEntity DELETEs the entity's resource.
func (c *Client) DeleteEntity(ctx context.Context, table domain.Table, id string) error {
	_, err := c.do(ctx, http.MethodDelete, entityPath(table, id), nil)
	return err
}

// listResponse is the envelope of collection responses.
type listResponse struct {
	Success bool              `json:"success"`
	Count   int               `json:"count"`
	Data    []json.RawMessage `json:"data"`
}

// ListEntities returns every entity of table visible to the credential,
// optionally narrowed to ownerScope.
func (c *Client) ListEntities(ctx context.Context, table domain.Table, ownerScope string) ([]json.RawMessage, error) {
	path := "/" + string(table)
	if table == domain.TableDecks {
		path = "/decks/user"
	}
	if ownerScope != "" {
		path += "?" + url.Values{"owner": {ownerScope}}.Encode()
	}

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	if resp.Data == nil {
		resp.Data = []json.RawMessage{}
	}
	return resp.Data, nil
}

func entityPath(table domain.Table, id string) string {
	return "/" + string(table) + "/" + url.PathEscape(id)
}

// do sends one request and returns the response body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, payload json.RawMessage) ([]byte, error) {
	token, err := c.creds.Credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read credential: %w", method, path, err)
	}
	if token == "" {
		return nil, &AuthError{Err: fmt.Errorf("%s %s: %w", method, path, ErrNoCredential)}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("%s %s: %w", method, path, err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("%s %s: %w", method, path, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response %s: %w", path, err)}
	}
	c.logger.Debug("remote call", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errorForStatus(&StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		})
	}
	return data, nil
}

// errorMessage extracts the "error" field of a failure envelope, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var env struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != "" {
		return env.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
