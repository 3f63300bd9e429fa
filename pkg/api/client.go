package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cexll/chatsdk-go/pkg/telemetry"
)

const defaultTimeout = 30 * time.Second

// Client is a typed wrapper over the chat backend's REST endpoints. All
// methods are safe for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     *zap.Logger
	tel     *telemetry.Manager
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpc = h
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTelemetry attaches a telemetry manager for spans and request metrics.
func WithTelemetry(tel *telemetry.Manager) Option {
	return func(c *Client) { c.tel = tel }
}

// NewClient validates baseURL and builds a Client.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("api: base URL is empty")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("api: invalid base URL %q: %w", baseURL, err)
	}
	c := &Client{
		baseURL: trimmed,
		httpc:   &http.Client{Timeout: defaultTimeout},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// User mirrors the GET /user payload.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// LoginResult mirrors the POST /login payload.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
}

// Exchange is one user/assistant turn inside a stored conversation.
type Exchange struct {
	User string `json:"user"`
	AI   string `json:"ai"`
}

// HistoryEntry is one stored conversation summary from GET /history.
type HistoryEntry struct {
	HistoryID int64      `json:"history_id"`
	Chat      []Exchange `json:"chat"`
}

// ChatRequest is the POST /get_response body. A nil HistoryID starts a new
// conversation thread on the server.
type ChatRequest struct {
	Message   string `json:"message"`
	HistoryID *int64 `json:"history_id"`
	Username  string `json:"username,omitempty"`
}

// ChatResponse is the POST /get_response payload. HistoryID is nil when the
// server continued an existing thread without reissuing the identifier.
type ChatResponse struct {
	Response  string
	HistoryID *int64
}

// UnmarshalJSON tolerates history_id arriving as a JSON number or as a
// decimal string; the backend emits both.
func (r *ChatResponse) UnmarshalJSON(data []byte) error {
	var aux struct {
		Response  string          `json:"response"`
		HistoryID json.RawMessage `json:"history_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Response = aux.Response
	r.HistoryID = nil
	if len(aux.HistoryID) == 0 || string(aux.HistoryID) == "null" {
		return nil
	}
	raw := string(aux.HistoryID)
	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal(aux.HistoryID, &raw); err != nil {
			return fmt.Errorf("history_id: %w", err)
		}
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("history_id %q: %w", raw, err)
	}
	r.HistoryID = &id
	return nil
}

// Login exchanges credentials for a bearer token and user identity.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var out LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", "", body, &out); err != nil {
		return LoginResult{}, err
	}
	return out, nil
}

// Register creates a new account. The server keeps the caller signed out; a
// follow-up Login is required.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	body := map[string]string{"username": username, "email": email, "password": password}
	return c.do(ctx, http.MethodPost, "/register", "", body, nil)
}

// UserData fetches the profile behind the token.
func (c *Client) UserData(ctx context.Context, token string) (User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/user", token, nil, &out); err != nil {
		return User{}, err
	}
	return out, nil
}

// DeleteAccount removes the account behind the token.
func (c *Client) DeleteAccount(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/delete_account", token, nil, nil)
}

// History lists the caller's stored conversations. An account with no
// conversations yields an empty slice.
func (c *Client) History(ctx context.Context, token string) ([]HistoryEntry, error) {
	var out struct {
		ChatHistory []HistoryEntry `json:"chat_history"`
	}
	if err := c.do(ctx, http.MethodGet, "/history", token, nil, &out); err != nil {
		return nil, err
	}
	return out.ChatHistory, nil
}

// DeleteChat removes one stored conversation. A 2xx response carrying
// success=false is reported as ErrDeleteRejected, not as a success.
func (c *Client) DeleteChat(ctx context.Context, token string, historyID int64) error {
	var out struct {
		Success bool `json:"success"`
	}
	path := fmt.Sprintf("/delete_chat/%d", historyID)
	if err := c.do(ctx, http.MethodDelete, path, token, nil, &out); err != nil {
		return err
	}
	if !out.Success {
		return ErrDeleteRejected
	}
	return nil
}

// GetResponse sends one chat message and returns the assistant reply plus the
// (possibly new) conversation identifier.
func (c *Client) GetResponse(ctx context.Context, token string, req ChatRequest) (ChatResponse, error) {
	var out ChatResponse
	if err := c.do(ctx, http.MethodPost, "/get_response", token, req, &out); err != nil {
		return ChatResponse{}, err
	}
	return out, nil
}

// do performs one round trip: marshal, send, classify the status, decode.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) (err error) {
	operation := method + " " + path
	ctx, span := c.tel.StartSpan(ctx, "api."+operation)
	start := time.Now()
	defer func() {
		c.tel.EndSpan(span, err)
		c.tel.RecordRequest(ctx, telemetry.RequestData{
			Operation: operation,
			Duration:  time.Since(start),
			Error:     err,
		})
	}()

	var reader io.Reader
	if body != nil {
		payload, merr := json.Marshal(body)
		if merr != nil {
			return fmt.Errorf("api: encode %s body: %w", path, merr)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("api: build %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &ServerError{Status: resp.StatusCode, Message: readServerMessage(resp.Body)}
		c.log.Warn("request failed",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.String("message", se.Message))
		return se
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformedResponse, path, err)
	}
	return nil
}

// readServerMessage pulls the {"error": "..."} field out of a failure body,
// tolerating bodies that are not JSON at all.
func readServerMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 1<<16))
	if err != nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return payload.Error
}
