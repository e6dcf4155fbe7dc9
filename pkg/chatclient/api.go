package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/baithak/sandesh/pkg/model"
)

// HTTPClient talks to the api service. It satisfies the engine's API
// interface.
type HTTPClient struct {
	base  string
	token string
	http  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		base: baseURL,
		http: http.DefaultClient,
	}
}

// Token returns the session token obtained by Login, for the websocket dial.
func (c *HTTPClient) Token() string {
	return c.token
}

// Login mints a session token for the user and keeps it for subsequent
// requests.
func (c *HTTPClient) Login(ctx context.Context, userID, name string) error {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"user_id": userID, "name": name}
	if err := c.do(ctx, http.MethodPost, "/login", body, &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	c.token = resp.Token
	return nil
}

func (c *HTTPClient) Contacts(ctx context.Context) ([]model.Contact, error) {
	var contacts []model.Contact
	if err := c.do(ctx, http.MethodGet, "/contacts", nil, &contacts); err != nil {
		return nil, fmt.Errorf("fetch contacts: %w", err)
	}
	return contacts, nil
}

func (c *HTTPClient) ChatPartners(ctx context.Context) ([]model.Conversation, error) {
	var convs []model.Conversation
	if err := c.do(ctx, http.MethodGet, "/chats", nil, &convs); err != nil {
		return nil, fmt.Errorf("fetch chat partners: %w", err)
	}
	return convs, nil
}

func (c *HTTPClient) History(ctx context.Context, peerID string) ([]model.Message, error) {
	var msgs []model.Message
	path := "/messages/" + url.PathEscape(peerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return msgs, nil
}

func (c *HTTPClient) Send(ctx context.Context, peerID, text, image string) (model.Message, error) {
	var msg model.Message
	body := map[string]string{"text": text, "image": image}
	path := "/messages/send/" + url.PathEscape(peerID)
	if err := c.do(ctx, http.MethodPost, path, body, &msg); err != nil {
		return model.Message{}, fmt.Errorf("submit message: %w", err)
	}
	return msg, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError extracts the server's human-readable message field, falling
// back to the HTTP status.
func decodeError(resp *http.Response) error {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Message != "" {
		return errors.New(payload.Message)
	}
	return fmt.Errorf("request failed: %s", resp.Status)
}
