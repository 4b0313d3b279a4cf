// Package client is a typed HTTP client for the flashdeck API. The login
// session is a value owned by the caller and passed to every call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smith3v/flashdeck/pkg/db"
	"github.com/smith3v/flashdeck/pkg/decks"
	"github.com/smith3v/flashdeck/pkg/progress"
	"github.com/smith3v/flashdeck/pkg/study"
)

var ErrNoSession = errors.New("client: not logged in")

// Session holds the bearer token of a logged in user.
type Session struct {
	Token string
	Email string
}

// Logout forgets the token. Tokens are stateless, so nothing is sent to the
// server.
func (s *Session) Logout() {
	s.Token = ""
	s.Email = ""
}

func (s *Session) LoggedIn() bool {
	return s != nil && s.Token != ""
}

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int
	Message string
	Details string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("api error %d: %s (%s)", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

type authResponse struct {
	User struct {
		ID    uint   `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	Token string `json:"token"`
}

func (c *Client) Register(ctx context.Context, email, password string) (*Session, error) {
	var resp authResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, nil, http.MethodPost, "/auth/register", body, &resp); err != nil {
		return nil, err
	}
	return &Session{Token: resp.Token, Email: resp.User.Email}, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var resp authResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, nil, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return nil, err
	}
	return &Session{Token: resp.Token, Email: resp.User.Email}, nil
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.do(ctx, nil, http.MethodPost, "/auth/reset-password/request", map[string]string{"email": email}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, email, newPassword, token string) error {
	body := map[string]string{"email": email, "newPassword": newPassword, "token": token}
	return c.do(ctx, nil, http.MethodPost, "/auth/reset-password", body, nil)
}

func (c *Client) ListDecks(ctx context.Context, s *Session) ([]db.Deck, error) {
	var resp struct {
		Decks []db.Deck `json:"decks"`
	}
	if err := c.do(ctx, s, http.MethodGet, "/decks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Decks, nil
}

func (c *Client) CreateDeck(ctx context.Context, s *Session, title string, cards []decks.CardInput) (db.Deck, error) {
	var resp struct {
		Deck db.Deck `json:"deck"`
	}
	body := map[string]any{"title": title, "cards": cards}
	if err := c.do(ctx, s, http.MethodPost, "/decks", body, &resp); err != nil {
		return db.Deck{}, err
	}
	return resp.Deck, nil
}

func (c *Client) GetDeck(ctx context.Context, s *Session, deckID uint) (db.Deck, []db.Card, error) {
	var resp struct {
		Deck  db.Deck   `json:"deck"`
		Cards []db.Card `json:"cards"`
	}
	if err := c.do(ctx, s, http.MethodGet, fmt.Sprintf("/decks/%d", deckID), nil, &resp); err != nil {
		return db.Deck{}, nil, err
	}
	return resp.Deck, resp.Cards, nil
}

func (c *Client) ReplaceDeck(ctx context.Context, s *Session, deckID uint, title string, cards []decks.CardInput) error {
	body := map[string]any{"title": title, "cards": cards}
	return c.do(ctx, s, http.MethodPut, fmt.Sprintf("/decks/%d", deckID), body, nil)
}

func (c *Client) DeleteDeck(ctx context.Context, s *Session, deckID uint) error {
	return c.do(ctx, s, http.MethodDelete, fmt.Sprintf("/decks/%d", deckID), nil, nil)
}

func (c *Client) SaveProgress(ctx context.Context, s *Session, deckID uint, results []study.CardResult) (study.Summary, error) {
	var resp study.Summary
	body := map[string]any{"deckId": deckID, "results": results}
	if err := c.do(ctx, s, http.MethodPost, "/progress", body, &resp); err != nil {
		return study.Summary{}, err
	}
	return resp, nil
}

func (c *Client) GetProgress(ctx context.Context, s *Session) (progress.Report, error) {
	var report progress.Report
	if err := c.do(ctx, s, http.MethodGet, "/progress", nil, &report); err != nil {
		return progress.Report{}, err
	}
	return report, nil
}

// do sends one JSON request. A nil session sends no Authorization header; a
// logged out session fails with ErrNoSession before anything is sent.
func (c *Client) do(ctx context.Context, s *Session, method, path string, in, out any) error {
	if s != nil && !s.LoggedIn() {
		return ErrNoSession
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if s != nil {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Message = payload.Error
			apiErr.Details = payload.Details
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
