// Package api is the REST client for the coach backend: websocket tickets
// and goal documents.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/coach/internal/core/document"
)

const prefix = "/api/v1"

// ErrUnauthorized is matched by StatusError for 401 responses.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Kind    string // server error code, e.g. NOT_FOUND
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Is lets errors.Is match ErrUnauthorized and document.ErrNotFound.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case document.ErrNotFound:
		return e.Code == http.StatusNotFound
	}
	return false
}

// Client talks to the coach REST API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for baseURL (scheme and host, no /api/v1).
func New(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ticketResponse struct {
	Ticket    string `json:"ticket"`
	ExpiresIn int    `json:"expires_in"`
}

// IssueTicket exchanges the access token for a single-use websocket ticket.
func (c *Client) IssueTicket(ctx context.Context) (string, error) {
	var resp ticketResponse
	if err := c.do(ctx, http.MethodPost, "/auth/ws-ticket", nil, nil, &resp); err != nil {
		return "", fmt.Errorf("issue ticket: %w", err)
	}
	if resp.Ticket == "" {
		return "", errors.New("issue ticket: empty ticket")
	}
	c.log.Debug().Int("expires_in", resp.ExpiresIn).Msg("ticket issued")
	return resp.Ticket, nil
}

// ListGoals returns one page of the user's goals.
func (c *Client) ListGoals(ctx context.Context, opts document.ListOptions) (document.Page, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(opts.PageSize))
	}
	if opts.Phase != "" {
		q.Set("phase", string(opts.Phase))
	}

	var page document.Page
	if err := c.do(ctx, http.MethodGet, "/goals", q, nil, &page); err != nil {
		return document.Page{}, fmt.Errorf("list goals: %w", err)
	}
	if page.Goals == nil {
		page.Goals = []document.Goal{}
	}
	return page, nil
}

// GetGoal fetches one goal.
func (c *Client) GetGoal(ctx context.Context, id string) (document.Goal, error) {
	var goal document.Goal
	if err := c.do(ctx, http.MethodGet, "/goals/"+url.PathEscape(id), nil, nil, &goal); err != nil {
		return document.Goal{}, fmt.Errorf("get goal %s: %w", id, err)
	}
	return goal, nil
}

// UpdateGoal replaces a goal's content and returns the stored goal.
func (c *Client) UpdateGoal(ctx context.Context, id, content string) (document.Goal, error) {
	body := struct {
		Content string `json:"content"`
	}{content}

	var goal document.Goal
	if err := c.do(ctx, http.MethodPut, "/goals/"+url.PathEscape(id), nil, body, &goal); err != nil {
		return document.Goal{}, fmt.Errorf("update goal %s: %w", id, err)
	}
	return goal, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := c.baseURL + prefix + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
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

type errorBody struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail"`
}

func decodeError(resp *http.Response) error {
	serr := &StatusError{Code: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil {
		serr.Message = strings.TrimSpace(string(data))
		return serr
	}

	serr.Kind = eb.Error
	serr.Message = eb.Message
	if serr.Message == "" && len(eb.Detail) > 0 {
		var s string
		if json.Unmarshal(eb.Detail, &s) == nil {
			serr.Message = s
		} else {
			serr.Message = string(eb.Detail)
		}
	}
	return serr
}
