package client

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
	"sync"
	"time"
)

// Sentinel errors matched by APIError.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadySubmitted = errors.New("already submitted today")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotLeader        = errors.New("not the leader")
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	// Leader is the write leader's address on 503 responses from a follower.
	Leader string
}

func (e *APIError) Error() string {
	if e.Leader != "" {
		return fmt.Sprintf("server error %d: %s (leader %s)", e.StatusCode, e.Message, e.Leader)
	}
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrAlreadySubmitted:
		return e.StatusCode == http.StatusConflict
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotLeader:
		return e.StatusCode == http.StatusServiceUnavailable && e.Leader != ""
	}
	return false
}

// Entry is one ledger record.
type Entry struct {
	Identity      string    `json:"identity" yaml:"identity"`
	DayID         int64     `json:"day_id" yaml:"day_id"`
	ContentDigest string    `json:"content_digest" yaml:"content_digest"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	SequenceIndex uint64    `json:"sequence_index" yaml:"sequence_index"`
}

// Page is a newest-first slice of the ledger.
type Page struct {
	Entries    []Entry `json:"entries" yaml:"entries"`
	Offset     uint64  `json:"offset" yaml:"offset"`
	Limit      uint64  `json:"limit" yaml:"limit"`
	Total      uint64  `json:"total" yaml:"total"`
	NextOffset *uint64 `json:"next_offset,omitempty" yaml:"next_offset,omitempty"`
}

// StreakResult is the response of Streak.
type StreakResult struct {
	Identity string `json:"identity" yaml:"identity"`
	AsOf     int64  `json:"as_of" yaml:"as_of"`
	Streak   int    `json:"streak" yaml:"streak"`
	Tier     string `json:"tier" yaml:"tier"`
}

// CalendarDay is one day of a Calendar response. Entry is nil when the
// identity did not submit that day.
type CalendarDay struct {
	DayID int64  `json:"day_id" yaml:"day_id"`
	Date  string `json:"date" yaml:"date"`
	Entry *Entry `json:"entry,omitempty" yaml:"entry,omitempty"`
}

// CalendarResult is the response of Calendar.
type CalendarResult struct {
	Identity string        `json:"identity" yaml:"identity"`
	From     int64         `json:"from" yaml:"from"`
	To       int64         `json:"to" yaml:"to"`
	Days     []CalendarDay `json:"days" yaml:"days"`
}

// CanSubmitResult is the response of CanSubmit.
type CanSubmitResult struct {
	CanSubmit bool  `json:"can_submit" yaml:"can_submit"`
	DayID     int64 `json:"day_id" yaml:"day_id"`
}

// LedgerInfo is the response of Ledger.
type LedgerInfo struct {
	TotalEntries uint64 `json:"total_entries" yaml:"total_entries"`
	DayID        int64  `json:"day_id" yaml:"day_id"`
}

// TokenResult holds a minted bearer token.
type TokenResult struct {
	Token     string `json:"token" yaml:"token"`
	TokenType string `json:"token_type" yaml:"token_type"`
	ExpiresIn int    `json:"expires_in" yaml:"expires_in"`
	Identity  string `json:"identity" yaml:"identity"`
}

// Client talks to a recapd server.
type Client struct {
	base       string
	httpClient *http.Client

	mu          sync.Mutex
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an identity token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// SetBearerToken replaces the token used for subsequent requests.
func (c *Client) SetBearerToken(token string) {
	c.mu.Lock()
	c.bearerToken = token
	c.mu.Unlock()
}

// Submit records contentDigest for identity today. With a bearer token the
// server takes the identity from the token and identity may be empty.
func (c *Client) Submit(ctx context.Context, identity, contentDigest string) (*Entry, error) {
	var resp struct {
		Entry Entry `json:"entry"`
	}
	body := map[string]string{"identity": identity, "content_digest": contentDigest}
	if err := c.call(ctx, http.MethodPost, "/api/v1/submissions", nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Entry, nil
}

// EntryForDay returns identity's entry on day.
func (c *Client) EntryForDay(ctx context.Context, identity string, day int64) (*Entry, error) {
	var e Entry
	if err := c.call(ctx, http.MethodGet, identityPath(identity, "days", strconv.FormatInt(day, 10)), nil, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// HasEntryForDay reports whether identity submitted on day.
func (c *Client) HasEntryForDay(ctx context.Context, identity string, day int64) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	path := identityPath(identity, "days", strconv.FormatInt(day, 10), "exists")
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// CanSubmit reports whether identity may still submit today.
func (c *Client) CanSubmit(ctx context.Context, identity string) (*CanSubmitResult, error) {
	var resp CanSubmitResult
	if err := c.call(ctx, http.MethodGet, identityPath(identity, "can-submit"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Streak returns identity's streak. A nil asOf means today.
func (c *Client) Streak(ctx context.Context, identity string, asOf *int64) (*StreakResult, error) {
	q := url.Values{}
	if asOf != nil {
		q.Set("as_of", strconv.FormatInt(*asOf, 10))
	}
	var resp StreakResult
	if err := c.call(ctx, http.MethodGet, identityPath(identity, "streak"), q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Calendar returns per-day submission state over [from, to]. Nil bounds
// use the server defaults.
func (c *Client) Calendar(ctx context.Context, identity string, from, to *int64) (*CalendarResult, error) {
	q := url.Values{}
	if from != nil {
		q.Set("from", strconv.FormatInt(*from, 10))
	}
	if to != nil {
		q.Set("to", strconv.FormatInt(*to, 10))
	}
	var resp CalendarResult
	if err := c.call(ctx, http.MethodGet, identityPath(identity, "calendar"), q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EntryAt returns the entry at sequence index i.
func (c *Client) EntryAt(ctx context.Context, i uint64) (*Entry, error) {
	var e Entry
	if err := c.call(ctx, http.MethodGet, "/api/v1/entries/"+strconv.FormatUint(i, 10), nil, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Latest returns up to limit entries, newest first, skipping offset.
func (c *Client) Latest(ctx context.Context, offset, limit uint64) (*Page, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatUint(offset, 10))
	q.Set("limit", strconv.FormatUint(limit, 10))
	var p Page
	if err := c.call(ctx, http.MethodGet, "/api/v1/entries", q, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Ledger returns the total entry count and the server's current day.
func (c *Client) Ledger(ctx context.Context) (*LedgerInfo, error) {
	var info LedgerInfo
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// IssueToken asks the server to mint a token for identity. issueSecret is
// sent when non-empty. The token is not installed on the client.
func (c *Client) IssueToken(ctx context.Context, identity, issueSecret string) (*TokenResult, error) {
	var hdr http.Header
	if issueSecret != "" {
		hdr = http.Header{"X-Recap-Issue-Secret": []string{issueSecret}}
	}
	var tr TokenResult
	body := map[string]string{"identity": identity}
	if err := c.callWithHeader(ctx, http.MethodPost, "/api/v1/auth/token", nil, hdr, body, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

func identityPath(identity string, parts ...string) string {
	return "/api/v1/identities/" + url.PathEscape(identity) + "/" + strings.Join(parts, "/")
}

func (c *Client) call(ctx context.Context, method, path string, q url.Values, in, out any) error {
	return c.callWithHeader(ctx, method, path, q, nil, in, out)
}

func (c *Client) callWithHeader(ctx context.Context, method, path string, q url.Values, hdr http.Header, in, out any) error {
	target := c.base + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request, attaching the bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	c.mu.Lock()
	token := c.bearerToken
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var payload struct {
			Error  string `json:"error"`
			Leader string `json:"leader"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Leader = payload.Leader
		}
		return nil, apiErr
	}
	return body, nil
}
