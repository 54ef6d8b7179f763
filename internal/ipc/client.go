package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/kalambet/prefd/internal/persistent"
)

// Client is the secondary side of the loopback HTTP channel. It implements
// persistent.Caller.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// stream has no timeout; the event stream stays open.
	stream *http.Client
	logger *slog.Logger

	reconnectDelay time.Duration
}

const (
	initialReconnectDelay = 250 * time.Millisecond
	maxReconnectDelay     = 10 * time.Second
)

// NewClient creates a Client for the primary at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{},
		stream:     &http.Client{},
		logger:     slog.Default(),

		reconnectDelay: initialReconnectDelay,
	}
}

// WithLogger sets the logger used while following the event stream.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithHTTPClient replaces the client used for calls and the event stream.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.stream = hc
	return c
}

// Update sends the update-persistent call and waits for the primary to apply
// it. There is no timeout beyond ctx.
func (c *Client) Update(ctx context.Context, req persistent.UpdateRequest) error {
	resp, err := c.do(ctx, c.httpClient, http.MethodPost, "/rpc/"+persistent.UpdateCall, req)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

// Snapshot fetches the primary's current properties of store.
func (c *Client) Snapshot(ctx context.Context, store string) (persistent.Props, error) {
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, "/persistent/"+url.PathEscape(store), nil)
	if err != nil {
		return nil, err
	}
	var props persistent.Props
	if err := decodeJSON(resp, &props); err != nil {
		return nil, err
	}
	return props, nil
}

// Stores lists the store names the primary serves.
func (c *Client) Stores(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, "/persistent", nil)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := decodeJSON(resp, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// HistoryEntry is one committed change as served by the primary.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Store     string    `json:"store"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

// History fetches recent changes, newest first. An empty store means all.
func (c *Client) History(ctx context.Context, store string, limit int) ([]HistoryEntry, error) {
	q := url.Values{}
	if store != "" {
		q.Set("store", store)
	}
	q.Set("limit", fmt.Sprint(limit))
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, "/history?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var entries []HistoryEntry
	if err := decodeJSON(resp, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Subscribe streams broadcasts to fn until ctx is done or the primary closes
// the stream. fn runs on the calling goroutine, in delivery order.
func (c *Client) Subscribe(ctx context.Context, fn func(persistent.Notification)) error {
	return c.subscribe(ctx, nil, fn)
}

// Follow keeps fn fed with broadcasts until ctx is done, reconnecting with
// exponential backoff whenever the stream ends. Each time the stream opens,
// resync runs before any event is delivered, so changes broadcast while no
// stream was open are recovered. A failed resync drops the stream and
// retries. Follow gives up only on ctx or when the primary rejects the
// subscriber with a 4xx status.
func (c *Client) Follow(ctx context.Context, resync func(context.Context) error, fn func(persistent.Notification)) error {
	attempt := 0
	for {
		opened := false
		err := c.subscribe(ctx, func(ctx context.Context) error {
			if err := resync(ctx); err != nil {
				return fmt.Errorf("resync: %w", err)
			}
			opened = true
			return nil
		}, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var remote *RemoteError
		if errors.As(err, &remote) && remote.Status >= 400 && remote.Status < 500 {
			return err
		}
		if opened {
			attempt = 0
		}

		delay := time.Duration(float64(c.reconnectDelay) * math.Pow(2, float64(attempt)))
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
		attempt++
		c.logger.Warn("event stream closed, reconnecting", "error", err, "delay", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// subscribe opens the event stream and, when opened is set, calls it once the
// primary has registered the subscriber and before reading any event.
func (c *Client) subscribe(ctx context.Context, opened func(context.Context) error, fn func(persistent.Notification)) error {
	resp, err := c.do(ctx, c.stream, http.MethodGet, "/events", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeJSON(resp, nil)
	}
	if opened != nil {
		if err := opened(ctx); err != nil {
			return err
		}
	}
	if err := readEvents(resp.Body, fn); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("primary not reachable, is prefd running? (%w)", err)
	}
	return resp, nil
}

// RemoteError is an error reported by the primary.
type RemoteError struct {
	Status  int
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("primary returned %d: %s", e.Status, e.Message)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("primary returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		var envelope struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
			return &RemoteError{Status: resp.StatusCode, Type: envelope.Error.Type, Message: envelope.Error.Message}
		}
		return &RemoteError{Status: resp.StatusCode, Message: string(body)}
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
